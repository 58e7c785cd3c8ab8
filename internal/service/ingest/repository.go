package ingest

import (
	"context"
	"errors"
	"strings"

	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("ingest repository: not found")
	ErrConflict = errors.New("ingest repository: conflict")
)

type Repository interface {
	GetContactByAddress(ctx context.Context, tenantID string, channel model.Channel, address string) (model.ContactItem, error)
	ClaimThread(ctx context.Context, claim model.ThreadClaimItem) error
	GetThreadClaim(ctx context.Context, tenantID string, channel model.Channel, contactID, threadID string) (model.ThreadClaimItem, error)
	ReleaseThread(ctx context.Context, tenantID string, channel model.Channel, contactID, threadID, conversationID string) error
	PutConversation(ctx context.Context, conv model.ConversationItem) error
	GetConversation(ctx context.Context, tenantID, conversationID string) (model.ConversationItem, error)
	PutMessageIfAbsent(ctx context.Context, msg model.MessageItem) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetContactByAddress(ctx context.Context, tenantID string, channel model.Channel, address string) (model.ContactItem, error) {
	var contact model.ContactItem
	err := r.db.Client.GetItem(
		ctx,
		model.ContactsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ContactPK(tenantID, channel, address)},
		},
		&contact,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ContactItem{}, ErrNotFound
		}
		return model.ContactItem{}, err
	}
	return contact, nil
}

// ClaimThread reserves the open-conversation slot for a thread. The
// conditional put is what serializes concurrent inbound bursts: the loser
// re-reads the claim and attaches to the winner's conversation.
func (r *DynamoRepository) ClaimThread(ctx context.Context, claim model.ThreadClaimItem) error {
	err := r.db.Client.PutItemIfAbsent(ctx, model.ThreadClaimsTable, claim, "pk")
	if errors.Is(err, database.ErrConditionalCheckFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) GetThreadClaim(ctx context.Context, tenantID string, channel model.Channel, contactID, threadID string) (model.ThreadClaimItem, error) {
	var claim model.ThreadClaimItem
	err := r.db.Client.GetItem(
		ctx,
		model.ThreadClaimsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ThreadPK(tenantID, channel, contactID, threadID)},
		},
		&claim,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ThreadClaimItem{}, ErrNotFound
		}
		return model.ThreadClaimItem{}, err
	}
	return claim, nil
}

func (r *DynamoRepository) ReleaseThread(ctx context.Context, tenantID string, channel model.Channel, contactID, threadID, conversationID string) error {
	err := r.db.Client.DeleteItemConditional(
		ctx,
		model.ThreadClaimsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ThreadPK(tenantID, channel, contactID, threadID)},
		},
		"conversationId = :conversationId",
		map[string]types.AttributeValue{
			":conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
	)
	if errors.Is(err, database.ErrConditionalCheckFailed) {
		return nil
	}
	return err
}

func (r *DynamoRepository) PutConversation(ctx context.Context, conv model.ConversationItem) error {
	return r.db.Client.PutItem(ctx, model.ConversationsTable, conv)
}

func (r *DynamoRepository) GetConversation(ctx context.Context, tenantID, conversationID string) (model.ConversationItem, error) {
	var conv model.ConversationItem
	err := r.db.Client.GetItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ConversationPK(tenantID, conversationID)},
		},
		&conv,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return conv, nil
}

// PutMessageIfAbsent inserts the message keyed by its id within the
// conversation. Inbound rows reuse the provider's message id, so a provider
// redelivery collides here and surfaces as ErrConflict.
func (r *DynamoRepository) PutMessageIfAbsent(ctx context.Context, msg model.MessageItem) error {
	err := r.db.Client.PutItemIfAbsent(ctx, model.MessagesTable, msg, "pk")
	if errors.Is(err, database.ErrConditionalCheckFailed) {
		return ErrConflict
	}
	return err
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
