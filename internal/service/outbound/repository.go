package outbound

import (
	"context"
	"errors"
	"strings"

	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("outbound repository: not found")

type Repository interface {
	GetConversation(ctx context.Context, tenantID, conversationID string) (model.ConversationItem, error)
	GetCredentials(ctx context.Context, tenantID string, channel model.Channel) (model.ChannelCredentialItem, error)
	PutMessage(ctx context.Context, msg model.MessageItem) error
	UpdateMessageDelivery(ctx context.Context, conversationID, messageID, channelMessageID string, status model.MessageStatus) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
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

func (r *DynamoRepository) GetCredentials(ctx context.Context, tenantID string, channel model.Channel) (model.ChannelCredentialItem, error) {
	var creds model.ChannelCredentialItem
	err := r.db.Client.GetItem(
		ctx,
		model.ChannelCredentialsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ChannelPK(tenantID, channel)},
		},
		&creds,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ChannelCredentialItem{}, ErrNotFound
		}
		return model.ChannelCredentialItem{}, err
	}
	return creds, nil
}

func (r *DynamoRepository) PutMessage(ctx context.Context, msg model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, msg)
}

func (r *DynamoRepository) UpdateMessageDelivery(ctx context.Context, conversationID, messageID, channelMessageID string, status model.MessageStatus) error {
	update := "SET #status = :status"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
	}
	if channelMessageID != "" {
		update += ", channelMessageId = :channelMessageId"
		values[":channelMessageId"] = &types.AttributeValueMemberS{Value: channelMessageID}
	}
	return r.db.Client.UpdateItem(
		ctx,
		model.MessagesTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.MessagePK(conversationID, messageID)},
		},
		update,
		values,
		map[string]string{"#status": "status"},
		nil,
	)
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
