package integration

import (
	"context"
	"errors"
	"strings"

	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("integration repository: not found")
	ErrConflict = errors.New("integration repository: conflict")
)

type Repository interface {
	ClaimChannel(ctx context.Context, claim model.ChannelClaimItem) error
	ReleaseChannel(ctx context.Context, tenantID string, channel model.Channel, integrationID string) error
	PutIntegration(ctx context.Context, item model.IntegrationItem) error
	GetIntegration(ctx context.Context, tenantID, integrationID string) (model.IntegrationItem, error)
	GetIntegrationBySession(ctx context.Context, externalSessionID string) (model.IntegrationItem, error)
	GetIntegrationByWebhookToken(ctx context.Context, webhookToken string) (model.IntegrationItem, error)
	PutCredentials(ctx context.Context, creds model.ChannelCredentialItem) error
	GetCredentials(ctx context.Context, tenantID string, channel model.Channel) (model.ChannelCredentialItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) ClaimChannel(ctx context.Context, claim model.ChannelClaimItem) error {
	err := r.db.Client.PutItemIfAbsent(ctx, model.ChannelClaimsTable, claim, "pk")
	if errors.Is(err, database.ErrConditionalCheckFailed) {
		return ErrConflict
	}
	return err
}

// ReleaseChannel frees the active-channel slot, but only while it is still
// held by the given integration. A claim re-taken by a newer connect attempt
// is left alone.
func (r *DynamoRepository) ReleaseChannel(ctx context.Context, tenantID string, channel model.Channel, integrationID string) error {
	err := r.db.Client.DeleteItemConditional(
		ctx,
		model.ChannelClaimsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ChannelPK(tenantID, channel)},
		},
		"integrationId = :integrationId",
		map[string]types.AttributeValue{
			":integrationId": &types.AttributeValueMemberS{Value: integrationID},
		},
	)
	if errors.Is(err, database.ErrConditionalCheckFailed) {
		return nil
	}
	return err
}

func (r *DynamoRepository) PutIntegration(ctx context.Context, item model.IntegrationItem) error {
	return r.db.Client.PutItem(ctx, model.IntegrationsTable, item)
}

func (r *DynamoRepository) GetIntegration(ctx context.Context, tenantID, integrationID string) (model.IntegrationItem, error) {
	var item model.IntegrationItem
	err := r.db.Client.GetItem(
		ctx,
		model.IntegrationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.TenantScopedPK(tenantID, integrationID)},
		},
		&item,
	)
	if err != nil {
		if isNotFound(err) {
			return model.IntegrationItem{}, ErrNotFound
		}
		return model.IntegrationItem{}, err
	}
	return item, nil
}

func (r *DynamoRepository) GetIntegrationBySession(ctx context.Context, externalSessionID string) (model.IntegrationItem, error) {
	return r.queryOne(ctx, "bySession", "externalSessionId = :v", externalSessionID)
}

func (r *DynamoRepository) GetIntegrationByWebhookToken(ctx context.Context, webhookToken string) (model.IntegrationItem, error) {
	return r.queryOne(ctx, "byWebhookToken", "webhookToken = :v", webhookToken)
}

func (r *DynamoRepository) queryOne(ctx context.Context, index, keyCond, value string) (model.IntegrationItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.IntegrationsTable,
		aws.String(index),
		keyCond,
		map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		nil,
		nil,
	)
	if err != nil {
		return model.IntegrationItem{}, err
	}
	if len(items) == 0 {
		return model.IntegrationItem{}, ErrNotFound
	}

	var item model.IntegrationItem
	if err := attributevalue.UnmarshalMap(items[0], &item); err != nil {
		return model.IntegrationItem{}, err
	}
	return item, nil
}

func (r *DynamoRepository) PutCredentials(ctx context.Context, creds model.ChannelCredentialItem) error {
	return r.db.Client.PutItem(ctx, model.ChannelCredentialsTable, creds)
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

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
