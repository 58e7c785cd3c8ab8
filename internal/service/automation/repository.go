package automation

import (
	"context"
	"errors"

	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("automation repository: not found")

type Repository interface {
	ListByTrigger(ctx context.Context, tenantID, triggerEvent string) ([]model.AutomationItem, error)
	AppendLog(ctx context.Context, logItem model.AutomationLogItem) error
	ListLogs(ctx context.Context, tenantID, automationID string) ([]model.AutomationLogItem, error)
	RecordOutcome(ctx context.Context, tenantID, automationID string, success bool, executedAt string) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

// ListByTrigger returns every automation configured for the event, eligible
// or not. Eligibility filtering stays in the service so paused rows can be
// reported distinctly if that ever becomes useful.
func (r *DynamoRepository) ListByTrigger(ctx context.Context, tenantID, triggerEvent string) ([]model.AutomationItem, error) {
	items, err := r.db.Client.QueryItemsWithFilter(
		ctx,
		model.AutomationsTable,
		aws.String("byTenant"),
		"tenantId = :tenantId",
		aws.String("triggerEvent = :triggerEvent"),
		map[string]types.AttributeValue{
			":tenantId":     &types.AttributeValueMemberS{Value: tenantID},
			":triggerEvent": &types.AttributeValueMemberS{Value: triggerEvent},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	automations := make([]model.AutomationItem, 0, len(items))
	for _, raw := range items {
		var automation model.AutomationItem
		if err := attributevalue.UnmarshalMap(raw, &automation); err != nil {
			return nil, err
		}
		automations = append(automations, automation)
	}
	return automations, nil
}

func (r *DynamoRepository) AppendLog(ctx context.Context, logItem model.AutomationLogItem) error {
	return r.db.Client.PutItem(ctx, model.AutomationLogsTable, logItem)
}

func (r *DynamoRepository) ListLogs(ctx context.Context, tenantID, automationID string) ([]model.AutomationLogItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.AutomationLogsTable,
		aws.String("byAutomation"),
		"automationId = :automationId",
		map[string]types.AttributeValue{
			":automationId": &types.AttributeValueMemberS{Value: automationID},
		},
		nil,
		aws.Bool(false),
	)
	if err != nil {
		return nil, err
	}

	logs := make([]model.AutomationLogItem, 0, len(items))
	for _, raw := range items {
		var logItem model.AutomationLogItem
		if err := attributevalue.UnmarshalMap(raw, &logItem); err != nil {
			return nil, err
		}
		// The index is keyed by automation id alone; enforce tenant scope here.
		if logItem.TenantID != tenantID {
			continue
		}
		logs = append(logs, logItem)
	}
	return logs, nil
}

// RecordOutcome bumps exactly one of the rolling counters with an atomic ADD,
// so racing triggers of the same automation never lose increments.
func (r *DynamoRepository) RecordOutcome(ctx context.Context, tenantID, automationID string, success bool, executedAt string) error {
	counter := "executionCount"
	if !success {
		counter = "errorCount"
	}
	return r.db.Client.UpdateItem(
		ctx,
		model.AutomationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.TenantScopedPK(tenantID, automationID)},
		},
		"ADD "+counter+" :one SET lastExecutedAt = :executedAt",
		map[string]types.AttributeValue{
			":one":        &types.AttributeValueMemberN{Value: "1"},
			":executedAt": &types.AttributeValueMemberS{Value: executedAt},
		},
		nil,
		nil,
	)
}
