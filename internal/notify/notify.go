package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Sink is the outbound notification boundary the ingestion and delivery
// services publish to after each commit. The dispatch core never depends on
// which transport carries the notification to the UI layer.
type Sink interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(addr, password string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
	}
}

func (s *RedisSink) Publish(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		return fmt.Errorf("notify publish: topic required")
	}

	messageJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify publish: marshal payload: %w", err)
	}

	if err := s.client.Publish(ctx, topic, string(messageJSON)).Err(); err != nil {
		return fmt.Errorf("notify publish: redis publish: %w", err)
	}
	return nil
}

// Nop is used in tests and in servers that have no realtime layer attached.
type Nop struct{}

func (Nop) Publish(ctx context.Context, topic string, payload interface{}) error { return nil }

// Event is the envelope published on a tenant's topic.
type Event struct {
	Type           string      `json:"type"`
	TenantID       string      `json:"tenantId"`
	ConversationID string      `json:"conversationId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

const (
	EventMessageCreated     = "message.created"
	EventMessageDelivered   = "message.delivered"
	EventConversationClosed = "conversation.closed"
	EventIntegrationChanged = "integration.changed"
)

// TenantTopic is the per-tenant channel name shared by publishers and the
// websocket fan-out server.
func TenantTopic(tenantID string) string {
	return "tenant:" + tenantID
}
