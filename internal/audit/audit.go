// Package audit provides the append-only operational log of dispatch attempts
// and state transitions. Operators read it out of band; nothing in the
// dispatch path ever queries it back.
package audit

import (
	"context"
	"time"
)

type Kind string

const (
	KindIntegrationTransition Kind = "integration.transition"
	KindInboundAccepted       Kind = "inbound.accepted"
	KindInboundRejected       Kind = "inbound.rejected"
	KindOutboundDelivery      Kind = "outbound.delivery"
	KindAutomationDispatch    Kind = "automation.dispatch"
)

type Event struct {
	EventID  string            `dynamodbav:"eventId" json:"eventId"`
	PK       string            `dynamodbav:"pk" json:"-"`
	TenantID string            `dynamodbav:"tenantId" json:"tenantId"`
	Kind     Kind              `dynamodbav:"kind" json:"kind"`
	Subject  string            `dynamodbav:"subject" json:"subject"`
	Detail   map[string]string `dynamodbav:"detail,omitempty" json:"detail,omitempty"`
	At       time.Time         `dynamodbav:"at" json:"at"`
}

// Recorder appends events. Implementations must never fail the caller's
// operation: errors are returned for logging only.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type Nop struct{}

func (Nop) Record(ctx context.Context, event Event) error { return nil }
