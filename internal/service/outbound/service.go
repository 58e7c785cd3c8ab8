package outbound

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"omnicrm-backend/internal/audit"
	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"
	"omnicrm-backend/internal/notify"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation_error"
	ErrorCodeNotFound   ErrorCode = "not_found"
	ErrorCodeInternal   ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type SendParams struct {
	Content    string
	SenderType model.SenderType
}

type SendResult struct {
	MessageID        string
	ChannelMessageID string
	Status           model.MessageStatus
}

type Service struct {
	repo     Repository
	senders  map[model.Channel]Sender
	sink     notify.Sink
	recorder audit.Recorder
	now      func() time.Time
}

func New(db *database.Database, sink notify.Sink) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		senders: map[model.Channel]Sender{
			model.ChannelWhatsApp: newWhatsAppSender(),
			model.ChannelTelegram: newTelegramSender(),
		},
		sink:     sink,
		recorder: audit.NewDynamoRecorder(db),
		now:      time.Now,
	}
}

func NewWithDeps(repo Repository, senders map[model.Channel]Sender, sink notify.Sink, recorder audit.Recorder, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		senders:  senders,
		sink:     sink,
		recorder: recorder,
		now:      now,
	}
}

// Send records an outbound message and then attempts delivery. Persistence is
// not best-effort but delivery is: a message with no credentials or a failed
// provider call stays recorded without a channelMessageId, visibly
// unconfirmed. Conversation state is never touched here.
func (s *Service) Send(ctx context.Context, tenantID, conversationID string, params SendParams) (SendResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	conversationID = strings.TrimSpace(conversationID)
	if tenantID == "" || conversationID == "" {
		return SendResult{}, newError(ErrorCodeValidation, "tenantId and conversationId are required", nil)
	}
	if strings.TrimSpace(params.Content) == "" {
		return SendResult{}, newError(ErrorCodeValidation, "content is required", nil)
	}
	if params.SenderType == "" {
		params.SenderType = model.SenderHuman
	}

	conv, err := s.repo.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SendResult{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return SendResult{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}
	if conv.ChannelThreadID == "" {
		return SendResult{}, newError(ErrorCodeValidation, "conversation has no provider thread", nil)
	}

	messageID := uuid.NewString()
	nowStr := s.now().UTC().Format(time.RFC3339)
	msg := model.MessageItem{
		PK:             model.MessagePK(conv.ConversationID, messageID),
		MessageID:      messageID,
		TenantID:       tenantID,
		ConversationID: conv.ConversationID,
		ContactID:      conv.ContactID,
		Direction:      model.DirectionOutbound,
		SenderType:     params.SenderType,
		Content:        params.Content,
		Status:         model.MessageStatusPending,
		CreatedAt:      nowStr,
	}
	if err := s.repo.PutMessage(ctx, msg); err != nil {
		return SendResult{}, newError(ErrorCodeInternal, "failed to persist message", err)
	}

	s.publish(ctx, notify.Event{
		Type:           notify.EventMessageCreated,
		TenantID:       tenantID,
		ConversationID: conv.ConversationID,
		Data:           msg,
	})

	channelMessageID, status := s.deliver(ctx, conv, msg)
	if status != msg.Status {
		if err := s.repo.UpdateMessageDelivery(ctx, conv.ConversationID, messageID, channelMessageID, status); err != nil {
			log.Printf("outbound: delivery update for %s failed: %v", messageID, err)
		}
	}
	if status == model.MessageStatusSent {
		s.publish(ctx, notify.Event{
			Type:           notify.EventMessageDelivered,
			TenantID:       tenantID,
			ConversationID: conv.ConversationID,
			Data: map[string]string{
				"messageId":        messageID,
				"channelMessageId": channelMessageID,
			},
		})
	}

	return SendResult{
		MessageID:        messageID,
		ChannelMessageID: channelMessageID,
		Status:           status,
	}, nil
}

// deliver makes the single provider attempt. Every outcome maps to a message
// status; no error escapes to the caller.
func (s *Service) deliver(ctx context.Context, conv model.ConversationItem, msg model.MessageItem) (string, model.MessageStatus) {
	sender, ok := s.senders[conv.Channel]
	if !ok {
		log.Printf("outbound: no sender wired for channel %q, message %s stays undelivered", conv.Channel, msg.MessageID)
		s.auditDelivery(ctx, msg, "skipped", "no sender for channel")
		return "", model.MessageStatusPending
	}

	creds, err := s.repo.GetCredentials(ctx, conv.TenantID, conv.Channel)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("outbound: no %s credentials for tenant %s, message %s stays undelivered", conv.Channel, conv.TenantID, msg.MessageID)
			s.auditDelivery(ctx, msg, "skipped", "missing credentials")
			return "", model.MessageStatusPending
		}
		log.Printf("outbound: credential lookup for tenant %s failed: %v", conv.TenantID, err)
		s.auditDelivery(ctx, msg, "error", err.Error())
		return "", model.MessageStatusFailed
	}

	channelMessageID, err := sender.Send(ctx, creds, conv, msg.Content)
	if err != nil {
		log.Printf("outbound: send %s on %s failed: %v", msg.MessageID, conv.Channel, err)
		s.auditDelivery(ctx, msg, "error", err.Error())
		return "", model.MessageStatusFailed
	}

	s.auditDelivery(ctx, msg, "success", "")
	return channelMessageID, model.MessageStatusSent
}

func (s *Service) publish(ctx context.Context, ev notify.Event) {
	if err := s.sink.Publish(ctx, notify.TenantTopic(ev.TenantID), ev); err != nil {
		log.Printf("outbound: notify publish %s failed: %v", ev.Type, err)
	}
}

func (s *Service) auditDelivery(ctx context.Context, msg model.MessageItem, outcome, detail string) {
	err := s.recorder.Record(ctx, audit.Event{
		TenantID: msg.TenantID,
		Kind:     audit.KindOutboundDelivery,
		Subject:  msg.MessageID,
		Detail: map[string]string{
			"conversationId": msg.ConversationID,
			"outcome":        outcome,
			"detail":         detail,
		},
	})
	if err != nil {
		log.Printf("outbound: audit record failed: %v", err)
	}
}
