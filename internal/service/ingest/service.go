package ingest

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
	ErrorCodeValidation     ErrorCode = "validation_error"
	ErrorCodeUnknownContact ErrorCode = "unknown_contact"
	ErrorCodeNotFound       ErrorCode = "not_found"
	ErrorCodeInternal       ErrorCode = "internal_error"
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

// InboundMessage is the normalized provider payload handed over by the
// webhook boundary. FromAddress doubles as the thread id for the chat
// channels we carry today.
type InboundMessage struct {
	FromAddress       string
	ToAddress         string
	Content           string
	ProviderMessageID string
	Timestamp         string
	MediaURL          string
	ContentType       string
}

type IngestResult struct {
	ConversationID string
	MessageID      string
	ContactID      string
	// Duplicate is set when the provider redelivered a message we already
	// hold. The caller still acks with 2xx; nothing new was written.
	Duplicate bool
}

// Emitter hands a business event to the automation dispatcher. Implementations
// must be fire-and-forget: ingestion acknowledges the provider before any
// dispatch outcome is known, and a dispatch failure must never turn into a
// non-2xx provider response.
type Emitter interface {
	Emit(tenantID, triggerEvent string, payload map[string]interface{})
}

type NopEmitter struct{}

func (NopEmitter) Emit(tenantID, triggerEvent string, payload map[string]interface{}) {}

type Service struct {
	repo     Repository
	emitter  Emitter
	sink     notify.Sink
	recorder audit.Recorder
	now      func() time.Time
}

func New(db *database.Database, emitter Emitter, sink notify.Sink) *Service {
	return &Service{
		repo:     NewDynamoRepository(db),
		emitter:  emitter,
		sink:     sink,
		recorder: audit.NewDynamoRecorder(db),
		now:      time.Now,
	}
}

func NewWithDeps(repo Repository, emitter Emitter, sink notify.Sink, recorder audit.Recorder, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		emitter:  emitter,
		sink:     sink,
		recorder: recorder,
		now:      now,
	}
}

// Ingest maps an inbound provider payload to a contact, resolves the single
// open conversation for its thread, and records the message. A redelivered
// providerMessageId returns the original result with Duplicate set and writes
// nothing.
func (s *Service) Ingest(ctx context.Context, tenantID string, channel model.Channel, in InboundMessage) (IngestResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	in.FromAddress = strings.TrimSpace(in.FromAddress)
	in.ProviderMessageID = strings.TrimSpace(in.ProviderMessageID)
	if tenantID == "" {
		return IngestResult{}, newError(ErrorCodeValidation, "tenantId is required", nil)
	}
	if in.FromAddress == "" {
		return IngestResult{}, newError(ErrorCodeValidation, "fromAddress is required", nil)
	}
	if in.ProviderMessageID == "" {
		return IngestResult{}, newError(ErrorCodeValidation, "providerMessageId is required", nil)
	}
	if in.Content == "" && in.MediaURL == "" {
		return IngestResult{}, newError(ErrorCodeValidation, "message has no content", nil)
	}

	contact, err := s.repo.GetContactByAddress(ctx, tenantID, channel, in.FromAddress)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditRejected(ctx, tenantID, channel, in, "unknown contact")
			return IngestResult{}, newError(ErrorCodeUnknownContact, "no contact is registered for this sender", err)
		}
		return IngestResult{}, newError(ErrorCodeInternal, "failed to resolve contact", err)
	}

	threadID := in.FromAddress
	conv, err := s.resolveConversation(ctx, tenantID, channel, contact.ContactID, threadID)
	if err != nil {
		return IngestResult{}, err
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	msg := model.MessageItem{
		PK:               model.MessagePK(conv.ConversationID, in.ProviderMessageID),
		MessageID:        in.ProviderMessageID,
		TenantID:         tenantID,
		ConversationID:   conv.ConversationID,
		ContactID:        contact.ContactID,
		Direction:        model.DirectionInbound,
		SenderType:       model.SenderHuman,
		Content:          in.Content,
		ContentType:      in.ContentType,
		MediaURL:         in.MediaURL,
		ChannelMessageID: in.ProviderMessageID,
		Status:           model.MessageStatusReceived,
		CreatedAt:        nowStr,
	}
	if err := s.repo.PutMessageIfAbsent(ctx, msg); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Printf("ingest: suppressing redelivered message %s for conversation %s", in.ProviderMessageID, conv.ConversationID)
			return IngestResult{
				ConversationID: conv.ConversationID,
				MessageID:      in.ProviderMessageID,
				ContactID:      contact.ContactID,
				Duplicate:      true,
			}, nil
		}
		return IngestResult{}, newError(ErrorCodeInternal, "failed to persist message", err)
	}

	conv.LastMessageAt = nowStr
	conv.UpdatedAt = nowStr
	if err := s.repo.PutConversation(ctx, conv); err != nil {
		log.Printf("ingest: conversation activity update for %s failed: %v", conv.ConversationID, err)
	}

	s.auditAccepted(ctx, msg)
	s.publish(ctx, notify.Event{
		Type:           notify.EventMessageCreated,
		TenantID:       tenantID,
		ConversationID: conv.ConversationID,
		Data:           msg,
	})

	s.emitter.Emit(tenantID, "new_message", map[string]interface{}{
		"conversationId": conv.ConversationID,
		"contactId":      contact.ContactID,
		"messageId":      msg.MessageID,
		"channel":        string(channel),
		"content":        msg.Content,
	})

	return IngestResult{
		ConversationID: conv.ConversationID,
		MessageID:      msg.MessageID,
		ContactID:      contact.ContactID,
	}, nil
}

// resolveConversation finds the open conversation for a thread, creating one
// when the thread has none. The claim put decides the race between concurrent
// inbound calls; the loser attaches to whichever conversation won the claim.
func (s *Service) resolveConversation(ctx context.Context, tenantID string, channel model.Channel, contactID, threadID string) (model.ConversationItem, error) {
	claim, err := s.repo.GetThreadClaim(ctx, tenantID, channel, contactID, threadID)
	if err == nil {
		return s.getConversation(ctx, tenantID, claim.ConversationID)
	}
	if !errors.Is(err, ErrNotFound) {
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to resolve thread", err)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	conversationID := uuid.NewString()
	newClaim := model.ThreadClaimItem{
		PK:             model.ThreadPK(tenantID, channel, contactID, threadID),
		TenantID:       tenantID,
		ConversationID: conversationID,
		ClaimedAt:      nowStr,
	}
	if err := s.repo.ClaimThread(ctx, newClaim); err != nil {
		if errors.Is(err, ErrConflict) {
			claim, err := s.repo.GetThreadClaim(ctx, tenantID, channel, contactID, threadID)
			if err != nil {
				return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to re-read thread claim", err)
			}
			return s.getConversation(ctx, tenantID, claim.ConversationID)
		}
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to claim thread", err)
	}

	conv := model.ConversationItem{
		PK:              model.ConversationPK(tenantID, conversationID),
		ConversationID:  conversationID,
		TenantID:        tenantID,
		ContactID:       contactID,
		Channel:         channel,
		ChannelThreadID: threadID,
		Status:          model.ConversationStatusOpen,
		OpenedAt:        nowStr,
		LastMessageAt:   nowStr,
		UpdatedAt:       nowStr,
	}
	if err := s.repo.PutConversation(ctx, conv); err != nil {
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to create conversation", err)
	}
	return conv, nil
}

func (s *Service) getConversation(ctx context.Context, tenantID, conversationID string) (model.ConversationItem, error) {
	conv, err := s.repo.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}
	return conv, nil
}

// Close ends a conversation and frees its thread slot, so the next inbound
// message on the thread starts a fresh conversation.
func (s *Service) Close(ctx context.Context, tenantID, conversationID string) error {
	tenantID = strings.TrimSpace(tenantID)
	conversationID = strings.TrimSpace(conversationID)
	if tenantID == "" || conversationID == "" {
		return newError(ErrorCodeValidation, "tenantId and conversationId are required", nil)
	}

	conv, err := s.getConversation(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == model.ConversationStatusClosed {
		return nil
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	conv.Status = model.ConversationStatusClosed
	conv.ClosedAt = nowStr
	conv.UpdatedAt = nowStr
	if err := s.repo.PutConversation(ctx, conv); err != nil {
		return newError(ErrorCodeInternal, "failed to close conversation", err)
	}

	if err := s.repo.ReleaseThread(ctx, tenantID, conv.Channel, conv.ContactID, conv.ChannelThreadID, conv.ConversationID); err != nil {
		log.Printf("ingest: release thread claim for %s failed: %v", conv.ConversationID, err)
	}

	s.publish(ctx, notify.Event{
		Type:           notify.EventConversationClosed,
		TenantID:       tenantID,
		ConversationID: conv.ConversationID,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, ev notify.Event) {
	if err := s.sink.Publish(ctx, notify.TenantTopic(ev.TenantID), ev); err != nil {
		log.Printf("ingest: notify publish %s failed: %v", ev.Type, err)
	}
}

func (s *Service) auditAccepted(ctx context.Context, msg model.MessageItem) {
	err := s.recorder.Record(ctx, audit.Event{
		TenantID: msg.TenantID,
		Kind:     audit.KindInboundAccepted,
		Subject:  msg.MessageID,
		Detail: map[string]string{
			"conversationId": msg.ConversationID,
			"contactId":      msg.ContactID,
		},
	})
	if err != nil {
		log.Printf("ingest: audit record failed: %v", err)
	}
}

func (s *Service) auditRejected(ctx context.Context, tenantID string, channel model.Channel, in InboundMessage, reason string) {
	err := s.recorder.Record(ctx, audit.Event{
		TenantID: tenantID,
		Kind:     audit.KindInboundRejected,
		Subject:  in.ProviderMessageID,
		Detail: map[string]string{
			"channel":     string(channel),
			"fromAddress": in.FromAddress,
			"reason":      reason,
		},
	})
	if err != nil {
		log.Printf("ingest: audit record failed: %v", err)
	}
}
