package integration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"omnicrm-backend/internal/audit"
	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/env"
	"omnicrm-backend/internal/model"
	"omnicrm-backend/internal/notify"
	"omnicrm-backend/internal/retry"
	"omnicrm-backend/utils"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation_error"
	ErrorCodeConflict   ErrorCode = "conflict"
	ErrorCodeNotFound   ErrorCode = "not_found"
	ErrorCodeTransient  ErrorCode = "transient_external"
	ErrorCodeTerminal   ErrorCode = "terminal_external"
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

type ConnectResult struct {
	IntegrationID string
	QRPayload     string
	WebhookURL    string
}

// ExternalEvent is a connection-state push from the session gateway. It is
// addressed by externalSessionId; tenant identity is derived from the stored
// record, never from the caller.
type ExternalEvent struct {
	Event             string
	ExternalSessionID string
	Payload           map[string]string
}

type SetCredentialsParams struct {
	BotToken     string
	VerifySecret string
}

type Service struct {
	repo        Repository
	provisioner Provisioner
	recorder    audit.Recorder
	sink        notify.Sink
	webhookBase string
	now         func() time.Time
}

func New(db *database.Database, sink notify.Sink) *Service {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Service{
		repo:        NewDynamoRepository(db),
		provisioner: NewHTTPProvisioner(),
		recorder:    audit.NewDynamoRecorder(db),
		sink:        sink,
		webhookBase: strings.TrimRight(env.Get(env.PublicWebhookBase), "/"),
		now:         time.Now,
	}
}

func NewWithDeps(repo Repository, provisioner Provisioner, recorder audit.Recorder, sink notify.Sink, webhookBase string, now func() time.Time) *Service {
	if sink == nil {
		sink = notify.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        repo,
		provisioner: provisioner,
		recorder:    recorder,
		sink:        sink,
		webhookBase: strings.TrimRight(webhookBase, "/"),
		now:         now,
	}
}

// Connect provisions a fresh external session and records a new integration
// in `connecting`. The active-channel claim is taken first, so a tenant can
// never hold two connecting/connected integrations for the same channel.
func (s *Service) Connect(ctx context.Context, tenantID string, channel model.Channel) (ConnectResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ConnectResult{}, newError(ErrorCodeValidation, "tenantId is required", nil)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)
	integrationID := uuid.NewString()
	webhookToken := utils.GenerateWebhookToken()

	claim := model.ChannelClaimItem{
		PK:            model.ChannelPK(tenantID, channel),
		TenantID:      tenantID,
		Channel:       channel,
		IntegrationID: integrationID,
		ClaimedAt:     nowStr,
	}
	if err := s.repo.ClaimChannel(ctx, claim); err != nil {
		if errors.Is(err, ErrConflict) {
			return ConnectResult{}, newError(ErrorCodeConflict, "an integration for this channel is already connected or connecting", err)
		}
		return ConnectResult{}, newError(ErrorCodeInternal, "failed to reserve channel", err)
	}

	webhookURL := fmt.Sprintf("%s/hooks/v1/channels/%s/%s", s.webhookBase, channel, webhookToken)

	provisioned, err := s.provisioner.Provision(ctx, ProvisionRequest{
		TenantID:   tenantID,
		WebhookURL: webhookURL,
		Channel:    channel,
	})
	if err != nil {
		s.releaseClaim(ctx, tenantID, channel, integrationID)
		var terminal *retry.TerminalError
		if errors.As(err, &terminal) {
			return ConnectResult{}, newError(ErrorCodeTerminal, "provider rejected the connection request", err)
		}
		return ConnectResult{}, newError(ErrorCodeTransient, "provider unreachable", err)
	}

	item := model.IntegrationItem{
		PK:                 model.TenantScopedPK(tenantID, integrationID),
		IntegrationID:      integrationID,
		TenantID:           tenantID,
		Channel:            channel,
		Status:             model.IntegrationStatusConnecting,
		ExternalSessionID:  provisioned.ExternalSessionID,
		WebhookToken:       webhookToken,
		ExternalWebhookURL: webhookURL,
		QRPayload:          provisioned.QRPayload,
		CreatedAt:          nowStr,
		UpdatedAt:          nowStr,
	}
	if err := s.repo.PutIntegration(ctx, item); err != nil {
		s.releaseClaim(ctx, tenantID, channel, integrationID)
		if derr := s.provisioner.Deprovision(ctx, channel, provisioned.ExternalSessionID); derr != nil {
			log.Printf("integration: orphaned session teardown failed: %v", derr)
		}
		return ConnectResult{}, newError(ErrorCodeInternal, "failed to persist integration", err)
	}

	s.audit(ctx, item, "", model.IntegrationStatusConnecting)
	s.notifyChange(ctx, item)

	return ConnectResult{
		IntegrationID: integrationID,
		QRPayload:     provisioned.QRPayload,
		WebhookURL:    webhookURL,
	}, nil
}

// Disconnect tears down the external session best-effort and always completes
// the local transition to `disconnected`.
func (s *Service) Disconnect(ctx context.Context, tenantID, integrationID string) error {
	item, err := s.getOwned(ctx, tenantID, integrationID)
	if err != nil {
		return err
	}
	if item.Status.Terminal() {
		return nil
	}

	if item.ExternalSessionID != "" {
		if err := s.provisioner.Deprovision(ctx, item.Channel, item.ExternalSessionID); err != nil {
			log.Printf("integration: deprovision %s failed, continuing local disconnect: %v", item.IntegrationID, err)
		}
	}

	prev := item.Status
	nowStr := s.now().UTC().Format(time.RFC3339)
	item.Status = model.IntegrationStatusDisconnected
	item.QRPayload = ""
	item.DisconnectedAt = nowStr
	item.UpdatedAt = nowStr

	if err := s.repo.PutIntegration(ctx, item); err != nil {
		return newError(ErrorCodeInternal, "failed to update integration", err)
	}
	s.releaseClaim(ctx, item.TenantID, item.Channel, item.IntegrationID)
	s.audit(ctx, item, prev, item.Status)
	s.notifyChange(ctx, item)
	return nil
}

// ApplyExternalEvent reconciles a gateway push into the local record. Unknown
// sessions and unknown event names are logged and ignored; the gateway may
// reference sessions that were already torn down locally.
func (s *Service) ApplyExternalEvent(ctx context.Context, ev ExternalEvent) error {
	item, err := s.repo.GetIntegrationBySession(ctx, ev.ExternalSessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("integration: ignoring %q for unknown session %s", ev.Event, ev.ExternalSessionID)
			return nil
		}
		return newError(ErrorCodeInternal, "failed to resolve session", err)
	}

	// Terminal records are frozen. A push that arrives after disconnect or
	// error refers to a session this side already gave up on.
	if item.Status.Terminal() {
		log.Printf("integration: ignoring %q for terminal %s", ev.Event, item.IntegrationID)
		return nil
	}

	prev := item.Status
	nowStr := s.now().UTC().Format(time.RFC3339)

	switch ev.Event {
	case "connected":
		item.Status = model.IntegrationStatusConnected
		item.ConnectedAt = nowStr
		item.QRPayload = ""
		s.syncSessionCredentials(ctx, item)
	case "qr_update":
		item.QRPayload = ev.Payload["qr"]
	case "disconnected":
		item.Status = model.IntegrationStatusDisconnected
		item.QRPayload = ""
		item.DisconnectedAt = nowStr
	case "error":
		item.Status = model.IntegrationStatusError
		item.QRPayload = ""
		item.LastError = ev.Payload["message"]
	default:
		log.Printf("integration: ignoring unknown event %q for session %s", ev.Event, ev.ExternalSessionID)
		return nil
	}

	item.UpdatedAt = nowStr
	if err := s.repo.PutIntegration(ctx, item); err != nil {
		return newError(ErrorCodeInternal, "failed to update integration", err)
	}
	if item.Status.Terminal() {
		s.releaseClaim(ctx, item.TenantID, item.Channel, item.IntegrationID)
	}
	if prev != item.Status {
		s.audit(ctx, item, prev, item.Status)
	}
	// QR refreshes keep the same status, so the change event publishes
	// unconditionally to carry the new payload to open sessions.
	s.notifyChange(ctx, item)
	return nil
}

// CheckStatus returns the integration status, polling the gateway once for
// records that are still settling. Terminal records are reported as-is and
// never reconciled; reconnecting means a fresh Connect. Poll failures fall
// back to the last known local status.
func (s *Service) CheckStatus(ctx context.Context, tenantID, integrationID string) (model.IntegrationStatus, error) {
	item, err := s.getOwned(ctx, tenantID, integrationID)
	if err != nil {
		return "", err
	}
	if item.Status == model.IntegrationStatusConnected || item.Status.Terminal() {
		return item.Status, nil
	}
	if item.ExternalSessionID == "" {
		return item.Status, nil
	}

	remote, err := s.provisioner.Status(ctx, item.Channel, item.ExternalSessionID)
	if err != nil {
		log.Printf("integration: status poll for %s failed, returning local status: %v", item.IntegrationID, err)
		return item.Status, nil
	}
	if remote == item.Status {
		return item.Status, nil
	}

	prev := item.Status
	nowStr := s.now().UTC().Format(time.RFC3339)
	item.Status = remote
	item.UpdatedAt = nowStr
	switch remote {
	case model.IntegrationStatusConnected:
		item.ConnectedAt = nowStr
		item.QRPayload = ""
		s.syncSessionCredentials(ctx, item)
	case model.IntegrationStatusDisconnected:
		item.QRPayload = ""
		item.DisconnectedAt = nowStr
	case model.IntegrationStatusError:
		item.QRPayload = ""
	}

	if err := s.repo.PutIntegration(ctx, item); err != nil {
		return "", newError(ErrorCodeInternal, "failed to update integration", err)
	}
	if item.Status.Terminal() {
		s.releaseClaim(ctx, item.TenantID, item.Channel, item.IntegrationID)
	}
	s.audit(ctx, item, prev, item.Status)
	s.notifyChange(ctx, item)
	return item.Status, nil
}

// ResolveWebhookToken maps a webhook URL token back to its integration. Used
// by the public inbound boundary to authenticate and tenant-scope provider
// calls.
func (s *Service) ResolveWebhookToken(ctx context.Context, webhookToken string) (model.IntegrationItem, error) {
	webhookToken = strings.TrimSpace(webhookToken)
	if webhookToken == "" {
		return model.IntegrationItem{}, newError(ErrorCodeValidation, "webhook token is required", nil)
	}
	item, err := s.repo.GetIntegrationByWebhookToken(ctx, webhookToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.IntegrationItem{}, newError(ErrorCodeNotFound, "unknown webhook token", err)
		}
		return model.IntegrationItem{}, newError(ErrorCodeInternal, "failed to resolve webhook token", err)
	}
	return item, nil
}

// VerifyChallenge checks a webhook GET challenge's verify token against the
// tenant's stored secret. Integrations without a configured secret accept any
// challenge; the webhook token in the URL is the primary authenticator.
func (s *Service) VerifyChallenge(ctx context.Context, webhookToken, verifyToken string) error {
	item, err := s.ResolveWebhookToken(ctx, webhookToken)
	if err != nil {
		return err
	}

	creds, err := s.repo.GetCredentials(ctx, item.TenantID, item.Channel)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return newError(ErrorCodeInternal, "failed to load credentials", err)
	}
	if creds.VerifySecretHash == "" {
		return nil
	}
	if !utils.VerifySecret(creds.VerifySecretHash, verifyToken) {
		return newError(ErrorCodeValidation, "verify token mismatch", nil)
	}
	return nil
}

// SetCredentials stores the tenant's delivery configuration for a channel.
// The verify secret is bcrypt-hashed at rest; gateway session fields managed
// by the connection lifecycle are preserved.
func (s *Service) SetCredentials(ctx context.Context, tenantID string, channel model.Channel, params SetCredentialsParams) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return newError(ErrorCodeValidation, "tenantId is required", nil)
	}

	creds, err := s.repo.GetCredentials(ctx, tenantID, channel)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return newError(ErrorCodeInternal, "failed to load credentials", err)
	}

	creds.PK = model.ChannelPK(tenantID, channel)
	creds.TenantID = tenantID
	creds.Channel = channel
	if params.BotToken != "" {
		creds.BotToken = params.BotToken
	}
	if params.VerifySecret != "" {
		hashed, err := utils.HashSecret(params.VerifySecret)
		if err != nil {
			return newError(ErrorCodeInternal, "failed to hash verify secret", err)
		}
		creds.VerifySecretHash = hashed
	}
	creds.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	if err := s.repo.PutCredentials(ctx, creds); err != nil {
		return newError(ErrorCodeInternal, "failed to persist credentials", err)
	}
	return nil
}

func (s *Service) getOwned(ctx context.Context, tenantID, integrationID string) (model.IntegrationItem, error) {
	tenantID = strings.TrimSpace(tenantID)
	integrationID = strings.TrimSpace(integrationID)
	if tenantID == "" || integrationID == "" {
		return model.IntegrationItem{}, newError(ErrorCodeValidation, "tenantId and integrationId are required", nil)
	}
	item, err := s.repo.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.IntegrationItem{}, newError(ErrorCodeNotFound, "integration not found", err)
		}
		return model.IntegrationItem{}, newError(ErrorCodeInternal, "failed to fetch integration", err)
	}
	return item, nil
}

// syncSessionCredentials keeps the outbound router's gateway pointers in step
// with the connected session so sends can target the right external session.
func (s *Service) syncSessionCredentials(ctx context.Context, item model.IntegrationItem) {
	creds, err := s.repo.GetCredentials(ctx, item.TenantID, item.Channel)
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("integration: credential sync load failed: %v", err)
		return
	}
	creds.PK = model.ChannelPK(item.TenantID, item.Channel)
	creds.TenantID = item.TenantID
	creds.Channel = item.Channel
	creds.GatewayURL = s.provisioner.BaseURL(item.Channel)
	creds.ExternalSessionID = item.ExternalSessionID
	creds.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.repo.PutCredentials(ctx, creds); err != nil {
		log.Printf("integration: credential sync store failed: %v", err)
	}
}

func (s *Service) releaseClaim(ctx context.Context, tenantID string, channel model.Channel, integrationID string) {
	if err := s.repo.ReleaseChannel(ctx, tenantID, channel, integrationID); err != nil {
		log.Printf("integration: release channel claim %s/%s failed: %v", tenantID, channel, err)
	}
}

// notifyChange pushes the integration's current state onto the tenant topic
// so connect flows in the UI can follow QR and status updates live.
func (s *Service) notifyChange(ctx context.Context, item model.IntegrationItem) {
	err := s.sink.Publish(ctx, notify.TenantTopic(item.TenantID), notify.Event{
		Type:     notify.EventIntegrationChanged,
		TenantID: item.TenantID,
		Data: map[string]string{
			"integrationId": item.IntegrationID,
			"channel":       string(item.Channel),
			"status":        string(item.Status),
			"qrPayload":     item.QRPayload,
		},
	})
	if err != nil {
		log.Printf("integration: notify publish for %s failed: %v", item.IntegrationID, err)
	}
}

func (s *Service) audit(ctx context.Context, item model.IntegrationItem, from, to model.IntegrationStatus) {
	err := s.recorder.Record(ctx, audit.Event{
		TenantID: item.TenantID,
		Kind:     audit.KindIntegrationTransition,
		Subject:  item.IntegrationID,
		Detail: map[string]string{
			"channel": string(item.Channel),
			"from":    string(from),
			"to":      string(to),
		},
	})
	if err != nil {
		log.Printf("integration: audit record failed: %v", err)
	}
}
