package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"omnicrm-backend/internal/audit"
	"omnicrm-backend/internal/model"
	"omnicrm-backend/internal/notify"
	"omnicrm-backend/internal/retry"
)

type memoryRepository struct {
	mu           sync.Mutex
	claims       map[string]model.ChannelClaimItem
	integrations map[string]model.IntegrationItem
	credentials  map[string]model.ChannelCredentialItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		claims:       make(map[string]model.ChannelClaimItem),
		integrations: make(map[string]model.IntegrationItem),
		credentials:  make(map[string]model.ChannelCredentialItem),
	}
}

func (m *memoryRepository) ClaimChannel(ctx context.Context, claim model.ChannelClaimItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.claims[claim.PK]; exists {
		return ErrConflict
	}
	m.claims[claim.PK] = claim
	return nil
}

func (m *memoryRepository) ReleaseChannel(ctx context.Context, tenantID string, channel model.Channel, integrationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ChannelPK(tenantID, channel)
	if claim, ok := m.claims[pk]; ok && claim.IntegrationID == integrationID {
		delete(m.claims, pk)
	}
	return nil
}

func (m *memoryRepository) PutIntegration(ctx context.Context, item model.IntegrationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[item.PK] = item
	return nil
}

func (m *memoryRepository) GetIntegration(ctx context.Context, tenantID, integrationID string) (model.IntegrationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.integrations[model.TenantScopedPK(tenantID, integrationID)]
	if !ok {
		return model.IntegrationItem{}, ErrNotFound
	}
	return item, nil
}

func (m *memoryRepository) GetIntegrationBySession(ctx context.Context, externalSessionID string) (model.IntegrationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.integrations {
		if item.ExternalSessionID == externalSessionID {
			return item, nil
		}
	}
	return model.IntegrationItem{}, ErrNotFound
}

func (m *memoryRepository) GetIntegrationByWebhookToken(ctx context.Context, webhookToken string) (model.IntegrationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.integrations {
		if item.WebhookToken == webhookToken {
			return item, nil
		}
	}
	return model.IntegrationItem{}, ErrNotFound
}

func (m *memoryRepository) PutCredentials(ctx context.Context, creds model.ChannelCredentialItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[creds.PK] = creds
	return nil
}

func (m *memoryRepository) GetCredentials(ctx context.Context, tenantID string, channel model.Channel) (model.ChannelCredentialItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	creds, ok := m.credentials[model.ChannelPK(tenantID, channel)]
	if !ok {
		return model.ChannelCredentialItem{}, ErrNotFound
	}
	return creds, nil
}

type fakeProvisioner struct {
	mu            sync.Mutex
	provisionErr  error
	statusErr     error
	status        model.IntegrationStatus
	provisions    int
	deprovisioned []string
	result        ProvisionResult
}

func (f *fakeProvisioner) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions++
	if f.provisionErr != nil {
		return ProvisionResult{}, f.provisionErr
	}
	if f.result.ExternalSessionID == "" {
		return ProvisionResult{ExternalSessionID: "session-1", QRPayload: "qr-data"}, nil
	}
	return f.result, nil
}

func (f *fakeProvisioner) Deprovision(ctx context.Context, channel model.Channel, externalSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deprovisioned = append(f.deprovisioned, externalSessionID)
	return nil
}

func (f *fakeProvisioner) Status(ctx context.Context, channel model.Channel, externalSessionID string) (model.IntegrationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

func (f *fakeProvisioner) BaseURL(channel model.Channel) string {
	return "https://gateway.example.com/" + string(channel)
}

func newTestService(repo Repository, prov Provisioner) *Service {
	return NewWithDeps(repo, prov, audit.Nop{}, notify.Nop{}, "https://hooks.example.com", func() time.Time {
		return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	})
}

func TestConnectCreatesConnectingIntegration(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{}
	service := newTestService(repo, prov)

	result, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntegrationID == "" {
		t.Fatal("expected an integration id")
	}
	if result.QRPayload != "qr-data" {
		t.Errorf("expected qr payload %q, got %q", "qr-data", result.QRPayload)
	}

	item, err := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if err != nil {
		t.Fatalf("integration not persisted: %v", err)
	}
	if item.Status != model.IntegrationStatusConnecting {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusConnecting, item.Status)
	}
	if item.ExternalSessionID != "session-1" {
		t.Errorf("expected session %q, got %q", "session-1", item.ExternalSessionID)
	}
	if item.WebhookToken == "" {
		t.Error("expected a webhook token")
	}
}

func TestConnectRejectsSecondActiveIntegration(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{}
	service := newTestService(repo, prov)

	if _, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeConflict {
		t.Fatalf("expected code %q, got %v", ErrorCodeConflict, err)
	}
	if prov.provisions != 1 {
		t.Errorf("expected 1 provision call, got %d", prov.provisions)
	}
}

func TestConnectAllowsSameChannelForOtherTenant(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	if _, err := service.Connect(context.Background(), "tenant-1", model.ChannelTelegram); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Connect(context.Background(), "tenant-2", model.ChannelTelegram); err != nil {
		t.Fatalf("second tenant should not conflict: %v", err)
	}
}

func TestConnectReleasesClaimOnProvisionFailure(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{
		provisionErr: &retry.TransientError{Attempts: 3, Err: errors.New("gateway down")},
	}
	service := newTestService(repo, prov)

	_, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeTransient {
		t.Fatalf("expected code %q, got %v", ErrorCodeTransient, err)
	}

	// A failed attempt must not block the retry.
	prov.provisionErr = nil
	if _, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp); err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
}

func TestConnectMapsTerminalProvisionFailure(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{
		provisionErr: &retry.TerminalError{Status: 422, Err: errors.New("bad request")},
	}
	service := newTestService(repo, prov)

	_, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeTerminal {
		t.Fatalf("expected code %q, got %v", ErrorCodeTerminal, err)
	}
}

func TestDisconnectFreesChannelAndCompletesLocally(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{}
	service := newTestService(repo, prov)

	result, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Disconnect(context.Background(), "tenant-1", result.IntegrationID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.Status != model.IntegrationStatusDisconnected {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusDisconnected, item.Status)
	}
	if len(prov.deprovisioned) != 1 || prov.deprovisioned[0] != "session-1" {
		t.Errorf("expected session-1 deprovisioned, got %v", prov.deprovisioned)
	}

	// The channel slot is free again.
	if _, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp); err != nil {
		t.Fatalf("reconnect after disconnect should succeed: %v", err)
	}
}

func TestDisconnectIsIdempotentOnTerminalIntegration(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{}
	service := newTestService(repo, prov)

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err := service.Disconnect(context.Background(), "tenant-1", result.IntegrationID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Disconnect(context.Background(), "tenant-1", result.IntegrationID); err != nil {
		t.Fatalf("second disconnect should be a no-op: %v", err)
	}
	if len(prov.deprovisioned) != 1 {
		t.Errorf("expected a single deprovision call, got %d", len(prov.deprovisioned))
	}
}

func TestDisconnectUnknownIntegration(t *testing.T) {
	service := newTestService(newMemoryRepository(), &fakeProvisioner{})

	err := service.Disconnect(context.Background(), "tenant-1", "missing")
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeNotFound {
		t.Fatalf("expected code %q, got %v", ErrorCodeNotFound, err)
	}
}

func TestApplyExternalEventConnected(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)

	err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "connected",
		ExternalSessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.Status != model.IntegrationStatusConnected {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusConnected, item.Status)
	}
	if item.QRPayload != "" {
		t.Error("expected qr payload cleared once connected")
	}
	if item.ConnectedAt == "" {
		t.Error("expected connectedAt to be set")
	}
}

func TestApplyExternalEventUnknownSessionIgnored(t *testing.T) {
	service := newTestService(newMemoryRepository(), &fakeProvisioner{})

	err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "connected",
		ExternalSessionID: "ghost",
	})
	if err != nil {
		t.Fatalf("unknown sessions are ignored, got %v", err)
	}
}

func TestApplyExternalEventIgnoredAfterDisconnect(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err := service.Disconnect(context.Background(), "tenant-1", result.IntegrationID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "connected",
		ExternalSessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.Status != model.IntegrationStatusDisconnected {
		t.Errorf("late connected must not revive a disconnected integration, got %q", item.Status)
	}
}

func TestApplyExternalEventErrorReleasesChannel(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)

	err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "error",
		ExternalSessionID: "session-1",
		Payload:           map[string]string{"message": "session banned"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.Status != model.IntegrationStatusError {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusError, item.Status)
	}
	if item.LastError != "session banned" {
		t.Errorf("expected lastError recorded, got %q", item.LastError)
	}

	if _, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp); err != nil {
		t.Fatalf("channel should be free after terminal error: %v", err)
	}
}

func TestApplyExternalEventQRUpdate(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)

	err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "qr_update",
		ExternalSessionID: "session-1",
		Payload:           map[string]string{"qr": "fresh-qr"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.QRPayload != "fresh-qr" {
		t.Errorf("expected qr payload refreshed, got %q", item.QRPayload)
	}
}

func TestCheckStatusReturnsLocalWhenConnected(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{statusErr: errors.New("should not be polled")}
	service := newTestService(repo, prov)

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "connected",
		ExternalSessionID: "session-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := service.CheckStatus(context.Background(), "tenant-1", result.IntegrationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.IntegrationStatusConnected {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusConnected, status)
	}
}

func TestCheckStatusReconcilesFromGateway(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{status: model.IntegrationStatusConnected}
	service := newTestService(repo, prov)

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)

	status, err := service.CheckStatus(context.Background(), "tenant-1", result.IntegrationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.IntegrationStatusConnected {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusConnected, status)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.Status != model.IntegrationStatusConnected {
		t.Errorf("expected reconciled status persisted, got %q", item.Status)
	}
}

func TestCheckStatusFallsBackOnPollFailure(t *testing.T) {
	repo := newMemoryRepository()
	prov := &fakeProvisioner{statusErr: errors.New("gateway down")}
	service := newTestService(repo, prov)

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)

	status, err := service.CheckStatus(context.Background(), "tenant-1", result.IntegrationID)
	if err != nil {
		t.Fatalf("poll failures fall back to the local status: %v", err)
	}
	if status != model.IntegrationStatusConnecting {
		t.Errorf("expected status %q, got %q", model.IntegrationStatusConnecting, status)
	}
}

func TestCheckStatusKeepsTerminalRecordFrozen(t *testing.T) {
	repo := newMemoryRepository()
	// The gateway still reports the torn-down session as connected.
	prov := &fakeProvisioner{status: model.IntegrationStatusConnected}
	service := newTestService(repo, prov)

	first, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err := service.Disconnect(context.Background(), "tenant-1", first.IntegrationID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := service.CheckStatus(context.Background(), "tenant-1", first.IntegrationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.IntegrationStatusDisconnected {
		t.Fatalf("a stale gateway view must not revive a disconnected integration, got %q", status)
	}

	if _, err := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp); err != nil {
		t.Fatalf("reconnect after disconnect should succeed: %v", err)
	}

	repo.mu.Lock()
	active := 0
	for _, item := range repo.integrations {
		if item.TenantID == "tenant-1" && item.Channel == model.ChannelWhatsApp && item.Status.Active() {
			active++
		}
	}
	repo.mu.Unlock()
	if active != 1 {
		t.Fatalf("expected 1 active integration for the channel, got %d", active)
	}
}

func TestApplyExternalEventTerminalStateStaysPut(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "disconnected",
		ExternalSessionID: "session-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "error",
		ExternalSessionID: "session-1",
		Payload:           map[string]string{"message": "late crash"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)
	if item.Status != model.IntegrationStatusDisconnected {
		t.Errorf("a late error push must not rewrite a disconnected record, got %q", item.Status)
	}
	if item.LastError != "" {
		t.Errorf("terminal records are frozen, got lastError %q", item.LastError)
	}
}

func TestConnectedEventSyncsGatewayCredentials(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err := service.ApplyExternalEvent(context.Background(), ExternalEvent{
		Event:             "connected",
		ExternalSessionID: "session-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds, err := repo.GetCredentials(context.Background(), "tenant-1", model.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("credentials not synced: %v", err)
	}
	if creds.GatewayURL != "https://gateway.example.com/whatsapp" {
		t.Errorf("expected gateway url synced, got %q", creds.GatewayURL)
	}
	if creds.ExternalSessionID != "session-1" {
		t.Errorf("expected session synced, got %q", creds.ExternalSessionID)
	}
}

func TestResolveWebhookToken(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	result, _ := service.Connect(context.Background(), "tenant-1", model.ChannelWhatsApp)
	stored, _ := repo.GetIntegration(context.Background(), "tenant-1", result.IntegrationID)

	item, err := service.ResolveWebhookToken(context.Background(), stored.WebhookToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.IntegrationID != result.IntegrationID {
		t.Errorf("expected integration %q, got %q", result.IntegrationID, item.IntegrationID)
	}

	_, err = service.ResolveWebhookToken(context.Background(), "omni_NOPE")
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeNotFound {
		t.Fatalf("expected code %q, got %v", ErrorCodeNotFound, err)
	}
}

func TestSetCredentialsHashesVerifySecret(t *testing.T) {
	repo := newMemoryRepository()
	service := newTestService(repo, &fakeProvisioner{})

	err := service.SetCredentials(context.Background(), "tenant-1", model.ChannelTelegram, SetCredentialsParams{
		BotToken:     "123456:bot-token",
		VerifySecret: "hunter2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds, err := repo.GetCredentials(context.Background(), "tenant-1", model.ChannelTelegram)
	if err != nil {
		t.Fatalf("credentials not persisted: %v", err)
	}
	if creds.BotToken != "123456:bot-token" {
		t.Errorf("expected bot token stored, got %q", creds.BotToken)
	}
	if creds.VerifySecretHash == "" || creds.VerifySecretHash == "hunter2" {
		t.Errorf("expected verify secret hashed, got %q", creds.VerifySecretHash)
	}
}
