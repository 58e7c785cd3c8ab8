package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/audit"
	"omnicrm-backend/internal/dto"
	"omnicrm-backend/internal/model"
	"omnicrm-backend/internal/notify"
	"omnicrm-backend/internal/queue"
	integrationservice "omnicrm-backend/internal/service/integration"
	outboundservice "omnicrm-backend/internal/service/outbound"
)

type outboundMemoryRepo struct {
	mu            sync.Mutex
	conversations map[string]model.ConversationItem
	credentials   map[string]model.ChannelCredentialItem
	messages      map[string]model.MessageItem
}

func newOutboundMemoryRepo() *outboundMemoryRepo {
	return &outboundMemoryRepo{
		conversations: make(map[string]model.ConversationItem),
		credentials:   make(map[string]model.ChannelCredentialItem),
		messages:      make(map[string]model.MessageItem),
	}
}

func (m *outboundMemoryRepo) GetConversation(ctx context.Context, tenantID, conversationID string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[model.ConversationPK(tenantID, conversationID)]
	if !ok {
		return model.ConversationItem{}, outboundservice.ErrNotFound
	}
	return conv, nil
}

func (m *outboundMemoryRepo) GetCredentials(ctx context.Context, tenantID string, channel model.Channel) (model.ChannelCredentialItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	creds, ok := m.credentials[model.ChannelPK(tenantID, channel)]
	if !ok {
		return model.ChannelCredentialItem{}, outboundservice.ErrNotFound
	}
	return creds, nil
}

func (m *outboundMemoryRepo) PutMessage(ctx context.Context, msg model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.PK] = msg
	return nil
}

func (m *outboundMemoryRepo) UpdateMessageDelivery(ctx context.Context, conversationID, messageID, channelMessageID string, status model.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.MessagePK(conversationID, messageID)
	msg, ok := m.messages[pk]
	if !ok {
		return outboundservice.ErrNotFound
	}
	msg.Status = status
	if channelMessageID != "" {
		msg.ChannelMessageID = channelMessageID
	}
	m.messages[pk] = msg
	return nil
}

type recordingSender struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *recordingSender) Send(ctx context.Context, creds model.ChannelCredentialItem, conv model.ConversationItem, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "wamid.out.1", nil
}

func setupCallbackTestHandler(t *testing.T) (http.Handler, *integrationMemoryRepo, *outboundMemoryRepo, *recordingSender) {
	t.Helper()

	integrationRepo := newIntegrationMemoryRepo()
	outboundRepo := newOutboundMemoryRepo()
	sender := &recordingSender{}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	integrationSvc := integrationservice.NewWithDeps(integrationRepo, stubProvisioner{}, audit.Nop{}, notify.Nop{}, "https://hooks.example.com", func() time.Time { return now })
	outboundSvc := outboundservice.NewWithDeps(
		outboundRepo,
		map[model.Channel]outboundservice.Sender{model.ChannelWhatsApp: sender},
		notify.Nop{},
		audit.Nop{},
		func() time.Time { return now },
	)

	queueManager := queue.NewRequestQueueManager(10, 1)
	server := api.NewAPIServer(":0", queueManager, nil, nil, nil)

	callbackEndpoints := NewCallbackEndpointsWithSecrets(integrationSvc, outboundSvc, "wf-secret", "gw-secret")
	mux := http.NewServeMux()
	mux.HandleFunc("/hooks/v1/callbacks/workflow", server.MakeHTTPHandleFunc(callbackEndpoints.WorkflowCallback))
	mux.HandleFunc("/hooks/v1/callbacks/channel-state", server.MakeHTTPHandleFunc(callbackEndpoints.ChannelStateCallback))

	t.Cleanup(queueManager.Shutdown)

	return mux, integrationRepo, outboundRepo, sender
}

func seedOpenConversation(repo *outboundMemoryRepo) model.ConversationItem {
	conv := model.ConversationItem{
		PK:              model.ConversationPK("tenant-1", "conv-1"),
		ConversationID:  "conv-1",
		TenantID:        "tenant-1",
		ContactID:       "contact-1",
		Channel:         model.ChannelWhatsApp,
		ChannelThreadID: "15550001111",
		Status:          model.ConversationStatusOpen,
	}
	repo.conversations[conv.PK] = conv
	return conv
}

func TestWorkflowCallbackRejectsBadSecret(t *testing.T) {
	handler, _, outboundRepo, sender := setupCallbackTestHandler(t)
	seedOpenConversation(outboundRepo)

	payload := dto.WorkflowCallbackRequest{
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Content:        "generated reply",
	}
	body, _ := json.Marshal(payload)

	for _, secret := range []string{"", "not-the-secret"} {
		req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/workflow", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Workflow-Secret", secret)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: expected status 401, got %d", secret, rec.Code)
		}
	}
	if sender.calls != 0 {
		t.Fatalf("expected no delivery attempts, got %d", sender.calls)
	}
}

func TestWorkflowCallbackRequiresFields(t *testing.T) {
	handler, _, _, _ := setupCallbackTestHandler(t)

	payload := dto.WorkflowCallbackRequest{
		TenantID: "tenant-1",
		Content:  "reply without a conversation",
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/workflow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workflow-Secret", "wf-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestWorkflowCallbackUnknownConversation(t *testing.T) {
	handler, _, _, _ := setupCallbackTestHandler(t)

	payload := dto.WorkflowCallbackRequest{
		TenantID:       "tenant-1",
		ConversationID: "conv-missing",
		Content:        "reply",
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/workflow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workflow-Secret", "wf-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestWorkflowCallbackDeliversAIReply(t *testing.T) {
	handler, _, outboundRepo, sender := setupCallbackTestHandler(t)
	conv := seedOpenConversation(outboundRepo)
	outboundRepo.credentials[model.ChannelPK(conv.TenantID, conv.Channel)] = model.ChannelCredentialItem{
		PK:                model.ChannelPK(conv.TenantID, conv.Channel),
		TenantID:          conv.TenantID,
		Channel:           conv.Channel,
		GatewayURL:        "http://gateway.internal",
		ExternalSessionID: "session-1",
	}

	payload := dto.WorkflowCallbackRequest{
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Content:        "generated reply",
		AutomationID:   "auto-1",
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/workflow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workflow-Secret", "wf-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp dto.SendMessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MessageID == "" {
		t.Fatal("expected message id")
	}
	if resp.ChannelMessageID != "wamid.out.1" {
		t.Fatalf("expected provider message id correlated, got %q", resp.ChannelMessageID)
	}
	if resp.Status != string(model.MessageStatusSent) {
		t.Fatalf("expected status sent, got %q", resp.Status)
	}
	if sender.calls != 1 {
		t.Fatalf("expected 1 delivery attempt, got %d", sender.calls)
	}

	msg := outboundRepo.messages[model.MessagePK(conv.ConversationID, resp.MessageID)]
	if msg.SenderType != model.SenderAI {
		t.Fatalf("expected ai sender type, got %q", msg.SenderType)
	}
	if msg.Direction != model.DirectionOutbound {
		t.Fatalf("expected outbound direction, got %q", msg.Direction)
	}
}

func TestChannelStateCallbackRejectsBadSecret(t *testing.T) {
	handler, _, _, _ := setupCallbackTestHandler(t)

	payload := dto.ChannelStateCallbackRequest{
		Event:             "disconnected",
		ExternalSessionID: "session-1",
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/channel-state", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestChannelStateCallbackRequiresFields(t *testing.T) {
	handler, _, _, _ := setupCallbackTestHandler(t)

	payload := dto.ChannelStateCallbackRequest{Event: "disconnected"}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/channel-state", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", "gw-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestChannelStateCallbackAppliesEvent(t *testing.T) {
	handler, integrationRepo, _, _ := setupCallbackTestHandler(t)
	item := seedConnectedIntegration(integrationRepo)

	payload := dto.ChannelStateCallbackRequest{
		Event:             "error",
		ExternalSessionID: "session-1",
		Payload:           map[string]string{"message": "session evicted"},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/v1/callbacks/channel-state", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", "gw-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	updated := integrationRepo.integrations[item.PK]
	if updated.Status != model.IntegrationStatusError {
		t.Fatalf("expected error status, got %s", updated.Status)
	}
	if updated.LastError != "session evicted" {
		t.Fatalf("expected last error recorded, got %q", updated.LastError)
	}
}
