package automation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omnicrm-backend/internal/audit"
	"omnicrm-backend/internal/model"
	"omnicrm-backend/internal/retry"
)

type memoryRepository struct {
	mu          sync.Mutex
	automations map[string]model.AutomationItem
	logs        []model.AutomationLogItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{automations: make(map[string]model.AutomationItem)}
}

func (m *memoryRepository) seed(automation model.AutomationItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	automation.PK = model.TenantScopedPK(automation.TenantID, automation.AutomationID)
	m.automations[automation.PK] = automation
}

func (m *memoryRepository) ListByTrigger(ctx context.Context, tenantID, triggerEvent string) ([]model.AutomationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AutomationItem
	for _, automation := range m.automations {
		if automation.TenantID == tenantID && automation.TriggerEvent == triggerEvent {
			out = append(out, automation)
		}
	}
	return out, nil
}

func (m *memoryRepository) AppendLog(ctx context.Context, logItem model.AutomationLogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logItem)
	return nil
}

func (m *memoryRepository) ListLogs(ctx context.Context, tenantID, automationID string) ([]model.AutomationLogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AutomationLogItem
	for _, logItem := range m.logs {
		if logItem.TenantID == tenantID && logItem.AutomationID == automationID {
			out = append(out, logItem)
		}
	}
	return out, nil
}

func (m *memoryRepository) RecordOutcome(ctx context.Context, tenantID, automationID string, success bool, executedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.TenantScopedPK(tenantID, automationID)
	automation, ok := m.automations[pk]
	if !ok {
		return ErrNotFound
	}
	if success {
		automation.ExecutionCount++
	} else {
		automation.ErrorCount++
	}
	automation.LastExecutedAt = executedAt
	m.automations[pk] = automation
	return nil
}

func (m *memoryRepository) get(tenantID, automationID string) model.AutomationItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.automations[model.TenantScopedPK(tenantID, automationID)]
}

func (m *memoryRepository) logsFor(automationID string) []model.AutomationLogItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AutomationLogItem
	for _, logItem := range m.logs {
		if logItem.AutomationID == automationID {
			out = append(out, logItem)
		}
	}
	return out
}

func newTestService(repo Repository) *Service {
	policy := retry.Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		RetryableStatus: retry.ServerErrors,
	}
	return NewWithDeps(repo, &http.Client{Timeout: 5 * time.Second}, policy, audit.Nop{}, nil)
}

func activeAutomation(id, tenantID, webhookURL string) model.AutomationItem {
	return model.AutomationItem{
		AutomationID: id,
		TenantID:     tenantID,
		TriggerEvent: "new_message",
		WebhookURL:   webhookURL,
		IsActive:     true,
	}
}

func TestTriggerNoMatchesIsZeroCountSuccess(t *testing.T) {
	service := newTestService(newMemoryRepository())

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 0 || summary.Triggered != 0 || summary.Failed != 0 {
		t.Errorf("expected zero-count summary, got %+v", summary)
	}
}

func TestTriggerRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-1", "tenant-1", server.URL))
	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", map[string]interface{}{"conversationId": "conv-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Triggered != 1 || summary.Failed != 0 {
		t.Errorf("expected 1 success, got %+v", summary)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	logs := repo.logsFor("auto-1")
	if len(logs) != 1 {
		t.Fatalf("expected exactly 1 log row, got %d", len(logs))
	}
	if logs[0].Status != model.AutomationLogSuccess {
		t.Errorf("expected status %q, got %q", model.AutomationLogSuccess, logs[0].Status)
	}

	automation := repo.get("tenant-1", "auto-1")
	if automation.ExecutionCount != 1 {
		t.Errorf("expected executionCount 1, got %d", automation.ExecutionCount)
	}
	if automation.ErrorCount != 0 {
		t.Errorf("expected errorCount 0, got %d", automation.ErrorCount)
	}
	if automation.LastExecutedAt == "" {
		t.Error("expected lastExecutedAt to be set")
	}
}

func TestTriggerDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-1", "tenant-1", server.URL))
	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", summary)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}

	logs := repo.logsFor("auto-1")
	if len(logs) != 1 {
		t.Fatalf("expected exactly 1 log row, got %d", len(logs))
	}
	if logs[0].Status != model.AutomationLogError {
		t.Errorf("expected status %q, got %q", model.AutomationLogError, logs[0].Status)
	}
	if logs[0].ErrorMessage == "" {
		t.Error("expected an error message on the log row")
	}

	automation := repo.get("tenant-1", "auto-1")
	if automation.ErrorCount != 1 || automation.ExecutionCount != 0 {
		t.Errorf("expected errorCount 1 / executionCount 0, got %d/%d", automation.ErrorCount, automation.ExecutionCount)
	}
}

func TestTriggerExhaustedRetriesWriteOneLogRow(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-1", "tenant-1", server.URL))
	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", summary)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(repo.logsFor("auto-1")) != 1 {
		t.Errorf("retries must collapse into a single log row, got %d", len(repo.logsFor("auto-1")))
	}
}

func TestTriggerSkipsPausedAndInactiveAutomations(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-active", "tenant-1", server.URL))
	paused := activeAutomation("auto-paused", "tenant-1", server.URL)
	paused.IsPaused = true
	repo.seed(paused)
	inactive := activeAutomation("auto-inactive", "tenant-1", server.URL)
	inactive.IsActive = false
	repo.seed(inactive)

	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 1 || summary.Triggered != 1 {
		t.Errorf("expected only the active automation dispatched, got %+v", summary)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 webhook call, got %d", got)
	}

	pausedAfter := repo.get("tenant-1", "auto-paused")
	if pausedAfter.ExecutionCount != 0 || pausedAfter.ErrorCount != 0 {
		t.Errorf("paused automation counters must stay untouched, got %+v", pausedAfter)
	}
	if len(repo.logsFor("auto-paused")) != 0 {
		t.Error("paused automation must not produce log rows")
	}
}

func TestTriggerMissingWebhookURLIsTerminal(t *testing.T) {
	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-1", "tenant-1", ""))
	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", summary)
	}

	automation := repo.get("tenant-1", "auto-1")
	if automation.ErrorCount != 1 {
		t.Errorf("expected errorCount 1, got %d", automation.ErrorCount)
	}
}

func TestTriggerFanOutIsolatesAutomations(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer failServer.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-ok", "tenant-1", okServer.URL))
	repo.seed(activeAutomation("auto-fail", "tenant-1", failServer.URL))
	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 2 || summary.Triggered != 1 || summary.Failed != 1 {
		t.Errorf("expected 1 success and 1 failure, got %+v", summary)
	}

	if repo.get("tenant-1", "auto-ok").ExecutionCount != 1 {
		t.Error("the failing sibling must not affect the succeeding automation")
	}
}

func TestTriggerScopesByTenant(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-other", "tenant-2", server.URL))
	service := newTestService(repo)

	summary, err := service.Trigger(context.Background(), "tenant-1", "new_message", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("another tenant's automations must not match, got %+v", summary)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no webhook call expected")
	}
}

func TestLogsReturnsDispatchHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newMemoryRepository()
	repo.seed(activeAutomation("auto-1", "tenant-1", server.URL))
	service := newTestService(repo)

	if _, err := service.Trigger(context.Background(), "tenant-1", "new_message", map[string]interface{}{"k": "v"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logs, err := service.Logs(context.Background(), "tenant-1", "auto-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].PayloadSnapshot == "" {
		t.Error("expected a payload snapshot on the log row")
	}
}
