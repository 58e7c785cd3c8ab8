package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"omnicrm-backend/internal/audit"
	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/model"
	"omnicrm-backend/internal/retry"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation_error"
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

// DispatchSummary aggregates the fan-out after every task has finished.
type DispatchSummary struct {
	Triggered int `json:"triggered"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

const defaultMaxParallel = 8

type Service struct {
	repo        Repository
	client      *http.Client
	policy      retry.Policy
	recorder    audit.Recorder
	maxParallel int
	now         func() time.Time
}

func New(db *database.Database) *Service {
	return &Service{
		repo:        NewDynamoRepository(db),
		client:      &http.Client{Timeout: 10 * time.Second},
		policy:      retry.Default(),
		recorder:    audit.NewDynamoRecorder(db),
		maxParallel: defaultMaxParallel,
		now:         time.Now,
	}
}

func NewWithDeps(repo Repository, client *http.Client, policy retry.Policy, recorder audit.Recorder, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        repo,
		client:      client,
		policy:      policy,
		recorder:    recorder,
		maxParallel: defaultMaxParallel,
		now:         now,
	}
}

// Trigger loads the tenant's automations for the event and dispatches each
// eligible one concurrently, waiting for all of them. Automations are
// independent: one failing or hanging never blocks a sibling, and the caller
// gets the aggregate counts only after every task settles.
func (s *Service) Trigger(ctx context.Context, tenantID, triggerEvent string, payload map[string]interface{}) (DispatchSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	triggerEvent = strings.TrimSpace(triggerEvent)
	if tenantID == "" || triggerEvent == "" {
		return DispatchSummary{}, newError(ErrorCodeValidation, "tenantId and triggerEvent are required", nil)
	}

	automations, err := s.repo.ListByTrigger(ctx, tenantID, triggerEvent)
	if err != nil {
		return DispatchSummary{}, newError(ErrorCodeInternal, "failed to load automations", err)
	}

	eligible := automations[:0:0]
	for _, automation := range automations {
		if automation.Eligible() {
			eligible = append(eligible, automation)
		}
	}
	if len(eligible) == 0 {
		return DispatchSummary{}, nil
	}

	results := make([]bool, len(eligible))
	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup
	for i, automation := range eligible {
		wg.Add(1)
		go func(i int, automation model.AutomationItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.dispatchOne(ctx, automation, triggerEvent, payload)
		}(i, automation)
	}
	wg.Wait()

	summary := DispatchSummary{Total: len(eligible)}
	for _, ok := range results {
		if ok {
			summary.Triggered++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// Logs returns the dispatch history for one automation, newest first.
func (s *Service) Logs(ctx context.Context, tenantID, automationID string) ([]model.AutomationLogItem, error) {
	tenantID = strings.TrimSpace(tenantID)
	automationID = strings.TrimSpace(automationID)
	if tenantID == "" || automationID == "" {
		return nil, newError(ErrorCodeValidation, "tenantId and automationId are required", nil)
	}
	logs, err := s.repo.ListLogs(ctx, tenantID, automationID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to load automation logs", err)
	}
	return logs, nil
}

// dispatchOne runs one automation to its terminal outcome and records exactly
// one log row plus one counter increment, whatever the retry sequence looked
// like. Returns true on success.
func (s *Service) dispatchOne(ctx context.Context, automation model.AutomationItem, triggerEvent string, payload map[string]interface{}) bool {
	startedAt := s.now().UTC()
	var dispatchErr error
	if automation.WebhookURL == "" {
		dispatchErr = fmt.Errorf("automation %s has no webhook url", automation.AutomationID)
	} else {
		dispatchErr = s.post(ctx, automation, triggerEvent, payload)
	}
	completedAt := s.now().UTC()
	dispatchDuration.Observe(completedAt.Sub(startedAt).Seconds())

	status := model.AutomationLogSuccess
	errorMessage := ""
	if dispatchErr != nil {
		status = model.AutomationLogError
		errorMessage = dispatchErr.Error()
		dispatchesTotal.WithLabelValues("error").Inc()
	} else {
		dispatchesTotal.WithLabelValues("success").Inc()
	}

	snapshot, err := json.Marshal(payload)
	if err != nil {
		snapshot = []byte("{}")
	}

	logID := uuid.NewString()
	logItem := model.AutomationLogItem{
		PK:              model.TenantScopedPK(automation.TenantID, logID),
		LogID:           logID,
		TenantID:        automation.TenantID,
		AutomationID:    automation.AutomationID,
		TriggerEvent:    triggerEvent,
		PayloadSnapshot: string(snapshot),
		Status:          status,
		ErrorMessage:    errorMessage,
		StartedAt:       startedAt.Format(time.RFC3339),
		CompletedAt:     completedAt.Format(time.RFC3339),
	}
	if err := s.repo.AppendLog(ctx, logItem); err != nil {
		log.Printf("automation: append log for %s failed: %v", automation.AutomationID, err)
	}
	if err := s.repo.RecordOutcome(ctx, automation.TenantID, automation.AutomationID, dispatchErr == nil, completedAt.Format(time.RFC3339)); err != nil {
		log.Printf("automation: counter update for %s failed: %v", automation.AutomationID, err)
	}

	s.auditDispatch(ctx, automation, triggerEvent, status, errorMessage)
	return dispatchErr == nil
}

func (s *Service) post(ctx context.Context, automation model.AutomationItem, triggerEvent string, payload map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"triggerEvent": triggerEvent,
		"tenantId":     automation.TenantID,
		"automationId": automation.AutomationID,
		"payload":      payload,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}

	return s.policy.Do(ctx, func(ctx context.Context) (int, error) {
		dispatchAttempts.Inc()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, automation.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("dispatch to %s: %w", automation.WebhookURL, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, fmt.Errorf("dispatch to %s: status %d", automation.WebhookURL, resp.StatusCode)
		}
		return resp.StatusCode, nil
	})
}

func (s *Service) auditDispatch(ctx context.Context, automation model.AutomationItem, triggerEvent string, status model.AutomationLogStatus, errorMessage string) {
	detail := map[string]string{
		"triggerEvent": triggerEvent,
		"status":       string(status),
	}
	if errorMessage != "" {
		detail["error"] = errorMessage
	}
	err := s.recorder.Record(ctx, audit.Event{
		TenantID: automation.TenantID,
		Kind:     audit.KindAutomationDispatch,
		Subject:  automation.AutomationID,
		Detail:   detail,
	})
	if err != nil {
		log.Printf("automation: audit record failed: %v", err)
	}
}
