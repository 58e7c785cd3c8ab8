package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/dto"
	automationservice "omnicrm-backend/internal/service/automation"
)

type AutomationEndpoints interface {
	Events(http.ResponseWriter, *http.Request) error
	Automations(http.ResponseWriter, *http.Request) error
}

type automationEndpoints struct {
	service *automationservice.Service
	prefix  string
}

func NewAutomationEndpoints(service *automationservice.Service, prefix string) AutomationEndpoints {
	return &automationEndpoints{
		service: service,
		prefix:  strings.TrimRight(prefix, "/") + "/automations/",
	}
}

// Events triggers the tenant's automations for a business event and waits
// for the whole fan-out, returning the aggregate counts.
func (h *automationEndpoints) Events(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleTriggerEvent,
	})
}

// Automations routes GET {prefix}/automations/{id}/logs.
func (h *automationEndpoints) Automations(w http.ResponseWriter, r *http.Request) error {
	rest := strings.TrimPrefix(r.URL.Path, h.prefix)
	if rest == r.URL.Path {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("automation path outside prefix: %s", r.URL.Path),
		}
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "logs" {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unexpected automation path: %s", r.URL.Path),
		}
	}
	automationID := parts[0]

	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleLogs(w, r, automationID)
		},
	})
}

func (h *automationEndpoints) handleTriggerEvent(w http.ResponseWriter, r *http.Request) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}

	var req dto.TriggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode trigger event request: %w", err),
		}
	}

	summary, err := h.service.Trigger(r.Context(), tenantID, req.TriggerEvent, req.Payload)
	if err != nil {
		return h.serviceError(err)
	}

	return api.WriteJSON(w, http.StatusOK, dto.TriggerEventResponse{
		Triggered: summary.Triggered,
		Failed:    summary.Failed,
		Total:     summary.Total,
	})
}

func (h *automationEndpoints) handleLogs(w http.ResponseWriter, r *http.Request, automationID string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}

	logs, err := h.service.Logs(r.Context(), tenantID, automationID)
	if err != nil {
		return h.serviceError(err)
	}

	out := make([]dto.AutomationLogResponse, 0, len(logs))
	for _, logItem := range logs {
		out = append(out, dto.AutomationLogResponse{
			LogID:           logItem.LogID,
			AutomationID:    logItem.AutomationID,
			TriggerEvent:    logItem.TriggerEvent,
			PayloadSnapshot: logItem.PayloadSnapshot,
			Status:          string(logItem.Status),
			ErrorMessage:    logItem.ErrorMessage,
			StartedAt:       logItem.StartedAt,
			CompletedAt:     logItem.CompletedAt,
		})
	}
	return api.WriteJSON(w, http.StatusOK, out)
}

func (h *automationEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*automationservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("automation service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case automationservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
