package endpoints

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/dto"
	"omnicrm-backend/internal/env"
	"omnicrm-backend/internal/model"
	integrationservice "omnicrm-backend/internal/service/integration"
	outboundservice "omnicrm-backend/internal/service/outbound"
)

type CallbackEndpoints interface {
	WorkflowCallback(http.ResponseWriter, *http.Request) error
	ChannelStateCallback(http.ResponseWriter, *http.Request) error
}

type callbackEndpoints struct {
	integration    *integrationservice.Service
	outbound       *outboundservice.Service
	workflowSecret string
	gatewaySecret  string
}

func NewCallbackEndpoints(integration *integrationservice.Service, outbound *outboundservice.Service) CallbackEndpoints {
	return &callbackEndpoints{
		integration:    integration,
		outbound:       outbound,
		workflowSecret: env.Get(env.WorkflowCallbackSecret),
		gatewaySecret:  env.Get(env.GatewayCallbackSecret),
	}
}

func NewCallbackEndpointsWithSecrets(integration *integrationservice.Service, outbound *outboundservice.Service, workflowSecret, gatewaySecret string) CallbackEndpoints {
	return &callbackEndpoints{
		integration:    integration,
		outbound:       outbound,
		workflowSecret: workflowSecret,
		gatewaySecret:  gatewaySecret,
	}
}

// WorkflowCallback receives the workflow engine's response, typically an
// AI-generated reply for a conversation. The tenant id in the body is trusted
// only because the shared secret already authenticated the engine.
func (h *callbackEndpoints) WorkflowCallback(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleWorkflowCallback,
	})
}

func (h *callbackEndpoints) ChannelStateCallback(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleChannelStateCallback,
	})
}

func (h *callbackEndpoints) handleWorkflowCallback(w http.ResponseWriter, r *http.Request) error {
	if !secretMatches(r.Header.Get("X-Workflow-Secret"), h.workflowSecret) {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("workflow callback secret mismatch"),
		}
	}

	var req dto.WorkflowCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode workflow callback: %w", err),
		}
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ConversationID) == "" || strings.TrimSpace(req.Content) == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "tenantId, conversationId and content are required",
			ErrorLog:   fmt.Errorf("workflow callback missing required fields"),
		}
	}

	result, err := h.outbound.Send(r.Context(), req.TenantID, req.ConversationID, outboundservice.SendParams{
		Content:    req.Content,
		SenderType: model.SenderAI,
	})
	if err != nil {
		var svcErr *outboundservice.Error
		if errors.As(err, &svcErr) && svcErr.Code == outboundservice.ErrorCodeNotFound {
			return &HTTPError{
				StatusCode: http.StatusNotFound,
				Message:    "Conversation not found",
				ErrorLog:   fmt.Errorf("workflow callback: %w", err),
			}
		}
		if errors.As(err, &svcErr) && svcErr.Code == outboundservice.ErrorCodeValidation {
			return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: svcErr}
		}
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("workflow callback: %w", err),
		}
	}

	return api.WriteJSON(w, http.StatusOK, dto.SendMessageResponse{
		MessageID:        result.MessageID,
		ChannelMessageID: result.ChannelMessageID,
		Status:           string(result.Status),
	})
}

func (h *callbackEndpoints) handleChannelStateCallback(w http.ResponseWriter, r *http.Request) error {
	if !secretMatches(r.Header.Get("X-Gateway-Secret"), h.gatewaySecret) {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("channel-state callback secret mismatch"),
		}
	}

	var req dto.ChannelStateCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode channel-state callback: %w", err),
		}
	}
	if strings.TrimSpace(req.Event) == "" || strings.TrimSpace(req.ExternalSessionID) == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "event and externalSessionId are required",
			ErrorLog:   fmt.Errorf("channel-state callback missing required fields"),
		}
	}

	err := h.integration.ApplyExternalEvent(r.Context(), integrationservice.ExternalEvent{
		Event:             req.Event,
		ExternalSessionID: req.ExternalSessionID,
		Payload:           req.Payload,
	})
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("channel-state callback: %w", err),
		}
	}
	return api.WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "State applied"})
}

func secretMatches(provided, expected string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
