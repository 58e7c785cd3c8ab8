package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/dto"
	ingestservice "omnicrm-backend/internal/service/ingest"
	integrationservice "omnicrm-backend/internal/service/integration"
)

type WebhookEndpoints interface {
	Channels(http.ResponseWriter, *http.Request) error
}

type webhookEndpoints struct {
	integration *integrationservice.Service
	ingest      *ingestservice.Service
	prefix      string
}

func NewWebhookEndpoints(integration *integrationservice.Service, ingest *ingestservice.Service, prefix string) WebhookEndpoints {
	return &webhookEndpoints{
		integration: integration,
		ingest:      ingest,
		prefix:      strings.TrimRight(prefix, "/") + "/channels/",
	}
}

// Channels is the public provider boundary:
//
//	GET  {prefix}/channels/{channel}/{webhookToken}   verification challenge
//	POST {prefix}/channels/{channel}/{webhookToken}   inbound message or state push
//
// The webhook token in the path authenticates the caller and resolves the
// tenant; nothing in the body is trusted for tenant identity.
func (h *webhookEndpoints) Channels(w http.ResponseWriter, r *http.Request) error {
	rest := strings.TrimPrefix(r.URL.Path, h.prefix)
	if rest == r.URL.Path {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("webhook path outside prefix: %s", r.URL.Path),
		}
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unexpected webhook path: %s", r.URL.Path),
		}
	}
	webhookToken := parts[1]

	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleChallenge(w, r, webhookToken)
		},
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleInbound(w, r, webhookToken)
		},
	})
}

func (h *webhookEndpoints) handleChallenge(w http.ResponseWriter, r *http.Request, webhookToken string) error {
	challenge := r.URL.Query().Get("hub.challenge")
	verifyToken := r.URL.Query().Get("hub.verify_token")
	if challenge == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Missing challenge",
			ErrorLog:   fmt.Errorf("webhook challenge without hub.challenge"),
		}
	}

	if err := h.integration.VerifyChallenge(r.Context(), webhookToken, verifyToken); err != nil {
		return h.integrationError(err)
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(challenge))
	return err
}

// handleInbound must ack the provider fast: the message is persisted
// synchronously, and automation dispatch runs detached on the worker pool, so
// a slow or failing workflow engine can never turn into a provider retry.
func (h *webhookEndpoints) handleInbound(w http.ResponseWriter, r *http.Request, webhookToken string) error {
	item, err := h.integration.ResolveWebhookToken(r.Context(), webhookToken)
	if err != nil {
		return h.integrationError(err)
	}

	var req dto.InboundWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode inbound webhook: %w", err),
		}
	}

	if req.Event != "" {
		if err := h.integration.ApplyExternalEvent(r.Context(), integrationservice.ExternalEvent{
			Event:             req.Event,
			ExternalSessionID: req.ExternalSessionID,
			Payload:           req.StatePayload,
		}); err != nil {
			return h.integrationError(err)
		}
		return api.WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "State applied"})
	}

	result, err := h.ingest.Ingest(r.Context(), item.TenantID, item.Channel, ingestservice.InboundMessage{
		FromAddress:       req.FromAddress,
		ToAddress:         req.ToAddress,
		Content:           req.Content,
		ProviderMessageID: req.ProviderMessageID,
		Timestamp:         req.Timestamp,
		MediaURL:          req.MediaURL,
		ContentType:       req.ContentType,
	})
	if err != nil {
		var svcErr *ingestservice.Error
		// Unknown senders are dropped with a 2xx ack: the provider would
		// otherwise redeliver a payload that can never resolve.
		if errors.As(err, &svcErr) && svcErr.Code == ingestservice.ErrorCodeUnknownContact {
			return api.WriteJSON(w, http.StatusOK, dto.InboundWebhookResponse{Ignored: true})
		}
		return h.ingestError(err)
	}

	return api.WriteJSON(w, http.StatusOK, dto.InboundWebhookResponse{
		ConversationID: result.ConversationID,
		MessageID:      result.MessageID,
		Duplicate:      result.Duplicate,
	})
}

func (h *webhookEndpoints) integrationError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*integrationservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("integration service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case integrationservice.ErrorCodeNotFound:
		// Unknown webhook tokens get a 401, not a 404: the path doubles as
		// the credential and we do not confirm which tokens exist.
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized", ErrorLog: logErr}
	case integrationservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: "Verification failed", ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func (h *webhookEndpoints) ingestError(err error) error {
	svcErr, ok := err.(*ingestservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("ingest service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case ingestservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	default:
		// Storage failures surface as 5xx so the provider retries delivery.
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
