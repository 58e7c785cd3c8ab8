package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/dto"
	"omnicrm-backend/internal/model"
	integrationservice "omnicrm-backend/internal/service/integration"
)

type IntegrationEndpoints interface {
	Integrations(http.ResponseWriter, *http.Request) error
}

type integrationEndpoints struct {
	service *integrationservice.Service
	prefix  string
}

func NewIntegrationEndpoints(service *integrationservice.Service, prefix string) IntegrationEndpoints {
	return &integrationEndpoints{
		service: service,
		prefix:  strings.TrimRight(prefix, "/") + "/integrations/",
	}
}

// Integrations routes the channel-integration actions:
//
//	POST {prefix}/integrations/{channel}/connect
//	PUT  {prefix}/integrations/{channel}/credentials
//	POST {prefix}/integrations/{id}/disconnect
//	GET  {prefix}/integrations/{id}/status
func (h *integrationEndpoints) Integrations(w http.ResponseWriter, r *http.Request) error {
	rest := strings.TrimPrefix(r.URL.Path, h.prefix)
	if rest == r.URL.Path {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("integration path outside prefix: %s", r.URL.Path),
		}
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unexpected integration path: %s", r.URL.Path),
		}
	}
	subject, action := parts[0], parts[1]

	switch action {
	case "connect":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleConnect(w, r, subject)
			},
		})
	case "credentials":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPut: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleSetCredentials(w, r, subject)
			},
		})
	case "disconnect":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleDisconnect(w, r, subject)
			},
		})
	case "status":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleStatus(w, r, subject)
			},
		})
	}
	return &HTTPError{
		StatusCode: http.StatusNotFound,
		Message:    "Not found",
		ErrorLog:   fmt.Errorf("unknown integration action: %s", action),
	}
}

func (h *integrationEndpoints) handleConnect(w http.ResponseWriter, r *http.Request, channelName string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}
	channel, err := model.ParseChannel(channelName)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Unsupported channel",
			ErrorLog:   err,
		}
	}

	result, err := h.service.Connect(r.Context(), tenantID, channel)
	if err != nil {
		return h.serviceError(err)
	}

	return api.WriteJSON(w, http.StatusCreated, dto.ConnectIntegrationResponse{
		IntegrationID: result.IntegrationID,
		QRPayload:     result.QRPayload,
		WebhookURL:    result.WebhookURL,
	})
}

func (h *integrationEndpoints) handleSetCredentials(w http.ResponseWriter, r *http.Request, channelName string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}
	channel, err := model.ParseChannel(channelName)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Unsupported channel",
			ErrorLog:   err,
		}
	}

	var req dto.SetCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode credentials request: %w", err),
		}
	}

	err = h.service.SetCredentials(r.Context(), tenantID, channel, integrationservice.SetCredentialsParams{
		BotToken:     strings.TrimSpace(req.BotToken),
		VerifySecret: strings.TrimSpace(req.VerifySecret),
	})
	if err != nil {
		return h.serviceError(err)
	}
	return api.WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "Credentials updated"})
}

func (h *integrationEndpoints) handleDisconnect(w http.ResponseWriter, r *http.Request, integrationID string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}

	if err := h.service.Disconnect(r.Context(), tenantID, integrationID); err != nil {
		return h.serviceError(err)
	}
	return api.WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "Integration disconnected"})
}

func (h *integrationEndpoints) handleStatus(w http.ResponseWriter, r *http.Request, integrationID string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}

	status, err := h.service.CheckStatus(r.Context(), tenantID, integrationID)
	if err != nil {
		return h.serviceError(err)
	}
	return api.WriteJSON(w, http.StatusOK, dto.IntegrationStatusResponse{
		IntegrationID: integrationID,
		Status:        string(status),
	})
}

func (h *integrationEndpoints) serviceError(err error) error {
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
	case integrationservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case integrationservice.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	case integrationservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case integrationservice.ErrorCodeTransient:
		return &HTTPError{StatusCode: http.StatusBadGateway, Message: svcErr.Message, ErrorLog: logErr}
	case integrationservice.ErrorCodeTerminal:
		return &HTTPError{StatusCode: http.StatusBadGateway, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func unauthorized(err error) error {
	return &HTTPError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Unauthorized",
		ErrorLog:   err,
	}
}
