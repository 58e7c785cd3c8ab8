package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/dto"
	"omnicrm-backend/internal/model"
	ingestservice "omnicrm-backend/internal/service/ingest"
	outboundservice "omnicrm-backend/internal/service/outbound"
)

type ConversationEndpoints interface {
	Conversations(http.ResponseWriter, *http.Request) error
}

type conversationEndpoints struct {
	ingest   *ingestservice.Service
	outbound *outboundservice.Service
	prefix   string
}

func NewConversationEndpoints(ingest *ingestservice.Service, outbound *outboundservice.Service, prefix string) ConversationEndpoints {
	return &conversationEndpoints{
		ingest:   ingest,
		outbound: outbound,
		prefix:   strings.TrimRight(prefix, "/") + "/conversations/",
	}
}

// Conversations routes the conversation actions:
//
//	POST {prefix}/conversations/{id}/messages
//	POST {prefix}/conversations/{id}/close
func (h *conversationEndpoints) Conversations(w http.ResponseWriter, r *http.Request) error {
	rest := strings.TrimPrefix(r.URL.Path, h.prefix)
	if rest == r.URL.Path {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("conversation path outside prefix: %s", r.URL.Path),
		}
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unexpected conversation path: %s", r.URL.Path),
		}
	}
	conversationID, action := parts[0], parts[1]

	switch action {
	case "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleSendMessage(w, r, conversationID)
			},
		})
	case "close":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleClose(w, r, conversationID)
			},
		})
	}
	return &HTTPError{
		StatusCode: http.StatusNotFound,
		Message:    "Not found",
		ErrorLog:   fmt.Errorf("unknown conversation action: %s", action),
	}
}

func (h *conversationEndpoints) handleSendMessage(w http.ResponseWriter, r *http.Request, conversationID string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}

	var req dto.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode send message request: %w", err),
		}
	}

	result, err := h.outbound.Send(r.Context(), tenantID, conversationID, outboundservice.SendParams{
		Content:    req.Content,
		SenderType: model.SenderType(req.SenderType),
	})
	if err != nil {
		return h.outboundError(err)
	}

	return api.WriteJSON(w, http.StatusCreated, dto.SendMessageResponse{
		MessageID:        result.MessageID,
		ChannelMessageID: result.ChannelMessageID,
		Status:           string(result.Status),
	})
}

func (h *conversationEndpoints) handleClose(w http.ResponseWriter, r *http.Request, conversationID string) error {
	tenantID, err := TenantFromRequest(r)
	if err != nil {
		return unauthorized(err)
	}

	if err := h.ingest.Close(r.Context(), tenantID, conversationID); err != nil {
		return h.ingestError(err)
	}
	return api.WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "Conversation closed"})
}

func (h *conversationEndpoints) outboundError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*outboundservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("outbound service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case outboundservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case outboundservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func (h *conversationEndpoints) ingestError(err error) error {
	if err == nil {
		return nil
	}

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
	case ingestservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
