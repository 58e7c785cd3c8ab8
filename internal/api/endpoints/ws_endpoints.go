package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	iternal_jwt "omnicrm-backend/internal/jwt"
	"omnicrm-backend/internal/websocket"
)

type WSEndpoints interface {
	Notifications(http.ResponseWriter, *http.Request) error
}

type wsEndpoints struct {
	handler *websocket.Handler
}

func NewWSEndpoints(handler *websocket.Handler) WSEndpoints {
	return &wsEndpoints{handler: handler}
}

// Notifications upgrades a UI client onto its tenant's room. Browsers cannot
// set headers on websocket dials, so the bearer token rides in the query.
func (h *wsEndpoints) Notifications(w http.ResponseWriter, r *http.Request) error {
	if h.handler == nil {
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Websocket not available",
			ErrorLog:   fmt.Errorf("websocket handler missing"),
		}
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Missing token",
			ErrorLog:   fmt.Errorf("notifications websocket missing token"),
		}
	}

	claims, err := iternal_jwt.ParseToken(token, iternal_jwt.RoleUser)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("notifications websocket token: %w", err),
		}
	}

	tenantID, _ := claims["tenantId"].(string)
	userID, _ := claims["id"].(string)
	if tenantID == "" || userID == "" {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("notifications websocket token missing claims"),
		}
	}

	h.handler.EnsureTenantRoom(tenantID)
	h.handler.JoinTenantRoom(w, r, tenantID, userID)
	return nil
}
