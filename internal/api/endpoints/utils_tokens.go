package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	iternal_jwt "omnicrm-backend/internal/jwt"
)

func ExtractTokenFromHeaders(r *http.Request) string {
	header := r.Header.Get("Authorization")

	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return ""
	}

	return tokenString
}

// TenantFromRequest resolves the caller's tenant from the bearer token. Every
// authenticated endpoint scopes its operations by this value, never by a
// tenant id in the request body.
func TenantFromRequest(r *http.Request) (string, error) {
	tokenString := ExtractTokenFromHeaders(r)
	if tokenString == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	claims, err := iternal_jwt.ParseToken(tokenString, iternal_jwt.RoleUser)
	if err != nil {
		return "", err
	}

	tenantID, _ := claims["tenantId"].(string)
	if tenantID == "" {
		return "", fmt.Errorf("token carries no tenant claim")
	}
	return tenantID, nil
}
