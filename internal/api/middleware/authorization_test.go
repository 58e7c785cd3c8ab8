package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	iternal_jwt "omnicrm-backend/internal/jwt"
)

func withUserSecret(t *testing.T) {
	t.Helper()
	prev := iternal_jwt.RoleSecrets[iternal_jwt.RoleUser]
	iternal_jwt.RoleSecrets[iternal_jwt.RoleUser] = "jwt-test-secret"
	t.Cleanup(func() {
		iternal_jwt.RoleSecrets[iternal_jwt.RoleUser] = prev
	})
}

func TestValidateJWTMiddlewareRejectsMalformedHeaders(t *testing.T) {
	withUserSecret(t)

	handler := ValidateUserJWT(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler must not run without a valid token")
	})

	for _, header := range []string{"", "abc", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		handler(recorder, req)

		if recorder.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status %d, got %d", header, http.StatusUnauthorized, recorder.Code)
		}
	}
}

func TestValidateJWTMiddlewareAcceptsValidToken(t *testing.T) {
	withUserSecret(t)

	token, err := iternal_jwt.CreateToken(iternal_jwt.User{
		Id:       "user-1",
		Email:    "user@example.com",
		TenantId: "tenant-1",
	}, iternal_jwt.RoleUser, time.Now().Add(time.Minute).Unix())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	called := false
	handler := ValidateUserJWT(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	handler(recorder, req)

	if !called {
		t.Fatal("inner handler was not invoked")
	}
	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
}
