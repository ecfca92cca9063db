package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/auth"
)

type staticValidator struct {
	subject string
}

func (v staticValidator) ValidateToken(token string) (string, error) {
	switch token {
	case "good":
		return v.subject, nil
	case "expired":
		return "", auth.ErrTokenExpired
	default:
		return "", auth.ErrInvalidToken
	}
}

func TestRequireOperator(t *testing.T) {
	var subject string
	handler := middleware.RequireOperator(staticValidator{subject: "operator"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = middleware.GetOperator(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantDetail string
	}{
		{"valid", "Bearer good", http.StatusOK, ""},
		{"case insensitive scheme", "bearer good", http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"just bearer", "Bearer", http.StatusUnauthorized, "missing or malformed bearer token"},
		{"invalid", "Bearer nope", http.StatusUnauthorized, "invalid operator token"},
		{"expired", "Bearer expired", http.StatusUnauthorized, "operator token has expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/devices", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "operator", subject)
				return
			}
			assert.Empty(t, subject)
			assert.Contains(t, rec.Body.String(), tt.wantDetail)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestRequireOperator_NilValidatorFailsClosed(t *testing.T) {
	called := false
	handler := middleware.RequireOperator(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/devices", http.NoBody)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestGetOperator_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetOperator(req.Context()))
}
