package response_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/api/response"
	"github.com/camfinder/camfinder/internal/auth"
	"github.com/camfinder/camfinder/internal/entitlement"
)

// requestWithContext returns a request that has been through the RequestID middleware.
func requestWithContext(t *testing.T, method, path string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)

	var processedReq *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processedReq = r
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	return processedReq, httptest.NewRecorder()
}

func TestJSON_IncludesRequestID(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/test")

	response.JSON(rec, req, http.StatusOK, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"hello"}`, rec.Body.String())
}

func TestJSON_WithoutRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, nil)

	assert.Empty(t, rec.Header().Get("X-Request-Id"))
	assert.Zero(t, rec.Body.Len())
}

func TestCreated(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodPost, "/v1/devices")

	response.Created(rec, req, "/v1/devices/abc", map[string]string{"device_id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/v1/devices/abc", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestNoContent(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodDelete, "/test")

	response.NoContent(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Zero(t, rec.Body.Len())
}

func TestAttachment(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/export")

	response.Attachment(rec, req, "text/plain", "devices.txt", []byte("x"))

	assert.Equal(t, `attachment; filename="devices.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "x", rec.Body.String())
}

func TestBadRequest_IncludesTraceID(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodPost, "/v1/devices")

	response.BadRequest(rec, req, "invalid body", []models.FieldError{{Field: "device_id", Message: "is required"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, rec.Header().Get("X-Request-Id"), p.TraceID)
	assert.Equal(t, "/v1/devices", p.Instance)
	require.Len(t, p.Errors, 1)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"invalid argument", fmt.Errorf("%w: device_id is required", entitlement.ErrInvalidArgument), http.StatusBadRequest, models.ProblemTypeValidation},
		{"invalid plan", fmt.Errorf("%w: \"1 год\"", entitlement.ErrInvalidPlan), http.StatusBadRequest, models.ProblemTypeInvalidPlan},
		{"not found", entitlement.ErrNotFound, http.StatusNotFound, models.ProblemTypeNotFound},
		{"claim not found", entitlement.ErrClaimNotFound, http.StatusNotFound, models.ProblemTypeNotFound},
		{"claim decided", entitlement.ErrClaimDecided, http.StatusConflict, models.ProblemTypeClaimDecided},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, models.ProblemTypeUnauthorized},
		{"expired token", auth.ErrTokenExpired, http.StatusUnauthorized, models.ProblemTypeUnauthorized},
		{"store unavailable", fmt.Errorf("get: %w", entitlement.ErrStoreUnavailable), http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, models.ProblemTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := requestWithContext(t, http.MethodGet, "/v1/devices/x")

			response.FromError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.wantType, p.Type)
		})
	}
}

func TestFromError_HidesUnexpectedDetail(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/")

	response.FromError(rec, req, errors.New("password=secret"))

	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestFromError_StoreUnavailableSetsRetryAfter(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/")

	response.FromError(rec, req, entitlement.ErrStoreUnavailable)

	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
