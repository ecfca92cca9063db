// Package response writes API responses and maps service errors to problems.
package response

import (
	"context"
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/auth"
	"github.com/camfinder/camfinder/internal/entitlement"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Created writes a 201 response with a Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusCreated, data)
}

// NoContent writes a 204 response.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Attachment writes a file download.
func Attachment(w http.ResponseWriter, r *http.Request, contentType, filename string, body []byte) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Error writes a Problem+JSON response.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUnauthorized(middleware.GetRequestID(r.Context()), detail))
}

// ServiceUnavailable writes a 503 response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), detail))
}

// FromError maps a service error to its problem response. Unexpected errors
// are logged through the request logger and reported without detail.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := middleware.GetRequestID(r.Context())

	var p *models.Problem
	switch {
	case errors.Is(err, entitlement.ErrInvalidPlan):
		p = models.NewInvalidPlan(traceID, err.Error())
	case errors.Is(err, entitlement.ErrInvalidArgument):
		p = models.NewBadRequest(traceID, err.Error(), nil)
	case entitlement.IsNotFound(err):
		p = models.NewNotFound(traceID, err.Error())
	case errors.Is(err, entitlement.ErrClaimDecided):
		p = models.NewClaimDecided(traceID, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		p = models.NewUnauthorized(traceID, "invalid credentials")
	case errors.Is(err, auth.ErrTokenExpired):
		p = models.NewUnauthorized(traceID, "operator token has expired")
	case errors.Is(err, auth.ErrInvalidToken):
		p = models.NewUnauthorized(traceID, "invalid operator token")
	case errors.Is(err, entitlement.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("store unavailable")
		p = models.NewServiceUnavailable(traceID, "store temporarily unavailable, retry later")
		w.Header().Set("Retry-After", "1")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		p = models.NewInternalError(traceID, "an unexpected error occurred")
	}

	Error(w, r, p)
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
}
