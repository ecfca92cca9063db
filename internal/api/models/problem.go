package models

import (
	"net/http"

	json "github.com/goccy/go-json"
)

// Problem is an RFC7807 error response, written as application/problem+json.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	Title  string `json:"title"`
	Status int    `json:"status"`

	// Detail explains this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is the request path.
	Instance string `json:"instance,omitempty"`

	// TraceID is the request ID, echoed in X-Request-Id.
	TraceID string `json:"traceId"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is a validation failure on one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types.
const (
	ProblemTypeValidation      = "https://camfinder.app/problems/validation-error"
	ProblemTypeInvalidPlan     = "https://camfinder.app/problems/invalid-plan"
	ProblemTypeUnauthorized    = "https://camfinder.app/problems/unauthorized"
	ProblemTypeForbidden       = "https://camfinder.app/problems/forbidden"
	ProblemTypeNotFound        = "https://camfinder.app/problems/not-found"
	ProblemTypeClaimDecided    = "https://camfinder.app/problems/claim-decided"
	ProblemTypeConflict        = "https://camfinder.app/problems/conflict"
	ProblemTypeKeyReused       = "https://camfinder.app/problems/idempotency-key-reused"
	ProblemTypeUnsupportedType = "https://camfinder.app/problems/unsupported-media-type"
	ProblemTypeTooManyRequests = "https://camfinder.app/problems/too-many-requests"
	ProblemTypeInternal        = "https://camfinder.app/problems/internal-error"
	ProblemTypeUnavailable     = "https://camfinder.app/problems/store-unavailable"
)

// NewProblem creates a new Problem.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail sets the detail message.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance sets the instance URI.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors sets the field errors.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write writes the Problem to w.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 validation problem.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID)
	p.Detail = detail
	p.Errors = errors
	return p
}

// NewInvalidPlan creates a 400 problem for a claim naming an unknown plan.
func NewInvalidPlan(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInvalidPlan, "Invalid plan", http.StatusBadRequest, traceID).WithDetail(detail)
}

// NewUnauthorized creates a 401 problem.
func NewUnauthorized(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized, traceID).WithDetail(detail)
}

// NewForbidden creates a 403 problem.
func NewForbidden(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeForbidden, "Forbidden", http.StatusForbidden, traceID).WithDetail(detail)
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID).WithDetail(detail)
}

// NewClaimDecided creates a 409 problem for a claim that already left pending.
func NewClaimDecided(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeClaimDecided, "Claim already decided", http.StatusConflict, traceID).WithDetail(detail)
}

// NewConflict creates a 409 problem.
func NewConflict(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeConflict, "Conflict", http.StatusConflict, traceID).WithDetail(detail)
}

// NewKeyReused creates a 422 problem for an Idempotency-Key sent again with another body.
func NewKeyReused(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeKeyReused, "Idempotency-Key reused", http.StatusUnprocessableEntity, traceID).WithDetail(detail)
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID).WithDetail(detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID).WithDetail(detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID).WithDetail(detail)
}
