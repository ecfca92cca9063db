// Package handler provides HTTP handlers for the camfinder API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/api/response"
)

// readyTimeout bounds the store ping behind the readiness check.
const readyTimeout = 2 * time.Second

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	store     Pinger
	sweeper   Sweeper
}

// NewOpsHandler creates a new OpsHandler. sweeper may be nil.
func NewOpsHandler(version, buildTime string, store Pinger, sweeper Sweeper) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		store:     store,
		sweeper:   sweeper,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check against the store.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	store := h.checkStore(r.Context())

	health := models.Health{
		Status: store.Status,
		Time:   models.Timestamp(time.Now()),
	}
	if store.Status != models.HealthStatusOK {
		health.Details = map[string]interface{}{"store": *store.Detail}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/admin/status - subsystem and sweeper status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	store := h.checkStore(r.Context())

	status := models.SystemStatus{
		Status:     store.Status,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{store},
	}
	if h.sweeper != nil {
		status.Sweeper = h.sweeper.MetricsSnapshot()
		if state, ok := status.Sweeper["breaker_state"].(string); ok && state != "closed" && status.Status == models.HealthStatusOK {
			status.Status = models.HealthStatusDegraded
		}
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) checkStore(ctx context.Context) models.SubsystemStatus {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		detail := err.Error()
		return models.SubsystemStatus{Name: "store", Status: models.HealthStatusFail, Detail: &detail}
	}
	return models.SubsystemStatus{Name: "store", Status: models.HealthStatusOK}
}
