package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/api/response"
	"github.com/camfinder/camfinder/internal/entitlement"
)

// deviceParam is the {deviceId} path parameter.
type deviceParam struct {
	DeviceID string `json:"deviceId" validate:"required,max=128"`
}

// deviceID reads and validates the {deviceId} path parameter.
func deviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := deviceParam{DeviceID: chi.URLParam(r, "deviceId")}
	if !check(w, r, &p) {
		return "", false
	}
	return p.DeviceID, true
}

// DeviceHandler handles the client device endpoints.
type DeviceHandler struct {
	service *entitlement.Service
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(service *entitlement.Service) *DeviceHandler {
	return &DeviceHandler{service: service}
}

// Register handles POST /v1/devices - register a device or touch a known one.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.service.Register(r.Context(), req.DeviceID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.Created(w, r, "/v1/devices/"+url.PathEscape(req.DeviceID), models.NewDeviceStatus(st))
}

// Status handles GET /v1/devices/{deviceId} - current entitlement status.
func (h *DeviceHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	st, err := h.service.Status(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewDeviceStatus(st))
}

// Consume handles POST /v1/devices/{deviceId}/consume - burn free uses.
func (h *DeviceHandler) Consume(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var req models.ConsumeRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.service.ConsumeFree(r.Context(), id, req.Count)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewDeviceStatus(st))
}

// SubmitClaim handles POST /v1/devices/{deviceId}/claims - record a payment claim.
// A new claim answers 201, a repeated tx answers 200 with duplicate set.
func (h *DeviceHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var req models.SubmitClaimRequest
	if !decode(w, r, &req) {
		return
	}

	res, st, err := h.service.SubmitClaim(r.Context(), id, entitlement.ClaimInput{
		TX:      req.TX,
		Comment: req.Comment,
		Plan:    req.Plan,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	body := models.ClaimResponse{
		Claim:     models.NewClaim(res.Claim),
		Duplicate: res.Duplicate,
		Status:    models.NewDeviceStatus(st),
	}
	if res.Duplicate {
		response.JSON(w, r, http.StatusOK, body)
		return
	}
	response.JSON(w, r, http.StatusCreated, body)
}

// Catalog handles GET /v1/catalog - plans and payment wallets.
func (h *DeviceHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewCatalog(h.service.Catalog()))
}
