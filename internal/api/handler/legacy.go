package handler

import (
	"net/http"

	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/api/response"
	"github.com/camfinder/camfinder/internal/entitlement"
)

// LegacyHandler serves the /api routes released clients still call. Each
// route maps onto the same service operation as its /v1 counterpart.
type LegacyHandler struct {
	service *entitlement.Service
}

// NewLegacyHandler creates a new LegacyHandler.
func NewLegacyHandler(service *entitlement.Service) *LegacyHandler {
	return &LegacyHandler{service: service}
}

// RegisterDevice handles POST /api/register_device.
func (h *LegacyHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req models.LegacyDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.service.Register(r.Context(), req.DeviceID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewLegacyStatus(models.NewDeviceStatus(st)))
}

// DeviceStatus handles GET /api/device_status?device_id=.
func (h *LegacyHandler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	req := models.LegacyDeviceRequest{DeviceID: r.URL.Query().Get("device_id")}
	if !check(w, r, &req) {
		return
	}

	st, err := h.service.Status(r.Context(), req.DeviceID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewLegacyStatus(models.NewDeviceStatus(st)))
}

// UpdateFreeCount handles POST /api/update_free_count.
func (h *LegacyHandler) UpdateFreeCount(w http.ResponseWriter, r *http.Request) {
	var req models.LegacyConsumeRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.service.ConsumeFree(r.Context(), req.DeviceID, req.Consumed)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewLegacyStatus(models.NewDeviceStatus(st)))
}

// VerifyPayment handles POST /api/verify_payment. Despite the name it only
// records a claim; approval stays with the operator.
func (h *LegacyHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req models.LegacyClaimRequest
	if !decode(w, r, &req) {
		return
	}

	res, st, err := h.service.SubmitClaim(r.Context(), req.DeviceID, entitlement.ClaimInput{
		TX:      req.TX,
		Comment: req.Comment,
		Plan:    req.Plan,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.LegacyClaimResponse{
		OK:        true,
		Duplicate: res.Duplicate,
		Claim:     models.NewClaim(res.Claim),
		Device:    models.NewLegacyStatus(models.NewDeviceStatus(st)),
	})
}

// Config handles GET /api/config.
func (h *LegacyHandler) Config(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewLegacyConfig(models.NewCatalog(h.service.Catalog())))
}
