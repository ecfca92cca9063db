package handler

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/api/response"
	"github.com/camfinder/camfinder/internal/entitlement"
	"github.com/camfinder/camfinder/internal/report"
	"github.com/camfinder/camfinder/internal/worker"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sweeper runs an expiry sweep pass on demand.
type Sweeper interface {
	Run(ctx context.Context) *worker.SweepResult
	MetricsSnapshot() map[string]interface{}
}

// AdminHandler handles the operator console endpoints.
type AdminHandler struct {
	service *entitlement.Service
	sweeper Sweeper
}

// NewAdminHandler creates a new AdminHandler. sweeper may be nil when this
// process does not run sweeps.
func NewAdminHandler(service *entitlement.Service, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{service: service, sweeper: sweeper}
}

type listQuery struct {
	Limit int `json:"limit" validate:"gte=0,lte=10000"`
}

type claimsQuery struct {
	Admission string `json:"admission" validate:"omitempty,oneof=pending approved rejected"`
}

type seqParam struct {
	Seq int `json:"seq" validate:"gte=1"`
}

// ListDevices handles GET /v1/admin/devices.
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	q, ok := parseListQuery(w, r)
	if !ok {
		return
	}

	devices, err := h.service.List(r.Context(), q.Limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	now := h.service.Now()
	list := models.DeviceList{
		Devices: make([]models.AdminDevice, 0, len(devices)),
		Meta:    models.ListMeta{Count: len(devices), Limit: q.Limit},
	}
	for _, d := range devices {
		list.Devices = append(list.Devices, models.NewAdminDevice(d, now, false))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// ExportDevices handles GET /v1/admin/devices/export.xlsx.
func (h *AdminHandler) ExportDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.List(r.Context(), 0)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	now := h.service.Now()
	var buf bytes.Buffer
	if err := report.WriteDevices(&buf, devices, now); err != nil {
		response.FromError(w, r, err)
		return
	}

	response.Attachment(w, r, xlsxContentType, "devices-"+now.UTC().Format("20060102-150405")+".xlsx", buf.Bytes())
}

// GetDevice handles GET /v1/admin/devices/{deviceId}.
func (h *AdminHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Get(r.Context(), id)
	h.writeDevice(w, r, d, err)
}

// DeleteDevice handles DELETE /v1/admin/devices/{deviceId}.
func (h *AdminHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		response.FromError(w, r, err)
		return
	}
	h.audit(r, "delete", id).Msg("operator deleted device")
	response.NoContent(w, r)
}

// Grant handles POST /v1/admin/devices/{deviceId}/grant.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var req models.GrantRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		d   *entitlement.Device
		err error
	)
	if req.Unbounded {
		d, err = h.service.GrantUnbounded(r.Context(), id)
	} else {
		d, err = h.service.Grant(r.Context(), id, req.Days)
	}
	if err == nil {
		h.audit(r, "grant", id).Int("days", req.Days).Bool("unbounded", req.Unbounded).Msg("operator granted subscription")
	}
	h.writeDevice(w, r, d, err)
}

// Revoke handles POST /v1/admin/devices/{deviceId}/revoke.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Revoke(r.Context(), id)
	if err == nil {
		h.audit(r, "revoke", id).Msg("operator revoked subscription")
	}
	h.writeDevice(w, r, d, err)
}

// SetDeveloperMode handles PUT /v1/admin/devices/{deviceId}/developer-mode.
func (h *AdminHandler) SetDeveloperMode(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var req models.DeveloperModeRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := h.service.SetDeveloperMode(r.Context(), id, *req.Enabled)
	if err == nil {
		h.audit(r, "developer_mode", id).Bool("enabled", *req.Enabled).Msg("operator set developer mode")
	}
	h.writeDevice(w, r, d, err)
}

// SetFreeUses handles PUT /v1/admin/devices/{deviceId}/free-uses.
func (h *AdminHandler) SetFreeUses(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var req models.FreeUsesRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := h.service.ResetFree(r.Context(), id, *req.Value)
	if err == nil {
		h.audit(r, "free_uses", id).Int("value", *req.Value).Msg("operator reset free uses")
	}
	h.writeDevice(w, r, d, err)
}

// ListDeviceClaims handles GET /v1/admin/devices/{deviceId}/claims.
func (h *AdminHandler) ListDeviceClaims(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	ledger, err := h.service.ListClaims(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	list := models.ClaimList{Claims: make([]models.DeviceClaim, 0, len(ledger))}
	for _, c := range ledger {
		list.Claims = append(list.Claims, models.DeviceClaim{DeviceID: id, Claim: models.NewClaim(c)})
	}
	list.Meta.Count = len(list.Claims)
	response.JSON(w, r, http.StatusOK, list)
}

// ClearDeviceClaims handles DELETE /v1/admin/devices/{deviceId}/claims.
func (h *AdminHandler) ClearDeviceClaims(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	d, err := h.service.ClearClaims(r.Context(), id)
	if err == nil {
		h.audit(r, "clear_claims", id).Msg("operator cleared claims")
	}
	h.writeDevice(w, r, d, err)
}

// SetClaimAdmission handles PUT /v1/admin/devices/{deviceId}/claims/{seq}.
func (h *AdminHandler) SetClaimAdmission(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		response.BadRequest(w, r, "seq must be an integer", nil)
		return
	}
	if !check(w, r, &seqParam{Seq: seq}) {
		return
	}

	var req models.ClaimAdmissionRequest
	if !decode(w, r, &req) {
		return
	}

	claim, d, err := h.service.SetClaimAdmission(r.Context(), id, seq, entitlement.AdmissionStatus(req.Admission), req.Grant)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	h.audit(r, "claim_admission", id).
		Int("seq", seq).
		Str("admission", req.Admission).
		Bool("grant", req.Grant).
		Msg("operator decided claim")

	response.JSON(w, r, http.StatusOK, models.ClaimDecision{
		Claim:  models.NewClaim(claim),
		Device: models.NewAdminDevice(d, h.service.Now(), false),
	})
}

// ListClaims handles GET /v1/admin/claims?admission=.
func (h *AdminHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	q := claimsQuery{Admission: r.URL.Query().Get("admission")}
	if !check(w, r, &q) {
		return
	}

	claims, err := h.service.ListAllClaims(r.Context(), entitlement.AdmissionStatus(q.Admission))
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	list := models.ClaimList{Claims: make([]models.DeviceClaim, 0, len(claims))}
	for _, c := range claims {
		list.Claims = append(list.Claims, models.DeviceClaim{DeviceID: c.DeviceID, Claim: models.NewClaim(c.Claim)})
	}
	list.Meta.Count = len(list.Claims)
	response.JSON(w, r, http.StatusOK, list)
}

// Sweep handles POST /v1/admin/sweep - run one expiry pass now. A pass that
// was skipped or failed still answers 200; the body carries the outcome.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		response.ServiceUnavailable(w, r, "expiry sweeper is not running in this process")
		return
	}

	res := h.sweeper.Run(r.Context())
	h.audit(r, "sweep", "").
		Bool("skipped", res.Skipped).
		Int("expired", res.Expired).
		Msg("operator triggered sweep")

	response.JSON(w, r, http.StatusOK, models.NewSweepResult(res.Skipped, res.Scanned, res.Expired, res.Failed, res.Duration, res.Err))
}

func (h *AdminHandler) writeDevice(w http.ResponseWriter, r *http.Request, d *entitlement.Device, err error) {
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewAdminDevice(d, h.service.Now(), true))
}

// audit starts an operator action log line on the request logger.
func (h *AdminHandler) audit(r *http.Request, action, id string) *zerolog.Event {
	event := zerolog.Ctx(r.Context()).Info().
		Str("operator", middleware.GetOperator(r.Context())).
		Str("action", action)
	if id != "" {
		event = event.Str("device_id", id)
	}
	return event
}

func parseListQuery(w http.ResponseWriter, r *http.Request) (listQuery, bool) {
	var q listQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(w, r, "limit must be an integer", nil)
			return q, false
		}
		q.Limit = limit
	}
	return q, check(w, r, &q)
}
