package models

import (
	"github.com/camfinder/camfinder/internal/entitlement"
)

// RegisterDeviceRequest is the body of POST /v1/devices.
type RegisterDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
}

// ConsumeRequest is the body of POST /v1/devices/{deviceId}/consume.
// A missing or non-positive count consumes one use.
type ConsumeRequest struct {
	Count int `json:"count" validate:"lte=1000"`
}

// SubmitClaimRequest is the body of POST /v1/devices/{deviceId}/claims.
type SubmitClaimRequest struct {
	TX      string `json:"tx" validate:"required_without=Comment,max=256"`
	Comment string `json:"comment" validate:"required_without=TX,max=1024"`
	Plan    string `json:"plan" validate:"max=64"`
}

// DeviceStatus is the externally visible entitlement state.
type DeviceStatus struct {
	DeviceID      string     `json:"device_id"`
	Active        bool       `json:"active"`
	ExpiresAt     *Timestamp `json:"expires_at"`
	FreeRemaining int        `json:"free_remaining"`
	Locked        bool       `json:"locked"`
	DeveloperMode bool       `json:"developer_mode"`
}

// NewDeviceStatus converts an entitlement status.
func NewDeviceStatus(st entitlement.Status) DeviceStatus {
	return DeviceStatus{
		DeviceID:      st.DeviceID,
		Active:        st.Active,
		ExpiresAt:     NewTimestamp(st.ExpiresAt),
		FreeRemaining: st.FreeRemaining,
		Locked:        st.Locked,
		DeveloperMode: st.DeveloperMode,
	}
}

// Price is a plan price.
type Price struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Claim is a payment claim as shown to clients and operators.
type Claim struct {
	Seq          int        `json:"seq"`
	Kind         string     `json:"kind"`
	TX           string     `json:"tx,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	Plan         string     `json:"plan,omitempty"`
	DurationDays int        `json:"duration_days,omitempty"`
	Price        *Price     `json:"price,omitempty"`
	SubmittedAt  Timestamp  `json:"submitted_at"`
	Admission    string     `json:"admission"`
	DecidedAt    *Timestamp `json:"decided_at,omitempty"`
}

// NewClaim converts a ledger claim.
func NewClaim(c entitlement.Claim) Claim {
	out := Claim{
		Seq:          c.Seq,
		Kind:         string(c.Kind),
		TX:           c.TX,
		Comment:      c.Comment,
		Plan:         c.Plan,
		DurationDays: c.DurationDays,
		SubmittedAt:  Timestamp(c.SubmittedAt),
		Admission:    string(c.Admission),
		DecidedAt:    NewTimestamp(c.DecidedAt),
	}
	if c.Price != nil {
		out.Price = &Price{Amount: c.Price.Amount, Currency: c.Price.Currency}
	}
	return out
}

// NewClaims converts a ledger.
func NewClaims(l entitlement.Ledger) []Claim {
	out := make([]Claim, 0, len(l))
	for _, c := range l {
		out = append(out, NewClaim(c))
	}
	return out
}

// ClaimResponse is returned when a claim is submitted.
type ClaimResponse struct {
	Claim     Claim        `json:"claim"`
	Duplicate bool         `json:"duplicate"`
	Status    DeviceStatus `json:"status"`
}

// Plan is a catalog entry.
type Plan struct {
	ID           string `json:"id"`
	DurationDays int    `json:"duration_days"`
	Price        Price  `json:"price"`
}

// Catalog is the body of GET /v1/catalog.
type Catalog struct {
	Plans   []Plan            `json:"plans"`
	Wallets map[string]string `json:"wallets"`
}

// NewCatalog converts an entitlement catalog.
func NewCatalog(c entitlement.Catalog) Catalog {
	out := Catalog{Plans: make([]Plan, 0, len(c.Plans)), Wallets: c.Wallets}
	if out.Wallets == nil {
		out.Wallets = map[string]string{}
	}
	for _, p := range c.Plans {
		out.Plans = append(out.Plans, Plan{
			ID:           p.ID,
			DurationDays: p.DurationDays,
			Price:        Price{Amount: p.Price.Amount, Currency: p.Price.Currency},
		})
	}
	return out
}
