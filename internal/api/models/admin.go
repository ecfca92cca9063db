package models

import (
	"time"

	"github.com/camfinder/camfinder/internal/entitlement"
)

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

// GrantRequest grants either a number of days or an unbounded subscription.
// Days must be positive unless Unbounded is set.
type GrantRequest struct {
	Days      int  `json:"days" validate:"gte=0,lte=3650"`
	Unbounded bool `json:"unbounded"`
}

// DeveloperModeRequest toggles developer mode.
type DeveloperModeRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// FreeUsesRequest sets the free-use balance.
type FreeUsesRequest struct {
	Value *int `json:"value" validate:"required,gte=0"`
}

// ClaimAdmissionRequest records the operator decision on a claim.
type ClaimAdmissionRequest struct {
	Admission string `json:"admission" validate:"required,oneof=pending approved rejected"`

	// Grant applies the claim's captured duration when approving.
	Grant bool `json:"grant"`
}

// Subscription is the stored paid-access window.
type Subscription struct {
	Active    bool       `json:"active"`
	ExpiresAt *Timestamp `json:"expires_at"`
}

// AdminDevice is a device row in the operator console.
type AdminDevice struct {
	DeviceID      string       `json:"device_id"`
	Status        DeviceStatus `json:"status"`
	FreeRemaining int          `json:"free_remaining"`
	Subscription  Subscription `json:"subscription"`
	DeveloperMode bool         `json:"developer_mode"`
	CreatedAt     Timestamp    `json:"created_at"`
	LastSeenAt    Timestamp    `json:"last_seen_at"`
	PendingClaims int          `json:"pending_claims"`
	Claims        []Claim      `json:"claims,omitempty"`
}

// NewAdminDevice converts a device, deriving its status at now. Claims are
// included only when withClaims is set.
func NewAdminDevice(d *entitlement.Device, now time.Time, withClaims bool) AdminDevice {
	out := AdminDevice{
		DeviceID:      d.ID,
		Status:        NewDeviceStatus(entitlement.DeriveStatus(d, now)),
		FreeRemaining: d.FreeRemaining,
		Subscription: Subscription{
			Active:    d.Subscription.Active,
			ExpiresAt: NewTimestamp(d.Subscription.ExpiresAt),
		},
		DeveloperMode: d.DeveloperMode,
		CreatedAt:     Timestamp(d.CreatedAt),
		LastSeenAt:    Timestamp(d.LastSeenAt),
		PendingClaims: len(d.Claims.Filter(entitlement.AdmissionPending)),
	}
	if withClaims {
		out.Claims = NewClaims(d.Claims)
	}
	return out
}

// DeviceList is the body of GET /v1/admin/devices.
type DeviceList struct {
	Devices []AdminDevice `json:"devices"`
	Meta    ListMeta      `json:"meta"`
}

// DeviceClaim is a claim in the cross-device listing.
type DeviceClaim struct {
	DeviceID string `json:"device_id"`
	Claim
}

// ClaimList is the body of the claim listings.
type ClaimList struct {
	Claims []DeviceClaim `json:"claims"`
	Meta   ListMeta      `json:"meta"`
}

// SweepResult is the body of POST /v1/admin/sweep.
type SweepResult struct {
	Skipped  bool    `json:"skipped"`
	Scanned  int     `json:"scanned"`
	Expired  int     `json:"expired"`
	Failed   int     `json:"failed"`
	Duration string  `json:"duration"`
	Error    *string `json:"error,omitempty"`
}

// ClaimDecision is the body returned after an admission change.
type ClaimDecision struct {
	Claim  Claim       `json:"claim"`
	Device AdminDevice `json:"device"`
}

// NewSweepResult converts a sweep pass result.
func NewSweepResult(skipped bool, scanned, expired, failed int, duration time.Duration, err error) SweepResult {
	out := SweepResult{
		Skipped:  skipped,
		Scanned:  scanned,
		Expired:  expired,
		Failed:   failed,
		Duration: duration.String(),
	}
	if err != nil {
		msg := err.Error()
		out.Error = &msg
	}
	return out
}
