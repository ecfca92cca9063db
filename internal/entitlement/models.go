// Package entitlement tracks per-device access: free uses, time-boxed
// subscriptions, developer mode, and the payment claims that operators
// adjudicate.
package entitlement

import (
	"fmt"
	"time"
)

// DefaultInitialFree is the number of free uses a new device starts with.
const DefaultInitialFree = 3

// AdmissionStatus is the operator decision on a payment claim.
type AdmissionStatus string

const (
	AdmissionPending  AdmissionStatus = "pending"
	AdmissionApproved AdmissionStatus = "approved"
	AdmissionRejected AdmissionStatus = "rejected"
)

// Valid reports whether s is a known admission status.
func (s AdmissionStatus) Valid() bool {
	switch s {
	case AdmissionPending, AdmissionApproved, AdmissionRejected:
		return true
	default:
		return false
	}
}

// ClaimKind distinguishes ordinary payment claims from promo unlocks.
type ClaimKind string

const (
	ClaimKindPayment ClaimKind = "payment"
	ClaimKindPromo   ClaimKind = "promo"
)

// Price is a whole-unit amount in a currency such as USDT.
type Price struct {
	Amount   int64  `json:"amount" mapstructure:"amount"`
	Currency string `json:"currency" mapstructure:"currency"`
}

// String formats the price for display.
func (p Price) String() string {
	return fmt.Sprintf("%d %s", p.Amount, p.Currency)
}

// Subscription is the stored paid-access window.
// Active with a nil ExpiresAt means unbounded.
type Subscription struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Device is the entitlement record for one client-identified device.
type Device struct {
	ID            string       `json:"device_id"`
	FreeRemaining int          `json:"free_remaining"`
	Subscription  Subscription `json:"subscription"`
	DeveloperMode bool         `json:"developer_mode"`
	CreatedAt     time.Time    `json:"created_at"`
	LastSeenAt    time.Time    `json:"last_seen_at"`
	Claims        Ledger       `json:"claims"`

	// ClaimSeq is the last sequence number handed to a claim. It survives
	// ClearClaims so sequence numbers are never reused.
	ClaimSeq int `json:"claim_seq"`

	// Version is bumped by every successful compare-and-swap.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	c := *d
	if d.Subscription.ExpiresAt != nil {
		exp := *d.Subscription.ExpiresAt
		c.Subscription.ExpiresAt = &exp
	}
	c.Claims = d.Claims.clone()
	return &c
}

// Claim is one submitted assertion of payment.
type Claim struct {
	Seq          int             `json:"seq"`
	Kind         ClaimKind       `json:"kind"`
	TX           string          `json:"tx"`
	Comment      string          `json:"comment"`
	Plan         string          `json:"plan,omitempty"`
	DurationDays int             `json:"duration_days,omitempty"`
	Price        *Price          `json:"price,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Admission    AdmissionStatus `json:"admission"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
}

// ClaimInput is what a client submits.
type ClaimInput struct {
	TX      string
	Comment string
	Plan    string
}

// Status is the externally visible entitlement state, derived at a point in time.
type Status struct {
	DeviceID      string
	Active        bool
	ExpiresAt     *time.Time
	FreeRemaining int
	Locked        bool
	DeveloperMode bool
}

// Plan is a catalog entry.
type Plan struct {
	ID           string `json:"id" mapstructure:"id"`
	DurationDays int    `json:"duration_days" mapstructure:"duration_days"`
	Price        Price  `json:"price" mapstructure:"price"`
}

// Catalog is the read-only plan table plus payment destinations.
type Catalog struct {
	Plans   []Plan            `json:"plans"`
	Wallets map[string]string `json:"wallets"`
}

// Lookup finds a plan by id.
func (c Catalog) Lookup(planID string) (Plan, bool) {
	for _, p := range c.Plans {
		if p.ID == planID {
			return p, true
		}
	}
	return Plan{}, false
}

// DefaultCatalog returns the built-in plan table used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		Plans: []Plan{
			{ID: "3 дня", DurationDays: 3, Price: Price{Amount: 150, Currency: "USDT"}},
			{ID: "7 дней", DurationDays: 7, Price: Price{Amount: 300, Currency: "USDT"}},
			{ID: "30 дней", DurationDays: 30, Price: Price{Amount: 1000, Currency: "USDT"}},
		},
		Wallets: map[string]string{},
	}
}

// ListOptions controls repository listing.
type ListOptions struct {
	// Limit caps the number of devices returned. Zero means no limit.
	Limit int

	// ExpiredAt, when set, restricts the result to devices whose stored
	// subscription is active, not in developer mode, and expired at that instant.
	ExpiredAt *time.Time
}
