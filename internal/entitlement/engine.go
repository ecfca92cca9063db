package entitlement

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
)

// DeriveStatus computes the externally visible status of d at now.
// Developer mode dominates the stored subscription.
func DeriveStatus(d *Device, now time.Time) Status {
	st := Status{
		DeviceID:      d.ID,
		FreeRemaining: d.FreeRemaining,
		DeveloperMode: d.DeveloperMode,
	}

	switch {
	case d.DeveloperMode:
		st.Active = true
	case d.Subscription.Active:
		// A passed expiry is still reported until the sweeper clears it.
		exp := d.Subscription.ExpiresAt
		if exp != nil {
			e := *exp
			st.ExpiresAt = &e
		}
		st.Active = exp == nil || exp.After(now)
	}

	st.Locked = !st.Active && st.FreeRemaining == 0
	return st
}

// NewDevice builds the record for a device seen for the first time.
func NewDevice(id string, initialFree int, now time.Time) (*Device, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if initialFree < 0 {
		initialFree = 0
	}

	return &Device{
		ID:            id,
		FreeRemaining: initialFree,
		CreatedAt:     now,
		LastSeenAt:    now,
		Claims:        Ledger{},
	}, nil
}

// Touch records a client interaction.
func Touch(d *Device, now time.Time) {
	d.LastSeenAt = now
}

// ConsumeFree burns count free uses unless the device is active at now.
// A count below one is treated as one, and the balance floors at zero.
func ConsumeFree(d *Device, now time.Time, count int) Status {
	if count < 1 {
		count = 1
	}

	if !DeriveStatus(d, now).Active {
		d.FreeRemaining -= count
		if d.FreeRemaining < 0 {
			d.FreeRemaining = 0
		}
	}

	return DeriveStatus(d, now)
}

// Grant activates a subscription that ends days after now. It replaces any
// earlier expiry rather than extending it.
func Grant(d *Device, now time.Time, days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: grant days must be positive, got %d", ErrInvalidArgument, days)
	}

	exp := now.Add(time.Duration(days) * 24 * time.Hour)
	d.Subscription = Subscription{Active: true, ExpiresAt: &exp}
	return nil
}

// GrantUnbounded activates a subscription without an expiry.
func GrantUnbounded(d *Device) {
	d.Subscription = Subscription{Active: true}
}

// Revoke clears the subscription. Free uses and developer mode are untouched.
func Revoke(d *Device) {
	d.Subscription = Subscription{}
}

// SetDeveloperMode toggles the developer override. Enabling it also stores an
// unbounded subscription; disabling leaves the subscription as it is.
func SetDeveloperMode(d *Device, enabled bool) {
	d.DeveloperMode = enabled
	if enabled {
		GrantUnbounded(d)
	}
}

// ResetFree sets the free-use balance.
func ResetFree(d *Device, value int) error {
	if value < 0 {
		return fmt.Errorf("%w: free uses must be non-negative, got %d", ErrInvalidArgument, value)
	}
	d.FreeRemaining = value
	return nil
}

// Expire clears a subscription whose stored expiry has passed. It reports
// whether anything changed; unbounded, inactive and developer-mode records
// are left alone.
func Expire(d *Device, now time.Time) bool {
	if !IsExpired(d, now) {
		return false
	}
	Revoke(d)
	return true
}

// IsExpired reports whether the sweeper should clear d at now.
func IsExpired(d *Device, now time.Time) bool {
	if d.DeveloperMode || !d.Subscription.Active || d.Subscription.ExpiresAt == nil {
		return false
	}
	return !d.Subscription.ExpiresAt.After(now)
}

// ClaimResult describes the outcome of SubmitClaim.
type ClaimResult struct {
	Claim Claim

	// Duplicate is set when the tx was already on file and nothing was appended.
	Duplicate bool

	// Unlocked is set when the claim carried the promo code.
	Unlocked bool
}

// SubmitClaim validates input and appends it to the device's ledger as a
// pending claim. A comment equal to unlockCode is recorded as an approved
// promo claim and turns on developer mode. An empty unlockCode disables
// that path.
func SubmitClaim(d *Device, in ClaimInput, catalog Catalog, unlockCode string, now time.Time) (ClaimResult, error) {
	if err := validateID(d.ID); err != nil {
		return ClaimResult{}, err
	}

	in.TX = strings.TrimSpace(in.TX)
	in.Comment = strings.TrimSpace(in.Comment)
	in.Plan = strings.TrimSpace(in.Plan)
	if in.TX == "" && in.Comment == "" {
		return ClaimResult{}, fmt.Errorf("%w: tx or comment is required", ErrInvalidArgument)
	}

	if unlockCode != "" && subtle.ConstantTimeCompare([]byte(in.Comment), []byte(unlockCode)) == 1 {
		decided := now
		c := AppendClaim(d, Claim{
			Kind:        ClaimKindPromo,
			TX:          in.TX,
			SubmittedAt: now,
			Admission:   AdmissionApproved,
			DecidedAt:   &decided,
		})
		SetDeveloperMode(d, true)
		return ClaimResult{Claim: c, Unlocked: true}, nil
	}

	claim := Claim{
		Kind:        ClaimKindPayment,
		TX:          in.TX,
		Comment:     in.Comment,
		SubmittedAt: now,
		Admission:   AdmissionPending,
	}

	if in.Plan != "" {
		plan, ok := catalog.Lookup(in.Plan)
		if !ok {
			return ClaimResult{}, fmt.Errorf("%w: %q", ErrInvalidPlan, in.Plan)
		}
		price := plan.Price
		claim.Plan = plan.ID
		claim.DurationDays = plan.DurationDays
		claim.Price = &price
	}

	if in.TX != "" {
		if existing, ok := d.Claims.FindTX(in.TX); ok {
			return ClaimResult{Claim: existing, Duplicate: true}, nil
		}
	}

	return ClaimResult{Claim: AppendClaim(d, claim)}, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidArgument)
	}
	return nil
}
