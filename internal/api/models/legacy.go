package models

// LegacyDeviceRequest is the body of the /api/register_device route.
type LegacyDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
}

// LegacyConsumeRequest is the body of /api/update_free_count.
type LegacyConsumeRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
	Consumed int    `json:"consumed" validate:"lte=1000"`
}

// LegacyClaimRequest is the body of /api/verify_payment.
type LegacyClaimRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
	TX       string `json:"tx" validate:"required_without=Comment,max=256"`
	Comment  string `json:"comment" validate:"required_without=TX,max=1024"`
	Plan     string `json:"plan" validate:"max=64"`
}

// LegacyStatus carries the canonical status plus the field names older
// clients read.
type LegacyStatus struct {
	OK bool `json:"ok"`
	DeviceStatus
	FreeLeft int  `json:"free_left"`
	DevMode  bool `json:"dev_mode"`
}

// NewLegacyStatus wraps a status for the legacy routes.
func NewLegacyStatus(st DeviceStatus) LegacyStatus {
	return LegacyStatus{
		OK:           true,
		DeviceStatus: st,
		FreeLeft:     st.FreeRemaining,
		DevMode:      st.DeveloperMode,
	}
}

// LegacyClaimResponse is returned by /api/verify_payment.
type LegacyClaimResponse struct {
	OK        bool         `json:"ok"`
	Duplicate bool         `json:"duplicate"`
	Claim     Claim        `json:"claim"`
	Device    LegacyStatus `json:"device"`
}

// LegacyPrice is one entry of the legacy price table.
type LegacyPrice struct {
	Days     int    `json:"days"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// LegacyConfig is the body of /api/config.
type LegacyConfig struct {
	OK      bool                   `json:"ok"`
	Prices  map[string]LegacyPrice `json:"prices"`
	Wallets map[string]string      `json:"wallets"`
}

// NewLegacyConfig converts a catalog to the legacy price table.
func NewLegacyConfig(c Catalog) LegacyConfig {
	out := LegacyConfig{OK: true, Prices: make(map[string]LegacyPrice, len(c.Plans)), Wallets: c.Wallets}
	for _, p := range c.Plans {
		out.Prices[p.ID] = LegacyPrice{Days: p.DurationDays, Amount: p.Price.Amount, Currency: p.Price.Currency}
	}
	return out
}
