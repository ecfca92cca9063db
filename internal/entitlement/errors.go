package entitlement

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrInvalidArgument  = errors.New("entitlement: invalid argument")
	ErrNotFound         = errors.New("entitlement: device not found")
	ErrClaimNotFound    = errors.New("entitlement: claim not found")
	ErrInvalidPlan      = errors.New("entitlement: unknown plan")
	ErrClaimDecided     = errors.New("entitlement: claim already decided")
	ErrStoreUnavailable = errors.New("entitlement: store unavailable")

	// ErrConflict is returned by CompareAndSwap when the stored version moved.
	ErrConflict = errors.New("entitlement: concurrent update")
)

// IsRetryable reports whether the operation can be retried against the store.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}

// IsNotFound reports whether err refers to a missing device or claim.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrClaimNotFound)
}
