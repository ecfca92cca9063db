package entitlement

import "context"

// Repository defines the interface for device persistence.
// Implementations store a device and its claims as one atomic unit.
type Repository interface {
	// Get retrieves a device by ID.
	Get(ctx context.Context, id string) (*Device, error)

	// Create inserts d if no device with its ID exists. It returns the stored
	// record, which is the existing one when created is false.
	Create(ctx context.Context, d *Device) (stored *Device, created bool, err error)

	// CompareAndSwap replaces the stored device if its version still equals
	// expectedVersion. The stored version becomes expectedVersion+1.
	CompareAndSwap(ctx context.Context, d *Device, expectedVersion int64) error

	// Delete removes a device and its claims.
	Delete(ctx context.Context, id string) error

	// List returns devices ordered by creation time.
	List(ctx context.Context, opts ListOptions) ([]*Device, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
