package entitlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It backs tests and STORE_BACKEND=memory; FileRepository builds on it.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{devices: make(map[string]*Device)}
}

// Get retrieves a device by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// Create inserts d unless a device with the same ID exists.
func (r *InMemoryRepository) Create(_ context.Context, d *Device) (*Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, created := r.create(d)
	return stored.Clone(), created, nil
}

func (r *InMemoryRepository) create(d *Device) (*Device, bool) {
	if existing, ok := r.devices[d.ID]; ok {
		return existing, false
	}
	c := d.Clone()
	c.Version = 1
	r.devices[c.ID] = c
	return c, true
}

// CompareAndSwap replaces the stored device if the version matches.
func (r *InMemoryRepository) CompareAndSwap(_ context.Context, d *Device, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.prepareSwap(d, expectedVersion)
	if err != nil {
		return err
	}
	r.devices[next.ID] = next
	d.Version = next.Version
	return nil
}

func (r *InMemoryRepository) prepareSwap(d *Device, expectedVersion int64) (*Device, error) {
	cur, ok := r.devices[d.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, fmt.Errorf("%w: device %s at version %d, expected %d", ErrConflict, d.ID, cur.Version, expectedVersion)
	}
	next := d.Clone()
	next.Version = expectedVersion + 1
	return next, nil
}

// Delete removes a device.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

// List returns devices ordered by creation time, then ID.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if opts.ExpiredAt != nil && !IsExpired(d, *opts.ExpiredAt) {
			continue
		}
		items = append(items, d.Clone())
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(context.Context) error {
	return nil
}

// snapshot returns a copy of the device map. Stored devices are replaced,
// never modified in place, so the values are shared. Callers hold r.mu and
// must not mutate the values.
func (r *InMemoryRepository) snapshot() map[string]*Device {
	out := make(map[string]*Device, len(r.devices))
	for id, d := range r.devices {
		out[id] = d
	}
	return out
}
