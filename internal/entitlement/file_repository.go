package entitlement

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// snapshotVersion is written into every snapshot file.
const snapshotVersion = 1

type snapshot struct {
	Version int                `json:"version"`
	Devices map[string]*Device `json:"devices"`
}

// FileRepository is an InMemoryRepository whose every write is persisted as a
// zstd-compressed JSON snapshot before it becomes visible. A failed save
// leaves the in-memory state untouched.
//
// Each write rewrites the whole table under one lock, client touches
// included, so it suits a single node with a small device table. Larger or
// shared deployments use PostgresRepository.
type FileRepository struct {
	mem     *InMemoryRepository
	path    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  zerolog.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository loads the snapshot at path, if any, and returns a repository backed by it.
func NewFileRepository(path string, logger zerolog.Logger) (*FileRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: snapshot path is required", ErrInvalidArgument)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	r := &FileRepository{
		mem:     NewInMemoryRepository(),
		path:    path,
		encoder: encoder,
		decoder: decoder,
		logger:  logger.With().Str("component", "file_repository").Logger(),
	}

	if err := r.load(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the codec resources.
func (r *FileRepository) Close() {
	r.decoder.Close()
	_ = r.encoder.Close()
}

func (r *FileRepository) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info().Str("path", r.path).Msg("no snapshot found, starting empty")
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	raw, err := r.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	for id, d := range snap.Devices {
		if d == nil || d.ID != id {
			return fmt.Errorf("decode snapshot: device key %q does not match record", id)
		}
		if d.Claims == nil {
			d.Claims = Ledger{}
		}
		r.mem.devices[id] = d
	}

	r.logger.Info().Str("path", r.path).Int("devices", len(snap.Devices)).Msg("snapshot loaded")
	return nil
}

// save writes devices to a temp file and renames it over the snapshot.
func (r *FileRepository) save(devices map[string]*Device) error {
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, Devices: devices})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data := r.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := r.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, r.path)
}

// commit persists the state with id set to d (or removed when d is nil) and
// then applies it to memory. Callers hold r.mem.mu.
func (r *FileRepository) commit(id string, d *Device) error {
	next := r.mem.snapshot()
	if d == nil {
		delete(next, id)
	} else {
		next[id] = d
	}

	if err := r.save(next); err != nil {
		r.logger.Error().Err(err).Str("device_id", id).Msg("snapshot write failed")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if d == nil {
		delete(r.mem.devices, id)
	} else {
		r.mem.devices[id] = d.Clone()
	}
	return nil
}

// Get retrieves a device by ID.
func (r *FileRepository) Get(ctx context.Context, id string) (*Device, error) {
	return r.mem.Get(ctx, id)
}

// Create inserts d unless a device with the same ID exists.
func (r *FileRepository) Create(_ context.Context, d *Device) (*Device, bool, error) {
	r.mem.mu.Lock()
	defer r.mem.mu.Unlock()

	if existing, ok := r.mem.devices[d.ID]; ok {
		return existing.Clone(), false, nil
	}

	c := d.Clone()
	c.Version = 1
	if err := r.commit(c.ID, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// CompareAndSwap replaces the stored device if the version matches.
func (r *FileRepository) CompareAndSwap(_ context.Context, d *Device, expectedVersion int64) error {
	r.mem.mu.Lock()
	defer r.mem.mu.Unlock()

	next, err := r.mem.prepareSwap(d, expectedVersion)
	if err != nil {
		return err
	}
	if err := r.commit(next.ID, next); err != nil {
		return err
	}
	d.Version = next.Version
	return nil
}

// Delete removes a device.
func (r *FileRepository) Delete(_ context.Context, id string) error {
	r.mem.mu.Lock()
	defer r.mem.mu.Unlock()

	if _, ok := r.mem.devices[id]; !ok {
		return ErrNotFound
	}
	return r.commit(id, nil)
}

// List returns devices ordered by creation time.
func (r *FileRepository) List(ctx context.Context, opts ListOptions) ([]*Device, error) {
	return r.mem.List(ctx, opts)
}

// Ping checks that the snapshot directory is still present.
func (r *FileRepository) Ping(context.Context) error {
	dir := filepath.Dir(r.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStoreUnavailable, dir)
	}
	return nil
}
