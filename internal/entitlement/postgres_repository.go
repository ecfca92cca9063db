package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the device and claim tables.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
	id              TEXT PRIMARY KEY,
	free_remaining  BIGINT NOT NULL CHECK (free_remaining >= 0),
	sub_active      BOOLEAN NOT NULL DEFAULT FALSE,
	sub_expires_at  TIMESTAMPTZ,
	developer_mode  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL,
	claim_seq       INTEGER NOT NULL DEFAULT 0,
	version         BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS devices_expiry_idx
	ON devices (sub_expires_at)
	WHERE sub_active AND NOT developer_mode AND sub_expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS device_claims (
	device_id       TEXT NOT NULL REFERENCES devices (id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	tx              TEXT NOT NULL DEFAULT '',
	comment         TEXT NOT NULL DEFAULT '',
	plan            TEXT NOT NULL DEFAULT '',
	duration_days   INTEGER NOT NULL DEFAULT 0,
	price_amount    BIGINT,
	price_currency  TEXT,
	submitted_at    TIMESTAMPTZ NOT NULL,
	admission       TEXT NOT NULL,
	decided_at      TIMESTAMPTZ,
	PRIMARY KEY (device_id, seq)
);
`

const deviceColumns = `id, free_remaining, sub_active, sub_expires_at, developer_mode, created_at, last_seen_at, claim_seq, version`

const claimColumns = `device_id, seq, kind, tx, comment, plan, duration_days, price_amount, price_currency, submitted_at, admission, decided_at`

// readTxOptions gives reads of a device row and its claims one snapshot.
var readTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// PostgresRepository is a PostgreSQL implementation of Repository.
// Claims live in device_claims and are written in the same transaction as their device.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get retrieves a device and its claims by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Device, error) {
	var d *Device
	err := r.read(ctx, func(tx pgx.Tx) error {
		var err error
		d, err = scanDevice(tx.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return unavailable(err)
		}
		return loadClaims(ctx, tx, map[string]*Device{d.ID: d})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// read runs fn in a read-only repeatable-read transaction.
func (r *PostgresRepository) read(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return readError(pgx.BeginTxFunc(ctx, r.pool, readTxOptions, fn))
}

// readError passes store sentinels through and wraps anything else, such as
// a failed begin or commit, as unavailable.
func readError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return unavailable(err)
}

// Create inserts d unless a device with the same ID exists, and returns the stored row.
func (r *PostgresRepository) Create(ctx context.Context, d *Device) (*Device, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, unavailable(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	c := d.Clone()
	c.Version = 1

	tag, err := tx.Exec(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		c.ID, c.FreeRemaining, c.Subscription.Active, c.Subscription.ExpiresAt, c.DeveloperMode,
		c.CreatedAt, c.LastSeenAt, c.ClaimSeq, c.Version,
	)
	if err != nil {
		return nil, false, unavailable(err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the insert race; hand back the winner.
		if err := tx.Rollback(ctx); err != nil {
			return nil, false, unavailable(err)
		}
		existing, err := r.Get(ctx, d.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := writeClaims(ctx, tx, c); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, unavailable(err)
	}
	return c, true, nil
}

// CompareAndSwap updates the device row and its claims if the version matches.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, d *Device, expectedVersion int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		UPDATE devices SET
			free_remaining = $2,
			sub_active = $3,
			sub_expires_at = $4,
			developer_mode = $5,
			last_seen_at = $6,
			claim_seq = $7,
			version = version + 1
		WHERE id = $1 AND version = $8
	`,
		d.ID, d.FreeRemaining, d.Subscription.Active, d.Subscription.ExpiresAt, d.DeveloperMode,
		d.LastSeenAt, d.ClaimSeq, expectedVersion,
	)
	if err != nil {
		return unavailable(err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM devices WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return unavailable(err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: device %s moved past version %d", ErrConflict, d.ID, expectedVersion)
	}

	if err := writeClaims(ctx, tx, d); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}

	d.Version = expectedVersion + 1
	return nil
}

// writeClaims makes device_claims match d.Claims.
func writeClaims(ctx context.Context, tx pgx.Tx, d *Device) error {
	seqs := make([]int32, 0, len(d.Claims))
	for _, c := range d.Claims {
		seqs = append(seqs, int32(c.Seq)) //nolint:gosec // sequence numbers are small
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM device_claims WHERE device_id = $1 AND NOT (seq = ANY($2))`,
		d.ID, seqs,
	); err != nil {
		return unavailable(err)
	}

	if len(d.Claims) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range d.Claims {
		var amount *int64
		var currency *string
		if c.Price != nil {
			amount = &c.Price.Amount
			currency = &c.Price.Currency
		}
		batch.Queue(`
			INSERT INTO device_claims (`+claimColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (device_id, seq) DO UPDATE SET
				admission = EXCLUDED.admission,
				decided_at = EXCLUDED.decided_at
		`,
			d.ID, c.Seq, string(c.Kind), c.TX, c.Comment, c.Plan, c.DurationDays,
			amount, currency, c.SubmittedAt, string(c.Admission), c.DecidedAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Delete removes a device; its claims cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns devices with their claims, ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	var args []any

	if opts.ExpiredAt != nil {
		args = append(args, *opts.ExpiredAt)
		query += ` WHERE sub_active AND NOT developer_mode AND sub_expires_at IS NOT NULL AND sub_expires_at <= $1`
	}
	query += ` ORDER BY created_at, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var devices []*Device
	err := r.read(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return unavailable(err)
		}

		byID := make(map[string]*Device)
		for rows.Next() {
			d, err := scanDevice(rows)
			if err != nil {
				rows.Close()
				return unavailable(err)
			}
			devices = append(devices, d)
			byID[d.ID] = d
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return unavailable(err)
		}

		return loadClaims(ctx, tx, byID)
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func loadClaims(ctx context.Context, tx pgx.Tx, devices map[string]*Device) error {
	if len(devices) == 0 {
		return nil
	}

	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}

	rows, err := tx.Query(ctx,
		`SELECT `+claimColumns+` FROM device_claims WHERE device_id = ANY($1) ORDER BY device_id, seq`,
		ids,
	)
	if err != nil {
		return unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID  string
			c         Claim
			kind      string
			admission string
			amount    *int64
			currency  *string
		)
		if err := rows.Scan(
			&deviceID, &c.Seq, &kind, &c.TX, &c.Comment, &c.Plan, &c.DurationDays,
			&amount, &currency, &c.SubmittedAt, &admission, &c.DecidedAt,
		); err != nil {
			return unavailable(err)
		}
		c.Kind = ClaimKind(kind)
		c.Admission = AdmissionStatus(admission)
		if amount != nil && currency != nil {
			c.Price = &Price{Amount: *amount, Currency: *currency}
		}
		if d, ok := devices[deviceID]; ok {
			d.Claims = append(d.Claims, c)
		}
	}
	return unavailable(rows.Err())
}

func scanDevice(row pgx.Row) (*Device, error) {
	d := &Device{Claims: Ledger{}}
	var expires *time.Time
	err := row.Scan(
		&d.ID,
		&d.FreeRemaining,
		&d.Subscription.Active,
		&expires,
		&d.DeveloperMode,
		&d.CreatedAt,
		&d.LastSeenAt,
		&d.ClaimSeq,
		&d.Version,
	)
	if err != nil {
		return nil, err
	}
	if expires != nil {
		t := expires.UTC()
		d.Subscription.ExpiresAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.LastSeenAt = d.LastSeenAt.UTC()
	return d, nil
}

// unavailable wraps backend failures so callers can retry them.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var _ Repository = (*PostgresRepository)(nil)
