package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/camfinder/camfinder/internal/clock"
	"github.com/camfinder/camfinder/internal/resilience"
)

const tracerName = "github.com/camfinder/camfinder/internal/entitlement"

// errUnchanged lets a mutation skip the write when it has nothing to store.
var errUnchanged = errors.New("entitlement: unchanged")

// CatalogProvider supplies the current plan catalog.
type CatalogProvider interface {
	Catalog() Catalog
}

// StaticCatalog is a CatalogProvider that never changes.
type StaticCatalog Catalog

// Catalog returns c.
func (c StaticCatalog) Catalog() Catalog { return Catalog(c) }

// DeviceClaim is a claim together with the device it belongs to.
type DeviceClaim struct {
	DeviceID string
	Claim    Claim
}

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	Repo    Repository
	Clock   clock.Clock
	Catalog CatalogProvider
	Logger  zerolog.Logger

	// InitialFree is the free-use balance of new devices.
	// Zero selects DefaultInitialFree.
	InitialFree int

	// UnlockCode is the promo comment that enables developer mode.
	// Empty disables promo unlocks.
	UnlockCode string

	// StoreTimeout bounds every repository call. Default: 5 seconds.
	StoreTimeout time.Duration

	Retry resilience.RetryConfig
}

// Service runs engine operations against a Repository with
// read, compute, compare-and-swap and retry.
type Service struct {
	repo         Repository
	clock        clock.Clock
	catalog      CatalogProvider
	logger       zerolog.Logger
	tracer       trace.Tracer
	initialFree  int
	unlockCode   string
	storeTimeout time.Duration
	retry        resilience.RetryConfig
}

// NewService creates a new entitlement service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:         cfg.Repo,
		clock:        cfg.Clock,
		catalog:      cfg.Catalog,
		logger:       cfg.Logger.With().Str("component", "entitlement").Logger(),
		tracer:       otel.Tracer(tracerName),
		initialFree:  cfg.InitialFree,
		unlockCode:   cfg.UnlockCode,
		storeTimeout: cfg.StoreTimeout,
		retry:        cfg.Retry,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.catalog == nil {
		s.catalog = StaticCatalog(DefaultCatalog())
	}
	if s.initialFree == 0 {
		s.initialFree = DefaultInitialFree
	}
	if s.storeTimeout == 0 {
		s.storeTimeout = 5 * time.Second
	}
	s.retry.Retryable = IsRetryable
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Catalog returns the active plan catalog.
func (s *Service) Catalog() Catalog {
	return s.catalog.Catalog()
}

// Register creates the device on first sight and touches it.
func (s *Service) Register(ctx context.Context, id string) (st Status, err error) {
	ctx, span := s.startSpan(ctx, "Register", id)
	defer func() { endSpan(span, err) }()

	_, err = s.mutate(ctx, id, true, func(d *Device, now time.Time) error {
		Touch(d, now)
		st = DeriveStatus(d, now)
		return nil
	})
	return st, err
}

// Status returns the status of the device, creating it if unknown.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	return s.Register(ctx, id)
}

// ConsumeFree burns free uses for the device unless it is active.
func (s *Service) ConsumeFree(ctx context.Context, id string, count int) (st Status, err error) {
	ctx, span := s.startSpan(ctx, "ConsumeFree", id)
	span.SetAttributes(attribute.Int("consume.count", count))
	defer func() { endSpan(span, err) }()

	_, err = s.mutate(ctx, id, true, func(d *Device, now time.Time) error {
		Touch(d, now)
		st = ConsumeFree(d, now, count)
		return nil
	})
	return st, err
}

// SubmitClaim records a payment claim for the device.
func (s *Service) SubmitClaim(ctx context.Context, id string, in ClaimInput) (res ClaimResult, st Status, err error) {
	ctx, span := s.startSpan(ctx, "SubmitClaim", id)
	defer func() { endSpan(span, err) }()

	catalog := s.catalog.Catalog()
	_, err = s.mutate(ctx, id, true, func(d *Device, now time.Time) error {
		r, err := SubmitClaim(d, in, catalog, s.unlockCode, now)
		if err != nil {
			return err
		}
		Touch(d, now)
		res = r
		st = DeriveStatus(d, now)
		return nil
	})
	if err != nil {
		return ClaimResult{}, Status{}, err
	}

	switch {
	case res.Unlocked:
		s.logger.Warn().Str("device_id", id).Int("seq", res.Claim.Seq).Msg("developer mode unlocked by promo code")
	case res.Duplicate:
		s.logger.Info().Str("device_id", id).Str("tx", res.Claim.TX).Msg("duplicate claim ignored")
	default:
		s.logger.Info().Str("device_id", id).Int("seq", res.Claim.Seq).Str("plan", res.Claim.Plan).Msg("claim submitted")
	}
	return res, st, nil
}

// Get returns a device without touching it.
func (s *Service) Get(ctx context.Context, id string) (d *Device, err error) {
	ctx, span := s.startSpan(ctx, "Get", id)
	defer func() { endSpan(span, err) }()

	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

// List returns up to limit devices. Zero means all.
func (s *Service) List(ctx context.Context, limit int) (devices []*Device, err error) {
	ctx, span := s.startSpan(ctx, "List", "")
	defer func() { endSpan(span, err) }()

	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var lerr error
		devices, lerr = s.repo.List(ctx, ListOptions{Limit: limit})
		return lerr
	})
	return devices, err
}

// Grant gives the device a subscription of days from now.
func (s *Service) Grant(ctx context.Context, id string, days int) (*Device, error) {
	return s.operator(ctx, "Grant", id, func(d *Device, now time.Time) error {
		return Grant(d, now, days)
	})
}

// GrantUnbounded gives the device a subscription without expiry.
func (s *Service) GrantUnbounded(ctx context.Context, id string) (*Device, error) {
	return s.operator(ctx, "GrantUnbounded", id, func(d *Device, _ time.Time) error {
		GrantUnbounded(d)
		return nil
	})
}

// Revoke clears the device's subscription.
func (s *Service) Revoke(ctx context.Context, id string) (*Device, error) {
	return s.operator(ctx, "Revoke", id, func(d *Device, _ time.Time) error {
		Revoke(d)
		return nil
	})
}

// SetDeveloperMode toggles developer mode.
func (s *Service) SetDeveloperMode(ctx context.Context, id string, enabled bool) (*Device, error) {
	return s.operator(ctx, "SetDeveloperMode", id, func(d *Device, _ time.Time) error {
		SetDeveloperMode(d, enabled)
		return nil
	})
}

// ResetFree sets the device's free-use balance.
func (s *Service) ResetFree(ctx context.Context, id string, value int) (*Device, error) {
	return s.operator(ctx, "ResetFree", id, func(d *Device, _ time.Time) error {
		return ResetFree(d, value)
	})
}

// ClearClaims drops the device's claim history.
func (s *Service) ClearClaims(ctx context.Context, id string) (*Device, error) {
	return s.operator(ctx, "ClearClaims", id, func(d *Device, _ time.Time) error {
		if len(d.Claims) == 0 {
			return errUnchanged
		}
		ClearClaims(d)
		return nil
	})
}

// SetClaimAdmission records an operator decision on a claim. With grant set,
// approving also grants the claim's captured duration in the same update.
func (s *Service) SetClaimAdmission(ctx context.Context, id string, seq int, status AdmissionStatus, grant bool) (c Claim, d *Device, err error) {
	d, err = s.operator(ctx, "SetClaimAdmission", id, func(d *Device, now time.Time) error {
		claim, changed, err := SetAdmission(d, seq, status, now)
		if err != nil {
			return err
		}
		c = claim
		if !changed {
			return errUnchanged
		}
		if grant && status == AdmissionApproved {
			if claim.DurationDays <= 0 {
				return fmt.Errorf("%w: claim %d has no plan duration to grant", ErrInvalidArgument, seq)
			}
			return Grant(d, now, claim.DurationDays)
		}
		return nil
	})
	if err != nil {
		return Claim{}, nil, err
	}
	return c, d, nil
}

// ListClaims returns the device's claim history.
func (s *Service) ListClaims(ctx context.Context, id string) (Ledger, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Claims, nil
}

// ListAllClaims returns claims across all devices, optionally filtered by admission.
func (s *Service) ListAllClaims(ctx context.Context, admission AdmissionStatus) ([]DeviceClaim, error) {
	if admission != "" && !admission.Valid() {
		return nil, fmt.Errorf("%w: unknown admission %q", ErrInvalidArgument, admission)
	}

	devices, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	var out []DeviceClaim
	for _, d := range devices {
		for _, c := range d.Claims.Filter(admission) {
			out = append(out, DeviceClaim{DeviceID: d.ID, Claim: c})
		}
	}
	return out, nil
}

// Delete removes the device permanently.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "Delete", id)
	defer func() { endSpan(span, err) }()

	if err := validateID(id); err != nil {
		return err
	}

	_, err = resilience.Retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.withTimeout(ctx, func(ctx context.Context) error {
			return s.repo.Delete(ctx, id)
		})
	})
	if err = s.exhausted(err); err != nil {
		return err
	}

	s.logger.Info().Str("device_id", id).Msg("device deleted")
	return nil
}

// ListExpired returns the IDs of devices whose stored subscription has expired at now.
func (s *Service) ListExpired(ctx context.Context, now time.Time) (ids []string, err error) {
	ctx, span := s.startSpan(ctx, "ListExpired", "")
	defer func() { endSpan(span, err) }()

	var devices []*Device
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var lerr error
		devices, lerr = s.repo.List(ctx, ListOptions{ExpiredAt: &now})
		return lerr
	})
	if err != nil {
		return nil, err
	}

	ids = make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// Expire clears the device's subscription if it is still expired. It
// reports false when the device was re-granted or removed in the meantime.
func (s *Service) Expire(ctx context.Context, id string) (expired bool, err error) {
	ctx, span := s.startSpan(ctx, "Expire", id)
	defer func() { endSpan(span, err) }()

	_, err = s.mutate(ctx, id, false, func(d *Device, now time.Time) error {
		expired = Expire(d, now)
		if !expired {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return expired, err
}

// Ping checks the repository.
func (s *Service) Ping(ctx context.Context) error {
	return s.withTimeout(ctx, s.repo.Ping)
}

func (s *Service) operator(ctx context.Context, op, id string, fn func(d *Device, now time.Time) error) (d *Device, err error) {
	ctx, span := s.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	d, err = s.mutate(ctx, id, false, fn)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("device_id", id).Str("op", op).Int64("version", d.Version).Msg("operator action applied")
	return d, nil
}

// mutate loads the device (creating it when create is set), applies fn to a
// copy and writes it back with compare-and-swap, retrying on conflicts and
// transient store failures.
func (s *Service) mutate(ctx context.Context, id string, create bool, fn func(d *Device, now time.Time) error) (*Device, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	d, err := resilience.Retry(ctx, s.retry, func(ctx context.Context) (*Device, error) {
		cur, err := s.load(ctx, id, create)
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		if err := fn(next, s.clock.Now()); err != nil {
			if errors.Is(err, errUnchanged) {
				return cur, nil
			}
			return nil, err
		}

		err = s.withTimeout(ctx, func(ctx context.Context) error {
			return s.repo.CompareAndSwap(ctx, next, cur.Version)
		})
		if err != nil {
			return nil, err
		}
		return next, nil
	})
	return d, s.exhausted(err)
}

func (s *Service) load(ctx context.Context, id string, create bool) (*Device, error) {
	d, err := s.get(ctx, id)
	if err == nil || !create || !errors.Is(err, ErrNotFound) {
		return d, err
	}

	fresh, err := NewDevice(id, s.initialFree, s.clock.Now())
	if err != nil {
		return nil, err
	}

	var created bool
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var cerr error
		d, created, cerr = s.repo.Create(ctx, fresh)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info().Str("device_id", id).Int("free_remaining", d.FreeRemaining).Msg("device registered")
	}
	return d, nil
}

func (s *Service) get(ctx context.Context, id string) (d *Device, err error) {
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var gerr error
		d, gerr = s.repo.Get(ctx, id)
		return gerr
	})
	return d, err
}

// withTimeout runs fn under the store timeout. A timeout is reported as ErrStoreUnavailable.
func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err := fn(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// exhausted maps retry exhaustion to ErrStoreUnavailable.
func (s *Service) exhausted(err error) error {
	if err != nil && errors.Is(err, resilience.ErrMaxRetriesExceeded) {
		s.logger.Error().Err(err).Msg("store retries exhausted")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (s *Service) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "entitlement."+op)
	if id != "" {
		span.SetAttributes(attribute.String("device.id", id))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
