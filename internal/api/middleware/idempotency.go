package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/camfinder/camfinder/internal/api/models"
)

// IdempotencyKeyHeader names the client-chosen retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader marks a response served from the idempotency cache.
const ReplayedHeader = "Idempotent-Replayed"

const maxIdempotencyKeyLength = 255

// maxFingerprintBody bounds how much of the request body is hashed.
const maxFingerprintBody = 64 << 10

// IdempotencyConfig holds configuration for the idempotency cache.
type IdempotencyConfig struct {
	// CacheBytes is the cache size. Zero disables the middleware.
	CacheBytes int

	// TTL is how long a response is replayed. Default: 24 hours.
	TTL time.Duration

	Metrics *Metrics
	Logger  zerolog.Logger
}

// Idempotency replays the first successful response to a POST for later
// requests with the same method, path and Idempotency-Key. Reusing a key
// with a different body is rejected with 422.
type Idempotency struct {
	cache    *freecache.Cache
	ttl      int
	metrics  *Metrics
	logger   zerolog.Logger
	inFlight sync.Map
}

// cachedResponse is the stored form of a response.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	RequestHash uint64 `json:"request_hash"`
}

// NewIdempotency creates the idempotency cache.
func NewIdempotency(cfg IdempotencyConfig) *Idempotency {
	m := &Idempotency{
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "idempotency").Logger(),
	}
	if cfg.CacheBytes <= 0 {
		m.logger.Info().Msg("idempotency cache disabled")
		return m
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m.ttl = int(ttl.Seconds())
	m.cache = freecache.NewCache(cfg.CacheBytes)
	return m
}

// Middleware returns the HTTP middleware.
func (m *Idempotency) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if m.cache == nil || key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				problem := models.NewBadRequest(GetRequestID(r.Context()), "Idempotency-Key is too long", nil)
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}

			cacheKey := []byte(r.Method + " " + r.URL.Path + "\x00" + key)

			requestHash, err := fingerprint(r)
			if err != nil {
				problem := models.NewBadRequest(GetRequestID(r.Context()), "failed to read request body", nil)
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}

			if cached, ok := m.lookup(cacheKey); ok {
				if cached.RequestHash != requestHash {
					problem := models.NewKeyReused(GetRequestID(r.Context()), "Idempotency-Key was already used with a different request body")
					problem.Instance = r.URL.Path
					problem.Write(w)
					return
				}
				m.metrics.RecordReplay(r.Context(), routePattern(r))
				w.Header().Set(ReplayedHeader, "true")
				w.Header().Set("Content-Type", cached.ContentType)
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			if _, busy := m.inFlight.LoadOrStore(string(cacheKey), struct{}{}); busy {
				problem := models.NewConflict(GetRequestID(r.Context()), "a request with this Idempotency-Key is in progress")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
			defer m.inFlight.Delete(string(cacheKey))

			rec := &capturingWriter{statusRecorder: newStatusRecorder(w)}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				m.store(cacheKey, cachedResponse{
					Status:      rec.status,
					ContentType: w.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
					RequestHash: requestHash,
				})
			}
		})
	}
}

// fingerprint hashes the head of the request body and leaves r.Body
// readable from the start.
func fingerprint(r *http.Request) (uint64, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return xxhash.Sum64(nil), nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody))
	if err != nil {
		return 0, err
	}
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	return xxhash.Sum64(head), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func (m *Idempotency) lookup(key []byte) (cachedResponse, bool) {
	raw, err := m.cache.Get(key)
	if err != nil {
		return cachedResponse{}, false
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		m.logger.Warn().Err(err).Msg("dropping undecodable cached response")
		m.cache.Del(key)
		return cachedResponse{}, false
	}
	return cached, true
}

func (m *Idempotency) store(key []byte, resp cachedResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		m.logger.Warn().Err(err).Msg("encoding response for idempotency cache")
		return
	}
	if err := m.cache.Set(key, raw, m.ttl); err != nil {
		if errors.Is(err, freecache.ErrLargeEntry) {
			m.logger.Debug().Int("size", len(raw)).Msg("response too large for idempotency cache")
			return
		}
		m.logger.Warn().Err(err).Msg("storing response in idempotency cache")
	}
}

// capturingWriter tees the response body so it can be cached.
type capturingWriter struct {
	*statusRecorder
	body bytes.Buffer
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.statusRecorder.Write(b)
}
