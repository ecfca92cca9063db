package config

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/camfinder/camfinder/internal/entitlement"
)

// Wallet is a payment destination shown to clients.
type Wallet struct {
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// catalogFile is the on-disk catalog layout. Wallets are a list rather than a
// map because viper folds map keys to lower case.
type catalogFile struct {
	Plans   []entitlement.Plan `mapstructure:"plans"`
	Wallets []Wallet           `mapstructure:"wallets"`
}

// CatalogSource serves the plan catalog from a YAML, JSON or TOML file and
// picks up edits at runtime. It implements entitlement.CatalogProvider.
type CatalogSource struct {
	path    string
	v       *viper.Viper
	current atomic.Pointer[entitlement.Catalog]
	logger  zerolog.Logger
}

// NewCatalogSource loads the catalog at path. An empty path serves the
// built-in catalog.
func NewCatalogSource(path string, logger zerolog.Logger) (*CatalogSource, error) {
	s := &CatalogSource{
		path:   path,
		logger: logger.With().Str("component", "catalog").Logger(),
	}

	if path == "" {
		def := entitlement.DefaultCatalog()
		s.current.Store(&def)
		return s, nil
	}

	s.v = viper.New()
	s.v.SetConfigFile(path)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Catalog returns the current catalog.
func (s *CatalogSource) Catalog() entitlement.Catalog {
	c := s.current.Load()
	plans := append([]entitlement.Plan(nil), c.Plans...)
	wallets := make(map[string]string, len(c.Wallets))
	for k, v := range c.Wallets {
		wallets[k] = v
	}
	return entitlement.Catalog{Plans: plans, Wallets: wallets}
}

// Reload re-reads the catalog file. On error the previous catalog stays in place.
func (s *CatalogSource) Reload() error {
	if s.v == nil {
		return nil
	}

	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading catalog %s: %w", s.path, err)
	}

	var file catalogFile
	if err := s.v.Unmarshal(&file); err != nil {
		return fmt.Errorf("decoding catalog %s: %w", s.path, err)
	}

	catalog, err := file.toCatalog()
	if err != nil {
		return fmt.Errorf("invalid catalog %s: %w", s.path, err)
	}

	s.current.Store(&catalog)
	s.logger.Info().
		Str("path", s.path).
		Int("plans", len(catalog.Plans)).
		Int("wallets", len(catalog.Wallets)).
		Msg("catalog loaded")
	return nil
}

// Watch reloads the catalog whenever the file changes. It returns immediately.
func (s *CatalogSource) Watch() {
	if s.v == nil {
		return
	}

	s.v.OnConfigChange(func(e fsnotify.Event) {
		if err := s.Reload(); err != nil {
			s.logger.Error().Err(err).Str("event", e.Op.String()).Msg("catalog reload failed, keeping previous catalog")
		}
	})
	s.v.WatchConfig()
}

func (f catalogFile) toCatalog() (entitlement.Catalog, error) {
	if len(f.Plans) == 0 {
		return entitlement.Catalog{}, errors.New("no plans")
	}

	seen := make(map[string]bool, len(f.Plans))
	for _, p := range f.Plans {
		if p.ID == "" {
			return entitlement.Catalog{}, errors.New("plan with empty id")
		}
		if seen[p.ID] {
			return entitlement.Catalog{}, fmt.Errorf("duplicate plan %q", p.ID)
		}
		if p.DurationDays <= 0 {
			return entitlement.Catalog{}, fmt.Errorf("plan %q: duration_days must be positive", p.ID)
		}
		if p.Price.Amount < 0 {
			return entitlement.Catalog{}, fmt.Errorf("plan %q: negative price", p.ID)
		}
		seen[p.ID] = true
	}

	wallets := make(map[string]string, len(f.Wallets))
	for _, w := range f.Wallets {
		if w.Network == "" || w.Address == "" {
			return entitlement.Catalog{}, errors.New("wallet needs network and address")
		}
		wallets[w.Network] = w.Address
	}

	return entitlement.Catalog{Plans: f.Plans, Wallets: wallets}, nil
}
