package settings

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	billing "home-analytics/internal/billing/domain"
	"home-analytics/internal/observability/metrics"
)

// Loader produces a fresh settings snapshot.
type Loader func(ctx context.Context) (*billing.Settings, error)

// Overlay amends a parsed document from another source before it is built.
type Overlay interface {
	Apply(ctx context.Context, doc *Document) error
}

// FileLoader reads and builds the document at path on every call. Overlays
// are applied in order after parsing.
func FileLoader(path string, overlays ...Overlay) Loader {
	return func(ctx context.Context) (*billing.Settings, error) {
		doc, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, o := range overlays {
			if o == nil {
				continue
			}
			if err := o.Apply(ctx, doc); err != nil {
				return nil, err
			}
		}
		return doc.Build()
	}
}

// Store holds the current snapshot behind an atomic pointer. Reload builds a
// complete snapshot before swapping, so readers never see a partial one.
type Store struct {
	current atomic.Pointer[billing.Settings]
	loader  Loader
	logger  *log.Logger
}

// NewStore loads the initial snapshot.
func NewStore(ctx context.Context, loader Loader, logger *log.Logger) (*Store, error) {
	if loader == nil {
		return nil, errors.New("settings store: nil loader")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Store{loader: loader, logger: logger}
	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore serves a fixed snapshot. Reload is a no-op.
func NewStaticStore(cfg *billing.Settings) *Store {
	s := &Store{logger: log.New(io.Discard, "", 0)}
	s.current.Store(cfg)
	return s
}

// Current returns the snapshot in effect.
func (s *Store) Current() *billing.Settings {
	return s.current.Load()
}

// ResolveBaseTariff resolves the building tariff in effect at an instant
// against the current snapshot.
func (s *Store) ResolveBaseTariff(at time.Time) (billing.TariffSchedule, error) {
	cfg := s.Current()
	if cfg == nil || cfg.Tariffs == nil {
		return billing.TariffSchedule{}, billing.NewConfigurationError("settings not loaded")
	}
	return cfg.Tariffs.ResolveBase(at)
}

// Reload swaps in a new snapshot. On failure the previous one stays active.
func (s *Store) Reload(ctx context.Context) (*billing.Settings, error) {
	if s.loader == nil {
		return s.Current(), nil
	}
	next, err := s.loader(ctx)
	if err == nil && next != nil {
		err = next.Validate()
	}
	if err != nil {
		metrics.IncSettingsReload(metrics.ResultError)
		s.logger.Printf("settings reload failed: %v", err)
		return nil, err
	}
	prev := s.current.Swap(next)
	metrics.IncSettingsReload(metrics.ResultSuccess)
	if prev == nil || prev.Version != next.Version {
		s.logger.Printf("settings loaded: version=%s zones=%d", next.Version, len(next.Zones))
	}
	return next, nil
}
