// Package fx resolves the USD→CRC exchange rate for a date through a
// two-tier cache-aside: process-local map, durable store, then providers in
// priority order. Per-date lookups are single-flighted so a month of USD
// purchases on one date costs one provider call.
package fx

import (
	"context"
	"sync"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Service is the exchange-rate cache. Safe for concurrent use.
type Service struct {
	providers []out.RateProvider
	repo      out.RateRepository
	log       *logger.Logger

	mu    sync.RWMutex
	local map[int64]*domain.ExchangeRate // unix day -> rate

	group singleflight.Group
}

// NewService builds the cache over providers ordered
// [official, fallback, default]. The last provider must always answer.
func NewService(repo out.RateRepository, providers []out.RateProvider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		providers: providers,
		repo:      repo,
		log:       log,
		local:     make(map[int64]*domain.ExchangeRate),
	}
}

// GetRate returns the rate for the date. Deterministic: the rate is a
// property of the date, not of request time.
func (s *Service) GetRate(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	r, err := s.getEntry(ctx, date)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Rate, nil
}

func (s *Service) getEntry(ctx context.Context, date time.Time) (*domain.ExchangeRate, error) {
	key := domain.RateDateKey(date)
	dayKey := key.Unix()

	// Tier 1: process-local.
	s.mu.RLock()
	if r, ok := s.local[dayKey]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	// Everything below is single-flighted per date key.
	v, err, _ := s.group.Do(key.Format("2006-01-02"), func() (any, error) {
		// Re-check tier 1: a concurrent caller may have filled it.
		s.mu.RLock()
		if r, ok := s.local[dayKey]; ok {
			s.mu.RUnlock()
			return r, nil
		}
		s.mu.RUnlock()

		// Tier 2: durable store.
		if s.repo != nil {
			if r, err := s.repo.Get(ctx, key); err == nil && r != nil {
				s.store(dayKey, r)
				return r, nil
			}
		}

		// Providers in priority order; first non-nil wins.
		r, err := s.resolve(ctx, key)
		if err != nil {
			return nil, err
		}

		if s.repo != nil {
			if err := s.repo.Put(ctx, r); err != nil {
				s.log.WithError(err).Warn("fx: failed to persist rate for %s", key.Format("2006-01-02"))
			}
		}
		s.store(dayKey, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ExchangeRate), nil
}

func (s *Service) resolve(ctx context.Context, date time.Time) (*domain.ExchangeRate, error) {
	sources := []domain.RateSource{domain.RateSourceOfficial, domain.RateSourceFallback, domain.RateSourceDefault}

	var lastErr error
	for i, p := range s.providers {
		rate, err := p.RateFor(ctx, date)
		if err != nil {
			s.log.WithError(err).Warn("fx: provider %s failed for %s", p.Name(), date.Format("2006-01-02"))
			lastErr = err
			continue
		}
		if rate == nil {
			continue
		}
		src := domain.RateSourceDefault
		if i < len(sources) {
			src = sources[i]
		}
		return &domain.ExchangeRate{
			Date:      date,
			Rate:      *rate,
			Source:    src,
			FetchedAt: time.Now().UTC(),
		}, nil
	}
	return nil, lastErr
}

func (s *Service) store(dayKey int64, r *domain.ExchangeRate) {
	s.mu.Lock()
	s.local[dayKey] = r
	s.mu.Unlock()
}

// StaticProvider is the constant last-resort rate, tagged "default".
type StaticProvider struct {
	Rate decimal.Decimal
}

func (p *StaticProvider) Name() string { return "static_default" }

func (p *StaticProvider) RateFor(_ context.Context, _ time.Time) (*decimal.Decimal, error) {
	r := p.Rate
	return &r, nil
}
