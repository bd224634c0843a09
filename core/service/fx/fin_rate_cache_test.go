package fx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	name  string
	rate  *decimal.Decimal
	err   error
	calls atomic.Int64
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) RateFor(_ context.Context, _ time.Time) (*decimal.Decimal, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	if p.rate == nil {
		return nil, nil
	}
	r := *p.rate
	return &r, nil
}

type fakeRateRepo struct {
	mu    sync.Mutex
	rates map[int64]*domain.ExchangeRate
	gets  int
	puts  int
}

func newFakeRateRepo() *fakeRateRepo {
	return &fakeRateRepo{rates: make(map[int64]*domain.ExchangeRate)}
}

func (r *fakeRateRepo) Get(_ context.Context, date time.Time) (*domain.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	return r.rates[domain.RateDateKey(date).Unix()], nil
}

func (r *fakeRateRepo) Put(_ context.Context, rate *domain.ExchangeRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	r.rates[domain.RateDateKey(rate.Date).Unix()] = rate
	return nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestGetRateProviderChain(t *testing.T) {
	date := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		official *fakeProvider
		fallback *fakeProvider
		want     string
		wantSrc  domain.RateSource
	}{
		{
			name:     "official wins",
			official: &fakeProvider{name: "bccr", rate: dec("512.34")},
			fallback: &fakeProvider{name: "fallback", rate: dec("999")},
			want:     "512.34",
			wantSrc:  domain.RateSourceOfficial,
		},
		{
			name:     "official error falls to fallback",
			official: &fakeProvider{name: "bccr", err: errors.New("timeout")},
			fallback: &fakeProvider{name: "fallback", rate: dec("515")},
			want:     "515",
			wantSrc:  domain.RateSourceFallback,
		},
		{
			name:     "official no rate falls to fallback",
			official: &fakeProvider{name: "bccr"},
			fallback: &fakeProvider{name: "fallback", rate: dec("518.5")},
			want:     "518.5",
			wantSrc:  domain.RateSourceFallback,
		},
		{
			name:     "both out falls to static default",
			official: &fakeProvider{name: "bccr", err: errors.New("down")},
			fallback: &fakeProvider{name: "fallback", err: errors.New("down")},
			want:     "520",
			wantSrc:  domain.RateSourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRateRepo()
			svc := NewService(repo, []out.RateProvider{
				tt.official, tt.fallback, &StaticProvider{Rate: decimal.RequireFromString("520")},
			}, nil)

			got, err := svc.GetRate(context.Background(), date)
			if err != nil {
				t.Fatalf("GetRate() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("rate = %s, want %s", got, tt.want)
			}

			entry, _ := repo.Get(context.Background(), date)
			if entry == nil {
				t.Fatal("rate was not persisted")
			}
			if entry.Source != tt.wantSrc {
				t.Errorf("source = %s, want %s", entry.Source, tt.wantSrc)
			}
		})
	}
}

func TestGetRateUsesDurableStore(t *testing.T) {
	date := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	repo := newFakeRateRepo()
	repo.Put(context.Background(), &domain.ExchangeRate{
		Date:   domain.RateDateKey(date),
		Rate:   decimal.RequireFromString("501.2"),
		Source: domain.RateSourceOfficial,
	})

	official := &fakeProvider{name: "bccr", rate: dec("999")}
	svc := NewService(repo, []out.RateProvider{official}, nil)

	got, err := svc.GetRate(context.Background(), date)
	if err != nil {
		t.Fatalf("GetRate() error = %v", err)
	}
	if got.String() != "501.2" {
		t.Errorf("rate = %s, want 501.2", got)
	}
	if official.calls.Load() != 0 {
		t.Errorf("provider called %d times, want 0", official.calls.Load())
	}
}

func TestGetRateSingleProviderCallPerDate(t *testing.T) {
	date := time.Date(2026, 2, 20, 15, 30, 0, 0, time.UTC)
	official := &fakeProvider{name: "bccr", rate: dec("510")}
	svc := NewService(newFakeRateRepo(), []out.RateProvider{official}, nil)

	const callers = 50
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.GetRate(context.Background(), date); err != nil {
				t.Errorf("GetRate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := official.calls.Load(); n != 1 {
		t.Errorf("provider called %d times for one date, want 1", n)
	}

	// Same calendar day at a different hour is still one cache entry.
	if _, err := svc.GetRate(context.Background(), date.Add(5*time.Hour)); err != nil {
		t.Fatalf("GetRate() error = %v", err)
	}
	if n := official.calls.Load(); n != 1 {
		t.Errorf("provider called %d times after same-day reread, want 1", n)
	}
}
