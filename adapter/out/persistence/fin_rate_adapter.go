package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RateRepository implements out.RateRepository. Rates key on the date, one
// row per day.
type RateRepository struct {
	db *sqlx.DB
}

func NewRateRepository(db *sqlx.DB) out.RateRepository {
	return &RateRepository{db: db}
}

type rateRow struct {
	Date      time.Time       `db:"date"`
	Rate      decimal.Decimal `db:"rate"`
	Source    string          `db:"source"`
	FetchedAt time.Time       `db:"fetched_at"`
}

func (r *RateRepository) Get(ctx context.Context, date time.Time) (*domain.ExchangeRate, error) {
	query := `SELECT date, rate, source, fetched_at FROM exchange_rates WHERE date = $1`

	var row rateRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, domain.RateDateKey(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate: %w", err)
	}
	return &domain.ExchangeRate{
		Date:      row.Date,
		Rate:      row.Rate,
		Source:    domain.RateSource(row.Source),
		FetchedAt: row.FetchedAt,
	}, nil
}

func (r *RateRepository) Put(ctx context.Context, rate *domain.ExchangeRate) error {
	query := `
		INSERT INTO exchange_rates (date, rate, source, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO UPDATE SET
			rate = EXCLUDED.rate,
			source = EXCLUDED.source,
			fetched_at = EXCLUDED.fetched_at`

	if _, err := queryer(ctx, r.db).ExecContext(ctx, query,
		domain.RateDateKey(rate.Date), rate.Rate, rate.Source, rate.FetchedAt,
	); err != nil {
		return fmt.Errorf("put rate: %w", err)
	}
	return nil
}
