package persistence

import (
	"context"
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SubscriptionRepository implements out.SubscriptionRepository.
type SubscriptionRepository struct {
	db *sqlx.DB
}

func NewSubscriptionRepository(db *sqlx.DB) out.SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

type subscriptionRow struct {
	ID           int64           `db:"id"`
	ProfileID    string          `db:"profile_id"`
	MerchantID   *int64          `db:"merchant_id"`
	MerchantKey  string          `db:"merchant_key"`
	AvgAmount    decimal.Decimal `db:"avg_amount"`
	CadenceDays  int             `db:"cadence_days"`
	Occurrences  int             `db:"occurrences"`
	Confidence   int             `db:"confidence"`
	FirstSeen    time.Time       `db:"first_seen"`
	LastSeen     time.Time       `db:"last_seen"`
	NextExpected time.Time       `db:"next_expected"`
	Active       bool            `db:"active"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r subscriptionRow) toDomain() *domain.Subscription {
	return &domain.Subscription{
		ID:           r.ID,
		ProfileID:    r.ProfileID,
		MerchantID:   r.MerchantID,
		MerchantKey:  r.MerchantKey,
		AvgAmount:    r.AvgAmount,
		CadenceDays:  r.CadenceDays,
		Occurrences:  r.Occurrences,
		Confidence:   r.Confidence,
		FirstSeen:    r.FirstSeen,
		LastSeen:     r.LastSeen,
		NextExpected: r.NextExpected,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const subscriptionColumns = `
	id, profile_id, merchant_id, merchant_key, avg_amount, cadence_days,
	occurrences, confidence, first_seen, last_seen, next_expected, active,
	created_at, updated_at`

func (r *SubscriptionRepository) ListActive(ctx context.Context, profileID string) ([]*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE profile_id = $1 AND active
		ORDER BY next_expected`

	var rows []subscriptionRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, profileID); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	subs := make([]*domain.Subscription, len(rows))
	for i, row := range rows {
		subs[i] = row.toDomain()
	}
	return subs, nil
}

func (r *SubscriptionRepository) Upsert(ctx context.Context, s *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			profile_id, merchant_id, merchant_key, avg_amount, cadence_days,
			occurrences, confidence, first_seen, last_seen, next_expected, active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (profile_id, merchant_key) DO UPDATE SET
			merchant_id = EXCLUDED.merchant_id,
			avg_amount = EXCLUDED.avg_amount,
			cadence_days = EXCLUDED.cadence_days,
			occurrences = EXCLUDED.occurrences,
			confidence = EXCLUDED.confidence,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			next_expected = EXCLUDED.next_expected,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING id`

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		s.ProfileID, s.MerchantID, s.MerchantKey, s.AvgAmount, s.CadenceDays,
		s.Occurrences, s.Confidence, s.FirstSeen, s.LastSeen, s.NextExpected, s.Active,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE subscriptions SET active = false, updated_at = NOW() WHERE id = $1`

	res, err := queryer(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
