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

// PatternRepository implements out.PatternRepository.
type PatternRepository struct {
	db *sqlx.DB
}

func NewPatternRepository(db *sqlx.DB) out.PatternRepository {
	return &PatternRepository{db: db}
}

type patternRow struct {
	ID               int64               `db:"id"`
	ProfileID        string              `db:"profile_id"`
	PatternKey       string              `db:"pattern_key"`
	SubcategoryID    int64               `db:"subcategory_id"`
	UserLabel        *string             `db:"user_label"`
	TimesMatched     int                 `db:"times_matched"`
	TimesConfirmed   int                 `db:"times_confirmed"`
	TimesRejected    int                 `db:"times_rejected"`
	Confidence       float64             `db:"confidence"`
	Source           string              `db:"source"`
	IsRecurring      bool                `db:"is_recurring"`
	RecurringCadence *int                `db:"recurring_cadence"`
	AvgAmount        decimal.NullDecimal `db:"avg_amount"`
	MinAmount        decimal.NullDecimal `db:"min_amount"`
	MaxAmount        decimal.NullDecimal `db:"max_amount"`
	LastSeenAt       time.Time           `db:"last_seen_at"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

func (r patternRow) toDomain() *domain.LearnedPattern {
	p := &domain.LearnedPattern{
		ID:               r.ID,
		ProfileID:        r.ProfileID,
		PatternKey:       r.PatternKey,
		SubcategoryID:    r.SubcategoryID,
		UserLabel:        r.UserLabel,
		TimesMatched:     r.TimesMatched,
		TimesConfirmed:   r.TimesConfirmed,
		TimesRejected:    r.TimesRejected,
		Confidence:       r.Confidence,
		Source:           domain.PatternSource(r.Source),
		IsRecurring:      r.IsRecurring,
		RecurringCadence: r.RecurringCadence,
		LastSeenAt:       r.LastSeenAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.AvgAmount.Valid {
		p.AvgAmount = &r.AvgAmount.Decimal
	}
	if r.MinAmount.Valid {
		p.MinAmount = &r.MinAmount.Decimal
	}
	if r.MaxAmount.Valid {
		p.MaxAmount = &r.MaxAmount.Decimal
	}
	return p
}

const patternColumns = `
	id, profile_id, pattern_key, subcategory_id, user_label,
	times_matched, times_confirmed, times_rejected, confidence, source,
	is_recurring, recurring_cadence, avg_amount, min_amount, max_amount,
	last_seen_at, created_at, updated_at`

func (r *PatternRepository) ListByProfile(ctx context.Context, profileID string) ([]*domain.LearnedPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM learned_patterns WHERE profile_id = $1 ORDER BY pattern_key`

	var rows []patternRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, profileID); err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}

	patterns := make([]*domain.LearnedPattern, len(rows))
	for i, row := range rows {
		patterns[i] = row.toDomain()
	}
	return patterns, nil
}

// FindMatching resolves the best pattern for a merchant key: exact match
// first, then the longest matching prefix glob.
func (r *PatternRepository) FindMatching(ctx context.Context, profileID, merchantKey string) (*domain.LearnedPattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM learned_patterns
		WHERE profile_id = $1
		  AND (pattern_key = $2
		       OR (right(pattern_key, 1) = '%' AND $2 LIKE pattern_key))
		ORDER BY (pattern_key = $2) DESC, length(pattern_key) DESC
		LIMIT 1`

	var row patternRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, profileID, merchantKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pattern: %w", err)
	}
	return row.toDomain(), nil
}

// Upsert writes the pattern under the (profile_id, pattern_key) unique key.
// The insert-or-update runs as one statement so concurrent feedback on the
// same merchant family serializes on the row.
func (r *PatternRepository) Upsert(ctx context.Context, p *domain.LearnedPattern) error {
	query := `
		INSERT INTO learned_patterns (
			profile_id, pattern_key, subcategory_id, user_label,
			times_matched, times_confirmed, times_rejected, confidence, source,
			is_recurring, recurring_cadence, avg_amount, min_amount, max_amount,
			last_seen_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (profile_id, pattern_key) DO UPDATE SET
			subcategory_id = EXCLUDED.subcategory_id,
			user_label = COALESCE(EXCLUDED.user_label, learned_patterns.user_label),
			times_matched = EXCLUDED.times_matched,
			times_confirmed = EXCLUDED.times_confirmed,
			times_rejected = EXCLUDED.times_rejected,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			is_recurring = EXCLUDED.is_recurring,
			recurring_cadence = EXCLUDED.recurring_cadence,
			avg_amount = EXCLUDED.avg_amount,
			min_amount = EXCLUDED.min_amount,
			max_amount = EXCLUDED.max_amount,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = NOW()
		RETURNING id`

	var avg, min, max any
	if p.AvgAmount != nil {
		avg = *p.AvgAmount
	}
	if p.MinAmount != nil {
		min = *p.MinAmount
	}
	if p.MaxAmount != nil {
		max = *p.MaxAmount
	}

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		p.ProfileID, p.PatternKey, p.SubcategoryID, p.UserLabel,
		p.TimesMatched, p.TimesConfirmed, p.TimesRejected, p.Confidence, p.Source,
		p.IsRecurring, p.RecurringCadence, avg, min, max, p.LastSeenAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}
