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
)

// SuggestionRepository implements out.SuggestionRepository.
type SuggestionRepository struct {
	db *sqlx.DB
}

func NewSuggestionRepository(db *sqlx.DB) out.SuggestionRepository {
	return &SuggestionRepository{db: db}
}

type suggestionRow struct {
	ID                   int64     `db:"id"`
	PatternKey           string    `db:"pattern_key"`
	SuggestedSubcategory int64     `db:"suggested_subcategory_id"`
	UserCount            int       `db:"user_count"`
	Confidence           float64   `db:"confidence"`
	Status               string    `db:"status"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r suggestionRow) toDomain() *domain.GlobalSuggestion {
	return &domain.GlobalSuggestion{
		ID:                   r.ID,
		PatternKey:           r.PatternKey,
		SuggestedSubcategory: r.SuggestedSubcategory,
		UserCount:            r.UserCount,
		Confidence:           r.Confidence,
		Status:               domain.SuggestionStatus(r.Status),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

const suggestionColumns = `
	id, pattern_key, suggested_subcategory_id, user_count, confidence, status, created_at, updated_at`

func (r *SuggestionRepository) GetByPatternKey(ctx context.Context, key string) (*domain.GlobalSuggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM global_suggestions WHERE pattern_key = $1`

	var row suggestionRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return row.toDomain(), nil
}

// FindUsable resolves the approved suggestion covering the merchant key,
// exact or prefix glob.
func (r *SuggestionRepository) FindUsable(ctx context.Context, merchantKey string) (*domain.GlobalSuggestion, error) {
	query := `
		SELECT ` + suggestionColumns + `
		FROM global_suggestions
		WHERE status IN ('approved', 'auto_approved')
		  AND (pattern_key = $1
		       OR (right(pattern_key, 1) = '%' AND $1 LIKE pattern_key))
		ORDER BY (pattern_key = $1) DESC, length(pattern_key) DESC
		LIMIT 1`

	var row suggestionRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, merchantKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find usable suggestion: %w", err)
	}
	return row.toDomain(), nil
}

func (r *SuggestionRepository) Upsert(ctx context.Context, s *domain.GlobalSuggestion) error {
	query := `
		INSERT INTO global_suggestions (
			pattern_key, suggested_subcategory_id, user_count, confidence, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (pattern_key) DO UPDATE SET
			suggested_subcategory_id = EXCLUDED.suggested_subcategory_id,
			user_count = EXCLUDED.user_count,
			confidence = EXCLUDED.confidence,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id`

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		s.PatternKey, s.SuggestedSubcategory, s.UserCount, s.Confidence, s.Status,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert suggestion: %w", err)
	}
	return nil
}
