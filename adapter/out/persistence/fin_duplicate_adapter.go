package persistence

import (
	"context"
	"fmt"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DuplicateRepository implements out.DuplicateRepository.
type DuplicateRepository struct {
	db *sqlx.DB
}

func NewDuplicateRepository(db *sqlx.DB) out.DuplicateRepository {
	return &DuplicateRepository{db: db}
}

type duplicateRow struct {
	ProfileID       string         `db:"profile_id"`
	TransactionID   int64          `db:"transaction_id"`
	CandidateID     int64          `db:"candidate_id"`
	SimilarityScore int            `db:"similarity_score"`
	Reasons         pq.StringArray `db:"reasons"`
}

func (r duplicateRow) toDomain() *domain.DuplicatePair {
	return &domain.DuplicatePair{
		ProfileID:       r.ProfileID,
		TransactionID:   r.TransactionID,
		CandidateID:     r.CandidateID,
		SimilarityScore: r.SimilarityScore,
		Reasons:         r.Reasons,
	}
}

// Save records the reported pairs. Re-reporting the same pair refreshes its
// score instead of duplicating the row.
func (r *DuplicateRepository) Save(ctx context.Context, pairs []*domain.DuplicatePair) error {
	query := `
		INSERT INTO duplicate_pairs (
			profile_id, transaction_id, candidate_id, similarity_score, reasons, reported_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (transaction_id, candidate_id) DO UPDATE SET
			similarity_score = EXCLUDED.similarity_score,
			reasons = EXCLUDED.reasons,
			reported_at = NOW()`

	q := queryer(ctx, r.db)
	for _, p := range pairs {
		if _, err := q.ExecContext(ctx, query,
			p.ProfileID, p.TransactionID, p.CandidateID, p.SimilarityScore,
			pq.StringArray(p.Reasons),
		); err != nil {
			return fmt.Errorf("save duplicate pair: %w", err)
		}
	}
	return nil
}

func (r *DuplicateRepository) ListOpen(ctx context.Context, profileID string) ([]*domain.DuplicatePair, error) {
	query := `
		SELECT profile_id, transaction_id, candidate_id, similarity_score, reasons
		FROM duplicate_pairs
		WHERE profile_id = $1 AND resolved_at IS NULL
		ORDER BY similarity_score DESC`

	var rows []duplicateRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, profileID); err != nil {
		return nil, fmt.Errorf("list duplicate pairs: %w", err)
	}

	pairs := make([]*domain.DuplicatePair, len(rows))
	for i, row := range rows {
		pairs[i] = row.toDomain()
	}
	return pairs, nil
}
