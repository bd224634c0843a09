package persistence

import (
	"context"
	"fmt"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
)

// SyncRunRepository implements out.SyncRunRepository.
type SyncRunRepository struct {
	db *sqlx.DB
}

func NewSyncRunRepository(db *sqlx.DB) out.SyncRunRepository {
	return &SyncRunRepository{db: db}
}

type syncRunRow struct {
	ID              int64      `db:"id"`
	ProfileID       string     `db:"profile_id"`
	Mode            string     `db:"mode"`
	Status          string     `db:"status"`
	Processed       int        `db:"processed"`
	Duplicates      int        `db:"duplicates"`
	Errors          int        `db:"errors"`
	USDConverted    int        `db:"usd_converted"`
	AutoCategorized int        `db:"auto_categorized"`
	NeedsReview     int        `db:"needs_review"`
	Error           *string    `db:"error"`
	StartedAt       time.Time  `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
}

func (r syncRunRow) toDomain() *domain.SyncRun {
	return &domain.SyncRun{
		ID:        r.ID,
		ProfileID: r.ProfileID,
		Mode:      domain.SyncMode(r.Mode),
		Status:    domain.SyncRunStatus(r.Status),
		Result: domain.BatchResult{
			Processed:       r.Processed,
			Duplicates:      r.Duplicates,
			Errors:          r.Errors,
			USDConverted:    r.USDConverted,
			AutoCategorized: r.AutoCategorized,
			NeedsReview:     r.NeedsReview,
		},
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func (r *SyncRunRepository) Start(ctx context.Context, run *domain.SyncRun) error {
	query := `
		INSERT INTO sync_runs (profile_id, mode, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		run.ProfileID, run.Mode, run.Status, run.StartedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("start sync run: %w", err)
	}
	return nil
}

func (r *SyncRunRepository) Finish(ctx context.Context, run *domain.SyncRun) error {
	query := `
		UPDATE sync_runs SET
			status = $2, processed = $3, duplicates = $4, errors = $5,
			usd_converted = $6, auto_categorized = $7, needs_review = $8,
			error = $9, finished_at = $10
		WHERE id = $1`

	res, err := queryer(ctx, r.db).ExecContext(ctx, query,
		run.ID, run.Status,
		run.Result.Processed, run.Result.Duplicates, run.Result.Errors,
		run.Result.USDConverted, run.Result.AutoCategorized, run.Result.NeedsReview,
		run.Error, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SyncRunRepository) ListRecent(ctx context.Context, profileID string, limit int) ([]*domain.SyncRun, error) {
	query := `
		SELECT id, profile_id, mode, status, processed, duplicates, errors,
		       usd_converted, auto_categorized, needs_review, error,
		       started_at, finished_at
		FROM sync_runs
		WHERE profile_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var rows []syncRunRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query, profileID, limit); err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}

	runs := make([]*domain.SyncRun, len(rows))
	for i, row := range rows {
		runs[i] = row.toDomain()
	}
	return runs, nil
}
