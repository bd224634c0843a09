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

// ProfileRepository implements out.ProfileRepository.
type ProfileRepository struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) out.ProfileRepository {
	return &ProfileRepository{db: db}
}

type profileRow struct {
	ID                 string     `db:"id"`
	Name               string     `db:"name"`
	MailAddress        string     `db:"mail_address"`
	Active             bool       `db:"active"`
	LastStatementDate  *time.Time `db:"last_statement_date"`
	LastSyncDate       *time.Time `db:"last_sync_date"`
	StatementCycleDays *int       `db:"statement_cycle_days"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r profileRow) toDomain() *domain.Profile {
	return &domain.Profile{
		ID:                 r.ID,
		Name:               r.Name,
		MailAddress:        r.MailAddress,
		Active:             r.Active,
		LastStatementDate:  r.LastStatementDate,
		LastSyncDate:       r.LastSyncDate,
		StatementCycleDays: r.StatementCycleDays,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

const profileColumns = `
	id, name, mail_address, active, last_statement_date, last_sync_date,
	statement_cycle_days, created_at, updated_at`

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	var row profileRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ProfileRepository) ListActive(ctx context.Context) ([]*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE active ORDER BY id`

	var rows []profileRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}

	profiles := make([]*domain.Profile, len(rows))
	for i, row := range rows {
		profiles[i] = row.toDomain()
	}
	return profiles, nil
}

func (r *ProfileRepository) Create(ctx context.Context, p *domain.Profile) error {
	query := `
		INSERT INTO profiles (id, name, mail_address, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query, p.ID, p.Name, p.MailAddress, p.Active).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// CommitSyncMetadata advances the sync bookkeeping in one statement.
// COALESCE keeps whatever a nil argument would have cleared.
func (r *ProfileRepository) CommitSyncMetadata(ctx context.Context, id string, lastSync, lastStatement *time.Time, cycleDays *int) error {
	query := `
		UPDATE profiles SET
			last_sync_date = COALESCE($2, last_sync_date),
			last_statement_date = COALESCE($3, last_statement_date),
			statement_cycle_days = COALESCE($4, statement_cycle_days),
			updated_at = NOW()
		WHERE id = $1`

	result, err := queryer(ctx, r.db).ExecContext(ctx, query, id, lastSync, lastStatement, cycleDays)
	if err != nil {
		return fmt.Errorf("commit sync metadata: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
