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
	"github.com/lib/pq"
)

// MerchantRepository implements out.MerchantRepository.
type MerchantRepository struct {
	db *sqlx.DB
}

func NewMerchantRepository(db *sqlx.DB) out.MerchantRepository {
	return &MerchantRepository{db: db}
}

type merchantRow struct {
	ID             int64          `db:"id"`
	NormalizedName string         `db:"normalized_name"`
	DisplayName    string         `db:"display_name"`
	City           *string        `db:"city"`
	Country        *string        `db:"country"`
	Aliases        pq.StringArray `db:"aliases"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r merchantRow) toDomain() *domain.Merchant {
	return &domain.Merchant{
		ID:             r.ID,
		NormalizedName: r.NormalizedName,
		DisplayName:    r.DisplayName,
		City:           r.City,
		Country:        r.Country,
		Aliases:        r.Aliases,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const merchantColumns = `
	id, normalized_name, display_name, city, country, aliases, created_at, updated_at`

func (r *MerchantRepository) GetByNormalizedName(ctx context.Context, name string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE normalized_name = $1`

	var row merchantRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return row.toDomain(), nil
}

func (r *MerchantRepository) ListAll(ctx context.Context) ([]*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants ORDER BY normalized_name`

	var rows []merchantRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}

	merchants := make([]*domain.Merchant, len(rows))
	for i, row := range rows {
		merchants[i] = row.toDomain()
	}
	return merchants, nil
}

func (r *MerchantRepository) Create(ctx context.Context, m *domain.Merchant) error {
	query := `
		INSERT INTO merchants (normalized_name, display_name, city, country, aliases, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := queryer(ctx, r.db).QueryRowxContext(ctx, query,
		m.NormalizedName, m.DisplayName, m.City, m.Country, pq.StringArray(m.Aliases),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create merchant: %w", err)
	}
	return nil
}

func (r *MerchantRepository) AddAlias(ctx context.Context, id int64, alias string) error {
	query := `
		UPDATE merchants
		SET aliases = array_append(aliases, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(aliases))`

	if _, err := queryer(ctx, r.db).ExecContext(ctx, query, id, alias); err != nil {
		return fmt.Errorf("add merchant alias: %w", err)
	}
	return nil
}
