package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SubcategoryRepository implements out.SubcategoryRepository.
type SubcategoryRepository struct {
	db *sqlx.DB
}

func NewSubcategoryRepository(db *sqlx.DB) out.SubcategoryRepository {
	return &SubcategoryRepository{db: db}
}

type subcategoryRow struct {
	ID          int64          `db:"id"`
	CategoryID  int64          `db:"category_id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Keywords    pq.StringArray `db:"keywords"`
}

func (r subcategoryRow) toDomain() *domain.Subcategory {
	return &domain.Subcategory{
		ID:          r.ID,
		CategoryID:  r.CategoryID,
		Name:        r.Name,
		Description: r.Description,
		Keywords:    r.Keywords,
	}
}

func (r *SubcategoryRepository) ListAll(ctx context.Context) ([]*domain.Subcategory, error) {
	query := `SELECT id, category_id, name, description, keywords FROM subcategories ORDER BY id`

	var rows []subcategoryRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("list subcategories: %w", err)
	}

	subcats := make([]*domain.Subcategory, len(rows))
	for i, row := range rows {
		subcats[i] = row.toDomain()
	}
	return subcats, nil
}

func (r *SubcategoryRepository) GetByID(ctx context.Context, id int64) (*domain.Subcategory, error) {
	query := `SELECT id, category_id, name, description, keywords FROM subcategories WHERE id = $1`

	var row subcategoryRow
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subcategory: %w", err)
	}
	return row.toDomain(), nil
}
