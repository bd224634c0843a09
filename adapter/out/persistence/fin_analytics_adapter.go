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

// AnalyticsRepository implements out.AnalyticsRepository with GROUP BY
// rollups straight off the transactions table.
type AnalyticsRepository struct {
	db *sqlx.DB
}

func NewAnalyticsRepository(db *sqlx.DB) out.AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// budgetFilter keeps the rollups consistent with what the dashboard treats
// as real spend: no cancelled rows, no internal transfers, no excluded rows.
const budgetFilter = `
	profile_id = $1
	AND txn_time >= $2 AND txn_time < $3
	AND status <> 'cancelled'
	AND NOT is_internal_transfer
	AND NOT exclude_from_budget`

type kindTotalRow struct {
	Kind  string          `db:"kind"`
	Total decimal.Decimal `db:"total"`
	Count int             `db:"count"`
}

type categoryTotalRow struct {
	SubcategoryID *int64          `db:"subcategory_id"`
	Name          *string         `db:"name"`
	Total         decimal.Decimal `db:"total"`
	Count         int             `db:"count"`
}

func (r *AnalyticsRepository) SpendSummary(ctx context.Context, profileID string, from, to time.Time) (*domain.SpendSummary, error) {
	summary := &domain.SpendSummary{
		ProfileID:  profileID,
		From:       from,
		To:         to,
		TotalLocal: decimal.Zero,
	}

	kindQuery := `
		SELECT kind, COALESCE(SUM(amount_local), 0) AS total, COUNT(*) AS count
		FROM transactions
		WHERE ` + budgetFilter + `
		GROUP BY kind
		ORDER BY total DESC`

	var kindRows []kindTotalRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &kindRows, kindQuery, profileID, from, to); err != nil {
		return nil, fmt.Errorf("summarize by kind: %w", err)
	}
	for _, row := range kindRows {
		summary.ByKind = append(summary.ByKind, domain.KindTotal{
			Kind:  domain.TxnKind(row.Kind),
			Total: row.Total,
			Count: row.Count,
		})
		summary.TotalLocal = summary.TotalLocal.Add(row.Total)
	}

	categoryQuery := `
		SELECT t.subcategory_id, s.name, COALESCE(SUM(t.amount_local), 0) AS total, COUNT(*) AS count
		FROM transactions t
		LEFT JOIN subcategories s ON s.id = t.subcategory_id
		WHERE ` + budgetFilterAliased + `
		GROUP BY t.subcategory_id, s.name
		ORDER BY total DESC`

	var catRows []categoryTotalRow
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &catRows, categoryQuery, profileID, from, to); err != nil {
		return nil, fmt.Errorf("summarize by category: %w", err)
	}
	for _, row := range catRows {
		name := "Sin categoría"
		if row.Name != nil {
			name = *row.Name
		}
		summary.ByCategory = append(summary.ByCategory, domain.CategoryTotal{
			SubcategoryID: row.SubcategoryID,
			Name:          name,
			Total:         row.Total,
			Count:         row.Count,
		})
	}

	return summary, nil
}

// budgetFilterAliased is budgetFilter with the transactions alias used by the
// category join.
const budgetFilterAliased = `
	t.profile_id = $1
	AND t.txn_time >= $2 AND t.txn_time < $3
	AND t.status <> 'cancelled'
	AND NOT t.is_internal_transfer
	AND NOT t.exclude_from_budget`
