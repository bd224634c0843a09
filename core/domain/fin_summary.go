package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// KindTotal aggregates spend for one transaction kind over a period.
type KindTotal struct {
	Kind  TxnKind         `json:"kind"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// CategoryTotal aggregates spend for one subcategory over a period. A nil
// SubcategoryID bucket collects the uncategorized remainder.
type CategoryTotal struct {
	SubcategoryID *int64          `json:"subcategory_id"`
	Name          string          `json:"name"`
	Total         decimal.Decimal `json:"total"`
	Count         int             `json:"count"`
}

// SpendSummary is the per-profile rollup served to the dashboard. Cancelled
// transactions, internal transfers and budget-excluded rows are left out.
type SpendSummary struct {
	ProfileID  string          `json:"profile_id"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	TotalLocal decimal.Decimal `json:"total_local"`
	ByKind     []KindTotal     `json:"by_kind"`
	ByCategory []CategoryTotal `json:"by_category"`
}
