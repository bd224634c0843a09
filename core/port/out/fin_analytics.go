package out

import (
	"context"
	"time"

	"finanzas/core/domain"
)

// AnalyticsRepository computes read-model rollups over stored transactions.
type AnalyticsRepository interface {
	// SpendSummary aggregates the profile's activity inside [from, to).
	SpendSummary(ctx context.Context, profileID string, from, to time.Time) (*domain.SpendSummary, error)
}
