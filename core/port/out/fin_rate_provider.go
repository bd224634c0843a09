package out

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateProvider answers the USD→CRC rate for a date, or (nil, nil) when the
// provider has no rate for that date. Providers are tried in priority order
// by the fx cache; only the last one (the static default) always answers.
type RateProvider interface {
	Name() string
	RateFor(ctx context.Context, date time.Time) (*decimal.Decimal, error)
}
