package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSource tags which provider produced a cached exchange rate.
type RateSource string

const (
	RateSourceOfficial RateSource = "official"
	RateSourceFallback RateSource = "fallback"
	RateSourceDefault  RateSource = "default"
)

// ExchangeRate is one cached USD→CRC rate. The rate is a property of the
// date, never of request time.
type ExchangeRate struct {
	Date      time.Time       `json:"date"` // date-only, UTC midnight
	Rate      decimal.Decimal `json:"rate"`
	Source    RateSource      `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RateDateKey normalizes a timestamp to the date key rates are stored under.
func RateDateKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
