package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is a detected recurring charge.
type Subscription struct {
	ID         int64  `json:"id"`
	ProfileID  string `json:"profile_id"`
	MerchantID *int64 `json:"merchant_id,omitempty"`
	MerchantKey string `json:"merchant_key"`

	AvgAmount   decimal.Decimal `json:"avg_amount"`
	CadenceDays int             `json:"cadence_days"`
	Occurrences int             `json:"occurrences"`
	Confidence  int             `json:"confidence"` // 0-100

	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	NextExpected time.Time `json:"next_expected"`
	Active       bool      `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertWindow is how far ahead (or behind) a projection alert fires.
type AlertWindow int

const (
	AlertWeekBefore AlertWindow = 7
	AlertSoon       AlertWindow = 3
	AlertTomorrow   AlertWindow = 1
	AlertToday      AlertWindow = 0
	AlertOverdue    AlertWindow = -1
)

// SubscriptionAlert is a projected-charge notification.
type SubscriptionAlert struct {
	SubscriptionID int64           `json:"subscription_id"`
	ProfileID      string          `json:"profile_id"`
	MerchantKey    string          `json:"merchant_key"`
	Amount         decimal.Decimal `json:"amount"`
	Expected       time.Time       `json:"expected"`
	Window         AlertWindow     `json:"window"`
	Urgent         bool            `json:"urgent"`
}

// PendingAlert returns the alert window applicable today, or false when no
// alert is due. Alerts fire at 7, 3, 1 and 0 days before the expected
// charge, and an urgent one once it is overdue.
func (s *Subscription) PendingAlert(today time.Time) (AlertWindow, bool) {
	days := int(s.NextExpected.Sub(today).Hours() / 24)
	switch {
	case days < 0:
		return AlertOverdue, true
	case days == 0:
		return AlertToday, true
	case days == 1:
		return AlertTomorrow, true
	case days == 3:
		return AlertSoon, true
	case days == 7:
		return AlertWeekBefore, true
	}
	return 0, false
}
