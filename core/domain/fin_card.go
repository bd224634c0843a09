package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is a credit card the profile owns. LastFour is what payment
// descriptors carry (PAGO TC ****1234), so it is the lookup key when the
// internal-transfer detector resolves a card payment.
type Card struct {
	ID        int64  `json:"id"`
	ProfileID string `json:"profile_id"`
	Bank      Bank   `json:"bank"`
	LastFour  string `json:"last_four"`
	Label     string `json:"label"`

	Balance     decimal.Decimal `json:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Active      bool            `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
