// Package domain holds the core finance models shared by every service.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LocalCurrency is the currency every transaction is settled in.
const LocalCurrency = "CRC"

type Bank string

const (
	BankBAC Bank = "bac"
)

// TxnKind classifies the movement a notification or statement row describes.
type TxnKind string

const (
	KindPurchase       TxnKind = "purchase"
	KindTransfer       TxnKind = "transfer"
	KindSinpe          TxnKind = "sinpe"
	KindDeposit        TxnKind = "deposit"
	KindWithdrawal     TxnKind = "withdrawal"
	KindInterestEarned TxnKind = "interest_earned"
	KindInterestCharge TxnKind = "interest_charge"
	KindServicePayment TxnKind = "service_payment"
	KindInsurance      TxnKind = "insurance"
	KindCardPayment    TxnKind = "card_payment"
	KindAdjustment     TxnKind = "adjustment"
	KindOther          TxnKind = "other"
)

// TxnStatus tracks a transaction through the reconciliation lifecycle.
type TxnStatus string

const (
	StatusPending    TxnStatus = "pending"
	StatusConfirmed  TxnStatus = "confirmed"
	StatusReconciled TxnStatus = "reconciled"
	StatusCancelled  TxnStatus = "cancelled"
	StatusOrphan     TxnStatus = "orphan"
)

// Transaction is the canonical unit of the pipeline. EmailID is the
// content-addressed identity; it is unique per profile and re-ingesting the
// same source is a no-op.
type Transaction struct {
	ID        int64  `json:"id"`
	EmailID   string `json:"email_id"`
	ProfileID string `json:"profile_id"`
	Bank      Bank   `json:"bank"`
	CardID    *int64 `json:"card_id,omitempty"`

	Kind        TxnKind `json:"kind"`
	MerchantRaw string  `json:"merchant_raw"`
	MerchantID  *int64  `json:"merchant_id,omitempty"`

	AmountOriginal   decimal.Decimal  `json:"amount_original"`
	CurrencyOriginal string           `json:"currency_original"`
	FxRate           *decimal.Decimal `json:"fx_rate,omitempty"`
	AmountLocal      decimal.Decimal  `json:"amount_local"`

	TxnTime time.Time `json:"txn_time"`

	Beneficiary     *string `json:"beneficiary,omitempty"`
	TransferMemo    *string `json:"transfer_memo,omitempty"`
	Subtype         *string `json:"subtype,omitempty"`
	BankReference   *string `json:"bank_reference,omitempty"`
	BankAccountIBAN *string `json:"bank_account_iban,omitempty"`

	SubcategoryID           *int64  `json:"subcategory_id,omitempty"`
	CategoryConfidence      int     `json:"category_confidence"` // 0-100
	CategorySource          *string `json:"category_source,omitempty"`
	AISuggestion            *int64  `json:"ai_suggestion,omitempty"` // preserved on user correction
	CategoryNeedsReview     bool    `json:"category_needs_review"`
	CategoryConfirmedByUser bool    `json:"category_confirmed_by_user"`

	Status TxnStatus `json:"status"`

	IsInternalTransfer  bool     `json:"is_internal_transfer"`
	ExcludeFromBudget   bool     `json:"exclude_from_budget"`
	IsAmbiguousMerchant bool     `json:"is_ambiguous_merchant"`
	IsInternational     bool     `json:"is_international"`
	IsAnomaly           bool     `json:"is_anomaly"`
	AnomalyScore        *float64 `json:"anomaly_score,omitempty"`
	SpecialType         *string  `json:"special_type,omitempty"`

	Notes            *string    `json:"notes,omitempty"`
	Context          *string    `json:"context,omitempty"`
	AdjustmentReason *string    `json:"adjustment_reason,omitempty"`
	ReconciledAt     *time.Time `json:"reconciled_at,omitempty"`
	StatementRowID   *int64     `json:"statement_row_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoundLocal rounds to two fractional digits, half-up. Every local amount
// in the system goes through this.
func RoundLocal(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ApplyFxRate fills AmountLocal from AmountOriginal. For local-currency
// transactions the rate must be nil and AmountLocal mirrors AmountOriginal.
func (t *Transaction) ApplyFxRate(rate *decimal.Decimal) {
	if t.CurrencyOriginal == LocalCurrency {
		t.FxRate = nil
		t.AmountLocal = t.AmountOriginal
		return
	}
	t.FxRate = rate
	if rate != nil {
		t.AmountLocal = t.AmountOriginal.Mul(*rate).Round(2)
	}
	t.IsInternational = true
}

// MarkInternalTransfer flags the transaction as a movement between the
// user's own accounts. Internal transfers never count against budgets.
func (t *Transaction) MarkInternalTransfer(specialType string) {
	t.IsInternalTransfer = true
	t.ExcludeFromBudget = true
	if specialType != "" {
		t.SpecialType = &specialType
	}
}

// Validate checks the invariants that must hold before a commit. A failure
// here is an internal bug, not bad input, and aborts the batch.
func (t *Transaction) Validate() error {
	if t.EmailID == "" {
		return fmt.Errorf("transaction missing email_id")
	}
	if t.ProfileID == "" {
		return fmt.Errorf("transaction %s missing profile_id", t.EmailID)
	}
	if t.TxnTime.IsZero() {
		return fmt.Errorf("transaction %s missing txn_time", t.EmailID)
	}
	if t.CurrencyOriginal == LocalCurrency {
		if t.FxRate != nil {
			return fmt.Errorf("transaction %s: local currency with fx_rate", t.EmailID)
		}
		if !t.AmountLocal.Equal(t.AmountOriginal) {
			return fmt.Errorf("transaction %s: amount_local != amount_original for local currency", t.EmailID)
		}
	} else {
		if t.FxRate == nil {
			return fmt.Errorf("transaction %s: foreign currency without fx_rate", t.EmailID)
		}
		want := t.AmountOriginal.Mul(*t.FxRate).Round(2)
		if t.AmountLocal.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
			return fmt.Errorf("transaction %s: amount_local %s does not match %s", t.EmailID, t.AmountLocal, want)
		}
	}
	if t.IsInternalTransfer && !t.ExcludeFromBudget {
		return fmt.Errorf("transaction %s: internal transfer not excluded from budget", t.EmailID)
	}
	if t.SubcategoryID == nil && t.CategoryConfidence != 0 {
		return fmt.Errorf("transaction %s: confidence without subcategory", t.EmailID)
	}
	return nil
}

// PinToNoon places a date-only source at local noon so the UTC instant never
// drifts across the timezone day boundary.
func PinToNoon(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, loc).UTC()
}

// TransactionFilter narrows list queries. Nil fields are ignored.
type TransactionFilter struct {
	ProfileID     string
	MerchantID    *int64
	SubcategoryID *int64
	Status        *TxnStatus
	Kind          *TxnKind
	NeedsReview   *bool
	DateFrom      *time.Time
	DateTo        *time.Time
	Limit         int
	Offset        int
}
