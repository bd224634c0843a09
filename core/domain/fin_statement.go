package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementKind distinguishes the two PDF layouts we parse.
type StatementKind string

const (
	StatementCreditCard StatementKind = "credit_card"
	StatementDeposit    StatementKind = "deposit"
)

// StatementSection tags a credit-card row with the header it appeared under.
type StatementSection string

const (
	SectionPurchases StatementSection = "purchases"
	SectionInterest  StatementSection = "interest"
	SectionCharges   StatementSection = "charges"
	SectionServices  StatementSection = "services"
	SectionPayments  StatementSection = "payments"
	SectionUnknown   StatementSection = "unknown"
)

// BankStatement is one parsed PDF and its reconciliation outcome.
type BankStatement struct {
	ID        int64         `json:"id"`
	ProfileID string        `json:"profile_id"`
	Bank      Bank          `json:"bank"`
	Kind      StatementKind `json:"kind"`
	Filename  string        `json:"filename"`

	PeriodStart time.Time `json:"period_start"`
	CutDate     time.Time `json:"cut_date"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	CreditLimit    *decimal.Decimal `json:"credit_limit,omitempty"`
	MinimumPayment *decimal.Decimal `json:"minimum_payment,omitempty"`
	TotalLocal     decimal.Decimal  `json:"total_local"`
	TotalUSD       decimal.Decimal  `json:"total_usd"`

	Rows []StatementRow `json:"rows,omitempty"`

	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StatementRow is one extracted grid line.
type StatementRow struct {
	ID          int64            `json:"id"`
	StatementID int64            `json:"statement_id"`
	Ordinal     int              `json:"ordinal"`
	Reference   string           `json:"reference"`
	Date        time.Time        `json:"date"`
	Description string           `json:"description"`
	Location    *string          `json:"location,omitempty"`
	Currency    string           `json:"currency"`
	Amount      decimal.Decimal  `json:"amount"`
	Section     StatementSection `json:"section"`

	MatchStatus *MatchBucket `json:"match_status,omitempty"`
}

// MatchBucket is the reconciliation outcome for one row or transaction.
type MatchBucket string

const (
	BucketMatched        MatchBucket = "matched"
	BucketAmountMismatch MatchBucket = "amount_mismatch"
	BucketOnlyInPDF      MatchBucket = "only_in_pdf"
	BucketOnlyInSystem   MatchBucket = "only_in_system"
)

// RowMatch pairs a statement row with its best stored candidate, with the
// ranked reasons a user can audit.
type RowMatch struct {
	Row           StatementRow `json:"row"`
	TransactionID *int64       `json:"transaction_id,omitempty"`
	Bucket        MatchBucket  `json:"bucket"`
	Confidence    float64      `json:"confidence"` // 0..1
	Reasons       []string     `json:"reasons,omitempty"`
}

// ReconcileStatus grades a report.
type ReconcileStatus string

const (
	ReconcilePerfect     ReconcileStatus = "perfect"      // 100%
	ReconcileGood        ReconcileStatus = "good"         // >= 95%
	ReconcileNeedsReview ReconcileStatus = "needs_review" // < 95%
)

// ReconcileReport summarises one statement reconciliation.
type ReconcileReport struct {
	StatementID     int64           `json:"statement_id"`
	ProfileID       string          `json:"profile_id"`
	TotalPDF        int             `json:"total_pdf"`
	TotalSystem     int             `json:"total_system"`
	MatchedCount    int             `json:"matched_count"`
	MatchPercentage float64         `json:"match_percentage"`
	AmountMismatch  int             `json:"amount_mismatch_count"`
	OnlyInPDF       int             `json:"only_in_pdf_count"`
	OnlyInSystem    int             `json:"only_in_system_count"`
	Status          ReconcileStatus `json:"status"`
	Matches         []RowMatch      `json:"matches,omitempty"`
	OrphanTxnIDs    []int64         `json:"orphan_txn_ids,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Grade assigns the report status from the match percentage.
func (r *ReconcileReport) Grade() {
	switch {
	case r.MatchPercentage >= 100:
		r.Status = ReconcilePerfect
	case r.MatchPercentage >= 95:
		r.Status = ReconcileGood
	default:
		r.Status = ReconcileNeedsReview
	}
}
