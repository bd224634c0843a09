package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawMessage is an opaque record from the mail provider. The fetcher never
// parses; parsers never fetch.
type RawMessage struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	ReceivedAt  time.Time `json:"received_at"`
	ContentType string    `json:"content_type"` // "html" or "text"
	Body        string    `json:"body"`
	Attachments []RawAttachment `json:"attachments,omitempty"`
}

// RawAttachment carries attachment metadata; bytes are fetched lazily.
type RawAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// IsPDF reports whether the attachment looks like a bank statement PDF.
func (a RawAttachment) IsPDF() bool {
	return a.MimeType == "application/pdf"
}

// ParsedMetadata is the bag a parser fills for fields downstream code lifts
// into dedicated columns.
type ParsedMetadata struct {
	Beneficiary         *string `json:"beneficiary,omitempty"`
	Concepto            *string `json:"concepto,omitempty"`
	Subtype             *string `json:"subtype,omitempty"`
	BankReference       *string `json:"bank_reference,omitempty"`
	IsOwnTransfer       bool    `json:"is_own_transfer"`
	NeedsReconciliation bool    `json:"needs_reconciliation"`
}

// ParsedTransaction is a parser's output: the Transaction columns one
// notification can fill. A parser returns nil for non-transaction mail.
type ParsedTransaction struct {
	SourceMessageID string
	Bank            Bank
	Kind            TxnKind
	MerchantRaw     string
	City            *string
	Country         *string
	Amount          decimal.Decimal
	Currency        string
	TxnTime         time.Time
	CardLastFour    *string
	Metadata        ParsedMetadata
}
