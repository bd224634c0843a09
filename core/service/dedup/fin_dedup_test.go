package dedup

import (
	"testing"
	"time"

	"finanzas/core/domain"

	"github.com/shopspring/decimal"
)

func TestEmailSourceIDStable(t *testing.T) {
	a := EmailSourceID("AAMkAGI2T0001=")
	b := EmailSourceID(" AAMkAGI2T0001= ")
	if a != b {
		t.Errorf("whitespace changed identity: %s vs %s", a, b)
	}
	if a == EmailSourceID("AAMkAGI2T0002=") {
		t.Error("distinct messages collided")
	}
	if a[:6] != "email_" {
		t.Errorf("id %q missing source prefix", a)
	}
}

func TestStatementRowIDCompound(t *testing.T) {
	amt := decimal.RequireFromString("45000")
	base := StatementRowID(7, "123456", 3, "AUTO MERCADO", amt)

	// The same reference on a different statement is a different identity.
	if base == StatementRowID(8, "123456", 3, "AUTO MERCADO", amt) {
		t.Error("statement id not part of identity")
	}
	if base == StatementRowID(7, "123456", 4, "AUTO MERCADO", amt) {
		t.Error("row ordinal not part of identity")
	}
	if base != StatementRowID(7, "123456", 3, "AUTO MERCADO", amt) {
		t.Error("identical row produced different ids")
	}
	if base[:4] != "pdf_" {
		t.Errorf("id %q missing source prefix", base)
	}
}

func txn(id int64, emailID string, merchant int64, amount string, day int) *domain.Transaction {
	m := merchant
	return &domain.Transaction{
		ID:          id,
		EmailID:     emailID,
		ProfileID:   "p1",
		MerchantID:  &m,
		AmountLocal: decimal.RequireFromString(amount),
		TxnTime:     time.Date(2026, 4, day, 12, 0, 0, 0, time.UTC),
	}
}

func TestScorePair(t *testing.T) {
	tests := []struct {
		name      string
		a, b      *domain.Transaction
		wantScore int
	}{
		{
			name:      "exact amount same date",
			a:         txn(1, "e1", 10, "45000", 5),
			b:         txn(2, "e2", 10, "45000", 5),
			wantScore: 95,
		},
		{
			name:      "within one percent adjacent day",
			a:         txn(1, "e1", 10, "45000", 5),
			b:         txn(2, "e2", 10, "45100", 6),
			wantScore: 80,
		},
		{
			name:      "within five percent three days",
			a:         txn(1, "e1", 10, "45000", 5),
			b:         txn(2, "e2", 10, "46800", 8),
			wantScore: 60,
		},
		{
			name:      "amount drift over five percent",
			a:         txn(1, "e1", 10, "45000", 5),
			b:         txn(2, "e2", 10, "48000", 5),
			wantScore: 0,
		},
		{
			name:      "different merchant",
			a:         txn(1, "e1", 10, "45000", 5),
			b:         txn(2, "e2", 11, "45000", 5),
			wantScore: 0,
		},
		{
			name:      "too far apart in time",
			a:         txn(1, "e1", 10, "45000", 5),
			b:         txn(2, "e2", 10, "45000", 15),
			wantScore: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := ScorePair(tt.a, tt.b)
			if got != tt.wantScore {
				t.Errorf("score = %d, want %d", got, tt.wantScore)
			}
			if got >= scoreWeak && len(reasons) == 0 {
				t.Error("duplicate pair carries no reasons")
			}
		})
	}
}

func TestScorePairDifferentCardIsNotDuplicate(t *testing.T) {
	a := txn(1, "e1", 10, "45000", 5)
	b := txn(2, "e2", 10, "45000", 5)
	c1, c2 := int64(1), int64(2)
	a.CardID, b.CardID = &c1, &c2

	if score, _ := ScorePair(a, b); score != 0 {
		t.Errorf("twin charges on different cards scored %d, want 0", score)
	}

	// Same card keeps the signal.
	b.CardID = &c1
	if score, _ := ScorePair(a, b); score != 95 {
		t.Errorf("same-card exact pair scored %d, want 95", score)
	}
}

func TestFindDuplicates(t *testing.T) {
	txns := []*domain.Transaction{
		txn(1, "e1", 10, "45000", 5),
		txn(2, "e2", 10, "45000", 5), // dup of 1
		txn(3, "e3", 11, "9900", 5),  // unrelated merchant
		txn(4, "e4", 10, "46800", 8), // weak dup of 1 and 2
	}

	pairs := FindDuplicates(txns)
	if len(pairs) != 3 {
		t.Fatalf("pairs = %d, want 3", len(pairs))
	}
	if pairs[0].SimilarityScore != 95 {
		t.Errorf("first pair score = %d, want 95", pairs[0].SimilarityScore)
	}
	for _, p := range pairs {
		if p.ProfileID != "p1" {
			t.Errorf("pair missing profile id")
		}
	}
}
