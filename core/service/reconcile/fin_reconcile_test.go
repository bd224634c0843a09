package reconcile

import (
	"testing"
	"time"

	"finanzas/core/domain"

	"github.com/shopspring/decimal"
)

func day(d int) time.Time {
	return domain.PinToNoon(2026, time.January, d, time.UTC)
}

func row(ordinal int, desc, amount string, d int) domain.StatementRow {
	return domain.StatementRow{
		ID:          int64(1000 + ordinal),
		Ordinal:     ordinal,
		Reference:   "R" + string(rune('0'+ordinal)),
		Description: desc,
		Currency:    domain.LocalCurrency,
		Amount:      decimal.RequireFromString(amount),
		Date:        day(d),
		Section:     domain.SectionPurchases,
	}
}

func storedTxn(id int64, merchant, amount string, d int) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		ProfileID:   "p1",
		MerchantRaw: merchant,
		AmountLocal: decimal.RequireFromString(amount),
		TxnTime:     day(d),
		Status:      domain.StatusConfirmed,
	}
}

func stmt(rows ...domain.StatementRow) *domain.BankStatement {
	return &domain.BankStatement{
		ID:          7,
		ProfileID:   "p1",
		Kind:        domain.StatementCreditCard,
		PeriodStart: day(1),
		CutDate:     day(31),
		Rows:        rows,
	}
}

func TestMatchBuckets(t *testing.T) {
	st := stmt(
		row(0, "AUTO MERCADO SANTA ANA", "45000", 10), // exact
		row(1, "UBER TRIP 8NZ4K2P91Q", "8500", 12),    // 3 days off, fuzzy tier
		row(2, "FARMACIA FISCHEL", "12100", 20),       // amount within 1%
		row(3, "NETFLIX.COM", "6200", 25),             // amount mismatch
		row(4, "SUPER CASH COMPRA", "30000", 28),      // only in pdf
	)
	stored := []*domain.Transaction{
		storedTxn(1, "AUTO MERCADO SANTA ANA", "45000", 10),
		storedTxn(2, "UBER TRIP HX82Q1L0ZZ", "8500", 15),
		storedTxn(3, "FARMACIA FISCHEL SAN JOSE", "12000", 20),
		storedTxn(4, "NETFLIX.COM", "5500", 25),
		storedTxn(5, "SINPE MARIA ROSA", "20000", 18), // only in system
	}

	report := Match(st, stored)

	if report.TotalPDF != 5 || report.TotalSystem != 5 {
		t.Fatalf("totals = %d/%d", report.TotalPDF, report.TotalSystem)
	}
	if report.MatchedCount != 3 {
		t.Errorf("matched = %d, want 3", report.MatchedCount)
	}
	if report.AmountMismatch != 1 {
		t.Errorf("amount mismatch = %d, want 1", report.AmountMismatch)
	}
	if report.OnlyInPDF != 1 {
		t.Errorf("only in pdf = %d, want 1", report.OnlyInPDF)
	}
	if report.OnlyInSystem != 1 {
		t.Errorf("only in system = %d, want 1", report.OnlyInSystem)
	}
	if len(report.OrphanTxnIDs) != 1 || report.OrphanTxnIDs[0] != 5 {
		t.Errorf("orphans = %v, want [5]", report.OrphanTxnIDs)
	}

	if report.Matches[0].Confidence != 0.95 {
		t.Errorf("exact match confidence = %v", report.Matches[0].Confidence)
	}
	if report.Matches[1].Confidence != 0.80 {
		t.Errorf("fuzzy match confidence = %v", report.Matches[1].Confidence)
	}
	if report.Matches[2].Confidence != 0.60 {
		t.Errorf("weak match confidence = %v", report.Matches[2].Confidence)
	}
	if report.Matches[3].Bucket != domain.BucketAmountMismatch {
		t.Errorf("bucket = %s, want amount_mismatch", report.Matches[3].Bucket)
	}
	if len(report.Matches[0].Reasons) == 0 {
		t.Error("match carries no reasons")
	}

	if report.MatchPercentage != 60 {
		t.Errorf("match percentage = %v, want 60", report.MatchPercentage)
	}
	if report.Status != domain.ReconcileNeedsReview {
		t.Errorf("status = %s", report.Status)
	}
}

func TestMatchTransactionClaimedOnce(t *testing.T) {
	// Two identical rows, one stored transaction: only one row matches.
	st := stmt(
		row(0, "WALMART HEREDIA", "15000", 15),
		row(1, "WALMART HEREDIA", "15000", 15),
	)
	stored := []*domain.Transaction{
		storedTxn(1, "WALMART HEREDIA", "15000", 15),
	}

	report := Match(st, stored)

	if report.MatchedCount != 1 {
		t.Errorf("matched = %d, want 1", report.MatchedCount)
	}
	if report.OnlyInPDF != 1 {
		t.Errorf("only in pdf = %d, want 1", report.OnlyInPDF)
	}
}

func TestMatchFuturePeriodAllOnlyInPDF(t *testing.T) {
	st := stmt(
		row(0, "AUTO MERCADO", "45000", 10),
		row(1, "UBER TRIP", "8500", 12),
	)

	report := Match(st, nil)

	if report.TotalSystem != 0 {
		t.Errorf("total system = %d", report.TotalSystem)
	}
	if report.OnlyInPDF != 2 {
		t.Errorf("only in pdf = %d, want 2", report.OnlyInPDF)
	}
	if report.MatchPercentage != 0 {
		t.Errorf("match percentage = %v", report.MatchPercentage)
	}
}

func TestMatchFullyReconciledIsPerfect(t *testing.T) {
	st := stmt(
		row(0, "AUTO MERCADO", "45000", 10),
		row(1, "NETFLIX.COM", "5500", 25),
	)
	stored := []*domain.Transaction{
		storedTxn(1, "AUTO MERCADO", "45000", 10),
		storedTxn(2, "NETFLIX.COM", "5500", 25),
	}

	report := Match(st, stored)

	if report.MatchPercentage != 100 {
		t.Fatalf("match percentage = %v", report.MatchPercentage)
	}
	if report.Status != domain.ReconcilePerfect {
		t.Errorf("status = %s", report.Status)
	}
	if report.OnlyInSystem != 0 || report.OnlyInPDF != 0 {
		t.Errorf("buckets not empty: %+v", report)
	}
}

func TestMatchNineteenOfTwenty(t *testing.T) {
	// A cash purchase appears on the statement but never produced an email.
	var rows []domain.StatementRow
	var stored []*domain.Transaction
	for i := 0; i < 19; i++ {
		rows = append(rows, row(i, "COMERCIO GRANDE", decimal.NewFromInt(int64(1000+i*100)).String(), 2+i))
		stored = append(stored, storedTxn(int64(i+1), "COMERCIO GRANDE", decimal.NewFromInt(int64(1000+i*100)).String(), 2+i))
	}
	rows = append(rows, row(19, "SUPERMERCADO EFECTIVO", "7777", 21))

	report := Match(stmt(rows...), stored)

	if report.MatchedCount != 19 {
		t.Errorf("matched = %d, want 19", report.MatchedCount)
	}
	if report.OnlyInPDF != 1 {
		t.Errorf("only in pdf = %d, want 1", report.OnlyInPDF)
	}
	if report.Status != domain.ReconcileGood {
		t.Errorf("status = %s (%.1f%%)", report.Status, report.MatchPercentage)
	}
}
