// Package reconcile matches statement PDF rows against stored
// email-derived transactions and grades the outcome. Matching never
// mutates matched transactions beyond status, reconciled_at and the row
// link; "only in PDF" rows are added elsewhere through the regular
// ingestion path so they are indistinguishable from email-sourced data.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/normalize"
	"finanzas/pkg/logger"

	"github.com/shopspring/decimal"
)

// Confidence tiers per match quality.
const (
	confExact   = 0.95
	confFuzzy   = 0.80
	confWeak    = 0.60
	minMatch    = 0.50
	mismatchPct = 0.005 // amount delta beyond this on a strong match is a mismatch
)

// Service runs reconciliation for one statement at a time.
type Service struct {
	transactions out.TransactionRepository
	statements   out.StatementRepository
	log          *logger.Logger
}

func NewService(transactions out.TransactionRepository, statements out.StatementRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{transactions: transactions, statements: statements, log: log}
}

// Reconcile matches every row of the statement against the profile's stored
// transactions in the statement period plus the traslape, persists the
// matches and the report, and returns it.
func (s *Service) Reconcile(ctx context.Context, st *domain.BankStatement, traslapeDays int) (*domain.ReconcileReport, error) {
	from := st.PeriodStart.AddDate(0, 0, -traslapeDays)
	to := st.CutDate.AddDate(0, 0, traslapeDays)

	stored, err := s.transactions.List(ctx, &domain.TransactionFilter{
		ProfileID: st.ProfileID,
		DateFrom:  &from,
		DateTo:    &to,
	})
	if err != nil {
		return nil, err
	}

	report := Match(st, stored)

	now := time.Now().UTC()
	for _, m := range report.Matches {
		if m.Bucket != domain.BucketMatched || m.TransactionID == nil {
			continue
		}
		if err := s.transactions.MarkReconciled(ctx, *m.TransactionID, m.Row.ID, now); err != nil {
			return nil, err
		}
	}
	if err := s.statements.SaveReport(ctx, report); err != nil {
		return nil, err
	}

	s.log.WithProfile(st.ProfileID).Info("reconcile: statement %s %.1f%% matched (%s)",
		st.Filename, report.MatchPercentage, report.Status)
	return report, nil
}

// Match is the pure matching algorithm: rows against stored transactions,
// greedy best-first so a transaction is claimed by at most one row.
func Match(st *domain.BankStatement, stored []*domain.Transaction) *domain.ReconcileReport {
	report := &domain.ReconcileReport{
		StatementID: st.ID,
		ProfileID:   st.ProfileID,
		TotalPDF:    len(st.Rows),
		TotalSystem: len(stored),
		GeneratedAt: time.Now().UTC(),
	}

	type scored struct {
		rowIdx     int
		txnIdx     int
		confidence float64
		mismatch   bool
		reasons    []string
	}
	var candidates []scored

	for ri, row := range st.Rows {
		rowKey := normalize.Key(row.Description)
		for ti, txn := range stored {
			conf, mismatch, reasons := scoreRow(row, rowKey, txn)
			if conf < minMatch && !mismatch {
				continue
			}
			candidates = append(candidates, scored{ri, ti, conf, mismatch, reasons})
		}
	}

	// Real matches beat mismatch reports; then by confidence.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].mismatch != candidates[j].mismatch {
			return !candidates[i].mismatch
		}
		return candidates[i].confidence > candidates[j].confidence
	})

	rowTaken := make([]bool, len(st.Rows))
	txnTaken := make([]bool, len(stored))
	matches := make([]domain.RowMatch, len(st.Rows))

	for _, c := range candidates {
		if rowTaken[c.rowIdx] || txnTaken[c.txnIdx] {
			continue
		}
		rowTaken[c.rowIdx] = true
		txnTaken[c.txnIdx] = true

		bucket := domain.BucketMatched
		if c.mismatch {
			bucket = domain.BucketAmountMismatch
		}
		matches[c.rowIdx] = domain.RowMatch{
			Row:           st.Rows[c.rowIdx],
			TransactionID: &stored[c.txnIdx].ID,
			Bucket:        bucket,
			Confidence:    c.confidence,
			Reasons:       c.reasons,
		}
	}

	for ri := range st.Rows {
		if !rowTaken[ri] {
			matches[ri] = domain.RowMatch{
				Row:    st.Rows[ri],
				Bucket: domain.BucketOnlyInPDF,
			}
		}
		matches[ri].Row.MatchStatus = &matches[ri].Bucket
		switch matches[ri].Bucket {
		case domain.BucketMatched:
			report.MatchedCount++
		case domain.BucketAmountMismatch:
			report.AmountMismatch++
		case domain.BucketOnlyInPDF:
			report.OnlyInPDF++
		}
	}
	report.Matches = matches

	for ti, txn := range stored {
		if !txnTaken[ti] {
			report.OnlyInSystem++
			report.OrphanTxnIDs = append(report.OrphanTxnIDs, txn.ID)
		}
	}

	if report.TotalPDF > 0 {
		report.MatchPercentage = 100 * float64(report.MatchedCount) / float64(report.TotalPDF)
	} else {
		report.MatchPercentage = 100
	}
	report.Grade()
	return report
}

// scoreRow rates one row/transaction pairing. Returns the confidence, an
// amount-mismatch flag for strong merchant+date pairs whose amounts
// disagree, and the ranked reasons.
func scoreRow(row domain.StatementRow, rowKey string, txn *domain.Transaction) (float64, bool, []string) {
	txnKey := normalize.Key(txn.MerchantRaw)

	amount := txn.AmountLocal
	if row.Currency != domain.LocalCurrency {
		amount = txn.AmountOriginal
	}
	exactAmount := row.Amount.Abs().Equal(amount.Abs())
	drift := amountDrift(row.Amount, amount)
	dayGap := dayDistance(row.Date, txn.TxnTime)

	merchantExact := normalize.Equivalent(rowKey, txnKey)
	merchantToken := merchantExact || sharedSignificantToken(rowKey, txnKey)

	switch {
	case exactAmount && merchantExact && dayGap <= 2:
		return confExact, false, []string{"exact_amount", "merchant_match", "date_within_2d"}
	case exactAmount && merchantToken && dayGap <= 5:
		return confFuzzy, false, []string{"exact_amount", "merchant_token_match", "date_within_5d"}
	case drift <= 0.01 && merchantToken && dayGap <= 5:
		return confWeak, false, []string{"amount_within_1pct", "merchant_similar", "date_within_5d"}
	case merchantExact && dayGap <= 2 && drift > mismatchPct:
		return 0, true, []string{"merchant_match", "date_within_2d", "amount_mismatch"}
	default:
		return 0, false, nil
	}
}

func sharedSignificantToken(a, b string) bool {
	ta := significantTokens(a)
	for t := range significantTokens(b) {
		if ta[t] {
			return true
		}
	}
	return false
}

func significantTokens(key string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(key) {
		if len(w) >= 4 {
			out[w] = true
		}
	}
	return out
}

func amountDrift(a, b decimal.Decimal) float64 {
	aa, bb := a.Abs(), b.Abs()
	if aa.IsZero() && bb.IsZero() {
		return 0
	}
	base := decimal.Max(aa, bb)
	f, _ := aa.Sub(bb).Abs().Div(base).Float64()
	return f
}

func dayDistance(a, b time.Time) int {
	da := a.UTC().Truncate(24 * time.Hour)
	db := b.UTC().Truncate(24 * time.Hour)
	gap := int(da.Sub(db).Hours() / 24)
	if gap < 0 {
		gap = -gap
	}
	return gap
}
