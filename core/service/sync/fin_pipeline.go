// Package sync orchestrates per-profile ingestion: mode selection, the
// fetch-parse-categorize-persist pipeline and the single sync-metadata
// commit at the end of a successful run.
package sync

import (
	"context"
	"errors"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/categorize"
	"finanzas/core/service/dedup"
	"finanzas/core/service/fx"
	"finanzas/core/service/normalize"
	"finanzas/core/service/parser"
	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"
)

// Pipeline turns raw sources into persisted transactions. Every per-record
// failure is counted and skipped; only infrastructure errors and invariant
// violations abort the batch.
type Pipeline struct {
	parsers      *parser.Registry
	merchants    *normalize.Service
	cards        out.CardRepository
	transactions out.TransactionRepository
	categorizer  *categorize.Service
	rates        *fx.Service
	archive      out.RawArchive
	log          *logger.Logger
}

func NewPipeline(
	parsers *parser.Registry,
	merchants *normalize.Service,
	cards out.CardRepository,
	transactions out.TransactionRepository,
	categorizer *categorize.Service,
	rates *fx.Service,
	archive out.RawArchive,
	log *logger.Logger,
) *Pipeline {
	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{
		parsers:      parsers,
		merchants:    merchants,
		cards:        cards,
		transactions: transactions,
		categorizer:  categorizer,
		rates:        rates,
		archive:      archive,
		log:          log,
	}
}

// IngestMessages runs the full pipeline over a batch of raw messages.
// Ordering inside the batch does not matter; identity is content-addressed.
func (p *Pipeline) IngestMessages(ctx context.Context, profileID string, msgs []*domain.RawMessage) (domain.BatchResult, error) {
	var result domain.BatchResult
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if p.archive != nil {
			if err := p.archive.SaveMessage(ctx, profileID, msg); err != nil {
				p.log.WithError(err).WithProfile(profileID).Warn("pipeline: archive write failed for %s", msg.ID)
			}
		}

		parsed, err := p.parsers.Parse(msg)
		if err != nil {
			if apperr.Skippable(err) {
				result.Errors++
				p.log.WithError(err).WithProfile(profileID).Warn("pipeline: message %s skipped", msg.ID)
				continue
			}
			return result, err
		}

		t := &domain.Transaction{
			EmailID:          dedup.EmailSourceID(msg.ID),
			ProfileID:        profileID,
			Bank:             parsed.Bank,
			Kind:             parsed.Kind,
			MerchantRaw:      parsed.MerchantRaw,
			AmountOriginal:   parsed.Amount,
			CurrencyOriginal: parsed.Currency,
			TxnTime:          parsed.TxnTime,
			Beneficiary:      parsed.Metadata.Beneficiary,
			TransferMemo:     parsed.Metadata.Concepto,
			Subtype:          parsed.Metadata.Subtype,
			BankReference:    parsed.Metadata.BankReference,
			Status:           domain.StatusConfirmed,
		}
		if parsed.Metadata.IsOwnTransfer {
			t.MarkInternalTransfer("own_transfer")
		}
		if parsed.CardLastFour != nil {
			card, err := p.cards.GetByLastFour(ctx, profileID, *parsed.CardLastFour)
			if err != nil {
				return result, err
			}
			if card != nil {
				t.CardID = &card.ID
			}
		}

		counters, err := p.finalize(ctx, t, parsed.City, parsed.Country)
		if err != nil {
			return result, err
		}
		result.Merge(counters)
	}
	return result, nil
}

// IngestStatementRows feeds statement rows through the same path as email
// notifications so a PDF-sourced transaction is indistinguishable from an
// email-sourced one.
func (p *Pipeline) IngestStatementRows(ctx context.Context, profileID string, st *domain.BankStatement, rows []domain.StatementRow) (domain.BatchResult, error) {
	var result domain.BatchResult
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		t := &domain.Transaction{
			EmailID:          dedup.StatementRowID(st.ID, row.Reference, row.Ordinal, row.Description, row.Amount),
			ProfileID:        profileID,
			Bank:             st.Bank,
			Kind:             rowKind(row),
			MerchantRaw:      row.Description,
			AmountOriginal:   row.Amount,
			CurrencyOriginal: row.Currency,
			TxnTime:          row.Date,
			Status:           domain.StatusConfirmed,
		}

		counters, err := p.finalize(ctx, t, nil, nil)
		if err != nil {
			return result, err
		}
		result.Merge(counters)
	}
	return result, nil
}

// finalize resolves merchant, fx and category for a built transaction and
// persists it. Returns the counters the record contributed.
func (p *Pipeline) finalize(ctx context.Context, t *domain.Transaction, city, country *string) (domain.BatchResult, error) {
	var result domain.BatchResult

	merchant, err := p.merchants.FindOrCreate(ctx, t.MerchantRaw, city, country)
	if err != nil {
		return result, err
	}
	t.MerchantID = &merchant.ID

	if t.CurrencyOriginal != domain.LocalCurrency {
		rate, err := p.rates.GetRate(ctx, t.TxnTime)
		if err != nil {
			return result, err
		}
		t.ApplyFxRate(&rate)
		result.USDConverted++
	} else {
		t.ApplyFxRate(nil)
	}

	sug := p.categorizer.Categorize(ctx, categorize.Input{
		ProfileID:   t.ProfileID,
		MerchantRaw: t.MerchantRaw,
		MerchantKey: normalize.PatternKey(t.MerchantRaw),
		MerchantID:  t.MerchantID,
		Kind:        t.Kind,
		AmountLocal: t.AmountLocal,
		Beneficiary: t.Beneficiary,
		Phone:       sinpePhone(t),
	})
	t.SubcategoryID = sug.SubcategoryID
	t.CategoryConfidence = sug.Confidence
	t.CategoryNeedsReview = sug.NeedsReview
	if sug.Source != domain.SourceNone {
		src := string(sug.Source)
		t.CategorySource = &src
	}
	if sug.Source == domain.SourceLLM {
		t.AISuggestion = sug.SubcategoryID
	}

	if err := t.Validate(); err != nil {
		return result, apperr.Invariant(err.Error())
	}

	if err := p.transactions.Create(ctx, t); err != nil {
		var dup *out.DuplicateError
		if errors.As(err, &dup) {
			result.Duplicates++
			return result, nil
		}
		return result, err
	}

	result.Processed++
	if sug.Hit() && !sug.NeedsReview {
		result.AutoCategorized++
	}
	if sug.NeedsReview {
		result.NeedsReview++
	}
	return result, nil
}

// rowKind maps a statement section to a transaction kind. Payments show as
// negative amounts on the statement.
func rowKind(row domain.StatementRow) domain.TxnKind {
	switch row.Section {
	case domain.SectionInterest:
		return domain.KindInterestCharge
	case domain.SectionServices:
		return domain.KindServicePayment
	case domain.SectionPayments:
		return domain.KindCardPayment
	case domain.SectionCharges:
		return domain.KindAdjustment
	default:
		if row.Amount.IsNegative() {
			return domain.KindCardPayment
		}
		return domain.KindPurchase
	}
}

// sinpePhone pulls a local phone number out of a SINPE transfer's
// counterparty fields, when one exists.
func sinpePhone(t *domain.Transaction) *string {
	if t.Kind != domain.KindSinpe {
		return nil
	}
	for _, field := range []*string{t.Beneficiary, t.BankReference, &t.MerchantRaw} {
		if field == nil {
			continue
		}
		if p, ok := normalize.LocalPhone(*field); ok {
			return &p
		}
	}
	return nil
}
