// Package learn applies user category feedback: the transaction, the
// profile's learned pattern and the crowd suggestion move together in one
// database transaction, so a crash never leaves a confirmed transaction
// without its pattern.
package learn

import (
	"context"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/normalize"
	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"
)

// newPatternConfidence is where a fresh correction-born pattern starts.
// A confirmed merchant must come back from the cascade at 0.90 or better,
// so this sits exactly at that floor, below a repeatedly confirmed one.
const newPatternConfidence = 0.90

// Feedback is one user decision on a transaction's category.
type Feedback struct {
	TransactionID int64
	SubcategoryID int64
	UserLabel     *string
}

type Service struct {
	uow          out.UnitOfWork
	transactions out.TransactionRepository
	patterns     out.PatternRepository
	suggestions  out.SuggestionRepository
	contacts     out.ContactRepository
	log          *logger.Logger
}

func NewService(
	uow out.UnitOfWork,
	transactions out.TransactionRepository,
	patterns out.PatternRepository,
	suggestions out.SuggestionRepository,
	contacts out.ContactRepository,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		uow:          uow,
		transactions: transactions,
		patterns:     patterns,
		suggestions:  suggestions,
		contacts:     contacts,
		log:          log,
	}
}

// Apply records the feedback. The returned transaction reflects the
// committed state.
func (s *Service) Apply(ctx context.Context, profileID string, fb Feedback) (*domain.Transaction, error) {
	var applied *domain.Transaction
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.transactions.GetByID(ctx, fb.TransactionID)
		if err != nil {
			return err
		}
		if t == nil || t.ProfileID != profileID {
			return apperr.NotFound("transaction")
		}

		s.applyToTransaction(t, fb)
		if err := s.transactions.Update(ctx, t); err != nil {
			return err
		}

		key := normalize.PatternKey(t.MerchantRaw)
		if err := s.upsertPattern(ctx, t, key, fb); err != nil {
			return err
		}
		if err := s.recordSuggestion(ctx, key, fb.SubcategoryID); err != nil {
			return err
		}
		if t.Kind == domain.KindSinpe {
			if err := s.upsertContact(ctx, t, fb.SubcategoryID); err != nil {
				return err
			}
		}

		applied = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithProfile(profileID).Info("learn: transaction %d confirmed into subcategory %d", fb.TransactionID, fb.SubcategoryID)
	return applied, nil
}

// applyToTransaction moves the transaction to the user's category. The
// original model suggestion stays on record so accuracy can be measured
// later.
func (s *Service) applyToTransaction(t *domain.Transaction, fb Feedback) {
	if t.AISuggestion == nil && t.CategorySource != nil && *t.CategorySource == string(domain.SourceLLM) {
		t.AISuggestion = t.SubcategoryID
	}
	t.SubcategoryID = &fb.SubcategoryID
	t.CategoryConfidence = 100
	src := string(domain.SourceUserPreference)
	t.CategorySource = &src
	t.CategoryNeedsReview = false
	t.CategoryConfirmedByUser = true
	if fb.UserLabel != nil {
		t.Notes = fb.UserLabel
	}
}

func (s *Service) upsertPattern(ctx context.Context, t *domain.Transaction, key string, fb Feedback) error {
	p, err := s.patterns.FindMatching(ctx, t.ProfileID, key)
	if err != nil {
		return err
	}
	if p == nil {
		p = &domain.LearnedPattern{
			ProfileID:     t.ProfileID,
			PatternKey:    key,
			SubcategoryID: fb.SubcategoryID,
			UserLabel:     fb.UserLabel,
			Confidence:    newPatternConfidence,
			Source:        domain.PatternCorrection,
			LastSeenAt:    time.Now().UTC(),
		}
		p.TimesMatched, p.TimesConfirmed = 1, 1
		return s.patterns.Upsert(ctx, p)
	}

	if p.SubcategoryID != fb.SubcategoryID {
		// The user changed their mind about this merchant family.
		p.SubcategoryID = fb.SubcategoryID
		p.TimesRejected++
		p.Confidence = newPatternConfidence
		p.LastSeenAt = time.Now().UTC()
	} else {
		p.Confirm()
	}
	if fb.UserLabel != nil {
		p.UserLabel = fb.UserLabel
	}
	return s.patterns.Upsert(ctx, p)
}

// recordSuggestion feeds the crowd overlay. Disagreement with an existing
// suggestion is not counted either way; the crowd resolves it over time.
func (s *Service) recordSuggestion(ctx context.Context, key string, subcategoryID int64) error {
	g, err := s.suggestions.GetByPatternKey(ctx, key)
	if err != nil {
		return err
	}
	if g == nil {
		g = &domain.GlobalSuggestion{
			PatternKey:           key,
			SuggestedSubcategory: subcategoryID,
			Status:               domain.SuggestionPending,
		}
	} else if g.SuggestedSubcategory != subcategoryID {
		return nil
	}
	g.RecordUser()
	return s.suggestions.Upsert(ctx, g)
}

func (s *Service) upsertContact(ctx context.Context, t *domain.Transaction, subcategoryID int64) error {
	phone := contactPhone(t)
	name := ""
	if t.Beneficiary != nil {
		name = strings.TrimSpace(*t.Beneficiary)
	}
	if phone == nil && name == "" {
		return nil
	}

	var c *domain.Contact
	var err error
	if phone != nil {
		c, err = s.contacts.FindByPhone(ctx, t.ProfileID, *phone)
	} else {
		c, err = s.contacts.FindByNamePrefix(ctx, t.ProfileID, normalize.NamePrefix(name))
	}
	if err != nil {
		return err
	}

	if c == nil {
		c = &domain.Contact{
			ProfileID:   t.ProfileID,
			Phone:       phone,
			NamePrefix:  normalize.NamePrefix(name),
			DisplayName: name,
		}
		if c.DisplayName == "" && phone != nil {
			c.DisplayName = "SINPE " + *phone
		}
	}
	c.DefaultSubcategory = &subcategoryID
	c.TotalTransactions++
	c.TotalAmount = c.TotalAmount.Add(t.AmountLocal)
	txnAt := t.TxnTime
	c.LastTransactionAt = &txnAt
	return s.contacts.Upsert(ctx, c)
}

// contactPhone looks for a local phone number in the SINPE counterparty
// fields.
func contactPhone(t *domain.Transaction) *string {
	for _, field := range []*string{t.Beneficiary, t.BankReference} {
		if field == nil {
			continue
		}
		if p, ok := normalize.LocalPhone(*field); ok {
			return &p
		}
	}
	return nil
}
