package learn

import (
	"context"
	"errors"
	"testing"
	"time"

	"finanzas/core/domain"
	"finanzas/core/service/categorize"
	"finanzas/pkg/apperr"

	"github.com/shopspring/decimal"
)

type fakeUow struct{ calls int }

func (f *fakeUow) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeTxnStore struct {
	byID    map[int64]*domain.Transaction
	updated []*domain.Transaction
}

func (f *fakeTxnStore) Create(context.Context, *domain.Transaction) error { return nil }
func (f *fakeTxnStore) Update(_ context.Context, t *domain.Transaction) error {
	f.updated = append(f.updated, t)
	return nil
}
func (f *fakeTxnStore) GetByID(_ context.Context, id int64) (*domain.Transaction, error) {
	return f.byID[id], nil
}
func (f *fakeTxnStore) GetByEmailID(context.Context, string, string) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxnStore) List(context.Context, *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxnStore) LatestConfirmedByMerchant(context.Context, string, int64) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxnStore) MarkReconciled(context.Context, int64, int64, time.Time) error { return nil }
func (f *fakeTxnStore) CategoryStats(context.Context, string, int64, time.Time) (decimal.Decimal, decimal.Decimal, int, error) {
	return decimal.Zero, decimal.Zero, 0, nil
}

type fakePatterns struct {
	existing *domain.LearnedPattern
	upserted []*domain.LearnedPattern
	fail     error
}

func (f *fakePatterns) ListByProfile(context.Context, string) ([]*domain.LearnedPattern, error) {
	return nil, nil
}
func (f *fakePatterns) FindMatching(context.Context, string, string) (*domain.LearnedPattern, error) {
	return f.existing, nil
}
func (f *fakePatterns) Upsert(_ context.Context, p *domain.LearnedPattern) error {
	if f.fail != nil {
		return f.fail
	}
	f.upserted = append(f.upserted, p)
	return nil
}

type fakeSuggestions struct {
	existing *domain.GlobalSuggestion
	upserted []*domain.GlobalSuggestion
}

func (f *fakeSuggestions) GetByPatternKey(context.Context, string) (*domain.GlobalSuggestion, error) {
	return f.existing, nil
}
func (f *fakeSuggestions) FindUsable(context.Context, string) (*domain.GlobalSuggestion, error) {
	return nil, nil
}
func (f *fakeSuggestions) Upsert(_ context.Context, g *domain.GlobalSuggestion) error {
	f.upserted = append(f.upserted, g)
	return nil
}

type fakeContacts struct {
	byPhone  map[string]*domain.Contact
	byPrefix map[string]*domain.Contact
	upserted []*domain.Contact
}

func (f *fakeContacts) FindByPhone(_ context.Context, _, phone string) (*domain.Contact, error) {
	return f.byPhone[phone], nil
}
func (f *fakeContacts) FindByNamePrefix(_ context.Context, _, prefix string) (*domain.Contact, error) {
	return f.byPrefix[prefix], nil
}
func (f *fakeContacts) Upsert(_ context.Context, c *domain.Contact) error {
	f.upserted = append(f.upserted, c)
	return nil
}

type fakeSubcats struct{}

func (fakeSubcats) ListAll(context.Context) ([]*domain.Subcategory, error) { return nil, nil }
func (fakeSubcats) GetByID(context.Context, int64) (*domain.Subcategory, error) {
	return nil, nil
}

func llmTxn() *domain.Transaction {
	src := string(domain.SourceLLM)
	sub := int64(3)
	return &domain.Transaction{
		ID:                  1,
		ProfileID:           "p1",
		EmailID:             "email_abc",
		Kind:                domain.KindPurchase,
		MerchantRaw:         "RAPPI*RESTAURANTE",
		AmountLocal:         decimal.NewFromInt(8500),
		TxnTime:             time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
		SubcategoryID:       &sub,
		CategoryConfidence:  72,
		CategorySource:      &src,
		CategoryNeedsReview: true,
		Status:              domain.StatusConfirmed,
	}
}

func newService(txns *fakeTxnStore, patterns *fakePatterns, suggestions *fakeSuggestions, contacts *fakeContacts) (*Service, *fakeUow) {
	uow := &fakeUow{}
	return NewService(uow, txns, patterns, suggestions, contacts, nil), uow
}

func TestApplyCorrectionPreservesModelSuggestion(t *testing.T) {
	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: llmTxn()}}
	patterns := &fakePatterns{}
	suggestions := &fakeSuggestions{}
	svc, uow := newService(txns, patterns, suggestions, &fakeContacts{})

	got, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 7})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if uow.calls != 1 {
		t.Errorf("uow calls = %d, want 1", uow.calls)
	}
	if got.SubcategoryID == nil || *got.SubcategoryID != 7 {
		t.Errorf("subcategory = %v, want 7", got.SubcategoryID)
	}
	if got.AISuggestion == nil || *got.AISuggestion != 3 {
		t.Errorf("ai suggestion = %v, want 3 preserved", got.AISuggestion)
	}
	if got.CategoryNeedsReview || !got.CategoryConfirmedByUser {
		t.Errorf("review/confirm flags = %v/%v", got.CategoryNeedsReview, got.CategoryConfirmedByUser)
	}
	if got.CategoryConfidence != 100 {
		t.Errorf("confidence = %d", got.CategoryConfidence)
	}

	if len(patterns.upserted) != 1 {
		t.Fatalf("patterns upserted = %d", len(patterns.upserted))
	}
	p := patterns.upserted[0]
	if p.PatternKey != "RAPPI" {
		t.Errorf("pattern key = %q, want RAPPI", p.PatternKey)
	}
	if p.SubcategoryID != 7 || p.Confidence != newPatternConfidence {
		t.Errorf("pattern = sub %d conf %v", p.SubcategoryID, p.Confidence)
	}
	if p.Source != domain.PatternCorrection {
		t.Errorf("pattern source = %s", p.Source)
	}

	if len(suggestions.upserted) != 1 {
		t.Fatalf("suggestions upserted = %d", len(suggestions.upserted))
	}
	g := suggestions.upserted[0]
	if g.UserCount != 1 || g.Confidence != 0.75 {
		t.Errorf("suggestion = count %d conf %v", g.UserCount, g.Confidence)
	}
}

func TestApplyConfirmBumpsExistingPattern(t *testing.T) {
	existing := &domain.LearnedPattern{
		ProfileID: "p1", PatternKey: "RAPPI", SubcategoryID: 7,
		TimesMatched: 4, TimesConfirmed: 4, Confidence: 0.88,
		Source: domain.PatternCorrection,
	}
	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: llmTxn()}}
	patterns := &fakePatterns{existing: existing}
	svc, _ := newService(txns, patterns, &fakeSuggestions{}, &fakeContacts{})

	if _, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 7}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	p := patterns.upserted[0]
	if p.TimesConfirmed != 5 {
		t.Errorf("times confirmed = %d, want 5", p.TimesConfirmed)
	}
	if diff := p.Confidence - 0.89; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want 0.89", p.Confidence)
	}
}

func TestApplyDisagreementResetsPattern(t *testing.T) {
	existing := &domain.LearnedPattern{
		ProfileID: "p1", PatternKey: "RAPPI", SubcategoryID: 7,
		TimesMatched: 9, TimesConfirmed: 9, Confidence: 0.95,
	}
	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: llmTxn()}}
	patterns := &fakePatterns{existing: existing}
	svc, _ := newService(txns, patterns, &fakeSuggestions{}, &fakeContacts{})

	if _, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 2}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	p := patterns.upserted[0]
	if p.SubcategoryID != 2 {
		t.Errorf("subcategory = %d, want 2", p.SubcategoryID)
	}
	if p.TimesRejected != 1 {
		t.Errorf("times rejected = %d, want 1", p.TimesRejected)
	}
	if p.Confidence != newPatternConfidence {
		t.Errorf("confidence = %v, want reset to %v", p.Confidence, newPatternConfidence)
	}
}

func TestApplySuggestionAutoApprovesAtCrowdSize(t *testing.T) {
	existing := &domain.GlobalSuggestion{
		PatternKey: "RAPPI", SuggestedSubcategory: 7,
		UserCount: domain.AutoApproveUserCount - 1, Confidence: 0.90,
		Status: domain.SuggestionPending,
	}
	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: llmTxn()}}
	suggestions := &fakeSuggestions{existing: existing}
	svc, _ := newService(txns, &fakePatterns{}, suggestions, &fakeContacts{})

	if _, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 7}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	g := suggestions.upserted[0]
	if g.Status != domain.SuggestionAutoApproved {
		t.Errorf("status = %s, want auto_approved", g.Status)
	}
	if g.UserCount != domain.AutoApproveUserCount {
		t.Errorf("user count = %d", g.UserCount)
	}
}

func TestApplySinpeCorrectionCreatesContact(t *testing.T) {
	txn := llmTxn()
	txn.Kind = domain.KindSinpe
	beneficiary := "MARIA FERNANDA CRUZ"
	ref := "SINPE 8888-1234"
	txn.Beneficiary = &beneficiary
	txn.BankReference = &ref
	txn.MerchantRaw = "SINPE MARIA FERNANDA CRUZ"

	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: txn}}
	contacts := &fakeContacts{byPhone: map[string]*domain.Contact{}, byPrefix: map[string]*domain.Contact{}}
	svc, _ := newService(txns, &fakePatterns{}, &fakeSuggestions{}, contacts)

	if _, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 9}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(contacts.upserted) != 1 {
		t.Fatalf("contacts upserted = %d", len(contacts.upserted))
	}
	c := contacts.upserted[0]
	if c.Phone == nil || *c.Phone != "88881234" {
		t.Errorf("phone = %v, want 88881234", c.Phone)
	}
	if c.NamePrefix != "MARIA FERNANDA" {
		t.Errorf("name prefix = %q", c.NamePrefix)
	}
	if c.DefaultSubcategory == nil || *c.DefaultSubcategory != 9 {
		t.Errorf("default subcategory = %v", c.DefaultSubcategory)
	}
	if c.TotalTransactions != 1 || !c.TotalAmount.Equal(decimal.NewFromInt(8500)) {
		t.Errorf("totals = %d / %s", c.TotalTransactions, c.TotalAmount)
	}
}

// A correction must stick: the next message from the same merchant family
// has to come back from the cascade with the user's subcategory, confident
// enough to skip review.
func TestCorrectionRoundTripsThroughCascade(t *testing.T) {
	txn := llmTxn()
	txn.Kind = domain.KindSinpe
	beneficiary := "MARIA ROSA JIMENEZ"
	txn.Beneficiary = &beneficiary
	txn.MerchantRaw = "SINPE MARIA ROSA JIMENEZ"

	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: txn}}
	patterns := &fakePatterns{}
	contacts := &fakeContacts{}
	svc, _ := newService(txns, patterns, &fakeSuggestions{}, contacts)

	if _, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 9}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(patterns.upserted) != 1 {
		t.Fatalf("patterns upserted = %d", len(patterns.upserted))
	}
	if key := patterns.upserted[0].PatternKey; key != "SINPE MARIA%" {
		t.Fatalf("pattern key = %q, want SINPE MARIA%%", key)
	}
	patterns.existing = patterns.upserted[0]

	cascade := categorize.NewService(patterns, contacts, txns, &fakeSuggestions{}, fakeSubcats{}, nil, nil)
	got := cascade.Categorize(context.Background(), categorize.Input{
		ProfileID:   "p1",
		MerchantRaw: "SINPE MARIA FERNANDA SOTO",
		MerchantKey: "SINPE MARIA FERNANDA SOTO",
		Kind:        domain.KindSinpe,
	})

	if got.Source != domain.SourceUserPreference {
		t.Fatalf("source = %s, want user preference", got.Source)
	}
	if got.SubcategoryID == nil || *got.SubcategoryID != 9 {
		t.Errorf("subcategory = %v, want the corrected 9", got.SubcategoryID)
	}
	if got.Confidence < 90 {
		t.Errorf("confidence = %d, want >= 90 for a user-confirmed merchant", got.Confidence)
	}
	if got.NeedsReview {
		t.Error("confirmed merchant must not need review")
	}
}

func TestApplyUnknownTransaction(t *testing.T) {
	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{}}
	svc, _ := newService(txns, &fakePatterns{}, &fakeSuggestions{}, &fakeContacts{})

	_, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 99, SubcategoryID: 7})
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestApplyPatternFailureAbortsEverything(t *testing.T) {
	txns := &fakeTxnStore{byID: map[int64]*domain.Transaction{1: llmTxn()}}
	patterns := &fakePatterns{fail: errors.New("lock timeout")}
	suggestions := &fakeSuggestions{}
	svc, _ := newService(txns, patterns, suggestions, &fakeContacts{})

	if _, err := svc.Apply(context.Background(), "p1", Feedback{TransactionID: 1, SubcategoryID: 7}); err == nil {
		t.Fatal("expected error")
	}
	if len(suggestions.upserted) != 0 {
		t.Errorf("suggestion written after pattern failure")
	}
}
