package categorize

import (
	"context"
	"errors"
	"testing"
	"time"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"

	"github.com/shopspring/decimal"
)

type fakePatternRepo struct {
	patterns []*domain.LearnedPattern
}

func (r *fakePatternRepo) ListByProfile(_ context.Context, _ string) ([]*domain.LearnedPattern, error) {
	return r.patterns, nil
}

func (r *fakePatternRepo) FindMatching(_ context.Context, profileID, key string) (*domain.LearnedPattern, error) {
	for _, p := range r.patterns {
		if p.ProfileID == profileID && p.Matches(key) {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakePatternRepo) Upsert(_ context.Context, _ *domain.LearnedPattern) error { return nil }

type fakeContactRepo struct {
	contact *domain.Contact
}

func (r *fakeContactRepo) FindByPhone(_ context.Context, _, phone string) (*domain.Contact, error) {
	if r.contact != nil && r.contact.Phone != nil && *r.contact.Phone == phone {
		return r.contact, nil
	}
	return nil, nil
}

func (r *fakeContactRepo) FindByNamePrefix(_ context.Context, _, prefix string) (*domain.Contact, error) {
	if r.contact != nil && r.contact.NamePrefix == prefix {
		return r.contact, nil
	}
	return nil, nil
}

func (r *fakeContactRepo) Upsert(_ context.Context, _ *domain.Contact) error { return nil }

type fakeTxnHistory struct {
	latest *domain.Transaction
}

func (r *fakeTxnHistory) Create(_ context.Context, _ *domain.Transaction) error  { return nil }
func (r *fakeTxnHistory) Update(_ context.Context, _ *domain.Transaction) error  { return nil }
func (r *fakeTxnHistory) GetByID(_ context.Context, _ int64) (*domain.Transaction, error) {
	return nil, nil
}
func (r *fakeTxnHistory) GetByEmailID(_ context.Context, _, _ string) (*domain.Transaction, error) {
	return nil, nil
}
func (r *fakeTxnHistory) List(_ context.Context, _ *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return nil, nil
}
func (r *fakeTxnHistory) LatestConfirmedByMerchant(_ context.Context, _ string, _ int64) (*domain.Transaction, error) {
	return r.latest, nil
}
func (r *fakeTxnHistory) MarkReconciled(_ context.Context, _ int64, _ int64, _ time.Time) error {
	return nil
}
func (r *fakeTxnHistory) CategoryStats(_ context.Context, _ string, _ int64, _ time.Time) (decimal.Decimal, decimal.Decimal, int, error) {
	return decimal.Zero, decimal.Zero, 0, nil
}

type fakeSuggestionRepo struct {
	suggestion *domain.GlobalSuggestion
}

func (r *fakeSuggestionRepo) GetByPatternKey(_ context.Context, _ string) (*domain.GlobalSuggestion, error) {
	return r.suggestion, nil
}
func (r *fakeSuggestionRepo) FindUsable(_ context.Context, _ string) (*domain.GlobalSuggestion, error) {
	if r.suggestion != nil && r.suggestion.Usable() {
		return r.suggestion, nil
	}
	return nil, nil
}
func (r *fakeSuggestionRepo) Upsert(_ context.Context, _ *domain.GlobalSuggestion) error { return nil }

type fakeSubcatRepo struct {
	subcats  []*domain.Subcategory
	failNext error
	calls    int
}

func (r *fakeSubcatRepo) ListAll(_ context.Context) ([]*domain.Subcategory, error) {
	r.calls++
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return nil, err
	}
	return r.subcats, nil
}
func (r *fakeSubcatRepo) GetByID(_ context.Context, id int64) (*domain.Subcategory, error) {
	for _, sc := range r.subcats {
		if sc.ID == id {
			return sc, nil
		}
	}
	return nil, nil
}

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (l *scriptedLLM) CompleteJSON(_ context.Context, _, _ string) (string, error) {
	l.calls++
	return l.response, l.err
}

func defaultSubcats() []*domain.Subcategory {
	return []*domain.Subcategory{
		{ID: 1, Name: "Supermercado", Keywords: []string{"WALMART", "AUTO MERCADO", "MAXI PALI"}},
		{ID: 2, Name: "Transporte", Keywords: []string{"UBER", "DIDI"}},
		{ID: 3, Name: "Streaming", Keywords: []string{"NETFLIX", "SPOTIFY"}},
		{ID: 4, Name: "Familia"},
		{ID: 5, Name: "Comida", Keywords: []string{"UBER EATS"}},
	}
}

func newTestService(patterns *fakePatternRepo, contacts *fakeContactRepo, history *fakeTxnHistory, suggestions *fakeSuggestionRepo, llm *scriptedLLM) *Service {
	if patterns == nil {
		patterns = &fakePatternRepo{}
	}
	if contacts == nil {
		contacts = &fakeContactRepo{}
	}
	if history == nil {
		history = &fakeTxnHistory{}
	}
	if suggestions == nil {
		suggestions = &fakeSuggestionRepo{}
	}
	svc := NewService(patterns, contacts, history, suggestions, &fakeSubcatRepo{subcats: defaultSubcats()}, nil, nil)
	if llm != nil {
		svc.llm = llm
	}
	return svc
}

func TestCascadeUserPreferenceGlobMatch(t *testing.T) {
	// A correction on "SINPE MARIA ROSA" creates the family pattern; a new
	// transfer to another Maria must inherit it.
	patterns := &fakePatternRepo{patterns: []*domain.LearnedPattern{{
		ProfileID:     "p1",
		PatternKey:    "SINPE MARIA%",
		SubcategoryID: 4,
		Confidence:    0.75,
		UserLabel:     strPtr("Familia"),
	}}}
	svc := newTestService(patterns, nil, nil, nil, nil)

	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "SINPE MARIA CRUZ",
		MerchantKey: "SINPE MARIA CRUZ",
		Kind:        domain.KindSinpe,
	})

	if !got.Hit() || *got.SubcategoryID != 4 {
		t.Fatalf("suggestion = %+v, want subcategory 4", got)
	}
	if got.Source != domain.SourceUserPreference {
		t.Errorf("source = %s", got.Source)
	}
	if got.Confidence < 70 {
		t.Errorf("confidence = %d, want >= 70", got.Confidence)
	}
	if got.NeedsReview {
		t.Error("user preference hit must not need review")
	}
}

func TestCascadeLowConfidencePatternSkipped(t *testing.T) {
	patterns := &fakePatternRepo{patterns: []*domain.LearnedPattern{{
		ProfileID:     "p1",
		PatternKey:    "UBER%",
		SubcategoryID: 4,
		Confidence:    0.40,
	}}}
	svc := newTestService(patterns, nil, nil, nil, nil)

	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "UBER TRIP",
		MerchantKey: "UBER TRIP",
	})

	// Falls to the keyword layer instead.
	if got.Source != domain.SourceKeyword {
		t.Errorf("source = %s, want keyword (pattern below gate)", got.Source)
	}
}

func TestCascadeSinpeContact(t *testing.T) {
	phone := "88881234"
	sub := int64(4)
	contacts := &fakeContactRepo{contact: &domain.Contact{
		ProfileID:          "p1",
		Phone:              &phone,
		NamePrefix:         "MARIA ROSA",
		DefaultSubcategory: &sub,
	}}
	svc := newTestService(nil, contacts, nil, nil, nil)

	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "SINPE 88881234",
		MerchantKey: "SINPE 88881234",
		Kind:        domain.KindSinpe,
		Phone:       &phone,
	})

	if !got.Hit() || *got.SubcategoryID != 4 || got.Source != domain.SourceSinpeContact {
		t.Fatalf("suggestion = %+v, want sinpe contact hit", got)
	}
}

func TestCascadeHistory(t *testing.T) {
	sub := int64(1)
	merchantID := int64(42)
	history := &fakeTxnHistory{latest: &domain.Transaction{SubcategoryID: &sub}}
	svc := newTestService(nil, nil, history, nil, nil)

	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "PALI ESCAZU",
		MerchantKey: "PALI",
		MerchantID:  &merchantID,
	})

	if got.Source != domain.SourceHistory || got.Confidence != 95 {
		t.Fatalf("suggestion = %+v, want history at 95", got)
	}
}

func TestCascadeKeywordSingleStrong(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)

	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "NETFLIX.COM 4029",
		MerchantKey: "NETFLIX.COM",
	})

	if got.Source != domain.SourceKeyword || *got.SubcategoryID != 3 {
		t.Fatalf("suggestion = %+v, want keyword hit on streaming", got)
	}
	if got.Confidence != 90 || got.NeedsReview {
		t.Errorf("confidence = %d needsReview = %v, want 90/false", got.Confidence, got.NeedsReview)
	}
}

func TestCascadeKeywordMultipleNeedsReview(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)

	// "UBER EATS" hits both Transporte (UBER) and Comida (UBER EATS).
	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "UBER EATS SAN JOSE",
		MerchantKey: "UBER EATS",
	})

	if got.Source != domain.SourceKeyword {
		t.Fatalf("source = %s", got.Source)
	}
	if !got.NeedsReview {
		t.Error("multiple keyword hits must need review")
	}
	if *got.SubcategoryID != 5 {
		t.Errorf("top hit = %d, want longest keyword (UBER EATS -> 5)", *got.SubcategoryID)
	}
	if len(got.Alternatives) != 1 || got.Alternatives[0] != 2 {
		t.Errorf("alternatives = %v, want [2]", got.Alternatives)
	}
}

func TestCascadeKeywordIndexRetriesAfterLoadFailure(t *testing.T) {
	subcats := &fakeSubcatRepo{
		subcats:  defaultSubcats(),
		failNext: errors.New("connection refused"),
	}
	svc := NewService(&fakePatternRepo{}, &fakeContactRepo{}, &fakeTxnHistory{}, &fakeSuggestionRepo{}, subcats, nil, nil)
	in := Input{ProfileID: "p1", MerchantRaw: "NETFLIX.COM 4029", MerchantKey: "NETFLIX.COM"}

	first := svc.Categorize(context.Background(), in)
	if first.Source != domain.SourceNone {
		t.Fatalf("source = %s, want uncategorized while index load fails", first.Source)
	}

	second := svc.Categorize(context.Background(), in)
	if second.Source != domain.SourceKeyword || *second.SubcategoryID != 3 {
		t.Fatalf("suggestion = %+v, want keyword hit once the index loads", second)
	}
	if subcats.calls != 2 {
		t.Errorf("ListAll calls = %d, want a retry after the failure", subcats.calls)
	}
}

func TestCascadeGlobalSuggestion(t *testing.T) {
	suggestions := &fakeSuggestionRepo{suggestion: &domain.GlobalSuggestion{
		PatternKey:           "RAPPI%",
		SuggestedSubcategory: 5,
		UserCount:            6,
		Confidence:           0.65,
		Status:               domain.SuggestionAutoApproved,
	}}
	svc := newTestService(nil, nil, nil, suggestions, nil)

	got := svc.Categorize(context.Background(), Input{
		ProfileID:   "p1",
		MerchantRaw: "RAPPI RESTAURANTE",
		MerchantKey: "RAPPI",
	})

	if got.Source != domain.SourceGlobal || *got.SubcategoryID != 5 {
		t.Fatalf("suggestion = %+v, want global hit", got)
	}
	if got.Confidence < 70 {
		t.Errorf("confidence = %d, want floor 70", got.Confidence)
	}
}

func TestCascadeLLMFallback(t *testing.T) {
	tests := []struct {
		name       string
		llm        *scriptedLLM
		wantSource domain.SuggestionSource
		wantReview bool
	}{
		{
			name:       "valid confident response",
			llm:        &scriptedLLM{response: `{"subcategory_id": 2, "confidence": 85}`},
			wantSource: domain.SourceLLM,
			wantReview: false,
		},
		{
			name:       "low confidence flags review",
			llm:        &scriptedLLM{response: `{"subcategory_id": 2, "confidence": 55}`},
			wantSource: domain.SourceLLM,
			wantReview: true,
		},
		{
			name:       "malformed json falls through",
			llm:        &scriptedLLM{response: "no puedo clasificar esto"},
			wantSource: domain.SourceNone,
			wantReview: true,
		},
		{
			name:       "quota error falls through",
			llm:        &scriptedLLM{err: apperr.Quota("openai", errors.New("429"))},
			wantSource: domain.SourceNone,
			wantReview: true,
		},
		{
			name:       "unknown subcategory falls through",
			llm:        &scriptedLLM{response: `{"subcategory_id": 999, "confidence": 90}`},
			wantSource: domain.SourceNone,
			wantReview: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(nil, nil, nil, nil, tt.llm)

			got := svc.Categorize(context.Background(), Input{
				ProfileID:   "p1",
				MerchantRaw: "COMERCIO RARO XYZ",
				MerchantKey: "COMERCIO RARO XYZ",
				AmountLocal: decimal.RequireFromString("12000"),
			})

			if got.Source != tt.wantSource {
				t.Errorf("source = %s, want %s", got.Source, tt.wantSource)
			}
			if got.NeedsReview != tt.wantReview {
				t.Errorf("needsReview = %v, want %v", got.NeedsReview, tt.wantReview)
			}
			if tt.llm.calls != 1 {
				t.Errorf("llm calls = %d, want 1", tt.llm.calls)
			}
		})
	}
}

func TestCascadeDeterministicWithoutLLM(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil, nil)
	in := Input{ProfileID: "p1", MerchantRaw: "COMERCIO RARO", MerchantKey: "COMERCIO RARO"}

	first := svc.Categorize(context.Background(), in)
	second := svc.Categorize(context.Background(), in)

	if first.Source != domain.SourceNone || second.Source != domain.SourceNone {
		t.Fatalf("sources = %s, %s, want uncategorized", first.Source, second.Source)
	}
	if !first.NeedsReview {
		t.Error("uncategorized must need review")
	}
}

func strPtr(s string) *string { return &s }
