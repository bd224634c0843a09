// Package categorize implements the layered classifier. Layers run in a
// fixed order and the first hit wins; every suggestion records which layer
// produced it. Layers 1-5 are deterministic for fixed inputs, the LLM layer
// is not and its failures fall through instead of failing ingestion.
package categorize

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/normalize"
	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// strongKeywordLen is the keyword length above which a single match is
// trusted without review.
const strongKeywordLen = 4

// minPatternConfidence gates the user-preference layer.
const minPatternConfidence = 0.70

// Input is everything a classification decision may look at. Nothing here
// except the merchant string, amount and subcategory list ever reaches the
// LLM.
type Input struct {
	ProfileID   string
	MerchantRaw string
	MerchantKey string // normalized, glob-ready
	MerchantID  *int64
	Kind        domain.TxnKind
	AmountLocal decimal.Decimal
	Beneficiary *string
	Phone       *string
}

// Service runs the cascade. The keyword index loads lazily on first use and
// is read-only once built.
type Service struct {
	patterns      out.PatternRepository
	contacts      out.ContactRepository
	transactions  out.TransactionRepository
	suggestions   out.SuggestionRepository
	subcategories out.SubcategoryRepository
	llm           out.LLM
	log           *logger.Logger

	indexMu    sync.Mutex
	indexReady bool
	index      []keywordEntry
	subcats    []*domain.Subcategory
}

type keywordEntry struct {
	keyword       string
	subcategoryID int64
}

func NewService(
	patterns out.PatternRepository,
	contacts out.ContactRepository,
	transactions out.TransactionRepository,
	suggestions out.SuggestionRepository,
	subcategories out.SubcategoryRepository,
	llm out.LLM,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		patterns:      patterns,
		contacts:      contacts,
		transactions:  transactions,
		suggestions:   suggestions,
		subcategories: subcategories,
		llm:           llm,
		log:           log,
	}
}

// Categorize walks the layers in order and returns the first result.
func (s *Service) Categorize(ctx context.Context, in Input) domain.CategorySuggestion {
	if sug, ok := s.userPreference(ctx, in); ok {
		return sug
	}
	if sug, ok := s.sinpeContact(ctx, in); ok {
		return sug
	}
	if sug, ok := s.history(ctx, in); ok {
		return sug
	}
	if sug, ok := s.keywords(ctx, in); ok {
		return sug
	}
	if sug, ok := s.globalSuggestion(ctx, in); ok {
		return sug
	}
	if sug, ok := s.llmFallback(ctx, in); ok {
		return sug
	}
	return domain.Uncategorized()
}

// Layer 1: per-profile learned pattern, glob-aware, confidence gated.
func (s *Service) userPreference(ctx context.Context, in Input) (domain.CategorySuggestion, bool) {
	p, err := s.patterns.FindMatching(ctx, in.ProfileID, in.MerchantKey)
	if err != nil {
		s.log.WithError(err).WithProfile(in.ProfileID).Warn("categorize: pattern lookup failed")
		return domain.CategorySuggestion{}, false
	}
	if p == nil || p.Confidence < minPatternConfidence {
		return domain.CategorySuggestion{}, false
	}
	return domain.CategorySuggestion{
		SubcategoryID: &p.SubcategoryID,
		Confidence:    int(p.Confidence * 100),
		Source:        domain.SourceUserPreference,
		UserLabel:     p.UserLabel,
	}, true
}

// Layer 2: SINPE contact by phone, else by name prefix.
func (s *Service) sinpeContact(ctx context.Context, in Input) (domain.CategorySuggestion, bool) {
	if in.Kind != domain.KindSinpe {
		return domain.CategorySuggestion{}, false
	}

	var c *domain.Contact
	var err error
	if in.Phone != nil {
		c, err = s.contacts.FindByPhone(ctx, in.ProfileID, *in.Phone)
	} else if in.Beneficiary != nil {
		c, err = s.contacts.FindByNamePrefix(ctx, in.ProfileID, normalize.NamePrefix(*in.Beneficiary))
	}
	if err != nil {
		s.log.WithError(err).WithProfile(in.ProfileID).Warn("categorize: contact lookup failed")
		return domain.CategorySuggestion{}, false
	}
	if c == nil || c.DefaultSubcategory == nil {
		return domain.CategorySuggestion{}, false
	}
	return domain.CategorySuggestion{
		SubcategoryID: c.DefaultSubcategory,
		Confidence:    90,
		Source:        domain.SourceSinpeContact,
	}, true
}

// Layer 3: most recent confirmed transaction with the same merchant.
func (s *Service) history(ctx context.Context, in Input) (domain.CategorySuggestion, bool) {
	if in.MerchantID == nil {
		return domain.CategorySuggestion{}, false
	}
	t, err := s.transactions.LatestConfirmedByMerchant(ctx, in.ProfileID, *in.MerchantID)
	if err != nil {
		s.log.WithError(err).WithProfile(in.ProfileID).Warn("categorize: history lookup failed")
		return domain.CategorySuggestion{}, false
	}
	if t == nil || t.SubcategoryID == nil {
		return domain.CategorySuggestion{}, false
	}
	return domain.CategorySuggestion{
		SubcategoryID: t.SubcategoryID,
		Confidence:    95,
		Source:        domain.SourceHistory,
	}, true
}

// Layer 4: keyword rules over the raw merchant string.
func (s *Service) keywords(ctx context.Context, in Input) (domain.CategorySuggestion, bool) {
	if err := s.ensureIndex(ctx); err != nil {
		s.log.WithError(err).Warn("categorize: keyword index unavailable")
		return domain.CategorySuggestion{}, false
	}

	raw := strings.ToUpper(in.MerchantRaw)
	type hit struct {
		subcategoryID int64
		keywordLen    int
	}
	var hits []hit
	seen := map[int64]bool{}
	for _, e := range s.index {
		if !strings.Contains(raw, e.keyword) {
			continue
		}
		if seen[e.subcategoryID] {
			continue
		}
		seen[e.subcategoryID] = true
		hits = append(hits, hit{e.subcategoryID, len(e.keyword)})
	}

	switch len(hits) {
	case 0:
		return domain.CategorySuggestion{}, false
	case 1:
		if hits[0].keywordLen > strongKeywordLen {
			return domain.CategorySuggestion{
				SubcategoryID: &hits[0].subcategoryID,
				Confidence:    90,
				Source:        domain.SourceKeyword,
			}, true
		}
		return domain.CategorySuggestion{
			SubcategoryID: &hits[0].subcategoryID,
			Confidence:    60,
			Source:        domain.SourceKeyword,
			NeedsReview:   true,
		}, true
	default:
		sort.Slice(hits, func(i, j int) bool { return hits[i].keywordLen > hits[j].keywordLen })
		alternatives := make([]int64, 0, len(hits)-1)
		for _, h := range hits[1:] {
			alternatives = append(alternatives, h.subcategoryID)
		}
		return domain.CategorySuggestion{
			SubcategoryID: &hits[0].subcategoryID,
			Confidence:    70,
			Source:        domain.SourceKeyword,
			NeedsReview:   true,
			Alternatives:  alternatives,
		}, true
	}
}

// Layer 5: crowd-sourced suggestion, auto-approved rows only.
func (s *Service) globalSuggestion(ctx context.Context, in Input) (domain.CategorySuggestion, bool) {
	g, err := s.suggestions.FindUsable(ctx, in.MerchantKey)
	if err != nil {
		s.log.WithError(err).Warn("categorize: global suggestion lookup failed")
		return domain.CategorySuggestion{}, false
	}
	if g == nil || !g.Usable() {
		return domain.CategorySuggestion{}, false
	}
	conf := int(g.Confidence * 100)
	if conf < 70 {
		conf = 70
	}
	return domain.CategorySuggestion{
		SubcategoryID: &g.SuggestedSubcategory,
		Confidence:    conf,
		Source:        domain.SourceGlobal,
	}, true
}

const llmSystemPrompt = `Clasificas transacciones de finanzas personales en Costa Rica.
Respondes SOLO un objeto JSON: {"subcategory_id": <int>, "confidence": <0-100>}.
Si ninguna subcategoria aplica, usa subcategory_id 0.`

// Layer 6: LLM fallback. Provider errors, quota exhaustion and malformed
// JSON all fall through; the cascade never raises from here.
func (s *Service) llmFallback(ctx context.Context, in Input) (domain.CategorySuggestion, bool) {
	if s.llm == nil {
		return domain.CategorySuggestion{}, false
	}
	if err := s.ensureIndex(ctx); err != nil {
		return domain.CategorySuggestion{}, false
	}

	var sb strings.Builder
	sb.WriteString("Comercio: ")
	sb.WriteString(in.MerchantRaw)
	sb.WriteString("\nMonto CRC: ")
	sb.WriteString(in.AmountLocal.String())
	sb.WriteString("\nSubcategorias disponibles:\n")
	for _, sc := range s.subcats {
		sb.WriteString(strings.TrimSpace(strings.Join([]string{sc.Name, sc.Description}, " - ")))
		sb.WriteString(" (id ")
		sb.WriteString(strconv.FormatInt(sc.ID, 10))
		sb.WriteString(")\n")
	}

	raw, err := s.llm.CompleteJSON(ctx, llmSystemPrompt, sb.String())
	if err != nil {
		if apperr.IsCode(err, apperr.CodeProviderQuota) {
			s.log.Warn("categorize: llm quota exhausted, falling through")
		} else {
			s.log.WithError(err).Warn("categorize: llm call failed, falling through")
		}
		return domain.CategorySuggestion{}, false
	}

	var resp struct {
		SubcategoryID int64 `json:"subcategory_id"`
		Confidence    int   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		s.log.Warn("categorize: llm returned malformed json, falling through")
		return domain.CategorySuggestion{}, false
	}
	if resp.SubcategoryID == 0 || !s.knownSubcategory(resp.SubcategoryID) {
		return domain.CategorySuggestion{}, false
	}

	return domain.CategorySuggestion{
		SubcategoryID: &resp.SubcategoryID,
		Confidence:    resp.Confidence,
		Source:        domain.SourceLLM,
		NeedsReview:   resp.Confidence < 70,
	}, true
}

// ensureIndex loads the subcategory keyword index. A failed load leaves the
// service unindexed and the next call retries.
func (s *Service) ensureIndex(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexReady {
		return nil
	}

	subcats, err := s.subcategories.ListAll(ctx)
	if err != nil {
		return err
	}
	index := make([]keywordEntry, 0, len(subcats))
	for _, sc := range subcats {
		for _, kw := range sc.Keywords {
			kw = strings.ToUpper(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			index = append(index, keywordEntry{keyword: kw, subcategoryID: sc.ID})
		}
	}
	s.subcats, s.index = subcats, index
	s.indexReady = true
	return nil
}

func (s *Service) knownSubcategory(id int64) bool {
	for _, sc := range s.subcats {
		if sc.ID == id {
			return true
		}
	}
	return false
}

