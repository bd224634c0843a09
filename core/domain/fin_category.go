package domain

// Subcategory is a leaf of the two-level category tree. Names and
// descriptions are safe to share with the LLM; nothing else is.
type Subcategory struct {
	ID          int64  `json:"id"`
	CategoryID  int64  `json:"category_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Category groups subcategories for budget views.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SuggestionSource names the cascade layer that produced a suggestion.
type SuggestionSource string

const (
	SourceUserPreference SuggestionSource = "user_preference"
	SourceSinpeContact   SuggestionSource = "sinpe_contact"
	SourceHistory        SuggestionSource = "history"
	SourceKeyword        SuggestionSource = "keyword"
	SourceGlobal         SuggestionSource = "global_suggestion"
	SourceLLM            SuggestionSource = "llm"
	SourceNone           SuggestionSource = "uncategorized"
)

// CategorySuggestion is the cascade's result variant: a hit with source and
// confidence, a needs-review hit with alternatives, or uncategorized.
type CategorySuggestion struct {
	SubcategoryID *int64           `json:"subcategory_id,omitempty"`
	Confidence    int              `json:"confidence"` // 0-100
	Source        SuggestionSource `json:"source"`
	NeedsReview   bool             `json:"needs_review"`
	Alternatives  []int64          `json:"alternatives,omitempty"`
	UserLabel     *string          `json:"user_label,omitempty"`
}

// Uncategorized is the cascade's give-up result.
func Uncategorized() CategorySuggestion {
	return CategorySuggestion{Source: SourceNone, NeedsReview: true}
}

// Hit reports whether the suggestion carries a subcategory.
func (s CategorySuggestion) Hit() bool {
	return s.SubcategoryID != nil
}
