package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PatternSource records how a learned pattern came to exist.
type PatternSource string

const (
	PatternUserExplicit PatternSource = "user_explicit"
	PatternCorrection   PatternSource = "correction"
	PatternImported     PatternSource = "imported"
)

// LearnedPattern is what the profile has taught us about a merchant family.
// PatternKey is normalized and may carry a trailing glob, e.g. "SINPE MARIA%"
// or "UBER%".
type LearnedPattern struct {
	ID            int64         `json:"id"`
	ProfileID     string        `json:"profile_id"`
	PatternKey    string        `json:"pattern_key"`
	SubcategoryID int64         `json:"subcategory_id"`
	UserLabel     *string       `json:"user_label,omitempty"`
	TimesMatched  int           `json:"times_matched"`
	TimesConfirmed int          `json:"times_confirmed"`
	TimesRejected int           `json:"times_rejected"`
	Confidence    float64       `json:"confidence"` // 0..1
	Source        PatternSource `json:"source"`

	IsRecurring      bool             `json:"is_recurring"`
	RecurringCadence *int             `json:"recurring_cadence,omitempty"`
	AvgAmount        *decimal.Decimal `json:"avg_amount,omitempty"`
	MinAmount        *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount        *decimal.Decimal `json:"max_amount,omitempty"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Matches reports whether key falls under this pattern. A trailing '%' is a
// prefix glob; anything else is an exact match.
func (p *LearnedPattern) Matches(key string) bool {
	return PatternKeyMatches(p.PatternKey, key)
}

// PatternKeyMatches is the single glob rule shared by patterns, contacts
// and global suggestions.
func PatternKeyMatches(pattern, key string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "%"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

// Confirm records one more user confirmation, nudging confidence up.
// Confidence is capped at 0.99: the system never fully trusts a pattern.
func (p *LearnedPattern) Confirm() {
	p.TimesMatched++
	p.TimesConfirmed++
	p.Confidence += 0.01
	if p.Confidence > 0.99 {
		p.Confidence = 0.99
	}
	p.LastSeenAt = time.Now().UTC()
}

// SuggestionStatus is the review state of a crowd suggestion.
type SuggestionStatus string

const (
	SuggestionPending      SuggestionStatus = "pending"
	SuggestionApproved     SuggestionStatus = "approved"
	SuggestionAutoApproved SuggestionStatus = "auto_approved"
)

// AutoApproveUserCount is the crowd size at which a suggestion stops needing
// manual review.
const AutoApproveUserCount = 5

// GlobalSuggestion is the crowd-sourced categorization overlay keyed by
// pattern. It never carries user data, only the pattern and a subcategory.
type GlobalSuggestion struct {
	ID                   int64            `json:"id"`
	PatternKey           string           `json:"pattern_key"`
	SuggestedSubcategory int64            `json:"suggested_subcategory_id"`
	UserCount            int              `json:"user_count"`
	Confidence           float64          `json:"confidence"`
	Status               SuggestionStatus `json:"status"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// RecordUser counts one more user teaching the same mapping. New rows start
// at 0.75; existing rows climb as 0.70 + 0.05*count, capped at 0.99.
func (g *GlobalSuggestion) RecordUser() {
	g.UserCount++
	if g.UserCount == 1 {
		g.Confidence = 0.75
	} else {
		g.Confidence = 0.70 + 0.05*float64(g.UserCount)
		if g.Confidence > 0.99 {
			g.Confidence = 0.99
		}
	}
	if g.UserCount >= AutoApproveUserCount && g.Status == SuggestionPending {
		g.Status = SuggestionAutoApproved
	}
}

// Usable reports whether the cascade may rely on this suggestion.
func (g *GlobalSuggestion) Usable() bool {
	return (g.Status == SuggestionApproved || g.Status == SuggestionAutoApproved) &&
		g.UserCount >= AutoApproveUserCount
}

// Contact is a per-profile SINPE counterparty. Keyed by phone number when
// one is extractable, otherwise by name prefix.
type Contact struct {
	ID                int64           `json:"id"`
	ProfileID         string          `json:"profile_id"`
	Phone             *string         `json:"phone,omitempty"`
	NamePrefix        string          `json:"name_prefix"`
	DisplayName       string          `json:"display_name"`
	DefaultSubcategory *int64         `json:"default_subcategory_id,omitempty"`
	TotalTransactions int             `json:"total_transactions"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
