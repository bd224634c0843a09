// Package normalize maps raw bank descriptor strings to stable canonical
// merchants. Descriptors arrive dirty: diacritics, reference codes, POS
// location suffixes, and per-transfer SINPE names all vary between sightings
// of the same vendor.
package normalize

import (
	"context"
	"strings"
	"unicode"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/pkg/logger"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// refTokenMinLen is the length at which a trailing alphanumeric token is
// assumed to be a bank reference code rather than part of the name.
const refTokenMinLen = 8

// locationTokens are POS suffixes BAC appends after the merchant name.
var locationTokens = map[string]bool{
	"SAN JOSE":   true,
	"SANTA ANA":  true,
	"ESCAZU":     true,
	"HEREDIA":    true,
	"ALAJUELA":   true,
	"CARTAGO":    true,
	"CURRIDABAT": true,
	"COSTA RICA": true,
	"CR":         true,
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Service resolves raw descriptors to canonical merchants.
type Service struct {
	merchants out.MerchantRepository
	log       *logger.Logger
}

func NewService(merchants out.MerchantRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{merchants: merchants, log: log}
}

// Key runs the normalization pipeline and returns the merchant lookup key.
//
// uppercase -> strip diacritics -> drop trailing reference tokens ->
// drop *CODE suffixes -> drop location tokens -> collapse whitespace
func Key(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if out, _, err := transform.String(deaccent, s); err == nil {
		s = out
	}

	words := strings.Fields(s)

	// Trailing reference codes: long alphanumeric runs that contain a digit.
	for len(words) > 1 && isReferenceToken(words[len(words)-1]) {
		words = words[:len(words)-1]
	}

	// Square-style "*CODE" suffixes glued to or following the name.
	cleaned := words[:0]
	for _, w := range words {
		if i := strings.Index(w, "*"); i > 0 {
			w = w[:i]
		} else if strings.HasPrefix(w, "*") {
			continue
		}
		if w != "" {
			cleaned = append(cleaned, w)
		}
	}
	words = cleaned

	// Location tokens only come off the tail, never the head: a merchant
	// literally named "HEREDIA" keeps its name.
	for len(words) > 1 {
		if len(words) > 2 {
			two := words[len(words)-2] + " " + words[len(words)-1]
			if locationTokens[two] {
				words = words[:len(words)-2]
				continue
			}
		}
		if locationTokens[words[len(words)-1]] {
			words = words[:len(words)-1]
			continue
		}
		break
	}

	return strings.Join(words, " ")
}

func isReferenceToken(w string) bool {
	if len(w) < refTokenMinLen {
		return false
	}
	hasDigit := false
	for _, r := range w {
		if r >= '0' && r <= '9' {
			hasDigit = true
		} else if !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return hasDigit
}

// SinpeKey collapses SINPE transfers to one pattern per recipient first name:
// "SINPE MARIA FERNANDA R." and "SINPE MARIA JOSE" both key as "SINPE MARIA%".
func SinpeKey(normalized string) string {
	rest, ok := strings.CutPrefix(normalized, "SINPE ")
	if !ok {
		return normalized
	}
	first, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if first == "" {
		return normalized
	}
	return "SINPE " + first + "%"
}

// PatternKey is the key the learning tables index on: the SINPE family key
// for transfers, the plain normalized key for everything else.
func PatternKey(raw string) string {
	return SinpeKey(Key(raw))
}

// LocalPhone digs an 8-digit local phone number out of free-form text.
// Numbers start with 2, 6, 7 or 8; a 506 country prefix is dropped.
func LocalPhone(s string) (string, bool) {
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := strings.TrimPrefix(digits.String(), "506")
	if len(d) == 8 && strings.ContainsRune("2678", rune(d[0])) {
		return d, true
	}
	return "", false
}

// NamePrefix is the contact lookup key for a SINPE counterparty: the first
// two words of the uppercased name.
func NamePrefix(name string) string {
	words := strings.Fields(strings.ToUpper(name))
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		return words[0]
	}
	return words[0] + " " + words[1]
}

// Levenshtein is the plain edit distance over runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Equivalent reports whether two normalized keys belong to the same merchant:
// edit distance at most 2 and the same first significant word.
func Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	fa, _, _ := strings.Cut(a, " ")
	fb, _, _ := strings.Cut(b, " ")
	if fa != fb {
		return false
	}
	return Levenshtein(a, b) <= 2
}

// FindOrCreate resolves a raw descriptor to its canonical merchant, creating
// it on first sighting. Near-duplicates merge by alias instead of spawning a
// second merchant.
func (s *Service) FindOrCreate(ctx context.Context, raw string, city, country *string) (*domain.Merchant, error) {
	key := Key(raw)
	if key == "" {
		key = "DESCONOCIDO"
	}

	if m, err := s.merchants.GetByNormalizedName(ctx, key); err != nil {
		return nil, err
	} else if m != nil {
		return m, nil
	}

	// Fuzzy pass over existing merchants before creating a new identity.
	existing, err := s.merchants.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if Equivalent(key, m.NormalizedName) || m.HasAlias(key) {
			if !m.HasAlias(key) && key != m.NormalizedName {
				if err := s.merchants.AddAlias(ctx, m.ID, key); err != nil {
					return nil, err
				}
				m.Aliases = append(m.Aliases, key)
			}
			return m, nil
		}
	}

	m := &domain.Merchant{
		NormalizedName: key,
		DisplayName:    displayName(key),
		City:           city,
		Country:        country,
	}
	if err := s.merchants.Create(ctx, m); err != nil {
		return nil, err
	}
	s.log.Debug("normalize: new merchant %q from %q", key, raw)
	return m, nil
}

func displayName(key string) string {
	words := strings.Fields(strings.ToLower(key))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
