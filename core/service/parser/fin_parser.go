// Package parser turns raw bank notification emails into parsed
// transactions. One parser per bank and message variant; each parser is a
// pure function over the message and returns nil for mail it does not
// recognize.
package parser

import (
	"regexp"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"

	"github.com/shopspring/decimal"
)

// Parser recognizes and extracts one message variant.
type Parser interface {
	Name() string
	CanParse(msg *domain.RawMessage) bool
	// Parse returns nil, nil when the message turns out not to be a
	// transaction after all.
	Parse(msg *domain.RawMessage) (*domain.ParsedTransaction, error)
}

// Registry tries parsers in registration order and returns the first hit.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds the registry with the default BAC parsers.
func NewRegistry() *Registry {
	return &Registry{parsers: []Parser{
		NewBACPurchaseParser(),
		NewBACSinpeParser(),
		NewBACTransferParser(),
	}}
}

// Register appends a parser. Order matters: first CanParse wins.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Parse dispatches msg to the first parser that recognizes it. Unrecognized
// templates return a ParseSkip error so the batch skips the record.
func (r *Registry) Parse(msg *domain.RawMessage) (*domain.ParsedTransaction, error) {
	for _, p := range r.parsers {
		if !p.CanParse(msg) {
			continue
		}
		return p.Parse(msg)
	}
	return nil, apperr.ParseSkip("subject "+sample(msg.Subject), nil)
}

func sample(s string) string {
	if len(s) > 80 {
		return s[:80]
	}
	return s
}

// ============================================================================
// Shared extraction helpers
// ============================================================================

// costaRica is the bank's local zone. No DST.
var costaRica = time.FixedZone("America/Costa_Rica", -6*3600)

var (
	tagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe      = regexp.MustCompile(`\s+`)
	amountRe     = regexp.MustCompile(`(CRC|USD)\s*([0-9][0-9.,]*)`)
	lastFourRe   = regexp.MustCompile(`\*{2,}(\d{4})`)
	referenceRe  = regexp.MustCompile(`(?i)(?:referencia|comprobante|documento)[:\s]+(\d{6,})`)
	numericOnlyRe = regexp.MustCompile(`^[0-9\s-]+$`)
)

// htmlToText strips tags and collapses whitespace. Bank templates vary in
// markup but not in label text, so label scanning happens on the flat text.
func htmlToText(body string) string {
	s := tagRe.ReplaceAllString(body, " ")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&aacute;", "á", "&eacute;", "é",
		"&iacute;", "í", "&oacute;", "ó", "&uacute;", "ú", "&ntilde;", "ñ", "&#8211;", "-").Replace(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// fieldAfter returns the text following a label up to the next known label
// or segment end.
func fieldAfter(text, label string, stopLabels []string) string {
	idx := strings.Index(strings.ToUpper(text), strings.ToUpper(label))
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(label):]
	rest = strings.TrimLeft(rest, ": \t")

	cut := len(rest)
	upper := strings.ToUpper(rest)
	for _, stop := range stopLabels {
		if i := strings.Index(upper, strings.ToUpper(stop)); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(rest[:cut])
}

// parseAmount reads "CRC 45,000.00" or "USD 12.99" style amounts. Both
// thousands conventions appear in the wild; the last separator wins as the
// decimal mark when it is followed by exactly two digits.
func parseAmount(text string) (decimal.Decimal, string, bool) {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, "", false
	}
	raw := m[2]

	lastComma := strings.LastIndex(raw, ",")
	lastDot := strings.LastIndex(raw, ".")
	var intPart, fracPart string
	switch {
	case lastComma > lastDot && len(raw)-lastComma == 3:
		intPart, fracPart = raw[:lastComma], raw[lastComma+1:]
	case lastDot > lastComma && len(raw)-lastDot == 3:
		intPart, fracPart = raw[:lastDot], raw[lastDot+1:]
	default:
		intPart = raw
	}
	intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)

	num := intPart
	if fracPart != "" {
		num += "." + fracPart
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, "", false
	}
	return d, m[1], true
}

// parseSpanishDate reads "Ene 15, 2026", "15/01/2026" or "2026-01-15" and
// pins date-only values to local noon.
func parseSpanishDate(text string, loc *time.Location) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range []string{"02/01/2006 15:04", "02/01/2006", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			if t.Hour() == 0 && t.Minute() == 0 {
				return domain.PinToNoon(t.Year(), t.Month(), t.Day(), loc), true
			}
			return t, true
		}
	}

	m := spanishDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := spanishMonths[strings.ToUpper(m[1])]
	if !ok {
		return time.Time{}, false
	}
	day := atoiSafe(m[2])
	year := atoiSafe(m[3])
	if day == 0 || year == 0 {
		return time.Time{}, false
	}
	return domain.PinToNoon(year, month, day, loc), true
}

var spanishDateRe = regexp.MustCompile(`(?i)([A-Za-zÁÉÍÓÚáéíóú]{3})\w*\s+(\d{1,2}),?\s+(\d{4})`)

var spanishMonths = map[string]time.Month{
	"ENE": time.January, "FEB": time.February, "MAR": time.March,
	"ABR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AGO": time.August, "SEP": time.September, "SET": time.September,
	"OCT": time.October, "NOV": time.November, "DIC": time.December,
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func ptr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
