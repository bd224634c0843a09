package statement

import (
	"regexp"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"

	"github.com/shopspring/decimal"
)

// Section headers as printed on BAC credit-card statements.
var sectionHeaders = []struct {
	marker  string
	section domain.StatementSection
}{
	{"DETALLE DE COMPRAS", domain.SectionPurchases},
	{"DETALLE DE INTERESES", domain.SectionInterest},
	{"DETALLE DE CARGOS", domain.SectionCharges},
	{"PRODUCTOS Y SERVICIOS", domain.SectionServices},
	{"DETALLE DE PAGO", domain.SectionPayments},
}

var (
	// reference date description [USD] amount
	rowRe = regexp.MustCompile(`^\s*(\d{4,})\s+(\d{1,2})-([A-ZÑÁÉÍÓÚ]{3})-(\d{2})\s+(.+?)\s+(USD\s+)?(-?[\d.,]+)\s*$`)

	cutDateRe     = regexp.MustCompile(`(?i)fecha\s+de\s+corte[:\s]+(\d{1,2})-([A-ZÑÁÉÍÓÚa-zñáéíóú]{3})-(\d{2,4})`)
	dueDateRe     = regexp.MustCompile(`(?i)fecha\s+(?:limite\s+)?de\s+pago[:\s]+(\d{1,2})-([A-ZÑÁÉÍÓÚa-zñáéíóú]{3})-(\d{2,4})`)
	creditLimitRe = regexp.MustCompile(`(?i)l[ií]mite\s+de\s+cr[eé]dito[:\s]+([\d.,]+)`)
	minPaymentRe  = regexp.MustCompile(`(?i)pago\s+m[ií]nimo[:\s]+([\d.,]+)`)
	filenameYearRe = regexp.MustCompile(`(20\d{2})`)
)

var spanishMonths = map[string]time.Month{
	"ENE": time.January, "FEB": time.February, "MAR": time.March,
	"ABR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AGO": time.August, "SEP": time.September, "SET": time.September,
	"OCT": time.October, "NOV": time.November, "DIC": time.December,
}

// Parser extracts credit-card statements heuristically and delegates
// deposit statements to the LLM when the grid does not apply.
type Parser struct {
	log *logger.Logger
}

func NewParser(log *logger.Logger) *Parser {
	if log == nil {
		log = logger.Default()
	}
	return &Parser{log: log}
}

// ParseCreditCard reads the header region and walks the rows with the
// section state machine. Unknown lines are skipped, never fatal.
func (p *Parser) ParseCreditCard(data []byte, filename string) (*domain.BankStatement, error) {
	text, err := ExtractText(data)
	if err != nil {
		return nil, apperr.ParseSkip("statement pdf "+filename, err)
	}
	return p.parseCreditCardText(text, filename)
}

func (p *Parser) parseCreditCardText(text, filename string) (*domain.BankStatement, error) {
	st := &domain.BankStatement{
		Bank:     domain.BankBAC,
		Kind:     domain.StatementCreditCard,
		Filename: filename,
	}

	cut, ok := headerDate(cutDateRe, text, filename)
	if !ok {
		return nil, apperr.ParseSkip("statement pdf "+filename, nil)
	}
	st.CutDate = cut
	st.PeriodStart = cut.AddDate(0, -1, 0)

	if due, ok := headerDate(dueDateRe, text, filename); ok {
		st.DueDate = &due
	}
	if m := creditLimitRe.FindStringSubmatch(text); m != nil {
		if d, ok := parseStatementAmount(m[1]); ok {
			st.CreditLimit = &d
		}
	}
	if m := minPaymentRe.FindStringSubmatch(text); m != nil {
		if d, ok := parseStatementAmount(m[1]); ok {
			st.MinimumPayment = &d
		}
	}

	section := domain.SectionUnknown
	ordinal := 0
	skipped := 0
	for _, line := range strings.Split(text, "\n") {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if upper == "" {
			continue
		}

		matched := false
		for _, h := range sectionHeaders {
			if strings.Contains(upper, h.marker) {
				section = h.section
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		row, ok := parseRow(upper, filename, st.CutDate)
		if !ok {
			skipped++
			continue
		}
		row.Ordinal = ordinal
		row.Section = section
		ordinal++
		st.Rows = append(st.Rows, *row)

		switch row.Currency {
		case "USD":
			st.TotalUSD = st.TotalUSD.Add(row.Amount)
		default:
			st.TotalLocal = st.TotalLocal.Add(row.Amount)
		}
	}

	if len(st.Rows) == 0 {
		return nil, apperr.ParseSkip("statement pdf "+filename+" has no rows", nil)
	}
	p.log.Debug("statement: parsed %d rows from %s (%d lines skipped)", len(st.Rows), filename, skipped)
	return st, nil
}

func parseRow(line, filename string, cutDate time.Time) (*domain.StatementRow, bool) {
	m := rowRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	month, ok := spanishMonths[m[3]]
	if !ok {
		return nil, false
	}
	amount, ok := parseStatementAmount(m[7])
	if !ok {
		return nil, false
	}

	day := atoi(m[2])
	year := resolveYear(atoi(m[4]), filename, cutDate)
	currency := domain.LocalCurrency
	if strings.TrimSpace(m[6]) == "USD" {
		currency = "USD"
	}

	desc := strings.TrimSpace(m[5])
	return &domain.StatementRow{
		Reference:   m[1],
		Date:        domain.PinToNoon(year, month, day, time.UTC),
		Description: desc,
		Currency:    currency,
		Amount:      amount,
	}, true
}

// resolveYear expands a two-digit row year: prefer a four-digit year in the
// filename, fall back to the statement cut year, last resort the 2000s.
func resolveYear(yy int, filename string, cutDate time.Time) int {
	if m := filenameYearRe.FindStringSubmatch(filename); m != nil {
		full := atoi(m[1])
		if full%100 == yy {
			return full
		}
	}
	if !cutDate.IsZero() {
		century := cutDate.Year() - cutDate.Year()%100
		year := century + yy
		// A December row on a January statement belongs to the prior year's
		// century window; the modulo check keeps it sane.
		if year > cutDate.Year()+1 {
			year -= 100
		}
		return year
	}
	return 2000 + yy
}

func headerDate(re *regexp.Regexp, text, filename string) (time.Time, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := spanishMonths[strings.ToUpper(m[2])]
	if !ok {
		return time.Time{}, false
	}
	year := atoi(m[3])
	if year < 100 {
		year = resolveYear(year, filename, time.Time{})
	}
	return domain.PinToNoon(year, month, atoi(m[1]), time.UTC), true
}

// parseStatementAmount reads grid amounts; both "45,000.00" and "45.000,00"
// appear depending on the template generation.
func parseStatementAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

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
	if intPart == "" {
		return decimal.Zero, false
	}

	num := intPart
	if fracPart != "" {
		num += "." + fracPart
	}
	if neg {
		num = "-" + num
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
