package statement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const depositSystemPrompt = `Eres un extractor de estados de cuenta bancarios.
Recibes el texto plano de un estado de cuenta de ahorros y devuelves SOLO un
objeto JSON valido, sin markdown ni comentarios, con esta forma exacta:
{"cut_date":"YYYY-MM-DD","rows":[{"reference":"...","date":"YYYY-MM-DD","description":"...","currency":"CRC|USD","amount":"-12345.67"}]}
Los montos usan punto decimal y signo negativo para debitos. Omite filas que
no sean movimientos.`

type depositEnvelope struct {
	CutDate string `json:"cut_date"`
	Rows    []struct {
		Reference   string `json:"reference"`
		Date        string `json:"date"`
		Description string `json:"description"`
		Currency    string `json:"currency"`
		Amount      string `json:"amount"`
	} `json:"rows"`
}

// ParseDeposit extracts a deposit-account statement. The grid heuristics do
// not survive this layout, so the text goes to the LLM under a strict JSON
// contract; anything that does not round-trip as valid rows is rejected.
func (p *Parser) ParseDeposit(ctx context.Context, llm out.LLM, data []byte, filename string) (*domain.BankStatement, error) {
	text, err := ExtractText(data)
	if err != nil {
		return nil, apperr.ParseSkip("statement pdf "+filename, err)
	}
	return p.parseDepositText(ctx, llm, text, filename)
}

func (p *Parser) parseDepositText(ctx context.Context, llm out.LLM, text, filename string) (*domain.BankStatement, error) {
	raw, err := llm.CompleteJSON(ctx, depositSystemPrompt, text)
	if err != nil {
		return nil, err
	}

	var env depositEnvelope
	if err := json.Unmarshal([]byte(stripFences(raw)), &env); err != nil {
		return nil, apperr.ParseSkip("deposit statement "+filename, fmt.Errorf("llm returned invalid json: %w", err))
	}

	cut, err := time.Parse("2006-01-02", env.CutDate)
	if err != nil {
		return nil, apperr.ParseSkip("deposit statement "+filename, fmt.Errorf("bad cut_date %q", env.CutDate))
	}

	st := &domain.BankStatement{
		Bank:        domain.BankBAC,
		Kind:        domain.StatementDeposit,
		Filename:    filename,
		CutDate:     domain.PinToNoon(cut.Year(), cut.Month(), cut.Day(), time.UTC),
		PeriodStart: domain.PinToNoon(cut.Year(), cut.Month(), cut.Day(), time.UTC).AddDate(0, -1, 0),
	}

	for i, r := range env.Rows {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			return nil, apperr.ParseSkip("deposit statement "+filename, fmt.Errorf("row %d bad date %q", i, r.Date))
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, apperr.ParseSkip("deposit statement "+filename, fmt.Errorf("row %d bad amount %q", i, r.Amount))
		}
		currency := strings.ToUpper(r.Currency)
		if currency != domain.LocalCurrency && currency != "USD" {
			return nil, apperr.ParseSkip("deposit statement "+filename, fmt.Errorf("row %d bad currency %q", i, r.Currency))
		}

		st.Rows = append(st.Rows, domain.StatementRow{
			Ordinal:     i,
			Reference:   r.Reference,
			Date:        domain.PinToNoon(date.Year(), date.Month(), date.Day(), time.UTC),
			Description: strings.ToUpper(strings.TrimSpace(r.Description)),
			Currency:    currency,
			Amount:      amount,
			Section:     domain.SectionUnknown,
		})
		if currency == "USD" {
			st.TotalUSD = st.TotalUSD.Add(amount)
		} else {
			st.TotalLocal = st.TotalLocal.Add(amount)
		}
	}

	if len(st.Rows) == 0 {
		return nil, apperr.ParseSkip("deposit statement "+filename+" has no rows", nil)
	}
	return st, nil
}

// stripFences tolerates models that wrap the object in a code fence despite
// the contract.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
