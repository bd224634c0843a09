package statement

import (
	"context"
	"errors"
	"testing"
	"time"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"

	"github.com/shopspring/decimal"
)

const creditCardText = `BAC CREDOMATIC ESTADO DE CUENTA
Fecha de corte: 15-ENE-26
Fecha limite de pago: 05-FEB-26
Limite de credito: 2,000,000.00
Pago minimo: 45,200.00

DETALLE DE COMPRAS
100001 20-DIC-25 AUTO MERCADO SANTA ANA 45,000.00
100002 28-DIC-25 NETFLIX.COM USD 15.99
100003 10-ENE-26 UBER TRIP SAN JOSE 8,500.00
linea decorativa que no es una fila

DETALLE DE INTERESES
100004 15-ENE-26 INTERES CORRIENTE 1,234.56

DETALLE DE PAGO
100005 02-ENE-26 PAGO RECIBIDO -300,000.00
`

func TestParseCreditCardText(t *testing.T) {
	p := NewParser(nil)
	st, err := p.parseCreditCardText(creditCardText, "estado_2026_01.pdf")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if !st.CutDate.Equal(domain.PinToNoon(2026, time.January, 15, time.UTC)) {
		t.Errorf("cut date = %v", st.CutDate)
	}
	if st.DueDate == nil || !st.DueDate.Equal(domain.PinToNoon(2026, time.February, 5, time.UTC)) {
		t.Errorf("due date = %v", st.DueDate)
	}
	if st.CreditLimit == nil || !st.CreditLimit.Equal(decimal.RequireFromString("2000000")) {
		t.Errorf("credit limit = %v", st.CreditLimit)
	}
	if st.MinimumPayment == nil || !st.MinimumPayment.Equal(decimal.RequireFromString("45200")) {
		t.Errorf("minimum payment = %v", st.MinimumPayment)
	}

	if len(st.Rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(st.Rows))
	}

	tests := []struct {
		ordinal  int
		section  domain.StatementSection
		currency string
		amount   string
		year     int
	}{
		{0, domain.SectionPurchases, "CRC", "45000", 2025},
		{1, domain.SectionPurchases, "USD", "15.99", 2025},
		{2, domain.SectionPurchases, "CRC", "8500", 2026},
		{3, domain.SectionInterest, "CRC", "1234.56", 2026},
		{4, domain.SectionPayments, "CRC", "-300000", 2026},
	}
	for i, tt := range tests {
		row := st.Rows[i]
		if row.Ordinal != tt.ordinal {
			t.Errorf("row %d ordinal = %d", i, row.Ordinal)
		}
		if row.Section != tt.section {
			t.Errorf("row %d section = %s, want %s", i, row.Section, tt.section)
		}
		if row.Currency != tt.currency || !row.Amount.Equal(decimal.RequireFromString(tt.amount)) {
			t.Errorf("row %d amount = %s %s, want %s %s", i, row.Currency, row.Amount, tt.currency, tt.amount)
		}
		if row.Date.Year() != tt.year {
			t.Errorf("row %d year = %d, want %d", i, row.Date.Year(), tt.year)
		}
	}

	if !st.TotalUSD.Equal(decimal.RequireFromString("15.99")) {
		t.Errorf("total usd = %s", st.TotalUSD)
	}
	if !st.TotalLocal.Equal(decimal.RequireFromString("-245265.44")) {
		t.Errorf("total local = %s", st.TotalLocal)
	}
}

func TestParseCreditCardTextNoRows(t *testing.T) {
	p := NewParser(nil)
	_, err := p.parseCreditCardText("Fecha de corte: 15-ENE-26\nsolo texto", "x.pdf")
	if !apperr.IsCode(err, apperr.CodeParseSkip) {
		t.Fatalf("error = %v, want parse-skip", err)
	}
}

func TestResolveYear(t *testing.T) {
	cut := domain.PinToNoon(2026, time.January, 15, time.UTC)

	tests := []struct {
		yy       int
		filename string
		want     int
	}{
		{26, "estado_2026_01.pdf", 2026},
		{25, "estado_2026_01.pdf", 2025}, // filename year does not match yy
		{25, "estado.pdf", 2025},
		{26, "estado.pdf", 2026},
	}
	for _, tt := range tests {
		if got := resolveYear(tt.yy, tt.filename, cut); got != tt.want {
			t.Errorf("resolveYear(%d, %q) = %d, want %d", tt.yy, tt.filename, got, tt.want)
		}
	}
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) CompleteJSON(_ context.Context, _, _ string) (string, error) {
	return f.response, f.err
}

func TestParseDepositRejectsInvalidJSON(t *testing.T) {
	p := NewParser(nil)

	_, err := p.parseDepositText(context.Background(), &fakeLLM{response: "lo siento, no puedo"}, "texto", "dep.pdf")
	if !apperr.IsCode(err, apperr.CodeParseSkip) {
		t.Fatalf("error = %v, want parse-skip on malformed json", err)
	}
}

func TestParseDepositValid(t *testing.T) {
	p := NewParser(nil)
	llm := &fakeLLM{response: "```json\n" + `{
		"cut_date": "2026-01-31",
		"rows": [
			{"reference":"7001","date":"2026-01-05","description":"sinpe maria","currency":"CRC","amount":"-20000"},
			{"reference":"7002","date":"2026-01-20","description":"deposito salario","currency":"CRC","amount":"850000"}
		]
	}` + "\n```"}

	st, err := p.parseDepositText(context.Background(), llm, "texto", "dep.pdf")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if st.Kind != domain.StatementDeposit {
		t.Errorf("kind = %s", st.Kind)
	}
	if len(st.Rows) != 2 {
		t.Fatalf("rows = %d", len(st.Rows))
	}
	if st.Rows[0].Description != "SINPE MARIA" {
		t.Errorf("description = %q", st.Rows[0].Description)
	}
	if !st.TotalLocal.Equal(decimal.RequireFromString("830000")) {
		t.Errorf("total local = %s", st.TotalLocal)
	}
}

func TestParseDepositLLMErrorPropagates(t *testing.T) {
	p := NewParser(nil)
	wantErr := errors.New("quota")
	_, err := p.parseDepositText(context.Background(), &fakeLLM{err: wantErr}, "texto", "dep.pdf")
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want wrapped quota error", err)
	}
}
