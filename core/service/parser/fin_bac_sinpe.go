package parser

import (
	"regexp"
	"strings"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"
)

// BACSinpeParser reads SINPE Movil transfer notifications. The descriptor is
// built as "SINPE <beneficiary>"; when the bank only gives a numeric
// reference instead of a name, the transaction is flagged for later
// clarification.
type BACSinpeParser struct{}

func NewBACSinpeParser() *BACSinpeParser { return &BACSinpeParser{} }

func (p *BACSinpeParser) Name() string { return "bac_sinpe" }

func (p *BACSinpeParser) CanParse(msg *domain.RawMessage) bool {
	subj := strings.ToUpper(msg.Subject)
	return strings.Contains(subj, "SINPE")
}

var (
	sinpeStops   = []string{"Monto", "Fecha", "Motivo", "Referencia", "Comprobante", "Telefono", "Teléfono"}
	sinpePhoneRe = regexp.MustCompile(`(?:\+?506[\s-]?)?([2678]\d{3}[\s-]?\d{4})`)
)

func (p *BACSinpeParser) Parse(msg *domain.RawMessage) (*domain.ParsedTransaction, error) {
	text := msg.Body
	if msg.ContentType == "html" {
		text = htmlToText(msg.Body)
	}

	amount, currency, ok := parseAmount(text)
	if !ok {
		return nil, apperr.Validation("amount", "not found in sinpe notification")
	}

	beneficiary := fieldAfter(text, "a favor de", sinpeStops)
	if beneficiary == "" {
		beneficiary = fieldAfter(text, "Destinatario", sinpeStops)
	}
	concepto := fieldAfter(text, "Motivo", sinpeStops)

	meta := domain.ParsedMetadata{
		Beneficiary: ptr(beneficiary),
		Concepto:    ptr(concepto),
		Subtype:     ptr("sinpe_movil"),
	}
	if m := referenceRe.FindStringSubmatch(text); m != nil {
		meta.BankReference = ptr(m[1])
	}

	merchant := "SINPE " + strings.ToUpper(strings.TrimSpace(beneficiary))
	if beneficiary == "" || numericOnlyRe.MatchString(beneficiary) {
		// Only a numeric reference: the user has to tell us who this was.
		meta.NeedsReconciliation = true
		if m := sinpePhoneRe.FindStringSubmatch(text); m != nil {
			merchant = "SINPE " + strings.ReplaceAll(strings.ReplaceAll(m[1], " ", ""), "-", "")
		} else {
			merchant = "SINPE"
		}
	}

	return &domain.ParsedTransaction{
		SourceMessageID: msg.ID,
		Bank:            domain.BankBAC,
		Kind:            domain.KindSinpe,
		MerchantRaw:     merchant,
		Amount:          amount,
		Currency:        currency,
		TxnTime:         msg.ReceivedAt,
		Metadata:        meta,
	}, nil
}
