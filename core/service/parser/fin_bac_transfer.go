package parser

import (
	"strings"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"
)

// BACTransferParser reads account-transfer confirmations. Transfers to the
// user's own accounts are flagged so the pipeline excludes them from
// budgets.
type BACTransferParser struct{}

func NewBACTransferParser() *BACTransferParser { return &BACTransferParser{} }

func (p *BACTransferParser) Name() string { return "bac_transfer" }

func (p *BACTransferParser) CanParse(msg *domain.RawMessage) bool {
	subj := strings.ToUpper(msg.Subject)
	return strings.Contains(subj, "TRANSFERENCIA")
}

var transferStops = []string{"Monto", "Fecha", "Cuenta", "Concepto", "Referencia", "Comprobante"}

// ownTransferMarkers appear in the descriptor or concept when both accounts
// belong to the user.
var ownTransferMarkers = []string{
	"CTA PROPIA",
	"CUENTA PROPIA",
	"ENTRE CUENTAS PROPIAS",
	"AHORRO PROGRAMADO",
}

func (p *BACTransferParser) Parse(msg *domain.RawMessage) (*domain.ParsedTransaction, error) {
	text := msg.Body
	if msg.ContentType == "html" {
		text = htmlToText(msg.Body)
	}

	amount, currency, ok := parseAmount(text)
	if !ok {
		return nil, apperr.Validation("amount", "not found in transfer notification")
	}

	beneficiary := fieldAfter(text, "a favor de", transferStops)
	if beneficiary == "" {
		beneficiary = fieldAfter(text, "Beneficiario", transferStops)
	}
	concepto := fieldAfter(text, "Concepto", transferStops)

	merchant := "TRANSFERENCIA"
	if beneficiary != "" {
		merchant = "TRANSFERENCIA " + strings.ToUpper(beneficiary)
	}

	meta := domain.ParsedMetadata{
		Beneficiary: ptr(beneficiary),
		Concepto:    ptr(concepto),
		Subtype:     ptr("transferencia"),
	}
	if m := referenceRe.FindStringSubmatch(text); m != nil {
		meta.BankReference = ptr(m[1])
	}

	upper := strings.ToUpper(text)
	for _, marker := range ownTransferMarkers {
		if strings.Contains(upper, marker) {
			meta.IsOwnTransfer = true
			break
		}
	}

	return &domain.ParsedTransaction{
		SourceMessageID: msg.ID,
		Bank:            domain.BankBAC,
		Kind:            domain.KindTransfer,
		MerchantRaw:     merchant,
		Amount:          amount,
		Currency:        currency,
		TxnTime:         msg.ReceivedAt,
		Metadata:        meta,
	}, nil
}
