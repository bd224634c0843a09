package parser

import (
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"
)

// BACPurchaseParser reads BAC card-purchase notifications. The template is
// a labeled HTML table: Comercio, Ciudad, Pais, Fecha, Monto, plus the
// masked card number in the preamble.
type BACPurchaseParser struct{}

func NewBACPurchaseParser() *BACPurchaseParser { return &BACPurchaseParser{} }

func (p *BACPurchaseParser) Name() string { return "bac_purchase" }

func (p *BACPurchaseParser) CanParse(msg *domain.RawMessage) bool {
	subj := strings.ToUpper(msg.Subject)
	return strings.Contains(subj, "NOTIFICACION DE TRANSACCION") ||
		strings.Contains(subj, "NOTIFICACIÓN DE TRANSACCIÓN") ||
		strings.Contains(subj, "COMPROBANTE DE COMPRA")
}

var purchaseStops = []string{"Ciudad", "Pais", "País", "Fecha", "Monto", "VISA", "MASTERCARD", "Autorizacion", "Autorización"}

func (p *BACPurchaseParser) Parse(msg *domain.RawMessage) (*domain.ParsedTransaction, error) {
	text := msg.Body
	if msg.ContentType == "html" {
		text = htmlToText(msg.Body)
	}

	merchant := fieldAfter(text, "Comercio", purchaseStops)
	if merchant == "" {
		return nil, apperr.ParseSkip(p.Name(), nil)
	}

	amount, currency, ok := parseAmount(text)
	if !ok {
		return nil, apperr.Validation("amount", "not found in purchase notification")
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount", "non-positive")
	}

	txnTime := msg.ReceivedAt
	if d, ok := parseSpanishDate(fieldAfter(text, "Fecha", purchaseStops), costaRica); ok {
		txnTime = d
	}
	if txnTime.After(msg.ReceivedAt.Add(48 * time.Hour)) {
		return nil, apperr.Validation("txn_time", "date in the future")
	}

	var lastFour *string
	if m := lastFourRe.FindStringSubmatch(text); m != nil {
		lastFour = ptr(m[1])
	}

	return &domain.ParsedTransaction{
		SourceMessageID: msg.ID,
		Bank:            domain.BankBAC,
		Kind:            domain.KindPurchase,
		MerchantRaw:     merchant,
		City:            ptr(fieldAfter(text, "Ciudad", purchaseStops)),
		Country:         ptr(fieldAfter(text, "Pais", purchaseStops)),
		Amount:          amount,
		Currency:        currency,
		TxnTime:         txnTime,
		CardLastFour:    lastFour,
	}, nil
}
