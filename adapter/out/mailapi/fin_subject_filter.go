package mailapi

import (
	"strings"

	"finanzas/core/domain"
)

// exclusionTerms mark marketing, configuration, and loyalty mail. Exclusion
// beats inclusion.
var exclusionTerms = []string{
	"PROMOCION",
	"PROMO",
	"OFERTA",
	"DESCUENTO",
	"PUNTOS",
	"MILLAS",
	"CONFIGURACION",
	"ACTUALIZA TUS DATOS",
	"ENCUESTA",
	"BENEFICIO",
	"PREAPROBADO",
}

// inclusionTerms mark transactional notifications. A message must match one
// of these to pass.
var inclusionTerms = []string{
	"COMPRA",
	"TRANSACCION",
	"CARGO",
	"DEBITO",
	"DEPOSITO",
	"CREDITO",
	"TRANSFERENCIA",
	"SINPE",
	"RETIRO",
	"ESTADO DE CUENTA",
	"NOTIFICACION DE TRANSACCION",
}

// SubjectFilter classifies mail as transactional or marketing by subject.
// Messages from the bank's notification address skip the exclusion
// heuristics but still have to look transactional.
type SubjectFilter struct {
	notifyAddress string
}

func NewSubjectFilter(notifyAddress string) *SubjectFilter {
	return &SubjectFilter{notifyAddress: strings.ToLower(notifyAddress)}
}

// Accept reports whether the message should reach a parser.
func (f *SubjectFilter) Accept(msg *domain.RawMessage) bool {
	subj := strings.ToUpper(msg.Subject)

	trusted := f.notifyAddress != "" && strings.EqualFold(msg.FromAddress, f.notifyAddress)
	if !trusted {
		for _, term := range exclusionTerms {
			if strings.Contains(subj, term) {
				return false
			}
		}
	}

	for _, term := range inclusionTerms {
		if strings.Contains(subj, term) {
			return true
		}
	}
	return false
}
