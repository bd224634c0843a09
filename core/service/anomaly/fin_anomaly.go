// Package anomaly runs the offline hygiene passes over recent
// transactions: internal-transfer detection (card payments, own-account
// moves, scheduled savings) and statistical outlier scoring per
// subcategory.
package anomaly

import (
	"context"
	"regexp"
	"strings"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/pkg/logger"
)

const (
	// statsWindowDays is the trailing window the per-subcategory baseline
	// is computed over.
	statsWindowDays = 90
	// minSamples below which no outlier call is made.
	minSamples = 5
	// zThreshold is how many standard deviations from the mean an amount
	// must sit to be flagged.
	zThreshold = 3.0
)

// Special types stamped on detected internal transfers.
const (
	SpecialCardPayment      = "card_payment"
	SpecialOwnTransfer      = "own_transfer"
	SpecialScheduledSavings = "scheduled_savings"
)

type Service struct {
	transactions out.TransactionRepository
	cards        out.CardRepository
	log          *logger.Logger
}

func NewService(transactions out.TransactionRepository, cards out.CardRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{transactions: transactions, cards: cards, log: log}
}

// Scan runs both passes over the profile's transactions since the given
// instant and persists whatever changed. Returns the number of updated
// rows.
func (s *Service) Scan(ctx context.Context, profileID string, since time.Time) (int, error) {
	txns, err := s.transactions.List(ctx, &domain.TransactionFilter{
		ProfileID: profileID,
		DateFrom:  &since,
	})
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, t := range txns {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		changed, err := s.DetectInternalTransfer(ctx, t)
		if err != nil {
			return updated, err
		}
		scored, err := s.ScoreOutlier(ctx, t)
		if err != nil {
			return updated, err
		}
		if changed || scored {
			if err := s.transactions.Update(ctx, t); err != nil {
				return updated, err
			}
			updated++
		}
	}
	s.log.WithProfile(profileID).Info("anomaly: scan updated %d transactions", updated)
	return updated, nil
}

var (
	cardPaymentRe = regexp.MustCompile(`PAGO\s+(?:DE\s+)?(?:TC|TARJETA|VISA|MASTERCARD)`)
	lastFourRe    = regexp.MustCompile(`\*{2,}\s*(\d{4})|(?:TC|TARJETA|VISA|MASTERCARD)\s+(\d{4})\b`)
)

var ownTransferMarkers = []string{
	"TRANSFERENCIA A CTA PROPIA",
	"TRANSFERENCIA A CUENTA PROPIA",
	"ENTRE CUENTAS PROPIAS",
	"CTA PROPIA",
}

// DetectInternalTransfer flags card payments and own-account moves so they
// never count against budgets. Card payments also decrement the matched
// card's tracked balance. Returns whether the transaction changed.
func (s *Service) DetectInternalTransfer(ctx context.Context, t *domain.Transaction) (bool, error) {
	if t.IsInternalTransfer {
		return false, nil
	}

	desc := strings.ToUpper(t.MerchantRaw)
	if t.Beneficiary != nil {
		desc += " " + strings.ToUpper(*t.Beneficiary)
	}

	switch {
	case cardPaymentRe.MatchString(desc):
		t.MarkInternalTransfer(SpecialCardPayment)
		if err := s.linkCardPayment(ctx, t, desc); err != nil {
			return true, err
		}
		return true, nil
	case strings.Contains(desc, "AHORRO PROGRAMADO"):
		t.MarkInternalTransfer(SpecialScheduledSavings)
		return true, nil
	default:
		for _, marker := range ownTransferMarkers {
			if strings.Contains(desc, marker) {
				t.MarkInternalTransfer(SpecialOwnTransfer)
				return true, nil
			}
		}
	}

	// A transfer whose amount exactly matches a card balance is almost
	// certainly a payment even without the descriptor saying so.
	if t.Kind == domain.KindTransfer {
		card, err := s.balanceMatch(ctx, t)
		if err != nil {
			return false, err
		}
		if card != nil {
			t.MarkInternalTransfer(SpecialCardPayment)
			t.CardID = &card.ID
			if err := s.cards.AdjustBalance(ctx, card.ID, t.AmountLocal.Neg()); err != nil {
				return true, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) linkCardPayment(ctx context.Context, t *domain.Transaction, desc string) error {
	m := lastFourRe.FindStringSubmatch(desc)
	if m == nil {
		return nil
	}
	lastFour := m[1]
	if lastFour == "" {
		lastFour = m[2]
	}
	card, err := s.cards.GetByLastFour(ctx, t.ProfileID, lastFour)
	if err != nil {
		return err
	}
	if card == nil {
		return nil
	}
	t.CardID = &card.ID
	return s.cards.AdjustBalance(ctx, card.ID, t.AmountLocal.Neg())
}

func (s *Service) balanceMatch(ctx context.Context, t *domain.Transaction) (*domain.Card, error) {
	cards, err := s.cards.ListByProfile(ctx, t.ProfileID)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if c.Active && !c.Balance.IsZero() && c.Balance.Equal(t.AmountLocal) {
			return c, nil
		}
	}
	return nil, nil
}

// ScoreOutlier compares the amount against the profile's trailing baseline
// for the same subcategory. Small samples are never flagged. Returns
// whether the transaction changed.
func (s *Service) ScoreOutlier(ctx context.Context, t *domain.Transaction) (bool, error) {
	if t.SubcategoryID == nil || t.IsAnomaly || t.IsInternalTransfer {
		return false, nil
	}

	since := t.TxnTime.AddDate(0, 0, -statsWindowDays)
	mean, stddev, n, err := s.transactions.CategoryStats(ctx, t.ProfileID, *t.SubcategoryID, since)
	if err != nil {
		return false, err
	}
	if n < minSamples || stddev.IsZero() {
		return false, nil
	}

	z, _ := t.AmountLocal.Sub(mean).Abs().Div(stddev).Float64()
	if z <= zThreshold {
		return false, nil
	}

	t.IsAnomaly = true
	t.AnomalyScore = &z
	s.log.WithProfile(t.ProfileID).Info("anomaly: transaction %d flagged, z=%.1f", t.ID, z)
	return true, nil
}
