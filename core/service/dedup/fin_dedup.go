// Package dedup owns transaction identity. First line of defense is the
// content-addressed email_id, which makes re-ingestion of the same source
// record a no-op at the storage layer. The second line is an offline fuzzy
// detector that scores near-duplicate pairs for human review.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"finanzas/core/domain"

	"github.com/shopspring/decimal"
)

// EmailSourceID derives the content-addressed id for an email-sourced
// transaction from the upstream message id.
func EmailSourceID(messageID string) string {
	return hashKey("email", strings.TrimSpace(messageID))
}

// StatementRowID derives the id for a PDF-sourced row. Reference numbers
// repeat across statements, so the statement id and row ordinal are part of
// the compound.
func StatementRowID(statementID int64, ref string, ordinal int, description string, amount decimal.Decimal) string {
	nat := fmt.Sprintf("%d|%s|%d|%s|%s",
		statementID, strings.TrimSpace(ref), ordinal, strings.TrimSpace(description), amount.String())
	return hashKey("pdf", nat)
}

func hashKey(kind, natural string) string {
	sum := sha256.Sum256([]byte(kind + ":" + natural))
	return kind + "_" + hex.EncodeToString(sum[:16])
}

// ============================================================================
// Fuzzy detector
// ============================================================================

// Thresholds on the 100-point pair score.
const (
	scoreExact     = 90
	scoreStrong    = 70
	scoreWeak      = 50
	maxAmountDrift = 0.05
)

// ScorePair rates how likely a and b describe the same real-world charge.
// Returns the score and the matched-field reasons, highest-signal first.
// Scores below 50 mean "not a duplicate".
func ScorePair(a, b *domain.Transaction) (int, []string) {
	if a.ProfileID != b.ProfileID {
		return 0, nil
	}
	// Different cards (or accounts) can legitimately carry twin charges.
	if a.CardID != nil && b.CardID != nil && *a.CardID != *b.CardID {
		return 0, nil
	}
	if a.BankAccountIBAN != nil && b.BankAccountIBAN != nil && *a.BankAccountIBAN != *b.BankAccountIBAN {
		return 0, nil
	}

	sameMerchant := a.MerchantID != nil && b.MerchantID != nil && *a.MerchantID == *b.MerchantID
	if !sameMerchant {
		return 0, nil
	}

	drift := amountDrift(a.AmountLocal, b.AmountLocal)
	if drift > maxAmountDrift {
		return 0, nil
	}
	dayGap := dayDistance(a.TxnTime, b.TxnTime)

	reasons := []string{"same_merchant"}

	switch {
	case drift == 0 && dayGap == 0:
		reasons = append(reasons, "exact_amount", "same_date")
		return 95, reasons
	case drift < 0.01 && dayGap <= 1:
		reasons = append(reasons, "amount_within_1pct")
		if dayGap == 0 {
			reasons = append(reasons, "same_date")
		} else {
			reasons = append(reasons, "adjacent_day")
		}
		return 80, reasons
	case dayGap <= 3:
		reasons = append(reasons, "amount_within_5pct", "within_3_days")
		return 60, reasons
	default:
		return 0, nil
	}
}

// FindDuplicates scans a profile's transactions pairwise and reports every
// pair scoring at or above the weak threshold. Pairs are reported, never
// auto-merged.
func FindDuplicates(txns []*domain.Transaction) []*domain.DuplicatePair {
	var pairs []*domain.DuplicatePair
	for i := 0; i < len(txns); i++ {
		for j := i + 1; j < len(txns); j++ {
			a, b := txns[i], txns[j]
			if a.EmailID == b.EmailID {
				continue
			}
			score, reasons := ScorePair(a, b)
			if score < scoreWeak {
				continue
			}
			pairs = append(pairs, &domain.DuplicatePair{
				ProfileID:       a.ProfileID,
				TransactionID:   a.ID,
				CandidateID:     b.ID,
				SimilarityScore: score,
				Reasons:         reasons,
			})
		}
	}
	return pairs
}

func amountDrift(a, b decimal.Decimal) float64 {
	if a.IsZero() && b.IsZero() {
		return 0
	}
	base := decimal.Max(a.Abs(), b.Abs())
	if base.IsZero() {
		return 1
	}
	diff := a.Sub(b).Abs()
	f, _ := diff.Div(base).Float64()
	return f
}

func dayDistance(a, b time.Time) int {
	da := a.UTC().Truncate(24 * time.Hour)
	db := b.UTC().Truncate(24 * time.Hour)
	gap := int(da.Sub(db).Hours() / 24)
	if gap < 0 {
		gap = -gap
	}
	return gap
}
