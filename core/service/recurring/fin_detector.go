// Package recurring detects subscription-like charges offline. Detection is
// a pure function over confirmed history; the service wraps it with
// persistence and projection alerts.
package recurring

import (
	"context"
	"sort"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"
	"finanzas/core/service/normalize"
	"finanzas/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	lookbackMonths      = 6
	minOccurrences      = 2
	maxGapDeviationDays = 5.0
	maxAmountVariation  = 0.10
	minConfidence       = 50
)

// knownCadences are the billing rhythms worth naming, with how far the mean
// gap may sit from each.
var knownCadences = []struct {
	days      int
	tolerance float64
}{
	{7, 2}, {14, 3}, {30, 5}, {60, 7}, {90, 10}, {180, 15}, {365, 20},
}

type Service struct {
	transactions  out.TransactionRepository
	subscriptions out.SubscriptionRepository
	log           *logger.Logger
}

func NewService(transactions out.TransactionRepository, subscriptions out.SubscriptionRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{transactions: transactions, subscriptions: subscriptions, log: log}
}

// Scan re-detects the profile's subscriptions from trailing history and
// reconciles the stored set: new detections are upserted, vanished ones
// deactivated.
func (s *Service) Scan(ctx context.Context, profileID string, now time.Time) ([]*domain.Subscription, error) {
	since := now.AddDate(0, -lookbackMonths, 0)
	txns, err := s.transactions.List(ctx, &domain.TransactionFilter{
		ProfileID: profileID,
		DateFrom:  &since,
	})
	if err != nil {
		return nil, err
	}

	detected := Detect(profileID, txns, now)

	existing, err := s.subscriptions.ListActive(ctx, profileID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*domain.Subscription, len(existing))
	for _, sub := range existing {
		byKey[sub.MerchantKey] = sub
	}

	for _, sub := range detected {
		if prev, ok := byKey[sub.MerchantKey]; ok {
			sub.ID = prev.ID
			delete(byKey, sub.MerchantKey)
		}
		if err := s.subscriptions.Upsert(ctx, sub); err != nil {
			return nil, err
		}
	}
	for _, gone := range byKey {
		if err := s.subscriptions.Deactivate(ctx, gone.ID); err != nil {
			return nil, err
		}
	}

	s.log.WithProfile(profileID).Info("recurring: %d subscriptions detected, %d deactivated", len(detected), len(byKey))
	return detected, nil
}

// PendingAlerts projects the next charge of every active subscription and
// returns the alerts due today.
func (s *Service) PendingAlerts(ctx context.Context, profileID string, today time.Time) ([]domain.SubscriptionAlert, error) {
	subs, err := s.subscriptions.ListActive(ctx, profileID)
	if err != nil {
		return nil, err
	}
	var alerts []domain.SubscriptionAlert
	for _, sub := range subs {
		window, due := sub.PendingAlert(today)
		if !due {
			continue
		}
		alerts = append(alerts, domain.SubscriptionAlert{
			SubscriptionID: sub.ID,
			ProfileID:      sub.ProfileID,
			MerchantKey:    sub.MerchantKey,
			Amount:         sub.AvgAmount,
			Expected:       sub.NextExpected,
			Window:         window,
			Urgent:         window == domain.AlertOverdue,
		})
	}
	return alerts, nil
}

// Detect groups trailing charges by merchant and keeps the groups whose
// interval and amount are stable enough to name a cadence.
func Detect(profileID string, txns []*domain.Transaction, now time.Time) []*domain.Subscription {
	groups := make(map[string][]*domain.Transaction)
	for _, t := range txns {
		if t.IsInternalTransfer {
			continue
		}
		switch t.Status {
		case domain.StatusConfirmed, domain.StatusReconciled:
		default:
			continue
		}
		key := normalize.Key(t.MerchantRaw)
		groups[key] = append(groups[key], t)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result []*domain.Subscription
	for _, key := range keys {
		group := groups[key]
		if len(group) < minOccurrences {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].TxnTime.Before(group[j].TxnTime) })

		sub := scoreGroup(profileID, key, group)
		if sub == nil {
			continue
		}
		result = append(result, sub)
	}
	return result
}

func scoreGroup(profileID, key string, group []*domain.Transaction) *domain.Subscription {
	gaps := make([]float64, 0, len(group)-1)
	for i := 1; i < len(group); i++ {
		gaps = append(gaps, group[i].TxnTime.Sub(group[i-1].TxnTime).Hours()/24)
	}
	meanGap := mean(gaps)
	dev := meanAbsDeviation(gaps, meanGap)
	if dev > maxGapDeviationDays {
		return nil
	}

	variation := amountVariation(group)
	if variation > maxAmountVariation {
		return nil
	}

	cadence, ok := nearestCadence(meanGap)
	if !ok {
		return nil
	}

	confidence := occurrenceScore(len(group)) + intervalScore(dev) + amountScore(variation)
	if confidence < minConfidence {
		return nil
	}

	first := group[0]
	last := group[len(group)-1]
	sub := &domain.Subscription{
		ProfileID:    profileID,
		MerchantID:   last.MerchantID,
		MerchantKey:  key,
		AvgAmount:    avgAmount(group),
		CadenceDays:  cadence,
		Occurrences:  len(group),
		Confidence:   confidence,
		FirstSeen:    first.TxnTime,
		LastSeen:     last.TxnTime,
		NextExpected: last.TxnTime.AddDate(0, 0, cadence),
		Active:       true,
	}
	return sub
}

// occurrenceScore gives 10 points per sighting up to 40.
func occurrenceScore(n int) int {
	score := n * 10
	if score > 40 {
		score = 40
	}
	return score
}

// intervalScore scales 0..30 with how tight the gaps are.
func intervalScore(dev float64) int {
	score := 30 * (1 - dev/maxGapDeviationDays)
	if score < 0 {
		return 0
	}
	return int(score)
}

// amountScore scales 0..30 with how stable the amount is.
func amountScore(variation float64) int {
	score := 30 * (1 - variation/maxAmountVariation)
	if score < 0 {
		return 0
	}
	return int(score)
}

func nearestCadence(meanGap float64) (int, bool) {
	for _, c := range knownCadences {
		diff := meanGap - float64(c.days)
		if diff < 0 {
			diff = -diff
		}
		if diff <= c.tolerance {
			return c.days, true
		}
	}
	return 0, false
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanAbsDeviation(xs []float64, m float64) float64 {
	var sum float64
	for _, x := range xs {
		d := x - m
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(xs))
}

func amountVariation(group []*domain.Transaction) float64 {
	min, max := group[0].AmountLocal, group[0].AmountLocal
	for _, t := range group[1:] {
		if t.AmountLocal.LessThan(min) {
			min = t.AmountLocal
		}
		if t.AmountLocal.GreaterThan(max) {
			max = t.AmountLocal
		}
	}
	m := avgAmount(group)
	if m.IsZero() {
		return 0
	}
	f, _ := max.Sub(min).Div(m).Float64()
	return f
}

func avgAmount(group []*domain.Transaction) decimal.Decimal {
	var sum decimal.Decimal
	for _, t := range group {
		sum = sum.Add(t.AmountLocal)
	}
	return sum.Div(decimal.NewFromInt(int64(len(group)))).Round(2)
}
