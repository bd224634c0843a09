package recurring

import (
	"context"
	"testing"
	"time"

	"finanzas/core/domain"

	"github.com/shopspring/decimal"
)

func charge(id int64, merchant, amount string, t time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		ProfileID:   "p1",
		MerchantRaw: merchant,
		AmountLocal: decimal.RequireFromString(amount),
		TxnTime:     t,
		Status:      domain.StatusConfirmed,
	}
}

func monthly(merchant, amount string, months int, start time.Time) []*domain.Transaction {
	var txns []*domain.Transaction
	for i := 0; i < months; i++ {
		txns = append(txns, charge(int64(i+1), merchant, amount, start.AddDate(0, 0, 30*i)))
	}
	return txns
}

func TestDetectMonthlySubscription(t *testing.T) {
	start := domain.PinToNoon(2025, time.June, 5, time.UTC)
	now := start.AddDate(0, 0, 30*8)
	txns := monthly("NETFLIX.COM", "6500", 8, start)

	subs := Detect("p1", txns, now)
	if len(subs) != 1 {
		t.Fatalf("detected = %d, want 1", len(subs))
	}

	sub := subs[0]
	if sub.MerchantKey != "NETFLIX.COM" {
		t.Errorf("merchant key = %q", sub.MerchantKey)
	}
	if sub.CadenceDays != 30 {
		t.Errorf("cadence = %d, want 30", sub.CadenceDays)
	}
	if sub.Occurrences != 8 {
		t.Errorf("occurrences = %d", sub.Occurrences)
	}
	if sub.Confidence < 80 {
		t.Errorf("confidence = %d, want >= 80", sub.Confidence)
	}
	if !sub.AvgAmount.Equal(decimal.RequireFromString("6500")) {
		t.Errorf("avg amount = %s", sub.AvgAmount)
	}
	wantNext := txns[7].TxnTime.AddDate(0, 0, 30)
	if !sub.NextExpected.Equal(wantNext) {
		t.Errorf("next expected = %v, want %v", sub.NextExpected, wantNext)
	}
}

func TestDetectWeeklyCadence(t *testing.T) {
	start := domain.PinToNoon(2025, time.December, 1, time.UTC)
	var txns []*domain.Transaction
	for i := 0; i < 6; i++ {
		txns = append(txns, charge(int64(i+1), "GIMNASIO MULTISPA", "5000", start.AddDate(0, 0, 7*i)))
	}

	subs := Detect("p1", txns, start.AddDate(0, 0, 45))
	if len(subs) != 1 {
		t.Fatalf("detected = %d, want 1", len(subs))
	}
	if subs[0].CadenceDays != 7 {
		t.Errorf("cadence = %d, want 7", subs[0].CadenceDays)
	}
}

func TestDetectRejectsUnstableAmounts(t *testing.T) {
	start := domain.PinToNoon(2025, time.June, 5, time.UTC)
	txns := []*domain.Transaction{
		charge(1, "AUTO MERCADO", "12000", start),
		charge(2, "AUTO MERCADO", "48000", start.AddDate(0, 0, 30)),
		charge(3, "AUTO MERCADO", "23000", start.AddDate(0, 0, 60)),
	}

	if subs := Detect("p1", txns, start.AddDate(0, 0, 90)); len(subs) != 0 {
		t.Errorf("detected = %d, want 0 for varying amounts", len(subs))
	}
}

func TestDetectRejectsIrregularIntervals(t *testing.T) {
	start := domain.PinToNoon(2025, time.June, 5, time.UTC)
	txns := []*domain.Transaction{
		charge(1, "FARMACIA FISCHEL", "8000", start),
		charge(2, "FARMACIA FISCHEL", "8000", start.AddDate(0, 0, 11)),
		charge(3, "FARMACIA FISCHEL", "8000", start.AddDate(0, 0, 59)),
		charge(4, "FARMACIA FISCHEL", "8000", start.AddDate(0, 0, 63)),
	}

	if subs := Detect("p1", txns, start.AddDate(0, 0, 90)); len(subs) != 0 {
		t.Errorf("detected = %d, want 0 for irregular gaps", len(subs))
	}
}

func TestDetectIgnoresSingletonsAndInternalTransfers(t *testing.T) {
	start := domain.PinToNoon(2025, time.June, 5, time.UTC)
	internal := monthly("PAGO TC ****4321", "250000", 6, start)
	for _, tx := range internal {
		tx.IsInternalTransfer = true
	}
	txns := append(internal, charge(100, "RESTAURANTE UNICO", "15000", start))

	if subs := Detect("p1", txns, start.AddDate(0, 0, 180)); len(subs) != 0 {
		t.Errorf("detected = %d, want 0", len(subs))
	}
}

func TestDetectToleratesSmallDrift(t *testing.T) {
	// Billing lands a day or two off every month; still a subscription.
	start := domain.PinToNoon(2025, time.June, 5, time.UTC)
	offsets := []int{0, 31, 59, 90, 121, 150}
	var txns []*domain.Transaction
	for i, off := range offsets {
		txns = append(txns, charge(int64(i+1), "SPOTIFY", "3500", start.AddDate(0, 0, off)))
	}

	subs := Detect("p1", txns, start.AddDate(0, 0, 180))
	if len(subs) != 1 {
		t.Fatalf("detected = %d, want 1", len(subs))
	}
	if subs[0].CadenceDays != 30 {
		t.Errorf("cadence = %d, want 30", subs[0].CadenceDays)
	}
}

type fakeSubRepo struct {
	active      []*domain.Subscription
	upserted    []*domain.Subscription
	deactivated []int64
}

func (f *fakeSubRepo) ListActive(context.Context, string) ([]*domain.Subscription, error) {
	return f.active, nil
}

func (f *fakeSubRepo) Upsert(_ context.Context, s *domain.Subscription) error {
	f.upserted = append(f.upserted, s)
	return nil
}

func (f *fakeSubRepo) Deactivate(_ context.Context, id int64) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeTxnList struct{ txns []*domain.Transaction }

func (f *fakeTxnList) Create(context.Context, *domain.Transaction) error { return nil }
func (f *fakeTxnList) Update(context.Context, *domain.Transaction) error { return nil }
func (f *fakeTxnList) GetByID(context.Context, int64) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxnList) GetByEmailID(context.Context, string, string) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxnList) List(context.Context, *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return f.txns, nil
}
func (f *fakeTxnList) LatestConfirmedByMerchant(context.Context, string, int64) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxnList) MarkReconciled(context.Context, int64, int64, time.Time) error { return nil }
func (f *fakeTxnList) CategoryStats(context.Context, string, int64, time.Time) (decimal.Decimal, decimal.Decimal, int, error) {
	return decimal.Zero, decimal.Zero, 0, nil
}

func TestScanUpsertsAndDeactivates(t *testing.T) {
	start := domain.PinToNoon(2025, time.June, 5, time.UTC)
	now := start.AddDate(0, 0, 180)

	repo := &fakeSubRepo{active: []*domain.Subscription{
		{ID: 40, ProfileID: "p1", MerchantKey: "NETFLIX.COM", Active: true},
		{ID: 41, ProfileID: "p1", MerchantKey: "SERVICIO CANCELADO", Active: true},
	}}
	svc := NewService(&fakeTxnList{txns: monthly("NETFLIX.COM", "6500", 6, start)}, repo, nil)

	subs, err := svc.Scan(context.Background(), "p1", now)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("detected = %d", len(subs))
	}

	if len(repo.upserted) != 1 || repo.upserted[0].ID != 40 {
		t.Errorf("upsert did not keep the existing row id: %+v", repo.upserted)
	}
	if len(repo.deactivated) != 1 || repo.deactivated[0] != 41 {
		t.Errorf("deactivated = %v, want [41]", repo.deactivated)
	}
}

func TestPendingAlerts(t *testing.T) {
	today := domain.PinToNoon(2026, time.January, 20, time.UTC)
	repo := &fakeSubRepo{active: []*domain.Subscription{
		{ID: 1, ProfileID: "p1", MerchantKey: "NETFLIX.COM", AvgAmount: decimal.NewFromInt(6500),
			NextExpected: today.AddDate(0, 0, 3), Active: true},
		{ID: 2, ProfileID: "p1", MerchantKey: "SPOTIFY", AvgAmount: decimal.NewFromInt(3500),
			NextExpected: today.AddDate(0, 0, -2), Active: true},
		{ID: 3, ProfileID: "p1", MerchantKey: "GIMNASIO", AvgAmount: decimal.NewFromInt(20000),
			NextExpected: today.AddDate(0, 0, 12), Active: true},
	}}
	svc := NewService(&fakeTxnList{}, repo, nil)

	alerts, err := svc.PendingAlerts(context.Background(), "p1", today)
	if err != nil {
		t.Fatalf("PendingAlerts() error = %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].Window != domain.AlertSoon || alerts[0].Urgent {
		t.Errorf("first alert = %+v", alerts[0])
	}
	if alerts[1].Window != domain.AlertOverdue || !alerts[1].Urgent {
		t.Errorf("second alert = %+v", alerts[1])
	}
}
