package anomaly

import (
	"context"
	"testing"
	"time"

	"finanzas/core/domain"

	"github.com/shopspring/decimal"
)

type fakeCards struct {
	byLastFour map[string]*domain.Card
	all        []*domain.Card
	deltas     map[int64]decimal.Decimal
}

func newFakeCards(cards ...*domain.Card) *fakeCards {
	f := &fakeCards{byLastFour: make(map[string]*domain.Card), deltas: make(map[int64]decimal.Decimal)}
	for _, c := range cards {
		f.byLastFour[c.LastFour] = c
		f.all = append(f.all, c)
	}
	return f
}

func (f *fakeCards) GetByLastFour(_ context.Context, _, lastFour string) (*domain.Card, error) {
	return f.byLastFour[lastFour], nil
}

func (f *fakeCards) ListByProfile(context.Context, string) ([]*domain.Card, error) {
	return f.all, nil
}

func (f *fakeCards) AdjustBalance(_ context.Context, id int64, delta decimal.Decimal) error {
	f.deltas[id] = f.deltas[id].Add(delta)
	return nil
}

type fakeTxns struct {
	txns    []*domain.Transaction
	updated []*domain.Transaction

	mean   decimal.Decimal
	stddev decimal.Decimal
	n      int
}

func (f *fakeTxns) Create(context.Context, *domain.Transaction) error { return nil }
func (f *fakeTxns) Update(_ context.Context, t *domain.Transaction) error {
	f.updated = append(f.updated, t)
	return nil
}
func (f *fakeTxns) GetByID(context.Context, int64) (*domain.Transaction, error) { return nil, nil }
func (f *fakeTxns) GetByEmailID(context.Context, string, string) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxns) List(context.Context, *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return f.txns, nil
}
func (f *fakeTxns) LatestConfirmedByMerchant(context.Context, string, int64) (*domain.Transaction, error) {
	return nil, nil
}
func (f *fakeTxns) MarkReconciled(context.Context, int64, int64, time.Time) error { return nil }
func (f *fakeTxns) CategoryStats(context.Context, string, int64, time.Time) (decimal.Decimal, decimal.Decimal, int, error) {
	return f.mean, f.stddev, f.n, nil
}

func txn(merchant, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:          1,
		ProfileID:   "p1",
		Kind:        domain.KindTransfer,
		MerchantRaw: merchant,
		AmountLocal: decimal.RequireFromString(amount),
		TxnTime:     domain.PinToNoon(2026, time.January, 15, time.UTC),
		Status:      domain.StatusConfirmed,
	}
}

func TestDetectCardPaymentAdjustsBalance(t *testing.T) {
	card := &domain.Card{ID: 9, ProfileID: "p1", LastFour: "4321", Active: true}
	cards := newFakeCards(card)
	svc := NewService(&fakeTxns{}, cards, nil)

	tr := txn("PAGO TC ****4321", "250000")
	changed, err := svc.DetectInternalTransfer(context.Background(), tr)
	if err != nil {
		t.Fatalf("DetectInternalTransfer() error = %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	if !tr.IsInternalTransfer || !tr.ExcludeFromBudget {
		t.Error("not marked internal")
	}
	if tr.SpecialType == nil || *tr.SpecialType != SpecialCardPayment {
		t.Errorf("special type = %v", tr.SpecialType)
	}
	if tr.CardID == nil || *tr.CardID != 9 {
		t.Errorf("card id = %v", tr.CardID)
	}
	if !cards.deltas[9].Equal(decimal.RequireFromString("-250000")) {
		t.Errorf("balance delta = %s, want -250000", cards.deltas[9])
	}
}

func TestDetectDescriptorFamilies(t *testing.T) {
	tests := []struct {
		merchant string
		want     string
	}{
		{"PAGO VISA 4321", SpecialCardPayment},
		{"PAGO DE TARJETA MASTERCARD", SpecialCardPayment},
		{"TRANSFERENCIA A CTA PROPIA", SpecialOwnTransfer},
		{"AHORRO PROGRAMADO BAC", SpecialScheduledSavings},
	}

	for _, tt := range tests {
		svc := NewService(&fakeTxns{}, newFakeCards(), nil)
		tr := txn(tt.merchant, "100000")
		changed, err := svc.DetectInternalTransfer(context.Background(), tr)
		if err != nil {
			t.Fatalf("%s: error = %v", tt.merchant, err)
		}
		if !changed {
			t.Errorf("%s: not detected", tt.merchant)
			continue
		}
		if tr.SpecialType == nil || *tr.SpecialType != tt.want {
			t.Errorf("%s: special type = %v, want %s", tt.merchant, tr.SpecialType, tt.want)
		}
	}
}

func TestDetectBalanceMatchFallback(t *testing.T) {
	card := &domain.Card{ID: 3, ProfileID: "p1", LastFour: "9876", Active: true,
		Balance: decimal.RequireFromString("312450.55")}
	cards := newFakeCards(card)
	svc := NewService(&fakeTxns{}, cards, nil)

	tr := txn("TRANSFERENCIA JUAN PEREZ", "312450.55")
	changed, err := svc.DetectInternalTransfer(context.Background(), tr)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !changed || tr.CardID == nil || *tr.CardID != 3 {
		t.Errorf("balance match missed: changed=%v card=%v", changed, tr.CardID)
	}
}

func TestDetectLeavesRegularPurchasesAlone(t *testing.T) {
	svc := NewService(&fakeTxns{}, newFakeCards(), nil)
	tr := txn("AUTO MERCADO SANTA ANA", "45000")
	tr.Kind = domain.KindPurchase

	changed, err := svc.DetectInternalTransfer(context.Background(), tr)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if changed || tr.IsInternalTransfer {
		t.Error("regular purchase flagged as internal")
	}
}

func TestScoreOutlierFlagsExtremeAmount(t *testing.T) {
	txns := &fakeTxns{
		mean:   decimal.NewFromInt(10000),
		stddev: decimal.NewFromInt(2000),
		n:      12,
	}
	svc := NewService(txns, newFakeCards(), nil)

	sub := int64(4)
	tr := txn("FARMACIA FISCHEL", "90000")
	tr.Kind = domain.KindPurchase
	tr.SubcategoryID = &sub

	changed, err := svc.ScoreOutlier(context.Background(), tr)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !changed || !tr.IsAnomaly {
		t.Fatal("outlier not flagged")
	}
	// (90000 - 10000) / 2000 = 40 standard deviations.
	if tr.AnomalyScore == nil || *tr.AnomalyScore < 39.9 || *tr.AnomalyScore > 40.1 {
		t.Errorf("score = %v, want ~40", tr.AnomalyScore)
	}
}

func TestScoreOutlierSkipsSmallSamples(t *testing.T) {
	txns := &fakeTxns{
		mean:   decimal.NewFromInt(10000),
		stddev: decimal.NewFromInt(100),
		n:      3,
	}
	svc := NewService(txns, newFakeCards(), nil)

	sub := int64(4)
	tr := txn("FARMACIA FISCHEL", "90000")
	tr.SubcategoryID = &sub
	tr.Kind = domain.KindPurchase

	changed, err := svc.ScoreOutlier(context.Background(), tr)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if changed || tr.IsAnomaly {
		t.Error("small sample flagged")
	}
}

func TestScanUpdatesChangedRows(t *testing.T) {
	sub := int64(4)
	normal := txn("AUTO MERCADO", "9800")
	normal.Kind = domain.KindPurchase
	normal.SubcategoryID = &sub
	payment := txn("PAGO TC ****4321", "250000")
	payment.ID = 2

	txns := &fakeTxns{
		txns:   []*domain.Transaction{normal, payment},
		mean:   decimal.NewFromInt(10000),
		stddev: decimal.NewFromInt(2000),
		n:      12,
	}
	svc := NewService(txns, newFakeCards(), nil)

	updated, err := svc.Scan(context.Background(), "p1", domain.PinToNoon(2026, time.January, 1, time.UTC))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1 (only the card payment)", updated)
	}
	if len(txns.updated) != 1 || txns.updated[0].ID != 2 {
		t.Errorf("updated rows = %+v", txns.updated)
	}
}
