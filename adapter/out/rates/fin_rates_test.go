package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBCCRProviderParsesIndicator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("Indicador"); got != "318" {
			t.Errorf("Indicador = %q, want 318", got)
		}
		if got := r.URL.Query().Get("FechaInicio"); got != "14/03/2026" {
			t.Errorf("FechaInicio = %q, want 14/03/2026", got)
		}
		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
<Datos_de_INGC011_CAT_INDICADORECONOMIC>
  <INGC011_CAT_INDICADORECONOMIC>
    <COD_INDICADORINTERNO>318</COD_INDICADORINTERNO>
    <DES_FECHA>2026-03-14T00:00:00-06:00</DES_FECHA>
    <NUM_VALOR>519.43000000</NUM_VALOR>
  </INGC011_CAT_INDICADORECONOMIC>
</Datos_de_INGC011_CAT_INDICADORECONOMIC>`))
	}))
	defer srv.Close()

	p := NewBCCRProvider(srv.URL)
	date := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	rate, err := p.RateFor(context.Background(), date)
	if err != nil {
		t.Fatalf("RateFor() error = %v", err)
	}
	if rate == nil {
		t.Fatal("RateFor() = nil, want rate")
	}
	if rate.String() != "519.43" {
		t.Errorf("rate = %s, want 519.43", rate)
	}
}

func TestBCCRProviderEmptyDayIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?><Datos_de_INGC011_CAT_INDICADORECONOMIC/>`))
	}))
	defer srv.Close()

	p := NewBCCRProvider(srv.URL)
	rate, err := p.RateFor(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("RateFor() error = %v", err)
	}
	if rate != nil {
		t.Errorf("RateFor() = %s, want nil", rate)
	}
}

func TestBCCRProviderServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewBCCRProvider(srv.URL)
	if _, err := p.RateFor(context.Background(), time.Now()); err == nil {
		t.Fatal("RateFor() error = nil, want transient error")
	}
}

func TestFallbackProviderCurrentRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"USD","rates":{"CRC":521.75,"EUR":0.92}}`))
	}))
	defer srv.Close()

	p := NewFallbackProvider(srv.URL)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	rate, err := p.RateFor(context.Background(), now)
	if err != nil {
		t.Fatalf("RateFor() error = %v", err)
	}
	if rate == nil || rate.String() != "521.75" {
		t.Errorf("rate = %v, want 521.75", rate)
	}
}

func TestFallbackProviderRefusesHistoricalDates(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := NewFallbackProvider(srv.URL)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	rate, err := p.RateFor(context.Background(), now.AddDate(0, 0, -10))
	if err != nil {
		t.Fatalf("RateFor() error = %v", err)
	}
	if rate != nil {
		t.Errorf("RateFor() = %s, want nil for historical date", rate)
	}
	if called {
		t.Error("provider hit the API for a historical date")
	}
}

func TestFallbackProviderMissingCurrencyIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"USD","rates":{"EUR":0.92}}`))
	}))
	defer srv.Close()

	p := NewFallbackProvider(srv.URL)
	rate, err := p.RateFor(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("RateFor() error = %v", err)
	}
	if rate != nil {
		t.Errorf("RateFor() = %s, want nil", rate)
	}
}
