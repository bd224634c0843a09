package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"finanzas/pkg/apperr"
	"finanzas/pkg/httputil"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// FallbackProvider queries a generic USD-base JSON rate API. It only knows
// the current rate, so it answers for today and stays silent for historical
// dates rather than returning a wrong one.
type FallbackProvider struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewFallbackProvider(url string) *FallbackProvider {
	return &FallbackProvider{
		url:    url,
		client: httputil.RateClient(),
		now:    time.Now,
	}
}

func (p *FallbackProvider) Name() string { return "fallback" }

func (p *FallbackProvider) RateFor(ctx context.Context, date time.Time) (*decimal.Decimal, error) {
	today := p.now().UTC().Truncate(24 * time.Hour)
	if date.UTC().Truncate(24 * time.Hour).Before(today) {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fallback request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Transient("fallback rate request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Transient("fallback rate request", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Transient("fallback rate response", err)
	}

	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse fallback response: %w", err)
	}

	crc, ok := payload.Rates["CRC"]
	if !ok || crc <= 0 {
		return nil, nil
	}
	rate := decimal.NewFromFloat(crc)
	return &rate, nil
}
