// Package rates implements the USD→CRC rate providers: the BCCR indicator
// service first, a generic JSON rate API as fallback. Both answer (nil, nil)
// when they have no rate for the date so the cache can fall through.
package rates

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finanzas/pkg/apperr"
	"finanzas/pkg/httputil"

	"github.com/shopspring/decimal"
)

// Indicator 318 is the USD sell rate published by the central bank.
const bccrIndicator = "318"

// BCCRProvider queries the Banco Central de Costa Rica indicator service.
type BCCRProvider struct {
	baseURL string
	client  *http.Client
}

func NewBCCRProvider(baseURL string) *BCCRProvider {
	return &BCCRProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.RateClient(),
	}
}

func (p *BCCRProvider) Name() string { return "bccr" }

// RateFor asks for the indicator on the given date. Weekends and holidays
// come back empty; that is a miss, not an error.
func (p *BCCRProvider) RateFor(ctx context.Context, date time.Time) (*decimal.Decimal, error) {
	day := date.Format("02/01/2006")

	q := url.Values{}
	q.Set("Indicador", bccrIndicator)
	q.Set("FechaInicio", day)
	q.Set("FechaFinal", day)
	q.Set("SubNiveles", "N")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build bccr request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Transient("bccr request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Transient("bccr request", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Transient("bccr response", err)
	}

	value, found, err := extractIndicatorValue(body)
	if err != nil {
		return nil, fmt.Errorf("parse bccr response: %w", err)
	}
	if !found {
		return nil, nil
	}

	rate, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse bccr rate %q: %w", value, err)
	}
	if rate.IsZero() || rate.IsNegative() {
		return nil, nil
	}
	return &rate, nil
}

// extractIndicatorValue scans the XML token stream for the first NUM_VALOR
// element. The service wraps the payload differently depending on the
// endpoint version, so position in the tree is not relied on.
func extractIndicatorValue(body []byte) (string, bool, error) {
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	inValue := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "NUM_VALOR" {
				inValue = true
			}
		case xml.CharData:
			if inValue {
				v := strings.TrimSpace(string(t))
				if v != "" {
					return v, true, nil
				}
			}
		case xml.EndElement:
			if t.Name.Local == "NUM_VALOR" {
				inValue = false
			}
		}
	}
}
