package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// OpenExchangeRates fetches USD-based rates from openexchangerates.org.
// Requires an API key; the historical endpoint covers past dates.
type OpenExchangeRates struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewOpenExchangeRates(apiKey string) *OpenExchangeRates {
	return &OpenExchangeRates{
		apiKey:  apiKey,
		baseURL: "https://openexchangerates.org/api",
		client:  newHTTPClient(),
		now:     time.Now,
	}
}

func (p *OpenExchangeRates) Name() string             { return "openexchangerates" }
func (p *OpenExchangeRates) RequiresAPIKey() bool     { return true }
func (p *OpenExchangeRates) IsConfigured() bool       { return p.apiKey != "" }
func (p *OpenExchangeRates) SupportsHistorical() bool { return true }

func (p *OpenExchangeRates) Rates(ctx context.Context, day time.Time) ([]FXRate, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: API key not configured", ErrAuthentication)
	}

	today := p.now().UTC().Truncate(24 * time.Hour)
	url := fmt.Sprintf("%s/latest.json?app_id=%s", p.baseURL, p.apiKey)
	if day.Before(today) {
		url = fmt.Sprintf("%s/historical/%s.json?app_id=%s", p.baseURL, day.Format("2006-01-02"), p.apiKey)
	}

	var body struct {
		Error   bool               `json:"error"`
		Message string             `json:"message"`
		Rates   map[string]float64 `json:"rates"`
	}
	if err := getJSON(ctx, p.client, url, nil, &body); err != nil {
		return nil, err
	}
	if body.Error {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, body.Message)
	}

	rates := make([]FXRate, 0, len(body.Rates))
	for currency, rate := range body.Rates {
		rates = append(rates, FXRate{Currency: currency, RateToUSD: rate, Source: p.Name()})
	}
	return rates, nil
}

// ExchangeRateAPI fetches USD-based rates from open.er-api.com. Keyless free
// tier, latest rates only.
type ExchangeRateAPI struct {
	baseURL string
	client  *http.Client
}

func NewExchangeRateAPI() *ExchangeRateAPI {
	return &ExchangeRateAPI{
		baseURL: "https://open.er-api.com/v6",
		client:  newHTTPClient(),
	}
}

func (p *ExchangeRateAPI) Name() string             { return "exchangerate-api" }
func (p *ExchangeRateAPI) RequiresAPIKey() bool     { return false }
func (p *ExchangeRateAPI) IsConfigured() bool       { return true }
func (p *ExchangeRateAPI) SupportsHistorical() bool { return false }

func (p *ExchangeRateAPI) Rates(ctx context.Context, _ time.Time) ([]FXRate, error) {
	var body struct {
		Result    string             `json:"result"`
		ErrorType string             `json:"error-type"`
		Rates     map[string]float64 `json:"rates"`
	}
	if err := getJSON(ctx, p.client, p.baseURL+"/latest/USD", nil, &body); err != nil {
		return nil, err
	}
	if body.Result != "success" {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, body.ErrorType)
	}

	rates := make([]FXRate, 0, len(body.Rates))
	for currency, rate := range body.Rates {
		rates = append(rates, FXRate{Currency: currency, RateToUSD: rate, Source: p.Name()})
	}
	return rates, nil
}

// FallbackFX terminates a provider chain with an empty, error-free answer.
type FallbackFX struct{}

func (FallbackFX) Name() string             { return "fallback" }
func (FallbackFX) RequiresAPIKey() bool     { return false }
func (FallbackFX) IsConfigured() bool       { return true }
func (FallbackFX) SupportsHistorical() bool { return true }

func (FallbackFX) Rates(context.Context, time.Time) ([]FXRate, error) {
	return nil, nil
}
