package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

var metalSymbols = []struct {
	symbol string
	metal  string
}{
	{"XAU", "gold"},
	{"XAG", "silver"},
	{"XPT", "platinum"},
	{"XPD", "palladium"},
}

func perGram(troyOuncePrice float64) float64 {
	return math.Round(troyOuncePrice/TroyOunceGrams*1e4) / 1e4
}

// GoldAPI fetches metal prices from goldapi.io, one request per symbol.
// Requires an API key; supports historical dates.
type GoldAPI struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewGoldAPI(apiKey string) *GoldAPI {
	return &GoldAPI{
		apiKey:  apiKey,
		baseURL: "https://www.goldapi.io/api",
		client:  newHTTPClient(),
		now:     time.Now,
	}
}

func (p *GoldAPI) Name() string             { return "goldapi" }
func (p *GoldAPI) RequiresAPIKey() bool     { return true }
func (p *GoldAPI) IsConfigured() bool       { return p.apiKey != "" }
func (p *GoldAPI) SupportsHistorical() bool { return true }

// Prices fetches each metal separately. Rate-limit and auth failures abort
// the whole call; other per-symbol failures skip that metal and keep going.
func (p *GoldAPI) Prices(ctx context.Context, day time.Time) ([]MetalPrice, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: API key not configured", ErrAuthentication)
	}

	today := p.now().UTC().Truncate(24 * time.Hour)
	headers := map[string]string{"x-access-token": p.apiKey}

	var prices []MetalPrice
	for _, m := range metalSymbols {
		url := fmt.Sprintf("%s/%s/USD", p.baseURL, m.symbol)
		if day.Before(today) {
			url = fmt.Sprintf("%s/%s/USD/%s", p.baseURL, m.symbol, day.Format("20060102"))
		}

		var body struct {
			Price float64 `json:"price"`
		}
		err := getJSON(ctx, p.client, url, headers, &body)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuthentication) || errors.Is(err, ErrNetwork) {
				return nil, err
			}
			continue
		}
		if body.Price <= 0 {
			continue
		}
		prices = append(prices, MetalPrice{
			Metal:           m.metal,
			PricePerGramUSD: perGram(body.Price),
			Source:          p.Name(),
		})
	}
	return prices, nil
}

// MetalsDev fetches metal prices from api.metals.dev in one request.
// Requires an API key; free tier serves latest prices only.
type MetalsDev struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewMetalsDev(apiKey string) *MetalsDev {
	return &MetalsDev{
		apiKey:  apiKey,
		baseURL: "https://api.metals.dev/v1",
		client:  newHTTPClient(),
	}
}

func (p *MetalsDev) Name() string             { return "metals-dev" }
func (p *MetalsDev) RequiresAPIKey() bool     { return true }
func (p *MetalsDev) IsConfigured() bool       { return p.apiKey != "" }
func (p *MetalsDev) SupportsHistorical() bool { return false }

func (p *MetalsDev) Prices(ctx context.Context, _ time.Time) ([]MetalPrice, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: API key not configured", ErrAuthentication)
	}

	url := fmt.Sprintf("%s/latest?api_key=%s&currency=USD&unit=toz", p.baseURL, p.apiKey)

	var body struct {
		Status string             `json:"status"`
		Error  string             `json:"error"`
		Metals map[string]float64 `json:"metals"`
	}
	if err := getJSON(ctx, p.client, url, nil, &body); err != nil {
		return nil, err
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, body.Error)
	}

	var prices []MetalPrice
	for _, m := range metalSymbols {
		troyOunce, ok := body.Metals[m.symbol]
		if !ok || troyOunce <= 0 {
			continue
		}
		prices = append(prices, MetalPrice{
			Metal:           m.metal,
			PricePerGramUSD: perGram(troyOunce),
			Source:          p.Name(),
		})
	}
	return prices, nil
}

// FallbackMetal terminates a provider chain with an empty, error-free answer.
type FallbackMetal struct{}

func (FallbackMetal) Name() string             { return "fallback" }
func (FallbackMetal) RequiresAPIKey() bool     { return false }
func (FallbackMetal) IsConfigured() bool       { return true }
func (FallbackMetal) SupportsHistorical() bool { return true }

func (FallbackMetal) Prices(context.Context, time.Time) ([]MetalPrice, error) {
	return nil, nil
}
