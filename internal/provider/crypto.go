package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// coinGeckoIDs maps ticker symbols onto CoinGecko's coin identifiers for the
// per-coin historical endpoint.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"USDC": "usd-coin",
	"ADA":  "cardano",
	"AVAX": "avalanche-2",
	"DOGE": "dogecoin",
	"TRX":  "tron",
	"DOT":  "polkadot",
	"LINK": "chainlink",
	"MATIC": "matic-network",
	"TON":  "the-open-network",
	"SHIB": "shiba-inu",
	"LTC":  "litecoin",
	"BCH":  "bitcoin-cash",
	"UNI":  "uniswap",
	"XLM":  "stellar",
	"ATOM": "cosmos",
	"XMR":  "monero",
	"ETC":  "ethereum-classic",
	"FIL":  "filecoin",
	"HBAR": "hedera-hashgraph",
	"APT":  "aptos",
	"ARB":  "arbitrum",
	"NEAR": "near",
	"VET":  "vechain",
	"OP":   "optimism",
}

// historicalCoinLimit caps per-coin history fetches per call; the keyless
// CoinGecko tier allows only 10-30 requests a minute.
const historicalCoinLimit = 20

// CoinGecko fetches crypto prices from api.coingecko.com. Keyless, heavily
// rate limited, with per-coin historical lookups for past dates.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewCoinGecko() *CoinGecko {
	return &CoinGecko{
		baseURL: "https://api.coingecko.com/api/v3",
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		now:     time.Now,
	}
}

func (p *CoinGecko) Name() string             { return "coingecko" }
func (p *CoinGecko) RequiresAPIKey() bool     { return false }
func (p *CoinGecko) IsConfigured() bool       { return true }
func (p *CoinGecko) SupportsHistorical() bool { return true }

func (p *CoinGecko) Prices(ctx context.Context, day time.Time) ([]CryptoPrice, error) {
	today := p.now().UTC().Truncate(24 * time.Hour)
	if day.Before(today) {
		return p.historicalPrices(ctx, day)
	}
	return p.currentPrices(ctx)
}

type coinGeckoMarket struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"current_price"`
	MarketCapRank int     `json:"market_cap_rank"`
}

func (p *CoinGecko) currentPrices(ctx context.Context) ([]CryptoPrice, error) {
	markets, err := p.markets(ctx, 100)
	if err != nil {
		return nil, err
	}

	prices := make([]CryptoPrice, 0, len(markets))
	for _, coin := range markets {
		prices = append(prices, CryptoPrice{
			Symbol:   strings.ToUpper(coin.Symbol),
			Name:     coin.Name,
			PriceUSD: coin.CurrentPrice,
			Rank:     coin.MarketCapRank,
			Source:   p.Name(),
		})
	}
	return prices, nil
}

// historicalPrices walks the symbol map one coin at a time through the
// history endpoint. Rate-limit errors abort the call so the chain can fall
// back; other per-coin failures skip that coin.
func (p *CoinGecko) historicalPrices(ctx context.Context, day time.Time) ([]CryptoPrice, error) {
	dateStr := day.Format("02-01-2006")

	var prices []CryptoPrice
	fetched := 0
	for symbol, id := range coinGeckoIDs {
		if fetched >= historicalCoinLimit {
			break
		}
		fetched++

		if err := p.limiter.Wait(ctx); err != nil {
			return prices, fmt.Errorf("%w: %v", ErrNetwork, err)
		}

		url := fmt.Sprintf("%s/coins/%s/history?date=%s", p.baseURL, id, dateStr)

		var body struct {
			Name          string `json:"name"`
			MarketCapRank int    `json:"market_cap_rank"`
			MarketData    struct {
				CurrentPrice map[string]float64 `json:"current_price"`
			} `json:"market_data"`
		}
		err := getJSON(ctx, p.client, url, nil, &body)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				return prices, err
			}
			continue
		}

		usd := body.MarketData.CurrentPrice["usd"]
		if usd <= 0 {
			continue
		}
		prices = append(prices, CryptoPrice{
			Symbol:   symbol,
			Name:     body.Name,
			PriceUSD: usd,
			Rank:     body.MarketCapRank,
			Source:   p.Name(),
		})
	}
	return prices, nil
}

func (p *CoinGecko) TopAssets(ctx context.Context, limit int) ([]Asset, error) {
	markets, err := p.markets(ctx, limit)
	if err != nil {
		return nil, err
	}

	assets := make([]Asset, 0, len(markets))
	for _, coin := range markets {
		symbol := strings.ToUpper(coin.Symbol)
		if symbol == "" || coin.Name == "" || coin.MarketCapRank == 0 {
			continue
		}
		assets = append(assets, Asset{Symbol: symbol, Name: coin.Name, Rank: coin.MarketCapRank})
	}
	return assets, nil
}

func (p *CoinGecko) markets(ctx context.Context, limit int) ([]coinGeckoMarket, error) {
	if limit <= 0 {
		limit = 100
	}
	url := fmt.Sprintf("%s/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=%d&page=1", p.baseURL, limit)

	var markets []coinGeckoMarket
	if err := getJSON(ctx, p.client, url, nil, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// CoinMarketCap fetches crypto prices from pro-api.coinmarketcap.com.
// Requires an API key; the listings endpoint serves latest prices only.
type CoinMarketCap struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewCoinMarketCap(apiKey string) *CoinMarketCap {
	return &CoinMarketCap{
		apiKey:  apiKey,
		baseURL: "https://pro-api.coinmarketcap.com/v1",
		client:  newHTTPClient(),
	}
}

func (p *CoinMarketCap) Name() string             { return "coinmarketcap" }
func (p *CoinMarketCap) RequiresAPIKey() bool     { return true }
func (p *CoinMarketCap) IsConfigured() bool       { return p.apiKey != "" }
func (p *CoinMarketCap) SupportsHistorical() bool { return false }

type coinMarketCapListing struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []struct {
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
		CMCRank int    `json:"cmc_rank"`
		Quote   struct {
			USD struct {
				Price float64 `json:"price"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

func (p *CoinMarketCap) listings(ctx context.Context, limit int) (*coinMarketCapListing, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: API key not configured", ErrAuthentication)
	}
	if limit <= 0 {
		limit = 100
	}

	url := fmt.Sprintf("%s/cryptocurrency/listings/latest?limit=%d&convert=USD", p.baseURL, limit)
	headers := map[string]string{"X-CMC_PRO_API_KEY": p.apiKey}

	var body coinMarketCapListing
	if err := getJSON(ctx, p.client, url, headers, &body); err != nil {
		return nil, err
	}
	if body.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, body.Status.ErrorMessage)
	}
	return &body, nil
}

func (p *CoinMarketCap) Prices(ctx context.Context, _ time.Time) ([]CryptoPrice, error) {
	body, err := p.listings(ctx, 100)
	if err != nil {
		return nil, err
	}

	prices := make([]CryptoPrice, 0, len(body.Data))
	for _, coin := range body.Data {
		prices = append(prices, CryptoPrice{
			Symbol:   strings.ToUpper(coin.Symbol),
			Name:     coin.Name,
			PriceUSD: coin.Quote.USD.Price,
			Rank:     coin.CMCRank,
			Source:   p.Name(),
		})
	}
	return prices, nil
}

func (p *CoinMarketCap) TopAssets(ctx context.Context, limit int) ([]Asset, error) {
	body, err := p.listings(ctx, limit)
	if err != nil {
		return nil, err
	}

	assets := make([]Asset, 0, len(body.Data))
	for _, coin := range body.Data {
		symbol := strings.ToUpper(coin.Symbol)
		if symbol == "" || coin.Name == "" || coin.CMCRank == 0 {
			continue
		}
		assets = append(assets, Asset{Symbol: symbol, Name: coin.Name, Rank: coin.CMCRank})
	}
	return assets, nil
}

// FallbackCrypto terminates a provider chain with an empty, error-free answer.
type FallbackCrypto struct{}

func (FallbackCrypto) Name() string             { return "fallback" }
func (FallbackCrypto) RequiresAPIKey() bool     { return false }
func (FallbackCrypto) IsConfigured() bool       { return true }
func (FallbackCrypto) SupportsHistorical() bool { return true }

func (FallbackCrypto) Prices(context.Context, time.Time) ([]CryptoPrice, error) {
	return nil, nil
}

func (FallbackCrypto) TopAssets(context.Context, int) ([]Asset, error) {
	return nil, nil
}
