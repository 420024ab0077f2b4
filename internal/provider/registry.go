package provider

import (
	"github.com/rs/zerolog"
)

// Keys carries the upstream API credentials. An empty key simply demotes the
// corresponding provider in the selection order.
type Keys struct {
	OpenExchangeRates string
	GoldAPI           string
	MetalsDev         string
	CoinMarketCap     string
}

// Registry holds the selected provider chain per asset class. Selection is a
// fixed priority order over configured keys:
//
//	fx:     openexchangerates -> exchangerate-api -> fallback
//	metals: goldapi -> metals-dev -> fallback
//	crypto: coinmarketcap -> coingecko -> fallback
type Registry struct {
	FX     FXProvider
	Metals MetalProvider
	Crypto CryptoProvider
}

// NewRegistry builds the provider chains for the given keys. Every selected
// upstream sits behind a circuit breaker; the keyless tier backs the keyed
// one, and an empty-result fallback terminates each chain.
func NewRegistry(keys Keys, log zerolog.Logger) *Registry {
	var fx FXProvider = NewBreakerFX(NewExchangeRateAPI())
	if keys.OpenExchangeRates != "" {
		fx = NewChainedFX(NewBreakerFX(NewOpenExchangeRates(keys.OpenExchangeRates)), fx, log)
	}
	fx = NewChainedFX(fx, FallbackFX{}, log)

	var metals MetalProvider = FallbackMetal{}
	if keys.MetalsDev != "" {
		metals = NewChainedMetal(NewBreakerMetal(NewMetalsDev(keys.MetalsDev)), metals, log)
	}
	if keys.GoldAPI != "" {
		metals = NewChainedMetal(NewBreakerMetal(NewGoldAPI(keys.GoldAPI)), metals, log)
	}

	var crypto CryptoProvider = NewBreakerCrypto(NewCoinGecko())
	if keys.CoinMarketCap != "" {
		crypto = NewChainedCrypto(NewBreakerCrypto(NewCoinMarketCap(keys.CoinMarketCap)), crypto, log)
	}
	crypto = NewChainedCrypto(crypto, FallbackCrypto{}, log)

	return &Registry{FX: fx, Metals: metals, Crypto: crypto}
}

// Status describes one asset class's selected provider for status output.
type Status struct {
	Provider    string `json:"provider"`
	RequiresKey bool   `json:"requires_key"`
	Configured  bool   `json:"configured"`
	Historical  bool   `json:"historical"`
}

// Statuses reports the selected chain per asset class.
func (r *Registry) Statuses() map[string]Status {
	return map[string]Status{
		"fx": {
			Provider:    r.FX.Name(),
			RequiresKey: r.FX.RequiresAPIKey(),
			Configured:  r.FX.IsConfigured(),
			Historical:  r.FX.SupportsHistorical(),
		},
		"metals": {
			Provider:    r.Metals.Name(),
			RequiresKey: r.Metals.RequiresAPIKey(),
			Configured:  r.Metals.IsConfigured(),
			Historical:  r.Metals.SupportsHistorical(),
		},
		"crypto": {
			Provider:    r.Crypto.Name(),
			RequiresKey: r.Crypto.RequiresAPIKey(),
			Configured:  r.Crypto.IsConfigured(),
			Historical:  r.Crypto.SupportsHistorical(),
		},
	}
}
