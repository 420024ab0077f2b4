// Package rates converts the canonical USD-relative rate table into
// cross-rates for an arbitrary base currency.
//
// All stored rates follow one contract: 1 USD = rate units of currency.
// Cross-rates are always derived explicitly from that table; the table is
// never interpreted as being pre-converted to some other base.
package rates

// CrossRates produces, for every currency in usdRates, the multiplicative
// factor that converts an amount in that currency into base:
//
//	factor[c] = usdRates[base] / usdRates[c]
//
// A zero stored rate yields a zero factor instead of a division by zero.
// If base is absent from the table its rate defaults to 1.0 (USD).
func CrossRates(usdRates map[string]float64, base string) map[string]float64 {
	baseRate, ok := usdRates[base]
	if !ok {
		baseRate = 1.0
	}

	factors := make(map[string]float64, len(usdRates))
	for currency, usdRate := range usdRates {
		if usdRate == 0 {
			factors[currency] = 0
			continue
		}
		factors[currency] = baseRate / usdRate
	}
	return factors
}

// Convert converts amount from one currency to another using a cross-rate
// table produced for the target base (factors mapping currency -> units of
// "to" per unit of currency). It returns the converted amount and the rate
// applied. Same-currency conversions short-circuit without consulting the
// table.
func Convert(amount float64, from, to string, factors map[string]float64) (float64, float64) {
	if from == to {
		return amount, 1.0
	}
	rate := factors[from]
	return amount * rate, rate
}
