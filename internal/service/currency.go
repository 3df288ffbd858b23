package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultRates is the seed conversion table: reference-currency units per one
// unit of the keyed currency. Overridable through configuration; rate sourcing
// from a live provider is out of scope.
func DefaultRates() map[string]float64 {
	return map[string]float64{
		"INR": 1.0,
		"USD": 83.0,
		"EUR": 90.0,
		"GBP": 105.0,
		"JPY": 0.55,
		"AUD": 54.0,
	}
}

// CurrencyConverter normalizes amounts into the reference currency used for
// threshold comparisons.
type CurrencyConverter struct {
	reference string
	rates     map[string]decimal.Decimal
}

// NewCurrencyConverter builds a converter from the seed table, applying any
// configured overrides on top.
func NewCurrencyConverter(reference string, overrides map[string]float64) *CurrencyConverter {
	if reference == "" {
		reference = "INR"
	}

	rates := make(map[string]decimal.Decimal)
	for code, rate := range DefaultRates() {
		rates[code] = decimal.NewFromFloat(rate)
	}
	for code, rate := range overrides {
		rates[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
	}

	return &CurrencyConverter{reference: strings.ToUpper(reference), rates: rates}
}

// Reference returns the reference currency code.
func (c *CurrencyConverter) Reference() string {
	return c.reference
}

// Rates returns the conversion table for reporting.
func (c *CurrencyConverter) Rates() map[string]float64 {
	out := make(map[string]float64, len(c.rates))
	for code, rate := range c.rates {
		out[code], _ = rate.Float64()
	}
	return out
}

// ToReference converts an amount in minor units of the given currency into
// whole reference-currency units. An unknown currency is treated as already
// being the reference currency (rate 1.0): the system prefers a usable,
// conservative tier over a hard failure.
func (c *CurrencyConverter) ToReference(amountCents int64, currency string) decimal.Decimal {
	amount := decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100))

	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == c.reference {
		return amount
	}
	rate, ok := c.rates[code]
	if !ok {
		return amount
	}
	return amount.Mul(rate)
}
