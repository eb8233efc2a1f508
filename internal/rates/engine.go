// Package rates computes buy/sell prices for currency pairs. Everything here
// is pure and safe to call concurrently; the HTTP layer calls it on every
// preview request.
package rates

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/globalexchange/cambios/pkg/models"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// PairPricing is the per-currency quote configuration against the base
// currency.
type PairPricing struct {
	BasePrice      decimal.Decimal
	BuyCommission  decimal.Decimal
	SellCommission decimal.Decimal
	RateDecimals   int
}

// PricingFor extracts the quote configuration from a currency record.
func PricingFor(c *models.Currency) PairPricing {
	return PairPricing{
		BasePrice:      c.BasePrice,
		BuyCommission:  c.BuyCommission,
		SellCommission: c.SellCommission,
		RateDecimals:   c.RateDecimals,
	}
}

// Params carries the client- and method-specific adjustments. Commission
// fields are percentages (1.5 means 1.5%); nil means the method carries no
// surcharge.
type Params struct {
	Discount             decimal.Decimal // category discount in [0,1]
	PaymentCommission    *decimal.Decimal
	CollectionCommission *decimal.Decimal
}

// SellRate returns the price at which the house sells the quoted currency:
// base + sellCommission*(1-discount), scaled up by each method commission.
func SellRate(p PairPricing, q Params) decimal.Decimal {
	rate := p.BasePrice.Add(p.SellCommission.Mul(one.Sub(q.Discount)))
	if q.PaymentCommission != nil {
		rate = rate.Mul(one.Add(q.PaymentCommission.Div(hundred)))
	}
	if q.CollectionCommission != nil {
		rate = rate.Mul(one.Add(q.CollectionCommission.Div(hundred)))
	}
	return roundRate(rate, p.RateDecimals)
}

// BuyRate returns the price at which the house buys the quoted currency:
// base - buyCommission*(1-discount), scaled down by each method commission.
func BuyRate(p PairPricing, q Params) decimal.Decimal {
	rate := p.BasePrice.Sub(p.BuyCommission.Mul(one.Sub(q.Discount)))
	if q.PaymentCommission != nil {
		rate = rate.Mul(one.Sub(q.PaymentCommission.Div(hundred)))
	}
	if q.CollectionCommission != nil {
		rate = rate.Mul(one.Sub(q.CollectionCommission.Div(hundred)))
	}
	return roundRate(rate, p.RateDecimals)
}

// Rate dispatches on the operation direction.
func Rate(direction models.Direction, p PairPricing, q Params) decimal.Decimal {
	if direction == models.DirectionSell {
		return SellRate(p, q)
	}
	return BuyRate(p, q)
}

// Convert moves an amount between the base currency and a quoted currency at
// an agreed rate. Zero or negative input yields zero, never a negative
// output. The result is rounded to the target currency's display decimals.
func Convert(sourceCurrency, targetCurrency string, amount, rate decimal.Decimal, targetDecimals int) decimal.Decimal {
	if amount.Sign() <= 0 || rate.Sign() <= 0 {
		return decimal.Zero
	}
	var out decimal.Decimal
	if sourceCurrency == models.BaseCurrency {
		out = amount.Div(rate)
	} else {
		out = amount.Mul(rate)
	}
	return RoundAmount(out, targetDecimals)
}

// RoundAmount rounds half-up to the given number of decimals. Zero-decimal
// currencies come out as integers.
func RoundAmount(amount decimal.Decimal, decimals int) decimal.Decimal {
	return amount.Round(int32(decimals))
}

func roundRate(rate decimal.Decimal, decimals int) decimal.Decimal {
	return rate.Round(int32(decimals))
}

// FormatAmount renders an amount in latin style: thousands separated by
// periods, decimals by a comma ("1.234.567" or "1.234,50").
func FormatAmount(amount decimal.Decimal, decimals int) string {
	fixed := RoundAmount(amount, decimals).StringFixed(int32(decimals))

	neg := strings.HasPrefix(fixed, "-")
	if neg {
		fixed = fixed[1:]
	}

	intPart := fixed
	fracPart := ""
	if i := strings.IndexByte(fixed, '.'); i >= 0 {
		intPart, fracPart = fixed[:i], fixed[i+1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	if fracPart != "" {
		b.WriteByte(',')
		b.WriteString(fracPart)
	}
	return b.String()
}
