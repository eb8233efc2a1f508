package rates

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalexchange/cambios/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func usdPricing() PairPricing {
	return PairPricing{
		BasePrice:      dec("7500"),
		BuyCommission:  dec("100"),
		SellCommission: dec("100"),
		RateDecimals:   2,
	}
}

func TestSellRate_WithCategoryDiscount(t *testing.T) {
	// base=7500, sellCommission=100, discount=0.10 -> 7500 + 100*0.90 = 7590
	rate := SellRate(usdPricing(), Params{Discount: dec("0.10")})
	assert.True(t, rate.Equal(dec("7590")), "got %s", rate)
}

func TestBuyRate_WithCategoryDiscount(t *testing.T) {
	rate := BuyRate(usdPricing(), Params{Discount: dec("0.10")})
	assert.True(t, rate.Equal(dec("7410")), "got %s", rate)
}

func TestRates_NoDiscount(t *testing.T) {
	sell := SellRate(usdPricing(), Params{})
	buy := BuyRate(usdPricing(), Params{})
	assert.True(t, sell.Equal(dec("7600")))
	assert.True(t, buy.Equal(dec("7400")))
}

func TestSellNeverBelowBase_BuyNeverAboveBase(t *testing.T) {
	pricings := []PairPricing{
		usdPricing(),
		{BasePrice: dec("8200"), BuyCommission: dec("50"), SellCommission: dec("75"), RateDecimals: 2},
		{BasePrice: dec("0.05"), BuyCommission: dec("0.001"), SellCommission: dec("0.002"), RateDecimals: 4},
	}
	discounts := []decimal.Decimal{dec("0"), dec("0.25"), dec("0.5"), dec("1")}

	for _, p := range pricings {
		for _, d := range discounts {
			sell := SellRate(p, Params{Discount: d})
			buy := BuyRate(p, Params{Discount: d})
			assert.True(t, sell.GreaterThanOrEqual(p.BasePrice), "sell %s < base %s", sell, p.BasePrice)
			assert.True(t, buy.LessThanOrEqual(p.BasePrice), "buy %s > base %s", buy, p.BasePrice)
		}
	}
}

func TestMethodCommissions_ComposeMultiplicatively(t *testing.T) {
	pay := dec("1.5")
	col := dec("1")

	sell := SellRate(usdPricing(), Params{PaymentCommission: &pay, CollectionCommission: &col})
	// 7600 * 1.015 * 1.01 = 7791.14
	assert.True(t, sell.Equal(dec("7791.14")), "got %s", sell)

	buy := BuyRate(usdPricing(), Params{PaymentCommission: &pay, CollectionCommission: &col})
	// 7400 * 0.985 * 0.99 = 7216.11
	assert.True(t, buy.Equal(dec("7216.11")), "got %s", buy)
}

func TestMethodCommission_PaymentOnly(t *testing.T) {
	pay := dec("2")
	sell := SellRate(usdPricing(), Params{PaymentCommission: &pay})
	assert.True(t, sell.Equal(dec("7752")), "got %s", sell)
}

func TestConvert_BaseToForeignDivides(t *testing.T) {
	out := Convert(models.BaseCurrency, "USD", dec("7500000"), dec("7500"), 2)
	assert.True(t, out.Equal(dec("1000")), "got %s", out)
}

func TestConvert_ForeignToBaseMultiplies(t *testing.T) {
	out := Convert("USD", models.BaseCurrency, dec("1000"), dec("7500"), 0)
	assert.True(t, out.Equal(dec("7500000")), "got %s", out)
}

func TestConvert_ZeroAndNegativeYieldZero(t *testing.T) {
	assert.True(t, Convert("USD", models.BaseCurrency, decimal.Zero, dec("7500"), 0).IsZero())
	assert.True(t, Convert("USD", models.BaseCurrency, dec("-100"), dec("7500"), 0).IsZero())
	assert.True(t, Convert("USD", models.BaseCurrency, dec("100"), decimal.Zero, 0).IsZero())
}

func TestRoundAmount_HalfUp(t *testing.T) {
	assert.True(t, RoundAmount(dec("1234.565"), 2).Equal(dec("1234.57")))
	assert.True(t, RoundAmount(dec("1234567.89"), 0).Equal(dec("1234568")))
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1234567", 0, "1.234.567"},
		{"1234.50", 2, "1.234,50"},
		{"0.99", 2, "0,99"},
		{"999999999", 0, "999.999.999"},
		{"123", 0, "123"},
	}
	for _, c := range cases {
		got := FormatAmount(dec(c.in), c.decimals)
		require.Equal(t, c.want, got)
	}
}

func TestRate_Dispatch(t *testing.T) {
	sell := Rate(models.DirectionSell, usdPricing(), Params{})
	buy := Rate(models.DirectionBuy, usdPricing(), Params{})
	assert.True(t, sell.GreaterThan(buy))
}
