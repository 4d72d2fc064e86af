package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func qv(pairs ...any) map[string]decimal.Decimal {
	q := make(map[string]decimal.Decimal)
	for i := 0; i < len(pairs); i += 2 {
		q[pairs[i].(string)] = pairs[i+1].(decimal.Decimal)
	}
	return q
}

func TestPrices_UniformAtZero(t *testing.T) {
	m := New(d(100))
	prices := m.Prices(qv("yes", d(0), "no", d(0)))
	require.True(t, prices["yes"].Sub(d(0.5)).Abs().LessThan(d(1e-9)))
	require.True(t, prices["no"].Sub(d(0.5)).Abs().LessThan(d(1e-9)))
}

func TestPrices_SumToOne(t *testing.T) {
	m := New(d(50))
	prices := m.Prices(qv("a", d(37), "b", d(-12), "c", d(4)))
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	require.True(t, sum.Sub(d(1)).Abs().LessThan(d(1e-9)))
}

func TestPrices_MoreTokensHigherPrice(t *testing.T) {
	m := New(d(100))
	prices := m.Prices(qv("yes", d(20), "no", d(0)))
	require.True(t, prices["yes"].GreaterThan(prices["no"]))
}

func TestQuantizePrices_SumsToExactlyOne(t *testing.T) {
	m := New(d(10))
	raw := m.Prices(qv("a", d(1), "b", d(2), "c", d(3)))
	q := QuantizePrices(raw, 4)
	sum := decimal.Zero
	for _, p := range q {
		sum = sum.Add(p)
	}
	require.True(t, sum.Equal(decimal.NewFromInt(1)))
}

func TestCostOfTrade_PositiveForBuy(t *testing.T) {
	m := New(d(100))
	q := qv("yes", d(0), "no", d(0))
	cost := m.CostOfTrade(q, "yes", d(10))
	require.True(t, cost.GreaterThan(decimal.Zero))
}

func TestCostOfTrade_PathIndependence(t *testing.T) {
	m := New(d(100))
	q := qv("yes", d(0), "no", d(0))

	oneShot := m.CostOfTrade(q, "yes", d(10))

	total := decimal.Zero
	cur := qv("yes", d(0), "no", d(0))
	for i := 0; i < 10; i++ {
		c := m.CostOfTrade(cur, "yes", d(1))
		total = total.Add(c)
		cur["yes"] = cur["yes"].Add(d(1))
	}

	require.True(t, oneShot.Sub(total).Abs().LessThan(d(1e-6)),
		"one-shot %s vs ten-step %s should match within float tolerance", oneShot, total)
}

func TestCostOfTrade_BuyThenSellIsRoundTrip(t *testing.T) {
	m := New(d(100))
	q := qv("yes", d(0), "no", d(0))
	buyCost := m.CostOfTrade(q, "yes", d(10))
	q["yes"] = q["yes"].Add(d(10))
	sellProceeds := m.CostOfTrade(q, "yes", d(-10)).Neg()
	require.True(t, buyCost.Sub(sellProceeds).Abs().LessThan(d(1e-6)))
}

func TestMaxLoss_BinaryMarket(t *testing.T) {
	got := MaxLoss(d(100), 2)
	want := d(100 * math.Log(2))
	require.True(t, got.Sub(want).Abs().LessThan(d(1e-6)))
}

func TestMaxLoss_ScalesWithOutcomeCount(t *testing.T) {
	two := MaxLoss(d(100), 2)
	four := MaxLoss(d(100), 4)
	require.True(t, four.GreaterThan(two))
}

func TestBForFunding_AddingFundingIncreasesB(t *testing.T) {
	m := New(d(100))
	q := qv("yes", d(20), "no", d(-5))
	newB := m.BForFunding(q, d(10))
	require.True(t, newB.GreaterThan(m.B))
}

func TestExtremeQDoesNotOverflow(t *testing.T) {
	m := New(d(10))
	q := qv("yes", d(100000), "no", d(0))
	price := m.Prices(q)
	require.False(t, price["yes"].IsZero() && price["no"].IsZero())
	require.True(t, price["yes"].GreaterThan(d(0.99)))
}
