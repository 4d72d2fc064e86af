// Package lmsr implements the Logarithmic Market Scoring Rule pricing
// function over an arbitrary number of outcomes. It is pure: no state,
// no I/O, no knowledge of accounts, locks, or markets. Callers pass a
// liquidity parameter and an outcome vector; everything else is math.
package lmsr

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/money"
)

// Maker holds the liquidity parameter b for one market. Higher b means
// a deeper book and a higher worst-case subsidy requirement (b*ln(n)).
type Maker struct {
	B decimal.Decimal
}

// New builds a Maker for liquidity parameter b. It does not validate b;
// callers ensure b > 0 before construction.
func New(b decimal.Decimal) Maker {
	return Maker{B: b}
}

// expTerms returns e^(q_i/b - max), normalized by subtracting
// max(q_i/b) first so the exponentials never overflow.
func (m Maker) expTerms(q map[string]decimal.Decimal) map[string]float64 {
	b, _ := m.B.Float64()
	max := math.Inf(-1)
	scaled := make(map[string]float64, len(q))
	for k, v := range q {
		f, _ := v.Float64()
		s := f / b
		scaled[k] = s
		if s > max {
			max = s
		}
	}
	out := make(map[string]float64, len(q))
	for k, s := range scaled {
		out[k] = math.Exp(s - max)
	}
	return out
}

// logSumExp returns max(q_i/b) + ln(Σ e^(q_i/b - max)), the
// numerically stable form of ln(Σ e^(q_i/b)).
func (m Maker) logSumExp(q map[string]decimal.Decimal) float64 {
	b, _ := m.B.Float64()
	max := math.Inf(-1)
	for _, v := range q {
		f, _ := v.Float64()
		s := f / b
		if s > max {
			max = s
		}
	}
	sum := 0.0
	for _, v := range q {
		f, _ := v.Float64()
		sum += math.Exp(f/b - max)
	}
	return max + math.Log(sum)
}

// Cost is C(q) = b * ln(Σ exp(q_i/b)). Not meaningful in isolation;
// trading costs are always Cost(after) - Cost(before).
func (m Maker) Cost(q map[string]decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(m.logSumExp(q)).Mul(m.B)
}

// Prices returns the raw (unrounded) softmax probability for every
// outcome in q. Always sums to 1 in exact arithmetic; use
// QuantizePrices to obtain a rounded vector that still sums to exactly
// 1 at a given market precision.
func (m Maker) Prices(q map[string]decimal.Decimal) map[string]decimal.Decimal {
	terms := m.expTerms(q)
	total := 0.0
	for _, v := range terms {
		total += v
	}
	out := make(map[string]decimal.Decimal, len(terms))
	for k, v := range terms {
		out[k] = decimal.NewFromFloat(v / total)
	}
	return out
}

// CostOfTrade returns Cost(q with outcome shifted by delta) - Cost(q).
// Positive delta is a buy, negative is a sell.
func (m Maker) CostOfTrade(q map[string]decimal.Decimal, outcome string, delta decimal.Decimal) decimal.Decimal {
	after := make(map[string]decimal.Decimal, len(q))
	for k, v := range q {
		after[k] = v
	}
	after[outcome] = after[outcome].Add(delta)
	return m.Cost(after).Sub(m.Cost(q))
}

// QuantizePrices rounds every price to `places` digits with half-even
// rounding, then nudges the largest component so the vector sums to
// exactly 1 at that precision. Outcome iteration order is made
// deterministic by sorting keys before nudging.
func QuantizePrices(prices map[string]decimal.Decimal, places int32) map[string]decimal.Decimal {
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rounded := make(map[string]decimal.Decimal, len(prices))
	sum := decimal.Zero
	largest := ""
	for _, k := range keys {
		r := money.Quantize(prices[k], places, money.HalfEven)
		rounded[k] = r
		sum = sum.Add(r)
		if largest == "" || r.GreaterThan(rounded[largest]) {
			largest = k
		}
	}
	one := decimal.NewFromInt(1)
	residual := one.Sub(sum)
	if !residual.IsZero() {
		rounded[largest] = rounded[largest].Add(residual)
	}
	return rounded
}

// MaxLoss is the AMM's worst-case loss (and hence required subsidy):
// b * ln(n) where n is the outcome count.
func MaxLoss(b decimal.Decimal, n int) decimal.Decimal {
	bf, _ := b.Float64()
	return decimal.NewFromFloat(bf * math.Log(float64(n)))
}

// BForFunding solves for the new liquidity parameter after adding or
// removing `funding` credits of subsidy at the current q, using the
// closed-form relationship funding = (new_b - b) * ln(Σ e^(q_i/b)). It
// does not rescale q; the caller decides what, if anything, to do with
// the returned b.
func (m Maker) BForFunding(q map[string]decimal.Decimal, funding decimal.Decimal) decimal.Decimal {
	logS := m.logSumExp(q)
	f, _ := funding.Float64()
	b, _ := m.B.Float64()
	if logS == 0 {
		return m.B
	}
	return decimal.NewFromFloat(b + f/logS)
}
