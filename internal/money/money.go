// Package money implements the engine's two fixed-point precisions and
// the three rounding directions the trading contract requires. Every
// quantization call names its direction explicitly; there is no
// "default rounding" used silently anywhere else in the engine.
package money

import "github.com/shopspring/decimal"

// CreditsDP is the fixed precision of every credit-denominated value:
// account balances, lock amounts, transaction deltas, trade legs.
const CreditsDP = 6

// DefaultMarketDP is the token/price precision used when a market does
// not specify its own precision at creation.
const DefaultMarketDP = 4

// Rounding names one of the three directions the contract allows.
// There is no default: every call site picks one.
type Rounding int

const (
	// HalfEven rounds to the nearest value, ties to even. Used for
	// prices, which must be a faithful softmax, not biased either way.
	HalfEven Rounding = iota
	// Floor always rounds toward negative infinity. Used for token
	// amounts and payouts received by a trader; favors the AMM.
	Floor
	// Ceil always rounds toward positive infinity. Used for credits
	// paid by a trader; favors the AMM.
	Ceil
)

// Quantize rounds d to places decimal digits in the given direction.
func Quantize(d decimal.Decimal, places int32, r Rounding) decimal.Decimal {
	switch r {
	case Floor:
		return d.RoundFloor(places)
	case Ceil:
		return d.RoundCeil(places)
	default:
		return d.RoundBank(places)
	}
}

// QuantizeCredit rounds d to CreditsDP in the given direction.
func QuantizeCredit(d decimal.Decimal, r Rounding) decimal.Decimal {
	return Quantize(d, CreditsDP, r)
}

// AtPrecision reports whether d already carries no more than places
// significant fractional digits, i.e. quantizing it losslessly.
func AtPrecision(d decimal.Decimal, places int32) bool {
	return d.Equal(d.RoundBank(places))
}

// Zero is the additive identity, reused to avoid repeated allocation.
var Zero = decimal.Zero
