package invariant

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/predmarket/coreengine/internal/ledger"
	"github.com/predmarket/coreengine/internal/market"
	"github.com/predmarket/coreengine/internal/model"
	"github.com/predmarket/coreengine/internal/risk"
)

func newHarness() (*risk.Engine, *market.Engine, *ledger.Ledger, *Checker) {
	l := ledger.New()
	r := risk.New(l)
	m := market.New(r, l, nil)
	return r, m, l, New(r, m, l)
}

// TestProperty_InvariantsHoldAfterRandomTradeSequences drives a random
// sequence of buys and sells against a single market and re-checks
// every invariant after each operation.
func TestProperty_InvariantsHoldAfterRandomTradeSequences(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r, m, _, checker := newHarness()

		mkt, err := m.CreateMarket([]string{"yes", "no"}, decimal.NewFromInt(100), time.Time{}, 2, "test", "does it happen", nil)
		if err != nil {
			t.Fatalf("create market: %v", err)
		}

		numTraders := rapid.IntRange(1, 4).Draw(t, "numTraders")
		traders := make([]model.AccountID, numTraders)
		for i := range traders {
			acc := r.OpenAccount()
			if _, err := r.Mint(acc.ID, decimal.NewFromInt(100000)); err != nil {
				t.Fatalf("mint: %v", err)
			}
			traders[i] = acc.ID
		}

		numOps := rapid.IntRange(1, 30).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			trader := traders[rapid.IntRange(0, numTraders-1).Draw(t, "trader")]
			outcome := "yes"
			if rapid.Bool().Draw(t, "outcomeSide") {
				outcome = "no"
			}
			amount := decimal.NewFromInt(rapid.Int64Range(1, 50).Draw(t, "amount"))

			if rapid.Bool().Draw(t, "isBuy") {
				m.Buy(trader, mkt.ID, outcome, amount, decimal.NewFromInt(100000))
			} else {
				m.Sell(trader, mkt.ID, outcome, amount)
			}

			if violations := checker.CheckAll(); len(violations) > 0 {
				t.Fatalf("op %d: invariant violations: %v", i, violations)
			}
		}
	})
}

// TestProperty_ResolveAlwaysLeavesMarketClean confirms that no matter
// what sequence of trades happened before it, resolving a market
// always drains every lock it owns.
func TestProperty_ResolveAlwaysLeavesMarketClean(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r, m, _, checker := newHarness()

		mkt, err := m.CreateMarket([]string{"a", "b", "c"}, decimal.NewFromInt(200), time.Time{}, 2, "test", "which one", nil)
		if err != nil {
			t.Fatalf("create market: %v", err)
		}

		numTraders := rapid.IntRange(1, 5).Draw(t, "numTraders")
		traders := make([]model.AccountID, numTraders)
		for i := range traders {
			acc := r.OpenAccount()
			r.Mint(acc.ID, decimal.NewFromInt(50000))
			traders[i] = acc.ID
		}

		numOps := rapid.IntRange(1, 20).Draw(t, "numOps")
		outcomes := []string{"a", "b", "c"}
		for i := 0; i < numOps; i++ {
			trader := traders[rapid.IntRange(0, numTraders-1).Draw(t, "trader")]
			outcome := outcomes[rapid.IntRange(0, 2).Draw(t, "outcome")]
			amount := decimal.NewFromInt(rapid.Int64Range(1, 30).Draw(t, "amount"))
			if rapid.Bool().Draw(t, "isBuy") {
				m.Buy(trader, mkt.ID, outcome, amount, decimal.NewFromInt(50000))
			} else {
				m.Sell(trader, mkt.ID, outcome, amount)
			}
		}

		winner := outcomes[rapid.IntRange(0, 2).Draw(t, "winner")]
		if err := m.Resolve(mkt.ID, winner); err != nil {
			t.Fatalf("resolve: %v", err)
		}

		if violations := checker.checkTerminalMarketsAreClean(); len(violations) > 0 {
			t.Fatalf("resolve left mess: %v", violations)
		}
	})
}
