// Package invariant re-validates the trading engine's cross-domain
// invariants after every public operation. It is wired in for tests and
// debug builds (see internal/engine.Config.Invariants); production
// paths that have already been proven by the property tests built
// against this package skip the per-call cost.
package invariant

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/ledger"
	"github.com/predmarket/coreengine/internal/lmsr"
	"github.com/predmarket/coreengine/internal/market"
	"github.com/predmarket/coreengine/internal/model"
	"github.com/predmarket/coreengine/internal/money"
	"github.com/predmarket/coreengine/internal/risk"
)

// Violation names one broken invariant with enough detail to debug it.
type Violation struct {
	Name    string
	Detail  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Name, v.Detail)
}

// Checker holds read-only references into the live engine state.
type Checker struct {
	risk   *risk.Engine
	market *market.Engine
	ledger *ledger.Ledger
}

// New builds a checker over the given engine components.
func New(r *risk.Engine, m *market.Engine, l *ledger.Ledger) *Checker {
	return &Checker{risk: r, market: m, ledger: l}
}

// CheckAll runs every invariant and returns every violation found.
func (c *Checker) CheckAll() []Violation {
	var v []Violation
	v = append(v, c.checkConservationOfCredits()...)
	v = append(v, c.checkNoNegativeBalances()...)
	v = append(v, c.checkFrozenMatchesLocks()...)
	v = append(v, c.checkNoNegativeLocks()...)
	v = append(v, c.checkNoNegativePositions()...)
	v = append(v, c.checkQMatchesPositions()...)
	v = append(v, c.checkPricesSumToOne()...)
	v = append(v, c.checkAtMostOneConditionalLock()...)
	v = append(v, c.checkTerminalMarketsAreClean()...)
	v = append(v, c.checkLedgerReplayMatchesBalances()...)
	v = append(v, c.checkPositionZeroImpliesLockZero()...)
	return v
}

// checkConservationOfCredits verifies total credits in the system
// equal everything ever minted minus everything ever burned.
func (c *Checker) checkConservationOfCredits() []Violation {
	total := decimal.Zero
	for _, acc := range c.risk.Accounts() {
		total = total.Add(acc.Total())
	}
	expected := c.ledger.TotalMinted().Sub(c.ledger.TotalBurned())
	if !total.Equal(expected) {
		return []Violation{{"conservation_of_credits",
			fmt.Sprintf("total held %s != minted-burned %s", total, expected)}}
	}
	return nil
}

func (c *Checker) checkNoNegativeBalances() []Violation {
	var out []Violation
	for id, acc := range c.risk.Accounts() {
		if acc.Balance.LessThan(decimal.Zero) {
			out = append(out, Violation{"no_negative_balances",
				fmt.Sprintf("account %d has balance %s", id, acc.Balance)})
		}
	}
	return out
}

func (c *Checker) checkFrozenMatchesLocks() []Violation {
	var out []Violation
	for id, acc := range c.risk.Accounts() {
		sum := decimal.Zero
		for _, l := range acc.Locks {
			sum = sum.Add(l.Amount)
		}
		if !sum.Equal(acc.Frozen()) {
			out = append(out, Violation{"frozen_matches_locks",
				fmt.Sprintf("account %d: sum(locks)=%s != Frozen()=%s", id, sum, acc.Frozen())})
		}
	}
	return out
}

func (c *Checker) checkNoNegativeLocks() []Violation {
	var out []Violation
	for _, acc := range c.risk.Accounts() {
		for _, l := range acc.Locks {
			if l.Amount.LessThan(decimal.Zero) {
				out = append(out, Violation{"no_negative_locks",
					fmt.Sprintf("lock %d on account %d has amount %s", l.ID, acc.ID, l.Amount)})
			}
		}
	}
	return out
}

func (c *Checker) checkNoNegativePositions() []Violation {
	var out []Violation
	for id, m := range c.market.Markets() {
		for acc, positions := range m.Positions {
			for outcome, amount := range positions {
				if amount.LessThan(decimal.Zero) {
					out = append(out, Violation{"no_negative_positions",
						fmt.Sprintf("market %d account %d outcome %q has position %s", id, acc, outcome, amount)})
				}
			}
		}
	}
	return out
}

// checkQMatchesPositions verifies q[outcome] equals the sum of every
// account's position in that outcome, for every market.
func (c *Checker) checkQMatchesPositions() []Violation {
	var out []Violation
	for id, m := range c.market.Markets() {
		sums := make(map[string]decimal.Decimal, len(m.Outcomes))
		for _, positions := range m.Positions {
			for outcome, amount := range positions {
				sums[outcome] = sums[outcome].Add(amount)
			}
		}
		for _, outcome := range m.Outcomes {
			if !sums[outcome].Equal(m.Q[outcome]) {
				out = append(out, Violation{"q_matches_positions",
					fmt.Sprintf("market %d outcome %q: q=%s but sum(positions)=%s", id, outcome, m.Q[outcome], sums[outcome])})
			}
		}
	}
	return out
}

// checkPricesSumToOne re-derives the quantized price vector for every
// open market and confirms it sums to exactly 1 at the market's
// precision.
func (c *Checker) checkPricesSumToOne() []Violation {
	var out []Violation
	for id, m := range c.market.Markets() {
		if m.Status != model.StatusOpen {
			continue
		}
		maker := lmsr.New(m.B)
		prices := lmsr.QuantizePrices(maker.Prices(m.Q), m.Precision)
		sum := decimal.Zero
		for _, p := range prices {
			sum = sum.Add(p)
		}
		if !sum.Equal(decimal.NewFromInt(1)) {
			out = append(out, Violation{"prices_sum_to_one",
				fmt.Sprintf("market %d: prices sum to %s", id, sum)})
		}
	}
	return out
}

func (c *Checker) checkAtMostOneConditionalLock() []Violation {
	var out []Violation
	for id, acc := range c.risk.Accounts() {
		seen := make(map[model.MarketID]bool)
		for _, l := range acc.Locks {
			if l.Type != model.LockConditionalProfit && l.Type != model.LockConditionalLoss {
				continue
			}
			if seen[l.MarketID] {
				out = append(out, Violation{"at_most_one_conditional_lock",
					fmt.Sprintf("market %d account %d has more than one conditional lock", l.MarketID, id)})
			}
			seen[l.MarketID] = true
		}
	}
	return out
}

func (c *Checker) checkTerminalMarketsAreClean() []Violation {
	var out []Violation
	for id, m := range c.market.Markets() {
		if m.Status == model.StatusOpen {
			continue
		}
		if len(m.PositionLocks) != 0 {
			out = append(out, Violation{"terminal_markets_are_clean",
				fmt.Sprintf("market %d is %s but still has %d position locks", id, m.Status, len(m.PositionLocks))})
		}
		if len(m.ConditionalLock) != 0 {
			out = append(out, Violation{"terminal_markets_are_clean",
				fmt.Sprintf("market %d is %s but still has %d conditional locks", id, m.Status, len(m.ConditionalLock))})
		}
		if lk, err := c.risk.FindLock(m.SubsidyLockID); err == nil && lk.Amount.GreaterThan(decimal.Zero) {
			out = append(out, Violation{"terminal_markets_are_clean",
				fmt.Sprintf("market %d is %s but subsidy lock %d still holds %s", id, m.Status, lk.ID, lk.Amount)})
		}
	}
	return out
}

// checkLedgerReplayMatchesBalances replays every transaction for each
// account from zero and confirms it reproduces the account's current
// (balance, frozen) exactly.
func (c *Checker) checkLedgerReplayMatchesBalances() []Violation {
	var out []Violation
	for id, acc := range c.risk.Accounts() {
		balance := decimal.Zero
		frozen := decimal.Zero
		for _, tx := range c.ledger.ForAccount(id) {
			balance = balance.Add(tx.AvailableDelta)
			frozen = frozen.Add(tx.FrozenDelta)
		}
		if !balance.Equal(acc.Balance) {
			out = append(out, Violation{"ledger_replay_matches_balances",
				fmt.Sprintf("account %d: replayed balance %s != actual %s", id, balance, acc.Balance)})
		}
		if !frozen.Equal(acc.Frozen()) {
			out = append(out, Violation{"ledger_replay_matches_balances",
				fmt.Sprintf("account %d: replayed frozen %s != actual %s", id, frozen, acc.Frozen())})
		}
	}
	return out
}

// checkPositionZeroImpliesLockZero verifies no account holds a
// position lock for an outcome it no longer has open exposure to, and
// that every position lock amount is at credit precision.
func (c *Checker) checkPositionZeroImpliesLockZero() []Violation {
	var out []Violation
	for id, m := range c.market.Markets() {
		for acc, positions := range m.Positions {
			for outcome, amount := range positions {
				if !amount.IsZero() {
					continue
				}
				if lockID, ok := m.PositionLocks[fmt.Sprintf("%d:%s", acc, outcome)]; ok {
					if lk, err := c.risk.FindLock(lockID); err == nil && !lk.Amount.IsZero() {
						out = append(out, Violation{"position_zero_implies_lock_zero",
							fmt.Sprintf("market %d account %d outcome %q has zero position but lock %d holds %s", id, acc, outcome, lockID, lk.Amount)})
					}
				}
			}
		}
		for key, lockID := range m.PositionLocks {
			lk, err := c.risk.FindLock(lockID)
			if err != nil {
				continue
			}
			if !money.AtPrecision(lk.Amount, money.CreditsDP) {
				out = append(out, Violation{"position_zero_implies_lock_zero",
					fmt.Sprintf("market %d lock key %s not at credit precision: %s", id, key, lk.Amount)})
			}
		}
	}
	return out
}
