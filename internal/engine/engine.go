// Package engine is the single entry point into the trading engine. It
// wires internal/risk, internal/ledger and internal/market together and
// exposes exactly the operation surface a caller (internal/ops, a test,
// or a REPL) is allowed to invoke. Every exported method here maps to
// one row of the operation table; nothing outside this package touches
// internal/risk or internal/market directly.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/engineerr"
	"github.com/predmarket/coreengine/internal/exposure"
	"github.com/predmarket/coreengine/internal/invariant"
	"github.com/predmarket/coreengine/internal/ledger"
	"github.com/predmarket/coreengine/internal/market"
	"github.com/predmarket/coreengine/internal/model"
	"github.com/predmarket/coreengine/internal/risk"
)

// Engine is not safe for concurrent use. Callers own serialization; see
// internal/ops, which wraps one Engine in a single mutex.
type Engine struct {
	ledger *ledger.Ledger
	risk   *risk.Engine
	market *market.Engine

	// Check, when non-nil, is run after every mutating operation. It is
	// wired to a live *invariant.Checker in tests and in debug builds;
	// left nil in hot production paths where the check has already been
	// proven by the property tests it was born from.
	Check func() []invariant.Violation
}

// Config controls optional engine-wide policy.
type Config struct {
	// Limiter enforces category exposure caps on buy(). Nil disables it.
	Limiter *exposure.Limiter
	// Invariants enables post-operation invariant checking (see Check).
	Invariants bool
}

// New builds an empty engine.
func New(cfg Config) *Engine {
	l := ledger.New()
	r := risk.New(l)
	m := market.New(r, l, cfg.Limiter)
	e := &Engine{ledger: l, risk: r, market: m}
	if cfg.Invariants {
		checker := invariant.New(r, m, l)
		e.Check = checker.CheckAll
	}
	return e
}

func (e *Engine) verify() error {
	if e.Check == nil {
		return nil
	}
	if violations := e.Check(); len(violations) > 0 {
		return engineerr.New(engineerr.InvariantViolation, "%v", violations)
	}
	return nil
}

// OpenAccount creates a fresh zero-balance account.
func (e *Engine) OpenAccount() *model.Account {
	return e.risk.OpenAccount()
}

// Account looks up an account by id.
func (e *Engine) Account(id model.AccountID) (*model.Account, error) {
	return e.risk.Account(id)
}

// Mint credits an account. The only path by which credits enter the
// system.
func (e *Engine) Mint(accountID model.AccountID, amount decimal.Decimal) (*model.Transaction, error) {
	tx, err := e.risk.Mint(accountID, amount)
	if err != nil {
		return nil, err
	}
	if err := e.verify(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Burn destroys credits from an account's available balance.
func (e *Engine) Burn(accountID model.AccountID, amount decimal.Decimal) (*model.Transaction, error) {
	tx, err := e.risk.Burn(accountID, amount)
	if err != nil {
		return nil, err
	}
	if err := e.verify(); err != nil {
		return nil, err
	}
	return tx, nil
}

// CreateMarket opens a new LMSR market.
func (e *Engine) CreateMarket(outcomes []string, b decimal.Decimal, deadline time.Time, precision int32, category, question string, metadata map[string]string) (*model.Market, error) {
	m, err := e.market.CreateMarket(outcomes, b, deadline, precision, category, question, metadata)
	if err != nil {
		return nil, err
	}
	if err := e.verify(); err != nil {
		return nil, err
	}
	return m, nil
}

// Buy executes a buy trade.
func (e *Engine) Buy(accountID model.AccountID, marketID model.MarketID, outcome string, delta, budgetCap decimal.Decimal) (*model.Trade, error) {
	trade, err := e.market.Buy(accountID, marketID, outcome, delta, budgetCap)
	if err != nil {
		return nil, err
	}
	if err := e.verify(); err != nil {
		return nil, err
	}
	return trade, nil
}

// Sell executes a sell trade.
func (e *Engine) Sell(accountID model.AccountID, marketID model.MarketID, outcome string, delta decimal.Decimal) (*model.Trade, error) {
	trade, err := e.market.Sell(accountID, marketID, outcome, delta)
	if err != nil {
		return nil, err
	}
	if err := e.verify(); err != nil {
		return nil, err
	}
	return trade, nil
}

// AddLiquidity increases a market's LMSR liquidity parameter.
func (e *Engine) AddLiquidity(marketID model.MarketID, deltaB decimal.Decimal) error {
	if err := e.market.AddLiquidity(marketID, deltaB); err != nil {
		return err
	}
	return e.verify()
}

// RemoveLiquidity decreases a market's LMSR liquidity parameter.
func (e *Engine) RemoveLiquidity(marketID model.MarketID, deltaB decimal.Decimal) error {
	if err := e.market.RemoveLiquidity(marketID, deltaB); err != nil {
		return err
	}
	return e.verify()
}

// Resolve settles a market to the given outcome.
func (e *Engine) Resolve(marketID model.MarketID, outcome string) error {
	if err := e.market.Resolve(marketID, outcome); err != nil {
		return err
	}
	return e.verify()
}

// Void unwinds a market entirely, returning every lock to its owner.
func (e *Engine) Void(marketID model.MarketID) error {
	if err := e.market.Void(marketID); err != nil {
		return err
	}
	return e.verify()
}

// Tick voids every open market whose deadline has passed.
func (e *Engine) Tick(now time.Time) int {
	n := e.market.Tick(now)
	e.verify()
	return n
}

// Price returns the current quantized price of outcome.
func (e *Engine) Price(marketID model.MarketID, outcome string) (decimal.Decimal, error) {
	return e.market.Price(marketID, outcome)
}

// Market looks up a market by id.
func (e *Engine) Market(id model.MarketID) (*model.Market, error) {
	return e.market.Market(id)
}

// Markets returns every market known to the engine.
func (e *Engine) Markets() map[model.MarketID]*model.Market {
	return e.market.Markets()
}

// Ledger exposes the append-only transaction log for read-only queries.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Snapshot captures the full engine state for persistence.
type Snapshot struct {
	Accounts map[model.AccountID]*model.Account
	Markets  map[model.MarketID]*model.Market
	Ledger   []*model.Transaction
}

// Snapshot returns the engine's account and market maps and a copy of
// the ledger slice. The account and market maps, and the values in
// them, are the engine's own and are not copied: operations run after
// the call change what the returned Snapshot shows.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Accounts: e.risk.Accounts(),
		Markets:  e.market.Markets(),
		Ledger:   e.ledger.All(),
	}
}
