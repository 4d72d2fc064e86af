// Package market implements the LMSR market engine: market lifecycle,
// buy/sell trade execution, liquidity changes, resolution and void. It
// orchestrates internal/risk (accounts, locks) and internal/ledger
// (transactions) but owns q, positions, and trades itself.
package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/engineerr"
	"github.com/predmarket/coreengine/internal/exposure"
	"github.com/predmarket/coreengine/internal/ledger"
	"github.com/predmarket/coreengine/internal/lmsr"
	"github.com/predmarket/coreengine/internal/model"
	"github.com/predmarket/coreengine/internal/money"
	"github.com/predmarket/coreengine/internal/risk"
)

// Engine is the market half of the trading engine. It is not safe for
// concurrent use; the caller (internal/engine) serializes access.
type Engine struct {
	risk    *risk.Engine
	ledger  *ledger.Ledger
	limiter *exposure.Limiter

	markets      map[model.MarketID]*model.Market
	nextMarketID model.MarketID
	nextTradeID  model.TradeID
}

// New builds a market engine over an existing risk engine and ledger.
// limiter may be nil to disable category exposure limits entirely.
func New(r *risk.Engine, l *ledger.Ledger, limiter *exposure.Limiter) *Engine {
	return &Engine{
		risk:         r,
		ledger:       l,
		limiter:      limiter,
		markets:      make(map[model.MarketID]*model.Market),
		nextMarketID: 1,
		nextTradeID:  1,
	}
}

func lockKey(accountID model.AccountID, outcome string) string {
	return fmt.Sprintf("%d:%s", accountID, outcome)
}

// Market returns the market with the given id.
func (e *Engine) Market(id model.MarketID) (*model.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return nil, engineerr.New(engineerr.NotFound, "market %d not found", id)
	}
	return m, nil
}

// Markets returns every market, keyed by id.
func (e *Engine) Markets() map[model.MarketID]*model.Market {
	return e.markets
}

func (e *Engine) openMarket(id model.MarketID) (*model.Market, error) {
	m, err := e.Market(id)
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusOpen {
		return nil, engineerr.New(engineerr.MarketNotOpen, "market %d is %s", id, m.Status)
	}
	return m, nil
}

// CreateMarket opens a new LMSR market over the given outcome set,
// minting and locking the AMM's b*ln(n) subsidy.
func (e *Engine) CreateMarket(outcomes []string, b decimal.Decimal, deadline time.Time, precision int32, category, question string, metadata map[string]string) (*model.Market, error) {
	if len(outcomes) < 2 {
		return nil, engineerr.New(engineerr.InvalidPrecision, "market needs at least 2 outcomes")
	}
	seen := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if seen[o] {
			return nil, engineerr.New(engineerr.InvalidPrecision, "duplicate outcome %q", o)
		}
		seen[o] = true
	}
	if !b.GreaterThan(decimal.Zero) || !money.AtPrecision(b, money.CreditsDP) {
		return nil, engineerr.New(engineerr.InvalidPrecision, "liquidity b=%s must be positive and at credit precision", b)
	}
	if precision < 0 {
		return nil, engineerr.New(engineerr.InvalidPrecision, "precision must be >= 0")
	}

	amm := e.risk.OpenAccount()
	marketID := e.nextMarketID

	subsidy := money.QuantizeCredit(lmsr.MaxLoss(b, len(outcomes)), money.Ceil)
	if _, err := e.risk.Mint(amm.ID, subsidy); err != nil {
		return nil, err
	}
	subsidyLock, _, err := e.risk.Lock(amm.ID, marketID, subsidy, model.LockSubsidy, "", nil)
	if err != nil {
		return nil, err
	}

	q := make(map[string]decimal.Decimal, len(outcomes))
	for _, o := range outcomes {
		q[o] = decimal.Zero
	}

	m := &model.Market{
		ID:              marketID,
		ExternalID:      uuid.New(),
		AMMAccountID:    amm.ID,
		Status:          model.StatusOpen,
		Outcomes:        outcomes,
		Precision:       precision,
		B:               b,
		Q:               q,
		Positions:       make(map[model.AccountID]map[string]decimal.Decimal),
		Deadline:        deadline,
		Category:        category,
		Question:        question,
		Metadata:        metadata,
		CreatedAt:       time.Now(),
		SubsidyLockID:   subsidyLock.ID,
		PositionLocks:   make(map[string]model.LockID),
		ConditionalLock: make(map[model.AccountID]model.LockID),
	}
	e.markets[marketID] = m
	e.nextMarketID++
	return m, nil
}

// Buy purchases delta tokens of outcome for account, failing
// BudgetExceeded if the LMSR cost exceeds budgetCap.
func (e *Engine) Buy(accountID model.AccountID, marketID model.MarketID, outcome string, delta, budgetCap decimal.Decimal) (*model.Trade, error) {
	m, err := e.openMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !m.HasOutcome(outcome) {
		return nil, engineerr.New(engineerr.UnknownOutcome, "market %d has no outcome %q", marketID, outcome)
	}
	if !delta.GreaterThan(decimal.Zero) || !money.AtPrecision(delta, m.Precision) {
		return nil, engineerr.New(engineerr.InvalidPrecision, "buy amount %s invalid at precision %d", delta, m.Precision)
	}
	if !money.AtPrecision(budgetCap, money.CreditsDP) {
		return nil, engineerr.New(engineerr.InvalidPrecision, "budget cap %s exceeds credit precision", budgetCap)
	}

	maker := lmsr.New(m.B)
	exact := maker.CostOfTrade(m.Q, outcome, delta)
	cost := money.QuantizeCredit(exact, money.Ceil)
	if cost.GreaterThan(budgetCap) {
		return nil, engineerr.New(engineerr.BudgetExceeded, "cost %s exceeds budget cap %s", cost, budgetCap)
	}

	acc, err := e.risk.Account(accountID)
	if err != nil {
		return nil, err
	}
	if acc.Balance.LessThan(cost) {
		return nil, engineerr.New(engineerr.InsufficientBalance, "account %d: need %s, have %s available", accountID, cost, acc.Balance)
	}

	if e.limiter != nil {
		existing := e.categoryExposure(accountID)
		if err := e.limiter.Check(existing, m.Category, cost); err != nil {
			return nil, err
		}
	}

	tradeID := e.nextTradeID
	e.nextTradeID++

	key := lockKey(accountID, outcome)
	var posLockID model.LockID
	var buyerTx *model.Transaction
	if existingID, ok := m.PositionLocks[key]; ok {
		buyerTx, err = e.risk.IncreaseLock(existingID, cost, &tradeID)
		posLockID = existingID
	} else {
		var lk *model.Lock
		lk, buyerTx, err = e.risk.Lock(accountID, marketID, cost, model.LockPosition, outcome, &tradeID)
		if err == nil {
			posLockID = lk.ID
			m.PositionLocks[key] = lk.ID
		}
	}
	if err != nil {
		return nil, err
	}

	floorCost := money.QuantizeCredit(exact, money.Floor)
	dust := cost.Sub(floorCost)

	var sellerTx *model.Transaction
	if dust.GreaterThan(decimal.Zero) {
		if cpID, ok := m.ConditionalLock[m.AMMAccountID]; ok {
			txs, err := e.risk.MergeFrozen(posLockID, cpID, dust, &tradeID)
			if err != nil {
				return nil, err
			}
			sellerTx = txs[len(txs)-1]
		} else {
			newLock, txs, err := e.risk.Relock(posLockID, m.AMMAccountID, dust, model.LockConditionalProfit, "", &tradeID)
			if err != nil {
				return nil, err
			}
			m.ConditionalLock[m.AMMAccountID] = newLock.ID
			sellerTx = txs[len(txs)-1]
		}
	} else {
		sellerTx = e.ledger.Append(m.AMMAccountID, decimal.Zero, decimal.Zero, "dust:none", &marketID, &tradeID, nil)
	}

	m.Q[outcome] = m.Q[outcome].Add(delta)
	if m.Positions[accountID] == nil {
		m.Positions[accountID] = make(map[string]decimal.Decimal)
	}
	m.Positions[accountID][outcome] = m.Positions[accountID][outcome].Add(delta)

	price := lmsr.QuantizePrices(maker.Prices(m.Q), m.Precision)[outcome]

	trade := &model.Trade{
		ID:         tradeID,
		ExternalID: uuid.New(),
		MarketID:   marketID,
		Outcome:    outcome,
		Amount:     delta,
		Price:      price,
		Buyer: model.TradeLeg{
			AccountID:      accountID,
			AvailableDelta: cost.Neg(),
			FrozenDelta:    cost.Sub(dust),
			LockID:         posLockID,
			TxID:           buyerTx.ID,
		},
		Seller: model.TradeLeg{
			AccountID:      m.AMMAccountID,
			AvailableDelta: decimal.Zero,
			FrozenDelta:    dust,
			LockID:         m.ConditionalLock[m.AMMAccountID],
			TxID:           sellerTx.ID,
		},
		CreatedAt: time.Now(),
	}
	m.Trades = append(m.Trades, trade)
	return trade, nil
}

// Sell disposes of delta tokens of outcome held by account.
func (e *Engine) Sell(accountID model.AccountID, marketID model.MarketID, outcome string, delta decimal.Decimal) (*model.Trade, error) {
	m, err := e.openMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !m.HasOutcome(outcome) {
		return nil, engineerr.New(engineerr.UnknownOutcome, "market %d has no outcome %q", marketID, outcome)
	}
	if !delta.GreaterThan(decimal.Zero) || !money.AtPrecision(delta, m.Precision) {
		return nil, engineerr.New(engineerr.InvalidPrecision, "sell amount %s invalid at precision %d", delta, m.Precision)
	}
	held := decimal.Zero
	if pos, ok := m.Positions[accountID]; ok {
		held = pos[outcome]
	}
	if held.LessThan(delta) {
		return nil, engineerr.New(engineerr.InsufficientPosition, "account %d holds %s of %q, cannot sell %s", accountID, held, outcome, delta)
	}

	key := lockKey(accountID, outcome)
	posLockID, ok := m.PositionLocks[key]
	if !ok {
		return nil, engineerr.New(engineerr.InsufficientPosition, "account %d has no position lock for %q", accountID, outcome)
	}
	posLock, err := e.risk.FindLock(posLockID)
	if err != nil {
		return nil, err
	}

	maker := lmsr.New(m.B)
	exactProceeds := maker.CostOfTrade(m.Q, outcome, delta.Neg()).Neg()
	proceeds := money.QuantizeCredit(exactProceeds, money.Floor)
	costBasis := money.QuantizeCredit(posLock.Amount.Mul(delta).Div(held), money.Floor)

	tradeID := e.nextTradeID
	e.nextTradeID++

	sellerTx, err := e.risk.Unlock(posLockID, costBasis, &tradeID)
	if err != nil {
		return nil, err
	}

	pnl := proceeds.Sub(costBasis)
	pnlTxs, _, err := e.applySellPnL(m, accountID, pnl, &tradeID)
	if err != nil {
		return nil, err
	}

	m.Q[outcome] = m.Q[outcome].Sub(delta)
	m.Positions[accountID][outcome] = held.Sub(delta)

	if m.Positions[accountID][outcome].IsZero() {
		if err := e.foldPositionResidue(m, accountID, posLockID, &tradeID); err != nil {
			return nil, err
		}
	}

	var buyerTx *model.Transaction
	if len(pnlTxs) > 0 {
		buyerTx = pnlTxs[len(pnlTxs)-1]
	} else {
		buyerTx = e.ledger.Append(accountID, decimal.Zero, decimal.Zero, "pnl:none", &marketID, &tradeID, nil)
	}

	price := lmsr.QuantizePrices(maker.Prices(m.Q), m.Precision)[outcome]

	trade := &model.Trade{
		ID:         tradeID,
		ExternalID: uuid.New(),
		MarketID:   marketID,
		Outcome:    outcome,
		Amount:     delta.Neg(),
		Price:      price,
		Buyer: model.TradeLeg{
			AccountID:      m.AMMAccountID,
			AvailableDelta: decimal.Zero,
			FrozenDelta:    decimal.Zero,
			TxID:           buyerTx.ID,
		},
		Seller: model.TradeLeg{
			AccountID:      accountID,
			AvailableDelta: costBasis,
			FrozenDelta:    costBasis.Neg(),
			LockID:         posLockID,
			TxID:           sellerTx.ID,
		},
		CreatedAt: time.Now(),
	}
	m.Trades = append(m.Trades, trade)
	return trade, nil
}

// applySellPnL folds a signed pnl (positive: profit, negative: loss)
// into the seller's single conditional lock for this market, netting
// against any opposite-sign lock already open per the at-most-one-
// conditional-lock invariant.
func (e *Engine) applySellPnL(m *model.Market, sellerID model.AccountID, pnl decimal.Decimal, tradeID *model.TradeID) ([]*model.Transaction, model.LockID, error) {
	if pnl.IsZero() {
		return nil, 0, nil
	}
	newIsProfit := pnl.GreaterThan(decimal.Zero)
	mag := pnl.Abs()

	existingID, hasExisting := m.ConditionalLock[sellerID]
	if !hasExisting {
		return e.openConditionalLock(m, sellerID, newIsProfit, mag, tradeID)
	}

	existing, err := e.risk.FindLock(existingID)
	if err != nil {
		return nil, 0, err
	}
	existingIsProfit := existing.Type == model.LockConditionalProfit

	if existingIsProfit == newIsProfit {
		if newIsProfit {
			txs, err := e.risk.MergeFrozen(m.SubsidyLockID, existingID, mag, tradeID)
			return txs, existingID, err
		}
		tx, err := e.risk.IncreaseLock(existingID, mag, tradeID)
		return []*model.Transaction{tx}, existingID, err
	}

	// Opposite sign: net against the existing lock.
	switch {
	case mag.LessThan(existing.Amount):
		txs, err := e.releaseConditional(m, existingID, existingIsProfit, mag, tradeID)
		return txs, existingID, err
	case mag.Equal(existing.Amount):
		txs, err := e.releaseConditional(m, existingID, existingIsProfit, mag, tradeID)
		delete(m.ConditionalLock, sellerID)
		return txs, existingID, err
	default:
		remainder := mag.Sub(existing.Amount)
		releaseTxs, err := e.releaseConditional(m, existingID, existingIsProfit, existing.Amount, tradeID)
		if err != nil {
			return nil, 0, err
		}
		delete(m.ConditionalLock, sellerID)
		newTxs, newID, err := e.openConditionalLock(m, sellerID, newIsProfit, remainder, tradeID)
		if err != nil {
			return nil, 0, err
		}
		return append(releaseTxs, newTxs...), newID, nil
	}
}

// openConditionalLock creates a fresh CP or CL lock on sellerID's
// account. CP is funded by relocking out of the AMM's subsidy (the
// credits back a profit not yet realized); CL is funded from the
// seller's own available balance (the cost basis just released to it).
func (e *Engine) openConditionalLock(m *model.Market, sellerID model.AccountID, isProfit bool, amount decimal.Decimal, tradeID *model.TradeID) ([]*model.Transaction, model.LockID, error) {
	if isProfit {
		newLock, txs, err := e.risk.Relock(m.SubsidyLockID, sellerID, amount, model.LockConditionalProfit, "", tradeID)
		if err != nil {
			return nil, 0, err
		}
		m.ConditionalLock[sellerID] = newLock.ID
		return txs, newLock.ID, nil
	}
	newLock, tx, err := e.risk.Lock(sellerID, m.ID, amount, model.LockConditionalLoss, "", tradeID)
	if err != nil {
		return nil, 0, err
	}
	m.ConditionalLock[sellerID] = newLock.ID
	return []*model.Transaction{tx}, newLock.ID, nil
}

// releaseConditional releases amount from a conditional lock to its
// rightful owner: CP releases to the account it already sits on
// (the trader); CL releases to the AMM.
func (e *Engine) releaseConditional(m *model.Market, lockID model.LockID, isProfit bool, amount decimal.Decimal, tradeID *model.TradeID) ([]*model.Transaction, error) {
	if isProfit {
		tx, err := e.risk.Unlock(lockID, amount, tradeID)
		if err != nil {
			return nil, err
		}
		return []*model.Transaction{tx}, nil
	}
	return e.risk.TransferLocked(lockID, m.AMMAccountID, amount, tradeID)
}

// foldPositionResidue converts whatever rounding residue is left on a
// fully-closed position lock into the seller's conditional loss,
// guaranteeing position-zero implies position-lock-zero.
func (e *Engine) foldPositionResidue(m *model.Market, sellerID model.AccountID, posLockID model.LockID, tradeID *model.TradeID) error {
	lk, err := e.risk.FindLock(posLockID)
	if err != nil {
		// Already fully released; nothing to fold, only the stale entry to drop.
		e.removePositionLockEntry(m, posLockID)
		return nil
	}
	if lk.Amount.IsZero() {
		e.removePositionLockEntry(m, posLockID)
		return nil
	}

	residue := lk.Amount
	if existingID, ok := m.ConditionalLock[sellerID]; ok {
		existing, err := e.risk.FindLock(existingID)
		if err != nil {
			return err
		}
		if existing.Type == model.LockConditionalLoss {
			if _, err := e.risk.MergeFrozen(posLockID, existingID, residue, tradeID); err != nil {
				return err
			}
		} else {
			// Existing CP: shrink it by the residue where possible, put any
			// remainder into a fresh CL funded straight from the position lock.
			shrink := decimal.Min(existing.Amount, residue)
			if _, err := e.releaseConditional(m, existingID, true, shrink, tradeID); err != nil {
				return err
			}
			if shrink.Equal(existing.Amount) {
				delete(m.ConditionalLock, sellerID)
			}
			remainder := residue.Sub(shrink)
			if remainder.GreaterThan(decimal.Zero) {
				newLock, _, err := e.risk.Relock(posLockID, sellerID, remainder, model.LockConditionalLoss, "", tradeID)
				if err != nil {
					return err
				}
				m.ConditionalLock[sellerID] = newLock.ID
			}
		}
	} else {
		newLock, _, err := e.risk.Relock(posLockID, sellerID, residue, model.LockConditionalLoss, "", tradeID)
		if err != nil {
			return err
		}
		m.ConditionalLock[sellerID] = newLock.ID
	}
	e.removePositionLockEntry(m, posLockID)
	return nil
}

func (e *Engine) removePositionLockEntry(m *model.Market, lockID model.LockID) {
	for key, id := range m.PositionLocks {
		if id == lockID {
			delete(m.PositionLocks, key)
		}
	}
}

// AddLiquidity increases a market's subsidy without touching q or
// prices.
func (e *Engine) AddLiquidity(marketID model.MarketID, deltaB decimal.Decimal) error {
	m, err := e.openMarket(marketID)
	if err != nil {
		return err
	}
	if !deltaB.GreaterThan(decimal.Zero) || !money.AtPrecision(deltaB, money.CreditsDP) {
		return engineerr.New(engineerr.InvalidPrecision, "add_liquidity delta %s invalid", deltaB)
	}
	n := len(m.Outcomes)
	oldWorst := lmsr.MaxLoss(m.B, n)
	newWorst := lmsr.MaxLoss(m.B.Add(deltaB), n)
	additional := money.QuantizeCredit(newWorst.Sub(oldWorst), money.Ceil)

	if _, err := e.risk.Mint(m.AMMAccountID, additional); err != nil {
		return err
	}
	if _, err := e.risk.IncreaseLock(m.SubsidyLockID, additional, nil); err != nil {
		return err
	}
	m.B = m.B.Add(deltaB)
	return nil
}

// RemoveLiquidity shrinks a market's subsidy, refusing if the
// remaining subsidy would not cover the settlement-solvency check.
func (e *Engine) RemoveLiquidity(marketID model.MarketID, deltaB decimal.Decimal) error {
	m, err := e.openMarket(marketID)
	if err != nil {
		return err
	}
	if !deltaB.GreaterThan(decimal.Zero) || !money.AtPrecision(deltaB, money.CreditsDP) {
		return engineerr.New(engineerr.InvalidPrecision, "remove_liquidity delta %s invalid", deltaB)
	}
	if deltaB.GreaterThanOrEqual(m.B) {
		return engineerr.New(engineerr.InsufficientSubsidy, "cannot remove %s of %s liquidity", deltaB, m.B)
	}
	newB := m.B.Sub(deltaB)

	subsidyLock, err := e.risk.FindLock(m.SubsidyLockID)
	if err != nil {
		return err
	}
	oldWorst := lmsr.MaxLoss(m.B, len(m.Outcomes))
	newWorst := lmsr.MaxLoss(newB, len(m.Outcomes))
	freed := money.QuantizeCredit(oldWorst.Sub(newWorst), money.Floor)

	if subsidyLock.Amount.Sub(freed).LessThan(newWorst) {
		return engineerr.New(engineerr.InsufficientSubsidy, "removing %s would leave subsidy below settlement solvency", deltaB)
	}
	if !e.solvencyHolds(m, newB, subsidyLock.Amount.Sub(freed)) {
		return engineerr.New(engineerr.InsufficientSubsidy, "removing %s fails settlement-solvency simulation", deltaB)
	}

	if _, err := e.risk.Unlock(m.SubsidyLockID, freed, nil); err != nil {
		return err
	}
	m.B = newB
	return nil
}

// solvencyHolds simulates resolving to every possible winning outcome
// at the candidate subsidy level and confirms it would always cover
// the payout, per the conservative remove_liquidity precondition.
func (e *Engine) solvencyHolds(m *model.Market, candidateB, candidateSubsidy decimal.Decimal) bool {
	for _, outcome := range m.Outcomes {
		payout := decimal.Zero
		for _, positions := range m.Positions {
			payout = payout.Add(positions[outcome])
		}
		payout = money.QuantizeCredit(payout, money.Floor)
		if payout.GreaterThan(candidateSubsidy) {
			return false
		}
	}
	return true
}

// Resolve settles a market to the given outcome.
func (e *Engine) Resolve(marketID model.MarketID, outcome string) error {
	m, err := e.openMarket(marketID)
	if err != nil {
		return err
	}
	if !m.HasOutcome(outcome) {
		return engineerr.New(engineerr.UnknownOutcome, "market %d has no outcome %q", marketID, outcome)
	}

	// Pool every losing position's cost basis into the subsidy lock
	// before paying any winner, so a winner's payout is drawn from the
	// full pool (subsidy + every cost basis collected on the market),
	// not the subsidy alone. This mirrors the original settlement,
	// which pays winners out of the total pool and hands the AMM
	// whatever remains, rather than double-crediting a winner with
	// both their own cost basis and a full-payout transfer from the
	// subsidy.
	for accountID := range m.Positions {
		for _, o := range m.Outcomes {
			if o == outcome {
				continue
			}
			key := lockKey(accountID, o)
			if lockID, ok := m.PositionLocks[key]; ok {
				lk, err := e.risk.FindLock(lockID)
				if err == nil && lk.Amount.GreaterThan(decimal.Zero) {
					if _, err := e.risk.MergeFrozen(lockID, m.SubsidyLockID, lk.Amount, nil); err != nil {
						return err
					}
				}
				delete(m.PositionLocks, key)
			}
		}
	}

	for accountID, positions := range m.Positions {
		winning := positions[outcome]
		if !winning.GreaterThan(decimal.Zero) {
			continue
		}
		payout := money.QuantizeCredit(winning, money.Floor)

		ownAmount := decimal.Zero
		if lockID, ok := m.PositionLocks[lockKey(accountID, outcome)]; ok {
			if lk, err := e.risk.FindLock(lockID); err == nil {
				ownAmount = lk.Amount
			}
			if ownAmount.GreaterThan(decimal.Zero) {
				if _, err := e.risk.Unlock(lockID, ownAmount, nil); err != nil {
					return err
				}
			}
			delete(m.PositionLocks, lockKey(accountID, outcome))
		}

		shortfall := payout.Sub(ownAmount)
		if shortfall.GreaterThan(decimal.Zero) {
			if _, err := e.risk.TransferLocked(m.SubsidyLockID, accountID, shortfall, nil); err != nil {
				return err
			}
		}
	}

	for accountID, lockID := range m.ConditionalLock {
		lk, err := e.risk.FindLock(lockID)
		if err != nil {
			continue
		}
		if lk.Type == model.LockConditionalProfit {
			if _, err := e.risk.Unlock(lockID, lk.Amount, nil); err != nil {
				return err
			}
		} else {
			if _, err := e.risk.TransferLocked(lockID, m.AMMAccountID, lk.Amount, nil); err != nil {
				return err
			}
		}
		delete(m.ConditionalLock, accountID)
	}

	if lk, err := e.risk.FindLock(m.SubsidyLockID); err == nil && lk.Amount.GreaterThan(decimal.Zero) {
		if _, err := e.risk.Unlock(m.SubsidyLockID, lk.Amount, nil); err != nil {
			return err
		}
	}

	m.Status = model.StatusResolved
	m.Resolution = outcome
	return nil
}

// Void unwinds a market entirely: every lock on it returns to its
// owning account and the market becomes a terminal sink.
func (e *Engine) Void(marketID model.MarketID) error {
	m, err := e.openMarket(marketID)
	if err != nil {
		return err
	}
	acc, err := e.risk.Account(m.AMMAccountID)
	if err != nil {
		return err
	}
	e.voidAccountLocks(acc, marketID)
	for accountID := range m.Positions {
		acc, err := e.risk.Account(accountID)
		if err != nil {
			continue
		}
		e.voidAccountLocks(acc, marketID)
	}
	m.PositionLocks = make(map[string]model.LockID)
	m.ConditionalLock = make(map[model.AccountID]model.LockID)
	m.Status = model.StatusVoid
	return nil
}

func (e *Engine) voidAccountLocks(acc *model.Account, marketID model.MarketID) {
	var toRelease []model.LockID
	for _, l := range acc.Locks {
		if l.MarketID == marketID {
			toRelease = append(toRelease, l.ID)
		}
	}
	for _, id := range toRelease {
		if lk, err := e.risk.FindLock(id); err == nil {
			e.risk.Unlock(id, lk.Amount, nil)
		}
	}
}

// Tick voids every open market whose deadline has passed and returns
// how many were voided.
func (e *Engine) Tick(now time.Time) int {
	count := 0
	for id, m := range e.markets {
		if m.Status == model.StatusOpen && !m.Deadline.IsZero() && now.After(m.Deadline) {
			if err := e.Void(id); err == nil {
				count++
			}
		}
	}
	return count
}

// Price returns the current quantized price of outcome in market.
func (e *Engine) Price(marketID model.MarketID, outcome string) (decimal.Decimal, error) {
	m, err := e.openMarket(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if !m.HasOutcome(outcome) {
		return decimal.Zero, engineerr.New(engineerr.UnknownOutcome, "market %d has no outcome %q", marketID, outcome)
	}
	maker := lmsr.New(m.B)
	prices := lmsr.QuantizePrices(maker.Prices(m.Q), m.Precision)
	return prices[outcome], nil
}

// categoryExposure sums the account's locked position amounts across
// every market, grouped by category, for the exposure limiter.
func (e *Engine) categoryExposure(accountID model.AccountID) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	acc, err := e.risk.Account(accountID)
	if err != nil {
		return out
	}
	for _, l := range acc.Locks {
		if l.Type != model.LockPosition {
			continue
		}
		mkt, ok := e.markets[l.MarketID]
		if !ok {
			continue
		}
		out[mkt.Category] = out[mkt.Category].Add(l.Amount)
	}
	return out
}
