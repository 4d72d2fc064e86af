// Package ledger implements the engine's append-only transaction log.
// Every balance or lock mutation performed by internal/risk records one
// Transaction here per account it touches; internal/market also appends
// zero-delta placeholder entries ("dust:none", "pnl:none") so that every
// trade leg has a transaction id. Nothing is ever removed or edited once
// appended.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/model"
)

// Ledger is the single source of truth for how every account got to
// its current balance. Replaying it from empty reconstructs state.
type Ledger struct {
	entries []*model.Transaction
	nextID  model.TxID
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{nextID: 1}
}

// Append records one transaction and returns its assigned id.
func (l *Ledger) Append(accountID model.AccountID, availableDelta, frozenDelta decimal.Decimal, reason string, marketID *model.MarketID, tradeID *model.TradeID, lockID *model.LockID) *model.Transaction {
	tx := &model.Transaction{
		ID:             l.nextID,
		AccountID:      accountID,
		AvailableDelta: availableDelta,
		FrozenDelta:    frozenDelta,
		Reason:         reason,
		MarketID:       marketID,
		TradeID:        tradeID,
		LockID:         lockID,
		CreatedAt:      time.Now(),
	}
	l.nextID++
	l.entries = append(l.entries, tx)
	return tx
}

// All returns every transaction ever appended, in order. The returned
// slice is a copy; callers may not mutate ledger state through it.
func (l *Ledger) All() []*model.Transaction {
	out := make([]*model.Transaction, len(l.entries))
	copy(out, l.entries)
	return out
}

// ForAccount returns every transaction touching the given account, in
// order of appending.
func (l *Ledger) ForAccount(id model.AccountID) []*model.Transaction {
	var out []*model.Transaction
	for _, tx := range l.entries {
		if tx.AccountID == id {
			out = append(out, tx)
		}
	}
	return out
}

// ForTrade returns every transaction tagged with the given trade id, in
// order of appending. This is more than the trade's two leg transactions
// whenever the trade moves credits through several locks (for example a
// buy whose rounding dust is relocked to the AMM, or a sell that opens
// or nets a conditional lock).
func (l *Ledger) ForTrade(id model.TradeID) []*model.Transaction {
	var out []*model.Transaction
	for _, tx := range l.entries {
		if tx.TradeID != nil && *tx.TradeID == id {
			out = append(out, tx)
		}
	}
	return out
}

// TotalMinted sums every "mint" transaction: the total credits ever
// created in this ledger's lifetime.
func (l *Ledger) TotalMinted() decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range l.entries {
		if tx.Reason == "mint" {
			sum = sum.Add(tx.AvailableDelta)
		}
	}
	return sum
}

// TotalBurned sums every "burn" transaction.
func (l *Ledger) TotalBurned() decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range l.entries {
		if tx.Reason == "burn" {
			sum = sum.Add(tx.AvailableDelta.Neg())
		}
	}
	return sum
}

// Len reports how many transactions have been appended.
func (l *Ledger) Len() int {
	return len(l.entries)
}
