// Package model defines the core domain types of the trading engine:
// accounts, locks, markets, trades and the transaction ledger. All
// monetary and token values use shopspring/decimal — never float64.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type (
	AccountID int64
	MarketID  int64
	LockID    int64
	TxID      int64
	TradeID   int64
)

// LockType categorizes why credits are frozen on an account.
type LockType string

const (
	LockPosition           LockType = "position"
	LockSubsidy            LockType = "subsidy"
	LockConditionalProfit  LockType = "conditional_profit"
	LockConditionalLoss    LockType = "conditional_loss"
)

// Lock is an itemized freeze of credits on an account. Position locks
// carry the outcome they were opened for; subsidy and conditional
// locks are scoped to the market only.
type Lock struct {
	ID        LockID
	AccountID AccountID
	MarketID  MarketID
	Amount    decimal.Decimal
	Type      LockType
	Outcome   string // set only for LockPosition
}

// Account holds an available balance and the locks freezing part of
// it. The AMM of every market is an ordinary Account distinguished
// only by holding a subsidy lock.
type Account struct {
	ID      AccountID
	Balance decimal.Decimal
	Locks   []*Lock
}

// Frozen returns the sum of every lock amount on the account.
func (a *Account) Frozen() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range a.Locks {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// Total is balance plus everything frozen.
func (a *Account) Total() decimal.Decimal {
	return a.Balance.Add(a.Frozen())
}

// MarketStatus is the lifecycle state of a Market.
type MarketStatus string

const (
	StatusOpen     MarketStatus = "open"
	StatusResolved MarketStatus = "resolved"
	StatusVoid     MarketStatus = "void"
)

// Market is one LMSR outcome space: a q-vector, per-account positions,
// and the trades executed against it. category/question/metadata are
// descriptive only; the exposure limiter is the sole engine component
// that reads category.
type Market struct {
	ID           MarketID
	ExternalID   uuid.UUID
	AMMAccountID AccountID
	Status       MarketStatus
	Outcomes     []string
	Precision    int32
	B            decimal.Decimal
	Q            map[string]decimal.Decimal
	Positions    map[AccountID]map[string]decimal.Decimal
	Trades       []*Trade
	Deadline     time.Time
	Resolution   string // set once resolved
	Category     string
	Question     string
	Metadata     map[string]string
	CreatedAt    time.Time

	// Bookkeeping the market engine needs to find the right lock
	// without scanning every lock on an account. Owned by the market,
	// not exposed outside internal/market.
	SubsidyLockID   LockID
	PositionLocks   map[string]LockID // key: fmt.Sprintf("%d:%s", accountID, outcome)
	ConditionalLock map[AccountID]LockID
}

// HasOutcome reports whether name is one of the market's outcomes.
func (m *Market) HasOutcome(name string) bool {
	for _, o := range m.Outcomes {
		if o == name {
			return true
		}
	}
	return false
}

// TradeLeg exactly describes one side's balance change in a Trade.
type TradeLeg struct {
	AccountID      AccountID
	AvailableDelta decimal.Decimal
	FrozenDelta    decimal.Decimal
	LockID         LockID
	TxID           TxID
}

// Trade is an immutable record of one buy or sell.
type Trade struct {
	ID         TradeID
	ExternalID uuid.UUID
	MarketID   MarketID
	Outcome    string
	Amount     decimal.Decimal // signed: + buy, - sell
	Price      decimal.Decimal
	Buyer      TradeLeg
	Seller     TradeLeg
	CreatedAt  time.Time
}

// Transaction is one append-only ledger entry. Every balance mutation
// anywhere in the engine produces exactly one Transaction. Replaying
// every Transaction for an account from zero reproduces its current
// (balance, frozen) exactly.
type Transaction struct {
	ID             TxID
	AccountID      AccountID
	AvailableDelta decimal.Decimal
	FrozenDelta    decimal.Decimal
	Reason         string
	MarketID       *MarketID
	TradeID        *TradeID
	LockID         *LockID
	CreatedAt      time.Time
}
