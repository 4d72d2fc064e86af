// Package risk implements the engine's risk management layer: account
// balances and itemized locks. It knows nothing about markets, LMSR,
// or trades — only that credits move between "available" and "frozen"
// buckets, and that every such move is recorded on the ledger.
//
// Invariant this package alone is responsible for: for every account,
// frozen(account) == sum of lock.Amount over that account's locks.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/engineerr"
	"github.com/predmarket/coreengine/internal/ledger"
	"github.com/predmarket/coreengine/internal/model"
	"github.com/predmarket/coreengine/internal/money"
)

// Engine owns every Account and Lock. It is not safe for concurrent
// use; callers serialize access (see internal/engine).
type Engine struct {
	ledger *ledger.Ledger

	accounts map[model.AccountID]*model.Account
	locks    map[model.LockID]*model.Lock

	nextAccountID model.AccountID
	nextLockID    model.LockID
}

// New builds a risk engine writing every mutation to l.
func New(l *ledger.Ledger) *Engine {
	return &Engine{
		ledger:        l,
		accounts:      make(map[model.AccountID]*model.Account),
		locks:         make(map[model.LockID]*model.Lock),
		nextAccountID: 1,
		nextLockID:    1,
	}
}

// OpenAccount creates a new zero-balance account.
func (e *Engine) OpenAccount() *model.Account {
	acc := &model.Account{ID: e.nextAccountID, Balance: decimal.Zero}
	e.accounts[acc.ID] = acc
	e.nextAccountID++
	return acc
}

// Account returns the account with the given id.
func (e *Engine) Account(id model.AccountID) (*model.Account, error) {
	acc, ok := e.accounts[id]
	if !ok {
		return nil, engineerr.New(engineerr.NotFound, "account %d not found", id)
	}
	return acc, nil
}

// Accounts returns every account, keyed by id. Callers must not mutate
// the returned map or its values in place.
func (e *Engine) Accounts() map[model.AccountID]*model.Account {
	return e.accounts
}

// Mint creates amount credits out of nothing and adds them to
// account's available balance. The only way credits enter the system.
func (e *Engine) Mint(accountID model.AccountID, amount decimal.Decimal) (*model.Transaction, error) {
	if !money.AtPrecision(amount, money.CreditsDP) {
		return nil, engineerr.New(engineerr.InvalidPrecision, "mint amount %s exceeds credit precision", amount)
	}
	acc, err := e.Account(accountID)
	if err != nil {
		return nil, err
	}
	acc.Balance = acc.Balance.Add(amount)
	return e.ledger.Append(accountID, amount, decimal.Zero, "mint", nil, nil, nil), nil
}

// Burn destroys amount credits from account's available balance. Fails
// InsufficientBalance if the account does not have enough available.
func (e *Engine) Burn(accountID model.AccountID, amount decimal.Decimal) (*model.Transaction, error) {
	if !money.AtPrecision(amount, money.CreditsDP) {
		return nil, engineerr.New(engineerr.InvalidPrecision, "burn amount %s exceeds credit precision", amount)
	}
	acc, err := e.Account(accountID)
	if err != nil {
		return nil, err
	}
	if acc.Balance.LessThan(amount) {
		return nil, engineerr.New(engineerr.InsufficientBalance, "account %d: need %s, have %s available", accountID, amount, acc.Balance)
	}
	acc.Balance = acc.Balance.Sub(amount)
	return e.ledger.Append(accountID, amount.Neg(), decimal.Zero, "burn", nil, nil, nil), nil
}

// CheckAvailable reports whether account has at least amount available.
func (e *Engine) CheckAvailable(accountID model.AccountID, amount decimal.Decimal) bool {
	acc, err := e.Account(accountID)
	if err != nil {
		return false
	}
	return acc.Balance.GreaterThanOrEqual(amount)
}

// Lock moves amount from account's available balance into a brand new
// lock of the given type (and, for position locks, outcome). Fails
// InsufficientBalance with no side effects if the account can't cover it.
func (e *Engine) Lock(accountID model.AccountID, marketID model.MarketID, amount decimal.Decimal, lockType model.LockType, outcome string, tradeID *model.TradeID) (*model.Lock, *model.Transaction, error) {
	acc, err := e.Account(accountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.Balance.LessThan(amount) {
		return nil, nil, engineerr.New(engineerr.InsufficientBalance, "account %d: need %s, have %s available", accountID, amount, acc.Balance)
	}
	lk := &model.Lock{
		ID:        e.nextLockID,
		AccountID: accountID,
		MarketID:  marketID,
		Amount:    amount,
		Type:      lockType,
		Outcome:   outcome,
	}
	e.nextLockID++
	e.locks[lk.ID] = lk
	acc.Locks = append(acc.Locks, lk)
	acc.Balance = acc.Balance.Sub(amount)

	mID := marketID
	lID := lk.ID
	tx := e.ledger.Append(accountID, amount.Neg(), amount, "lock:"+string(lockType), &mID, tradeID, &lID)
	return lk, tx, nil
}

// IncreaseLock adds amount to an existing lock, moving it from the
// owning account's available balance.
func (e *Engine) IncreaseLock(lockID model.LockID, amount decimal.Decimal, tradeID *model.TradeID) (*model.Transaction, error) {
	lk, err := e.FindLock(lockID)
	if err != nil {
		return nil, err
	}
	acc, err := e.Account(lk.AccountID)
	if err != nil {
		return nil, err
	}
	if acc.Balance.LessThan(amount) {
		return nil, engineerr.New(engineerr.InsufficientBalance, "account %d: need %s, have %s available", lk.AccountID, amount, acc.Balance)
	}
	lk.Amount = lk.Amount.Add(amount)
	acc.Balance = acc.Balance.Sub(amount)

	mID := lk.MarketID
	lID := lk.ID
	tx := e.ledger.Append(lk.AccountID, amount.Neg(), amount, "increase_lock:"+string(lk.Type), &mID, tradeID, &lID)
	return tx, nil
}

// Unlock moves amount back from a lock into its account's available
// balance. If amount equals the lock's full amount the lock is
// removed. Fails LockUnderflow if amount exceeds what is locked.
func (e *Engine) Unlock(lockID model.LockID, amount decimal.Decimal, tradeID *model.TradeID) (*model.Transaction, error) {
	lk, err := e.FindLock(lockID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(lk.Amount) {
		return nil, engineerr.New(engineerr.LockUnderflow, "lock %d: can't unlock %s, only %s locked", lockID, amount, lk.Amount)
	}
	acc, err := e.Account(lk.AccountID)
	if err != nil {
		return nil, err
	}
	lk.Amount = lk.Amount.Sub(amount)
	acc.Balance = acc.Balance.Add(amount)
	if lk.Amount.IsZero() {
		e.removeLock(acc, lk.ID)
	}

	mID := lk.MarketID
	lID := lockID
	tx := e.ledger.Append(lk.AccountID, amount, amount.Neg(), "unlock:"+string(lk.Type), &mID, tradeID, &lID)
	return tx, nil
}

// TransferLocked moves amount directly from a lock's frozen bucket to
// toAccount's available balance, bypassing the originating account's
// balance entirely. Used for settlement payouts. Emits two
// transactions: a frozen debit on the source, an available credit on
// the destination.
func (e *Engine) TransferLocked(fromLockID model.LockID, toAccount model.AccountID, amount decimal.Decimal, tradeID *model.TradeID) ([]*model.Transaction, error) {
	lk, err := e.FindLock(fromLockID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(lk.Amount) {
		return nil, engineerr.New(engineerr.LockUnderflow, "lock %d: can't transfer %s, only %s locked", fromLockID, amount, lk.Amount)
	}
	fromAcc, err := e.Account(lk.AccountID)
	if err != nil {
		return nil, err
	}
	toAcc, err := e.Account(toAccount)
	if err != nil {
		return nil, err
	}

	lk.Amount = lk.Amount.Sub(amount)
	if lk.Amount.IsZero() {
		e.removeLock(fromAcc, lk.ID)
	}
	toAcc.Balance = toAcc.Balance.Add(amount)

	mID := lk.MarketID
	lID := fromLockID
	debit := e.ledger.Append(lk.AccountID, decimal.Zero, amount.Neg(), "transfer_locked:debit", &mID, tradeID, &lID)
	credit := e.ledger.Append(toAccount, amount, decimal.Zero, "transfer_locked:credit", &mID, tradeID, &lID)
	return []*model.Transaction{debit, credit}, nil
}

// Relock moves amount from one lock's frozen bucket directly into a
// brand new lock of lockType owned by toAccount, without touching any
// available balance. Used to fund conditional profit/loss locks out of
// the AMM's subsidy (or a trader's position lock) without a detour
// through anyone's available balance. Emits two transactions, both
// frozen-only deltas.
func (e *Engine) Relock(fromLockID model.LockID, toAccount model.AccountID, amount decimal.Decimal, lockType model.LockType, outcome string, tradeID *model.TradeID) (*model.Lock, []*model.Transaction, error) {
	fromLock, err := e.FindLock(fromLockID)
	if err != nil {
		return nil, nil, err
	}
	if amount.GreaterThan(fromLock.Amount) {
		return nil, nil, engineerr.New(engineerr.LockUnderflow, "lock %d: can't relock %s, only %s locked", fromLockID, amount, fromLock.Amount)
	}
	fromAcc, err := e.Account(fromLock.AccountID)
	if err != nil {
		return nil, nil, err
	}
	toAcc, err := e.Account(toAccount)
	if err != nil {
		return nil, nil, err
	}

	fromLock.Amount = fromLock.Amount.Sub(amount)
	if fromLock.Amount.IsZero() {
		e.removeLock(fromAcc, fromLock.ID)
	}

	newLock := &model.Lock{
		ID:        e.nextLockID,
		AccountID: toAccount,
		MarketID:  fromLock.MarketID,
		Amount:    amount,
		Type:      lockType,
		Outcome:   outcome,
	}
	e.nextLockID++
	e.locks[newLock.ID] = newLock
	toAcc.Locks = append(toAcc.Locks, newLock)

	mID := fromLock.MarketID
	fromID := fromLockID
	toID := newLock.ID
	debit := e.ledger.Append(fromLock.AccountID, decimal.Zero, amount.Neg(), "relock:debit:"+string(lockType), &mID, tradeID, &fromID)
	credit := e.ledger.Append(toAccount, decimal.Zero, amount, "relock:credit:"+string(lockType), &mID, tradeID, &toID)
	return newLock, []*model.Transaction{debit, credit}, nil
}

// MergeFrozen moves amount from one lock's frozen bucket into another
// existing lock's frozen bucket, possibly on a different account.
// Used to fold new conditional pnl into an already-open CP/CL lock.
func (e *Engine) MergeFrozen(fromLockID, toLockID model.LockID, amount decimal.Decimal, tradeID *model.TradeID) ([]*model.Transaction, error) {
	fromLock, err := e.FindLock(fromLockID)
	if err != nil {
		return nil, err
	}
	toLock, err := e.FindLock(toLockID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(fromLock.Amount) {
		return nil, engineerr.New(engineerr.LockUnderflow, "lock %d: can't merge %s, only %s locked", fromLockID, amount, fromLock.Amount)
	}
	fromAcc, err := e.Account(fromLock.AccountID)
	if err != nil {
		return nil, err
	}

	fromLock.Amount = fromLock.Amount.Sub(amount)
	if fromLock.Amount.IsZero() {
		e.removeLock(fromAcc, fromLock.ID)
	}
	toLock.Amount = toLock.Amount.Add(amount)

	mID := toLock.MarketID
	fID, tID := fromLockID, toLockID
	debit := e.ledger.Append(fromLock.AccountID, decimal.Zero, amount.Neg(), "merge_frozen:debit:"+string(fromLock.Type), &mID, tradeID, &fID)
	credit := e.ledger.Append(toLock.AccountID, decimal.Zero, amount, "merge_frozen:credit:"+string(toLock.Type), &mID, tradeID, &tID)
	return []*model.Transaction{debit, credit}, nil
}

// FindLock returns the lock with the given id, regardless of owner.
func (e *Engine) FindLock(lockID model.LockID) (*model.Lock, error) {
	lk, ok := e.locks[lockID]
	if !ok {
		return nil, engineerr.New(engineerr.NotFound, "lock %d not found", lockID)
	}
	return lk, nil
}

func (e *Engine) removeLock(acc *model.Account, lockID model.LockID) {
	delete(e.locks, lockID)
	for i, l := range acc.Locks {
		if l.ID == lockID {
			acc.Locks = append(acc.Locks[:i], acc.Locks[i+1:]...)
			break
		}
	}
}
