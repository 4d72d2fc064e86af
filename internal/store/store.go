// Package store defines the persistence interface for the trading
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing). Every
// implementation persists the same three-part snapshot: accounts (with
// their locks embedded), markets (with their trades embedded), and the
// append-only ledger.
package store

import (
	"context"

	"github.com/predmarket/coreengine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer in front of it.
type Store interface {
	// --- Accounts (locks travel embedded on the account) ---

	SaveAccount(ctx context.Context, acc *model.Account) error
	LoadAccounts(ctx context.Context) (map[model.AccountID]*model.Account, error)

	// --- Markets (trades travel embedded on the market) ---

	SaveMarket(ctx context.Context, m *model.Market) error
	LoadMarkets(ctx context.Context) (map[model.MarketID]*model.Market, error)

	// --- Immutable ledger ---

	AppendLedgerEntries(ctx context.Context, txs []*model.Transaction) error
	LoadLedger(ctx context.Context) ([]*model.Transaction, error)
}
