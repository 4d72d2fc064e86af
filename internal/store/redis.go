package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predmarket/coreengine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cached aggregate ("accounts:all" or "markets:all"); SaveMarket also
// caches the saved market under its own key. Ledger appends are never
// cached, only passed through, since
// replaying the ledger is cheap and staleness there is unacceptable.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) SaveAccount(ctx context.Context, acc *model.Account) error {
	if err := s.primary.SaveAccount(ctx, acc); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountsKey())
	return nil
}

func (s *CachedStore) LoadAccounts(ctx context.Context) (map[model.AccountID]*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountsKey()).Bytes()
	if err == nil {
		var accounts map[model.AccountID]*model.Account
		if json.Unmarshal(data, &accounts) == nil {
			return accounts, nil
		}
	}

	accounts, err := s.primary.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(accounts); err == nil {
		s.rdb.Set(ctx, accountsKey(), data, s.ttl)
	}
	return accounts, nil
}

func (s *CachedStore) SaveMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketsKey())
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) LoadMarkets(ctx context.Context) (map[model.MarketID]*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketsKey()).Bytes()
	if err == nil {
		var markets map[model.MarketID]*model.Market
		if json.Unmarshal(data, &markets) == nil {
			return markets, nil
		}
	}

	markets, err := s.primary.LoadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(markets); err == nil {
		s.rdb.Set(ctx, marketsKey(), data, s.ttl)
	}
	return markets, nil
}

// AppendLedgerEntries passes straight through: caching an append-only
// log invites subtle staleness bugs for no material read speedup.
func (s *CachedStore) AppendLedgerEntries(ctx context.Context, txs []*model.Transaction) error {
	return s.primary.AppendLedgerEntries(ctx, txs)
}

func (s *CachedStore) LoadLedger(ctx context.Context) ([]*model.Transaction, error) {
	return s.primary.LoadLedger(ctx)
}

func accountsKey() string             { return "accounts:all" }
func marketsKey() string              { return "markets:all" }
func marketKey(id model.MarketID) string { return fmt.Sprintf("market:%d", id) }
