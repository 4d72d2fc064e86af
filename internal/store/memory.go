package store

import (
	"context"
	"sync"

	"github.com/predmarket/coreengine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[model.AccountID]*model.Account
	markets  map[model.MarketID]*model.Market
	ledger   []*model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[model.AccountID]*model.Account),
		markets:  make(map[model.MarketID]*model.Market),
	}
}

func (s *MemoryStore) SaveAccount(_ context.Context, acc *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	s.accounts[acc.ID] = &cp
	return nil
}

func (s *MemoryStore) LoadAccounts(_ context.Context) (map[model.AccountID]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.AccountID]*model.Account, len(s.accounts))
	for id, acc := range s.accounts {
		cp := *acc
		out[id] = &cp
	}
	return out, nil
}

func (s *MemoryStore) SaveMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) LoadMarkets(_ context.Context) (map[model.MarketID]*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.MarketID]*model.Market, len(s.markets))
	for id, m := range s.markets {
		cp := *m
		out[id] = &cp
	}
	return out, nil
}

func (s *MemoryStore) AppendLedgerEntries(_ context.Context, txs []*model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, txs...)
	return nil
}

func (s *MemoryStore) LoadLedger(_ context.Context) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Transaction, len(s.ledger))
	copy(out, s.ledger)
	return out, nil
}
