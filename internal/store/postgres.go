package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Every decimal value is stored as NUMERIC, round-tripped as
// text to preserve exact precision; nested structures (locks,
// outcome vectors, positions, metadata) are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveAccount(ctx context.Context, acc *model.Account) error {
	locksJSON, err := json.Marshal(acc.Locks)
	if err != nil {
		return fmt.Errorf("marshal locks: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, locks)
		 VALUES ($1, $2::NUMERIC, $3::JSONB)
		 ON CONFLICT (id) DO UPDATE SET balance = $2::NUMERIC, locks = $3::JSONB`,
		acc.ID, acc.Balance.String(), locksJSON,
	)
	return err
}

func (s *PostgresStore) LoadAccounts(ctx context.Context) (map[model.AccountID]*model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, balance::TEXT, locks FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.AccountID]*model.Account)
	for rows.Next() {
		var id model.AccountID
		var balanceS string
		var locksJSON []byte
		if err := rows.Scan(&id, &balanceS, &locksJSON); err != nil {
			return nil, err
		}
		acc := &model.Account{ID: id}
		acc.Balance, _ = decimal.NewFromString(balanceS)
		if len(locksJSON) > 0 {
			if err := json.Unmarshal(locksJSON, &acc.Locks); err != nil {
				return nil, fmt.Errorf("unmarshal locks for account %d: %w", id, err)
			}
		}
		out[id] = acc
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveMarket(ctx context.Context, m *model.Market) error {
	outcomesJSON, _ := json.Marshal(m.Outcomes)
	qJSON, _ := json.Marshal(m.Q)
	positionsJSON, _ := json.Marshal(m.Positions)
	metadataJSON, _ := json.Marshal(m.Metadata)
	positionLocksJSON, _ := json.Marshal(m.PositionLocks)
	conditionalLockJSON, _ := json.Marshal(m.ConditionalLock)
	tradesJSON, err := json.Marshal(m.Trades)
	if err != nil {
		return fmt.Errorf("marshal trades: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (
			id, external_id, amm_account_id, status, outcomes, precision, b, q, positions,
			deadline, resolution, category, question, metadata, created_at,
			subsidy_lock_id, position_locks, conditional_lock, trades
		 ) VALUES (
			$1, $2, $3, $4, $5::JSONB, $6, $7::NUMERIC, $8::JSONB, $9::JSONB,
			$10, $11, $12, $13, $14::JSONB, $15,
			$16, $17::JSONB, $18::JSONB, $19::JSONB
		 )
		 ON CONFLICT (id) DO UPDATE SET
			status = $4, q = $8::JSONB, positions = $9::JSONB, resolution = $11,
			b = $7::NUMERIC, position_locks = $17::JSONB, conditional_lock = $18::JSONB,
			trades = $19::JSONB`,
		m.ID, m.ExternalID, m.AMMAccountID, m.Status, outcomesJSON, m.Precision, m.B.String(), qJSON, positionsJSON,
		nullableTime(m.Deadline), m.Resolution, m.Category, m.Question, metadataJSON, m.CreatedAt,
		m.SubsidyLockID, positionLocksJSON, conditionalLockJSON, tradesJSON,
	)
	return err
}

func (s *PostgresStore) LoadMarkets(ctx context.Context) (map[model.MarketID]*model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, amm_account_id, status, outcomes, precision, b::TEXT, q, positions,
		        deadline, resolution, category, question, metadata, created_at,
		        subsidy_lock_id, position_locks, conditional_lock, trades
		 FROM markets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.MarketID]*model.Market)
	for rows.Next() {
		m := &model.Market{}
		var bS string
		var outcomesJSON, qJSON, positionsJSON, metadataJSON, positionLocksJSON, conditionalLockJSON, tradesJSON []byte
		if err := rows.Scan(&m.ID, &m.ExternalID, &m.AMMAccountID, &m.Status, &outcomesJSON, &m.Precision, &bS, &qJSON, &positionsJSON,
			&m.Deadline, &m.Resolution, &m.Category, &m.Question, &metadataJSON, &m.CreatedAt,
			&m.SubsidyLockID, &positionLocksJSON, &conditionalLockJSON, &tradesJSON); err != nil {
			return nil, err
		}
		m.B, _ = decimal.NewFromString(bS)
		json.Unmarshal(outcomesJSON, &m.Outcomes)
		json.Unmarshal(qJSON, &m.Q)
		json.Unmarshal(positionsJSON, &m.Positions)
		json.Unmarshal(metadataJSON, &m.Metadata)
		json.Unmarshal(positionLocksJSON, &m.PositionLocks)
		json.Unmarshal(conditionalLockJSON, &m.ConditionalLock)
		json.Unmarshal(tradesJSON, &m.Trades)
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendLedgerEntries(ctx context.Context, txs []*model.Transaction) error {
	batch := make([][]interface{}, 0, len(txs))
	for _, tx := range txs {
		batch = append(batch, []interface{}{
			tx.ID, tx.AccountID, tx.AvailableDelta.String(), tx.FrozenDelta.String(), tx.Reason,
			tx.MarketID, tx.TradeID, tx.LockID, tx.CreatedAt,
		})
	}
	for _, row := range batch {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO ledger_entries (id, account_id, available_delta, frozen_delta, reason, market_id, trade_id, lock_id, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			row...,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) LoadLedger(ctx context.Context) ([]*model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, available_delta::TEXT, frozen_delta::TEXT, reason, market_id, trade_id, lock_id, created_at
		 FROM ledger_entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		tx := &model.Transaction{}
		var availS, frozenS string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &availS, &frozenS, &tx.Reason, &tx.MarketID, &tx.TradeID, &tx.LockID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.AvailableDelta, _ = decimal.NewFromString(availS)
		tx.FrozenDelta, _ = decimal.NewFromString(frozenS)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func nullableTime(t interface{ IsZero() bool }) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
