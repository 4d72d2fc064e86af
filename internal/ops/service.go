// Package ops exposes the trading engine over HTTP. Every handler
// serializes through the Service's mutex (single-writer execution
// model): only one operation runs at a time, matching the engine's
// synchronous, non-concurrent internal design.
package ops

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/engine"
	"github.com/predmarket/coreengine/internal/engineerr"
	"github.com/predmarket/coreengine/internal/feed"
	"github.com/predmarket/coreengine/internal/market"
	"github.com/predmarket/coreengine/internal/metrics"
	"github.com/predmarket/coreengine/internal/model"
)

// Service wraps one *engine.Engine behind a single mutex, feeding
// events into an optional feed.Hub for real-time broadcast.
type Service struct {
	mu  sync.Mutex
	eng *engine.Engine
	hub *feed.Hub
}

// NewService builds an HTTP service over eng. Pass nil for hub if
// real-time broadcasting is not needed.
func NewService(eng *engine.Engine, hub *feed.Hub) *Service {
	return &Service{eng: eng, hub: hub}
}

// --- Request/response types ---

type openAccountResponse struct {
	AccountID model.AccountID `json:"account_id"`
}

type mintBurnRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type createMarketRequest struct {
	Outcomes  []string          `json:"outcomes"`
	B         decimal.Decimal   `json:"b"`
	Deadline  *time.Time        `json:"deadline"`
	Precision int32             `json:"precision"`
	Category  string            `json:"category"`
	Question  string            `json:"question"`
	Metadata  map[string]string `json:"metadata"`
}

type createMarketResponse struct {
	*model.Market
	Ident string `json:"ident"`
}

type tradeRequest struct {
	AccountID model.AccountID `json:"account_id"`
	Outcome   string          `json:"outcome"`
	Amount    decimal.Decimal `json:"amount"`
	BudgetCap decimal.Decimal `json:"budget_cap,omitempty"`
}

type liquidityRequest struct {
	DeltaB decimal.Decimal `json:"delta_b"`
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// --- Handlers ---

// OpenAccount handles POST /api/v1/accounts.
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acc := s.eng.OpenAccount()
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, openAccountResponse{AccountID: acc.ID})
}

// Mint handles POST /api/v1/accounts/{accountID}/mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req mintBurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	tx, err := s.eng.Mint(accountID, req.Amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Burn handles POST /api/v1/accounts/{accountID}/burn.
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req mintBurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	tx, err := s.eng.Burn(accountID, req.Amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	deadline := time.Time{}
	if req.Deadline != nil {
		deadline = *req.Deadline
	}

	s.mu.Lock()
	m, err := s.eng.CreateMarket(req.Outcomes, req.B, deadline, req.Precision, req.Category, req.Question, req.Metadata)
	var ident string
	if err == nil {
		ident = market.FormatIdent(req.Category, req.Question, int64(m.ID))
	}
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created", "id", m.ID, "ident", ident, "b", m.B.String(), "outcomes", m.Outcomes)
	writeJSON(w, http.StatusCreated, createMarketResponse{Market: m, Ident: ident})
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	m, err := s.eng.Market(marketID)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	markets := s.eng.Markets()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, markets)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price/{outcome}.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	outcome := chi.URLParam(r, "outcome")

	s.mu.Lock()
	price, err := s.eng.Price(marketID, outcome)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{outcome: price})
}

// Buy handles POST /api/v1/markets/{marketID}/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.mu.Lock()
	trade, err := s.eng.Buy(req.AccountID, marketID, req.Outcome, req.Amount, req.BudgetCap)
	s.mu.Unlock()
	metrics.TradeLatency.WithLabelValues("buy").Observe(time.Since(start).Seconds())

	if err != nil {
		if engineerr.Is(err, engineerr.ExposureLimitExceeded) {
			metrics.ExposureLimitRejections.Inc()
		}
		writeEngineError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues("buy").Inc()
	metrics.MarketVolume.WithLabelValues(idString(marketID), req.Outcome).Add(mustFloat(req.Amount))

	if s.hub != nil {
		s.hub.Broadcast(feed.Event{
			Type: "trade_executed", MarketID: int64(marketID), Outcome: req.Outcome,
			Amount: trade.Amount.String(), Price: trade.Price.String(),
		})
	}
	writeJSON(w, http.StatusOK, trade)
}

// Sell handles POST /api/v1/markets/{marketID}/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.mu.Lock()
	trade, err := s.eng.Sell(req.AccountID, marketID, req.Outcome, req.Amount)
	s.mu.Unlock()
	metrics.TradeLatency.WithLabelValues("sell").Observe(time.Since(start).Seconds())

	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues("sell").Inc()
	metrics.MarketVolume.WithLabelValues(idString(marketID), req.Outcome).Add(mustFloat(req.Amount))

	if s.hub != nil {
		s.hub.Broadcast(feed.Event{
			Type: "trade_executed", MarketID: int64(marketID), Outcome: req.Outcome,
			Amount: trade.Amount.String(), Price: trade.Price.String(),
		})
	}
	writeJSON(w, http.StatusOK, trade)
}

// AddLiquidity handles POST /api/v1/markets/{marketID}/liquidity/add.
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.eng.AddLiquidity(marketID, req.DeltaB)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveLiquidity handles POST /api/v1/markets/{marketID}/liquidity/remove.
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.eng.RemoveLiquidity(marketID, req.DeltaB)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.eng.Resolve(marketID, req.Outcome)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.ActiveMarkets.Dec()

	if s.hub != nil {
		s.hub.Broadcast(feed.Event{Type: "market_resolved", MarketID: int64(marketID), Resolution: req.Outcome})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Void handles POST /api/v1/markets/{marketID}/void.
func (s *Service) Void(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.eng.Void(marketID)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.ActiveMarkets.Dec()

	if s.hub != nil {
		s.hub.Broadcast(feed.Event{Type: "market_voided", MarketID: int64(marketID)})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tick handles POST /api/v1/tick, voiding every market past its deadline.
func (s *Service) Tick(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := s.eng.Tick(time.Now())
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"voided": n})
}

// Snapshot handles GET /api/v1/snapshot.
func (s *Service) Snapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := s.eng.Snapshot()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, snap)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	if ee, ok := err.(*engineerr.Error); ok {
		code = string(ee.Code)
		switch ee.Code {
		case engineerr.NotFound:
			status = http.StatusNotFound
		case engineerr.InvalidPrecision, engineerr.UnknownOutcome:
			status = http.StatusBadRequest
		case engineerr.MarketNotOpen, engineerr.InsufficientBalance, engineerr.InsufficientPosition,
			engineerr.BudgetExceeded, engineerr.InsufficientSubsidy, engineerr.ExposureLimitExceeded,
			engineerr.LockUnderflow:
			status = http.StatusConflict
		case engineerr.Overflow, engineerr.InvariantViolation:
			status = http.StatusInternalServerError
		}
	}
	slog.Error("operation failed", "code", code, "err", err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func idString(id model.MarketID) string {
	return strconv.FormatInt(int64(id), 10)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func parseAccountID(r *http.Request) (model.AccountID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account id: %w", err)
	}
	return model.AccountID(id), nil
}

func parseMarketID(r *http.Request) (model.MarketID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid market id: %w", err)
	}
	return model.MarketID(id), nil
}
