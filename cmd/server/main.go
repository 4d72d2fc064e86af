package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predmarket/coreengine/internal/engine"
	"github.com/predmarket/coreengine/internal/exposure"
	"github.com/predmarket/coreengine/internal/feed"
	"github.com/predmarket/coreengine/internal/metrics"
	"github.com/predmarket/coreengine/internal/ops"
	"github.com/predmarket/coreengine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store (used for periodic snapshotting; the engine
	// itself is in-memory and authoritative while the process runs) ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exposure limits ---
	maxPerCategory := decimal.NewFromInt(100000)
	maxPerGroup := decimal.NewFromInt(500000)
	limiter := exposure.New(maxPerCategory, maxPerGroup, nil)

	// --- Trading engine ---
	eng := engine.New(engine.Config{Limiter: limiter, Invariants: os.Getenv("ENGINE_STRICT") != ""})

	// --- WebSocket hub ---
	hub := feed.NewHub()
	go hub.Run()

	// --- Ops service ---
	svc := ops.NewService(eng, hub)

	// --- Periodic deadline sweep ---
	tickInterval := 30 * time.Second
	tickCtx, cancelTick := context.WithCancel(context.Background())
	cleanup = append(cleanup, cancelTick)
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if n := eng.Tick(time.Now()); n > 0 {
					slog.Info("swept expired markets", "voided", n)
				}
			}
		}
	}()

	// --- Periodic snapshot to store ---
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			snap := eng.Snapshot()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for _, acc := range snap.Accounts {
				if err := st.SaveAccount(ctx, acc); err != nil {
					slog.Error("snapshot: save account failed", "account", acc.ID, "err", err)
				}
			}
			for _, m := range snap.Markets {
				if err := st.SaveMarket(ctx, m); err != nil {
					slog.Error("snapshot: save market failed", "market", m.ID, "err", err)
				}
			}
			cancel()
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"coreengine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/feed", hub.HandleWS)

		r.Post("/accounts", svc.OpenAccount)
		r.Post("/accounts/{accountID}/mint", svc.Mint)
		r.Post("/accounts/{accountID}/burn", svc.Burn)

		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Get("/markets/{marketID}/price/{outcome}", svc.GetPrice)
		r.Post("/markets/{marketID}/buy", svc.Buy)
		r.Post("/markets/{marketID}/sell", svc.Sell)
		r.Post("/markets/{marketID}/liquidity/add", svc.AddLiquidity)
		r.Post("/markets/{marketID}/liquidity/remove", svc.RemoveLiquidity)
		r.Post("/markets/{marketID}/resolve", svc.Resolve)
		r.Post("/markets/{marketID}/void", svc.Void)

		r.Post("/tick", svc.Tick)
		r.Get("/snapshot", svc.Snapshot)
	})

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("coreengine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down coreengine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("coreengine stopped")
}
