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

	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/exposure"
	"github.com/atmx/settlement-engine/internal/glpmanager"
	"github.com/atmx/settlement-engine/internal/ledger"
	"github.com/atmx/settlement-engine/internal/market"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/orderbook"
	"github.com/atmx/settlement-engine/internal/pricefeed"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
	"github.com/atmx/settlement-engine/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var pgPool *pgxpool.Pool
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pgPool = pool
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.CacheTTLS)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger ---
	dollarLedger := ledger.NewMemoryLedger()

	// --- Price feed ---
	feed := pricefeed.NewFeed()
	for _, token := range cfg.Vault.WhitelistedTokens {
		if err := feed.ConfigToken(token, 8, 18); err != nil {
			slog.Error("configure price feed token failed", "token", token, "err", err)
			os.Exit(1)
		}
	}
	// When backed by Postgres, also keep an immutable oracle round log
	// alongside the in-memory K-round lookback Feed reads from.
	var roundStore *pricefeed.PostgresRoundStore
	if pgPool != nil {
		roundStore = pricefeed.NewPostgresRoundStore(pgPool)
	}

	// --- Exposure limiter ---
	limiter := exposure.NewLimiter()
	maxLong, maxShort, err := cfg.ExposureLimits()
	if err != nil {
		slog.Error("exposure limits invalid", "err", err)
		os.Exit(1)
	}
	for token, maxLongCap := range maxLong {
		limiter.SetLimit(token, maxLongCap, maxShort[token])
	}

	// --- WebSocket hub ---
	wsHub := ws.NewHub()
	go wsHub.Run()

	// --- Vault ---
	adminCfg, err := cfg.AdminConfig()
	if err != nil {
		slog.Error("admin config invalid", "err", err)
		os.Exit(1)
	}
	vlt := vault.NewVault(cfg.Vault.Owner, st, feed, dollarLedger, adminCfg, limiter, wsHub)
	for _, token := range cfg.Vault.WhitelistedTokens {
		if err := vlt.SetWhitelistedToken(cfg.Vault.Owner, token, true); err != nil {
			slog.Error("whitelist token failed", "token", token, "err", err)
			os.Exit(1)
		}
	}

	// --- OrderBook ---
	ob := orderbook.NewOrderBook(st, feed, vlt, dollarLedger, wsHub)
	if err := vlt.SetPlugin(cfg.Vault.Owner, orderbook.PluginName, true); err != nil {
		slog.Error("register orderbook plugin failed", "err", err)
		os.Exit(1)
	}

	// --- Market ---
	mkt := market.NewMarket(st, vlt, dollarLedger, wsHub)
	mkt.SetMaxTimeDelay(cfg.MaxTimeDelay())
	if err := vlt.SetPlugin(cfg.Vault.Owner, market.PluginName, true); err != nil {
		slog.Error("register market plugin failed", "err", err)
		os.Exit(1)
	}

	// --- GlpManager ---
	mintFee, burnFee, err := cfg.GlpFees()
	if err != nil {
		slog.Error("glp fee config invalid", "err", err)
		os.Exit(1)
	}
	glp := glpmanager.NewGlpManager(vlt, mintFee, burnFee)

	// --- Oracle push handler ---
	// roundStore is a typed *pricefeed.PostgresRoundStore; assigning a
	// nil pointer straight into the RoundRecorder interface field would
	// make it compare non-nil, so only set it when it's genuinely there.
	oracle := &pricefeed.Handler{Feed: feed}
	if roundStore != nil {
		oracle.Recorder = roundStore
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
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
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time event streaming.
		r.Get("/ws", wsHub.HandleWS)

		// Vault: direct/synchronous position operations, plugin/admin.
		r.Route("/vault", func(r chi.Router) {
			r.Post("/increase", vlt.HandleIncreasePosition)
			r.Post("/decrease", vlt.HandleDecreasePosition)
			r.Post("/liquidate", vlt.HandleLiquidatePosition)
			r.Get("/position/{account}/{token}/{isLong}", vlt.HandleGetPosition)
			r.Post("/usdg/buy", vlt.HandleBuyUSDG)
			r.Post("/usdg/sell", vlt.HandleSellUSDG)
			r.Post("/plugin", vlt.HandleSetPlugin)
			r.Post("/whitelist", vlt.HandleSetWhitelistedToken)
			r.Post("/pause", vlt.HandlePause)
		})

		// OrderBook: conditional trigger-price orders.
		r.Route("/orders", func(r chi.Router) {
			r.Post("/increase", ob.HandleCreateIncreaseOrder)
			r.Post("/decrease", ob.HandleCreateDecreaseOrder)
			r.Post("/increase/cancel", ob.HandleCancelIncreaseOrder)
			r.Post("/decrease/cancel", ob.HandleCancelDecreaseOrder)
			r.Post("/increase/execute", ob.HandleExecuteIncreaseOrder)
			r.Post("/decrease/execute", ob.HandleExecuteDecreaseOrder)
		})

		// Market: delayed keeper-executed requests.
		r.Route("/market", func(r chi.Router) {
			r.Post("/increase", mkt.HandleCreateIncreasePosition)
			r.Post("/decrease", mkt.HandleCreateDecreasePosition)
			r.Post("/increase/cancel", mkt.HandleCancelIncreasePosition)
			r.Post("/decrease/cancel", mkt.HandleCancelDecreasePosition)
			r.Post("/increase/execute", mkt.HandleExecuteIncreasePosition)
			r.Post("/decrease/execute", mkt.HandleExecuteDecreasePosition)
		})

		// GlpManager: LP onboarding.
		r.Route("/glp", func(r chi.Router) {
			r.Post("/add", glp.HandleAddLiquidity)
			r.Post("/remove", glp.HandleRemoveLiquidity)
			r.Get("/{account}", glp.HandleGetBalance)
		})

		// Oracle: keeper-pushed price rounds.
		r.Post("/oracle/round", oracle.HandlePushRound)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}
