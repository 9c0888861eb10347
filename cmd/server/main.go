package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/identity"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/quote"
	"github.com/papertrade/trading-engine/internal/ratelimit"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/trading"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis (shared by account cache and quote cache when configured) ---
	var rdb *redis.Client
	var cleanup []func()
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("redis connected")
	}

	// --- Account repository ---
	var repo store.Repository
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.EnsureSchema(ctx, pool); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		repo = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			repo = store.NewCachedStore(repo, rdb, 30*time.Second)
			slog.Info("redis account cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		repo = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote snapshot cache + simulated feed ---
	var quotes quote.Cache
	if rdb != nil {
		quotes = quote.NewRedisCache(rdb, 60*time.Second)
		slog.Info("redis quote cache enabled")
	} else {
		quotes = quote.NewSnapshotCache()
	}

	// --- WebSocket hub ---
	wsHub := trading.NewWSHub()
	go wsHub.Run()

	feedInterval := time.Second
	if v := os.Getenv("QUOTE_FEED_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			feedInterval = time.Duration(ms) * time.Millisecond
		}
	}
	feed := quote.NewSimFeed(quotes, nil, feedInterval, func(ins model.Instrument, price decimal.Decimal) {
		wsHub.Broadcast(trading.WSMessage{
			Type:     "tick",
			Symbol:   ins.Symbol,
			Exchange: ins.Exchange,
			Price:    price.String(),
		})
	})
	if err := feed.Prime(ctx); err != nil {
		slog.Error("quote feed priming failed", "err", err)
		os.Exit(1)
	}
	go feed.Run(ctx)

	// --- Trading service ---
	svc := trading.NewService(repo, quotes, nil, wsHub)

	// --- Identity ---
	var identityMW func(http.Handler) http.Handler
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		identityMW = identity.Middleware(identity.NewVerifier(secret))
	} else {
		slog.Warn("JWT_SECRET not set, trusting X-User-ID header (development only)")
		identityMW = identity.HeaderMiddleware
	}

	// --- Rate limiter for order-mutating routes ---
	window := 15 * time.Minute
	maxReqs := 50
	if v := os.Getenv("RATE_LIMIT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxReqs = n
		}
	}
	limiter := ratelimit.NewLimiter(window, maxReqs)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade/tick updates.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(identityMW)
			r.Use(limiter.Middleware)
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
