package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/moncoin/exchange/internal/events"
	"github.com/moncoin/exchange/internal/exchange"
	"github.com/moncoin/exchange/internal/metrics"
	"github.com/moncoin/exchange/internal/payments"
	"github.com/moncoin/exchange/internal/ratelimit"
	"github.com/moncoin/exchange/internal/store"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
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

		// Wrap with Redis read-through cache if configured.
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

	// --- Event publisher ---
	var publisher events.Publisher = events.Nop{}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kp := events.NewKafkaPublisher(strings.Split(brokers, ","))
		cleanup = append(cleanup, func() { kp.Close() })
		publisher = kp
		slog.Info("Kafka events enabled", "brokers", brokers)
	}

	// --- WebSocket hub ---
	hub := exchange.NewHub()
	go hub.Run()

	// --- Services ---
	exchangeSvc := exchange.NewService(st, hub, publisher)
	paymentsSvc := payments.NewService(st, publisher)

	// --- Rate limiting ---
	rps := 20.0
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Error("invalid RATE_LIMIT_RPS", "err", err)
			os.Exit(1)
		}
		rps = parsed
	}
	limiter := ratelimit.New(rps, int(rps)*2, 10*time.Minute)
	defer limiter.Close()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(limiter.Middleware)

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
		w.Write([]byte(`{"status":"ok","service":"exchange"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price and settlement updates.
		r.Get("/ws", hub.HandleWS)

		// Market lifecycle and reads.
		r.Get("/markets", exchangeSvc.ListMarkets)
		r.Post("/markets", exchangeSvc.CreateMarket)
		r.Get("/markets/{marketID}", exchangeSvc.GetMarket)
		r.Get("/markets/{marketID}/price", exchangeSvc.GetPrice)
		r.Get("/markets/{marketID}/trades", exchangeSvc.GetMarketTrades)

		// Accounts.
		r.Post("/accounts", exchangeSvc.CreateAccount)

		// Trade execution and settlement.
		r.Post("/quote", exchangeSvc.HandleQuote)
		r.Post("/trade", exchangeSvc.HandleTrade)
		r.Post("/markets/{marketID}/settle", exchangeSvc.HandleSettle)

		// Portfolio queries.
		r.Get("/portfolio/{holderID}", exchangeSvc.HandlePortfolio)
		r.Get("/portfolio/{holderID}/trades", exchangeSvc.GetHolderTrades)

		// MON deposits and withdrawals.
		r.Route("/payments", func(r chi.Router) {
			r.Post("/deposit", paymentsSvc.HandleDepositIntent)
			r.Post("/deposit/confirm", paymentsSvc.HandleConfirmDeposit)
			r.Post("/withdraw", paymentsSvc.HandleWithdraw)
			r.Post("/withdraw/confirm", paymentsSvc.HandleConfirmWithdraw)
			r.Post("/{requestID}/fail", paymentsSvc.HandleFail)
			r.Get("/{requestID}", paymentsSvc.HandleGetPayment)
			r.Get("/history/{holderID}", paymentsSvc.HandleHistory)
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
		slog.Info("exchange listening", "port", port)
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

	slog.Info("shutting down exchange...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exchange stopped")
}
