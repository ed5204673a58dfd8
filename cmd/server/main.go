package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/corebank/ledger/internal/config"
	"github.com/corebank/ledger/internal/database"
	"github.com/corebank/ledger/internal/ledger"
	mW "github.com/corebank/ledger/internal/middleware"
	"github.com/corebank/ledger/internal/services"
)

// @title Ledger Core API
// @version 1.0
// @description Account ledger with atomic balance mutations and idempotent retries
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("ledger.max_retry_attempts", "LEDGER_MAX_RETRY_ATTEMPTS")
	viper.BindEnv("ledger.retry_base_delay", "LEDGER_RETRY_BASE_DELAY")
	viper.BindEnv("ledger.max_amount", "LEDGER_MAX_AMOUNT")
	viper.BindEnv("ledger.lock_timeout", "LEDGER_LOCK_TIMEOUT")
	viper.BindEnv("ledger.gate_sweep_interval", "LEDGER_GATE_SWEEP_INTERVAL")

	viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	viper.SetDefault("storage.backend", "postgres")
	viper.SetDefault("storage.seed_persons", []string{"demo"})

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	ledgerCfg := config.GetLedgerConfig()

	// Initialize storage
	var store ledger.Store
	switch backend := viper.GetString("storage.backend"); backend {
	case "memory":
		// Volatile single-process mode for local development. The gate
		// supplies serialization, so its idle sweeper runs here.
		mem := ledger.NewMemStore()
		for _, person := range viper.GetStringSlice("storage.seed_persons") {
			mem.AddPerson(person)
		}
		stopSweep := make(chan struct{})
		defer close(stopSweep)
		mem.Gate().StartSweeper(ledgerCfg.GateSweepInterval, stopSweep)
		store = mem
		log.Println("Using in-memory ledger store (data is not persisted)")
	case "postgres":
		db, err := database.Open()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		store = ledger.NewPgStore(db, ledgerCfg.LockTimeout)
	default:
		log.Fatalf("Unknown storage backend %q", backend)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := ledger.NewService(store,
		ledger.WithRetryPolicy(ledger.RetryPolicy{
			MaxAttempts: ledgerCfg.MaxRetryAttempts,
			BaseDelay:   ledgerCfg.RetryBaseDelay,
		}),
		ledger.WithMaxAmount(ledgerCfg.MaxAmount),
	)

	accountService := services.NewAccountService(ledgerService)
	transactionService := services.NewTransactionService(ledgerService, redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/accounts", accountService.CreateAccount)
		r.Get("/accounts/{accountId}", accountService.GetAccount)
		r.Get("/accounts/{accountId}/balance", accountService.GetBalance)
		r.Put("/accounts/{accountId}/block", accountService.BlockAccount)
		r.Put("/accounts/{accountId}/unblock", accountService.UnblockAccount)

		r.Post("/accounts/{accountId}/deposit", transactionService.Deposit)
		r.Post("/accounts/{accountId}/withdraw", transactionService.Withdraw)
		r.Get("/accounts/{accountId}/transactions", transactionService.ListTransactions)
		r.Get("/accounts/{accountId}/transactions/count", transactionService.CountTransactions)
		r.Get("/accounts/{accountId}/transactions/sum", transactionService.SumTransactions)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
