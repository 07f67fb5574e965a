package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gym-coach-bot/internal/bot"
	"gym-coach-bot/internal/config"
	"gym-coach-bot/internal/db"
	"gym-coach-bot/internal/gpt"
	"gym-coach-bot/internal/metrics"
	"gym-coach-bot/internal/payment"
	"gym-coach-bot/internal/plan"
	"gym-coach-bot/internal/server"
	"gym-coach-bot/internal/storage"
	"gym-coach-bot/internal/tenant"
	"gym-coach-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	l := logger.New(cfg.App.Env)
	l.Info("starting gym coach bot...")

	if err := cfg.Validate(); err != nil {
		l.Fatalw("invalid configuration", "error", err)
	}

	metrics.Init()

	registry, err := tenant.NewRegistry(cfg.Tenants)
	if err != nil {
		l.Fatalw("failed to build tenant registry", "error", err)
	}

	store, closeStore := openStore(cfg, l)
	defer closeStore()

	// Provider: OpenAI when a key is configured, static fallback otherwise.
	var generator plan.Generator = gpt.Fallback{}
	if cfg.GPT.APIKey != "" {
		generator = gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)
	} else {
		l.Warn("no GPT API key configured, serving fallback programs")
	}

	orchestrator := plan.NewOrchestrator(store, generator, l,
		cfg.Generation.ClaimTTL, cfg.Generation.WaitInterval)

	hub := bot.NewHub()
	ledger := payment.NewTonClient(cfg.Ton.APIURL, cfg.Ton.APIKey)
	payments := payment.NewWorkflow(store, ledger, hub, l,
		cfg.Payment.PendingTTL, cfg.Payment.PollInterval, cfg.Payment.PollTimeout)

	for _, t := range registry.All() {
		tgBot, err := bot.NewTelegramBot(t, store, orchestrator, payments, l)
		if err != nil {
			l.Fatalw("failed to create Telegram bot", "tenant", t.ID, "error", err)
		}
		hub.Add(tgBot)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := hub.StartAll(ctx); err != nil {
		l.Fatalw("failed to start bots", "error", err)
	}
	l.Infow("bots started", "tenants", len(cfg.Tenants))

	go payments.RunSweeper(ctx, time.Minute)

	httpServer := server.NewServer(cfg.Server.Port, cfg.Server.Metrics, l)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("error during HTTP server shutdown", "error", err)
	}
	hub.StopAll(shutdownCtx)

	l.Info("stopped")
}

// openStore connects to postgres with retry, or falls back to the in-memory
// store when no database is configured.
func openStore(cfg *config.Config, l *logger.Logger) (storage.Store, func()) {
	dsn := cfg.DSN()
	if dsn == "" {
		l.Warn("no database configured, using in-memory store")
		return storage.NewMemory(), func() {}
	}

	if err := db.Migrate(dsn); err != nil {
		l.Fatalw("migrations failed", "error", err)
	}
	l.Info("migrations applied")

	var database *db.Postgres
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgres(cfg.DB)
		if err == nil {
			break
		}
		l.Errorw("failed to connect to database, retrying...", "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if database == nil {
		l.Fatalw("failed to connect to database after multiple attempts", "error", err)
	}
	return database, database.Close
}
