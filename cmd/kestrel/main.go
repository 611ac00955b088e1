// Kestrel - Interchange fee resolution that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// DefaultTenantID is the tenant whose fee catalog is loaded at startup.
const DefaultTenantID = "default"

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if envPolicy := os.Getenv("KESTREL_NO_MATCH_POLICY"); envPolicy != "" {
		cfg.NoMatchPolicy = envPolicy
	}

	policy, err := fees.ParseNoMatchPolicy(cfg.NoMatchPolicy)
	if err != nil {
		slog.Error("invalid no-match policy", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"no_match_policy", cfg.NoMatchPolicy,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Aggregate Service
	aggregates := aggregate.NewService(repo, cacheImpl)
	slog.Info("aggregate service initialized")

	// Initialize Fee Engine
	engine := fees.NewEngine()

	// Load fee catalog from database (no hardcoded defaults - configure via API)
	if err := loadCatalogFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load fee catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("fee engine initialized", "rules_count", engine.RulesCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, engine, aggregates, policy)

		tenantIDs := []string{DefaultTenantID}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, aggregates, Version, policy)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadCatalogFromDatabase loads the default tenant's fee catalog into
// the engine. All rules must be configured via PUT /rules - no
// hardcoded defaults.
func loadCatalogFromDatabase(ctx context.Context, repo domain.Repository, engine *fees.Engine) error {
	tenantID := DefaultTenantID
	if envTenant := os.Getenv("KESTREL_TENANT"); envTenant != "" {
		tenantID = envTenant
	}

	dbRules, err := repo.ListFeeRules(ctx, tenantID)
	if err != nil {
		slog.Warn("failed to list fee rules from database", "error", err)
		return nil // Start with an empty catalog - rules can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading fee catalog from database", "tenant_id", tenantID, "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no fee rules in database - configure via PUT /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║       Interchange Fee Resolution          ║")
	fmt.Println("  ║      The right fee, every time.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /resolve           - Resolve the fee for a transaction")
	fmt.Println("    POST /resolve/batch     - Resolve a batch sharing one window")
	fmt.Println("    POST /scenario          - Sweep candidate ACIs for a fee spread")
	fmt.Println("    GET  /resolutions/{id}  - Get resolution by ID")
	fmt.Println("    POST /transactions      - Ingest transactions")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /rules             - List the fee catalog")
	fmt.Println("    POST /rules             - Append a fee rule")
	fmt.Println("    PUT  /rules             - Replace the fee catalog")
	fmt.Println("    POST /rules/reload      - Hot-reload the catalog from database")
	fmt.Println("    GET  /merchants         - List merchant profiles")
	fmt.Println("    POST /merchants         - Create a merchant profile")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
