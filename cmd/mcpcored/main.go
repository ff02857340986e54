// mcpcored is the core runtime's process entry point: it loads
// configuration, wires C1-C9 into a mcpserver.Server, and serves the
// admin/health HTTP surface. Grounded on cmd/tarsy/main.go's
// flag-parsing, .env-loading, and fatal-on-init-error shape.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/mcpcore/pkg/api"
	"github.com/codeready-toolchain/mcpcore/pkg/approval"
	"github.com/codeready-toolchain/mcpcore/pkg/audit"
	"github.com/codeready-toolchain/mcpcore/pkg/config"
	"github.com/codeready-toolchain/mcpcore/pkg/flow"
	"github.com/codeready-toolchain/mcpcore/pkg/invoker"
	"github.com/codeready-toolchain/mcpcore/pkg/mcpserver"
	"github.com/codeready-toolchain/mcpcore/pkg/session"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
	"github.com/codeready-toolchain/mcpcore/pkg/vault"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		logger.Info("loaded environment file", "path", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageAdapter, err := buildStorageAdapter(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize storage adapter", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closer, ok := storageAdapter.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Error("error closing storage adapter", "error", err)
			}
		}
	}()

	sessions := session.NewStore(storageAdapter, session.Options{
		SigningSecret:     []byte(cfg.Session.SigningSecret),
		RateLimitCapacity: cfg.Session.RateLimit.MaxRequests,
		RateLimitWindow:   cfg.Session.RateLimit.Window,
		Logger:            logger,
	})
	approvals := approval.NewStore(storageAdapter)

	var vaultInstance *vault.Vault
	if cfg.Auth.Mode == "orchestrated" {
		vaultInstance = vault.New(storageAdapter, []byte(cfg.Vault.MasterSecret), logger)
	}

	var auditStore audit.Store
	if cfg.Audit.Enabled {
		pg, err := audit.NewPostgresStore(ctx, audit.Config{
			DSN:             cfg.Audit.Database.DSN,
			MaxOpenConns:    cfg.Audit.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to initialize audit store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		auditStore = pg
	}

	registry := flow.NewRegistry(mcpserver.DefaultAuthorizationChecker())
	// Concrete MCP operation flows (list-tools, call-tool, read-resource,
	// get-prompt, initialize, ...) are registered by the embedder that
	// owns the concrete MCP message codec; this core only wires the
	// machinery they run on.

	inv := invoker.New(logger)

	// srv is the composition root an embedder's own transport loop calls
	// CreateSession/Dispatch/CloseSession on; wiring a concrete MCP
	// message loop on top of it is the external collaborator's job per
	// the scope boundary in SPEC_FULL.md.
	srv := mcpserver.New(cfg, storageAdapter, sessions, vaultInstance, approvals, registry, inv, auditStore, logger)
	_ = srv

	adminServer := api.NewServer(storageAdapter, sessions, approvals, auditStore)

	go func() {
		logger.Info("starting admin/health API server", "addr", cfg.API.ListenAddr)
		if err := adminServer.Start(cfg.API.ListenAddr); err != nil {
			logger.Error("admin API server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during admin API shutdown", "error", err)
	}
}

func buildStorageAdapter(ctx context.Context, cfg *config.Config) (storage.Adapter, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return storage.NewRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	default:
		return storage.NewMemory(time.Minute), nil
	}
}
