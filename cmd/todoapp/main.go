package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"todoapp/internal/config"
	"todoapp/internal/credentials"
	"todoapp/internal/identity"
	"todoapp/internal/identity/cognito"
	"todoapp/internal/identity/local"
	"todoapp/internal/kv"
	"todoapp/internal/metrics"
	"todoapp/internal/platform/database"
	"todoapp/internal/platform/logging"
	"todoapp/internal/platform/migrate"
	"todoapp/internal/session"
	"todoapp/internal/todos"
	"todoapp/internal/ui"
)

const cleanupInterval = 15 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "todoapp:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logFile, err := logging.OpenFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, logFile)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	if cfg.MetricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(cfg.MetricsFile, registry); err != nil {
				logger.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
			}
		}()
	}

	store, accounts, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	creds, err := buildCredentials(cfg)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		return err
	}

	provider, err := buildProvider(ctx, cfg, accounts, creds, logger)
	if err != nil {
		logger.Error("failed to initialize identity provider", "provider", cfg.IdentityProvider, "error", err)
		return err
	}

	sessions := session.NewManager(provider,
		session.WithLogger(logger),
		session.WithMinPasswordLength(cfg.MinPasswordLength),
		session.WithRequireVerifiedEmail(cfg.RequireVerifiedEmail),
		session.WithRecorder(collector),
	)
	todoStore := todos.NewStore(store,
		todos.WithLogger(logger),
		todos.WithRecorder(collector),
	)

	if cfg.UseInMemoryStore() && cfg.IdentityProvider == "local" && cfg.Environment == "development" {
		if err := seedDemo(ctx, accounts, store, logger); err != nil {
			logger.Warn("failed to seed demo account", "error", err)
		}
	}

	if len(args) > 0 && args[0] == "export" {
		return exportTodos(ctx, sessions, todoStore, args[1:])
	}

	logger.Info("todoapp starting", "store", cfg.DataStore, "identity", cfg.IdentityProvider, "env", cfg.Environment)
	err = ui.Run(ctx, sessions, todoStore, logger)
	logger.Info("todoapp stopped")
	return err
}

// buildStores returns the key-value store for todos and, for the local
// identity provider, the account repository living beside it.
func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (kv.Store, local.Repository, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory storage")
		return kv.NewMemoryStore(0), local.NewInMemoryRepository(), nil, nil
	}

	if !cfg.UsePostgres() {
		store, err := kv.NewFileStore(filepath.Join(cfg.DataDir, "kv"))
		if err != nil {
			return nil, nil, nil, err
		}
		accounts, err := local.NewKVRepository(ctx, store)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using file storage", "dir", cfg.DataDir)
		return store, accounts, nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	applied, err := migrate.Apply(ctx, db, logger)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	logger.Info("connected to postgres", "migrations_applied", applied)
	return kv.NewPostgresStore(db), local.NewPostgresRepository(db), cleanup, nil
}

func buildCredentials(cfg config.Config) (credentials.Store, error) {
	if cfg.UseInMemoryStore() {
		return credentials.NewMemoryStore(), nil
	}
	return credentials.NewFileStore(cfg.CredentialsFile)
}

func buildProvider(ctx context.Context, cfg config.Config, accounts local.Repository, creds credentials.Store, logger *slog.Logger) (identity.Provider, error) {
	if cfg.IdentityProvider == "cognito" {
		api, err := cognito.NewAPI(ctx, cfg.Cognito.Region)
		if err != nil {
			return nil, err
		}
		poolCfg := cognito.Config{
			Region:       cfg.Cognito.Region,
			UserPoolID:   cfg.Cognito.UserPoolID,
			ClientID:     cfg.Cognito.ClientID,
			ClientSecret: cfg.Cognito.ClientSecret,
		}
		verifier, err := cognito.NewOIDCVerifier(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using cognito identity provider", "region", poolCfg.Region, "user_pool", poolCfg.UserPoolID)
		return cognito.NewProvider(api, poolCfg, creds, verifier, cognito.WithLogger(logger)), nil
	}

	provider := local.NewProvider(accounts, creds,
		local.WithLogger(logger),
		local.WithSessionTTL(cfg.SessionTTL),
		local.WithMinPasswordLength(cfg.MinPasswordLength),
		local.WithResendInterval(cfg.CodeResendInterval),
	)
	if removed, err := provider.CleanupExpired(ctx); err != nil {
		logger.Warn("failed to remove expired sessions", "error", err)
	} else if removed > 0 {
		logger.Info("removed expired sessions and codes", "count", removed)
	}
	go cleanupLoop(ctx, provider, logger)
	return provider, nil
}

func cleanupLoop(ctx context.Context, provider *local.Provider, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := provider.CleanupExpired(ctx); err != nil {
				logger.Warn("failed to remove expired sessions", "error", err)
			}
		}
	}
}
