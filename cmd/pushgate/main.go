package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/totl433/pushgate/internal/catalog"
	"github.com/totl433/pushgate/internal/config"
	"github.com/totl433/pushgate/internal/dispatch"
	"github.com/totl433/pushgate/internal/idempotency"
	"github.com/totl433/pushgate/internal/policy"
	"github.com/totl433/pushgate/internal/provider"
	"github.com/totl433/pushgate/internal/server"
	"github.com/totl433/pushgate/internal/storage"
	"github.com/totl433/pushgate/internal/targeting"
	"github.com/totl433/pushgate/internal/verifier"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	env, err := idempotency.ParseEnvironment(cfg.Environment)
	if err != nil {
		logger.Fatal("invalid environment", zap.Error(err))
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("cannot load catalog", zap.Error(err))
	}
	logger.Info("catalog loaded", zap.Strings("keys", cat.Keys()))

	var store storage.Store
	switch cfg.DatabaseDriver {
	case "sqlite":
		store, err = storage.NewSQLStore(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("cannot create store", zap.Error(err))
		}
	case "postgres":
		store, err = storage.NewPostgresStore(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("cannot create store", zap.Error(err))
		}
	default:
		logger.Fatal("unsupported database driver", zap.String("driver", cfg.DatabaseDriver))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	providerCfg := provider.Config{
		AppID:      cfg.PushAppID,
		BaseURL:    cfg.PushBaseURL,
		AuthScheme: cfg.PushAuthScheme,
		APIKey:     cfg.PushAPIKey,
		KeyID:      cfg.PushKeyID,
		TeamID:     cfg.PushTeamID,
	}
	if cfg.PushKeyPath != "" {
		providerCfg.SigningKey, err = os.ReadFile(cfg.PushKeyPath)
		if err != nil {
			logger.Fatal("cannot read provider signing key", zap.Error(err))
		}
	}
	if cfg.PushServiceAccountPath != "" {
		providerCfg.ServiceAccountJSON, err = os.ReadFile(cfg.PushServiceAccountPath)
		if err != nil {
			logger.Fatal("cannot read provider service account", zap.Error(err))
		}
	}

	pushClient, err := provider.NewClient(context.Background(), providerCfg, logger)
	if err != nil {
		logger.Fatal("cannot create provider client", zap.Error(err))
	}

	ledger := idempotency.NewClient(store, env)
	policyEngine := policy.NewEngine(store, policy.NewRedisRecentSends(rdb), logger)
	resolver := targeting.NewResolver(store)
	deviceVerifier := verifier.New(
		pushClient,
		store,
		cfg.VerifyConcurrency,
		time.Duration(cfg.VerifyTimeoutMS)*time.Millisecond,
		logger,
	)

	orchestrator := dispatch.NewOrchestrator(
		cat,
		ledger,
		policyEngine,
		resolver,
		deviceVerifier,
		pushClient,
		store,
		logger,
		dispatch.Options{
			SuppressConcurrency: cfg.SuppressConcurrency,
			BroadcastBatchSize:  cfg.BroadcastBatchSize,
		},
	)

	httpServer := server.New(orchestrator, cat, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := httpServer.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()
	<-ctx.Done()

	logger.Info("shutdown signal received, stopping app")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	if err := rdb.Close(); err != nil {
		logger.Error("error closing redis", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("error closing database", zap.Error(err))
	}

	logger.Info("server exiting")
}
