package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/toolscout/genflow/cache"
	"github.com/toolscout/genflow/config"
	"github.com/toolscout/genflow/cost"
	"github.com/toolscout/genflow/monitor"
	"github.com/toolscout/genflow/orchestrator"
	"github.com/toolscout/genflow/provider"
	"github.com/toolscout/genflow/provider/claude"
	"github.com/toolscout/genflow/provider/mock"
	openaiProvider "github.com/toolscout/genflow/provider/openai"
	"github.com/toolscout/genflow/rate"
	"github.com/toolscout/genflow/registry"
	"github.com/toolscout/genflow/router"
	"github.com/toolscout/genflow/sched"
	"github.com/toolscout/genflow/server"
)

func newEngine(pc config.ProviderConfig) (provider.Engine, error) {
	apiKey := ""
	if pc.APIKeyEnv != "" {
		apiKey = os.Getenv(pc.APIKeyEnv)
		if apiKey == "" && pc.Kind != "mock" {
			return nil, fmt.Errorf("provider %q: environment variable %s is empty", pc.ID, pc.APIKeyEnv)
		}
	}

	switch pc.Kind {
	case "openai":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return openaiProvider.NewEngine(pc.ID, baseURL, apiKey, pc.Model), nil
	case "claude":
		return claude.NewEngine(pc.ID, apiKey, pc.Model), nil
	case "mock":
		return mock.NewEngine(pc.ID), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", pc.Kind)
	}
}

func newStore(cfg *config.Config, logger *zap.SugaredLogger) (cache.Store, error) {
	if cfg.ValkeyEndpoint == "" {
		logger.Infow("Using in-process response cache", "max_entries", cfg.CacheMaxEntries)
		return cache.NewMemoryStore(cfg.CacheMaxEntries), nil
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyEndpoint},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %v", err)
	}
	logger.Infow("Using shared valkey response cache", "endpoint", cfg.ValkeyEndpoint)
	return cache.NewValkeyStore(client), nil
}

func run() error {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		return err
	}

	reg := registry.New(logger)
	for _, pc := range cfg.Providers {
		engine, err := newEngine(pc)
		if err != nil {
			return err
		}
		err = reg.Register(&registry.Profile{
			ID:           pc.ID,
			CostPer1K:    pc.CostPer1KTokens,
			QualityRank:  pc.QualityRank,
			WindowBudget: pc.WindowBudget,
			Engine:       engine,
		})
		if err != nil {
			return err
		}
		logger.Infow("Registered provider",
			"provider", pc.ID, "kind", pc.Kind, "quality_rank", pc.QualityRank)
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}

	mon := monitor.New()
	limiter := rate.NewLimiter(cfg.TierLimits(), logger)
	responseCache := cache.New(store, cfg.TTLByKind(), cfg.ParsedDefaultCacheTTL(), logger)
	tracker := cost.NewTracker(cfg.Budgets(), cfg.ParsedCostWindow(), logger)
	fallbackRouter := router.New(reg, tracker, mon, router.Config{
		AttemptTimeout: cfg.ParsedAttemptTimeout(),
		RetryBackoff:   cfg.ParsedRetryBackoff(),
	}, logger)

	orch := orchestrator.New(cfg, limiter, responseCache, fallbackRouter, reg, tracker, mon, logger)

	scheduler := sched.New(orch.Jobs(), logger)
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.New(orch, mon, logger).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("Server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// SIGHUP reloads the configuration snapshot in place.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloaded, err := config.Load(*configPath, logger)
				if err != nil {
					logger.Errorw("Config reload failed", "error", err)
					continue
				}
				if err := orch.Reload(reloaded); err != nil {
					logger.Errorw("Config reload rejected", "error", err)
				}
				continue
			}

			logger.Infow("Shutting down", "signal", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "genflow: %v\n", err)
		os.Exit(1)
	}
}
