// Command beacond is the visitor attribution and event telemetry agent.
// Static pages POST beacons to its HTTP surface; it resolves attribution,
// relays event records to the configured backend, polls milestones and
// dispatches webhooks.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/visitrail/visitrail/internal/attribution"
	"github.com/visitrail/visitrail/internal/config"
	"github.com/visitrail/visitrail/internal/identity"
	"github.com/visitrail/visitrail/internal/milestone"
	"github.com/visitrail/visitrail/internal/pipeline"
	"github.com/visitrail/visitrail/internal/referral"
	"github.com/visitrail/visitrail/internal/server"
	"github.com/visitrail/visitrail/internal/store"
	"github.com/visitrail/visitrail/internal/webhook"
	"github.com/visitrail/visitrail/pkg/logger"
	"github.com/visitrail/visitrail/pkg/retry"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("agent exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openKV(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeKV()

	backend, err := pipeline.NewBackend(cfg, log)
	if err != nil {
		if !errors.Is(err, pipeline.ErrNotConfigured) {
			return err
		}
		log.Warn("event backend not configured, delivery disabled")
		backend = nil
	}
	pipe := pipeline.New(backend, retry.New(cfg.RetryMaxAttempts, cfg.RetryInitialInterval), log)
	hooks := webhook.NewDispatcher(cfg, log)

	chain := attribution.NewChain(log,
		attribution.NewPrimaryStore(kv),
		attribution.NewCompactStore(kv),
	)
	srv := server.New(cfg, kv,
		identity.NewManager(kv, log),
		referral.NewResolver(cfg.DefaultReferrer, cfg.DefaultInviteCode, log),
		chain, pipe, hooks, log)

	engine := milestone.NewEngine(kv, srv.Stats().Snapshot, hooks,
		cfg.MilestoneThresholds, cfg.MilestoneInterval, log)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("ingest listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown incomplete", zap.Error(err))
		}
		// Let in-flight deliveries and webhooks finish before the store closes.
		pipe.Wait()
		hooks.Wait()
		return nil
	})
	return g.Wait()
}

// openKV selects the state store: Redis when configured, otherwise a file
// store under the state directory.
func openKV(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.KV, func(), error) {
	if cfg.RedisHost != "" {
		port := cfg.RedisPort
		if port == "" {
			port = "6379"
		}
		kv, err := store.NewRedisKV(ctx, store.RedisOptions{
			Addr:      cfg.RedisHost + ":" + port,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.Namespace,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("state store: redis", zap.String("host", cfg.RedisHost))
		return kv, func() { _ = kv.Close() }, nil
	}

	kv, err := store.OpenFileKV(cfg.StateDir, cfg.Namespace)
	if err != nil {
		return nil, nil, err
	}
	log.Info("state store: file", zap.String("dir", cfg.StateDir))
	return kv, func() {}, nil
}
