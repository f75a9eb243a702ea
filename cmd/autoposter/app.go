package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/news"
	"github.com/mohammad-safakhou/autoposter/internal/objectstore"
	"github.com/mohammad-safakhou/autoposter/internal/server"
	"github.com/mohammad-safakhou/autoposter/internal/store"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

// app holds the wired runtime shared by serve and run.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	tele     *telemetry.Telemetry
	store    *store.Store
	rdb      *redis.Client
	runner   *server.Runner

	shutdownTracing telemetry.ShutdownFunc
}

func loadApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	level := cfg.General.LogLevel
	if cfg.General.Debug {
		level = "debug"
	}
	logger := logging.NewLogger(level, cfg.General.LogFormat)

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.tele = telemetry.NewTelemetry(a.registry)

	a.shutdownTracing, err = telemetry.SetupTracing(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		a.close()
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, timeoutOr(cfg.Storage.Postgres.Timeout, 10*time.Second))
	a.store, err = store.NewWithDSN(pctx, dsn)
	cancel()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	var lock *server.RedisLock
	if cfg.Storage.Redis.Enabled() {
		rc := cfg.Storage.Redis
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(rc.Host, rc.Port),
			Password: rc.Password,
			DB:       rc.DB,
		})
		rctx, cancel := context.WithTimeout(ctx, timeoutOr(rc.Timeout, 5*time.Second))
		err := a.rdb.Ping(rctx).Err()
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis connection failed (%s:%s): %w", rc.Host, rc.Port, err)
		}
		lock = server.NewRedisLock(a.rdb, cfg.Server.LockTTL)
	}

	deps := workflow.Deps{
		Model:     gateway.NewClient(cfg.LLM, a.store, a.tele, logger),
		Poster:    linkedin.NewClient(cfg.LinkedIn),
		Posts:     a.store,
		Telemetry: a.tele,
		Logger:    logger,
	}
	reddit := news.NewReddit(cfg.Sources.Reddit)
	deps.Tools = news.NewToolbox(reddit, news.NewGNews(cfg.Sources.GNews), logger)
	deps.Topics = reddit

	uploader, err := objectstore.NewUploader(ctx, cfg.Storage.S3, logger)
	switch {
	case errors.Is(err, objectstore.ErrNotConfigured):
		logger.Info("object storage not configured; generated images are spooled locally")
	case err != nil:
		a.close()
		return nil, err
	default:
		deps.Images = uploader
		deps.TrustedImageHost = uploader.Host()
	}

	orch := workflow.NewOrchestrator(cfg.Workflow, deps)
	a.runner = server.NewRunner(orch, a.store, lock, logger)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.WithError(err).Warn("tracing shutdown")
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
