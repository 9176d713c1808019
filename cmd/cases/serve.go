package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/damnfork/cases/internal/analytics"
	"github.com/damnfork/cases/internal/auth/apikey"
	"github.com/damnfork/cases/internal/auth/ratelimit"
	"github.com/damnfork/cases/internal/gateway/router"
	"github.com/damnfork/cases/internal/searcher/cache"
	"github.com/damnfork/cases/internal/searcher/handler"
	"github.com/damnfork/cases/internal/searcher/service"
	"github.com/damnfork/cases/pkg/config"
	"github.com/damnfork/cases/pkg/health"
	"github.com/damnfork/cases/pkg/kafka"
	"github.com/damnfork/cases/pkg/metrics"
	"github.com/damnfork/cases/pkg/postgres"
	pkgredis "github.com/damnfork/cases/pkg/redis"
	"github.com/damnfork/cases/pkg/resilience"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the search API over HTTP",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, closeLog, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting case search service",
		"addr", cfg.Server.Addr,
		"index", cfg.Index.Path,
		"store", cfg.Store.Path,
	)

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	checker := health.NewChecker()
	checker.Register("store", health.Required(b.store.Ping))
	checker.Register("index", health.Required(b.index.Ping))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}
	opts := []service.Option{service.WithMetrics(m)}

	if cfg.Redis.Enabled {
		var redisClient *pkgredis.Client
		err := resilience.Retry(ctx, "redis connect", resilience.DefaultRetry, func(ctx context.Context) error {
			var err error
			redisClient, err = pkgredis.NewClient(cfg.Redis)
			return err
		})
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			opts = append(opts, service.WithCache(cache.New(
				cache.Guard(redisClient, resilience.NewBreaker("redis", resilience.BreakerConfig{})),
				cfg.Redis.CacheTTL,
			)))
			checker.Register("redis", health.Optional(redisClient.Ping))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		collector := analytics.NewCollector(producer, cfg.Kafka.EventBufferSize)
		collector.Start()
		// Close order matters: drain the collector before the writer goes away.
		defer producer.Close()
		defer collector.Close()
		opts = append(opts, service.WithTracker(collector))
	}

	dir := apikey.FromConfig(cfg.RateLimit)
	if cfg.Postgres.Enabled {
		var db *postgres.Client
		err := resilience.Retry(ctx, "postgres connect", resilience.DefaultRetry, func(ctx context.Context) error {
			var err error
			db, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return fmt.Errorf("connecting token directory: %w", err)
		}
		defer db.Close()
		n, err := apikey.NewRepository(db).LoadInto(ctx, dir)
		if err != nil {
			return err
		}
		checker.Register("postgres", health.Optional(db.Ping))
		slog.Info("api tokens loaded from postgres", "count", n)
	}
	slog.Info("token directory ready", "tokens", dir.Len(), "default_quota", cfg.RateLimit.DefaultQuota)

	svc := b.service(cfg, opts...)
	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: router.New(router.Deps{
			Handler:        handler.New(svc),
			Directory:      dir,
			Limiters:       ratelimit.NewRegistry(cfg.RateLimit.Window),
			Health:         checker,
			Metrics:        m,
			MetricsPath:    cfg.Metrics.Path,
			TokenHeader:    cfg.RateLimit.TokenHeader,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("case search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	slog.Info("case search service stopped")
	return nil
}
