// Package main is the entrypoint for the publishq API server.
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
	"time"

	"github.com/kiranshivaraju/publishq/internal/api"
	"github.com/kiranshivaraju/publishq/internal/api/handler"
	mw "github.com/kiranshivaraju/publishq/internal/api/middleware"
	"github.com/kiranshivaraju/publishq/internal/assets"
	"github.com/kiranshivaraju/publishq/internal/cache"
	"github.com/kiranshivaraju/publishq/internal/config"
	"github.com/kiranshivaraju/publishq/internal/metrics"
	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/internal/platform/instagram"
	"github.com/kiranshivaraju/publishq/internal/platform/tiktok"
	"github.com/kiranshivaraju/publishq/internal/platform/youtube"
	"github.com/kiranshivaraju/publishq/internal/publish"
	"github.com/kiranshivaraju/publishq/internal/quota"
	"github.com/kiranshivaraju/publishq/internal/store"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "quota_timezone", cfg.Quota.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Orchestrator and its collaborators
	pgStore := store.NewPostgresStore(pool)
	tracker := quota.NewRedisTracker(redisCache.Client(), quotaLimits(cfg.Quota), quota.WithLocation(cfg.Quota.Location))
	registry := buildRegistry(cfg, pgStore, slog.Default())

	meters := metrics.NewProvider()
	defer func() {
		if err := meters.Shutdown(context.Background()); err != nil {
			slog.Warn("metrics shutdown failed", "error", err)
		}
	}()
	otel.SetMeterProvider(meters)

	orch := publish.New(pgStore, tracker, registry,
		publish.WithLogger(slog.Default()),
		publish.WithMetrics(metrics.New(meters)),
	)
	sweeper := publish.NewSweeper(orch, cfg.Jobs.SweepInterval, cfg.Jobs.StaleThreshold)

	// 6. Build router with dependencies
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(dependencies(cfg, pgStore, redisCache, orch, meters)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 7. Serve until a signal or a component fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := orch.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop drivers: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

func dependencies(cfg *config.Config, s store.Store, c cache.Cache, orch *publish.Orchestrator, meters handler.MetricsSource) api.Dependencies {
	keys := handler.NewKeys(s)
	return api.Dependencies{
		Auth:        mw.NewAuth(s),
		RateLimit:   mw.NewRateLimit(c, cfg.Server.RateLimitPerMinute),
		Idempotency: mw.NewIdempotency(c),

		HealthHandler:    handler.NewHealthHandler(s, c),
		PublishHandler:   handler.NewPublishHandler(orch),
		ListJobsHandler:  handler.NewListJobsHandler(orch),
		GetJobHandler:    handler.NewGetJobHandler(orch),
		JobEventsHandler: handler.NewJobEventsHandler(orch),
		RetryHandler:     handler.NewRetryHandler(orch),
		CancelHandler:    handler.NewCancelHandler(orch),
		QuotaHandler:     handler.NewQuotaHandler(orch),
		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
		MetricsHandler:   handler.NewMetricsHandler(meters),
	}
}

func quotaLimits(q config.QuotaConfig) quota.Limits {
	limits := quota.Limits{}
	for _, p := range models.Platforms {
		limits[p] = q.Limit(string(p))
	}
	return limits
}

// buildRegistry wires one adapter per platform.
func buildRegistry(cfg *config.Config, s store.Store, logger *slog.Logger) *platform.Registry {
	if logger == nil {
		logger = slog.Default()
	}
	yt := youtube.NewClient(cfg.YouTube.APIBaseURL, cfg.YouTube.UploadBaseURL,
		youtube.WithRateLimit(cfg.YouTube.RequestsPerSecond, 1),
		youtube.WithChunkRetries(cfg.YouTube.ChunkRetries),
	)
	return platform.NewRegistry(
		youtube.NewAdapter(yt, assets.NewLocationOpener(cfg.Assets.FetchTimeout), youtube.StoreTokenSource{Store: s},
			youtube.Config{
				ChunkSize:      cfg.YouTube.ChunkSize,
				PollInterval:   cfg.YouTube.ProcessingPollInterval,
				StaleThreshold: cfg.YouTube.StaleThreshold,
			}, logger.With("platform", "youtube")),
		tiktok.New(),
		instagram.New(),
	)
}
