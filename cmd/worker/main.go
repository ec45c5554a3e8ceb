package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/openxui/panelsync/internal/config"
	"github.com/openxui/panelsync/internal/database"
	"github.com/openxui/panelsync/internal/importer"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/tmdb"
	"github.com/openxui/panelsync/internal/xtream"
	"github.com/openxui/panelsync/internal/xui"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting panelsync import worker",
		"poll_interval", cfg.WorkerPollInterval,
		"concurrency", cfg.WorkerConcurrency,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	jobStore := database.NewJobStore(db)
	integrationStore := database.NewIntegrationStore(db)

	registry := xui.NewRegistry(xui.PoolConfig{
		ConnMaxLifetime: cfg.XUIConnMaxLifetime,
		MaxIdleConns:    cfg.XUIConnMaxIdle,
		MaxOpenConns:    cfg.XUIConnMaxOpen,
	}, logger)
	defer registry.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Jobs left running by a dead worker go back to failed before we
	// start claiming new ones.
	if n, err := jobStore.ResetStale(ctx, cfg.StaleJobWindow); err != nil {
		logger.Error("reset stale jobs", "error", err)
	} else if n > 0 {
		logger.Warn("reset stale jobs", "count", n)
	}

	w := &worker{
		jobs:         jobStore,
		integrations: integrationStore,
		registry:     registry,
		log:          logger,
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.poll(ctx, cfg.WorkerPollInterval)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

type worker struct {
	jobs         *database.JobStore
	integrations *database.IntegrationStore
	registry     *xui.Registry
	log          *slog.Logger
}

// poll claims and runs jobs until the context is canceled.
func (w *worker) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := w.jobs.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error("claim job", "error", err)
			}
			continue
		}
		if job == nil {
			continue
		}

		w.run(ctx, job)
	}
}

func (w *worker) run(ctx context.Context, job *models.Job) {
	jlog := w.log.With("job_id", job.ID, "tenant_id", job.TenantID, "kind", job.Kind)
	jlog.Info("job claimed")

	if err := w.runImport(ctx, job, jlog); err != nil {
		jlog.Error("job failed", "error", err)
		return
	}
	jlog.Info("job done")
}

func (w *worker) runImport(ctx context.Context, job *models.Job, jlog *slog.Logger) error {
	integ, err := w.integrations.Get(ctx, job.TenantID)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("load integration: %w", err))
	}
	if integ == nil {
		return w.fail(ctx, job, fmt.Errorf("no integration configured for tenant %d", job.TenantID))
	}
	opts := integ.Options

	panelDB, err := w.registry.Get(ctx, job.TenantID, job.UserID, xui.Credentials{
		Host:     integ.DBHost,
		Port:     integ.DBPort,
		Database: integ.DBName,
		User:     integ.DBUser,
		Password: integ.DBPassword,
	})
	if err != nil {
		return w.fail(ctx, job, err)
	}

	source := xtream.NewClient(integ.XtreamBaseURL, integ.XtreamUsername, integ.XtreamPassword, xtream.Options{
		RetryEnabled:   opts.Retry.Enabled,
		MaxAttempts:    opts.Retry.MaxAttempts,
		BackoffSeconds: opts.Retry.BackoffSeconds,
		ThrottleMs:     opts.ThrottleMs,
		MaxParallel:    opts.MaxParallel,
	}, jlog, nil)

	var enricher importer.Enricher
	if opts.TMDB.Enabled && opts.TMDB.APIKey != "" {
		client := tmdb.NewClient(opts.TMDB.APIKey, opts.TMDB.Language)
		if err := client.LoadGenres(ctx); err != nil {
			jlog.Warn("load tmdb genres", "error", err)
		}
		enricher = client
	}

	imp := importer.New(
		source,
		xui.NewRepository(panelDB, jlog),
		xui.NewNormalizer(panelDB),
		w.jobs,
		enricher,
		opts,
		jlog,
	)

	switch job.Kind {
	case models.JobKindMovies:
		return imp.RunMovies(ctx, job.ID)
	case models.JobKindSeries:
		return imp.RunSeries(ctx, job.ID)
	default:
		return w.fail(ctx, job, fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

// fail marks the job failed before the importer had a chance to.
func (w *worker) fail(ctx context.Context, job *models.Job, cause error) error {
	if err := w.jobs.Fail(ctx, job.ID, importer.Counters{Errors: 1}, cause.Error()); err != nil {
		w.log.Error("mark job failed", "job_id", job.ID, "error", err)
	}
	return cause
}
