// Package app wires configuration into the Lakeshift components and runs
// them in one of two modes: a single swap (run) or a resident HTTP API
// with an optional cron schedule (serve).
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/lakeshift/lakeshift/internal/api/http"
	"github.com/lakeshift/lakeshift/internal/catalog"
	"github.com/lakeshift/lakeshift/internal/config"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
	"github.com/lakeshift/lakeshift/internal/processor"
	"github.com/lakeshift/lakeshift/internal/reconcile"
	"github.com/lakeshift/lakeshift/internal/server"
	"github.com/lakeshift/lakeshift/internal/storage"
	"github.com/lakeshift/lakeshift/internal/swap"
)

// App holds the assembled components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clockwork.Clock

	catalog catalog.Catalog
	store   storage.ObjectStorage
	orch    *swap.Orchestrator

	mu       sync.Mutex
	inflight map[string]bool
	httpSrv  *server.Graceful
}

// New validates cfg, creates the configured catalog and storage backends,
// and assembles the swap pipeline. The caller owns Close.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		inflight: make(map[string]bool),
	}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// init creates the catalog and storage backends per the configuration and
// wires the processor, reconciler, and orchestrator on top of them.
func (a *App) init() error {
	ctx := context.Background()

	switch a.cfg.Catalog.Type {
	case "glue":
		cat, err := catalog.NewGlue(ctx, catalog.GlueConfig{
			Region:   a.cfg.Catalog.Region,
			Endpoint: a.cfg.Catalog.Endpoint,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create glue catalog: %w", err)
		}
		a.catalog = cat
	case "sqlite":
		cat, err := catalog.NewSQLite(a.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open catalog database: %w", err)
		}
		a.catalog = cat
	case "memory":
		a.catalog = catalog.NewMemory()
	}

	switch a.cfg.Storage.Type {
	case "s3":
		scfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			scfg.Region = a.cfg.Storage.S3.Region
		}
		scfg.Endpoint = a.cfg.Storage.S3.Endpoint
		scfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		st, err := storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, scfg)
		if err != nil {
			return fmt.Errorf("failed to create s3 storage: %w", err)
		}
		a.store = st
	case "local":
		st, err := storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to create local storage: %w", err)
		}
		a.store = st
	}

	proc, err := processor.NewCopy(processor.Config{
		Catalog:        a.catalog,
		Storage:        a.store,
		WorkDir:        a.cfg.Swap.WorkDir,
		SampleFraction: a.cfg.Swap.SampleFraction,
		Fanout:         a.cfg.Swap.Fanout,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	rec, err := reconcile.New(reconcile.Config{
		Catalog:         a.catalog,
		Logger:          a.logger,
		DeleteBatchSize: a.cfg.Swap.DeleteBatchSize,
		CreateBatchSize: a.cfg.Swap.CreateBatchSize,
		Fanout:          a.cfg.Swap.Fanout,
	})
	if err != nil {
		return err
	}

	orch, err := swap.New(swap.Config{
		Catalog:           a.catalog,
		Storage:           a.store,
		Processor:         proc,
		Reconciler:        rec,
		StaleStagingAfter: a.cfg.Swap.StaleStagingAfter,
		Logger:            a.logger,
		Clock:             a.clock,
	})
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// Close releases the catalog connection.
func (a *App) Close() error {
	if a.catalog != nil {
		return a.catalog.Close()
	}
	return nil
}

// Job builds the configured swap job. An unnamed job is named after its
// target table.
func (a *App) Job() swap.Job {
	j := swap.Job{
		Name:           a.cfg.Job.Name,
		SourceDatabase: a.cfg.Job.SourceDatabase,
		SourceTable:    a.cfg.Job.SourceTable,
		OutputDatabase: a.cfg.Job.OutputDatabase,
		OutputTable:    a.cfg.Job.OutputTable,
		PartitionKeys:  swap.ParsePartitionKeys(a.cfg.Job.PartitionKeys),
	}
	if j.Name == "" {
		j.Name = j.OutputDatabase + "." + j.OutputTable
	}
	return j
}

// Swap runs one job. A job whose target table already has a swap in flight
// is rejected with SWAP_IN_FLIGHT: the orchestrator is not safe for
// concurrent swaps of the same table, so the gate is held for the whole run.
func (a *App) Swap(ctx context.Context, job swap.Job) (*swap.Result, error) {
	key := job.Target().String()
	if !a.acquire(key) {
		return nil, lkerrors.NewValidationError(lkerrors.CodeSwapInFlight,
			fmt.Sprintf("a swap for %s is already in flight", key))
	}
	defer a.release(key)

	return a.orch.Run(ctx, job)
}

// RunOnce executes the configured swap once and returns its result.
func (a *App) RunOnce(ctx context.Context) (*swap.Result, error) {
	return a.Swap(ctx, a.Job())
}

func (a *App) acquire(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight[key] {
		return false
	}
	a.inflight[key] = true
	return true
}

func (a *App) release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, key)
}

// Serve runs the HTTP API, and the cron schedule when one is configured,
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	var sched *scheduler
	if a.cfg.Server.Schedule != "" {
		s, err := newSchedule(a.cfg.Server.Schedule)
		if err != nil {
			return err
		}
		sched = &scheduler{
			schedule: s,
			clock:    a.clock,
			logger:   a.logger,
			run: func(ctx context.Context) {
				if _, err := a.Swap(ctx, a.Job()); err != nil {
					a.logger.Error("scheduled swap failed", "error", err)
				}
			},
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/swaps", httpapi.DefaultMiddleware(a.logger)(httpapi.NewSwapHandler(a, a.logger)))
	mux.HandleFunc("/healthz", a.healthHandler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
	graceful := server.NewGraceful(srv, server.DefaultShutdownTimeout, a.logger)

	a.mu.Lock()
	a.httpSrv = graceful
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return graceful.Run(ctx)
	})
	if sched != nil {
		a.logger.Info("schedule armed", "cron", a.cfg.Server.Schedule)
		g.Go(func() error {
			return sched.loop(ctx)
		})
	}
	return g.Wait()
}

// Addr returns the bound HTTP listen address once Serve is up. Useful when
// the server was configured with port 0.
func (a *App) Addr() string {
	a.mu.Lock()
	srv := a.httpSrv
	a.mu.Unlock()
	if srv == nil {
		return ""
	}
	return srv.Addr()
}

func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		inflight := len(a.inflight)
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"mode":     string(a.cfg.Mode),
			"inflight": inflight,
		})
	}
}
