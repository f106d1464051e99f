// Package swap orchestrates versioned table overwrites. A run materializes
// the source table's rows at the output table's next generation location,
// reconciles the partition set, and flips the table definition to the new
// location in a single update, so readers move between complete generations
// and never observe a half-written table.
//
// The flow is a state progression: START branches to FIRST_WRITE when the
// output table does not exist yet, or OVERWRITE when it does; OVERWRITE runs
// through RECONCILE, FLIP and CLEANUP to DONE. Any step can fall to FAILED.
// A failed overwrite leaves the live table untouched and retains the staging
// table for diagnosis; only CLEANUP failures are non-fatal, reported on the
// Result instead.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lakeshift/lakeshift/internal/catalog"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
	"github.com/lakeshift/lakeshift/internal/generation"
	"github.com/lakeshift/lakeshift/internal/metrics"
	"github.com/lakeshift/lakeshift/internal/processor"
	"github.com/lakeshift/lakeshift/internal/reconcile"
	"github.com/lakeshift/lakeshift/internal/storage"
)

// Phase names a step of the swap flow. Result.Phase reports where a run
// ended up; intermediate phases appear in logs.
type Phase string

const (
	PhaseStart      Phase = "START"
	PhaseFirstWrite Phase = "FIRST_WRITE"
	PhaseOverwrite  Phase = "OVERWRITE"
	PhaseReconcile  Phase = "RECONCILE"
	PhaseFlip       Phase = "FLIP"
	PhaseCleanup    Phase = "CLEANUP"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// DefaultStaleStagingAfter is how old an abandoned staging table must be
// before the pre-run sweep drops it. Younger leftovers may belong to an
// operator still diagnosing a failed run.
const DefaultStaleStagingAfter = 24 * time.Hour

// Config wires an Orchestrator.
type Config struct {
	Catalog   catalog.Catalog
	Storage   storage.ObjectStorage
	Processor processor.Processor

	// Reconciler overrides the partition reconciler. Nil builds one from
	// Catalog with default batch sizes and Fanout.
	Reconciler *reconcile.Reconciler

	// Fanout bounds concurrent partition batch calls when the reconciler
	// is built internally. Zero means sequential.
	Fanout int

	// StaleStagingAfter is the retention for abandoned staging tables.
	// Zero selects DefaultStaleStagingAfter.
	StaleStagingAfter time.Duration

	Logger *slog.Logger
	Clock  clockwork.Clock
}

// Validate fills defaults and rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Catalog == nil {
		return errors.New("swap: catalog is required")
	}
	if c.Storage == nil {
		return errors.New("swap: storage is required")
	}
	if c.Processor == nil {
		return errors.New("swap: processor is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Fanout <= 0 {
		c.Fanout = 1
	}
	if c.StaleStagingAfter <= 0 {
		c.StaleStagingAfter = DefaultStaleStagingAfter
	}
	return nil
}

// Result reports what a run did. It is populated as the run progresses and
// is valid even when Run returns an error, so callers can see how far a
// failed run got and what it left behind.
type Result struct {
	Job   Job
	Phase Phase

	// FirstWrite is true when the output table did not exist and the run
	// created generation 0 directly, with no staging or flip.
	FirstWrite bool

	// Generation is the generation number this run published, or was
	// trying to publish when it failed.
	Generation int

	// Location is the storage location of that generation.
	Location string

	// StagingTable is the staging table name for an overwrite run. On a
	// failed overwrite the table may still exist, holding the materialized
	// data for diagnosis.
	StagingTable string

	// PartitionsPublished counts partitions registered on the live table.
	PartitionsPublished int

	// CleanupFailed marks a successful run that left its staging table
	// behind because the final delete failed.
	CleanupFailed bool

	// StaleStagingDropped counts abandoned staging tables swept before
	// the run.
	StaleStagingDropped int

	Processor      *processor.Result
	Reconciliation *reconcile.Report

	StartedAt time.Time
	Duration  time.Duration
}

// Orchestrator runs swaps one at a time. Two concurrent swaps of the same
// output table corrupt each other's partition reconciliation, so callers
// must serialize runs per table; the serve mode enforces this per process
// and cross-process serialization belongs to whatever triggers the jobs.
type Orchestrator struct {
	cfg        Config
	logger     *slog.Logger
	reconciler *reconcile.Reconciler
}

// New builds an Orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rec := cfg.Reconciler
	if rec == nil {
		var err error
		rec, err = reconcile.New(reconcile.Config{
			Catalog: cfg.Catalog,
			Logger:  cfg.Logger,
			Clock:   cfg.Clock,
			Fanout:  cfg.Fanout,
		})
		if err != nil {
			return nil, err
		}
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "swap"),
		reconciler: rec,
	}, nil
}

// Run executes one swap job. The returned Result is valid even when err is
// non-nil. On failure the live table is unchanged unless the error category
// is CLEANUP, which never occurs here: cleanup failures are non-fatal and
// surface as Result.CleanupFailed on a nil-error return.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Result, error) {
	res := &Result{
		Job:       job,
		Phase:     PhaseStart,
		StartedAt: o.cfg.Clock.Now().UTC(),
	}
	metrics.SwapsInflight.Inc()
	err := o.run(ctx, job, res)
	metrics.SwapsInflight.Dec()
	res.Duration = o.cfg.Clock.Since(res.StartedAt)

	mode := "overwrite"
	if res.FirstWrite {
		mode = "first_write"
	}
	if err != nil {
		failedIn := res.Phase
		res.Phase = PhaseFailed
		metrics.SwapOutcomes.WithLabelValues("failure", mode).Inc()
		metrics.SwapDuration.Observe(res.Duration.Seconds())
		o.logger.Error("swap failed",
			"job", job.Name,
			"target", job.Target().String(),
			"phase", string(failedIn),
			"category", string(lkerrors.GetCategory(err)),
			"code", lkerrors.GetCode(err),
			"staging", res.StagingTable,
			"error", err)
		return res, err
	}

	res.Phase = PhaseDone
	metrics.SwapOutcomes.WithLabelValues("success", mode).Inc()
	metrics.SwapDuration.Observe(res.Duration.Seconds())
	o.logger.Info("swap complete",
		"job", job.Name,
		"target", job.Target().String(),
		"generation", res.Generation,
		"location", res.Location,
		"partitions", res.PartitionsPublished,
		"cleanup_failed", res.CleanupFailed,
		"duration", res.Duration.String())
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, job Job, res *Result) error {
	if err := job.Validate(); err != nil {
		return err
	}

	o.logger.Info("starting swap",
		"job", job.Name,
		"source", job.Source().String(),
		"target", job.Target().String())

	db, err := o.cfg.Catalog.GetDatabase(ctx, job.OutputDatabase)
	if err != nil {
		if errors.Is(err, catalog.ErrDatabaseNotFound) {
			return lkerrors.NewCatalogError(lkerrors.CodeDatabaseNotFound,
				fmt.Sprintf("output database %s not found", job.OutputDatabase), err)
		}
		return lkerrors.NewCatalogError(lkerrors.CodeRequestFailed,
			fmt.Sprintf("failed to read output database %s", job.OutputDatabase), err)
	}
	if db.LocationURI == "" {
		return lkerrors.NewValidationError(lkerrors.CodeInvalidConfig,
			fmt.Sprintf("output database %s has no location URI", job.OutputDatabase))
	}
	root := strings.TrimSuffix(db.LocationURI, "/") + "/" + job.OutputTable

	target, err := o.cfg.Catalog.GetTable(ctx, job.OutputDatabase, job.OutputTable)
	switch {
	case errors.Is(err, catalog.ErrTableNotFound):
		return o.firstWrite(ctx, job, res, root)
	case err != nil:
		// An unreachable catalog must never look like a missing table: a
		// first write against a live target would fork its history.
		return lkerrors.NewCatalogError(lkerrors.CodeRequestFailed,
			fmt.Sprintf("failed to look up target %s", job.Target()), err)
	}
	return o.overwrite(ctx, job, res, target)
}

// firstWrite creates generation 0 directly under the output table's name.
// There is nothing live to protect, so no staging table is involved.
func (o *Orchestrator) firstWrite(ctx context.Context, job Job, res *Result, root string) error {
	res.Phase = PhaseFirstWrite
	res.FirstWrite = true
	res.Generation = 0
	res.Location = generation.Initial(root)

	o.logger.Info("target absent, writing first generation",
		"target", job.Target().String(), "location", res.Location)

	if err := o.scrubLocation(ctx, res.Location); err != nil {
		return lkerrors.NewProcessorError(
			fmt.Sprintf("failed to scrub %s before first write", res.Location), err)
	}
	pres, err := o.materialize(ctx, job, job.OutputTable, res.Location)
	if err != nil {
		return err
	}
	res.Processor = pres
	res.PartitionsPublished = pres.Partitions
	return nil
}

// overwrite publishes the next generation behind a staging table and flips
// the live definition only after the data and partition set are complete.
func (o *Orchestrator) overwrite(ctx context.Context, job Job, res *Result, target *catalog.Table) error {
	res.Phase = PhaseOverwrite

	current := target.Location()
	gen, err := generation.Number(current)
	if err != nil {
		return err
	}
	next, err := generation.Next(current)
	if err != nil {
		return err
	}
	res.Generation = gen + 1
	res.Location = next

	staging := StagingName(job.OutputTable, o.cfg.Clock.Now())
	res.StagingTable = staging

	o.logger.Info("overwriting",
		"target", job.Target().String(),
		"current", current,
		"next", next,
		"staging", staging)

	dropped, err := o.sweepStaleStaging(ctx, job.OutputDatabase, job.OutputTable, staging)
	if err != nil {
		o.logger.Warn("stale staging sweep failed",
			"target", job.Target().String(), "error", err)
	}
	res.StaleStagingDropped = dropped
	if dropped > 0 {
		metrics.StaleStagingDropped.Add(float64(dropped))
	}

	if err := o.scrubLocation(ctx, next); err != nil {
		return lkerrors.NewProcessorError(
			fmt.Sprintf("failed to scrub %s before overwrite", next), err)
	}

	pres, err := o.materialize(ctx, job, staging, next)
	if err != nil {
		// The live table is untouched; drop whatever the processor
		// registered before it failed.
		if derr := o.deleteStagingTable(ctx, job.OutputDatabase, staging); derr != nil {
			o.logger.Warn("staging cleanup after materialization failure",
				"staging", staging, "error", derr)
		}
		return err
	}
	res.Processor = pres

	res.Phase = PhaseReconcile
	report, rerr := o.reconciler.Reconcile(ctx,
		catalog.TableRef{Database: job.OutputDatabase, Name: staging}, target.Ref())
	res.Reconciliation = report
	if report != nil {
		metrics.PartitionsDeleted.Add(float64(report.PartitionsDeleted))
		metrics.PartitionsCreated.Add(float64(report.PartitionsCreated))
	}
	if rerr != nil {
		o.logger.Error("reconciliation incomplete, staging retained",
			"staging", staging, "error", rerr)
		return rerr
	}
	res.PartitionsPublished = report.PartitionsCreated

	res.Phase = PhaseFlip
	if err := o.flip(ctx, job, target, staging, next); err != nil {
		o.logger.Error("flip failed, staging retained",
			"staging", staging, "error", err)
		return err
	}

	res.Phase = PhaseCleanup
	if err := o.deleteStagingTable(ctx, job.OutputDatabase, staging); err != nil {
		res.CleanupFailed = true
		metrics.CleanupFailures.Inc()
		o.logger.Warn("staging table left behind",
			"staging", staging, "error", err)
	}
	return nil
}

// flip repoints the live table at the new generation in a single update.
// The definition is taken from the staging table so schema changes made by
// the processor carry over; catalog-owned audit fields are dropped on the
// way through ToTableInput.
func (o *Orchestrator) flip(ctx context.Context, job Job, target *catalog.Table, staging, next string) error {
	st, err := o.cfg.Catalog.GetTable(ctx, job.OutputDatabase, staging)
	if err != nil {
		return lkerrors.NewFlipError(
			fmt.Sprintf("failed to read staging table %s.%s", job.OutputDatabase, staging), err)
	}
	input := catalog.ToTableInput(st, target.Name, next)
	if err := o.cfg.Catalog.UpdateTable(ctx, job.OutputDatabase, input); err != nil {
		return lkerrors.NewFlipError(
			fmt.Sprintf("failed to flip %s to %s", job.Target(), next), err)
	}
	o.logger.Info("flipped", "target", job.Target().String(), "location", next)
	return nil
}

// materialize runs the data processor and records its row counts.
func (o *Orchestrator) materialize(ctx context.Context, job Job, table, location string) (*processor.Result, error) {
	pres, err := o.cfg.Processor.Materialize(ctx, processor.Request{
		SourceDatabase: job.SourceDatabase,
		SourceTable:    job.SourceTable,
		Database:       job.OutputDatabase,
		Table:          table,
		Location:       location,
		PartitionKeys:  job.PartitionKeys,
	})
	if err != nil {
		return nil, err
	}
	metrics.RowsRead.Add(float64(pres.RowsRead))
	metrics.RowsWritten.Add(float64(pres.RowsWritten))
	return pres, nil
}
