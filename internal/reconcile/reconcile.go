// Package reconcile synchronizes partition metadata from a staging table to
// its target as a full replace: every partition under the target is deleted,
// then the staging set is re-created under the target's identity. Partition
// sets between generations may differ arbitrarily, so a diff would cost the
// same enumeration as the full scan without the simplicity.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/lakeshift/lakeshift/internal/catalog"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
)

// Config holds the reconciler's dependencies and batch tuning.
type Config struct {
	// Catalog is the metadata service both tables live in.
	Catalog catalog.Catalog

	// Logger for progress reporting. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock abstracts time for testing. Defaults to the real clock.
	Clock clockwork.Clock

	// DeleteBatchSize caps the tuples per delete call. Defaults to the
	// catalog maximum of 25.
	DeleteBatchSize int

	// CreateBatchSize caps the partitions per create call. Defaults to
	// the catalog maximum of 100.
	CreateBatchSize int

	// Fanout bounds how many batch calls run concurrently within one
	// phase. Defaults to 1 (sequential). Purely a throughput knob;
	// correctness does not depend on it.
	Fanout int
}

// Validate fills defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.Catalog == nil {
		return errors.New("catalog is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.DeleteBatchSize <= 0 {
		c.DeleteBatchSize = catalog.MaxBatchDelete
	}
	if c.DeleteBatchSize > catalog.MaxBatchDelete {
		return fmt.Errorf("delete batch size %d exceeds catalog maximum %d", c.DeleteBatchSize, catalog.MaxBatchDelete)
	}
	if c.CreateBatchSize <= 0 {
		c.CreateBatchSize = catalog.MaxBatchCreate
	}
	if c.CreateBatchSize > catalog.MaxBatchCreate {
		return fmt.Errorf("create batch size %d exceeds catalog maximum %d", c.CreateBatchSize, catalog.MaxBatchCreate)
	}
	if c.Fanout <= 0 {
		c.Fanout = 1
	}
	return nil
}

// Report summarizes one reconciliation pass.
type Report struct {
	Source catalog.TableRef
	Target catalog.TableRef

	PartitionsDeleted int
	PartitionsCreated int
	DeleteBatches     int
	CreateBatches     int

	StartedAt time.Time
	Duration  time.Duration
}

// Reconciler performs the replace. One Reconciler is safe for sequential
// reuse across swaps; a single pass must not run concurrently with another
// pass over the same target.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger
	pool   pond.ResultPool[int]
}

// New creates a Reconciler from the given configuration.
func New(cfg Config) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "reconciler"),
		pool:   pond.NewResultPool[int](cfg.Fanout),
	}, nil
}

// Reconcile replaces target's partition set with source's. The returned
// Report is valid even when err is non-nil: it carries the progress made
// before the failure, which the orchestrator reports to the operator.
//
// The delete phase completes before the create phase starts. A failure in
// either phase surfaces as a PARTIAL_RECONCILIATION error; partitions
// already deleted are not restored, because the target's storage rows are
// untouched and a re-run converges.
func (r *Reconciler) Reconcile(ctx context.Context, source, target catalog.TableRef) (*Report, error) {
	report := &Report{
		Source:    source,
		Target:    target,
		StartedAt: r.cfg.Clock.Now().UTC(),
	}
	defer func() {
		report.Duration = r.cfg.Clock.Since(report.StartedAt)
	}()

	r.logger.Info("reconciling partitions", "source", source.String(), "target", target.String())

	deleted, deleteBatches, err := r.clearTarget(ctx, target)
	report.PartitionsDeleted = deleted
	report.DeleteBatches = deleteBatches
	if err != nil {
		return report, err
	}

	created, createBatches, err := r.copyPartitions(ctx, source, target)
	report.PartitionsCreated = created
	report.CreateBatches = createBatches
	if err != nil {
		return report, err
	}

	r.logger.Info("reconciliation complete",
		"target", target.String(),
		"deleted", report.PartitionsDeleted,
		"created", report.PartitionsCreated)
	return report, nil
}

// clearTarget deletes every partition under target in bounded batches.
func (r *Reconciler) clearTarget(ctx context.Context, target catalog.TableRef) (int, int, error) {
	group := r.pool.NewGroupContext(ctx)
	batches := 0

	submit := func(batch [][]string) {
		batches++
		seq := batches
		n := len(batch)
		group.SubmitErr(func() (int, error) {
			if err := r.cfg.Catalog.BatchDeletePartitions(ctx, target.Database, target.Name, batch); err != nil {
				return 0, fmt.Errorf("delete batch %d: %w", seq, err)
			}
			return n, nil
		})
	}

	var enumErr error
	var chunk [][]string
	pager := r.cfg.Catalog.Partitions(target.Database, target.Name)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			enumErr = fmt.Errorf("enumerate target partitions: %w", err)
			break
		}
		for _, p := range page {
			chunk = append(chunk, p.Values)
			if len(chunk) == r.cfg.DeleteBatchSize {
				submit(chunk)
				chunk = nil
			}
		}
	}
	if enumErr == nil && len(chunk) > 0 {
		submit(chunk)
	}

	results, waitErr := group.Wait()
	deleted := 0
	for _, n := range results {
		deleted += n
	}

	if cause := firstError(enumErr, waitErr); cause != nil {
		return deleted, batches, lkerrors.NewReconcileError(
			fmt.Sprintf("partition delete on %s incomplete", target), cause,
		).WithDetails(map[string]interface{}{
			"target":  target.String(),
			"deleted": deleted,
			"batches": batches,
		})
	}
	return deleted, batches, nil
}

// copyPartitions re-homes every staging partition under the target identity.
// Source-owned fields (database, table, creation time) are stripped by the
// transform; each partition keeps its own storage location.
func (r *Reconciler) copyPartitions(ctx context.Context, source, target catalog.TableRef) (int, int, error) {
	group := r.pool.NewGroupContext(ctx)
	batches := 0

	submit := func(batch []catalog.PartitionInput) {
		batches++
		seq := batches
		n := len(batch)
		group.SubmitErr(func() (int, error) {
			if err := r.cfg.Catalog.BatchCreatePartitions(ctx, target.Database, target.Name, batch); err != nil {
				return 0, fmt.Errorf("create batch %d: %w", seq, err)
			}
			return n, nil
		})
	}

	var enumErr error
	var chunk []catalog.PartitionInput
	pager := r.cfg.Catalog.Partitions(source.Database, source.Name)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			enumErr = fmt.Errorf("enumerate staging partitions: %w", err)
			break
		}
		for _, p := range page {
			chunk = append(chunk, catalog.ToPartitionInput(p))
			if len(chunk) == r.cfg.CreateBatchSize {
				submit(chunk)
				chunk = nil
			}
		}
	}
	if enumErr == nil && len(chunk) > 0 {
		submit(chunk)
	}

	results, waitErr := group.Wait()
	created := 0
	for _, n := range results {
		created += n
	}

	if cause := firstError(enumErr, waitErr); cause != nil {
		return created, batches, lkerrors.NewReconcileError(
			fmt.Sprintf("partition copy %s -> %s incomplete", source, target), cause,
		).WithDetails(map[string]interface{}{
			"source":  source.String(),
			"target":  target.String(),
			"created": created,
			"batches": batches,
		})
	}
	return created, batches, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
