package swap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lakeshift/lakeshift/internal/catalog"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
)

const (
	stagingInfix      = "_version_tmp_"
	stagingTimeLayout = "200601021504"
)

// StagingName derives the staging table name for an overwrite attempt.
// The minute-resolution timestamp keeps names unique across runs while
// letting SweepStaleStaging recover the creation time later.
func StagingName(table string, now time.Time) string {
	return table + stagingInfix + now.UTC().Format(stagingTimeLayout)
}

// StagingTime recovers the creation timestamp embedded in a staging table
// name. It reports false for names that do not belong to table's staging
// family, so unrelated tables sharing the prefix are never touched.
func StagingTime(table, name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, table+stagingInfix)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(stagingTimeLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// sweepStaleStaging drops staging tables abandoned by earlier runs. A table
// is stale once it is older than the configured retention, or when its name
// collides with the current attempt, which would otherwise make this run
// inherit a half-written table. Sweep failures are reported, not fatal.
func (o *Orchestrator) sweepStaleStaging(ctx context.Context, database, table, current string) (int, error) {
	tables, err := o.cfg.Catalog.ListTables(ctx, database, table+stagingInfix)
	if err != nil {
		return 0, err
	}
	now := o.cfg.Clock.Now().UTC()
	dropped := 0
	for _, t := range tables {
		ts, ok := StagingTime(table, t.Name)
		if !ok {
			continue
		}
		if t.Name != current && now.Sub(ts) < o.cfg.StaleStagingAfter {
			continue
		}
		if err := o.cfg.Catalog.DeleteTable(ctx, database, t.Name); err != nil && !errors.Is(err, catalog.ErrTableNotFound) {
			o.logger.Warn("failed to drop stale staging table",
				"table", database+"."+t.Name, "error", err)
			continue
		}
		o.logger.Info("dropped stale staging table",
			"table", database+"."+t.Name, "age", now.Sub(ts).String())
		dropped++
	}
	return dropped, nil
}

// scrubLocation deletes every object under a generation location. A failed
// run can leave partial data at the location this run is about to write,
// and readers must never see a mix of two attempts.
func (o *Orchestrator) scrubLocation(ctx context.Context, location string) error {
	key, err := o.cfg.Storage.KeyFor(location)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	objects, err := o.cfg.Storage.ListObjects(ctx, key)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := o.cfg.Storage.Delete(ctx, obj); err != nil {
			return err
		}
	}
	if len(objects) > 0 {
		o.logger.Info("scrubbed abandoned objects", "location", location, "objects", len(objects))
	}
	return nil
}

// deleteStagingTable removes a staging table, treating an already absent
// table as success. When the surrounding context has been cancelled the
// delete still runs: abandoning the staging table on cancellation would
// leave exactly the garbage the sweep exists to clean up.
func (o *Orchestrator) deleteStagingTable(ctx context.Context, database, staging string) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	err := o.cfg.Catalog.DeleteTable(ctx, database, staging)
	if err == nil || errors.Is(err, catalog.ErrTableNotFound) {
		return nil
	}
	return lkerrors.NewCleanupError("failed to delete staging table "+database+"."+staging, err)
}
