package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeshift/lakeshift/internal/catalog"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
)

// spyCatalog wraps a real catalog, records batch calls, and can fail a
// specific batch by ordinal (1-based, 0 means never fail).
type spyCatalog struct {
	catalog.Catalog

	mu            sync.Mutex
	deleteBatches []int
	createBatches []int
	failDeleteAt  int
	failCreateAt  int
}

func (s *spyCatalog) BatchDeletePartitions(ctx context.Context, database, table string, values [][]string) error {
	s.mu.Lock()
	s.deleteBatches = append(s.deleteBatches, len(values))
	ordinal := len(s.deleteBatches)
	s.mu.Unlock()
	if s.failDeleteAt != 0 && ordinal == s.failDeleteAt {
		return fmt.Errorf("catalog unavailable")
	}
	return s.Catalog.BatchDeletePartitions(ctx, database, table, values)
}

func (s *spyCatalog) BatchCreatePartitions(ctx context.Context, database, table string, parts []catalog.PartitionInput) error {
	s.mu.Lock()
	s.createBatches = append(s.createBatches, len(parts))
	ordinal := len(s.createBatches)
	s.mu.Unlock()
	if s.failCreateAt != 0 && ordinal == s.failCreateAt {
		return fmt.Errorf("catalog unavailable")
	}
	return s.Catalog.BatchCreatePartitions(ctx, database, table, parts)
}

// seedTable creates a table and n partitions with distinct date values.
func seedTable(t *testing.T, cat *catalog.Memory, db, table string, n int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, cat.CreateDatabase(ctx, catalog.Database{Name: db}))
	require.NoError(t, cat.CreateTable(ctx, db, catalog.TableInput{
		Name:          table,
		PartitionKeys: []catalog.Column{{Name: "dt", Type: "string"}},
		Storage: catalog.StorageDescriptor{
			Location: fmt.Sprintf("s3://lake/%s/%s/", db, table),
		},
	}))

	var batch []catalog.PartitionInput
	flush := func() {
		if len(batch) == 0 {
			return
		}
		require.NoError(t, cat.BatchCreatePartitions(ctx, db, table, batch))
		batch = nil
	}
	for i := 0; i < n; i++ {
		batch = append(batch, catalog.PartitionInput{
			Values: []string{fmt.Sprintf("2024-01-%03d", i+1)},
			Storage: catalog.StorageDescriptor{
				Location: fmt.Sprintf("s3://lake/%s/%s/dt=2024-01-%03d", db, table, i+1),
			},
		})
		if len(batch) == catalog.MaxBatchCreate {
			flush()
		}
	}
	flush()
}

// partitionValues collects every partition value tuple of a table, sorted.
func partitionValues(t *testing.T, cat catalog.Catalog, db, table string) []string {
	t.Helper()
	var values []string
	pager := cat.Partitions(db, table)
	for pager.HasMorePages() {
		page, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		for _, p := range page {
			values = append(values, catalog.ValueKey(p.Values))
		}
	}
	sort.Strings(values)
	return values
}

func TestReconcile_ReplacesPartitionSet(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()

	// Target carries the previous generation's 12 partitions, staging the
	// next generation's 9. The two sets overlap only partially.
	seedTable(t, mem, "analytics", "events", 12)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 9)

	r, err := New(Config{Catalog: mem})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.NoError(t, err)

	assert.Equal(t, 12, report.PartitionsDeleted)
	assert.Equal(t, 9, report.PartitionsCreated)
	assert.Equal(t, 1, report.DeleteBatches)
	assert.Equal(t, 1, report.CreateBatches)

	// The target's partition set is now exactly the staging set.
	want := partitionValues(t, mem, "analytics", "events_version_tmp_202401150830")
	got := partitionValues(t, mem, "analytics", "events")
	assert.Equal(t, want, got)
	assert.Len(t, got, 9)
}

func TestReconcile_CreatedPartitionsKeepTheirLocations(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()

	seedTable(t, mem, "analytics", "events", 0)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 3)

	r, err := New(Config{Catalog: mem})
	require.NoError(t, err)

	_, err = r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.NoError(t, err)

	// Re-homed partitions must point at the staging table's directories
	// and take on the target's identity.
	pager := mem.Partitions("analytics", "events")
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		require.NoError(t, err)
		for _, p := range page {
			assert.Equal(t, "analytics", p.Database)
			assert.Equal(t, "events", p.Table)
			assert.Contains(t, p.Storage.Location, "events_version_tmp_202401150830/dt=")
		}
	}
}

func TestReconcile_BatchSizesBounded(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()
	spy := &spyCatalog{Catalog: mem}

	seedTable(t, mem, "analytics", "events", 12)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 9)

	r, err := New(Config{Catalog: spy, DeleteBatchSize: 5, CreateBatchSize: 7})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5, 2}, spy.deleteBatches)
	assert.Equal(t, []int{7, 2}, spy.createBatches)
	assert.Equal(t, 3, report.DeleteBatches)
	assert.Equal(t, 2, report.CreateBatches)
}

func TestReconcile_AboveCatalogBatchCaps(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()

	// 140 partitions on both sides exceeds the create cap of 100 and the
	// delete cap of 25, forcing multiple calls per phase at the defaults.
	seedTable(t, mem, "analytics", "events", 140)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 140)

	r, err := New(Config{Catalog: mem})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.NoError(t, err)

	assert.Equal(t, 140, report.PartitionsDeleted)
	assert.Equal(t, 140, report.PartitionsCreated)
	assert.Equal(t, 6, report.DeleteBatches)
	assert.Equal(t, 2, report.CreateBatches)
	assert.Len(t, partitionValues(t, mem, "analytics", "events"), 140)
}

func TestReconcile_DeleteBatchFailure(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()
	spy := &spyCatalog{Catalog: mem, failDeleteAt: 2}

	seedTable(t, mem, "analytics", "events", 12)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 9)

	r, err := New(Config{Catalog: spy, DeleteBatchSize: 5})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.Error(t, err)
	assert.Equal(t, lkerrors.CodePartialReconciliation, lkerrors.GetCode(err))

	// The create phase must never start after a failed delete phase.
	assert.Empty(t, spy.createBatches)
	assert.Equal(t, 0, report.PartitionsCreated)
	assert.Equal(t, 0, report.CreateBatches)
}

func TestReconcile_CreateBatchFailure(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()
	spy := &spyCatalog{Catalog: mem, failCreateAt: 1}

	seedTable(t, mem, "analytics", "events", 12)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 9)

	r, err := New(Config{Catalog: spy})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.Error(t, err)
	assert.Equal(t, lkerrors.CodePartialReconciliation, lkerrors.GetCode(err))

	// The delete phase had already completed in full.
	assert.Equal(t, 12, report.PartitionsDeleted)
	assert.Equal(t, 0, report.PartitionsCreated)
}

func TestReconcile_Fanout(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()
	spy := &spyCatalog{Catalog: mem}

	seedTable(t, mem, "analytics", "events", 60)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 140)

	r, err := New(Config{Catalog: spy, Fanout: 4})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.NoError(t, err)

	assert.Equal(t, 60, report.PartitionsDeleted)
	assert.Equal(t, 140, report.PartitionsCreated)
	assert.Equal(t, 3, report.DeleteBatches)
	assert.Equal(t, 2, report.CreateBatches)
	assert.Equal(t, 140, mem.PartitionCount("analytics", "events"))
}

func TestReconcile_EmptyStaging(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemory()

	seedTable(t, mem, "analytics", "events", 3)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 0)

	r, err := New(Config{Catalog: mem})
	require.NoError(t, err)

	report, err := r.Reconcile(ctx,
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.NoError(t, err)

	assert.Equal(t, 3, report.PartitionsDeleted)
	assert.Equal(t, 0, report.PartitionsCreated)
	assert.Equal(t, 0, mem.PartitionCount("analytics", "events"))
}

func TestConfig_Validate(t *testing.T) {
	t.Run("missing catalog", func(t *testing.T) {
		cfg := Config{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("defaults", func(t *testing.T) {
		cfg := Config{Catalog: catalog.NewMemory()}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, catalog.MaxBatchDelete, cfg.DeleteBatchSize)
		assert.Equal(t, catalog.MaxBatchCreate, cfg.CreateBatchSize)
		assert.Equal(t, 1, cfg.Fanout)
		assert.NotNil(t, cfg.Logger)
		assert.NotNil(t, cfg.Clock)
	})

	t.Run("delete batch over catalog maximum", func(t *testing.T) {
		cfg := Config{Catalog: catalog.NewMemory(), DeleteBatchSize: 26}
		assert.Error(t, cfg.Validate())
	})

	t.Run("create batch over catalog maximum", func(t *testing.T) {
		cfg := Config{Catalog: catalog.NewMemory(), CreateBatchSize: 101}
		assert.Error(t, cfg.Validate())
	})
}

func TestReconcile_ErrorTaxonomy(t *testing.T) {
	mem := catalog.NewMemory()
	spy := &spyCatalog{Catalog: mem, failDeleteAt: 1}

	seedTable(t, mem, "analytics", "events", 5)
	seedTable(t, mem, "analytics", "events_version_tmp_202401150830", 5)

	r, err := New(Config{Catalog: spy})
	require.NoError(t, err)

	_, err = r.Reconcile(context.Background(),
		catalog.TableRef{Database: "analytics", Name: "events_version_tmp_202401150830"},
		catalog.TableRef{Database: "analytics", Name: "events"})
	require.Error(t, err)

	var le *lkerrors.LakeshiftError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, lkerrors.ErrCategoryReconcile, le.Category)

	// A degraded partition index needs an operator before the next run.
	assert.False(t, lkerrors.IsRetryable(err))
}
