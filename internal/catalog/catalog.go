// Package catalog provides a typed client for the metadata catalog that
// tracks table and partition definitions. The production implementation
// talks to the AWS Glue Data Catalog; a SQLite-backed implementation and an
// in-memory implementation cover local development and tests. Every
// component receives a Catalog explicitly so the swap control flow can be
// driven against any of them.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

// Batch limits imposed by the catalog service. Callers submitting larger
// workloads must chunk; the client rejects oversized batches outright.
const (
	MaxBatchDelete = 25
	MaxBatchCreate = 100
)

var (
	// ErrTableNotFound is returned when a table does not exist. Absence is
	// a normal outcome for swap decisions and must stay distinguishable
	// from transport failures.
	ErrTableNotFound = errors.New("catalog: table not found")

	// ErrDatabaseNotFound is returned when a database does not exist.
	ErrDatabaseNotFound = errors.New("catalog: database not found")

	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errors.New("catalog: table already exists")

	// ErrBatchTooLarge is returned when a partition batch exceeds the
	// catalog's per-call limit.
	ErrBatchTooLarge = errors.New("catalog: batch exceeds catalog limit")
)

// PartitionPager iterates a table's partitions one page at a time, in the
// AWS SDK paginator style. The sequence is lazy, finite and forward-only;
// consumers must not assume all pages fit in memory.
type PartitionPager interface {
	HasMorePages() bool
	NextPage(ctx context.Context) ([]Partition, error)
}

// Catalog is the metadata catalog interface consumed by the swap pipeline.
//
// UpdateTable replaces the full table definition in one call; partial-field
// updates do not exist in this model. Batch partition calls are each
// all-or-nothing from the caller's perspective, but there is no atomicity
// across calls, and none between table and partition operations.
type Catalog interface {
	// GetDatabase returns the database definition, or ErrDatabaseNotFound.
	GetDatabase(ctx context.Context, name string) (*Database, error)

	// GetTable returns the table definition, or ErrTableNotFound if the
	// table does not exist. Transport failures are returned as distinct
	// errors and never collapse into ErrTableNotFound.
	GetTable(ctx context.Context, database, name string) (*Table, error)

	// CreateTable registers a new table, or ErrTableExists.
	CreateTable(ctx context.Context, database string, input TableInput) error

	// UpdateTable replaces the full definition of an existing table.
	UpdateTable(ctx context.Context, database string, input TableInput) error

	// DeleteTable removes a table and its partitions, or ErrTableNotFound.
	DeleteTable(ctx context.Context, database, name string) error

	// ListTables returns the tables in a database whose names start with
	// prefix. An empty prefix lists the whole database.
	ListTables(ctx context.Context, database, prefix string) ([]*Table, error)

	// Partitions returns a pager over the table's partitions.
	Partitions(database, table string) PartitionPager

	// BatchCreatePartitions registers up to MaxBatchCreate partitions in
	// one call. Entries that already exist are left in place and counted
	// as success so that a reconciliation re-run converges.
	BatchCreatePartitions(ctx context.Context, database, table string, parts []PartitionInput) error

	// BatchDeletePartitions removes up to MaxBatchDelete partitions by
	// value tuple in one call. Entries that are already gone count as
	// success.
	BatchDeletePartitions(ctx context.Context, database, table string, values [][]string) error

	// Close releases any resources held by the client.
	Close() error
}

// checkBatch validates a batch size against a per-call limit.
func checkBatch(op string, n, limit int) error {
	if n > limit {
		return fmt.Errorf("%w: %s batch of %d exceeds %d", ErrBatchTooLarge, op, n, limit)
	}
	return nil
}
