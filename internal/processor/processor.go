// Package processor materializes a source table's rows at a destination
// location and registers the destination in the catalog. The orchestrator
// drives it through the Processor interface; Copy is the default
// implementation, reading JSON-lines source objects and writing
// snappy-compressed parquet.
package processor

import (
	"context"
	"fmt"
)

// Request describes one materialization. The destination may be a staging
// table or the final target; the processor does not distinguish them.
type Request struct {
	SourceDatabase string
	SourceTable    string

	// Database and Table name the catalog entry the processor registers.
	Database string
	Table    string

	// Location is the storage URI the rows are written under, with a
	// trailing slash. The caller owns the path: it must be fresh or
	// scrubbed, because a partially written location is contaminated.
	Location string

	// PartitionKeys are the destination's partition columns, in order.
	// Empty means an unpartitioned destination.
	PartitionKeys []string
}

func (r Request) validate() error {
	switch {
	case r.SourceDatabase == "" || r.SourceTable == "":
		return fmt.Errorf("processor: source table is required")
	case r.Database == "" || r.Table == "":
		return fmt.Errorf("processor: destination table is required")
	case r.Location == "":
		return fmt.Errorf("processor: destination location is required")
	}
	for _, k := range r.PartitionKeys {
		if k == "" {
			return fmt.Errorf("processor: empty partition key")
		}
	}
	return nil
}

// Result reports what a materialization produced.
type Result struct {
	// RowsRead counts source rows decoded before sampling.
	RowsRead int
	// RowsWritten counts rows that survived sampling and were written.
	RowsWritten int
	// Partitions counts destination partitions registered in the catalog.
	Partitions int
	// Objects counts parquet files uploaded.
	Objects int
	// Bytes is the total size of the uploaded parquet files.
	Bytes int64
}

// Processor persists rows under a destination location and registers the
// destination table and its partitions in the catalog.
type Processor interface {
	Materialize(ctx context.Context, req Request) (*Result, error)
}
