package swap

import (
	"fmt"
	"strings"

	"github.com/lakeshift/lakeshift/internal/catalog"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
)

// Job is one swap request: rebuild the output table from the source table
// at the next generation location.
type Job struct {
	// Name identifies the run in logs and results.
	Name string

	SourceDatabase string
	SourceTable    string
	OutputDatabase string
	OutputTable    string

	// PartitionKeys are the output table's partition columns, in order.
	// Empty produces an unpartitioned output.
	PartitionKeys []string
}

// Source returns the source table's identity.
func (j Job) Source() catalog.TableRef {
	return catalog.TableRef{Database: j.SourceDatabase, Name: j.SourceTable}
}

// Target returns the output table's identity.
func (j Job) Target() catalog.TableRef {
	return catalog.TableRef{Database: j.OutputDatabase, Name: j.OutputTable}
}

// Validate rejects jobs that cannot be run.
func (j Job) Validate() error {
	switch {
	case j.Name == "":
		return lkerrors.NewValidationError(lkerrors.CodeInvalidConfig, "job name is required")
	case j.SourceDatabase == "" || j.SourceTable == "":
		return lkerrors.NewValidationError(lkerrors.CodeInvalidConfig, "source database and table are required")
	case j.OutputDatabase == "" || j.OutputTable == "":
		return lkerrors.NewValidationError(lkerrors.CodeInvalidConfig, "output database and table are required")
	}
	seen := make(map[string]bool, len(j.PartitionKeys))
	for _, k := range j.PartitionKeys {
		if k == "" {
			return lkerrors.NewValidationError(lkerrors.CodeInvalidPartitionKey, "empty partition key")
		}
		if seen[k] {
			return lkerrors.NewValidationError(lkerrors.CodeInvalidPartitionKey,
				fmt.Sprintf("duplicate partition key %q", k))
		}
		seen[k] = true
	}
	return nil
}

// ParsePartitionKeys splits a comma-separated partition key list, trimming
// whitespace and dropping empty entries, so both "a,b" and "a, b," parse
// to the same keys.
func ParsePartitionKeys(s string) []string {
	var keys []string
	for _, part := range strings.Split(s, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
