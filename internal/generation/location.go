// Package generation computes version-numbered storage locations for table
// generations. A generation is an integer >= 0 encoded as a path segment
// version_<n> at the second-to-last position of a table's storage location,
// e.g. s3://lake/analytics/events/version_3/. Each overwrite publishes the
// next generation; prior generations stay on storage for recovery and audit.
package generation

import (
	"fmt"
	"strconv"
	"strings"

	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
)

const segmentPrefix = "version_"

// Initial returns the location of generation 0 under the table's root,
// which is where a first write lands when no table exists yet.
func Initial(tableRoot string) string {
	return strings.TrimSuffix(tableRoot, "/") + "/" + segmentPrefix + "0/"
}

// Number extracts the generation number from a location. The version
// segment must sit at the second-to-last position, which in practice means
// the location carries a trailing separator.
func Number(location string) (int, error) {
	segments := strings.Split(location, "/")
	if len(segments) < 2 {
		return 0, malformed(location, "no version segment")
	}

	segment := segments[len(segments)-2]
	digits, ok := strings.CutPrefix(segment, segmentPrefix)
	if !ok {
		return 0, malformed(location, fmt.Sprintf("segment %q does not start with %q", segment, segmentPrefix))
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, malformed(location, fmt.Sprintf("segment %q is not numeric", segment))
	}
	return int(n), nil
}

// Next maps the current live location to the next generation's location:
// version_<n> becomes version_<n+1> with every other segment preserved and
// a trailing separator appended. It is pure and performs no catalog calls;
// callers must already hold the current table definition.
func Next(location string) (string, error) {
	n, err := Number(location)
	if err != nil {
		return "", err
	}

	segments := strings.Split(location, "/")
	rebuilt := append(segments[:len(segments)-2], segmentPrefix+strconv.Itoa(n+1), "")
	return strings.Join(rebuilt, "/"), nil
}

func malformed(location, reason string) error {
	return lkerrors.NewVersioningError(
		fmt.Sprintf("location %q does not encode a generation: %s", location, reason), nil,
	).WithDetails(map[string]interface{}{
		"location": location,
	})
}
