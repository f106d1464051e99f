package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
)

func TestJobValidate(t *testing.T) {
	valid := Job{
		Name:           "nightly",
		SourceDatabase: "raw",
		SourceTable:    "events",
		OutputDatabase: "analytics",
		OutputTable:    "events_agg",
		PartitionKeys:  []string{"year", "quarter"},
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Job)
		code   string
	}{
		{"no name", func(j *Job) { j.Name = "" }, lkerrors.CodeInvalidConfig},
		{"no source table", func(j *Job) { j.SourceTable = "" }, lkerrors.CodeInvalidConfig},
		{"no output database", func(j *Job) { j.OutputDatabase = "" }, lkerrors.CodeInvalidConfig},
		{"empty partition key", func(j *Job) { j.PartitionKeys = []string{"year", ""} }, lkerrors.CodeInvalidPartitionKey},
		{"duplicate partition key", func(j *Job) { j.PartitionKeys = []string{"year", "year"} }, lkerrors.CodeInvalidPartitionKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := valid
			tc.mutate(&j)
			err := j.Validate()
			require.Error(t, err)
			assert.Equal(t, lkerrors.ErrCategoryValidation, lkerrors.GetCategory(err))
			assert.Equal(t, tc.code, lkerrors.GetCode(err))
		})
	}
}

func TestJobRefs(t *testing.T) {
	j := Job{
		SourceDatabase: "raw", SourceTable: "events",
		OutputDatabase: "analytics", OutputTable: "events_agg",
	}
	assert.Equal(t, "raw.events", j.Source().String())
	assert.Equal(t, "analytics.events_agg", j.Target().String())
}

func TestParsePartitionKeys(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"type", []string{"type"}},
		{"type,year,quarter", []string{"type", "year", "quarter"}},
		{" type , year ", []string{"type", "year"}},
		{"type,,year,", []string{"type", "year"}},
		{" , ", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParsePartitionKeys(tc.in), "input %q", tc.in)
	}
}
