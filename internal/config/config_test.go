package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnable fills in the job fields DefaultConfig leaves empty.
func runnable() *Config {
	cfg := DefaultConfig()
	cfg.Job = JobConfig{
		Name:           "nightly",
		SourceDatabase: "raw",
		SourceTable:    "speed_readings",
		OutputDatabase: "analytics",
		OutputTable:    "speed_agg",
		PartitionKeys:  "type,year,quarter",
	}
	return cfg
}

func TestDefaultConfigIsRunnable(t *testing.T) {
	cfg := runnable()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(cfg.DataDir, "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "work"), cfg.Swap.WorkDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "catalog.db"), cfg.Catalog.Path)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "daemon" }, "invalid mode"},
		{"bad catalog type", func(c *Config) { c.Catalog.Type = "postgres" }, "invalid catalog type"},
		{"glue without region", func(c *Config) { c.Catalog.Type = "glue"; c.Catalog.Region = "" }, "catalog.region is required"},
		{"bad storage type", func(c *Config) { c.Storage.Type = "gcs" }, "invalid storage type"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, "s3.bucket is required"},
		{"zero sample fraction", func(c *Config) { c.Swap.SampleFraction = 0 }, "sample_fraction"},
		{"oversized delete batch", func(c *Config) { c.Swap.DeleteBatchSize = 26 }, "delete_batch_size"},
		{"oversized create batch", func(c *Config) { c.Swap.CreateBatchSize = 101 }, "create_batch_size"},
		{"run mode without job", func(c *Config) { c.Job.OutputTable = "" }, "output_database and job.output_table"},
		{"scheduled serve without job", func(c *Config) {
			c.Mode = ModeServe
			c.Server.Schedule = "0 3 * * *"
			c.Job.SourceTable = ""
		}, "source_database and job.source_table"},
		{"serve without addr", func(c *Config) { c.Mode = ModeServe; c.Server.Addr = "" }, "server.addr is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := runnable()
			cfg.Resolve()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestServeWithoutScheduleNeedsNoJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeServe
	cfg.Resolve()
	require.NoError(t, cfg.Validate(), "an API-only server takes jobs over HTTP")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LAKESHIFT_MODE", "serve")
	t.Setenv("LAKESHIFT_JOB_SOURCE_TABLE", "events_raw")
	t.Setenv("LAKESHIFT_JOB_PARTITION_KEYS", "year, quarter")
	t.Setenv("LAKESHIFT_CATALOG_TYPE", "glue")
	t.Setenv("LAKESHIFT_CATALOG_REGION", "eu-west-1")
	t.Setenv("LAKESHIFT_S3_BUCKET", "lake-prod")
	t.Setenv("LAKESHIFT_SWAP_SAMPLE_FRACTION", "0.25")
	t.Setenv("LAKESHIFT_SWAP_FANOUT", "8")
	t.Setenv("LAKESHIFT_SWAP_STALE_STAGING_AFTER", "6h")
	t.Setenv("LAKESHIFT_SERVER_SCHEDULE", "0 3 * * *")
	t.Setenv("LAKESHIFT_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, ModeServe, cfg.Mode)
	assert.Equal(t, "events_raw", cfg.Job.SourceTable)
	assert.Equal(t, "year, quarter", cfg.Job.PartitionKeys)
	assert.Equal(t, "glue", cfg.Catalog.Type)
	assert.Equal(t, "eu-west-1", cfg.Catalog.Region)
	assert.Equal(t, "lake-prod", cfg.Storage.S3.Bucket)
	assert.Equal(t, 0.25, cfg.Swap.SampleFraction)
	assert.Equal(t, 8, cfg.Swap.Fanout)
	assert.Equal(t, 6*time.Hour, cfg.Swap.StaleStagingAfter)
	assert.Equal(t, "0 3 * * *", cfg.Server.Schedule)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lakeshift.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
mode: serve
job:
  name: nightly
  source_database: raw
  source_table: speed_readings
  output_database: analytics
  output_table: speed_agg
  partition_keys: type,year,quarter
swap:
  sample_fraction: 0.5
server:
  schedule: "0 3 * * *"
`), 0o644))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, ModeServe, cfg.Mode)
		assert.Equal(t, "speed_agg", cfg.Job.OutputTable)
		assert.Equal(t, 0.5, cfg.Swap.SampleFraction)
		// Unset fields keep their defaults.
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "sqlite", cfg.Catalog.Type)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lakeshift.json")
		require.NoError(t, os.WriteFile(path, []byte(
			`{"mode":"run","job":{"source_database":"raw","source_table":"a","output_database":"analytics","output_table":"b"}}`,
		), 0o644))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, ModeRun, cfg.Mode)
		assert.Equal(t, "b", cfg.Job.OutputTable)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lakeshift.toml")
		require.NoError(t, os.WriteFile(path, []byte("mode = \"run\""), 0o644))
		_, err := LoadFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported config file format")
	})
}
