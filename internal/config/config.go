// Package config provides unified configuration for the lakeshift services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lakeshift/lakeshift/internal/catalog"
)

// Mode represents the service mode to run.
type Mode string

const (
	// ModeRun executes the configured swap job once and exits.
	ModeRun Mode = "run"

	// ModeServe runs the HTTP API and the optional schedule.
	ModeServe Mode = "serve"
)

// Config holds the unified configuration for the lakeshift services.
type Config struct {
	// Mode specifies how to run: run (one job, then exit) or serve
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for local state and scratch files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Job is the swap job to run (run mode) or to run on the schedule
	// (serve mode)
	Job JobConfig `json:"job" yaml:"job"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Swap pipeline tuning
	Swap SwapConfig `json:"swap" yaml:"swap"`

	// Server configuration (serve mode)
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// JobConfig describes one swap job.
type JobConfig struct {
	// Name identifies the job in logs and results
	Name string `json:"name" yaml:"name"`

	// SourceDatabase is the catalog database holding the source table
	SourceDatabase string `json:"source_database" yaml:"source_database"`

	// SourceTable is the table whose rows are materialized
	SourceTable string `json:"source_table" yaml:"source_table"`

	// OutputDatabase is the catalog database the output table lives in
	OutputDatabase string `json:"output_database" yaml:"output_database"`

	// OutputTable is the table the swap publishes
	OutputTable string `json:"output_table" yaml:"output_table"`

	// PartitionKeys is the comma-separated partition column list for the
	// output table; empty produces an unpartitioned output
	PartitionKeys string `json:"partition_keys" yaml:"partition_keys"`
}

// CatalogConfig holds metadata catalog configuration.
type CatalogConfig struct {
	// Type is the catalog type: glue, sqlite, memory
	Type string `json:"type" yaml:"type"`

	// Region is the AWS region of the Glue Data Catalog (for glue type)
	Region string `json:"region" yaml:"region"`

	// Endpoint is a custom Glue endpoint (for emulators)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Path is the database file path (for sqlite type)
	Path string `json:"path" yaml:"path"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// SwapConfig holds swap pipeline tuning.
type SwapConfig struct {
	// WorkDir is the scratch directory for downloads and parquet assembly
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// SampleFraction is the fraction of source rows kept (0 < f <= 1)
	SampleFraction float64 `json:"sample_fraction" yaml:"sample_fraction"`

	// Fanout bounds concurrent partition work (0 or 1 is sequential)
	Fanout int `json:"fanout" yaml:"fanout"`

	// StaleStagingAfter is how old an abandoned staging table must be
	// before a run sweeps it
	StaleStagingAfter time.Duration `json:"stale_staging_after" yaml:"stale_staging_after"`

	// DeleteBatchSize caps partition tuples per delete call (max 25)
	DeleteBatchSize int `json:"delete_batch_size" yaml:"delete_batch_size"`

	// CreateBatchSize caps partitions per create call (max 100)
	CreateBatchSize int `json:"create_batch_size" yaml:"create_batch_size"`
}

// ServerConfig holds HTTP server configuration for serve mode.
type ServerConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout; zero means none, which lets
	// a synchronous swap request run to completion
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Schedule is a cron expression for running the configured job;
	// empty disables the scheduler
	Schedule string `json:"schedule" yaml:"schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeRun,
		DataDir: "./data/lakeshift",
		Catalog: CatalogConfig{
			Type: "sqlite",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Swap: SwapConfig{
			SampleFraction:    0.7,
			Fanout:            4,
			StaleStagingAfter: 24 * time.Hour,
			DeleteBatchSize:   catalog.MaxBatchDelete,
			CreateBatchSize:   catalog.MaxBatchCreate,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/lakeshift"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Swap.WorkDir == "" {
		c.Swap.WorkDir = filepath.Join(c.DataDir, "work")
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRun, ModeServe:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be run or serve)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Catalog.Type {
	case "glue":
		if c.Catalog.Region == "" {
			return fmt.Errorf("catalog.region is required when catalog type is glue")
		}
	case "sqlite", "memory":
		// No further requirements
	default:
		return fmt.Errorf("invalid catalog type: %s (must be glue, sqlite, or memory)", c.Catalog.Type)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Swap.SampleFraction <= 0 || c.Swap.SampleFraction > 1 {
		return fmt.Errorf("swap.sample_fraction must be in (0, 1], got %v", c.Swap.SampleFraction)
	}
	if c.Swap.DeleteBatchSize < 0 || c.Swap.DeleteBatchSize > catalog.MaxBatchDelete {
		return fmt.Errorf("swap.delete_batch_size must be between 0 and %d, got %d",
			catalog.MaxBatchDelete, c.Swap.DeleteBatchSize)
	}
	if c.Swap.CreateBatchSize < 0 || c.Swap.CreateBatchSize > catalog.MaxBatchCreate {
		return fmt.Errorf("swap.create_batch_size must be between 0 and %d, got %d",
			catalog.MaxBatchCreate, c.Swap.CreateBatchSize)
	}

	// The job must be complete wherever something will actually run it.
	needsJob := c.Mode == ModeRun || (c.Mode == ModeServe && c.Server.Schedule != "")
	if needsJob {
		if c.Job.SourceDatabase == "" || c.Job.SourceTable == "" {
			return fmt.Errorf("job.source_database and job.source_table are required")
		}
		if c.Job.OutputDatabase == "" || c.Job.OutputTable == "" {
			return fmt.Errorf("job.output_database and job.output_table are required")
		}
	}

	if c.Mode == ModeServe && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required in serve mode")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LAKESHIFT_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LAKESHIFT_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("LAKESHIFT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Job configuration
	if v := os.Getenv("LAKESHIFT_JOB_NAME"); v != "" {
		cfg.Job.Name = v
	}
	if v := os.Getenv("LAKESHIFT_JOB_SOURCE_DATABASE"); v != "" {
		cfg.Job.SourceDatabase = v
	}
	if v := os.Getenv("LAKESHIFT_JOB_SOURCE_TABLE"); v != "" {
		cfg.Job.SourceTable = v
	}
	if v := os.Getenv("LAKESHIFT_JOB_OUTPUT_DATABASE"); v != "" {
		cfg.Job.OutputDatabase = v
	}
	if v := os.Getenv("LAKESHIFT_JOB_OUTPUT_TABLE"); v != "" {
		cfg.Job.OutputTable = v
	}
	if v := os.Getenv("LAKESHIFT_JOB_PARTITION_KEYS"); v != "" {
		cfg.Job.PartitionKeys = v
	}

	// Catalog configuration
	if v := os.Getenv("LAKESHIFT_CATALOG_TYPE"); v != "" {
		cfg.Catalog.Type = v
	}
	if v := os.Getenv("LAKESHIFT_CATALOG_REGION"); v != "" {
		cfg.Catalog.Region = v
	}
	if v := os.Getenv("LAKESHIFT_CATALOG_ENDPOINT"); v != "" {
		cfg.Catalog.Endpoint = v
	}
	if v := os.Getenv("LAKESHIFT_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}

	// Storage configuration
	if v := os.Getenv("LAKESHIFT_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("LAKESHIFT_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LAKESHIFT_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("LAKESHIFT_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("LAKESHIFT_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Swap configuration
	if v := os.Getenv("LAKESHIFT_SWAP_SAMPLE_FRACTION"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Swap.SampleFraction)
	}
	if v := os.Getenv("LAKESHIFT_SWAP_FANOUT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Swap.Fanout)
	}
	if v := os.Getenv("LAKESHIFT_SWAP_STALE_STAGING_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Swap.StaleStagingAfter = d
		}
	}

	// Server configuration
	if v := os.Getenv("LAKESHIFT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LAKESHIFT_SERVER_SCHEDULE"); v != "" {
		cfg.Server.Schedule = v
	}

	// Logging configuration
	if v := os.Getenv("LAKESHIFT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Swap.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Catalog.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
