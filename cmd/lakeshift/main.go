package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/lakeshift/lakeshift/internal/app"
	"github.com/lakeshift/lakeshift/internal/config"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env if present; real environment wins.
	_ = godotenv.Load()

	var (
		configPath    = flag.String("config", getenv("LAKESHIFT_CONFIG", ""), "path to a YAML or JSON config file (env: LAKESHIFT_CONFIG)")
		mode          = flag.String("mode", "", "run mode: run or serve (env: LAKESHIFT_MODE)")
		jobName       = flag.String("job-name", "", "job name for logs and results (env: LAKESHIFT_JOB_NAME)")
		sourceDB      = flag.String("source-database", "", "catalog database of the source table (env: LAKESHIFT_JOB_SOURCE_DATABASE)")
		sourceTable   = flag.String("source-table", "", "table whose rows are materialized (env: LAKESHIFT_JOB_SOURCE_TABLE)")
		outputDB      = flag.String("output-database", "", "catalog database of the output table (env: LAKESHIFT_JOB_OUTPUT_DATABASE)")
		outputTable   = flag.String("output-table", "", "table the swap publishes (env: LAKESHIFT_JOB_OUTPUT_TABLE)")
		partitionKeys = flag.String("partition-keys", "", "comma-separated output partition keys (env: LAKESHIFT_JOB_PARTITION_KEYS)")
		region        = flag.String("region", "", "AWS region for the Glue catalog and S3 (env: LAKESHIFT_CATALOG_REGION)")
		verbose       = flag.Bool("verbose", false, "verbose mode - show debug logs")
		showVersion   = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lakeshift version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	// Precedence: defaults < config file < environment < flags.
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *jobName != "" {
		cfg.Job.Name = *jobName
	}
	if *sourceDB != "" {
		cfg.Job.SourceDatabase = *sourceDB
	}
	if *sourceTable != "" {
		cfg.Job.SourceTable = *sourceTable
	}
	if *outputDB != "" {
		cfg.Job.OutputDatabase = *outputDB
	}
	if *outputTable != "" {
		cfg.Job.OutputTable = *outputTable
	}
	if *partitionKeys != "" {
		cfg.Job.PartitionKeys = *partitionKeys
	}
	if *region != "" {
		cfg.Catalog.Region = *region
		cfg.Storage.S3.Region = *region
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	switch cfg.Mode {
	case config.ModeServe:
		logger.Info("starting lakeshift",
			"version", version,
			"mode", cfg.Mode,
			"addr", cfg.Server.Addr,
			"schedule", cfg.Server.Schedule,
		)
		return application.Serve(ctx)
	default:
		res, err := application.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("swap finished",
			"job", res.Job.Name,
			"generation", res.Generation,
			"location", res.Location,
			"partitions", res.PartitionsPublished,
			"duration", res.Duration,
		)
		return nil
	}
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			return a
		},
	}))
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
