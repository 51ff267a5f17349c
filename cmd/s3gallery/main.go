// Command s3gallery builds a static photo gallery from the originals in an
// object store bucket and publishes its pages, thumbnails and stylesheet.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/s3gallery/s3gallery/internal/adapter"
	"github.com/s3gallery/s3gallery/internal/config"
	"github.com/s3gallery/s3gallery/internal/metrics"
	"github.com/s3gallery/s3gallery/internal/storage"
	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/types"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// exitError carries the process exit code for main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) ExitCode() int { return e.code }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			if coder.ExitCode() != 0 {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			stop()
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(2)
	}
}

type options struct {
	configPath  string
	envFile     string
	source      string
	destination string
	logLevel    string
	logFormat   string
	dryRun      bool
	metrics     bool
	saveConfig  string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("s3gallery", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment overrides")
	flagSet.StringVar(&opts.source, "source", "", "source store URI, e.g. s3://photos (overrides source.bucket)")
	flagSet.StringVar(&opts.destination, "destination", "", "destination store URI (default: the source bucket)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides global.log_level)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "text or json (overrides global.log_format)")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "build everything but publish into an in-memory destination")
	flagSet.BoolVar(&opts.metrics, "metrics", false, "serve Prometheus metrics while the run is in progress")
	flagSet.StringVar(&opts.saveConfig, "save-config", "", "write the resolved configuration to this YAML file and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return &exitError{code: 2, err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return &exitError{code: 2, err: fmt.Errorf("unexpected argument: %s", rest[0])}
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	if opts.saveConfig != "" {
		if err := cfg.SaveToFile(opts.saveConfig); err != nil {
			return &exitError{code: 2, err: err}
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", opts.saveConfig)
		return nil
	}

	logOutput := stderr
	if cfg.Global.LogFile != "" {
		f, err := os.OpenFile(cfg.Global.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return &exitError{code: 2, err: fmt.Errorf("open log file: %w", err)}
		}
		defer f.Close()
		logOutput = f
	}
	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, logOutput)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	source, destination, err := openStores(ctx, cfg)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	var adapterOpts []adapter.Option
	if cfg.Monitoring.Metrics.Enabled {
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Port:      cfg.Monitoring.Metrics.Port,
			Path:      cfg.Monitoring.Metrics.Path,
			Namespace: cfg.Monitoring.Metrics.Namespace,
		})
		if err != nil {
			return &exitError{code: 2, err: err}
		}
		if err := collector.Start(ctx); err != nil {
			return &exitError{code: 2, err: err}
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := collector.Stop(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
		adapterOpts = append(adapterOpts, adapter.WithMetrics(collector))
	}

	a, err := adapter.New(ctx, cfg, source, destination, adapterOpts...)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	result, err := a.Run(ctx)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	printSummary(stdout, result, opts.dryRun)
	if !result.OK() {
		return &exitError{code: 1, err: fmt.Errorf("%d failure(s) during run %s", len(result.Failures), result.RunID)}
	}
	return nil
}

// loadConfig layers defaults, the config file, .env and the environment,
// then the command-line overrides. Validation runs last so that a bucket
// given only on the command line is accepted.
func loadConfig(opts options) (*config.Configuration, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	cfg := config.NewDefault()
	if opts.configPath != "" {
		if err := cfg.LoadFromFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if opts.source != "" {
		backend, bucket, err := adapter.ParseStorageURI(opts.source)
		if err != nil {
			return nil, fmt.Errorf("invalid --source: %w", err)
		}
		cfg.Source.Backend = backend
		cfg.Source.Bucket = bucket
		if opts.destination == "" {
			cfg.Destination.Bucket = ""
		}
	}
	if opts.destination != "" {
		backend, bucket, err := adapter.ParseStorageURI(opts.destination)
		if err != nil {
			return nil, fmt.Errorf("invalid --destination: %w", err)
		}
		cfg.Destination.Backend = backend
		cfg.Destination.Bucket = bucket
	}
	if opts.logLevel != "" {
		cfg.Global.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Global.LogFormat = opts.logFormat
	}
	if opts.metrics {
		cfg.Monitoring.Metrics.Enabled = true
	}

	cfg.ApplyDefaults()
	if opts.dryRun {
		cfg.Destination.Backend = config.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStores(ctx context.Context, cfg *config.Configuration) (types.ObjectStore, types.ObjectStore, error) {
	source, err := storage.Open(ctx, cfg.Source, cfg.Gallery.MaxKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("open source store: %w", err)
	}
	if cfg.Destination == cfg.Source {
		return source, source, nil
	}
	destination, err := storage.Open(ctx, cfg.Destination, cfg.Gallery.MaxKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("open destination store: %w", err)
	}
	slog.Default().Debug("Using separate destination store",
		"backend", cfg.Destination.Backend,
		"bucket", cfg.Destination.Bucket)
	return source, destination, nil
}

func printSummary(w io.Writer, result *adapter.RunResult, dryRun bool) {
	mode := ""
	if dryRun {
		mode = " (dry run, nothing published)"
	}
	fmt.Fprintf(w, "run %s finished in %s%s\n", result.RunID, result.Duration.Round(time.Millisecond), mode)
	fmt.Fprintf(w, "  pages published: %d\n", result.Pages)
	fmt.Fprintf(w, "  albums:          %d\n", result.Albums)
	fmt.Fprintf(w, "  images:          %d\n", result.Images)
	fmt.Fprintf(w, "  failures:        %d\n", len(result.Failures))
	var hints []string
	seen := make(map[string]bool)
	for _, f := range result.Failures {
		fmt.Fprintf(w, "    %s\n", f.String())
		if hint := errors.Recommendation(f.Err); hint != "" && !seen[hint] {
			seen[hint] = true
			hints = append(hints, hint)
		}
	}
	for _, hint := range hints {
		fmt.Fprintf(w, "  hint: %s\n", hint)
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `s3gallery builds a static photo gallery from an object store bucket.

Originals are read from the source bucket. Thumbnails are written under
thumb/, one index.html per album and gallery.css at the bucket root of
the destination (the source bucket unless configured otherwise).

Usage:
  s3gallery [flags]

Examples:
  # Build from a config file
  s3gallery --config gallery.yaml

  # Check a bucket without publishing anything
  s3gallery --source s3://photos --dry-run --log-level DEBUG

  # Freeze flags and environment into a config file
  s3gallery --source s3://photos --save-config gallery.yaml

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
