// Command anvilprune removes chunks that players never spent time in from
// Minecraft region files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/anvilprune/anvilprune/internal/backup"
	"github.com/anvilprune/anvilprune/internal/config"
	"github.com/anvilprune/anvilprune/internal/logging"
	"github.com/anvilprune/anvilprune/internal/metrics"
	"github.com/anvilprune/anvilprune/internal/prune"
	"github.com/anvilprune/anvilprune/internal/report"
	"github.com/anvilprune/anvilprune/internal/sweep"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options holds the parsed command line.
type options struct {
	configPath string
	version    bool
	verbosity  int
	set        map[string]bool

	threads       int
	inhabitedTime int64
	dryRun        bool
	deleteRegions bool
	onChunkError  string
	logFormat     string
	backupDir     string
	reportPath    string
	metricsAddr   string
	paths         []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}
	flags := flag.NewFlagSet("anvilprune", flag.ContinueOnError)
	flags.SetOutput(stderr)

	flags.StringVar(&o.configPath, "config", "", "Path to YAML configuration file")
	flags.IntVar(&o.threads, "threads", 0, "Number of worker threads (default: logical CPUs)")
	flags.Int64Var(&o.inhabitedTime, "inhabited-time", prune.DefaultThreshold, "Keep chunks inhabited for at least this many ticks")
	flags.BoolVar(&o.dryRun, "dry-run", false, "Classify and report without modifying files")
	flags.BoolVar(&o.deleteRegions, "delete-regions", false, "Delete whole region files that hold no active chunk")
	flags.StringVar(&o.onChunkError, "on-chunk-error", "", "What to do with unreadable chunks: keep or delete (default keep)")
	v := flags.Bool("v", false, "Debug logging")
	vv := flags.Bool("vv", false, "Trace logging")
	flags.StringVar(&o.logFormat, "log-format", "", "Log format: json or text")
	flags.StringVar(&o.backupDir, "backup-dir", "", "Archive original region files (zstd) to this directory before changing them")
	flags.StringVar(&o.reportPath, "report", "", "Write a per-container Parquet report to this file")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g., :9090)")
	flags.BoolVar(&o.version, "version", false, "Print version information")

	flags.Usage = func() {
		fmt.Fprintln(stderr, `Usage: anvilprune [options] <path> [<path>...]

Prune chunks with little player activity from region files. Each path is a
world or dimension directory, searched recursively, or a single .mca file.

Options:`)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	flags.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	switch {
	case *vv:
		o.verbosity = 2
	case *v:
		o.verbosity = 1
	}
	o.paths = flags.Args()
	return o, nil
}

// loadConfig layers defaults, the config file, the environment and finally
// explicitly set flags.
func loadConfig(o *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if len(o.paths) > 0 {
		cfg.Prune.Paths = o.paths
	}
	if o.set["threads"] {
		cfg.Prune.Threads = o.threads
	}
	if o.set["inhabited-time"] {
		cfg.Prune.InhabitedTime = o.inhabitedTime
	}
	if o.set["dry-run"] {
		cfg.Prune.DryRun = o.dryRun
	}
	if o.set["delete-regions"] {
		cfg.Prune.DeleteRegions = o.deleteRegions
	}
	if o.set["on-chunk-error"] {
		cfg.Prune.OnChunkError = o.onChunkError
	}
	if o.set["log-format"] {
		cfg.Observability.LogFormat = o.logFormat
	}
	if o.verbosity > 0 {
		cfg.Observability.LogLevel = logging.ParseVerbosity(o.verbosity).String()
	}
	if o.set["backup-dir"] {
		cfg.Backup.Target = config.BackupTargetFS
		cfg.Backup.Dir = o.backupDir
	}
	if o.set["report"] {
		cfg.Report.Path = o.reportPath
	}
	if o.set["metrics-addr"] {
		cfg.Observability.MetricsAddr = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run executes one pruning run and returns the process exit code: 0 when the
// sweep completed (container errors included), 1 on a fatal error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}
	if o.version {
		fmt.Fprintf(stdout, "anvilprune version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return 0
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "anvilprune: %v\n", err)
		return 1
	}

	level := logging.ParseLevel(cfg.Observability.LogLevel)
	logger := logging.New(logging.Config{
		Level:     level,
		Format:    logging.ParseFormat(cfg.Observability.LogFormat),
		Output:    stderr,
		AddCaller: level <= logging.LevelDebug,
	})
	logging.SetGlobal(logger)

	runID := uuid.NewString()
	ctx = logging.StartRun(ctx, logger, runID)

	if err := execute(ctx, cfg, runID, stdout); err != nil {
		logging.FromCtx(ctx).Errorf("run failed", map[string]any{"error": err.Error()})
		fmt.Fprintf(stderr, "anvilprune: %v\n", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, cfg *config.Config, runID string, stdout io.Writer) error {
	log := logging.FromCtx(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pruneMetrics := metrics.NewPruneMetricsWithRegistry(reg)
	storeMetrics := metrics.NewObjectStoreMetricsWithRegistry(reg)

	if cfg.Observability.MetricsAddr != "" {
		srv := metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, reg)
		if err := srv.Start(); err != nil {
			return &config.FatalConfigError{Field: "observability.metricsAddr", Err: err}
		}
		defer srv.Close()
		log.Infof("metrics server listening", map[string]any{"addr": srv.Addr()})
	}

	opts, err := cfg.PruneOptions()
	if err != nil {
		return err
	}

	var archiver prune.Archiver
	store, err := backup.OpenStore(ctx, cfg.Backup, storeMetrics)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		level, err := cfg.Backup.EncoderLevel()
		if err != nil {
			return &config.FatalConfigError{Field: "backup.level", Err: err}
		}
		a, err := backup.New(store, backup.Config{
			Prefix: cfg.Backup.Prefix,
			RunID:  runID,
			Roots:  cfg.Prune.Paths,
			Level:  level,
		})
		if err != nil {
			return err
		}
		defer a.Close()
		archiver = a
		log.Infof("archiving originals before changes", map[string]any{
			"target": cfg.Backup.Target,
			"prefix": a.Prefix(),
		})
	}

	scheduler := sweep.NewScheduler(sweep.Config{
		Roots:       cfg.Prune.Paths,
		Threads:     cfg.Prune.Threads,
		ExcludeDirs: cfg.Prune.ExcludeDirs,
	}, prune.NewExecutor(opts, archiver), pruneMetrics, newProgress(log, progressInterval))

	summary, err := scheduler.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.Report.Path != "" {
		if err := report.Write(cfg.Report.Path, runID, summary.Results, time.Now()); err != nil {
			return err
		}
		log.Infof("report written", map[string]any{"path": cfg.Report.Path, "rows": len(summary.Results)})
	}

	logSummary(log, summary, opts)
	printSummary(stdout, summary, opts)
	return nil
}
