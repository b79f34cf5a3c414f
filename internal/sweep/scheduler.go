package sweep

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anvilprune/anvilprune/internal/config"
	"github.com/anvilprune/anvilprune/internal/logging"
	"github.com/anvilprune/anvilprune/internal/prune"
)

// Config configures a sweep.
type Config struct {
	// Roots are directories or single containers to process.
	Roots []string
	// Threads is the number of workers. Default: number of CPUs.
	Threads int
	// ExcludeDirs are directory names skipped during discovery.
	ExcludeDirs []string
}

// DefaultConfig returns a Config with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Threads:     runtime.NumCPU(),
		ExcludeDirs: DefaultExcludeDirs,
	}
}

// Processor prunes one container. *prune.Executor implements it.
type Processor interface {
	Process(ctx context.Context, path string) (prune.Result, error)
}

// ProgressSink receives every container result as soon as it is known.
// Implementations are called from several workers at once.
type ProgressSink interface {
	ContainerDone(r prune.Result)
}

// DiscoverySink is implemented by sinks that want the container count once
// discovery finishes, before any container is processed.
type DiscoverySink interface {
	Discovered(n int)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(prune.Result)

func (f SinkFunc) ContainerDone(r prune.Result) {
	f(r)
}

// Summary is the outcome of a sweep.
type Summary struct {
	Stats prune.Stats
	// Results holds one entry per processed container, sorted by path.
	Results []prune.Result
	// Discovered is the number of containers found; Skipped were never started
	// because the run was cancelled.
	Discovered int
	Skipped    int
	Cancelled  bool
	Duration   time.Duration
}

// Scheduler runs a Processor over every discovered container.
type Scheduler struct {
	cfg   Config
	proc  Processor
	sinks []ProgressSink
}

// NewScheduler creates a scheduler. Sinks may be empty.
func NewScheduler(cfg Config, proc Processor, sinks ...ProgressSink) *Scheduler {
	return &Scheduler{cfg: cfg, proc: proc, sinks: sinks}
}

// worker holds the state one worker accumulates; it is merged after the pool drains.
type worker struct {
	stats   prune.Stats
	results []prune.Result
}

// Run discovers containers and processes each exactly once. Setup problems
// (no roots, a missing root, fewer than one thread) are returned as
// *config.FatalConfigError before any worker starts. Container failures are
// counted in the summary, never returned.
//
// Cancelling ctx stops new containers from being started; containers already
// in progress run to completion so no file is left half-written.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	if len(s.cfg.Roots) == 0 {
		return nil, config.Fatalf("path", "no paths given")
	}
	if s.cfg.Threads < 1 {
		return nil, config.Fatalf("threads", "must be at least 1, got %d", s.cfg.Threads)
	}

	paths, err := Discover(s.cfg.Roots, s.cfg.ExcludeDirs)
	if err != nil {
		return nil, err
	}

	for _, sink := range s.sinks {
		if ds, ok := sink.(DiscoverySink); ok {
			ds.Discovered(len(paths))
		}
	}

	log := logging.FromCtx(ctx)
	log.Infof("starting sweep", map[string]any{
		"containers": len(paths),
		"threads":    s.cfg.Threads,
		"roots":      strings.Join(s.cfg.Roots, ","),
	})

	threads := min(s.cfg.Threads, max(len(paths), 1))
	workers := make([]worker, threads)
	jobs := make(chan string)
	// In-flight containers must not observe cancellation.
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	dispatched := 0
	g.Go(func() error {
		defer close(jobs)
		for _, path := range paths {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case jobs <- path:
				dispatched++
			}
		}
		return nil
	})
	for i := range workers {
		w := &workers[i]
		g.Go(func() error {
			for path := range jobs {
				res := s.processOne(workCtx, path)
				w.stats.Record(res)
				w.results = append(w.results, res)
				for _, sink := range s.sinks {
					sink.ContainerDone(res)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Discovered: len(paths)}
	for _, w := range workers {
		summary.Stats.Add(w.stats)
		summary.Results = append(summary.Results, w.results...)
	}
	slices.SortFunc(summary.Results, func(a, b prune.Result) int {
		return strings.Compare(a.Path, b.Path)
	})
	summary.Skipped = len(paths) - dispatched
	summary.Cancelled = summary.Skipped > 0
	summary.Duration = time.Since(start)

	if summary.Cancelled {
		log.Warnf("sweep cancelled", map[string]any{
			"processed": dispatched,
			"skipped":   summary.Skipped,
		})
	}
	return summary, nil
}

// processOne runs the processor on one container and turns a panic into a
// failed result so sibling containers are unaffected.
func (s *Scheduler) processOne(ctx context.Context, path string) (res prune.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := &prune.ContainerError{
				Kind: prune.KindInternal,
				Path: path,
				Op:   "process",
				Err:  fmt.Errorf("panic: %v", r),
			}
			logging.FromCtx(ctx).Errorf("container panicked", map[string]any{
				"path":  path,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			res = prune.Result{Path: path, Outcome: prune.OutcomeFailed, Err: err}
		}
	}()

	res, err := s.proc.Process(ctx, path)
	if err != nil && res.Err == nil {
		res.Path = path
		res.Outcome = prune.OutcomeFailed
		res.Err = err
	}
	return res
}
