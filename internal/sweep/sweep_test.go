package sweep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilprune/anvilprune/internal/config"
	"github.com/anvilprune/anvilprune/internal/nbt/nbttest"
	"github.com/anvilprune/anvilprune/internal/prune"
	"github.com/anvilprune/anvilprune/internal/region/regiontest"
)

// buildWorld writes a world with n containers in region/, plus containers in
// entities/ and poi/ that must never be touched. Metrics are deterministic.
func buildWorld(t *testing.T, root string, n int) {
	t.Helper()
	regionDir := filepath.Join(root, "region")
	for _, dir := range []string{regionDir, filepath.Join(root, "entities"), filepath.Join(root, "poi")} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	for i := 0; i < n; i++ {
		var chunks []regiontest.Chunk
		for j := 0; j < 12; j++ {
			metric := int64((i*37 + j*53) % 300)
			chunks = append(chunks, regiontest.Chunk{
				X:         j,
				Z:         i % 32,
				NBT:       nbttest.Chunk(metric),
				Timestamp: uint32(i*100 + j),
				Gap:       j % 2,
			})
		}
		if i%5 == 0 {
			// All inactive.
			chunks = []regiontest.Chunk{{X: 1, NBT: nbttest.Chunk(1)}}
		}
		regiontest.WriteFile(t, regionDir, i, -i, chunks...)
	}
	regiontest.WriteFile(t, filepath.Join(root, "entities"), 0, 0, regiontest.Chunk{NBT: nbttest.Chunk(0)})
	regiontest.WriteFile(t, filepath.Join(root, "poi"), 0, 0, regiontest.Chunk{NBT: nbttest.Chunk(0)})
}

func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()
	files := map[string][]byte{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[rel] = data
		return nil
	})
	require.NoError(t, err)
	return files
}

func runSweep(t *testing.T, root string, threads int, opts prune.Options) *Summary {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Roots = []string{root}
	cfg.Threads = threads
	summary, err := NewScheduler(cfg, prune.NewExecutor(opts, nil)).Run(context.Background())
	require.NoError(t, err)
	return summary
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 3)
	nether := filepath.Join(root, "DIM-1", "region")
	require.NoError(t, os.MkdirAll(nether, 0o755))
	regiontest.WriteFile(t, nether, 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(nether, "r.5.5.MCA"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nether, "level.dat"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "DIM-1", "Entities"), 0o755))
	regiontest.WriteFile(t, filepath.Join(root, "DIM-1", "Entities"), 0, 0)

	single := filepath.Join(root, "region", "r.1.-1.mca")
	paths, err := Discover([]string{root, single}, DefaultExcludeDirs)
	require.NoError(t, err)

	var rel []string
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{
		"DIM-1/region/r.4.4.mca",
		"DIM-1/region/r.5.5.MCA",
		"region/r.0.0.mca",
		"region/r.1.-1.mca",
		"region/r.2.-2.mca",
	}, rel)

	// Without exclusions the entity and poi containers are found.
	paths, err = Discover([]string{root}, nil)
	require.NoError(t, err)
	assert.Len(t, paths, 8)
}

func TestDiscover_RootIsExcludedName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "poi")
	require.NoError(t, os.MkdirAll(root, 0o755))
	regiontest.WriteFile(t, root, 0, 0)

	paths, err := Discover([]string{root}, DefaultExcludeDirs)
	require.NoError(t, err)
	assert.Len(t, paths, 1, "an explicitly named root is always searched")
}

func TestDiscover_BadRoots(t *testing.T) {
	dir := t.TempDir()
	_, err := Discover([]string{filepath.Join(dir, "missing")}, nil)
	assert.True(t, config.IsFatal(err))

	notContainer := filepath.Join(dir, "level.dat")
	require.NoError(t, os.WriteFile(notContainer, nil, 0o644))
	_, err = Discover([]string{notContainer}, nil)
	assert.True(t, config.IsFatal(err))
}

func TestRun_FatalConfig(t *testing.T) {
	exec := prune.NewExecutor(prune.Options{Threshold: 100}, nil)

	_, err := NewScheduler(Config{Threads: 2}, exec).Run(context.Background())
	assert.True(t, config.IsFatal(err))

	_, err = NewScheduler(Config{Roots: []string{t.TempDir()}, Threads: 0}, exec).Run(context.Background())
	assert.True(t, config.IsFatal(err))

	_, err = NewScheduler(Config{Roots: []string{"/definitely/not/here"}, Threads: 1}, exec).Run(context.Background())
	assert.True(t, config.IsFatal(err))
}

func TestRun_ConcurrencyInvariance(t *testing.T) {
	opts := prune.Options{Threshold: 100, DeleteRegions: true}
	serial, parallel := t.TempDir(), t.TempDir()
	buildWorld(t, serial, 20)
	buildWorld(t, parallel, 20)

	s1 := runSweep(t, serial, 1, opts)
	s8 := runSweep(t, parallel, 8, opts)

	assert.Equal(t, s1.Stats, s8.Stats)
	assert.Equal(t, int64(20), s1.Stats.ContainersScanned)
	assert.Equal(t, int64(4), s1.Stats.ContainersDeleted)
	assert.Zero(t, s1.Stats.ErrorCount())
	assert.Equal(t, readTree(t, serial), readTree(t, parallel))

	require.Len(t, s8.Results, 20)
	for i := 1; i < len(s8.Results); i++ {
		assert.Less(t, s8.Results[i-1].Path, s8.Results[i].Path)
	}

	// entities/ and poi/ are untouched.
	tree := readTree(t, serial)
	assert.Contains(t, tree, filepath.Join("entities", "r.0.0.mca"))
	assert.Contains(t, tree, filepath.Join("poi", "r.0.0.mca"))
}

func TestRun_DryRunEquivalence(t *testing.T) {
	dry, wet := t.TempDir(), t.TempDir()
	buildWorld(t, dry, 10)
	buildWorld(t, wet, 10)
	before := readTree(t, dry)

	opts := prune.Options{Threshold: 150}
	realSummary := runSweep(t, wet, 4, opts)
	opts.DryRun = true
	drySummary := runSweep(t, dry, 4, opts)

	assert.Equal(t, realSummary.Stats, drySummary.Stats)
	assert.Positive(t, drySummary.Stats.BytesReclaimed)
	assert.Equal(t, before, readTree(t, dry))
}

type panickingProcessor struct {
	inner Processor
	bad   string
}

func (p *panickingProcessor) Process(ctx context.Context, path string) (prune.Result, error) {
	if strings.HasSuffix(path, p.bad) {
		panic("corrupted state")
	}
	return p.inner.Process(ctx, path)
}

func TestRun_RecoversPanics(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 6)

	proc := &panickingProcessor{
		inner: prune.NewExecutor(prune.Options{Threshold: 100}, nil),
		bad:   "r.3.-3.mca",
	}
	cfg := Config{Roots: []string{filepath.Join(root, "region")}, Threads: 3}
	summary, err := NewScheduler(cfg, proc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), summary.Stats.ContainersScanned)
	assert.Equal(t, int64(1), summary.Stats.ContainersFailed)
	assert.Equal(t, int64(1), summary.Stats.Errors[prune.KindInternal])

	for _, r := range summary.Results {
		if strings.HasSuffix(r.Path, "r.3.-3.mca") {
			assert.Equal(t, prune.OutcomeFailed, r.Outcome)
			assert.Equal(t, prune.KindInternal, prune.KindOf(r.Err))
		} else {
			assert.NoError(t, r.Err)
		}
	}
}

func TestRun_ContainerErrorsDoNotAbort(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 4)
	bad := filepath.Join(root, "region", "r.9.9.mca")
	require.NoError(t, os.WriteFile(bad, []byte("short"), 0o644))

	summary := runSweep(t, root, 2, prune.Options{Threshold: 100})
	assert.Equal(t, int64(5), summary.Stats.ContainersScanned)
	assert.Equal(t, int64(1), summary.Stats.ContainersFailed)
	assert.Equal(t, int64(1), summary.Stats.Errors[prune.KindCorruptHeader])
}

func TestRun_Cancellation(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 10)

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cfg := Config{Roots: []string{root}, Threads: 2, ExcludeDirs: DefaultExcludeDirs}
		summary, err := NewScheduler(cfg, prune.NewExecutor(prune.Options{Threshold: 100, DryRun: true}, nil)).Run(ctx)
		require.NoError(t, err)
		assert.True(t, summary.Cancelled)
		assert.Equal(t, 10, summary.Skipped)
		assert.Empty(t, summary.Results)
	})

	t.Run("mid run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls atomic.Int32
		var sawCancelled atomic.Bool
		exec := prune.NewExecutor(prune.Options{Threshold: 100, DryRun: true}, nil)
		proc := processorFunc(func(pctx context.Context, path string) (prune.Result, error) {
			if calls.Add(1) == 1 {
				cancel()
			}
			if pctx.Err() != nil {
				sawCancelled.Store(true)
			}
			return exec.Process(pctx, path)
		})

		cfg := Config{Roots: []string{root}, Threads: 1, ExcludeDirs: DefaultExcludeDirs}
		summary, err := NewScheduler(cfg, proc).Run(ctx)
		require.NoError(t, err)
		assert.True(t, summary.Cancelled)
		assert.LessOrEqual(t, len(summary.Results), 2)
		assert.Equal(t, summary.Discovered, summary.Skipped+len(summary.Results))
		assert.False(t, sawCancelled.Load(), "in-flight work saw cancellation")
	})
}

type processorFunc func(ctx context.Context, path string) (prune.Result, error)

func (f processorFunc) Process(ctx context.Context, path string) (prune.Result, error) {
	return f(ctx, path)
}

func TestRun_SinksSeeEveryResult(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 12)

	var mu sync.Mutex
	seen := map[string]bool{}
	var deleted atomic.Int64
	sinkA := SinkFunc(func(r prune.Result) {
		mu.Lock()
		defer mu.Unlock()
		seen[r.Path] = true
	})
	sinkB := SinkFunc(func(r prune.Result) {
		deleted.Add(int64(r.ChunksDeleted))
	})

	cfg := Config{Roots: []string{root}, Threads: 4, ExcludeDirs: DefaultExcludeDirs}
	summary, err := NewScheduler(cfg, prune.NewExecutor(prune.Options{Threshold: 100}, nil), sinkA, sinkB).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, seen, 12)
	assert.Equal(t, summary.Stats.ChunksDeleted, deleted.Load())
}

func TestRun_ProcessorErrorWithoutResult(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 2)

	proc := processorFunc(func(ctx context.Context, path string) (prune.Result, error) {
		return prune.Result{}, fmt.Errorf("boom")
	})
	summary, err := NewScheduler(Config{Roots: []string{root}, Threads: 1, ExcludeDirs: DefaultExcludeDirs}, proc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Stats.ContainersFailed)
	assert.Equal(t, int64(2), summary.Stats.Errors[prune.KindIO])
	for _, r := range summary.Results {
		assert.NotEmpty(t, r.Path)
	}
}

type countingSink struct {
	discovered atomic.Int64
	done       atomic.Int64
}

func (s *countingSink) Discovered(n int) { s.discovered.Store(int64(n)) }
func (s *countingSink) ContainerDone(prune.Result) { s.done.Add(1) }

func TestRun_DiscoverySink(t *testing.T) {
	root := t.TempDir()
	buildWorld(t, root, 6)

	sink := &countingSink{}
	cfg := Config{Roots: []string{root}, Threads: 3, ExcludeDirs: DefaultExcludeDirs}
	summary, err := NewScheduler(cfg, prune.NewExecutor(prune.Options{Threshold: 100, DryRun: true}, nil), sink).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), sink.discovered.Load())
	assert.Equal(t, int64(summary.Discovered), sink.done.Load())
}
