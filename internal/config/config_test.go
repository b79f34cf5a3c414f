package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilprune/anvilprune/internal/prune"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Prune.InhabitedTime != 100 {
		t.Errorf("expected default inhabited time 100, got %d", cfg.Prune.InhabitedTime)
	}
	if cfg.Prune.Threads < 1 {
		t.Errorf("expected at least one thread, got %d", cfg.Prune.Threads)
	}
	if cfg.Prune.OnChunkError != "keep" {
		t.Errorf("expected default chunk error policy keep, got %s", cfg.Prune.OnChunkError)
	}
	if cfg.Prune.DryRun || cfg.Prune.DeleteRegions {
		t.Error("expected dry run and region deletion to be off by default")
	}
	if cfg.Backup.Target != "" {
		t.Errorf("expected backups disabled by default, got %q", cfg.Backup.Target)
	}
	assert.Equal(t, []string{"entities", "poi"}, cfg.Prune.ExcludeDirs)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
prune:
  paths: [/srv/world]
  threads: 4
  inhabitedTime: 1200
  deleteRegions: true
  onChunkError: delete
backup:
  target: s3
  bucket: world-backups
  level: best
report:
  path: /tmp/report.parquet
observability:
  logLevel: debug
  logFormat: json
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/world"}, cfg.Prune.Paths)
	assert.Equal(t, 4, cfg.Prune.Threads)
	assert.Equal(t, int64(1200), cfg.Prune.InhabitedTime)
	assert.True(t, cfg.Prune.DeleteRegions)
	assert.Equal(t, "world-backups", cfg.Backup.Bucket)
	assert.Equal(t, "us-east-1", cfg.Backup.Region, "unset keys keep defaults")
	assert.Equal(t, "/tmp/report.parquet", cfg.Report.Path)
	require.NoError(t, cfg.Validate())

	opts, err := cfg.PruneOptions()
	require.NoError(t, err)
	assert.Equal(t, prune.Options{Threshold: 1200, DeleteRegions: true, OnChunkError: prune.DeleteOnError}, opts)

	level, err := cfg.Backup.EncoderLevel()
	require.NoError(t, err)
	assert.Equal(t, zstd.SpeedBestCompression, level)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Prune.InhabitedTime, cfg.Prune.InhabitedTime)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("prune:\n  treshold: 5\n"))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvilprune.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prune:\n  threads: 3\n  paths: [a, b]\n"), 0o644))

	t.Setenv("ANVILPRUNE_THREADS", "7")
	t.Setenv("ANVILPRUNE_EXCLUDE_DIRS", "entities, poi ,data")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Prune.Threads, "environment overrides the file")
	assert.Equal(t, []string{"a", "b"}, cfg.Prune.Paths)
	assert.Equal(t, []string{"entities", "poi", "data"}, cfg.Prune.ExcludeDirs)

	_, err = LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANVILPRUNE_INHABITED_TIME", "72000")
	t.Setenv("ANVILPRUNE_DRY_RUN", "true")
	t.Setenv("ANVILPRUNE_S3_BUCKET", "bkt")
	t.Setenv("ANVILPRUNE_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(72000), cfg.Prune.InhabitedTime)
	assert.True(t, cfg.Prune.DryRun)
	assert.Equal(t, "bkt", cfg.Backup.Bucket)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("ANVILPRUNE_THREADS", "many")

	_, err := Load()
	var fe *FatalConfigError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "ANVILPRUNE_THREADS", fe.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no paths", func(c *Config) { c.Prune.Paths = nil }, "prune.paths"},
		{"zero threads", func(c *Config) { c.Prune.Threads = 0 }, "prune.threads"},
		{"negative threshold", func(c *Config) { c.Prune.InhabitedTime = -1 }, "prune.inhabitedTime"},
		{"bad policy", func(c *Config) { c.Prune.OnChunkError = "maybe" }, "prune.onChunkError"},
		{"fs without dir", func(c *Config) { c.Backup.Target = BackupTargetFS }, "backup.dir"},
		{"s3 without bucket", func(c *Config) { c.Backup.Target = BackupTargetS3 }, "backup.bucket"},
		{"unknown target", func(c *Config) { c.Backup.Target = "tape" }, "backup.target"},
		{"bad level", func(c *Config) {
			c.Backup.Target = BackupTargetFS
			c.Backup.Dir = "/backups"
			c.Backup.Level = "ultra"
		}, "backup.level"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "loud" }, "observability.logLevel"},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "observability.logFormat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Prune.Paths = []string{"/srv/world"}
			tt.mutate(cfg)

			err := cfg.Validate()
			var fe *FatalConfigError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}

	cfg := Default()
	cfg.Prune.Paths = []string{"/srv/world"}
	require.NoError(t, cfg.Validate())
}
