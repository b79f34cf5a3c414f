package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/klauspost/compress/zstd"

	"github.com/anvilprune/anvilprune/internal/prune"
)

// FatalConfigError is a setup problem that stops the run before any container
// is touched.
type FatalConfigError struct {
	Field string
	Err   error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

// Fatalf returns a *FatalConfigError for field.
func Fatalf(field, format string, args ...any) *FatalConfigError {
	return &FatalConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err is a *FatalConfigError.
func IsFatal(err error) bool {
	var fe *FatalConfigError
	return errors.As(err, &fe)
}

func defaultThreads() int {
	return runtime.NumCPU()
}

// Validate checks the configuration. Errors are *FatalConfigError.
func (c *Config) Validate() error {
	if len(c.Prune.Paths) == 0 {
		return Fatalf("prune.paths", "at least one path is required")
	}
	if c.Prune.Threads < 1 {
		return Fatalf("prune.threads", "must be at least 1, got %d", c.Prune.Threads)
	}
	if c.Prune.InhabitedTime < 0 {
		return Fatalf("prune.inhabitedTime", "must not be negative, got %d", c.Prune.InhabitedTime)
	}
	if _, err := prune.ParseChunkErrorPolicy(c.Prune.OnChunkError); err != nil {
		return &FatalConfigError{Field: "prune.onChunkError", Err: err}
	}

	switch c.Backup.Target {
	case "":
	case BackupTargetFS:
		if c.Backup.Dir == "" {
			return Fatalf("backup.dir", "required for the fs target")
		}
	case BackupTargetS3:
		if c.Backup.Bucket == "" {
			return Fatalf("backup.bucket", "required for the s3 target")
		}
	default:
		return Fatalf("backup.target", "unknown target %q (want fs or s3)", c.Backup.Target)
	}
	if c.Backup.Target != "" {
		if _, err := c.Backup.EncoderLevel(); err != nil {
			return &FatalConfigError{Field: "backup.level", Err: err}
		}
	}

	switch c.Observability.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return Fatalf("observability.logLevel", "unknown level %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return Fatalf("observability.logFormat", "unknown format %q", c.Observability.LogFormat)
	}
	return nil
}

// PruneOptions converts the prune section into executor options.
func (c *Config) PruneOptions() (prune.Options, error) {
	policy, err := prune.ParseChunkErrorPolicy(c.Prune.OnChunkError)
	if err != nil {
		return prune.Options{}, &FatalConfigError{Field: "prune.onChunkError", Err: err}
	}
	return prune.Options{
		Threshold:     c.Prune.InhabitedTime,
		DryRun:        c.Prune.DryRun,
		DeleteRegions: c.Prune.DeleteRegions,
		OnChunkError:  policy,
	}, nil
}

// EncoderLevel maps the configured archive compression level to zstd.
func (b BackupConfig) EncoderLevel() (zstd.EncoderLevel, error) {
	if b.Level == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(b.Level)
	if !ok {
		return 0, fmt.Errorf("unknown zstd level %q (want fastest, default, better or best)", b.Level)
	}
	return level, nil
}
