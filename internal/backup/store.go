package backup

import (
	"context"
	"fmt"

	"github.com/anvilprune/anvilprune/internal/config"
	"github.com/anvilprune/anvilprune/internal/objectstore"
	"github.com/anvilprune/anvilprune/internal/objectstore/fs"
	"github.com/anvilprune/anvilprune/internal/objectstore/s3"
)

// OpenStore opens the store selected by cfg.Target and wraps it with rec.
// It returns nil when backups are disabled.
func OpenStore(ctx context.Context, cfg config.BackupConfig, rec objectstore.Recorder) (objectstore.Store, error) {
	var (
		store objectstore.Store
		err   error
	)
	switch cfg.Target {
	case "":
		return nil, nil
	case config.BackupTargetFS:
		store, err = fs.New(cfg.Dir)
	case config.BackupTargetS3:
		store, err = s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		})
	default:
		return nil, config.Fatalf("backup.target", "unknown target %q", cfg.Target)
	}
	if err != nil {
		return nil, &config.FatalConfigError{Field: "backup", Err: fmt.Errorf("open %s store: %w", cfg.Target, err)}
	}
	return objectstore.NewInstrumentedStore(store, rec), nil
}
