// Package backup archives original containers to an object store before the
// pruner rewrites or deletes them.
//
// Each container is compressed with zstd and stored under
//
//	<prefix>/<run id>/<root name>/<path below root>.zst
//
// together with the external .mcc files it references, so one run can be
// restored by decompressing every object under its run prefix.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/anvilprune/anvilprune/internal/logging"
	"github.com/anvilprune/anvilprune/internal/objectstore"
	"github.com/anvilprune/anvilprune/internal/region"
)

const (
	// Suffix is appended to every archived file name.
	Suffix = ".zst"

	contentType = "application/zstd"
)

// Config configures an Archiver.
type Config struct {
	// Prefix is the first key segment. Default: "anvilprune".
	Prefix string
	// RunID separates the archives of different runs. Default: a new UUID.
	RunID string
	// Roots are the sweep roots; keys are built relative to them.
	Roots []string
	Level zstd.EncoderLevel
}

// Archiver implements prune.Archiver. It is safe for concurrent use.
type Archiver struct {
	store  objectstore.Store
	prefix string
	roots  []string
	enc    *zstd.Encoder
}

// New creates an archiver writing to store.
func New(store objectstore.Store, cfg Config) (*Archiver, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "anvilprune"
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Level == 0 {
		cfg.Level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.Level), zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, fmt.Errorf("backup: create encoder: %w", err)
	}

	roots := make([]string, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("backup: root %s: %w", r, err)
		}
		roots = append(roots, abs)
	}

	return &Archiver{
		store:  store,
		prefix: objectstore.JoinKey(cfg.Prefix, cfg.RunID),
		roots:  roots,
		enc:    enc,
	}, nil
}

// Prefix returns the key prefix shared by every archive of this run.
func (a *Archiver) Prefix() string {
	return a.prefix
}

// Archive stores path and the external payload files it references. It
// returns only after every object is durable in the store.
func (a *Archiver) Archive(ctx context.Context, path string) error {
	log := logging.FromCtx(ctx)

	key, err := a.Key(path)
	if err != nil {
		return err
	}
	stored, err := a.archiveFile(ctx, path, key)
	if err != nil {
		return err
	}

	externals, err := externalFiles(path)
	if err != nil {
		return err
	}
	for _, ext := range externals {
		extKey, err := a.Key(ext)
		if err != nil {
			return err
		}
		if _, err := a.archiveFile(ctx, ext, extKey); err != nil {
			return err
		}
	}

	log.Debugf("archived container", map[string]any{
		"key":       key,
		"bytes":     stored,
		"externals": len(externals),
	})
	return nil
}

func (a *Archiver) archiveFile(ctx context.Context, path, key string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("backup: read %s: %w", path, err)
	}
	compressed := a.enc.EncodeAll(data, make([]byte, 0, len(data)/2))

	err = a.store.Put(ctx, key, bytes.NewReader(compressed), int64(len(compressed)), objectstore.PutOptions{
		ContentType: contentType,
		IfAbsent:    true,
		Metadata: map[string]string{
			"source-path": path,
			"source-size": strconv.Itoa(len(data)),
		},
	})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		// Already archived by this run; the existing copy predates any change.
		return len(compressed), nil
	}
	if err != nil {
		return 0, fmt.Errorf("backup: store %s: %w", path, err)
	}
	return len(compressed), nil
}

// Key returns the object key path is archived under.
func (a *Archiver) Key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	rel := ""
	for _, root := range a.roots {
		if abs == root {
			rel = filepath.Base(abs)
			break
		}
		r, err := filepath.Rel(root, abs)
		if err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			rel = filepath.Join(filepath.Base(root), r)
			break
		}
	}
	if rel == "" {
		rel = strings.TrimPrefix(abs, filepath.VolumeName(abs))
	}

	key := objectstore.JoinKey(a.prefix, filepath.ToSlash(rel)+Suffix)
	if err := objectstore.ValidateKey(key); err != nil {
		return "", fmt.Errorf("backup: key for %s: %w", path, err)
	}
	return key, nil
}

// externalFiles lists the .mcc files that exist for populated slots of the
// container at path.
func externalFiles(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	defer f.Close()

	h, err := region.ReadHeader(f)
	if err != nil {
		// An unreadable header has no slots to follow; the container bytes
		// themselves are already archived.
		return nil, nil
	}

	var files []string
	for _, slot := range h.Populated() {
		ext, err := region.ExternalPath(path, slot)
		if err != nil {
			return nil, nil
		}
		if _, err := os.Stat(ext); err == nil {
			files = append(files, ext)
		} else if !errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("backup: %w", err)
		}
	}
	return files, nil
}

// Restore decompresses the archive stored at key into w.
func Restore(ctx context.Context, store objectstore.Store, key string, w io.Writer) (int64, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	dec, err := zstd.NewReader(rc)
	if err != nil {
		return 0, fmt.Errorf("backup: %w", err)
	}
	defer dec.Close()

	n, err := io.Copy(w, dec)
	if err != nil {
		return n, fmt.Errorf("backup: restore %s: %w", key, err)
	}
	return n, nil
}

// Close releases the encoder.
func (a *Archiver) Close() error {
	return a.enc.Close()
}
