// Package fs implements objectstore.Store on a local directory. Keys map to
// slash-separated paths below the root; objects are written to a temporary
// file and moved into place so a partial archive is never visible.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/anvilprune/anvilprune/internal/objectstore"
)

const tempPrefix = ".tmp-"

// Store keeps objects as files under Root. ContentType and Metadata are not
// persisted.
type Store struct {
	root   string
	mu     sync.RWMutex
	closed bool
}

// New opens a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("fs: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("fs: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute base directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return objectstore.ErrClosed
	}
	return nil
}

func (s *Store) path(op, key string) (string, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return "", &objectstore.ObjectError{Op: op, Key: key, Err: err}
	}
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, tempPrefix) {
			return "", &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrInvalidKey}
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes the object to a temporary file in the destination directory,
// syncs it, then links or renames it into place.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, opts objectstore.PutOptions) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	dst, err := s.path("Put", key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, r)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("read %d bytes, expected %d", n, size)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.wrapError("Put", key, err)
	}

	if opts.IfAbsent {
		// Link fails when dst exists, which makes the create atomic.
		err = os.Link(tmpPath, dst)
	} else {
		err = os.Rename(tmpPath, dst)
	}
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	p, err := s.path("Get", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	return f, nil
}

func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	p, err := s.path("Head", key)
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return objectstore.ObjectMeta{}, s.wrapError("Head", key, err)
	}
	if info.IsDir() {
		return objectstore.ObjectMeta{}, &objectstore.ObjectError{Op: "Head", Key: key, Err: objectstore.ErrNotFound}
	}
	return meta(key, info), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	p, err := s.path("Delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return s.wrapError("Delete", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	// Walk from the deepest directory the prefix fully names.
	base := s.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		base = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var results []objectstore.ObjectMeta
	err := filepath.WalkDir(base, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return iofs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		results = append(results, meta(key, info))
		return nil
	})
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}

	slices.SortFunc(results, func(a, b objectstore.ObjectMeta) int {
		return strings.Compare(a.Key, b.Key)
	})
	return results, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func meta(key string, info iofs.FileInfo) objectstore.ObjectMeta {
	return objectstore.ObjectMeta{
		Key:          key,
		Size:         info.Size(),
		ETag:         fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()),
		LastModified: info.ModTime().UnixMilli(),
	}
}

func (s *Store) wrapError(op, key string, err error) error {
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		err = objectstore.ErrNotFound
	case errors.Is(err, iofs.ErrExist):
		err = objectstore.ErrPreconditionFailed
	case errors.Is(err, iofs.ErrPermission):
		err = objectstore.ErrAccessDenied
	case errors.Is(err, syscall.ENOTDIR):
		err = objectstore.ErrInvalidKey
	}
	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

var _ objectstore.Store = (*Store)(nil)
