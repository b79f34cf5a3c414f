package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store for tests. FailPut, when set, is returned
// by every Put before anything is stored.
type MockStore struct {
	mu      sync.RWMutex
	objects map[string]mockObject
	closed  bool

	FailPut error
}

type mockObject struct {
	data []byte
	meta ObjectMeta
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects: make(map[string]mockObject),
	}
}

func (s *MockStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	if err := ValidateKey(key); err != nil {
		return &ObjectError{Op: "Put", Key: key, Err: err}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return &ObjectError{Op: "Put", Key: key, Err: err}
	}
	if size >= 0 && int64(len(data)) != size {
		return &ObjectError{Op: "Put", Key: key, Err: fmt.Errorf("read %d bytes, expected %d", len(data), size)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.FailPut != nil {
		return &ObjectError{Op: "Put", Key: key, Err: s.FailPut}
	}
	if _, exists := s.objects[key]; exists && opts.IfAbsent {
		return &ObjectError{Op: "Put", Key: key, Err: ErrPreconditionFailed}
	}

	sum := md5.Sum(data)
	s.objects[key] = mockObject{
		data: data,
		meta: ObjectMeta{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(sum[:]),
			LastModified: time.Now().UnixMilli(),
			Metadata:     maps.Clone(opts.Metadata),
		},
	}
	return nil
}

func (s *MockStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.lookup("Get", key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MockStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	obj, err := s.lookup("Head", key)
	if err != nil {
		return ObjectMeta{}, err
	}
	return obj.meta, nil
}

func (s *MockStore) lookup(op, key string) (mockObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return mockObject{}, ErrClosed
	}
	obj, exists := s.objects[key]
	if !exists {
		return mockObject{}, &ObjectError{Op: op, Key: key, Err: ErrNotFound}
	}
	return obj, nil
}

func (s *MockStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.objects, key)
	return nil
}

func (s *MockStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var result []ObjectMeta
	for _, key := range slices.Sorted(maps.Keys(s.objects)) {
		if strings.HasPrefix(key, prefix) {
			result = append(result, s.objects[key].meta)
		}
	}
	return result, nil
}

// Keys returns every stored key in order.
func (s *MockStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)
