package objectstore

import (
	"context"
	"io"
	"time"
)

// Recorder receives one observation per store operation. It keeps this
// package independent of the metrics package.
type Recorder interface {
	RecordObjectOp(op string, durationSeconds float64, success bool, bytes int64)
}

// InstrumentedStore wraps a Store and records every operation.
type InstrumentedStore struct {
	store   Store
	metrics Recorder
}

// NewInstrumentedStore wraps store. A nil recorder makes it a pass-through.
func NewInstrumentedStore(store Store, metrics Recorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error, bytes int64) {
	if s.metrics != nil {
		s.metrics.RecordObjectOp(op, time.Since(start).Seconds(), err == nil, bytes)
	}
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	start := time.Now()
	err := s.store.Put(ctx, key, r, size, opts)
	bytes := size
	if err != nil {
		bytes = 0
	}
	s.record("put", start, err, bytes)
	return err
}

// Get records the operation when the returned reader is closed, so the byte
// count covers what the caller actually read.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, key)
	if err != nil || s.metrics == nil {
		if err != nil {
			s.record("get", start, err, 0)
		}
		return rc, err
	}
	return &instrumentedReadCloser{ReadCloser: rc, start: start, store: s}, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, key)
	s.record("head", start, err, 0)
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.record("delete", start, err, 0)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix)
	s.record("list", start, err, 0)
	return result, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

type instrumentedReadCloser struct {
	io.ReadCloser
	start     time.Time
	store     *InstrumentedStore
	bytesRead int64
	readErr   bool
	closed    bool
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.readErr = true
	}
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ReadCloser.Close()
	success := err == nil && !r.readErr
	if s := r.store; s.metrics != nil {
		s.metrics.RecordObjectOp("get", time.Since(r.start).Seconds(), success, r.bytesRead)
	}
	return err
}

var _ Store = (*InstrumentedStore)(nil)
