package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilprune/anvilprune/internal/objectstore"
)

const testBucket = "world-backups"

// fakeS3 serves the handful of path-style S3 operations the store issues.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != testBucket {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "":
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPut:
		if _, exists := f.objects[key]; exists && r.Header.Get("If-None-Match") == "*" {
			writeError(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = fakeObject{data: data, contentType: r.Header.Get("Content-Type"), modified: time.Now().UTC()}
		w.Header().Set("ETag", etag(data))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("ETag", etag(obj.data))
		w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.data)
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", testBucket, prefix, len(keys))
	for _, k := range keys {
		obj := f.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><LastModified>%s</LastModified><ETag>%s</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>",
			k, obj.modified.Format("2006-01-02T15:04:05.000Z"), etag(obj.data), len(obj.data))
	}
	b.WriteString("</ListBucketResult>")

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, b.String())
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><RequestId>test</RequestId></Error>`, code, code)
}

func etag(data []byte) string {
	return fmt.Sprintf(`"%08x"`, len(data))
}

func newTestStore(t *testing.T, bucket string) *Store {
	t.Helper()
	srv := httptest.NewServer(&fakeS3{objects: make(map[string]fakeObject)})
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Config{
		Bucket:          bucket,
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func putString(t *testing.T, s *Store, key, body string, opts objectstore.PutOptions) error {
	t.Helper()
	return s.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), opts)
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	store := newTestStore(t, testBucket)
	assert.Equal(t, testBucket, store.Bucket())
}

func TestPutGetHead(t *testing.T) {
	store := newTestStore(t, testBucket)
	ctx := context.Background()

	require.NoError(t, putString(t, store, "anvilprune/run/region/r.0.0.mca.zst", "archive", objectstore.PutOptions{ContentType: "application/zstd"}))

	rc, err := store.Get(ctx, "anvilprune/run/region/r.0.0.mca.zst")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))

	meta, err := store.Head(ctx, "anvilprune/run/region/r.0.0.mca.zst")
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)
	assert.Equal(t, "application/zstd", meta.ContentType)
	assert.NotEmpty(t, meta.ETag)
	assert.NotZero(t, meta.LastModified)
}

func TestPutIfAbsent(t *testing.T) {
	store := newTestStore(t, testBucket)

	require.NoError(t, putString(t, store, "k", "one", objectstore.PutOptions{IfAbsent: true}))
	err := putString(t, store, "k", "two", objectstore.PutOptions{IfAbsent: true})
	assert.ErrorIs(t, err, objectstore.ErrPreconditionFailed)
	require.NoError(t, putString(t, store, "k", "three", objectstore.PutOptions{}))
}

func TestNotFound(t *testing.T) {
	store := newTestStore(t, testBucket)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	_, err = store.Head(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	var oe *objectstore.ObjectError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "Head", oe.Op)
	assert.Equal(t, "missing", oe.Key)
}

func TestBucketNotFound(t *testing.T) {
	store := newTestStore(t, "no-such-bucket")

	err := putString(t, store, "k", "x", objectstore.PutOptions{})
	assert.ErrorIs(t, err, objectstore.ErrBucketNotFound)
}

func TestDeleteAndList(t *testing.T) {
	store := newTestStore(t, testBucket)
	ctx := context.Background()

	for _, key := range []string{"run/region/r.1.0.mca.zst", "run/region/r.0.0.mca.zst", "other/x"} {
		require.NoError(t, putString(t, store, key, "data", objectstore.PutOptions{}))
	}

	list, err := store.List(ctx, "run/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run/region/r.0.0.mca.zst", list[0].Key)
	assert.Equal(t, int64(4), list[0].Size)

	require.NoError(t, store.Delete(ctx, "run/region/r.0.0.mca.zst"))
	list, err = store.List(ctx, "run/")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInvalidKey(t *testing.T) {
	store := newTestStore(t, testBucket)
	assert.ErrorIs(t, putString(t, store, "../x", "x", objectstore.PutOptions{}), objectstore.ErrInvalidKey)
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t, testBucket)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, putString(t, store, "k", "x", objectstore.PutOptions{}), objectstore.ErrClosed)
	_, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, objectstore.ErrClosed)
	_, err = store.List(context.Background(), "")
	assert.ErrorIs(t, err, objectstore.ErrClosed)
}

func TestWrapError(t *testing.T) {
	status := func(code int) error {
		return &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
				Err:      errors.New("status"),
			},
		}
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"api not found", &smithy.GenericAPIError{Code: "NotFound"}, objectstore.ErrNotFound},
		{"api access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, objectstore.ErrAccessDenied},
		{"api precondition", &smithy.GenericAPIError{Code: "PreconditionFailed"}, objectstore.ErrPreconditionFailed},
		{"api bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, objectstore.ErrBucketNotFound},
		{"http 404", status(http.StatusNotFound), objectstore.ErrNotFound},
		{"http 403", status(http.StatusForbidden), objectstore.ErrAccessDenied},
		{"http 412", status(http.StatusPreconditionFailed), objectstore.ErrPreconditionFailed},
	}

	s := &Store{bucket: testBucket}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.wrapError("Put", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	other := errors.New("boom")
	err := s.wrapError("Get", "k", other)
	assert.ErrorIs(t, err, other)
}
