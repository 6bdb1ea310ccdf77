package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/erp/pricesync/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewS3ArchiveStore_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3ArchiveStore(ctx, nil)
	assert.ErrorContains(t, err, "configuration is required")

	_, err = NewS3ArchiveStore(ctx, &config.StorageConfig{})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3ArchiveStore(ctx, &config.StorageConfig{Bucket: "b", AccessKey: "only-key"})
	assert.ErrorContains(t, err, "must be set together")
}

func TestNormalizeEndpoint(t *testing.T) {
	got, err := normalizeEndpoint("minio:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000", got)

	got, err = normalizeEndpoint("s3.example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com", got)

	got, err = normalizeEndpoint("", true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// fakeS3 records PUT requests made with path-style addressing
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.objects[r.URL.Path] = string(body)
	f.types[r.URL.Path] = r.Header.Get("Content-Type")
	f.mu.Unlock()
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func TestS3ArchiveStore_Put(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3ArchiveStore(context.Background(), &config.StorageConfig{
		Endpoint:     srv.URL,
		Bucket:       "archive",
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
		Prefix:       "/conflict-archive/",
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	// A non-seekable reader exercises the buffering path.
	body := io.MultiReader(strings.NewReader(`{"id":1}`+"\n"), strings.NewReader(`{"id":2}`+"\n"))
	loc, err := store.Put(context.Background(), "tenant/2026-01-01.jsonl", body, "application/x-ndjson")
	require.NoError(t, err)
	assert.Equal(t, "s3://archive/conflict-archive/tenant/2026-01-01.jsonl", loc)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", fake.objects["/archive/conflict-archive/tenant/2026-01-01.jsonl"])
	assert.Equal(t, "application/x-ndjson", fake.types["/archive/conflict-archive/tenant/2026-01-01.jsonl"])
}

func TestS3ArchiveStore_PutRequiresKey(t *testing.T) {
	store, err := NewS3ArchiveStore(context.Background(), &config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)
}

func TestMemoryArchiveStore(t *testing.T) {
	store := NewMemoryArchiveStore()
	loc, err := store.Put(context.Background(), "a.jsonl", strings.NewReader("line\n"), "application/x-ndjson")
	require.NoError(t, err)
	assert.Equal(t, "mem://a.jsonl", loc)
	assert.Equal(t, []byte("line\n"), store.Objects()["a.jsonl"])
}
