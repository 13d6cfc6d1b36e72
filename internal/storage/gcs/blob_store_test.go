package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/gcs"
)

const bucketName = "test-bucket"

// newTestStore creates a BlobStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: bucketName})
	require.NoError(t, err)
	return store
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: bucketName})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObject(t *testing.T) {
	objectName := "example.com/abc.html"
	objectData := []byte("<html>archived</html>")

	// Simulates the GCS JSON API for multipart uploads.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucketName))
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))

		fmt.Fprintf(w, `{"name": %q, "bucket": %q}`, objectName, bucketName)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), objectName, "text/html", bytes.NewReader(objectData))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/example.com/abc.html", uri)

	_, err = store.PutObject(context.Background(), " ", "text/html", bytes.NewReader(objectData))
	assert.Error(t, err)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "object", "text/html", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestGetObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing.html") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "<html>archived</html>")
	})
	store := newTestStore(t, handler)
	ctx := context.Background()

	data, err := store.GetObject(ctx, "gs://test-bucket/example.com/abc.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>archived</html>", string(data))

	_, err = store.GetObject(ctx, "gs://test-bucket/missing.html")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)

	_, err = store.GetObject(ctx, "gs://other-bucket/abc.html")
	assert.Error(t, err)

	_, err = store.GetObject(ctx, "file:///tmp/abc.html")
	assert.Error(t, err)
}
