package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/fordonad/inventory-ingest/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gstorage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "diagnostics"})
	require.NoError(t, err)
	return store
}

func TestBlobStore_PutObject(t *testing.T) {
	t.Parallel()

	var uploadedPath string
	var uploadedBody string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/upload/storage/v1/b/diagnostics/o")
		require.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploadedBody = string(body)

		// The multipart payload carries the object metadata JSON with the
		// name, followed by the content itself.
		if idx := strings.Index(uploadedBody, `"name":"`); idx >= 0 {
			rest := uploadedBody[idx+len(`"name":"`):]
			uploadedPath = rest[:strings.Index(rest, `"`)]
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name":%q,"bucket":"diagnostics"}`, uploadedPath)
	})

	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(),
		"snapshots/cust-1/run-1/abc.html", "text/html; charset=utf-8", []byte("<html>fel</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://diagnostics/snapshots/cust-1/run-1/abc.html", uri)
	require.Equal(t, "snapshots/cust-1/run-1/abc.html", uploadedPath)
	require.Contains(t, uploadedBody, "<html>fel</html>")
}

func TestBlobStore_PutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := store.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestBlobStore_UploadFailureSurfaces(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "snapshots/x.html", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "diagnostics"})
	require.Error(t, err)

	client, err := gstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}
