package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/collection-sync/internal/publish/gcs"
)

// newTestUploader points an uploader at a fake GCS JSON API.
func newTestUploader(t *testing.T, handler http.Handler, prefix string) *gcs.Uploader {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	uploader, err := gcs.New(client, gcs.Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return uploader
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/out/12345.wacz", []byte("container-bytes"), 0o644))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "collections/12345.wacz", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "container-bytes")
		assert.Contains(t, string(body), gcs.ContainerContentType)

		fmt.Fprintln(w, `{"name":"collections/12345.wacz","bucket":"test-bucket"}`)
	})
	uploader := newTestUploader(t, handler, "/collections/")

	uri, err := uploader.UploadFile(context.Background(), fsys, "/out/12345.wacz")
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/collections/12345.wacz", uri)
}

func TestUploadFile_MissingLocal(t *testing.T) {
	t.Parallel()

	uploader := newTestUploader(t, http.NotFoundHandler(), "")
	_, err := uploader.UploadFile(context.Background(), afero.NewMemMapFs(), "/out/none.wacz")
	require.Error(t, err)
}

func TestUploadFile_ServerError(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/out/1.wacz", []byte("x"), 0o644))

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	uploader := newTestUploader(t, handler, "")

	_, err := uploader.UploadFile(context.Background(), fsys, "/out/1.wacz")
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	plain, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "12345.wacz", plain.ObjectName("/data/12345.wacz"))

	prefixed, err := gcs.New(client, gcs.Config{Bucket: "b", Prefix: "a/b/"})
	require.NoError(t, err)
	assert.Equal(t, "a/b/12345.wacz", prefixed.ObjectName("/data/12345.wacz"))
}
