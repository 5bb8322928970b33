package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/slack-history-crawler/internal/storage/gcs"
)

func dialTest(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := gcs.Dial(context.Background(), gcs.Config{Bucket: "history-bucket"},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/history-bucket/o")
		assert.Equal(t, "slack-history/slack_messages.csv", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "channel_id,channel_name")
		fmt.Fprintln(w, `{"name": "slack-history/slack_messages.csv", "bucket": "history-bucket"}`)
	})
	store := dialTest(t, handler)

	uri, err := store.PutObject(context.Background(), "slack-history/slack_messages.csv", "text/csv",
		strings.NewReader("channel_id,channel_name\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://history-bucket/slack-history/slack_messages.csv", uri)
}

func TestPutObjectServerError(t *testing.T) {
	store := dialTest(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "x.csv", "text/csv", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	store := dialTest(t, http.NotFoundHandler())
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}
