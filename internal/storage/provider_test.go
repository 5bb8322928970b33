package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func (s *recordingStore) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.objects == nil {
		s.objects = make(map[string]string)
		s.types = make(map[string]string)
	}
	s.objects[path] = string(data)
	s.types[path] = contentType
	return "mem://" + path, nil
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestUploadArtifactsUsesPrefix(t *testing.T) {
	dir := t.TempDir()
	msgs := writeFile(t, dir, "slack_messages_a-b.csv", "m")
	rx := writeFile(t, dir, "slack_reactions_a-b.csv", "r")

	store := &recordingStore{}
	uris, err := NewUploader(store, "/slack-history/", nil).UploadArtifacts(context.Background(), []string{msgs, rx})
	require.NoError(t, err)
	require.Equal(t, []string{
		"mem://slack-history/slack_messages_a-b.csv",
		"mem://slack-history/slack_reactions_a-b.csv",
	}, uris)
	require.Equal(t, "m", store.objects["slack-history/slack_messages_a-b.csv"])
	require.Equal(t, "text/csv", store.types["slack-history/slack_reactions_a-b.csv"])
}

func TestUploadArtifactsStopsOnError(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "x.csv", "x")
	_, err := NewUploader(&recordingStore{err: errors.New("quota")}, "", nil).
		UploadArtifacts(context.Background(), []string{f})
	require.ErrorContains(t, err, "quota")

	_, err = NewUploader(&recordingStore{}, "", nil).
		UploadArtifacts(context.Background(), []string{filepath.Join(dir, "missing.csv")})
	require.Error(t, err)
}

func TestNilStoreIsNoOp(t *testing.T) {
	f := writeFile(t, t.TempDir(), "x.csv", "x")
	uris, err := NewUploader(nil, "p", nil).UploadArtifacts(context.Background(), []string{f})
	require.NoError(t, err)
	require.Empty(t, uris)
}
