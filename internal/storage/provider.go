// Package storage ships finished crawl artifacts to a blob store. The
// concrete stores live in the gcs and local subpackages.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOp discards uploads. It backs the "none" provider.
type NoOp struct{}

// PutObject reads nothing and returns an empty URI.
func (NoOp) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}

// Uploader copies local artifact files into a BlobStore under a prefix.
type Uploader struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewUploader builds an uploader. A nil store behaves like NoOp.
func NewUploader(store BlobStore, prefix string, logger *zap.Logger) *Uploader {
	if store == nil {
		store = NoOp{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// UploadArtifacts uploads each file as <prefix>/<basename> and returns the
// resulting URIs in order. It stops at the first failure.
func (u *Uploader) UploadArtifacts(ctx context.Context, files []string) ([]string, error) {
	uris := make([]string, 0, len(files))
	for _, file := range files {
		uri, err := u.upload(ctx, file)
		if err != nil {
			return uris, err
		}
		if uri != "" {
			uris = append(uris, uri)
			u.logger.Info("uploaded artifact", zap.String("file", file), zap.String("uri", uri))
		}
	}
	return uris, nil
}

func (u *Uploader) upload(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file) // #nosec G304 -- artifact paths come from the csv sink.
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck

	key := filepath.Base(file)
	if u.prefix != "" {
		key = path.Join(u.prefix, key)
	}
	uri, err := u.store.PutObject(ctx, key, contentType(file), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return uri, nil
}

func contentType(file string) string {
	if strings.EqualFold(filepath.Ext(file), ".csv") {
		return "text/csv"
	}
	return "application/octet-stream"
}
