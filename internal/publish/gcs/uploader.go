// Package gcs uploads finished containers to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
)

// ContainerContentType is the media type recorded on uploaded containers.
const ContainerContentType = "application/wacz"

// Config captures the destination bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader writes local files to a configured GCS bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed uploader.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName maps a local file onto its object key under the prefix.
func (u *Uploader) ObjectName(localPath string) string {
	base := filepath.Base(localPath)
	if u.prefix == "" {
		return base
	}
	return path.Join(u.prefix, base)
}

// UploadFile streams localPath from fsys into the bucket and returns a gs:// URI.
func (u *Uploader) UploadFile(ctx context.Context, fsys afero.Fs, localPath string) (string, error) {
	f, err := fsys.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	return u.PutObject(ctx, u.ObjectName(localPath), ContainerContentType, f)
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (u *Uploader) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, name), nil
}
