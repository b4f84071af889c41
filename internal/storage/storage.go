// Package storage is the staging area between upload intake and the
// processing pipeline: raw bytes go in at upload time and the worker reads
// them back by key.
package storage

import (
	"context"
	"io"
)

type Storage interface {
	Upload(ctx context.Context, bucket, path string, data io.Reader, contentType string) error
	Download(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, path string) error
}
