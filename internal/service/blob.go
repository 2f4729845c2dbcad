package service

import (
	"context"
	"io"
)

// BlobStore keeps submission attachments. The returned reference is opaque to callers
// and is what Delete expects back.
type BlobStore interface {
	Store(ctx context.Context, name string, reader io.Reader, size int64) (string, error)
	Delete(ctx context.Context, ref string) error
	// Exists reports whether ref names a stored attachment.
	Exists(ctx context.Context, ref string) (bool, error)
}
