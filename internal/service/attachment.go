package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/upskill-api/internal/observability"
)

var (
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
	// ErrUploadScanFailed indicates validation of the file failed.
	ErrUploadScanFailed = errors.New("file scanning failed")
)

type attachmentStore struct {
	blobs   BlobStore
	maxSize int64
}

func newAttachmentStore(blobs BlobStore, maxSizeMB int) *attachmentStore {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &attachmentStore{blobs: blobs, maxSize: int64(maxSizeMB) * 1024 * 1024}
}

// put validates the file and stores it, returning the blob reference.
func (a *attachmentStore) put(ctx context.Context, span trace.Span, file *multipart.FileHeader) (string, error) {
	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	span.SetAttributes(
		attribute.String("upload.original_name", strings.TrimSpace(file.Filename)),
		attribute.Int64("upload.request_size", file.Size),
	)

	if a.blobs == nil {
		return "", validationError("attachments are not accepted", nil)
	}

	if file.Size > a.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return "", validationError("attachment too large", ErrUploadTooLarge)
	}

	handle, err := file.Open()
	if err != nil {
		return "", validationError("attachment unreadable", err)
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, a.maxSize+1)); err != nil {
		return "", validationError("attachment unreadable", err)
	}
	if int64(buf.Len()) > a.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return "", validationError("attachment too large", ErrUploadTooLarge)
	}

	detected := normalizeMime(mimetype.Detect(buf.Bytes()).String())
	span.SetAttributes(attribute.String("upload.detected_mime", detected))
	if !isAllowedType(detected) {
		observability.UploadRejected().WithLabelValues("type").Inc()
		return "", validationError(fmt.Sprintf("attachment type %s not allowed", detected), ErrUploadTypeNotAllowed)
	}

	if err := a.scan(buf.Bytes(), detected); err != nil {
		observability.UploadRejected().WithLabelValues("scan").Inc()
		return "", validationError("attachment rejected", err)
	}

	ref, err := a.blobs.Store(ctx, sanitizeFileName(file.Filename), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return "", storageError("", err)
	}

	return ref, nil
}

// verify checks that a client supplied reference names a stored attachment.
func (a *attachmentStore) verify(ctx context.Context, ref string) error {
	if a.blobs == nil {
		return validationError("attachments are not accepted", nil)
	}

	found, err := a.blobs.Exists(ctx, ref)
	if err != nil {
		return storageError("", err)
	}
	if !found {
		return validationError(fmt.Sprintf("attachment %q does not exist", ref), nil)
	}
	return nil
}

func (a *attachmentStore) scan(payload []byte, mime string) error {
	if mime != "application/zip" {
		return nil
	}

	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return ErrUploadScanFailed
	}
	var totalUncompressed uint64
	for _, f := range reader.File {
		totalUncompressed += f.UncompressedSize64
		if totalUncompressed > uint64(a.maxSize*20) {
			return fmt.Errorf("zip archive uncompressed size too large: %w", ErrUploadScanFailed)
		}
	}
	return nil
}

func sanitizeFileName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("attachment-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}

func normalizeMime(m string) string {
	lower := strings.ToLower(strings.TrimSpace(m))
	if idx := strings.Index(lower, ";"); idx >= 0 {
		lower = strings.TrimSpace(lower[:idx])
	}
	switch lower {
	case "application/x-zip-compressed":
		return "application/zip"
	default:
		return lower
	}
}

func isAllowedType(m string) bool {
	switch m {
	case "application/pdf", "application/zip", "image/png", "image/jpeg", "text/plain":
		return true
	default:
		return false
	}
}
