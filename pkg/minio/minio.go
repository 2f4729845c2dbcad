package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Config describes an S3-compatible bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Service stores submission attachments in an S3-compatible bucket.
type Service struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// New connects to the endpoint. Call EnsureBucket before the first Store.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket must be provided")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio: %w", err)
	}

	return &Service{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "minio").Logger(),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context, region string) error {
	if region == "" {
		region = "us-east-1"
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
}

// Store writes the attachment under a unique key and returns "<bucket>/<key>".
func (s *Service) Store(ctx context.Context, name string, reader io.Reader, size int64) (string, error) {
	key := path.Join("attachments", uuid.NewString(), name)

	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}

	s.logger.Info().Str("key", info.Key).Int64("size", info.Size).Msg("attachment uploaded to minio")
	return s.bucket + "/" + info.Key, nil
}

// Exists reports whether ref names an object in the bucket.
func (s *Service) Exists(ctx context.Context, ref string) (bool, error) {
	key, ok := strings.CutPrefix(ref, s.bucket+"/")
	if !ok || key == "" {
		return false, nil
	}

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat attachment: %w", err)
	}

	return true, nil
}

// Delete removes an attachment previously returned by Store.
func (s *Service) Delete(ctx context.Context, ref string) error {
	key, ok := strings.CutPrefix(ref, s.bucket+"/")
	if !ok || key == "" {
		return fmt.Errorf("attachment reference %q is not in bucket %s", ref, s.bucket)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}

	s.logger.Info().Str("key", key).Msg("attachment deleted from minio")
	return nil
}
