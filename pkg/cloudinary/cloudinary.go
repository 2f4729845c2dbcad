package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Service stores submission attachments in Cloudinary.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Service{
		client: cld,
		folder: cfg.Folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Store uploads the attachment and returns a reference of the form "<resource type>:<public id>".
func (s *Service) Store(ctx context.Context, name string, reader io.Reader, _ int64) (string, error) {
	params := uploader.UploadParams{
		Folder:       strings.Trim(s.folder, "/"),
		PublicID:     buildPublicID(name),
		ResourceType: "auto",
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected attachment: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("attachment uploaded to cloudinary")

	return result.ResourceType + ":" + result.PublicID, nil
}

// Exists looks ref up through the Admin API.
func (s *Service) Exists(ctx context.Context, ref string) (bool, error) {
	resourceType, publicID, ok := strings.Cut(ref, ":")
	if !ok || publicID == "" {
		return false, nil
	}

	result, err := s.client.Admin.Asset(ctx, admin.AssetParams{
		AssetType: api.AssetType(resourceType),
		PublicID:  publicID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up attachment: %w", err)
	}
	if msg := result.Error.Message; msg != "" {
		if strings.Contains(strings.ToLower(msg), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("cloudinary asset lookup failed: %s", msg)
	}

	return result.PublicID != "", nil
}

// Delete removes an attachment previously returned by Store.
func (s *Service) Delete(ctx context.Context, ref string) error {
	resourceType, publicID, ok := strings.Cut(ref, ":")
	if !ok || publicID == "" {
		return fmt.Errorf("malformed attachment reference %q", ref)
	}

	result, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("cloudinary refused delete: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", publicID).Str("result", result.Result).Msg("attachment deleted from cloudinary")
	return nil
}

func buildPublicID(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "attachment"
	}

	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}
