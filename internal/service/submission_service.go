package service

import (
	"context"
	"errors"
	"mime/multipart"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/observability"
	"github.com/noah-isme/upskill-api/internal/repository"
)

// SubmissionService stores activity submissions and answers read queries over them.
type SubmissionService interface {
	Submit(ctx context.Context, authorID string, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error)
	Get(ctx context.Context, viewerID, id string) (dto.SubmissionResponse, error)
	ListMine(ctx context.Context, authorID string, query dto.CursorQuery) (dto.SubmissionPage, error)
	ListPendingForReviewer(ctx context.Context, reviewerID string, query dto.CursorQuery) (dto.SubmissionPage, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	directory   Directory
	attachments *attachmentStore
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. blobs may be nil when attachments are disabled.
func NewSubmissionService(submissions repository.SubmissionRepository, directory Directory, blobs BlobStore, maxUploadMB int, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: submissions,
		directory:   directory,
		attachments: newAttachmentStore(blobs, maxUploadMB),
		activity:    activity,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/upskill-api/internal/service/submission"),
		now:         time.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, authorID string, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.create", trace.WithAttributes(
		attribute.String("submission.author_id", authorID),
		attribute.String("submission.type", payload.Type),
		attribute.Bool("submission.has_file", file != nil),
	))
	defer span.End()

	payload.Title = s.clean(payload.Title)
	payload.Description = s.clean(payload.Description)
	payload.AttachmentRef = strings.TrimSpace(payload.AttachmentRef)
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, validationError(err.Error(), err)
	}

	author, err := resolvePrincipal(ctx, s.directory, authorID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !author.IsRanked() {
		return dto.SubmissionResponse{}, forbiddenError("role " + author.Role + " cannot submit activities")
	}

	if err := ctx.Err(); err != nil {
		return dto.SubmissionResponse{}, err
	}

	ref := payload.AttachmentRef
	uploaded := false
	switch {
	case file != nil:
		ref, err = s.attachments.put(ctx, span, file)
		if err != nil {
			return dto.SubmissionResponse{}, err
		}
		uploaded = true
	case ref != "":
		if err := s.attachments.verify(ctx, ref); err != nil {
			return dto.SubmissionResponse{}, err
		}
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	submission := models.Submission{
		ID:            uuid.NewString(),
		AuthorID:      author.ID,
		TeamID:        author.TeamID,
		Type:          payload.Type,
		Title:         payload.Title,
		Description:   payload.Description,
		AttachmentRef: ref,
		Status:        models.SubmissionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		if uploaded {
			s.discardBlob(ref)
		}
		return dto.SubmissionResponse{}, storageError(submission.ID, err)
	}

	observability.SubmissionsCreated().WithLabelValues(submission.Type).Inc()
	span.SetAttributes(attribute.String("submission.id", submission.ID))

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		ActorID:    author.ID,
		ActorRole:  author.Role,
		Action:     ActionSubmissionCreated,
		EntityType: "submission",
		EntityID:   submission.ID,
		Metadata: map[string]interface{}{
			"type":           submission.Type,
			"has_attachment": submission.AttachmentRef != "",
		},
	})

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("author_id", author.ID).
		Str("type", submission.Type).
		Msg("submission stored")

	return dto.NewSubmissionResponse(submission), nil
}

// discardBlob removes an attachment whose record never made it to the store.
func (s *submissionService) discardBlob(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.attachments.blobs.Delete(ctx, ref); err != nil {
		s.logger.Error().Err(err).Str("attachment_ref", ref).Msg("failed to delete orphaned attachment")
		return
	}
	s.logger.Warn().Str("attachment_ref", ref).Msg("attachment deleted after failed insert")
}

func (s *submissionService) Get(ctx context.Context, viewerID, id string) (dto.SubmissionResponse, error) {
	viewer, err := resolvePrincipal(ctx, s.directory, viewerID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return dto.SubmissionResponse{}, &Error{Kind: ErrNotFound, SubmissionID: id}
		}
		return dto.SubmissionResponse{}, storageError(id, err)
	}

	if !canView(viewer, submission) {
		return dto.SubmissionResponse{}, &Error{Kind: ErrForbidden, SubmissionID: id}
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) ListMine(ctx context.Context, authorID string, query dto.CursorQuery) (dto.SubmissionPage, error) {
	author, err := resolvePrincipal(ctx, s.directory, authorID)
	if err != nil {
		return dto.SubmissionPage{}, err
	}

	return s.list(ctx, repository.SubmissionFilter{AuthorID: &author.ID}, query)
}

func (s *submissionService) ListPendingForReviewer(ctx context.Context, reviewerID string, query dto.CursorQuery) (dto.SubmissionPage, error) {
	reviewer, err := resolvePrincipal(ctx, s.directory, reviewerID)
	if err != nil {
		return dto.SubmissionPage{}, err
	}

	status := models.SubmissionStatusPending
	filter := repository.SubmissionFilter{Status: &status}

	switch reviewer.Role {
	case models.RoleHOD:
	case models.RoleLead:
		if reviewer.TeamID == nil {
			return dto.SubmissionPage{Items: []dto.SubmissionResponse{}}, nil
		}
		filter.TeamID = reviewer.TeamID
		filter.ExcludeAuthorID = &reviewer.ID
	default:
		return dto.SubmissionPage{}, forbiddenError("only leads and heads of department review submissions")
	}

	return s.list(ctx, filter, query)
}

func (s *submissionService) list(ctx context.Context, filter repository.SubmissionFilter, query dto.CursorQuery) (dto.SubmissionPage, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.SubmissionPage{}, validationError(err.Error(), err)
	}

	items, next, err := s.submissions.List(ctx, filter, repository.Page{Cursor: query.Cursor, Limit: query.Limit})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return dto.SubmissionPage{}, validationError("invalid cursor", err)
		}
		return dto.SubmissionPage{}, storageError("", err)
	}

	return dto.SubmissionPage{Items: dto.NewSubmissionResponseSlice(items), NextCursor: next}, nil
}

func (s *submissionService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(strings.TrimSpace(value)))
}

// resolvePrincipal maps an unknown caller to Forbidden rather than NotFound.
func resolvePrincipal(ctx context.Context, directory Directory, id string) (models.User, error) {
	user, err := directory.ResolveUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.User{}, forbiddenError("unknown principal " + id)
		}
		return models.User{}, err
	}

	return user, nil
}

// canView reports whether viewer may read submission: its author, a lead of the author's team, or any HOD.
func canView(viewer models.User, submission models.Submission) bool {
	switch {
	case viewer.ID == submission.AuthorID:
		return true
	case viewer.Role == models.RoleHOD:
		return true
	case viewer.Role == models.RoleLead && submission.TeamID != nil:
		return viewer.InTeam(*submission.TeamID)
	default:
		return false
	}
}
