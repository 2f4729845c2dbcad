package service

import (
	"context"
	"errors"
	"fmt"
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

// ReviewService moves pending submissions to a terminal status.
type ReviewService interface {
	Review(ctx context.Context, submissionID, reviewerID string, req dto.ReviewRequest) (dto.SubmissionResponse, error)
}

type reviewService struct {
	store       repository.Store
	submissions repository.SubmissionRepository
	directory   Directory
	ranking     RankingService
	notifier    NotificationService
	activity    ActivityRecorder
	points      map[string]int64
	retry       RetryPolicy
	locks       *keyedLock
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewReviewService constructs the approval workflow. points maps activity type to the award an approval mints.
func NewReviewService(store repository.Store, submissions repository.SubmissionRepository, directory Directory, ranking RankingService, notifier NotificationService, activity ActivityRecorder, points map[string]int64, retry RetryPolicy, validate *validator.Validate, logger zerolog.Logger) ReviewService {
	return &reviewService{
		store:       store,
		submissions: submissions,
		directory:   directory,
		ranking:     ranking,
		notifier:    notifier,
		activity:    activity,
		points:      points,
		retry:       retry,
		locks:       newKeyedLock(),
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "review_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/upskill-api/internal/service/review"),
		now:         time.Now,
	}
}

func (s *reviewService) Review(ctx context.Context, submissionID, reviewerID string, req dto.ReviewRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.review", trace.WithAttributes(
		attribute.String("submission.id", submissionID),
		attribute.String("review.reviewer_id", reviewerID),
		attribute.String("review.decision", req.Decision),
	))
	defer span.End()

	outcome := "error"
	defer func() {
		observability.Reviews().WithLabelValues(outcome).Inc()
	}()

	req.Decision = strings.ToLower(strings.TrimSpace(req.Decision))
	req.Comment = strings.TrimSpace(s.sanitizer.Sanitize(req.Comment))
	if err := s.validator.Struct(req); err != nil {
		outcome = "invalid"
		return dto.SubmissionResponse{}, validationError(err.Error(), err)
	}

	reviewer, err := s.directory.ResolveUser(ctx, reviewerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			outcome = "forbidden"
			return dto.SubmissionResponse{}, forbiddenError("unknown reviewer " + reviewerID)
		}
		return dto.SubmissionResponse{}, err
	}
	if !reviewer.IsReviewer() {
		outcome = "forbidden"
		return dto.SubmissionResponse{}, forbiddenError("role " + reviewer.Role + " cannot review submissions")
	}

	if err := ctx.Err(); err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock, err := s.locks.Lock(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	defer unlock()

	current, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			outcome = "not_found"
			return dto.SubmissionResponse{}, &Error{Kind: ErrNotFound, SubmissionID: submissionID}
		}
		return dto.SubmissionResponse{}, storageError(submissionID, err)
	}
	if current.Status != models.SubmissionStatusPending {
		outcome = "conflict"
		return dto.SubmissionResponse{}, transitionError(submissionID, current.Status)
	}

	author, err := s.directory.ResolveUser(ctx, current.AuthorID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		author = models.User{ID: current.AuthorID, TeamID: current.TeamID}
	default:
		return dto.SubmissionResponse{}, err
	}

	if reviewer.Role == models.RoleLead {
		if reviewer.ID == current.AuthorID {
			outcome = "forbidden"
			return dto.SubmissionResponse{}, &Error{Kind: ErrForbidden, SubmissionID: submissionID, Detail: "leads cannot review their own submissions"}
		}
		if author.Role == "" || author.TeamID == nil || !reviewer.InTeam(*author.TeamID) {
			outcome = "forbidden"
			return dto.SubmissionResponse{}, &Error{Kind: ErrForbidden, SubmissionID: submissionID, Detail: "author is outside the reviewer's team"}
		}
	}

	approved := req.Decision == models.SubmissionStatusApproved
	var points int64
	if approved {
		points = s.points[current.Type]
		if points <= 0 {
			return dto.SubmissionResponse{}, validationError(fmt.Sprintf("no points configured for %s", current.Type), nil)
		}
	}

	kind := models.NotificationSubmissionRejected
	if approved {
		kind = models.NotificationSubmissionApproved
	}

	reviewedAt := s.now().UTC().Truncate(time.Microsecond)
	var (
		updated models.Submission
		event   models.NotificationEvent
		attempt int
	)

	release := s.ranking.Track()
	defer release()

	err = s.retry.run(ctx, func() error {
		attempt++
		if attempt > 1 {
			observability.ReviewRetries().Inc()
			s.logger.Warn().Str("submission_id", submissionID).Int("attempt", attempt).Msg("retrying review transaction")
		}

		return s.store.WithinTransaction(ctx, func(tx repository.Tx) error {
			moved, err := tx.Submissions.Transition(ctx, submissionID, repository.Review{
				Status:     req.Decision,
				ReviewerID: reviewer.ID,
				Comment:    req.Comment,
				ReviewedAt: reviewedAt,
			})
			if err != nil {
				return err
			}
			if !moved {
				latest, err := tx.Submissions.GetByID(ctx, submissionID)
				if err != nil {
					return err
				}
				return transitionError(submissionID, latest.Status)
			}

			if approved {
				awardKey := submissionID
				entry := models.PointsLedgerEntry{
					ID:           uuid.NewString(),
					UserID:       current.AuthorID,
					SubmissionID: &awardKey,
					AwardKey:     &awardKey,
					Kind:         models.LedgerKindAward,
					Delta:        points,
					Reason:       fmt.Sprintf("approved %s: %s", current.Type, current.Title),
					ActorID:      reviewer.ID,
					CreatedAt:    reviewedAt,
				}
				if err := tx.Ledger.Append(ctx, &entry); err != nil {
					if errors.Is(err, repository.ErrDuplicate) {
						return &Error{Kind: ErrDuplicateAward, SubmissionID: submissionID, Err: err}
					}
					return err
				}
			}

			if updated, err = tx.Submissions.GetByID(ctx, submissionID); err != nil {
				return err
			}

			event, err = s.notifier.Stage(ctx, tx, updated.AuthorID, kind, submissionPayload(updated, points))
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "review failed")
		if isDomainError(err) {
			outcome = "conflict"
			return dto.SubmissionResponse{}, err
		}
		s.logger.Error().Err(err).Str("submission_id", submissionID).Int("attempts", attempt).Msg("review transaction failed")
		return dto.SubmissionResponse{}, storageError(submissionID, err)
	}

	outcome = req.Decision
	s.afterCommit(context.WithoutCancel(ctx), reviewer, author, updated, event, points)

	return dto.NewSubmissionResponse(updated), nil
}

// afterCommit runs the side effects of a committed review. None of them can undo it.
func (s *reviewService) afterCommit(ctx context.Context, reviewer, author models.User, submission models.Submission, event models.NotificationEvent, points int64) {
	var changes []RankChange
	if points > 0 {
		observability.PointsAwarded().WithLabelValues(models.LedgerKindAward).Add(float64(points))
		createdAt := submission.CreatedAt
		changes = s.ranking.Apply(ctx, author, points, &createdAt)
	}

	if err := s.notifier.Emit(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("review notification left for relay")
	}
	notifyRankChanges(ctx, s.notifier, s.logger, changes)

	action := ActionSubmissionRejected
	if submission.Status == models.SubmissionStatusApproved {
		action = ActionSubmissionApproved
	}
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		ActorID:    reviewer.ID,
		ActorRole:  reviewer.Role,
		Action:     action,
		EntityType: "submission",
		EntityID:   submission.ID,
		Metadata: map[string]interface{}{
			"author_id": submission.AuthorID,
			"points":    points,
		},
	})

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("reviewer_id", reviewer.ID).
		Str("status", submission.Status).
		Int64("points", points).
		Msg("submission reviewed")
}
