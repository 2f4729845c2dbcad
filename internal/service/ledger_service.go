package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/observability"
	"github.com/noah-isme/upskill-api/internal/repository"
)

const systemActor = "system"

// LedgerService appends point entries and answers balance queries.
type LedgerService interface {
	// Append records a non-award entry on behalf of the system.
	Append(ctx context.Context, userID string, delta int64, reason string, submissionID *string) (dto.LedgerEntryResponse, error)
	// Adjust is a manual correction made by a head of department.
	Adjust(ctx context.Context, actorID string, req dto.PointsAdjustmentRequest) (dto.LedgerEntryResponse, error)
	TotalFor(ctx context.Context, userID string) (dto.PointsTotalResponse, error)
	History(ctx context.Context, userID string, query dto.CursorQuery) (dto.LedgerPage, error)
}

type ledgerService struct {
	store     repository.Store
	ledger    repository.LedgerRepository
	directory Directory
	ranking   RankingService
	notifier  NotificationService
	activity  ActivityRecorder
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewLedgerService constructs the ledger service. notifier and activity may be nil.
func NewLedgerService(store repository.Store, ledger repository.LedgerRepository, directory Directory, ranking RankingService, notifier NotificationService, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) LedgerService {
	return &ledgerService{
		store:     store,
		ledger:    ledger,
		directory: directory,
		ranking:   ranking,
		notifier:  notifier,
		activity:  activity,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "ledger_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/upskill-api/internal/service/ledger"),
		now:       time.Now,
	}
}

func (s *ledgerService) Append(ctx context.Context, userID string, delta int64, reason string, submissionID *string) (dto.LedgerEntryResponse, error) {
	entry, _, err := s.append(ctx, systemActor, userID, delta, reason, submissionID)
	if err != nil {
		return dto.LedgerEntryResponse{}, err
	}

	return dto.NewLedgerEntryResponse(entry), nil
}

func (s *ledgerService) Adjust(ctx context.Context, actorID string, req dto.PointsAdjustmentRequest) (dto.LedgerEntryResponse, error) {
	actor, err := resolvePrincipal(ctx, s.directory, actorID)
	if err != nil {
		return dto.LedgerEntryResponse{}, err
	}
	if actor.Role != models.RoleHOD {
		return dto.LedgerEntryResponse{}, forbiddenError("only heads of department adjust points")
	}

	req.Reason = strings.TrimSpace(s.sanitizer.Sanitize(req.Reason))
	if err := s.validator.Struct(req); err != nil {
		return dto.LedgerEntryResponse{}, validationError(err.Error(), err)
	}

	entry, user, err := s.append(ctx, actor.ID, req.UserID, req.Delta, req.Reason, req.SubmissionID)
	if err != nil {
		return dto.LedgerEntryResponse{}, err
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     ActionPointsAdjusted,
		EntityType: "ledger_entry",
		EntityID:   entry.ID,
		Metadata: map[string]interface{}{
			"user_id": user.ID,
			"delta":   entry.Delta,
			"reason":  entry.Reason,
		},
	})

	return dto.NewLedgerEntryResponse(entry), nil
}

func (s *ledgerService) append(ctx context.Context, actorID, userID string, delta int64, reason string, submissionID *string) (models.PointsLedgerEntry, models.User, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.append", trace.WithAttributes(
		attribute.String("ledger.user_id", userID),
		attribute.Int64("ledger.delta", delta),
	))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if delta == 0 {
		return models.PointsLedgerEntry{}, models.User{}, validationError("delta must be non-zero", nil)
	}
	if reason == "" {
		return models.PointsLedgerEntry{}, models.User{}, validationError("reason is required", nil)
	}

	user, err := s.directory.ResolveUser(ctx, userID)
	if err != nil {
		return models.PointsLedgerEntry{}, models.User{}, err
	}

	entry := models.PointsLedgerEntry{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		SubmissionID: submissionID,
		Kind:         models.LedgerKindAdjustment,
		Delta:        delta,
		Reason:       reason,
		ActorID:      actorID,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}

	release := s.ranking.Track()
	defer release()

	if err := s.store.WithinTransaction(ctx, func(tx repository.Tx) error {
		return tx.Ledger.Append(ctx, &entry)
	}); err != nil {
		span.RecordError(err)
		return models.PointsLedgerEntry{}, models.User{}, storageError("", err)
	}

	if delta > 0 {
		observability.PointsAwarded().WithLabelValues(entry.Kind).Add(float64(delta))
	}

	changes := s.ranking.Apply(ctx, user, delta, nil)
	notifyRankChanges(ctx, s.notifier, s.logger, changes)

	s.logger.Info().
		Str("entry_id", entry.ID).
		Str("user_id", user.ID).
		Int64("delta", delta).
		Str("actor_id", actorID).
		Msg("ledger entry appended")

	return entry, user, nil
}

func (s *ledgerService) TotalFor(ctx context.Context, userID string) (dto.PointsTotalResponse, error) {
	user, err := s.directory.ResolveUser(ctx, userID)
	if err != nil {
		return dto.PointsTotalResponse{}, err
	}

	total, err := s.ledger.TotalFor(ctx, user.ID)
	if err != nil {
		return dto.PointsTotalResponse{}, storageError("", err)
	}

	return dto.PointsTotalResponse{UserID: user.ID, Points: total}, nil
}

func (s *ledgerService) History(ctx context.Context, userID string, query dto.CursorQuery) (dto.LedgerPage, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.LedgerPage{}, validationError(err.Error(), err)
	}

	user, err := s.directory.ResolveUser(ctx, userID)
	if err != nil {
		return dto.LedgerPage{}, err
	}

	entries, next, err := s.ledger.ListByUser(ctx, user.ID, repository.Page{Cursor: query.Cursor, Limit: query.Limit})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return dto.LedgerPage{}, validationError("invalid cursor", err)
		}
		return dto.LedgerPage{}, storageError("", err)
	}

	items := make([]dto.LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewLedgerEntryResponse(entry))
	}

	return dto.LedgerPage{Items: items, NextCursor: next}, nil
}
