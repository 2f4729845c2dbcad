package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/observability"
	"github.com/noah-isme/upskill-api/internal/repository"
)

const (
	relayBatchSize = 100
	// relayMaxAttempts bounds how often one event is retried before the relay gives up on it.
	relayMaxAttempts = 8
	// relayGrace keeps the relay away from events whose post-commit emit is still in flight.
	relayGrace = 10 * time.Second
)

// NotificationService stages events in the workflow transaction and delivers them after commit.
type NotificationService interface {
	// Stage writes an undelivered event inside tx.
	Stage(ctx context.Context, tx repository.Tx, recipientID, kind string, payload map[string]interface{}) (models.NotificationEvent, error)
	// Notify stores an event outside any workflow transaction and emits it.
	Notify(ctx context.Context, recipientID, kind string, payload map[string]interface{}) error
	// Emit hands a committed event to every channel that has not yet accepted it and marks it
	// delivered once all have. One failing channel does not cancel the others.
	Emit(ctx context.Context, event models.NotificationEvent) error
	// Relay re-emits undelivered events and reports how many were delivered.
	Relay(ctx context.Context) (int, error)
	List(ctx context.Context, userID string, query dto.CursorQuery) (dto.NotificationPage, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context, relayInterval time.Duration)
}

// NotificationOptions selects the delivery channels. Nil fields disable the channel.
type NotificationOptions struct {
	Redis       *redis.Client
	NATS        *nats.Conn
	ChannelBase string
	Mailer      Mailer
	Directory   Directory
}

type notificationService struct {
	repo      repository.NotificationRepository
	channels  []NotificationChannel
	broker    *notificationBroker
	fanout    []fanoutChannel
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	nodeID    string
	now       func() time.Time
}

// NewNotificationService constructs a notification service.
func NewNotificationService(repo repository.NotificationRepository, opts NotificationOptions, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	svc := &notificationService{
		repo:      repo,
		broker:    newNotificationBroker(),
		validator: validate,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/upskill-api/internal/service/notification"),
		nodeID:    uuid.NewString(),
		now:       time.Now,
	}

	svc.channels = append(svc.channels, &brokerChannel{broker: svc.broker})

	if opts.Redis != nil && opts.ChannelBase != "" {
		ch := &redisChannel{client: opts.Redis, topic: opts.ChannelBase + ":notifications", nodeID: svc.nodeID}
		svc.channels = append(svc.channels, ch)
		svc.fanout = append(svc.fanout, ch)
	}

	if opts.NATS != nil && opts.ChannelBase != "" {
		subject := strings.ReplaceAll(opts.ChannelBase, ":", ".") + ".notifications"
		ch := &natsChannel{conn: opts.NATS, subject: subject, nodeID: svc.nodeID}
		svc.channels = append(svc.channels, ch)
		svc.fanout = append(svc.fanout, ch)
	}

	if opts.Mailer != nil && opts.Directory != nil {
		svc.channels = append(svc.channels, &emailChannel{mailer: opts.Mailer, directory: opts.Directory})
	}

	return svc
}

func (s *notificationService) Start(ctx context.Context, relayInterval time.Duration) {
	for _, ch := range s.fanout {
		go ch.consume(ctx, s.broker, s.logger)
	}

	if relayInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(relayInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				delivered, err := s.Relay(ctx)
				if err != nil && ctx.Err() == nil {
					s.logger.Warn().Err(err).Msg("notification relay pass failed")
				}
				if delivered > 0 {
					s.logger.Info().Int("delivered", delivered).Msg("notification relay delivered pending events")
				}
			}
		}
	}()
}

func (s *notificationService) Stage(ctx context.Context, tx repository.Tx, recipientID, kind string, payload map[string]interface{}) (models.NotificationEvent, error) {
	event := s.newEvent(recipientID, kind, payload)
	if err := tx.Notifications.Create(ctx, &event); err != nil {
		return models.NotificationEvent{}, err
	}

	return event, nil
}

func (s *notificationService) Notify(ctx context.Context, recipientID, kind string, payload map[string]interface{}) error {
	event := s.newEvent(recipientID, kind, payload)
	if err := s.repo.Create(ctx, &event); err != nil {
		return storageError("", err)
	}

	if err := s.Emit(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("notification left for relay")
	}

	return nil
}

func (s *notificationService) newEvent(recipientID, kind string, payload map[string]interface{}) models.NotificationEvent {
	body := datatypes.JSONMap{}
	for key, value := range payload {
		body[key] = value
	}

	return models.NotificationEvent{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     body,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
	}
}

func (s *notificationService) Emit(ctx context.Context, event models.NotificationEvent) error {
	ctx, span := s.tracer.Start(ctx, "notifications.emit", trace.WithAttributes(
		attribute.String("notification.id", event.ID),
		attribute.String("notification.kind", event.Kind),
		attribute.String("notification.recipient_id", event.RecipientID),
	))
	defer span.End()

	notification := dto.NewNotificationResponse(event)
	notification.Delivered = true

	accepted := acceptedChannels(event)
	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	pending := make([]NotificationChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		if _, done := accepted[ch.Name()]; !done {
			pending = append(pending, ch)
		}
	}
	for _, ch := range pending {
		ch := ch
		group.Go(func() error {
			if err := ch.Deliver(ctx, notification); err != nil {
				observability.NotificationsFailed().WithLabelValues(ch.Name()).Inc()
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			mu.Lock()
			accepted[ch.Name()] = struct{}{}
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		names := make([]string, 0, len(accepted))
		for name := range accepted {
			names = append(names, name)
		}
		sort.Strings(names)

		if recErr := s.repo.RecordAttempt(context.WithoutCancel(ctx), event.ID, names); recErr != nil {
			s.logger.Warn().Err(recErr).Str("event_id", event.ID).Msg("failed to record delivery attempt")
		}
		if event.Attempts+1 >= relayMaxAttempts {
			s.logger.Error().Err(err).Str("event_id", event.ID).Int("attempts", event.Attempts+1).Msg("giving up on notification delivery")
		}
		return err
	}

	if err := s.repo.MarkDelivered(ctx, event.ID, s.now().UTC()); err != nil {
		span.RecordError(err)
		return err
	}

	observability.NotificationsPublishedTotal().WithLabelValues(event.Kind).Inc()
	return nil
}

func (s *notificationService) Relay(ctx context.Context) (int, error) {
	events, err := s.repo.ListUndelivered(ctx, s.now().UTC().Add(-relayGrace), relayMaxAttempts, relayBatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	var failures []error
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if err := s.Emit(ctx, event); err != nil {
			failures = append(failures, err)
			continue
		}
		delivered++
	}

	return delivered, errors.Join(failures...)
}

func (s *notificationService) List(ctx context.Context, userID string, query dto.CursorQuery) (dto.NotificationPage, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationPage{}, validationError("user id is required", nil)
	}
	if err := s.validator.Struct(query); err != nil {
		return dto.NotificationPage{}, validationError(err.Error(), err)
	}

	events, next, err := s.repo.ListByRecipient(ctx, userID, repository.Page{Cursor: query.Cursor, Limit: query.Limit})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return dto.NotificationPage{}, validationError("invalid cursor", err)
		}
		return dto.NotificationPage{}, storageError("", err)
	}

	items := make([]dto.NotificationResponse, 0, len(events))
	for _, event := range events {
		items = append(items, dto.NewNotificationResponse(event))
	}

	return dto.NotificationPage{Items: items, NextCursor: next}, nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.SSEClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(userID, channel)
		observability.SSEClientsActive().Dec()
	}

	return channel, cleanup
}

// acceptedChannels reads the channels that already took event.
func acceptedChannels(event models.NotificationEvent) map[string]struct{} {
	accepted := make(map[string]struct{})
	for _, name := range strings.Split(event.AcceptedChannels, ",") {
		if name = strings.TrimSpace(name); name != "" {
			accepted[name] = struct{}{}
		}
	}
	return accepted
}

// submissionPayload describes a review outcome for the author.
func submissionPayload(submission models.Submission, points int64) map[string]interface{} {
	payload := map[string]interface{}{
		"submission_id": submission.ID,
		"title":         submission.Title,
		"type":          submission.Type,
		"status":        submission.Status,
	}
	if submission.ReviewerID != nil {
		payload["reviewer_id"] = *submission.ReviewerID
	}
	if submission.ReviewComment != "" {
		payload["comment"] = submission.ReviewComment
	}
	if points != 0 {
		payload["points"] = points
	}
	return payload
}

func rankChangedPayload(change RankChange) map[string]interface{} {
	return map[string]interface{}{
		"scope":         change.Scope.String(),
		"previous_rank": change.Previous,
		"current_rank":  change.Current,
	}
}

// notifyRankChanges emits one rank_changed event per moved scope.
func notifyRankChanges(ctx context.Context, notifier NotificationService, logger zerolog.Logger, changes []RankChange) {
	if notifier == nil {
		return
	}
	for _, change := range changes {
		if err := notifier.Notify(ctx, change.UserID, models.NotificationRankChanged, rankChangedPayload(change)); err != nil {
			logger.Warn().Err(err).Str("user_id", change.UserID).Str("scope", change.Scope.String()).Msg("rank change notification dropped")
		}
	}
}
