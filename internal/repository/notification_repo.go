package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/models"
)

// NotificationRepository handles the notification outbox.
type NotificationRepository interface {
	Create(ctx context.Context, event *models.NotificationEvent) error
	ListByRecipient(ctx context.Context, recipientID string, page Page) ([]models.NotificationEvent, string, error)
	// ListUndelivered returns undelivered events created before olderThan with fewer than
	// maxAttempts attempts, least attempted first.
	ListUndelivered(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.NotificationEvent, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// RecordAttempt counts a failed delivery and stores the channels that have accepted the event so far.
	RecordAttempt(ctx context.Context, id string, accepted []string) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, event *models.NotificationEvent) error {
	return translate(r.db.WithContext(ctx).Create(event).Error, "insert notification event")
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, page Page) ([]models.NotificationEvent, string, error) {
	query, err := applyKeyset(r.db.WithContext(ctx).Where("recipient_id = ?", recipientID), page)
	if err != nil {
		return nil, "", err
	}

	var events []models.NotificationEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, "", translate(err, "list notification events")
	}

	items, next := trimPage(events, page, func(e models.NotificationEvent) Cursor {
		return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})

	return items, next, nil
}

func (r *notificationRepository) ListUndelivered(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.NotificationEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := r.db.WithContext(ctx).Where("delivered = ? AND created_at < ?", false, olderThan)
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}

	var events []models.NotificationEvent
	if err := query.
		Order("attempts ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, translate(err, "list undelivered events")
	}

	return events, nil
}

func (r *notificationRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.NotificationEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivered":    true,
			"delivered_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
	return translate(err, "mark event delivered")
}

func (r *notificationRepository) RecordAttempt(ctx context.Context, id string, accepted []string) error {
	err := r.db.WithContext(ctx).
		Model(&models.NotificationEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":          gorm.Expr("attempts + 1"),
			"accepted_channels": strings.Join(accepted, ","),
		}).Error
	return translate(err, "record delivery attempt")
}
