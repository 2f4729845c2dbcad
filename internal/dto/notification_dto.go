package dto

import (
	"time"

	"github.com/noah-isme/upskill-api/internal/models"
)

// NotificationResponse represents a notification event returned to clients.
type NotificationResponse struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipient_id"`
	Kind        string                 `json:"kind"`
	Payload     map[string]interface{} `json:"payload"`
	Delivered   bool                   `json:"delivered"`
	CreatedAt   time.Time              `json:"created_at"`
}

// NotificationPage is one slice of a user's notification feed.
type NotificationPage struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// NewNotificationResponse converts a notification event to DTO.
func NewNotificationResponse(model models.NotificationEvent) NotificationResponse {
	payload := map[string]interface{}(model.Payload)
	if payload == nil {
		payload = map[string]interface{}{}
	}

	return NotificationResponse{
		ID:          model.ID,
		RecipientID: model.RecipientID,
		Kind:        model.Kind,
		Payload:     payload,
		Delivered:   model.Delivered,
		CreatedAt:   model.CreatedAt,
	}
}
