package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification kinds emitted by the workflow.
const (
	NotificationSubmissionApproved = "submission_approved"
	NotificationSubmissionRejected = "submission_rejected"
	NotificationRankChanged        = "rank_changed"
)

// NotificationEvent is an outbox row describing something a user should hear about.
// Delivered is flipped once every channel accepted the event. AcceptedChannels lists,
// comma separated, the channels that already took it so retries skip them.
type NotificationEvent struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	RecipientID      string            `gorm:"size:64;not null;index" json:"recipient_id"`
	Kind             string            `gorm:"size:32;not null" json:"kind"`
	Payload          datatypes.JSONMap `gorm:"type:json" json:"payload"`
	Delivered        bool              `gorm:"not null;default:false;index" json:"delivered"`
	Attempts         int               `gorm:"not null;default:0;index" json:"attempts"`
	AcceptedChannels string            `gorm:"size:255;not null;default:''" json:"-"`
	DeliveredAt      *time.Time        `json:"delivered_at"`
	CreatedAt        time.Time         `gorm:"index" json:"created_at"`
}
