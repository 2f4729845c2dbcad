package models

import "time"

// Submission is an activity an employee reported for recognition.
type Submission struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	AuthorID      string     `gorm:"size:64;not null;index" json:"author_id"`
	TeamID        *string    `gorm:"size:64;index:idx_submissions_status_team,priority:2" json:"team_id"`
	Type          string     `gorm:"size:32;not null" json:"type"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Description   string     `gorm:"type:text;not null" json:"description"`
	AttachmentRef string     `gorm:"size:512" json:"attachment_ref"`
	Status        string     `gorm:"size:16;not null;index:idx_submissions_status_team,priority:1" json:"status"`
	ReviewerID    *string    `gorm:"size:64" json:"reviewer_id"`
	ReviewComment string     `gorm:"type:text" json:"review_comment"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	ReviewedAt    *time.Time `json:"reviewed_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	// SubmissionStatusPending marks a submission waiting for review.
	SubmissionStatusPending = "pending"
	// SubmissionStatusApproved marks an accepted submission. Terminal.
	SubmissionStatusApproved = "approved"
	// SubmissionStatusRejected marks a declined submission. Terminal.
	SubmissionStatusRejected = "rejected"
)

// Activity types accepted by the store.
const (
	ActivityCertification = "certification"
	ActivityWorkshop      = "workshop"
	ActivityTraining      = "training"
	ActivityConference    = "conference"
)

// ActivityTypes lists every recognised activity type.
var ActivityTypes = []string{ActivityCertification, ActivityWorkshop, ActivityTraining, ActivityConference}

// IsActivityType reports whether value names a recognised activity type.
func IsActivityType(value string) bool {
	for _, t := range ActivityTypes {
		if t == value {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the submission can no longer change.
func (s Submission) IsTerminal() bool {
	return s.Status == SubmissionStatusApproved || s.Status == SubmissionStatusRejected
}
