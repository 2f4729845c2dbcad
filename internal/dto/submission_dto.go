package dto

import (
	"time"

	"github.com/noah-isme/upskill-api/internal/models"
)

// SubmissionCreateRequest describes an activity submission. AttachmentRef is ignored when a file is uploaded.
type SubmissionCreateRequest struct {
	Type          string `json:"type" form:"type" validate:"required,oneof=certification workshop training conference"`
	Title         string `json:"title" form:"title" validate:"required,min=1,max=255"`
	Description   string `json:"description" form:"description" validate:"required,min=1,max=5000"`
	AttachmentRef string `json:"attachment_ref" form:"attachment_ref" validate:"omitempty,max=512"`
}

// ReviewRequest carries a reviewer's decision.
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment" validate:"omitempty,max=2000"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID            string     `json:"id"`
	AuthorID      string     `json:"author_id"`
	TeamID        *string    `json:"team_id"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	AttachmentRef string     `json:"attachment_ref"`
	Status        string     `json:"status"`
	ReviewerID    *string    `json:"reviewer_id"`
	ReviewComment string     `json:"review_comment,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReviewedAt    *time.Time `json:"reviewed_at"`
}

// SubmissionPage is one slice of a submission listing.
type SubmissionPage struct {
	Items      []SubmissionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:            model.ID,
		AuthorID:      model.AuthorID,
		TeamID:        model.TeamID,
		Type:          model.Type,
		Title:         model.Title,
		Description:   model.Description,
		AttachmentRef: model.AttachmentRef,
		Status:        model.Status,
		ReviewerID:    model.ReviewerID,
		ReviewComment: model.ReviewComment,
		CreatedAt:     model.CreatedAt,
		ReviewedAt:    model.ReviewedAt,
	}
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, submission := range items {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
