package dto

import (
	"time"

	"github.com/noah-isme/upskill-api/internal/models"
)

// PointsAdjustmentRequest is a manual ledger correction.
type PointsAdjustmentRequest struct {
	UserID       string  `json:"user_id" validate:"required,max=64"`
	Delta        int64   `json:"delta" validate:"required,ne=0"`
	Reason       string  `json:"reason" validate:"required,min=3,max=255"`
	SubmissionID *string `json:"submission_id" validate:"omitempty,max=36"`
}

// PointsTotalResponse reports a user's current total.
type PointsTotalResponse struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
}

// LedgerEntryResponse serializes a ledger entry.
type LedgerEntryResponse struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SubmissionID *string   `json:"submission_id"`
	Kind         string    `json:"kind"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	ActorID      string    `json:"actor_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// LedgerPage is one slice of a user's ledger history.
type LedgerPage struct {
	Items      []LedgerEntryResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// NewLedgerEntryResponse converts a ledger entry into a DTO.
func NewLedgerEntryResponse(model models.PointsLedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:           model.ID,
		UserID:       model.UserID,
		SubmissionID: model.SubmissionID,
		Kind:         model.Kind,
		Delta:        model.Delta,
		Reason:       model.Reason,
		ActorID:      model.ActorID,
		CreatedAt:    model.CreatedAt,
	}
}
