package models

import "time"

const (
	// LedgerKindAward is minted by an approved submission.
	LedgerKindAward = "award"
	// LedgerKindAdjustment is a manual correction.
	LedgerKindAdjustment = "adjustment"
)

// PointsLedgerEntry is an immutable point-earning or point-adjusting event.
// AwardKey is unique so a submission can only ever be awarded once.
type PointsLedgerEntry struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:64;not null;index" json:"user_id"`
	SubmissionID *string   `gorm:"size:36;index" json:"submission_id"`
	AwardKey     *string   `gorm:"size:64;uniqueIndex" json:"-"`
	Kind         string    `gorm:"size:16;not null" json:"kind"`
	Delta        int64     `gorm:"not null" json:"delta"`
	Reason       string    `gorm:"size:255;not null" json:"reason"`
	ActorID      string    `gorm:"size:64" json:"actor_id"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the ledger table name.
func (PointsLedgerEntry) TableName() string {
	return "points_ledger_entries"
}
