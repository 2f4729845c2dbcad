package models

import "time"

// Roles known to the directory.
const (
	RoleEmployee = "employee"
	RoleLead     = "lead"
	RoleHOD      = "hod"
)

// User mirrors an identity record owned by the external directory.
// The engine only reads it.
type User struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Role        string    `gorm:"size:16;not null;index" json:"role"`
	TeamID      *string   `gorm:"size:64;index" json:"team_id"`
	DisplayName string    `gorm:"size:255;not null" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsReviewer reports whether the user may review submissions at all.
func (u User) IsReviewer() bool {
	return u.Role == RoleLead || u.Role == RoleHOD
}

// IsRanked reports whether the user takes part in leaderboards.
func (u User) IsRanked() bool {
	return u.Role == RoleEmployee || u.Role == RoleLead
}

// InTeam reports whether the user belongs to the given team.
func (u User) InTeam(teamID string) bool {
	return u.TeamID != nil && *u.TeamID == teamID
}
