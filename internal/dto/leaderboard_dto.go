package dto

import "time"

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	TeamID      *string `json:"team_id"`
	Rank        int     `json:"rank"`
	Points      int64   `json:"points"`
}

// LeaderboardResponse is a derived leaderboard snapshot for a scope.
type LeaderboardResponse struct {
	Scope   string             `json:"scope"`
	AsOf    time.Time          `json:"as_of"`
	Entries []LeaderboardEntry `json:"entries"`
}
