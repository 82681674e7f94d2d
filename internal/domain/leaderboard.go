package domain

import "time"

// LeaderboardEntry represents a player's accumulated tournament record
type LeaderboardEntry struct {
	Rank              int64     `json:"rank,omitempty"`
	UserID            string    `json:"user_id"`
	UserName          string    `json:"user_name,omitempty"`
	Wins              int       `json:"wins"`
	FinalsReached     int       `json:"finals_reached"`
	SemifinalsReached int       `json:"semifinals_reached"`
	Points            int64     `json:"points"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LeaderboardDelta is added to an entry when a tournament completes.
// Counters only ever grow.
type LeaderboardDelta struct {
	UserName          string
	Wins              int
	FinalsReached     int
	SemifinalsReached int
	Points            int64
}

// IsZero reports whether the delta changes nothing.
func (d LeaderboardDelta) IsZero() bool {
	return d.Wins == 0 && d.FinalsReached == 0 && d.SemifinalsReached == 0 && d.Points == 0
}

// Apply adds the delta to e.
func (d LeaderboardDelta) Apply(e *LeaderboardEntry, now time.Time) {
	if d.UserName != "" {
		e.UserName = d.UserName
	}
	e.Wins += d.Wins
	e.FinalsReached += d.FinalsReached
	e.SemifinalsReached += d.SemifinalsReached
	e.Points += d.Points
	e.UpdatedAt = now
}
