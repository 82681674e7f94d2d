package domain

import "time"

// Registration represents a player entered into a tournament
type Registration struct {
	TournamentID string    `json:"tournament_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Rating       int       `json:"rating"`
	Seed         int       `json:"seed,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterRequest represents a request to join a tournament
type RegisterRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// ParticipantCount is broadcast whenever the registration list changes
type ParticipantCount struct {
	TournamentID    string `json:"tournament_id"`
	Count           int    `json:"count"`
	MaxParticipants int    `json:"max_participants"`
}
