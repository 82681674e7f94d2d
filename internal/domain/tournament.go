package domain

import (
	"strings"
	"time"
)

// GameVariant identifies which card game a tournament is played in
type GameVariant string

const (
	GameVariantClassic GameVariant = "classic"
	GameVariantRapid   GameVariant = "rapid"
)

// Valid reports whether v is one of the supported variants.
func (v GameVariant) Valid() bool {
	return v == GameVariantClassic || v == GameVariantRapid
}

// TournamentStatus represents the lifecycle stage of a tournament
type TournamentStatus string

const (
	TournamentStatusRegistration TournamentStatus = "registration"
	TournamentStatusOngoing      TournamentStatus = "ongoing"
	TournamentStatusFinished     TournamentStatus = "finished"
	TournamentStatusCancelled    TournamentStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TournamentStatus) Valid() bool {
	switch s {
	case TournamentStatusRegistration, TournamentStatusOngoing,
		TournamentStatusFinished, TournamentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s TournamentStatus) IsTerminal() bool {
	return s == TournamentStatusFinished || s == TournamentStatusCancelled
}

// SeedingMethod selects how registered players are ordered into the bracket
type SeedingMethod string

const (
	SeedingRandom SeedingMethod = "random"
	SeedingRating SeedingMethod = "rating"
)

// DefaultRoundDeadlineHours is used when a tournament does not set its own
const DefaultRoundDeadlineHours = 48

// Tournament represents a single-elimination tournament
type Tournament struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	GameVariant          GameVariant      `json:"game_variant"`
	MaxParticipants      int              `json:"max_participants"`
	Status               TournamentStatus `json:"status"`
	SeedingMethod        SeedingMethod    `json:"seeding_method"`
	RegistrationDeadline *time.Time       `json:"registration_deadline,omitempty"`
	RoundDeadlineHours   int              `json:"round_deadline_hours"`
	PrizePool            string           `json:"prize_pool,omitempty"`
	CreatedBy            string           `json:"created_by"`
	CreatedAt            time.Time        `json:"created_at"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	FinishedAt           *time.Time       `json:"finished_at,omitempty"`
	WinnerUserID         string           `json:"winner_user_id,omitempty"`
}

// RoundDeadline returns the decision window granted to a freshly pending match.
func (t *Tournament) RoundDeadline() time.Duration {
	return time.Duration(t.RoundDeadlineHours) * time.Hour
}

// RegistrationClosed reports whether the registration deadline has elapsed at now.
func (t *Tournament) RegistrationClosed(now time.Time) bool {
	return t.RegistrationDeadline != nil && !now.Before(*t.RegistrationDeadline)
}

// TournamentFilter narrows ListTournaments results. Zero values match everything.
type TournamentFilter struct {
	Status                     TournamentStatus
	RegistrationDeadlineBefore *time.Time
	Limit                      int
}

// Matches reports whether t satisfies the filter.
func (f TournamentFilter) Matches(t *Tournament) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.RegistrationDeadlineBefore != nil {
		if t.RegistrationDeadline == nil || t.RegistrationDeadline.After(*f.RegistrationDeadlineBefore) {
			return false
		}
	}
	return true
}

// CreateTournamentRequest represents a request to create a new tournament
type CreateTournamentRequest struct {
	Name                 string        `json:"name"`
	GameVariant          GameVariant   `json:"game_variant"`
	MaxParticipants      int           `json:"max_participants"`
	SeedingMethod        SeedingMethod `json:"seeding_method,omitempty"`
	RegistrationDeadline *time.Time    `json:"registration_deadline,omitempty"`
	RoundDeadlineHours   int           `json:"round_deadline_hours,omitempty"`
	PrizePool            string        `json:"prize_pool,omitempty"`
	CreatedBy            string        `json:"created_by"`
}

// Validate checks the request against the tournament invariants.
func (r *CreateTournamentRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return ErrInvalidTournament
	case r.MaxParticipants <= 1:
		return ErrInvalidTournament
	case !r.GameVariant.Valid():
		return ErrInvalidTournament
	case r.SeedingMethod != "" && r.SeedingMethod != SeedingRandom && r.SeedingMethod != SeedingRating:
		return ErrInvalidTournament
	case r.RoundDeadlineHours < 0:
		return ErrInvalidTournament
	}
	return nil
}

// ToTournament converts the request to a Tournament in registration status with defaults applied
func (r *CreateTournamentRequest) ToTournament(id string, now time.Time) Tournament {
	t := Tournament{
		ID:                   id,
		Name:                 strings.TrimSpace(r.Name),
		GameVariant:          r.GameVariant,
		MaxParticipants:      r.MaxParticipants,
		Status:               TournamentStatusRegistration,
		SeedingMethod:        r.SeedingMethod,
		RegistrationDeadline: r.RegistrationDeadline,
		RoundDeadlineHours:   r.RoundDeadlineHours,
		PrizePool:            r.PrizePool,
		CreatedBy:            r.CreatedBy,
		CreatedAt:            now,
	}

	if t.SeedingMethod == "" {
		t.SeedingMethod = SeedingRandom
	}
	if t.RoundDeadlineHours == 0 {
		t.RoundDeadlineHours = DefaultRoundDeadlineHours
	}

	return t
}

// TournamentDetails bundles a tournament with its registrations and bracket
type TournamentDetails struct {
	Tournament Tournament     `json:"tournament"`
	Players    []Registration `json:"players"`
	Rounds     []Round        `json:"rounds"`
}
