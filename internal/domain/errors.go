package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrTournamentNotFound    = errors.New("tournament not found")
	ErrMatchNotFound         = errors.New("match not found")
	ErrInvalidState          = errors.New("operation not allowed in current state")
	ErrCapacityExceeded      = errors.New("tournament is full")
	ErrDuplicateRegistration = errors.New("player already registered")
	ErrSlotConflict          = errors.New("bracket slot already holds a different player")
	ErrInvalidTournament     = errors.New("invalid tournament configuration")
	ErrInvalidWinner         = errors.New("winner is not a player in this match")
	ErrPersistence           = errors.New("persistence failure")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInternalError         = errors.New("internal server error")
)

// ErrNotEnoughPlayers is an ErrInvalidState raised when a bracket is requested
// for fewer than two registered players.
var ErrNotEnoughPlayers = fmt.Errorf("%w: at least two players are required", ErrInvalidState)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTournamentNotFound) || errors.Is(err, ErrMatchNotFound)
}

// IsConflictError reports whether err was caused by the current state of a
// tournament, registration list or bracket slot.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrDuplicateRegistration) ||
		errors.Is(err, ErrSlotConflict)
}

// IsValidationError reports whether err rejects malformed input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTournament) ||
		errors.Is(err, ErrInvalidWinner) ||
		errors.Is(err, ErrInvalidRequest)
}
