// Package store defines the persistence contract shared by the in-process and
// PostgreSQL backends. The tournament engine only ever talks to Store.
package store

import (
	"context"

	"github.com/tournament-engine/internal/domain"
)

// Store is the persistence gateway.
//
// Single-row operations are atomic. RegisterPlayer is the only multi-row
// operation: it checks capacity and duplicates and inserts in one step,
// returning the new participant count. Failures of the backend itself are
// wrapped in domain.ErrPersistence.
type Store interface {
	CreateTournament(ctx context.Context, t *domain.Tournament) error
	GetTournament(ctx context.Context, id string) (*domain.Tournament, error)
	ListTournaments(ctx context.Context, filter domain.TournamentFilter) ([]domain.Tournament, error)
	UpdateTournament(ctx context.Context, t *domain.Tournament) error

	RegisterPlayer(ctx context.Context, reg domain.Registration, capacity int) (int, error)
	ListPlayers(ctx context.Context, tournamentID string) ([]domain.Registration, error)
	IsPlayerRegistered(ctx context.Context, tournamentID, userID string) (bool, error)
	CountPlayers(ctx context.Context, tournamentID string) (int, error)
	UpdateSeeds(ctx context.Context, tournamentID string, seeded []domain.Registration) error

	// SaveBracket replaces every match of the tournament.
	SaveBracket(ctx context.Context, tournamentID string, rounds []domain.Round) error
	GetBracket(ctx context.Context, tournamentID string) ([]domain.Round, error)
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	ListMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.Match, error)
	UpsertMatch(ctx context.Context, m *domain.Match) error
	UpdateMatch(ctx context.Context, matchID string, update domain.MatchUpdate) error

	UpsertLeaderboardEntry(ctx context.Context, userID string, delta domain.LeaderboardDelta) (*domain.LeaderboardEntry, error)
	ListLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)

	DeleteAll(ctx context.Context) error
}

// GroupRounds turns matches sorted by round and match number into the flat
// bracket form, naming each round by its distance to the final.
func GroupRounds(matches []domain.Match) []domain.Round {
	if len(matches) == 0 {
		return []domain.Round{}
	}

	total := 0
	for _, m := range matches {
		if m.RoundNumber > total {
			total = m.RoundNumber
		}
	}

	rounds := make([]domain.Round, total)
	for r := range rounds {
		rounds[r] = domain.Round{
			RoundNumber: r + 1,
			Name:        domain.RoundName(r+1, total),
		}
	}
	for _, m := range matches {
		idx := m.RoundNumber - 1
		rounds[idx].Matches = append(rounds[idx].Matches, m)
	}
	return rounds
}
