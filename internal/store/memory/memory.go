// Package memory is the in-process Store backend. Every Store value owns its
// data, so independent engines (and tests) never share state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	tournamentsMu sync.RWMutex
	tournaments   map[string]*domain.Tournament

	playersMu sync.RWMutex
	players   map[string][]domain.Registration

	matchesMu sync.RWMutex
	matches   map[string]*domain.Match

	leaderboardMu sync.RWMutex
	leaderboard   map[string]*domain.LeaderboardEntry

	now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		tournaments: make(map[string]*domain.Tournament),
		players:     make(map[string][]domain.Registration),
		matches:     make(map[string]*domain.Match),
		leaderboard: make(map[string]*domain.LeaderboardEntry),
		now:         time.Now,
	}
}

// Tournament methods

func (s *Store) CreateTournament(_ context.Context, t *domain.Tournament) error {
	s.tournamentsMu.Lock()
	defer s.tournamentsMu.Unlock()
	if _, exists := s.tournaments[t.ID]; exists {
		return fmt.Errorf("%w: tournament %s already exists", domain.ErrPersistence, t.ID)
	}
	s.tournaments[t.ID] = cloneTournament(t)
	return nil
}

func (s *Store) GetTournament(_ context.Context, id string) (*domain.Tournament, error) {
	s.tournamentsMu.RLock()
	defer s.tournamentsMu.RUnlock()
	t, ok := s.tournaments[id]
	if !ok {
		return nil, domain.ErrTournamentNotFound
	}
	return cloneTournament(t), nil
}

func (s *Store) ListTournaments(_ context.Context, filter domain.TournamentFilter) ([]domain.Tournament, error) {
	s.tournamentsMu.RLock()
	defer s.tournamentsMu.RUnlock()

	result := make([]domain.Tournament, 0, len(s.tournaments))
	for _, t := range s.tournaments {
		if filter.Matches(t) {
			result = append(result, *cloneTournament(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateTournament(_ context.Context, t *domain.Tournament) error {
	s.tournamentsMu.Lock()
	defer s.tournamentsMu.Unlock()
	if _, ok := s.tournaments[t.ID]; !ok {
		return domain.ErrTournamentNotFound
	}
	s.tournaments[t.ID] = cloneTournament(t)
	return nil
}

// Registration methods

func (s *Store) RegisterPlayer(_ context.Context, reg domain.Registration, capacity int) (int, error) {
	s.playersMu.Lock()
	defer s.playersMu.Unlock()

	current := s.players[reg.TournamentID]
	for _, p := range current {
		if p.UserID == reg.UserID {
			return len(current), domain.ErrDuplicateRegistration
		}
	}
	if len(current) >= capacity {
		return len(current), domain.ErrCapacityExceeded
	}

	s.players[reg.TournamentID] = append(current, reg)
	return len(current) + 1, nil
}

func (s *Store) ListPlayers(_ context.Context, tournamentID string) ([]domain.Registration, error) {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	result := make([]domain.Registration, len(s.players[tournamentID]))
	copy(result, s.players[tournamentID])
	return result, nil
}

func (s *Store) IsPlayerRegistered(_ context.Context, tournamentID, userID string) (bool, error) {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	for _, p := range s.players[tournamentID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountPlayers(_ context.Context, tournamentID string) (int, error) {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	return len(s.players[tournamentID]), nil
}

func (s *Store) UpdateSeeds(_ context.Context, tournamentID string, seeded []domain.Registration) error {
	s.playersMu.Lock()
	defer s.playersMu.Unlock()

	seeds := make(map[string]int, len(seeded))
	for _, p := range seeded {
		seeds[p.UserID] = p.Seed
	}
	players := s.players[tournamentID]
	for i := range players {
		if seed, ok := seeds[players[i].UserID]; ok {
			players[i].Seed = seed
		}
	}
	return nil
}

// Match methods

func (s *Store) SaveBracket(_ context.Context, tournamentID string, rounds []domain.Round) error {
	s.matchesMu.Lock()
	defer s.matchesMu.Unlock()
	for id, m := range s.matches {
		if m.TournamentID == tournamentID {
			delete(s.matches, id)
		}
	}
	for _, round := range rounds {
		for i := range round.Matches {
			m := round.Matches[i]
			m.TournamentID = tournamentID
			s.matches[m.ID] = cloneMatch(&m)
		}
	}
	return nil
}

func (s *Store) GetBracket(ctx context.Context, tournamentID string) ([]domain.Round, error) {
	matches, err := s.ListMatches(ctx, domain.MatchFilter{TournamentID: tournamentID})
	if err != nil {
		return nil, err
	}
	return store.GroupRounds(matches), nil
}

func (s *Store) GetMatch(_ context.Context, matchID string) (*domain.Match, error) {
	s.matchesMu.RLock()
	defer s.matchesMu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return cloneMatch(m), nil
}

// ListMatches returns matches ordered by tournament, round and match number.
func (s *Store) ListMatches(_ context.Context, filter domain.MatchFilter) ([]domain.Match, error) {
	s.matchesMu.RLock()
	defer s.matchesMu.RUnlock()

	result := make([]domain.Match, 0)
	for _, m := range s.matches {
		if filter.Matches(m) {
			result = append(result, *cloneMatch(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.TournamentID != b.TournamentID {
			return a.TournamentID < b.TournamentID
		}
		if a.RoundNumber != b.RoundNumber {
			return a.RoundNumber < b.RoundNumber
		}
		return a.MatchNumber < b.MatchNumber
	})
	return result, nil
}

func (s *Store) UpsertMatch(_ context.Context, m *domain.Match) error {
	s.matchesMu.Lock()
	defer s.matchesMu.Unlock()
	s.matches[m.ID] = cloneMatch(m)
	return nil
}

func (s *Store) UpdateMatch(_ context.Context, matchID string, update domain.MatchUpdate) error {
	s.matchesMu.Lock()
	defer s.matchesMu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return domain.ErrMatchNotFound
	}
	update.Apply(m)
	return nil
}

// Leaderboard methods

func (s *Store) UpsertLeaderboardEntry(_ context.Context, userID string, delta domain.LeaderboardDelta) (*domain.LeaderboardEntry, error) {
	s.leaderboardMu.Lock()
	defer s.leaderboardMu.Unlock()

	entry, ok := s.leaderboard[userID]
	if !ok {
		entry = &domain.LeaderboardEntry{UserID: userID}
		s.leaderboard[userID] = entry
	}
	delta.Apply(entry, s.now())

	result := *entry
	return &result, nil
}

// ListLeaderboard returns entries ordered by points, then wins, then user id.
func (s *Store) ListLeaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.leaderboardMu.RLock()
	defer s.leaderboardMu.RUnlock()

	result := make([]domain.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.UserID < b.UserID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	for i := range result {
		result[i].Rank = int64(i + 1)
	}
	return result, nil
}

// DeleteAll clears every map.
func (s *Store) DeleteAll(_ context.Context) error {
	s.tournamentsMu.Lock()
	s.tournaments = make(map[string]*domain.Tournament)
	s.tournamentsMu.Unlock()

	s.playersMu.Lock()
	s.players = make(map[string][]domain.Registration)
	s.playersMu.Unlock()

	s.matchesMu.Lock()
	s.matches = make(map[string]*domain.Match)
	s.matchesMu.Unlock()

	s.leaderboardMu.Lock()
	s.leaderboard = make(map[string]*domain.LeaderboardEntry)
	s.leaderboardMu.Unlock()
	return nil
}

func cloneTournament(t *domain.Tournament) *domain.Tournament {
	c := *t
	c.RegistrationDeadline = cloneTime(t.RegistrationDeadline)
	c.StartedAt = cloneTime(t.StartedAt)
	c.FinishedAt = cloneTime(t.FinishedAt)
	return &c
}

func cloneMatch(m *domain.Match) *domain.Match {
	c := *m
	c.Deadline = cloneTime(m.Deadline)
	c.StartedAt = cloneTime(m.StartedAt)
	c.FinishedAt = cloneTime(m.FinishedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
