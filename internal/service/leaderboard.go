package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/notify"
	"github.com/tournament-engine/internal/store"
)

// LeaderboardCache is a read-through mirror of the leaderboard
type LeaderboardCache interface {
	Put(ctx context.Context, entries ...domain.LeaderboardEntry) error
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
	Load(ctx context.Context, entries []domain.LeaderboardEntry) error
	Reset(ctx context.Context) error
}

// LeaderboardService aggregates finished tournaments into per-player totals
type LeaderboardService struct {
	store   store.Store
	cache   LeaderboardCache
	events  notify.Publisher
	scoring config.ScoringConfig
	config  *config.LeaderboardConfig
	logger  *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service. cache may be nil.
func NewLeaderboardService(
	st store.Store,
	cache LeaderboardCache,
	events notify.Publisher,
	scoring config.ScoringConfig,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		store:   st,
		cache:   cache,
		events:  events,
		scoring: scoring,
		config:  cfg,
		logger:  logger,
	}
}

// LeaderboardUpdate is the payload of leaderboard:updated
type LeaderboardUpdate struct {
	TournamentID string                    `json:"tournament_id"`
	Entries      []domain.LeaderboardEntry `json:"entries"`
}

// RecordTournament credits the players of a finished tournament
func (s *LeaderboardService) RecordTournament(ctx context.Context, t *domain.Tournament, rounds []domain.Round, players []domain.Registration) error {
	names := make(map[string]string, len(players))
	for _, p := range players {
		names[p.UserID] = p.UserName
	}

	deltas := scoreTournament(rounds, t.WinnerUserID, s.scoring)
	userIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	entries := make([]domain.LeaderboardEntry, 0, len(userIDs))
	for _, id := range userIDs {
		delta := deltas[id]
		delta.UserName = names[id]
		entry, err := s.store.UpsertLeaderboardEntry(ctx, id, delta)
		if err != nil {
			return fmt.Errorf("updating leaderboard for %s: %w", id, err)
		}
		entries = append(entries, *entry)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, entries...); err != nil {
			s.logger.Warn("failed to refresh leaderboard cache", "tournament_id", t.ID, "error", err)
		}
	}

	s.logger.Info("leaderboard updated",
		"tournament_id", t.ID,
		"winner_user_id", t.WinnerUserID,
		"players", len(entries),
	)
	s.events.Publish(domain.EventLeaderboardUpdated, "", LeaderboardUpdate{
		TournamentID: t.ID,
		Entries:      entries,
	})
	return nil
}

// Top returns the leaderboard ordered by points, limit clamped to the configured bounds
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	if s.cache != nil {
		entries, err := s.cache.Top(ctx, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			s.logger.Warn("leaderboard cache read failed, using store", "error", err)
		}
	}

	entries, err := s.store.ListLeaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard: %w", err)
	}
	return entries, nil
}

// Warm loads the whole stored leaderboard into the cache
func (s *LeaderboardService) Warm(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	entries, err := s.store.ListLeaderboard(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing leaderboard: %w", err)
	}
	if err := s.cache.Load(ctx, entries); err != nil {
		return fmt.Errorf("loading leaderboard cache: %w", err)
	}
	return nil
}

// Reset clears the cache; stored totals are owned by the store
func (s *LeaderboardService) Reset(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Reset(ctx)
}

// scoreTournament derives each player's leaderboard delta from a completed bracket.
// Everyone seated in the final gets a final appearance, everyone seated in the
// semifinal round a semifinal appearance. Points go to the champion, the
// runner-up and the semifinal losers.
func scoreTournament(rounds []domain.Round, champion string, scoring config.ScoringConfig) map[string]domain.LeaderboardDelta {
	deltas := make(map[string]domain.LeaderboardDelta)
	if len(rounds) == 0 || champion == "" {
		return deltas
	}

	final := rounds[len(rounds)-1]
	finalists := make(map[string]bool)
	for i := range final.Matches {
		for _, id := range final.Matches[i].Players() {
			finalists[id] = true
			d := deltas[id]
			d.FinalsReached++
			if id != champion {
				d.Points += scoring.FinalistPoints
			}
			deltas[id] = d
		}
	}

	if len(rounds) >= 2 {
		semis := rounds[len(rounds)-2]
		for i := range semis.Matches {
			for _, id := range semis.Matches[i].Players() {
				d := deltas[id]
				d.SemifinalsReached++
				if !finalists[id] {
					d.Points += scoring.SemifinalistPoints
				}
				deltas[id] = d
			}
		}
	}

	d := deltas[champion]
	d.Wins++
	d.Points += scoring.WinPoints
	deltas[champion] = d

	return deltas
}
