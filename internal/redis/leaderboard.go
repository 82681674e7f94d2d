package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tournament-engine/internal/domain"
)

const (
	leaderboardKey = "tournaments:leaderboard"
	playerKeyFmt   = "tournaments:player:%s"
)

// LeaderboardCache mirrors the cross-tournament leaderboard in a sorted set
// scored by points, with one hash of counters per player.
type LeaderboardCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboardCache creates a cache on an existing client
func NewLeaderboardCache(client *redis.Client, logger *slog.Logger) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		logger: logger,
	}
}

// Client returns the underlying Redis client
func (c *LeaderboardCache) Client() *redis.Client {
	return c.client
}

func playerKey(userID string) string {
	return fmt.Sprintf(playerKeyFmt, userID)
}

// Put writes the current totals of each entry
func (c *LeaderboardCache) Put(ctx context.Context, entries ...domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, e := range entries {
		pipe.ZAdd(ctx, leaderboardKey, redis.Z{
			Score:  float64(e.Points),
			Member: e.UserID,
		})
		pipe.HSet(ctx, playerKey(e.UserID),
			"user_name", e.UserName,
			"wins", e.Wins,
			"finals_reached", e.FinalsReached,
			"semifinals_reached", e.SemifinalsReached,
			"updated_at", e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing leaderboard entries: %w", err)
	}
	return nil
}

// Top returns the n best entries by points, ties broken by wins then user ID
func (c *LeaderboardCache) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	results, err := c.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	if len(results) == 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	pipe := c.client.Pipeline()
	details := make([]*redis.MapStringStringCmd, len(results))
	for i, z := range results {
		details[i] = pipe.HGetAll(ctx, playerKey(z.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("getting player details: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, z := range results {
		entries[i] = decodeEntry(z.Member.(string), int64(z.Score), details[i].Val())
	}
	sortEntries(entries)
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}

// Count returns the number of cached players
func (c *LeaderboardCache) Count(ctx context.Context) (int64, error) {
	n, err := c.client.ZCard(ctx, leaderboardKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return n, nil
}

// Load replaces the cached leaderboard with entries
func (c *LeaderboardCache) Load(ctx context.Context, entries []domain.LeaderboardEntry) error {
	if err := c.Reset(ctx); err != nil {
		return err
	}
	if err := c.Put(ctx, entries...); err != nil {
		return err
	}
	c.logger.Info("leaderboard cache loaded", "entries", len(entries))
	return nil
}

// Reset drops every cached entry
func (c *LeaderboardCache) Reset(ctx context.Context) error {
	members, err := c.client.ZRange(ctx, leaderboardKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("listing cached players: %w", err)
	}

	pipe := c.client.Pipeline()
	for _, m := range members {
		pipe.Del(ctx, playerKey(m))
	}
	pipe.Del(ctx, leaderboardKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("resetting leaderboard: %w", err)
	}
	return nil
}

func decodeEntry(userID string, points int64, fields map[string]string) domain.LeaderboardEntry {
	e := domain.LeaderboardEntry{
		UserID:   userID,
		UserName: fields["user_name"],
		Points:   points,
	}
	e.Wins, _ = strconv.Atoi(fields["wins"])
	e.FinalsReached, _ = strconv.Atoi(fields["finals_reached"])
	e.SemifinalsReached, _ = strconv.Atoi(fields["semifinals_reached"])
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		e.UpdatedAt = ts
	}
	return e
}

// sortEntries breaks point ties by wins then user ID
func sortEntries(entries []domain.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.UserID < b.UserID
	})
}
