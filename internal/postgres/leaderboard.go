package postgres

import (
	"context"
	"time"

	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/metrics"
)

// UpsertLeaderboardEntry adds delta to a player's totals, creating the row on first use
func (r *Repository) UpsertLeaderboardEntry(ctx context.Context, userID string, delta domain.LeaderboardDelta) (*domain.LeaderboardEntry, error) {
	defer metrics.ObserveStore("upsert_leaderboard", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO leaderboard (user_id, user_name, wins, finals_reached, semifinals_reached, points, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id)
		DO UPDATE SET
			user_name = CASE WHEN EXCLUDED.user_name <> '' THEN EXCLUDED.user_name ELSE leaderboard.user_name END,
			wins = leaderboard.wins + EXCLUDED.wins,
			finals_reached = leaderboard.finals_reached + EXCLUDED.finals_reached,
			semifinals_reached = leaderboard.semifinals_reached + EXCLUDED.semifinals_reached,
			points = leaderboard.points + EXCLUDED.points,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, user_name, wins, finals_reached, semifinals_reached, points, updated_at
	`
	var e domain.LeaderboardEntry
	err := r.pool.QueryRow(ctx, query,
		userID,
		delta.UserName,
		delta.Wins,
		delta.FinalsReached,
		delta.SemifinalsReached,
		delta.Points,
		time.Now(),
	).Scan(&e.UserID, &e.UserName, &e.Wins, &e.FinalsReached, &e.SemifinalsReached, &e.Points, &e.UpdatedAt)
	if err != nil {
		return nil, persistenceError("upserting leaderboard entry", err)
	}
	return &e, nil
}

// ListLeaderboard returns the top entries ordered by points
func (r *Repository) ListLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	defer metrics.ObserveStore("list_leaderboard", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, user_name, wins, finals_reached, semifinals_reached, points, updated_at,
			   ROW_NUMBER() OVER (ORDER BY points DESC, wins DESC, user_id) AS rank
		FROM leaderboard
		ORDER BY points DESC, wins DESC, user_id
		LIMIT $1
	`
	if limit <= 0 {
		limit = 1 << 30
	}

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, persistenceError("listing leaderboard", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.UserName, &e.Wins, &e.FinalsReached, &e.SemifinalsReached, &e.Points, &e.UpdatedAt, &e.Rank); err != nil {
			return nil, persistenceError("scanning leaderboard entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("listing leaderboard", err)
	}
	return entries, nil
}
