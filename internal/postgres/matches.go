package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/metrics"
	"github.com/tournament-engine/internal/store"
)

const matchColumns = `id, tournament_id, round_number, match_number,
	player1_kind, player1_id, player2_kind, player2_id,
	winner_user_id, status, deadline, game_room_id, started_at, finished_at`

const upsertMatchQuery = `
	INSERT INTO matches (` + matchColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		player1_kind = EXCLUDED.player1_kind,
		player1_id = EXCLUDED.player1_id,
		player2_kind = EXCLUDED.player2_kind,
		player2_id = EXCLUDED.player2_id,
		winner_user_id = EXCLUDED.winner_user_id,
		status = EXCLUDED.status,
		deadline = EXCLUDED.deadline,
		game_room_id = EXCLUDED.game_room_id,
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at
`

func matchArgs(tournamentID string, m *domain.Match) []any {
	return []any{
		m.ID,
		tournamentID,
		m.RoundNumber,
		m.MatchNumber,
		string(slotKind(m.Player1)),
		m.Player1.UserID,
		string(slotKind(m.Player2)),
		m.Player2.UserID,
		m.WinnerUserID,
		string(m.Status),
		m.Deadline,
		m.GameRoomID,
		m.StartedAt,
		m.FinishedAt,
	}
}

func slotKind(s domain.Slot) domain.SlotKind {
	if s.Kind == "" {
		return domain.SlotOpen
	}
	return s.Kind
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var m domain.Match
	err := row.Scan(
		&m.ID,
		&m.TournamentID,
		&m.RoundNumber,
		&m.MatchNumber,
		&m.Player1.Kind,
		&m.Player1.UserID,
		&m.Player2.Kind,
		&m.Player2.UserID,
		&m.WinnerUserID,
		&m.Status,
		&m.Deadline,
		&m.GameRoomID,
		&m.StartedAt,
		&m.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveBracket replaces the tournament's matches in one transaction
func (r *Repository) SaveBracket(ctx context.Context, tournamentID string, rounds []domain.Round) error {
	defer metrics.ObserveStore("save_bracket", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return persistenceError("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM matches WHERE tournament_id = $1`, tournamentID)
	for _, round := range rounds {
		for i := range round.Matches {
			batch.Queue(upsertMatchQuery, matchArgs(tournamentID, &round.Matches[i])...)
		}
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return persistenceError("saving bracket", err)
		}
	}
	if err := br.Close(); err != nil {
		return persistenceError("saving bracket", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistenceError("committing bracket", err)
	}
	return nil
}

// GetBracket loads all matches of a tournament grouped into rounds
func (r *Repository) GetBracket(ctx context.Context, tournamentID string) ([]domain.Round, error) {
	matches, err := r.ListMatches(ctx, domain.MatchFilter{TournamentID: tournamentID})
	if err != nil {
		return nil, err
	}
	return store.GroupRounds(matches), nil
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	defer metrics.ObserveStore("get_match", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, persistenceError("getting match", err)
	}
	return m, nil
}

// ListMatches returns matches ordered by tournament, round and match number
func (r *Repository) ListMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.Match, error) {
	defer metrics.ObserveStore("list_matches", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	where, args := buildMatchFilter(filter)
	query := `SELECT ` + matchColumns + ` FROM matches` + where +
		` ORDER BY tournament_id, round_number, match_number`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("listing matches", err)
	}
	defer rows.Close()

	matches := make([]domain.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, persistenceError("scanning match", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("listing matches", err)
	}
	return matches, nil
}

// UpsertMatch inserts or fully replaces a match
func (r *Repository) UpsertMatch(ctx context.Context, m *domain.Match) error {
	defer metrics.ObserveStore("upsert_match", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, upsertMatchQuery, matchArgs(m.TournamentID, m)...); err != nil {
		return persistenceError("upserting match", err)
	}
	return nil
}

// UpdateMatch changes only the fields set in update
func (r *Repository) UpdateMatch(ctx context.Context, matchID string, update domain.MatchUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	defer metrics.ObserveStore("update_match", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query, args := buildMatchUpdate(matchID, update)
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return persistenceError("updating match", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

func buildMatchFilter(filter domain.MatchFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.TournamentID != "" {
		args = append(args, filter.TournamentID)
		clauses = append(clauses, fmt.Sprintf("tournament_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DeadlineBefore != nil {
		args = append(args, *filter.DeadlineBefore)
		clauses = append(clauses, fmt.Sprintf("deadline <= $%d", len(args)))
	}
	return whereClause(clauses), args
}

func buildMatchUpdate(matchID string, u domain.MatchUpdate) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.Player1 != nil {
		set("player1_kind", string(slotKind(*u.Player1)))
		set("player1_id", u.Player1.UserID)
	}
	if u.Player2 != nil {
		set("player2_kind", string(slotKind(*u.Player2)))
		set("player2_id", u.Player2.UserID)
	}
	if u.WinnerUserID != nil {
		set("winner_user_id", *u.WinnerUserID)
	}
	if u.Deadline != nil {
		set("deadline", *u.Deadline)
	}
	if u.GameRoomID != nil {
		set("game_room_id", *u.GameRoomID)
	}
	if u.StartedAt != nil {
		set("started_at", *u.StartedAt)
	}
	if u.FinishedAt != nil {
		set("finished_at", *u.FinishedAt)
	}

	args = append(args, matchID)
	query := fmt.Sprintf("UPDATE matches SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args
}
