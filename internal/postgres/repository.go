package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/metrics"
	"github.com/tournament-engine/internal/store"
)

var _ store.Store = (*Repository)(nil)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:         pool,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tournaments (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			game_variant VARCHAR(20) NOT NULL,
			max_participants INT NOT NULL CHECK (max_participants > 1),
			status VARCHAR(20) NOT NULL DEFAULT 'registration',
			seeding_method VARCHAR(20) NOT NULL DEFAULT 'random',
			registration_deadline TIMESTAMPTZ,
			round_deadline_hours INT NOT NULL DEFAULT 48,
			prize_pool TEXT NOT NULL DEFAULT '',
			created_by VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			winner_user_id VARCHAR(64) NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS registrations (
			tournament_id VARCHAR(64) NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			user_name VARCHAR(255) NOT NULL DEFAULT '',
			rating INT NOT NULL DEFAULT 1000,
			seed INT NOT NULL DEFAULT 0,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tournament_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id VARCHAR(64) PRIMARY KEY,
			tournament_id VARCHAR(64) NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
			round_number INT NOT NULL,
			match_number INT NOT NULL,
			player1_kind VARCHAR(10) NOT NULL DEFAULT 'open',
			player1_id VARCHAR(64) NOT NULL DEFAULT '',
			player2_kind VARCHAR(10) NOT NULL DEFAULT 'open',
			player2_id VARCHAR(64) NOT NULL DEFAULT '',
			winner_user_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			deadline TIMESTAMPTZ,
			game_room_id VARCHAR(128) NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			UNIQUE (tournament_id, round_number, match_number)
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard (
			user_id VARCHAR(64) PRIMARY KEY,
			user_name VARCHAR(255) NOT NULL DEFAULT '',
			wins INT NOT NULL DEFAULT 0,
			finals_reached INT NOT NULL DEFAULT 0,
			semifinals_reached INT NOT NULL DEFAULT 0,
			points BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tournaments_status_deadline ON tournaments(status, registration_deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status_deadline ON matches(status, deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_points ON leaderboard(points DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// withTimeout bounds a single gateway call so a stuck database fails the
// operation instead of hanging it.
func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const tournamentColumns = `id, name, game_variant, max_participants, status, seeding_method,
	registration_deadline, round_deadline_hours, prize_pool, created_by, created_at,
	started_at, finished_at, winner_user_id`

func scanTournament(row rowScanner) (*domain.Tournament, error) {
	var t domain.Tournament
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.GameVariant,
		&t.MaxParticipants,
		&t.Status,
		&t.SeedingMethod,
		&t.RegistrationDeadline,
		&t.RoundDeadlineHours,
		&t.PrizePool,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.StartedAt,
		&t.FinishedAt,
		&t.WinnerUserID,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTournament inserts a new tournament
func (r *Repository) CreateTournament(ctx context.Context, t *domain.Tournament) error {
	defer metrics.ObserveStore("create_tournament", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO tournaments (` + tournamentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Name,
		string(t.GameVariant),
		t.MaxParticipants,
		string(t.Status),
		string(t.SeedingMethod),
		t.RegistrationDeadline,
		t.RoundDeadlineHours,
		t.PrizePool,
		t.CreatedBy,
		t.CreatedAt,
		t.StartedAt,
		t.FinishedAt,
		t.WinnerUserID,
	)
	if err != nil {
		return persistenceError("creating tournament", err)
	}
	return nil
}

// GetTournament retrieves a tournament by ID
func (r *Repository) GetTournament(ctx context.Context, id string) (*domain.Tournament, error) {
	defer metrics.ObserveStore("get_tournament", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	t, err := scanTournament(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTournamentNotFound
		}
		return nil, persistenceError("getting tournament", err)
	}
	return t, nil
}

// ListTournaments retrieves tournaments matching the filter, newest first
func (r *Repository) ListTournaments(ctx context.Context, filter domain.TournamentFilter) ([]domain.Tournament, error) {
	defer metrics.ObserveStore("list_tournaments", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	where, args := buildTournamentFilter(filter)
	query := `SELECT ` + tournamentColumns + ` FROM tournaments` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("listing tournaments", err)
	}
	defer rows.Close()

	tournaments := make([]domain.Tournament, 0)
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, persistenceError("scanning tournament", err)
		}
		tournaments = append(tournaments, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("listing tournaments", err)
	}
	return tournaments, nil
}

// UpdateTournament overwrites the mutable tournament columns
func (r *Repository) UpdateTournament(ctx context.Context, t *domain.Tournament) error {
	defer metrics.ObserveStore("update_tournament", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE tournaments
		SET name = $2, status = $3, registration_deadline = $4, round_deadline_hours = $5,
			prize_pool = $6, started_at = $7, finished_at = $8, winner_user_id = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Name,
		string(t.Status),
		t.RegistrationDeadline,
		t.RoundDeadlineHours,
		t.PrizePool,
		t.StartedAt,
		t.FinishedAt,
		t.WinnerUserID,
	)
	if err != nil {
		return persistenceError("updating tournament", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTournamentNotFound
	}
	return nil
}

// RegisterPlayer inserts a registration if the tournament still has room.
// The tournament row is locked for the duration of the check so concurrent
// registrations are serialized.
func (r *Repository) RegisterPlayer(ctx context.Context, reg domain.Registration, capacity int) (int, error) {
	defer metrics.ObserveStore("register_player", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, persistenceError("beginning registration", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM tournaments WHERE id = $1 FOR UPDATE`, reg.TournamentID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrTournamentNotFound
		}
		return 0, persistenceError("locking tournament", err)
	}

	var count int
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(BOOL_OR(user_id = $2), false)
		FROM registrations
		WHERE tournament_id = $1
	`, reg.TournamentID, reg.UserID).Scan(&count, &exists)
	if err != nil {
		return 0, persistenceError("counting registrations", err)
	}
	if exists {
		return count, domain.ErrDuplicateRegistration
	}
	if count >= capacity {
		return count, domain.ErrCapacityExceeded
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO registrations (tournament_id, user_id, user_name, rating, seed, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reg.TournamentID, reg.UserID, reg.UserName, reg.Rating, reg.Seed, reg.RegisteredAt)
	if err != nil {
		return 0, persistenceError("inserting registration", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, persistenceError("committing registration", err)
	}
	return count + 1, nil
}

// ListPlayers returns registrations in registration order
func (r *Repository) ListPlayers(ctx context.Context, tournamentID string) ([]domain.Registration, error) {
	defer metrics.ObserveStore("list_players", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT tournament_id, user_id, user_name, rating, seed, registered_at
		FROM registrations
		WHERE tournament_id = $1
		ORDER BY registered_at, user_id
	`
	rows, err := r.pool.Query(ctx, query, tournamentID)
	if err != nil {
		return nil, persistenceError("listing players", err)
	}
	defer rows.Close()

	players := make([]domain.Registration, 0)
	for rows.Next() {
		var p domain.Registration
		if err := rows.Scan(&p.TournamentID, &p.UserID, &p.UserName, &p.Rating, &p.Seed, &p.RegisteredAt); err != nil {
			return nil, persistenceError("scanning player", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("listing players", err)
	}
	return players, nil
}

// IsPlayerRegistered checks if a player is registered for a tournament
func (r *Repository) IsPlayerRegistered(ctx context.Context, tournamentID, userID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT EXISTS(SELECT 1 FROM registrations WHERE tournament_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, tournamentID, userID).Scan(&exists); err != nil {
		return false, persistenceError("checking registration", err)
	}
	return exists, nil
}

// CountPlayers returns the number of registrations for a tournament
func (r *Repository) CountPlayers(ctx context.Context, tournamentID string) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM registrations WHERE tournament_id = $1`, tournamentID).Scan(&count); err != nil {
		return 0, persistenceError("counting players", err)
	}
	return count, nil
}

// UpdateSeeds stores the seed assigned to each player at start
func (r *Repository) UpdateSeeds(ctx context.Context, tournamentID string, seeded []domain.Registration) error {
	if len(seeded) == 0 {
		return nil
	}
	defer metrics.ObserveStore("update_seeds", time.Now())
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, p := range seeded {
		batch.Queue(`UPDATE registrations SET seed = $3 WHERE tournament_id = $1 AND user_id = $2`,
			tournamentID, p.UserID, p.Seed)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range seeded {
		if _, err := br.Exec(); err != nil {
			return persistenceError("updating seeds", err)
		}
	}
	return nil
}

// DeleteAll removes every row from every table
func (r *Repository) DeleteAll(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE matches, registrations, tournaments, leaderboard`); err != nil {
		return persistenceError("deleting all", err)
	}
	r.logger.Warn("all tournament data deleted")
	return nil
}

func buildTournamentFilter(filter domain.TournamentFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RegistrationDeadlineBefore != nil {
		args = append(args, *filter.RegistrationDeadlineBefore)
		clauses = append(clauses, fmt.Sprintf("registration_deadline <= $%d", len(args)))
	}
	return whereClause(clauses), args
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where
}
