package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tournament-engine/internal/bracket"
	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/metrics"
	"github.com/tournament-engine/internal/notify"
	"github.com/tournament-engine/internal/rating"
	"github.com/tournament-engine/internal/store"
	"github.com/tournament-engine/internal/utils"
)

// Transition triggers
const (
	TriggerManual   = "manual"
	TriggerCapacity = "capacity"
	TriggerDeadline = "deadline"
	TriggerResult   = "result"
	TriggerAdmin    = "admin"
)

// Option configures a TournamentService
type Option func(*TournamentService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *TournamentService) { s.now = now }
}

// WithRand sets the random source used for seeding and forfeit draws
func WithRand(rng *rand.Rand) Option {
	return func(s *TournamentService) { s.rng = rng }
}

// WithIDGenerator replaces the UUID generator for tournaments and matches
func WithIDGenerator(newID func() string) Option {
	return func(s *TournamentService) { s.newID = newID }
}

// TournamentService drives tournaments from registration to completion.
//
// Every state change of a tournament, its registrations or its bracket runs
// under that tournament's lock, from the first read to the last notification.
type TournamentService struct {
	store       store.Store
	ratings     rating.Gateway
	events      notify.Publisher
	leaderboard *LeaderboardService
	config      *config.TournamentConfig
	logger      *slog.Logger

	locks *keyedMutex
	now   func() time.Time
	newID func() string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTournamentService creates a new tournament service
func NewTournamentService(
	st store.Store,
	ratings rating.Gateway,
	events notify.Publisher,
	leaderboard *LeaderboardService,
	cfg *config.TournamentConfig,
	logger *slog.Logger,
	opts ...Option,
) *TournamentService {
	s := &TournamentService{
		store:       st,
		ratings:     ratings,
		events:      events,
		leaderboard: leaderboard,
		config:      cfg,
		logger:      logger,
		locks:       newKeyedMutex(),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TournamentService) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *TournamentService) seed(players []domain.Registration, method domain.SeedingMethod) []domain.Registration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return bracket.Seed(players, method, s.rng)
}

// CreateTournament validates and stores a new tournament in registration status
func (s *TournamentService) CreateTournament(ctx context.Context, req domain.CreateTournamentRequest) (*domain.Tournament, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RoundDeadlineHours == 0 {
		req.RoundDeadlineHours = s.config.RoundDeadlineHours
	}

	t := req.ToTournament(s.newID(), s.now().UTC())
	if err := s.store.CreateTournament(ctx, &t); err != nil {
		return nil, fmt.Errorf("creating tournament: %w", err)
	}

	metrics.TournamentTransitions.WithLabelValues(string(t.Status), TriggerManual).Inc()
	s.logger.Info("tournament created",
		"tournament_id", t.ID,
		"name", t.Name,
		"game_variant", t.GameVariant,
		"max_participants", t.MaxParticipants,
	)
	s.events.Publish(domain.EventTournamentCreated, t.ID, t)
	return &t, nil
}

// GetTournament returns a tournament with its registrations and bracket
func (s *TournamentService) GetTournament(ctx context.Context, id string) (*domain.TournamentDetails, error) {
	var (
		t       *domain.Tournament
		players []domain.Registration
		rounds  []domain.Round
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		t, err = s.store.GetTournament(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		players, err = s.store.ListPlayers(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		rounds, err = s.store.GetBracket(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrTournamentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading tournament: %w", err)
	}

	return &domain.TournamentDetails{
		Tournament: *t,
		Players:    players,
		Rounds:     rounds,
	}, nil
}

// ListTournaments returns tournaments matching filter
func (s *TournamentService) ListTournaments(ctx context.Context, filter domain.TournamentFilter) ([]domain.Tournament, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, filter.Status)
	}
	return s.store.ListTournaments(ctx, filter)
}

// RegisterPlayer enters a player into a tournament. The registration that fills
// the last seat starts the tournament; if that start fails the registration
// still stands and the failure is logged.
func (s *TournamentService) RegisterPlayer(ctx context.Context, tournamentID string, req domain.RegisterRequest) (*domain.Registration, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidRequest)
	}

	unlock := s.locks.Lock(tournamentID)
	defer unlock()

	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TournamentStatusRegistration {
		metrics.Registrations.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, t.Status)
	}

	r, err := s.ratings.GetRating(ctx, t.GameVariant, req.UserID)
	if err != nil {
		s.logger.Warn("rating lookup failed, using default",
			"user_id", req.UserID,
			"game_variant", t.GameVariant,
			"error", err,
		)
		r = s.config.DefaultRating
	}

	reg := domain.Registration{
		TournamentID: tournamentID,
		UserID:       req.UserID,
		UserName:     strings.TrimSpace(req.UserName),
		Rating:       r,
		RegisteredAt: s.now().UTC(),
	}
	count, err := s.store.RegisterPlayer(ctx, reg, t.MaxParticipants)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCapacityExceeded):
			metrics.Registrations.WithLabelValues("full").Inc()
		case errors.Is(err, domain.ErrDuplicateRegistration):
			metrics.Registrations.WithLabelValues("duplicate").Inc()
		default:
			metrics.Registrations.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.Registrations.WithLabelValues("accepted").Inc()

	s.logger.Info("player registered",
		"tournament_id", tournamentID,
		"user_id", reg.UserID,
		"rating", reg.Rating,
		"count", count,
		"max_participants", t.MaxParticipants,
	)
	s.events.Publish(domain.EventTournamentParticipants, tournamentID, domain.ParticipantCount{
		TournamentID:    tournamentID,
		Count:           count,
		MaxParticipants: t.MaxParticipants,
	})

	if count == t.MaxParticipants {
		if _, err := s.start(ctx, t, TriggerCapacity); err != nil {
			s.logger.Error("auto-start failed",
				"tournament_id", tournamentID,
				"error", err,
			)
		}
	}

	return &reg, nil
}

// StartTournament seeds the players, builds the bracket and opens round one
func (s *TournamentService) StartTournament(ctx context.Context, tournamentID string) (*domain.BracketSnapshot, error) {
	unlock := s.locks.Lock(tournamentID)
	defer unlock()

	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, t, TriggerManual)
}

// StartDueTournament starts a tournament whose registration deadline has passed.
// It returns false without error when the tournament is no longer eligible or
// has fewer than two players.
func (s *TournamentService) StartDueTournament(ctx context.Context, tournamentID string) (bool, error) {
	unlock := s.locks.Lock(tournamentID)
	defer unlock()

	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return false, err
	}
	if t.Status != domain.TournamentStatusRegistration || !t.RegistrationClosed(s.now()) {
		return false, nil
	}

	count, err := s.store.CountPlayers(ctx, tournamentID)
	if err != nil {
		return false, fmt.Errorf("counting players: %w", err)
	}
	if count < 2 {
		s.logger.Debug("registration closed without enough players",
			"tournament_id", tournamentID,
			"count", count,
		)
		return false, nil
	}

	if _, err := s.start(ctx, t, TriggerDeadline); err != nil {
		return false, err
	}
	return true, nil
}

// start must run under the tournament lock
func (s *TournamentService) start(ctx context.Context, t *domain.Tournament, trigger string) (*domain.BracketSnapshot, error) {
	if t.Status != domain.TournamentStatusRegistration {
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, t.Status)
	}

	players, err := s.store.ListPlayers(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	if len(players) < 2 {
		return nil, domain.ErrNotEnoughPlayers
	}

	now := s.now().UTC()
	seeded := s.seed(players, t.SeedingMethod)
	if err := s.store.UpdateSeeds(ctx, t.ID, seeded); err != nil {
		return nil, fmt.Errorf("saving seeds: %w", err)
	}

	rounds, err := bracket.Build(t.ID, seeded, bracket.Options{
		RoundDeadline: t.RoundDeadline(),
		Now:           now,
		NewID:         s.newID,
	})
	if err != nil {
		return nil, fmt.Errorf("building bracket: %w", err)
	}
	if err := s.store.SaveBracket(ctx, t.ID, rounds); err != nil {
		return nil, fmt.Errorf("saving bracket: %w", err)
	}

	t.Status = domain.TournamentStatusOngoing
	t.StartedAt = utils.Ptr(now)
	if err := s.store.UpdateTournament(ctx, t); err != nil {
		return nil, fmt.Errorf("updating tournament: %w", err)
	}

	metrics.TournamentTransitions.WithLabelValues(string(t.Status), trigger).Inc()
	s.logger.Info("tournament started",
		"tournament_id", t.ID,
		"trigger", trigger,
		"players", len(seeded),
		"rounds", len(rounds),
	)

	snapshot := &domain.BracketSnapshot{Tournament: *t, Rounds: rounds}
	s.events.Publish(domain.EventTournamentStarted, t.ID, snapshot)
	s.events.Publish(domain.EventBracketUpdated, t.ID, snapshot)
	return snapshot, nil
}

// CancelTournament ends a tournament that is still registering or running
func (s *TournamentService) CancelTournament(ctx context.Context, tournamentID string) (*domain.Tournament, error) {
	unlock := s.locks.Lock(tournamentID)
	defer unlock()

	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, t.Status)
	}

	now := s.now().UTC()
	wasOngoing := t.Status == domain.TournamentStatusOngoing
	t.Status = domain.TournamentStatusCancelled
	t.FinishedAt = utils.Ptr(now)
	if err := s.store.UpdateTournament(ctx, t); err != nil {
		return nil, fmt.Errorf("updating tournament: %w", err)
	}

	voided := 0
	if wasOngoing {
		if voided, err = s.voidOpenMatches(ctx, t.ID, now); err != nil {
			s.logger.Warn("failed to void open matches of cancelled tournament",
				"tournament_id", t.ID,
				"voided", voided,
				"error", err,
			)
		}
	}

	metrics.TournamentTransitions.WithLabelValues(string(t.Status), TriggerAdmin).Inc()
	s.logger.Info("tournament cancelled", "tournament_id", t.ID, "voided_matches", voided)
	s.events.Publish(domain.EventTournamentCancelled, t.ID, t)
	return t, nil
}

// GetBracket returns the rounds of a tournament, empty before it starts
func (s *TournamentService) GetBracket(ctx context.Context, tournamentID string) ([]domain.Round, error) {
	if _, err := s.store.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	return s.store.GetBracket(ctx, tournamentID)
}

// GetMatch returns a single match
func (s *TournamentService) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	return s.store.GetMatch(ctx, matchID)
}

// StartMatch moves a pending match into play in the given game room
func (s *TournamentService) StartMatch(ctx context.Context, matchID, gameRoomID string) (*domain.Match, error) {
	found, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(found.TournamentID)
	defer unlock()

	t, err := s.store.GetTournament(ctx, found.TournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TournamentStatusOngoing {
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, t.Status)
	}

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := bracket.Start(m, gameRoomID, s.now().UTC()); err != nil {
		return nil, err
	}

	if err := s.store.UpdateMatch(ctx, m.ID, domain.MatchUpdate{
		Status:     &m.Status,
		GameRoomID: &m.GameRoomID,
		StartedAt:  m.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("updating match: %w", err)
	}

	s.logger.Info("match started",
		"tournament_id", m.TournamentID,
		"match_id", m.ID,
		"game_room_id", gameRoomID,
	)
	s.events.Publish(domain.EventMatchStarted, m.TournamentID, m)
	return m, nil
}

// ReportMatchResult records the winner of a pending or playing match and moves
// them up the bracket. Reporting on a decided match returns it unchanged, after
// re-running propagation so an interrupted earlier report is completed.
func (s *TournamentService) ReportMatchResult(ctx context.Context, matchID, winnerUserID string) (*domain.Match, error) {
	winnerUserID = strings.TrimSpace(winnerUserID)
	if winnerUserID == "" {
		return nil, fmt.Errorf("%w: winner_user_id is required", domain.ErrInvalidRequest)
	}

	found, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(found.TournamentID)
	defer unlock()

	st, err := s.loadBracket(ctx, found.TournamentID, matchID)
	if err != nil {
		return nil, err
	}
	m := st.match()

	if st.tournament.Status == domain.TournamentStatusCancelled {
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, st.tournament.Status)
	}
	if m.Status.IsTerminal() {
		if st.tournament.Status == domain.TournamentStatusOngoing {
			if err := s.propagate(ctx, st, TriggerResult, false); err != nil {
				return nil, err
			}
		}
		out := *m
		return &out, nil
	}

	if st.tournament.Status != domain.TournamentStatusOngoing {
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, st.tournament.Status)
	}
	if _, err := bracket.Finish(m, winnerUserID, s.now().UTC()); err != nil {
		return nil, err
	}

	metrics.MatchesResolved.WithLabelValues("reported").Inc()
	s.logger.Info("match result reported",
		"tournament_id", m.TournamentID,
		"match_id", m.ID,
		"winner_user_id", m.WinnerUserID,
	)

	if err := s.propagate(ctx, st, TriggerResult, true); err != nil {
		return nil, err
	}
	out := *m
	return &out, nil
}

// ExpiredMatches lists pending matches whose deadline has passed
func (s *TournamentService) ExpiredMatches(ctx context.Context) ([]domain.Match, error) {
	now := s.now()
	matches, err := s.store.ListMatches(ctx, domain.MatchFilter{
		Status:         domain.MatchStatusPending,
		DeadlineBefore: &now,
	})
	if err != nil {
		return nil, err
	}

	// Only ongoing tournaments accept deadline resolution.
	ongoing := make(map[string]bool)
	expired := matches[:0]
	for _, m := range matches {
		ok, seen := ongoing[m.TournamentID]
		if !seen {
			t, err := s.store.GetTournament(ctx, m.TournamentID)
			if err != nil && !domain.IsNotFoundError(err) {
				return nil, err
			}
			ok = err == nil && t.Status == domain.TournamentStatusOngoing
			ongoing[m.TournamentID] = ok
		}
		if ok {
			expired = append(expired, m)
		}
	}
	return expired, nil
}

// DueTournaments lists registering tournaments whose registration deadline has passed
func (s *TournamentService) DueTournaments(ctx context.Context) ([]domain.Tournament, error) {
	now := s.now()
	return s.store.ListTournaments(ctx, domain.TournamentFilter{
		Status:                     domain.TournamentStatusRegistration,
		RegistrationDeadlineBefore: &now,
	})
}

// ResolveExpiredMatch decides an expired two-player match by random draw and
// records it as a forfeit.
func (s *TournamentService) ResolveExpiredMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	found, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(found.TournamentID)
	defer unlock()

	st, err := s.loadBracket(ctx, found.TournamentID, matchID)
	if err != nil {
		return nil, err
	}
	if st.tournament.Status != domain.TournamentStatusOngoing {
		return nil, fmt.Errorf("%w: tournament is %s", domain.ErrInvalidState, st.tournament.Status)
	}

	m := st.match()
	if m.Status.IsTerminal() {
		// Decided since it was listed, or its propagation was cut short.
		if err := s.propagate(ctx, st, TriggerDeadline, false); err != nil {
			return nil, err
		}
		out := *m
		return &out, nil
	}
	if err := bracket.Expire(m, s.now().UTC(), s.intn); err != nil {
		return nil, err
	}

	metrics.MatchesResolved.WithLabelValues("forfeit").Inc()
	s.logger.Info("match resolved by deadline",
		"tournament_id", m.TournamentID,
		"match_id", m.ID,
		"winner_user_id", m.WinnerUserID,
	)

	if err := s.propagate(ctx, st, TriggerDeadline, true); err != nil {
		return nil, err
	}
	out := *m
	return &out, nil
}

// ResetAll deletes every tournament and leaderboard entry
func (s *TournamentService) ResetAll(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("deleting all data: %w", err)
	}
	if err := s.leaderboard.Reset(ctx); err != nil {
		return fmt.Errorf("resetting leaderboard cache: %w", err)
	}
	s.logger.Warn("all tournaments reset")
	return nil
}

// bracketState is a tournament and its bracket loaded for one transition
type bracketState struct {
	tournament *domain.Tournament
	rounds     []domain.Round
	round      int
	index      int
}

func (b *bracketState) match() *domain.Match {
	return &b.rounds[b.round].Matches[b.index]
}

// voidOpenMatches closes every undecided match of a cancelled tournament as a
// forfeit without a winner.
func (s *TournamentService) voidOpenMatches(ctx context.Context, tournamentID string, now time.Time) (int, error) {
	rounds, err := s.store.GetBracket(ctx, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("loading bracket: %w", err)
	}

	voided := 0
	for r := range rounds {
		for k := range rounds[r].Matches {
			m := &rounds[r].Matches[k]
			if m.Status.IsTerminal() {
				continue
			}
			m.Status = domain.MatchStatusForfeit
			m.WinnerUserID = ""
			m.Deadline = nil
			m.FinishedAt = utils.Ptr(now)
			if err := s.store.UpsertMatch(ctx, m); err != nil {
				return voided, fmt.Errorf("saving match %s: %w", m.Label(), err)
			}
			voided++
		}
	}
	return voided, nil
}

func (s *TournamentService) loadBracket(ctx context.Context, tournamentID, matchID string) (*bracketState, error) {
	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	rounds, err := s.store.GetBracket(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("loading bracket: %w", err)
	}
	r, k, ok := bracket.Locate(rounds, matchID)
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return &bracketState{tournament: t, rounds: rounds, round: r, index: k}, nil
}

// propagate advances the decided match, persists every touched match and
// completes the tournament when the final was decided. When the match was not
// just decided and nothing moved, it does nothing.
func (s *TournamentService) propagate(ctx context.Context, st *bracketState, trigger string, decided bool) error {
	m := st.match()
	res, err := bracket.Advance(st.rounds, st.round, st.index, s.now().UTC(), st.tournament.RoundDeadline())
	if err != nil {
		return err
	}
	if !decided && len(res.Changed) == 0 && !res.Completed() {
		return nil
	}

	changed := append([]*domain.Match{m}, res.Changed...)
	seen := make(map[string]bool, len(changed))
	for _, c := range changed {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if err := s.store.UpsertMatch(ctx, c); err != nil {
			return fmt.Errorf("saving match %s: %w", c.Label(), err)
		}
	}

	for _, c := range changed[1:] {
		if c.Status == domain.MatchStatusPending {
			s.logger.Info("match ready",
				"tournament_id", c.TournamentID,
				"match_id", c.ID,
				"round", c.RoundNumber,
				"players", c.Players(),
			)
		}
	}

	s.events.Publish(domain.EventMatchUpdated, m.TournamentID, m)
	s.events.Publish(domain.EventBracketUpdated, m.TournamentID, &domain.BracketSnapshot{
		Tournament: *st.tournament,
		Rounds:     st.rounds,
	})

	if res.Completed() {
		return s.complete(ctx, st, res.Champion, trigger)
	}
	return nil
}

func (s *TournamentService) complete(ctx context.Context, st *bracketState, champion, trigger string) error {
	t := st.tournament
	now := s.now().UTC()
	t.Status = domain.TournamentStatusFinished
	t.WinnerUserID = champion
	t.FinishedAt = utils.Ptr(now)
	if err := s.store.UpdateTournament(ctx, t); err != nil {
		return fmt.Errorf("finishing tournament: %w", err)
	}

	metrics.TournamentTransitions.WithLabelValues(string(t.Status), trigger).Inc()
	s.logger.Info("tournament finished",
		"tournament_id", t.ID,
		"winner_user_id", champion,
	)
	s.events.Publish(domain.EventTournamentFinished, t.ID, t)

	players, err := s.store.ListPlayers(ctx, t.ID)
	if err != nil {
		s.logger.Error("failed to load players for leaderboard", "tournament_id", t.ID, "error", err)
		return nil
	}
	if err := s.leaderboard.RecordTournament(ctx, t, st.rounds, players); err != nil {
		s.logger.Error("failed to update leaderboard", "tournament_id", t.ID, "error", err)
	}
	return nil
}
