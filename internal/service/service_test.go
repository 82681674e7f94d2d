package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/rating"
	"github.com/tournament-engine/internal/store"
	"github.com/tournament-engine/internal/store/memory"
)

type published struct {
	name         string
	tournamentID string
	data         any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(name, tournamentID string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{name: name, tournamentID: tournamentID, data: data})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.name
	}
	return out
}

func (p *recordingPublisher) count(name string) int {
	n := 0
	for _, got := range p.names() {
		if got == name {
			n++
		}
	}
	return n
}

// flakyMatchStore fails every save of one match.
type flakyMatchStore struct {
	store.Store
	failID string
}

func (s *flakyMatchStore) UpsertMatch(ctx context.Context, m *domain.Match) error {
	if m.ID == s.failID {
		return fmt.Errorf("%w: connection reset", domain.ErrPersistence)
	}
	return s.Store.UpsertMatch(ctx, m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc         *TournamentService
	leaderboard *LeaderboardService
	store       *memory.Store
	ratings     *rating.StaticGateway
	events      *recordingPublisher
	clock       *fakeClock
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore()
	events := &recordingPublisher{}
	ratings := rating.NewStaticGateway(cfg.Tournament.DefaultRating)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	var (
		idMu sync.Mutex
		next int
	)
	newID := func() string {
		idMu.Lock()
		defer idMu.Unlock()
		next++
		return fmt.Sprintf("id-%03d", next)
	}

	lb := NewLeaderboardService(st, nil, events, cfg.Tournament.Scoring, &cfg.Leaderboard, logger)
	svc := NewTournamentService(st, ratings, events, lb, &cfg.Tournament, logger,
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewSource(7))),
		WithIDGenerator(newID),
	)

	return &testEnv{svc: svc, leaderboard: lb, store: st, ratings: ratings, events: events, clock: clock}
}

func (e *testEnv) createTournament(t *testing.T, max int, seeding domain.SeedingMethod) *domain.Tournament {
	t.Helper()

	tour, err := e.svc.CreateTournament(context.Background(), domain.CreateTournamentRequest{
		Name:            "Spring Open",
		GameVariant:     domain.GameVariantClassic,
		MaxParticipants: max,
		SeedingMethod:   seeding,
		CreatedBy:       "admin",
	})
	require.NoError(t, err)
	return tour
}

func (e *testEnv) register(t *testing.T, tournamentID string, users ...string) {
	t.Helper()

	for _, u := range users {
		_, err := e.svc.RegisterPlayer(context.Background(), tournamentID, domain.RegisterRequest{UserID: u, UserName: "name-" + u})
		require.NoError(t, err)
	}
}

// playOut reports the first seated player as winner of every open match until
// the tournament finishes.
func (e *testEnv) playOut(t *testing.T, tournamentID string) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 64; i++ {
		tour, err := e.store.GetTournament(ctx, tournamentID)
		require.NoError(t, err)
		if tour.Status == domain.TournamentStatusFinished {
			return
		}

		matches, err := e.store.ListMatches(ctx, domain.MatchFilter{TournamentID: tournamentID, Status: domain.MatchStatusPending})
		require.NoError(t, err)
		require.NotEmpty(t, matches, "ongoing tournament has no pending match")

		m := matches[0]
		_, err = e.svc.ReportMatchResult(ctx, m.ID, m.Player1.UserID)
		require.NoError(t, err)
	}
	t.Fatal("tournament did not finish")
}

func TestCreateTournament(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	t.Run("applies defaults", func(t *testing.T) {
		tour := env.createTournament(t, 8, "")

		assert.Equal(t, domain.TournamentStatusRegistration, tour.Status)
		assert.Equal(t, domain.SeedingRandom, tour.SeedingMethod)
		assert.Equal(t, 48, tour.RoundDeadlineHours)
		assert.Contains(t, env.events.names(), domain.EventTournamentCreated)
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		tests := []struct {
			name string
			req  domain.CreateTournamentRequest
		}{
			{"one player", domain.CreateTournamentRequest{Name: "x", GameVariant: domain.GameVariantClassic, MaxParticipants: 1}},
			{"unknown variant", domain.CreateTournamentRequest{Name: "x", GameVariant: "poker", MaxParticipants: 4}},
			{"blank name", domain.CreateTournamentRequest{Name: "  ", GameVariant: domain.GameVariantRapid, MaxParticipants: 4}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.svc.CreateTournament(ctx, tt.req)
				assert.ErrorIs(t, err, domain.ErrInvalidTournament)
			})
		}
	})
}

func TestRegisterPlayerGuards(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 3, domain.SeedingRandom)

	env.register(t, tour.ID, "alice")

	_, err := env.svc.RegisterPlayer(ctx, tour.ID, domain.RegisterRequest{UserID: "alice"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRegistration)

	_, err = env.svc.RegisterPlayer(ctx, tour.ID, domain.RegisterRequest{UserID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = env.svc.RegisterPlayer(ctx, "missing", domain.RegisterRequest{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrTournamentNotFound)

	_, err = env.svc.CancelTournament(ctx, tour.ID)
	require.NoError(t, err)
	_, err = env.svc.RegisterPlayer(ctx, tour.ID, domain.RegisterRequest{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRegisterPlayerRecordsRatingAndBroadcastsCount(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.ratings.SetRating(domain.GameVariantClassic, "alice", 1650)
	tour := env.createTournament(t, 4, domain.SeedingRating)

	reg, err := env.svc.RegisterPlayer(ctx, tour.ID, domain.RegisterRequest{UserID: "alice", UserName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 1650, reg.Rating)

	reg, err = env.svc.RegisterPlayer(ctx, tour.ID, domain.RegisterRequest{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1000, reg.Rating)

	env.events.mu.Lock()
	last := env.events.events[len(env.events.events)-1]
	env.events.mu.Unlock()
	assert.Equal(t, domain.EventTournamentParticipants, last.name)
	assert.Equal(t, domain.ParticipantCount{TournamentID: tour.ID, Count: 2, MaxParticipants: 4}, last.data)
}

func TestTwoPlayerTournamentFinishesOnFirstReport(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 2, domain.SeedingRandom)

	env.register(t, tour.ID, "alice", "bob")

	details, err := env.svc.GetTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusOngoing, details.Tournament.Status)
	require.Len(t, details.Rounds, 1)
	require.Len(t, details.Rounds[0].Matches, 1)
	assert.Equal(t, "Final", details.Rounds[0].Name)
	assert.Len(t, details.Players, 2)

	final := details.Rounds[0].Matches[0]
	assert.Equal(t, domain.MatchStatusPending, final.Status)
	require.NotNil(t, final.Deadline)
	assert.Equal(t, env.clock.Now().Add(48*time.Hour), *final.Deadline)

	winner := final.Player2.UserID
	m, err := env.svc.ReportMatchResult(ctx, final.ID, winner)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusFinished, m.Status)
	assert.Equal(t, winner, m.WinnerUserID)

	finished, err := env.store.GetTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusFinished, finished.Status)
	assert.Equal(t, winner, finished.WinnerUserID)
	require.NotNil(t, finished.FinishedAt)

	entries, err := env.leaderboard.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, winner, entries[0].UserID)
	assert.Equal(t, 1, entries[0].Wins)
	assert.Equal(t, int64(100), entries[0].Points)
	assert.Equal(t, 1, entries[0].FinalsReached)
	assert.Equal(t, int64(50), entries[1].Points)
	assert.Zero(t, entries[1].Wins)

	names := env.events.names()
	assert.Contains(t, names, domain.EventTournamentStarted)
	assert.Contains(t, names, domain.EventTournamentFinished)
	assert.Contains(t, names, domain.EventLeaderboardUpdated)
}

func TestFivePlayerTournamentByRating(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 8, domain.SeedingRating)

	for i, u := range []string{"p1", "p2", "p3", "p4", "p5"} {
		env.ratings.SetRating(domain.GameVariantClassic, u, 2000-i*100)
	}
	env.register(t, tour.ID, "p1", "p2", "p3", "p4", "p5")

	snapshot, err := env.svc.StartTournament(ctx, tour.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Rounds, 3)
	assert.Equal(t, "Quarterfinal", snapshot.Rounds[0].Name)
	assert.Equal(t, "Semifinal", snapshot.Rounds[1].Name)
	assert.Equal(t, "Final", snapshot.Rounds[2].Name)

	byes := 0
	for _, m := range snapshot.Rounds[0].Matches {
		if m.Player1.IsBye() {
			byes++
		}
		if m.Player2.IsBye() {
			byes++
		}
	}
	assert.Equal(t, 3, byes)

	players, err := env.store.ListPlayers(ctx, tour.ID)
	require.NoError(t, err)
	seeds := make(map[string]int)
	for _, p := range players {
		seeds[p.UserID] = p.Seed
	}
	assert.Equal(t, map[string]int{"p1": 1, "p2": 2, "p3": 3, "p4": 4, "p5": 5}, seeds)

	env.playOut(t, tour.ID)

	finished, err := env.store.GetTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusFinished, finished.Status)
	assert.NotEmpty(t, finished.WinnerUserID)

	entries, err := env.leaderboard.Top(ctx, 0)
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		total += e.Points
	}
	// the second semifinal seats p5 against a bye, so one semifinal loser scores
	assert.Equal(t, int64(100+50+25), total)
}

func TestStartTournamentGuards(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 4, domain.SeedingRandom)

	_, err := env.svc.StartTournament(ctx, tour.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	env.register(t, tour.ID, "alice")
	_, err = env.svc.StartTournament(ctx, tour.ID)
	assert.ErrorIs(t, err, domain.ErrNotEnoughPlayers)

	env.register(t, tour.ID, "bob", "carol")
	_, err = env.svc.StartTournament(ctx, tour.ID)
	require.NoError(t, err)

	_, err = env.svc.StartTournament(ctx, tour.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.svc.StartTournament(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTournamentNotFound)
}

func TestReportMatchResult(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 4, domain.SeedingRandom)
	env.register(t, tour.ID, "a", "b", "c", "d")

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	first := rounds[0].Matches[0]
	second := rounds[0].Matches[1]
	final := rounds[1].Matches[0]

	t.Run("rejects a player not in the match", func(t *testing.T) {
		_, err := env.svc.ReportMatchResult(ctx, first.ID, second.Player1.UserID)
		assert.ErrorIs(t, err, domain.ErrInvalidWinner)
	})

	t.Run("rejects a waiting match", func(t *testing.T) {
		_, err := env.svc.ReportMatchResult(ctx, final.ID, first.Player1.UserID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("unknown match", func(t *testing.T) {
		_, err := env.svc.ReportMatchResult(ctx, "nope", "a")
		assert.ErrorIs(t, err, domain.ErrMatchNotFound)
	})

	t.Run("winner fills the parent slot", func(t *testing.T) {
		_, err := env.svc.ReportMatchResult(ctx, first.ID, first.Player2.UserID)
		require.NoError(t, err)

		parent, err := env.store.GetMatch(ctx, final.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PlayerSlot(first.Player2.UserID), parent.Player1)
		assert.True(t, parent.Player2.IsOpen())
		assert.Equal(t, domain.MatchStatusWaiting, parent.Status)
	})

	t.Run("repeat report is a no-op", func(t *testing.T) {
		before := len(env.events.names())

		m, err := env.svc.ReportMatchResult(ctx, first.ID, first.Player1.UserID)
		require.NoError(t, err)
		assert.Equal(t, first.Player2.UserID, m.WinnerUserID)
		assert.Equal(t, before, len(env.events.names()))
	})

	t.Run("second semifinal activates the final", func(t *testing.T) {
		_, err := env.svc.ReportMatchResult(ctx, second.ID, second.Player1.UserID)
		require.NoError(t, err)

		parent, err := env.store.GetMatch(ctx, final.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MatchStatusPending, parent.Status)
		assert.Equal(t, domain.PlayerSlot(second.Player1.UserID), parent.Player2)
		require.NotNil(t, parent.Deadline)
	})
}

func TestReportRepairsInterruptedCompletion(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 2, domain.SeedingRandom)
	env.register(t, tour.ID, "alice", "bob")

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	final := rounds[0].Matches[0]

	// the final is stored as decided but the tournament never got marked finished
	final.Status = domain.MatchStatusFinished
	final.WinnerUserID = "alice"
	require.NoError(t, env.store.UpsertMatch(ctx, &final))

	m, err := env.svc.ReportMatchResult(ctx, final.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", m.WinnerUserID)

	tour, err = env.store.GetTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusFinished, tour.Status)
	assert.Equal(t, "alice", tour.WinnerUserID)
	assert.Equal(t, 1, env.events.count(domain.EventTournamentFinished))

	_, err = env.svc.ReportMatchResult(ctx, final.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, env.events.count(domain.EventTournamentFinished))
}

func TestStartMatch(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 2, domain.SeedingRandom)
	env.register(t, tour.ID, "alice", "bob")

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	final := rounds[0].Matches[0]

	m, err := env.svc.StartMatch(ctx, final.ID, "room-42")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusPlaying, m.Status)
	assert.Equal(t, "room-42", m.GameRoomID)

	stored, err := env.store.GetMatch(ctx, final.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusPlaying, stored.Status)
	require.NotNil(t, stored.StartedAt)

	_, err = env.svc.StartMatch(ctx, final.ID, "room-43")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.svc.ReportMatchResult(ctx, final.ID, "bob")
	require.NoError(t, err)
	assert.Contains(t, env.events.names(), domain.EventMatchStarted)
}

func TestResolveExpiredMatch(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 4, domain.SeedingRandom)
	env.register(t, tour.ID, "a", "b", "c", "d")

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	first := rounds[0].Matches[0]
	second := rounds[0].Matches[1]

	_, err = env.svc.ResolveExpiredMatch(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "deadline has not passed")

	_, err = env.svc.ReportMatchResult(ctx, second.ID, second.Player1.UserID)
	require.NoError(t, err)

	env.clock.Advance(49 * time.Hour)

	expired, err := env.svc.ExpiredMatches(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, first.ID, expired[0].ID)

	m, err := env.svc.ResolveExpiredMatch(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusForfeit, m.Status)
	assert.Contains(t, []string{first.Player1.UserID, first.Player2.UserID}, m.WinnerUserID)

	final, err := env.store.GetMatch(ctx, rounds[1].Matches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusPending, final.Status)
	assert.Equal(t, m.WinnerUserID, final.Player1.UserID)

	before := len(env.events.names())
	again, err := env.svc.ResolveExpiredMatch(ctx, first.ID)
	require.NoError(t, err, "already decided")
	assert.Equal(t, m.WinnerUserID, again.WinnerUserID)
	assert.Len(t, env.events.names(), before)
}

func TestStartDueTournament(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	deadline := env.clock.Now().Add(time.Hour)

	create := func(name string) *domain.Tournament {
		tour, err := env.svc.CreateTournament(ctx, domain.CreateTournamentRequest{
			Name:                 name,
			GameVariant:          domain.GameVariantRapid,
			MaxParticipants:      8,
			RegistrationDeadline: &deadline,
		})
		require.NoError(t, err)
		return tour
	}

	ready := create("ready")
	lonely := create("lonely")
	env.register(t, ready.ID, "a", "b", "c")
	env.register(t, lonely.ID, "a")

	started, err := env.svc.StartDueTournament(ctx, ready.ID)
	require.NoError(t, err)
	assert.False(t, started, "deadline not reached")

	env.clock.Advance(2 * time.Hour)

	due, err := env.svc.DueTournaments(ctx)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	started, err = env.svc.StartDueTournament(ctx, ready.ID)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = env.svc.StartDueTournament(ctx, lonely.ID)
	require.NoError(t, err)
	assert.False(t, started)

	got, err := env.store.GetTournament(ctx, lonely.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusRegistration, got.Status)
}

func TestConcurrentRegistrationFillsExactlyToCapacity(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 8, domain.SeedingRandom)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		full     int
		closed   int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.RegisterPlayer(ctx, tour.ID, domain.RegisterRequest{UserID: fmt.Sprintf("user-%02d", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case domain.IsConflictError(err):
				if errors.Is(err, domain.ErrCapacityExceeded) {
					full++
				} else {
					closed++
				}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, accepted)
	assert.Equal(t, 32, full+closed)

	count, err := env.store.CountPlayers(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	got, err := env.store.GetTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusOngoing, got.Status)
	assert.Equal(t, 1, env.events.count(domain.EventTournamentStarted))
}

func TestCancelTournament(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 2, domain.SeedingRandom)
	env.register(t, tour.ID, "alice", "bob")

	cancelled, err := env.svc.CancelTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TournamentStatusCancelled, cancelled.Status)

	_, err = env.svc.CancelTournament(ctx, tour.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	_, err = env.svc.ReportMatchResult(ctx, rounds[0].Matches[0].ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelOngoingTournamentVoidsOpenMatches(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 4, domain.SeedingRandom)
	env.register(t, tour.ID, "a", "b", "c", "d")

	_, err := env.svc.CancelTournament(ctx, tour.ID)
	require.NoError(t, err)

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	for _, r := range rounds {
		for _, m := range r.Matches {
			assert.Equal(t, domain.MatchStatusForfeit, m.Status, m.Label())
			assert.Empty(t, m.WinnerUserID, m.Label())
			assert.Nil(t, m.Deadline, m.Label())
		}
	}

	env.clock.Advance(49 * time.Hour)
	expired, err := env.svc.ExpiredMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestExpiredMatchesSkipsTournamentsNotOngoing(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	live := env.createTournament(t, 2, domain.SeedingRandom)
	stale := env.createTournament(t, 2, domain.SeedingRandom)
	env.register(t, live.ID, "a", "b")
	env.register(t, stale.ID, "c", "d")

	// A cancellation that stopped before touching the bracket.
	tour, err := env.store.GetTournament(ctx, stale.ID)
	require.NoError(t, err)
	tour.Status = domain.TournamentStatusCancelled
	require.NoError(t, env.store.UpdateTournament(ctx, tour))

	env.clock.Advance(49 * time.Hour)
	expired, err := env.svc.ExpiredMatches(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, live.ID, expired[0].TournamentID)
}

func TestResolveExpiredMatchRepairsInterruptedPropagation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 4, domain.SeedingRandom)
	env.register(t, tour.ID, "a", "b", "c", "d")

	rounds, err := env.svc.GetBracket(ctx, tour.ID)
	require.NoError(t, err)
	first := rounds[0].Matches[0]
	finalID := rounds[1].Matches[0].ID

	flaky := &flakyMatchStore{Store: env.store, failID: finalID}
	env.svc.store = flaky

	env.clock.Advance(49 * time.Hour)
	_, err = env.svc.ResolveExpiredMatch(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrPersistence)

	stored, err := env.store.GetMatch(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MatchStatusForfeit, stored.Status)
	final, err := env.store.GetMatch(ctx, finalID)
	require.NoError(t, err)
	require.Empty(t, final.Player1.UserID)

	flaky.failID = ""
	m, err := env.svc.ResolveExpiredMatch(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.WinnerUserID, m.WinnerUserID)

	final, err = env.store.GetMatch(ctx, finalID)
	require.NoError(t, err)
	assert.Equal(t, stored.WinnerUserID, final.Player1.UserID)
}

func TestListTournaments(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	open := env.createTournament(t, 4, domain.SeedingRandom)
	running := env.createTournament(t, 2, domain.SeedingRandom)
	env.register(t, running.ID, "a", "b")

	list, err := env.svc.ListTournaments(ctx, domain.TournamentFilter{Status: domain.TournamentStatusRegistration})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)

	_, err = env.svc.ListTournaments(ctx, domain.TournamentFilter{Status: "paused"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestLeaderboardIsMonotonicAcrossTournaments(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	var lastPoints int64
	var lastWins int
	for i := 0; i < 3; i++ {
		tour := env.createTournament(t, 2, domain.SeedingRating)
		env.ratings.SetRating(domain.GameVariantClassic, "alice", 2000)
		env.register(t, tour.ID, "alice", "bob")
		env.playOut(t, tour.ID)

		entries, err := env.leaderboard.Top(ctx, 10)
		require.NoError(t, err)
		var alice domain.LeaderboardEntry
		for _, e := range entries {
			if e.UserID == "alice" {
				alice = e
			}
		}
		assert.GreaterOrEqual(t, alice.Points, lastPoints)
		assert.GreaterOrEqual(t, alice.Wins, lastWins)
		lastPoints, lastWins = alice.Points, alice.Wins
	}
	assert.Equal(t, 3, lastWins)
}

func TestResetAll(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	tour := env.createTournament(t, 2, domain.SeedingRandom)
	env.register(t, tour.ID, "a", "b")

	require.NoError(t, env.svc.ResetAll(ctx))

	_, err := env.svc.GetTournament(ctx, tour.ID)
	assert.ErrorIs(t, err, domain.ErrTournamentNotFound)
}

func TestScoreTournament(t *testing.T) {
	scoring := config.ScoringConfig{WinPoints: 100, FinalistPoints: 50, SemifinalistPoints: 25}
	finished := func(p1, p2 domain.Slot, winner string) domain.Match {
		return domain.Match{Player1: p1, Player2: p2, WinnerUserID: winner, Status: domain.MatchStatusFinished}
	}
	p := domain.PlayerSlot

	t.Run("four players", func(t *testing.T) {
		rounds := []domain.Round{
			{RoundNumber: 1, Matches: []domain.Match{
				finished(p("a"), p("b"), "a"),
				finished(p("c"), p("d"), "c"),
			}},
			{RoundNumber: 2, Matches: []domain.Match{finished(p("a"), p("c"), "a")}},
		}

		deltas := scoreTournament(rounds, "a", scoring)

		assert.Equal(t, domain.LeaderboardDelta{Wins: 1, FinalsReached: 1, SemifinalsReached: 1, Points: 100}, deltas["a"])
		assert.Equal(t, domain.LeaderboardDelta{FinalsReached: 1, SemifinalsReached: 1, Points: 50}, deltas["c"])
		assert.Equal(t, domain.LeaderboardDelta{SemifinalsReached: 1, Points: 25}, deltas["b"])
		assert.Equal(t, domain.LeaderboardDelta{SemifinalsReached: 1, Points: 25}, deltas["d"])
	})

	t.Run("bye in the semifinal", func(t *testing.T) {
		rounds := []domain.Round{
			{RoundNumber: 1, Matches: []domain.Match{
				finished(p("a"), p("b"), "a"),
				finished(p("c"), domain.ByeSlot(), "c"),
			}},
			{RoundNumber: 2, Matches: []domain.Match{finished(p("a"), p("c"), "c")}},
		}

		deltas := scoreTournament(rounds, "c", scoring)

		assert.Len(t, deltas, 3)
		assert.Equal(t, int64(100), deltas["c"].Points)
		assert.Equal(t, int64(50), deltas["a"].Points)
		assert.Equal(t, int64(25), deltas["b"].Points)
	})

	t.Run("single final", func(t *testing.T) {
		rounds := []domain.Round{{RoundNumber: 1, Matches: []domain.Match{finished(p("x"), p("y"), "y")}}}

		deltas := scoreTournament(rounds, "y", scoring)

		assert.Equal(t, domain.LeaderboardDelta{Wins: 1, FinalsReached: 1, Points: 100}, deltas["y"])
		assert.Equal(t, domain.LeaderboardDelta{FinalsReached: 1, Points: 50}, deltas["x"])
	})

	t.Run("no champion", func(t *testing.T) {
		assert.Empty(t, scoreTournament(nil, "", scoring))
	})
}

type failingCache struct{}

func (failingCache) Put(context.Context, ...domain.LeaderboardEntry) error { return fmt.Errorf("down") }
func (failingCache) Top(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return nil, fmt.Errorf("down")
}
func (failingCache) Load(context.Context, []domain.LeaderboardEntry) error { return fmt.Errorf("down") }
func (failingCache) Reset(context.Context) error                           { return nil }

func TestLeaderboardFallsBackToStore(t *testing.T) {
	cfg := config.DefaultConfig()
	st := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lb := NewLeaderboardService(st, failingCache{}, &recordingPublisher{}, cfg.Tournament.Scoring, &cfg.Leaderboard, logger)
	ctx := context.Background()

	_, err := st.UpsertLeaderboardEntry(ctx, "alice", domain.LeaderboardDelta{Wins: 1, Points: 100})
	require.NoError(t, err)

	entries, err := lb.Top(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserID)

	assert.Error(t, lb.Warm(ctx))
}
