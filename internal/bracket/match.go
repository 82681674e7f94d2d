package bracket

import (
	"fmt"
	"time"

	"github.com/tournament-engine/internal/domain"
)

// Start moves a pending match into play.
func Start(m *domain.Match, gameRoomID string, now time.Time) error {
	if m.Status != domain.MatchStatusPending {
		return fmt.Errorf("%w: cannot start match %s while %s", domain.ErrInvalidState, m.Label(), m.Status)
	}
	startedAt := now
	m.Status = domain.MatchStatusPlaying
	m.GameRoomID = gameRoomID
	m.StartedAt = &startedAt
	return nil
}

// Finish records winnerUserID on a pending or playing match. A match that is
// already decided is left unchanged and Finish returns false.
func Finish(m *domain.Match, winnerUserID string, now time.Time) (bool, error) {
	if m.Status.IsTerminal() {
		return false, nil
	}
	if m.Status != domain.MatchStatusPending && m.Status != domain.MatchStatusPlaying {
		return false, fmt.Errorf("%w: cannot report match %s while %s", domain.ErrInvalidState, m.Label(), m.Status)
	}
	if !m.HasPlayer(winnerUserID) {
		return false, domain.ErrInvalidWinner
	}

	finishedAt := now
	m.Status = domain.MatchStatusFinished
	m.WinnerUserID = winnerUserID
	m.FinishedAt = &finishedAt
	return true, nil
}

// Expirable reports whether the deadline path may resolve m at now: it must be
// pending, past its deadline, and seat two real players.
func Expirable(m *domain.Match, now time.Time) bool {
	return m.Status == domain.MatchStatusPending && m.Expired(now) && len(m.Players()) == 2
}

// Expire resolves an expired match by drawing a winner uniformly at random and
// marks it forfeit. pick(n) must return a value in [0, n).
func Expire(m *domain.Match, now time.Time, pick func(n int) int) error {
	if !Expirable(m, now) {
		return fmt.Errorf("%w: match %s is not eligible for deadline resolution", domain.ErrInvalidState, m.Label())
	}

	players := m.Players()
	finishedAt := now
	m.Status = domain.MatchStatusForfeit
	m.WinnerUserID = players[pick(len(players))]
	m.FinishedAt = &finishedAt
	return nil
}
