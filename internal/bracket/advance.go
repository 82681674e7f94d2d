package bracket

import (
	"fmt"
	"time"

	"github.com/tournament-engine/internal/domain"
)

// Result describes what a call to Advance changed.
type Result struct {
	// Changed holds the matches written during propagation, in write order.
	// The pointers reference the rounds slice passed to Advance.
	Changed []*domain.Match
	// Champion is set when the final was decided.
	Champion string
}

// Completed reports whether propagation reached the end of the bracket.
func (r Result) Completed() bool {
	return r.Champion != ""
}

func (r *Result) touch(m *domain.Match) {
	for _, c := range r.Changed {
		if c == m {
			return
		}
	}
	r.Changed = append(r.Changed, m)
}

// Advance propagates the outcome of the decided match rounds[round].Matches[index]
// into its parent slot, activating or resolving the parent once both of its slots
// are known. It is safe to call repeatedly: an outcome already present in the
// parent slot is a no-op, while a different occupant yields ErrSlotConflict.
//
// A bye match with one player records that player as winner. A match with no
// players at all (two byes) passes a bye upward. A parent that ends up with a
// player and a bye is resolved the same way as a round-one bye.
func Advance(rounds []domain.Round, round, index int, now time.Time, window time.Duration) (Result, error) {
	var res Result
	err := advance(rounds, round, index, now, window, &res)
	return res, err
}

func advance(rounds []domain.Round, round, index int, now time.Time, window time.Duration, res *Result) error {
	m := &rounds[round].Matches[index]
	if !m.Status.IsTerminal() {
		return fmt.Errorf("%w: match %s is %s", domain.ErrInvalidState, m.Label(), m.Status)
	}

	outcome, err := resolveOutcome(m, res)
	if err != nil {
		return err
	}

	if round == len(rounds)-1 {
		if outcome.IsPlayer() {
			res.Champion = outcome.UserID
		}
		return nil
	}

	parentIndex := index / 2
	parent := &rounds[round+1].Matches[parentIndex]
	slot := &parent.Player1
	if index%2 == 1 {
		slot = &parent.Player2
	}

	if *slot == outcome {
		return nil
	}
	if !slot.IsOpen() {
		return fmt.Errorf("%w: %s slot holds %s, cannot write %s",
			domain.ErrSlotConflict, parent.Label(), slot, outcome)
	}
	*slot = outcome
	res.touch(parent)

	if parent.Player1.IsOpen() || parent.Player2.IsOpen() || parent.Status != domain.MatchStatusWaiting {
		return nil
	}

	if parent.Player1.IsPlayer() && parent.Player2.IsPlayer() {
		deadline := now.Add(window)
		parent.Status = domain.MatchStatusPending
		parent.Deadline = &deadline
		return nil
	}

	finishedAt := now
	parent.Status = domain.MatchStatusFinished
	parent.FinishedAt = &finishedAt
	return advance(rounds, round+1, parentIndex, now, window, res)
}

// resolveOutcome returns what the decided match sends upward, recording the
// winner of a single-player bye match on the way.
func resolveOutcome(m *domain.Match, res *Result) (domain.Slot, error) {
	if m.WinnerUserID != "" {
		return domain.PlayerSlot(m.WinnerUserID), nil
	}

	players := m.Players()
	switch {
	case !m.IsBye():
		return domain.Slot{}, fmt.Errorf("%w: match %s has no winner", domain.ErrInvalidState, m.Label())
	case len(players) == 1:
		m.WinnerUserID = players[0]
		res.touch(m)
		return domain.PlayerSlot(players[0]), nil
	default:
		return domain.ByeSlot(), nil
	}
}
