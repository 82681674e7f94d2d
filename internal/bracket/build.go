package bracket

import (
	"time"

	"github.com/google/uuid"
	"github.com/tournament-engine/internal/domain"
)

// Options controls bracket construction.
type Options struct {
	// RoundDeadline is the decision window granted to every pending match.
	RoundDeadline time.Duration
	// Now stamps deadlines and bye resolutions.
	Now time.Time
	// NewID generates match ids. Defaults to random UUIDs.
	NewID func() string
}

// Build creates the complete bracket for already seeded players.
//
// Byes are appended after all real players. Round one pairs consecutive slots;
// any pairing with a bye is created finished and is then run through Advance so
// the real player moves up before the bracket is returned. Later rounds are
// created with open slots in waiting status.
func Build(tournamentID string, seeded []domain.Registration, opts Options) ([]domain.Round, error) {
	if len(seeded) < 2 {
		return nil, domain.ErrNotEnoughPlayers
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}

	size := Size(len(seeded))
	totalRounds := RoundCount(size)

	slots := make([]domain.Slot, size)
	for i := range slots {
		if i < len(seeded) {
			slots[i] = domain.PlayerSlot(seeded[i].UserID)
		} else {
			slots[i] = domain.ByeSlot()
		}
	}

	rounds := make([]domain.Round, totalRounds)
	for r := range rounds {
		roundNumber := r + 1
		matchCount := size >> roundNumber
		rounds[r] = domain.Round{
			RoundNumber: roundNumber,
			Name:        domain.RoundName(roundNumber, totalRounds),
			Matches:     make([]domain.Match, matchCount),
		}

		for k := range rounds[r].Matches {
			m := domain.Match{
				ID:           opts.NewID(),
				TournamentID: tournamentID,
				RoundNumber:  roundNumber,
				MatchNumber:  k + 1,
				Player1:      domain.OpenSlot(),
				Player2:      domain.OpenSlot(),
				Status:       domain.MatchStatusWaiting,
			}

			if r == 0 {
				m.Player1 = slots[2*k]
				m.Player2 = slots[2*k+1]
				if m.IsBye() {
					finishedAt := opts.Now
					m.Status = domain.MatchStatusFinished
					m.FinishedAt = &finishedAt
				} else {
					deadline := opts.Now.Add(opts.RoundDeadline)
					m.Status = domain.MatchStatusPending
					m.Deadline = &deadline
				}
			}

			rounds[r].Matches[k] = m
		}
	}

	for k := range rounds[0].Matches {
		if !rounds[0].Matches[k].IsBye() {
			continue
		}
		if _, err := Advance(rounds, 0, k, opts.Now, opts.RoundDeadline); err != nil {
			return nil, err
		}
	}

	return rounds, nil
}

// Locate returns the round and match index of matchID.
func Locate(rounds []domain.Round, matchID string) (int, int, bool) {
	for r := range rounds {
		for k := range rounds[r].Matches {
			if rounds[r].Matches[k].ID == matchID {
				return r, k, true
			}
		}
	}
	return 0, 0, false
}

// Final returns the last-round match, or nil for an empty bracket.
func Final(rounds []domain.Round) *domain.Match {
	if len(rounds) == 0 || len(rounds[len(rounds)-1].Matches) == 0 {
		return nil
	}
	return &rounds[len(rounds)-1].Matches[0]
}
