package domain

import (
	"fmt"
	"time"
)

// MatchStatus represents the state of a single bracket match
type MatchStatus string

const (
	MatchStatusWaiting  MatchStatus = "waiting"
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusPlaying  MatchStatus = "playing"
	MatchStatusFinished MatchStatus = "finished"
	MatchStatusForfeit  MatchStatus = "forfeit"
)

// IsTerminal reports whether the match has been decided.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusFinished || s == MatchStatusForfeit
}

// SlotKind tells what occupies one side of a match
type SlotKind string

const (
	SlotOpen   SlotKind = "open"
	SlotPlayer SlotKind = "player"
	SlotBye    SlotKind = "bye"
)

// Slot is one side of a match: a player, a bye, or not yet determined.
type Slot struct {
	Kind   SlotKind `json:"kind"`
	UserID string   `json:"user_id,omitempty"`
}

// PlayerSlot returns a slot held by userID.
func PlayerSlot(userID string) Slot {
	return Slot{Kind: SlotPlayer, UserID: userID}
}

// ByeSlot returns an absent-opponent slot.
func ByeSlot() Slot {
	return Slot{Kind: SlotBye}
}

// OpenSlot returns a slot whose occupant is not known yet.
func OpenSlot() Slot {
	return Slot{Kind: SlotOpen}
}

func (s Slot) IsPlayer() bool { return s.Kind == SlotPlayer }
func (s Slot) IsBye() bool    { return s.Kind == SlotBye }
func (s Slot) IsOpen() bool   { return s.Kind == SlotOpen || s.Kind == "" }

func (s Slot) String() string {
	switch s.Kind {
	case SlotPlayer:
		return s.UserID
	case SlotBye:
		return "bye"
	default:
		return "tbd"
	}
}

// Match represents one pairing in the bracket
type Match struct {
	ID           string      `json:"id"`
	TournamentID string      `json:"tournament_id"`
	RoundNumber  int         `json:"round_number"`
	MatchNumber  int         `json:"match_number"`
	Player1      Slot        `json:"player1"`
	Player2      Slot        `json:"player2"`
	WinnerUserID string      `json:"winner_user_id,omitempty"`
	Status       MatchStatus `json:"status"`
	Deadline     *time.Time  `json:"deadline,omitempty"`
	GameRoomID   string      `json:"game_room_id,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// Players returns the user ids currently seated in the match.
func (m *Match) Players() []string {
	players := make([]string, 0, 2)
	if m.Player1.IsPlayer() {
		players = append(players, m.Player1.UserID)
	}
	if m.Player2.IsPlayer() {
		players = append(players, m.Player2.UserID)
	}
	return players
}

// HasPlayer reports whether userID holds one of the two slots.
func (m *Match) HasPlayer(userID string) bool {
	return userID != "" &&
		((m.Player1.IsPlayer() && m.Player1.UserID == userID) ||
			(m.Player2.IsPlayer() && m.Player2.UserID == userID))
}

// Opponent returns the other seated player, if any.
func (m *Match) Opponent(userID string) (string, bool) {
	switch {
	case m.Player1.IsPlayer() && m.Player1.UserID == userID && m.Player2.IsPlayer():
		return m.Player2.UserID, true
	case m.Player2.IsPlayer() && m.Player2.UserID == userID && m.Player1.IsPlayer():
		return m.Player1.UserID, true
	}
	return "", false
}

// IsBye reports whether either side is a bye.
func (m *Match) IsBye() bool {
	return m.Player1.IsBye() || m.Player2.IsBye()
}

// Expired reports whether the decision deadline has elapsed at now.
func (m *Match) Expired(now time.Time) bool {
	return m.Deadline != nil && !now.Before(*m.Deadline)
}

// Label is a short human readable position like "R2M1".
func (m *Match) Label() string {
	return fmt.Sprintf("R%dM%d", m.RoundNumber, m.MatchNumber)
}

// Round groups the matches played at the same distance from the final
type Round struct {
	RoundNumber int     `json:"round_number"`
	Name        string  `json:"name"`
	Matches     []Match `json:"matches"`
}

// RoundName derives a display name from the distance to the final round.
func RoundName(roundNumber, totalRounds int) string {
	switch totalRounds - roundNumber {
	case 0:
		return "Final"
	case 1:
		return "Semifinal"
	case 2:
		return "Quarterfinal"
	}
	return fmt.Sprintf("Round of %d", 1<<(totalRounds-roundNumber+1))
}

// MatchFilter narrows ListMatches results. Zero values match everything.
type MatchFilter struct {
	TournamentID   string
	Status         MatchStatus
	DeadlineBefore *time.Time
}

// Matches reports whether m satisfies the filter.
func (f MatchFilter) Matches(m *Match) bool {
	if f.TournamentID != "" && m.TournamentID != f.TournamentID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.DeadlineBefore != nil {
		if m.Deadline == nil || m.Deadline.After(*f.DeadlineBefore) {
			return false
		}
	}
	return true
}

// MatchUpdate carries the fields to change on a stored match. Nil fields are left untouched.
type MatchUpdate struct {
	Status       *MatchStatus
	Player1      *Slot
	Player2      *Slot
	WinnerUserID *string
	Deadline     *time.Time
	GameRoomID   *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u MatchUpdate) IsEmpty() bool {
	return u.Status == nil && u.Player1 == nil && u.Player2 == nil && u.WinnerUserID == nil &&
		u.Deadline == nil && u.GameRoomID == nil && u.StartedAt == nil && u.FinishedAt == nil
}

// Apply copies the set fields onto m.
func (u MatchUpdate) Apply(m *Match) {
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Player1 != nil {
		m.Player1 = *u.Player1
	}
	if u.Player2 != nil {
		m.Player2 = *u.Player2
	}
	if u.WinnerUserID != nil {
		m.WinnerUserID = *u.WinnerUserID
	}
	if u.Deadline != nil {
		d := *u.Deadline
		m.Deadline = &d
	}
	if u.GameRoomID != nil {
		m.GameRoomID = *u.GameRoomID
	}
	if u.StartedAt != nil {
		s := *u.StartedAt
		m.StartedAt = &s
	}
	if u.FinishedAt != nil {
		f := *u.FinishedAt
		m.FinishedAt = &f
	}
}

// StartMatchRequest carries the room assigned by the game service
type StartMatchRequest struct {
	GameRoomID string `json:"game_room_id"`
}

// MatchResult reports the winner of a match, over HTTP or the results topic
type MatchResult struct {
	MatchID      string `json:"match_id"`
	WinnerUserID string `json:"winner_user_id"`
}
