package domain

// Notification event names
const (
	EventTournamentCreated      = "tournament:created"
	EventTournamentParticipants = "tournament:participants"
	EventTournamentStarted      = "tournament:started"
	EventTournamentFinished     = "tournament:finished"
	EventTournamentCancelled    = "tournament:cancelled"
	EventBracketUpdated         = "bracket:updated"
	EventMatchStarted           = "match:started"
	EventMatchUpdated           = "match:updated"
	EventLeaderboardUpdated     = "leaderboard:updated"
)

// BracketSnapshot is the payload of started and bracket-updated events
type BracketSnapshot struct {
	Tournament Tournament `json:"tournament"`
	Rounds     []Round    `json:"rounds"`
}
