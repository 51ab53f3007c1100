package models

import (
	"time"
)

// Match modes
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Match statuses. Forward-only: pending → ready → lobby → in_progress →
// completed, with expired/cancelled reachable from any non-terminal status.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusLobby      = "lobby"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusExpired    = "expired"
	StatusCancelled  = "cancelled"
)

// Ended reasons
const (
	EndedReasonCompleted = "completed"
	EndedReasonExpired   = "expired"
	EndedReasonDeclined  = "declined"
)

// DefaultStartingScore is the per-leg countdown start (501 darts).
const DefaultStartingScore = 501

// Match records a remote (or local) darts match between two players.
// Remote matches are strictly two-player: challenger vs receiver.
type Match struct {
	ID   string `gorm:"primaryKey;type:uuid" json:"id"`
	Mode string `gorm:"type:varchar(8);default:'remote'" json:"mode"`

	ChallengerID string `gorm:"index;not null" json:"challenger_id"`
	ReceiverID   string `gorm:"index;not null" json:"receiver_id"`

	Status string `gorm:"index;default:'pending'" json:"status"`

	// CurrentPlayerID is non-nil iff Status == in_progress.
	CurrentPlayerID *string `json:"current_player_id,omitempty"`

	// Per-leg countdown scores.
	StartingScore   int `gorm:"default:501" json:"starting_score"`
	ChallengerScore int `json:"challenger_score"`
	ReceiverScore   int `json:"receiver_score"`

	// Legs won so far.
	ChallengerLegs int `json:"challenger_legs"`
	ReceiverLegs   int `json:"receiver_legs"`

	// TurnIndexInLeg counts visits within the current leg, starting at 0.
	// Visit number = TurnIndexInLeg/2 + 1.
	TurnIndexInLeg int `json:"turn_index_in_leg"`

	// LegStarterID throws first in the current leg; alternates each leg.
	LegStarterID string `json:"leg_starter_id"`

	// MatchFormat is best-of-N legs.
	MatchFormat int `gorm:"default:1" json:"match_format"`

	// ChallengeExpiresAt bounds how long the receiver may accept.
	ChallengeExpiresAt *time.Time `gorm:"index" json:"challenge_expires_at,omitempty"`

	// JoinWindowExpiresAt bounds the lobby-confirmation window. The turn
	// processor refreshes it on every accepted visit, so it doubles as a
	// rolling abandonment deadline for stalled in_progress matches.
	JoinWindowExpiresAt *time.Time `gorm:"index" json:"join_window_expires_at,omitempty"`

	// Lobby confirmations.
	ChallengerJoined bool `json:"challenger_joined"`
	ReceiverJoined   bool `json:"receiver_joined"`

	// Set only on terminal transition.
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndedBy     string     `json:"ended_by,omitempty"`
	EndedReason string     `json:"ended_reason,omitempty"`

	// LastVisitPayload holds the most recently applied visit as JSON,
	// kept for the client-side reveal animation. Not authoritative.
	LastVisitPayload string `gorm:"type:text" json:"last_visit_payload,omitempty"`

	Timestamps
}

// VisitPayload is the JSON shape stored in Match.LastVisitPayload.
type VisitPayload struct {
	PlayerID    string `json:"player_id"`
	Delta       int    `json:"delta"`
	NewScore    int    `json:"new_score"`
	LegWon      bool   `json:"leg_won"`
	MatchWon    bool   `json:"match_won"`
	TurnIndex   int    `json:"turn_index"`
	VisitNumber int    `json:"visit_number"`
}

// IsParticipant reports whether userID plays in this match.
func (m *Match) IsParticipant(userID string) bool {
	return userID == m.ChallengerID || userID == m.ReceiverID
}

// Opponent returns the other participant's id.
func (m *Match) Opponent(userID string) string {
	if userID == m.ChallengerID {
		return m.ReceiverID
	}
	return m.ChallengerID
}

// IsTerminal reports whether the match has reached a final status.
func (m *Match) IsTerminal() bool {
	switch m.Status {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// ScoreOf returns the current leg score for userID.
func (m *Match) ScoreOf(userID string) int {
	if userID == m.ChallengerID {
		return m.ChallengerScore
	}
	return m.ReceiverScore
}

// SetScore stores the leg score for userID.
func (m *Match) SetScore(userID string, score int) {
	if userID == m.ChallengerID {
		m.ChallengerScore = score
	} else {
		m.ReceiverScore = score
	}
}

// LegsOf returns legs won by userID.
func (m *Match) LegsOf(userID string) int {
	if userID == m.ChallengerID {
		return m.ChallengerLegs
	}
	return m.ReceiverLegs
}

// AddLeg credits one leg to userID.
func (m *Match) AddLeg(userID string) {
	if userID == m.ChallengerID {
		m.ChallengerLegs++
	} else {
		m.ReceiverLegs++
	}
}

// LegsToWin is the leg count that decides a best-of-MatchFormat match.
func (m *Match) LegsToWin() int {
	return m.MatchFormat/2 + 1
}

// Scores returns the participant-id → leg-score mapping for responses.
func (m *Match) Scores() map[string]int {
	return map[string]int{
		m.ChallengerID: m.ChallengerScore,
		m.ReceiverID:   m.ReceiverScore,
	}
}
