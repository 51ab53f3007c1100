package models

import (
	"time"
)

// Event types consumed by the push notification service.
const (
	EventChallengeCreated  = "challengeCreated"
	EventChallengeAccepted = "challengeAccepted"
	EventTurnTaken         = "turnTaken"
	EventMatchEnded        = "matchEnded"
)

// MatchEvent is an outbox row written in the same transaction as the
// lifecycle transition it reports. The auto-increment id preserves commit
// order, so draining by id gives exactly-once, in-order delivery to the
// notification worker and any change-feed consumer.
type MatchEvent struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType       string     `gorm:"index;not null" json:"event_type"`
	MatchID         string     `gorm:"index;not null" json:"match_id"`
	RecipientUserID string     `gorm:"index;not null" json:"recipient_user_id"`
	Summary         string     `json:"summary"`
	DispatchedAt    *time.Time `gorm:"index" json:"dispatched_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
