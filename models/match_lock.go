package models

import (
	"time"
)

// Lock statuses mirror the live portion of the match lifecycle.
const (
	LockStatusReady      = "ready"
	LockStatusInProgress = "in_progress"
)

// MatchLock marks a user as busy with a live remote match. The user id is
// the primary key, so the database itself enforces at most one live match
// per user: a second insert for the same user fails whatever match it names.
type MatchLock struct {
	UserID     string `gorm:"primaryKey" json:"user_id"`
	MatchID    string `gorm:"index;not null" json:"match_id"`
	LockStatus string `gorm:"type:varchar(16);not null" json:"lock_status"`

	// No soft delete here: a released lock must free the primary key
	// immediately so the user can enter a new match.
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
