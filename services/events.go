package services

import (
	"dart-match-system/models"

	"gorm.io/gorm"
)

// emitEvent writes an outbox row inside the caller's transaction so the
// event commits iff the transition it reports commits. The notification
// worker drains these in id order.
func emitEvent(tx *gorm.DB, eventType, matchID, recipientUserID, summary string) error {
	event := models.MatchEvent{
		EventType:       eventType,
		MatchID:         matchID,
		RecipientUserID: recipientUserID,
		Summary:         summary,
	}
	return tx.Create(&event).Error
}
