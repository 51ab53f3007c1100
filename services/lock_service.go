package services

import (
	"errors"
	"time"

	"dart-match-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockService is the admission controller: the only component allowed to
// write the match_locks table. A user may hold at most one lock at a time,
// enforced by the table's primary key.
type LockService struct {
	DB *gorm.DB
}

func NewLockService(db *gorm.DB) *LockService {
	return &LockService{DB: db}
}

// forUpdate adds a row-level exclusive lock on databases that support it.
// The sqlite test driver serializes writes on its own and rejects the
// FOR UPDATE syntax.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Acquire inserts a lock row for userID inside the caller's transaction.
// Returns ErrAlreadyLocked if the user holds a lock for any match.
func (s *LockService) Acquire(tx *gorm.DB, userID, matchID, status string) error {
	var existing models.MatchLock
	err := forUpdate(tx).First(&existing, "user_id = ?", userID).Error
	if err == nil {
		return ErrAlreadyLocked
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	lock := models.MatchLock{
		UserID:     userID,
		MatchID:    matchID,
		LockStatus: status,
	}
	if err := tx.Create(&lock).Error; err != nil {
		// Two transactions can pass the existence check concurrently;
		// the primary key decides the race.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyLocked
		}
		return err
	}
	return nil
}

// AcquirePair locks both participants for matchID all-or-nothing. Inserts
// run in ascending user-id order so two concurrent acceptances touching a
// common user cannot deadlock each other.
func (s *LockService) AcquirePair(tx *gorm.DB, userA, userB, matchID, status string) error {
	first, second := userA, userB
	if second < first {
		first, second = second, first
	}
	if err := s.Acquire(tx, first, matchID, status); err != nil {
		return err
	}
	return s.Acquire(tx, second, matchID, status)
}

// Release deletes userID's lock. Idempotent: releasing a missing lock is
// a no-op.
func (s *LockService) Release(tx *gorm.DB, userID string) error {
	return tx.Delete(&models.MatchLock{}, "user_id = ?", userID).Error
}

// ReleaseForMatch deletes every lock row referencing matchID, used on
// terminal transitions.
func (s *LockService) ReleaseForMatch(tx *gorm.DB, matchID string) error {
	return tx.Delete(&models.MatchLock{}, "match_id = ?", matchID).Error
}

// UpdateStatus moves userID's lock between ready and in_progress.
func (s *LockService) UpdateStatus(tx *gorm.DB, userID, status string) error {
	return tx.Model(&models.MatchLock{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"lock_status": status,
			"updated_at":  time.Now(),
		}).Error
}

// HeldBy returns the lock currently held by userID, if any.
func (s *LockService) HeldBy(userID string) (*models.MatchLock, error) {
	var lock models.MatchLock
	if err := s.DB.First(&lock, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}
