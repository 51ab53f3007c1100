package services

import (
	"errors"
	"log"
	"time"

	"dart-match-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// SweepInterval bounds how stale a passed deadline can get before the
// sweeper acts on it.
const SweepInterval = 1 * time.Minute

// SweeperService forcibly terminates matches past their deadlines and
// frees orphaned locks. It is the second independent writer of match rows;
// every mutation runs in a short transaction under the same row lock the
// request path takes, so the two never race destructively. Errors are
// logged, never raised.
type SweeperService struct {
	DB    *gorm.DB
	Locks *LockService
	Now   func() time.Time
}

func NewSweeperService(db *gorm.DB, locks *LockService) *SweeperService {
	return &SweeperService{DB: db, Locks: locks, Now: time.Now}
}

// StartSweepScheduler runs RunSweep once per minute.
func (s *SweeperService) StartSweepScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(SweepInterval),
		gocron.NewTask(func() {
			s.RunSweep()
		}),
	)
}

// RunSweep is the idempotent entry point for the scheduled environment.
// Each pass only selects matches still in a non-terminal status, so an
// immediate second run finds nothing to touch.
func (s *SweeperService) RunSweep() {
	now := s.Now()

	// 1. Unanswered challenges past their acceptance deadline.
	s.expireBatch(now, []string{models.StatusPending}, "challenge_expires_at")

	// 2. Accepted matches nobody confirmed, lobbies with one confirmation
	//    missing, and in-progress matches with no turn activity for a full
	//    join window.
	s.expireBatch(now, []string{models.StatusReady, models.StatusLobby, models.StatusInProgress}, "join_window_expires_at")

	// 3. Locks whose match is already terminal (or gone). Normal paths
	//    release locks in the terminating transaction; this only catches
	//    leftovers from older data.
	s.releaseOrphanedLocks()
}

func (s *SweeperService) expireBatch(now time.Time, statuses []string, deadlineColumn string) {
	var matches []models.Match
	err := s.DB.
		Where("status IN ?", statuses).
		Where(deadlineColumn+" < ?", now).
		Find(&matches).Error
	if err != nil {
		log.Printf("[Sweeper] DB error selecting expirable matches: %v", err)
		return
	}

	for _, m := range matches {
		matchID := m.ID
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var match models.Match
			if err := forUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
				return err
			}
			// A request may have finished the match between the select
			// and this lock.
			if match.IsTerminal() {
				return nil
			}
			match.Status = models.StatusExpired
			match.CurrentPlayerID = nil
			match.EndedAt = &now
			match.EndedReason = models.EndedReasonExpired
			if err := tx.Save(&match).Error; err != nil {
				return err
			}
			if err := s.Locks.ReleaseForMatch(tx, match.ID); err != nil {
				return err
			}
			for _, id := range []string{match.ChallengerID, match.ReceiverID} {
				if err := emitEvent(tx, models.EventMatchEnded, match.ID, id, "match expired"); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Printf("[Sweeper] Failed to expire match %s: %v", matchID, err)
		} else {
			log.Printf("[Sweeper] ⏰ Expired match %s", matchID)
		}
	}
}

func (s *SweeperService) releaseOrphanedLocks() {
	var locks []models.MatchLock
	if err := s.DB.Find(&locks).Error; err != nil {
		log.Printf("[Sweeper] DB error selecting locks: %v", err)
		return
	}

	for _, lock := range locks {
		var match models.Match
		err := s.DB.First(&match, "id = ?", lock.MatchID).Error
		if err == nil && !match.IsTerminal() {
			continue
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[Sweeper] DB error checking lock for user %s: %v", lock.UserID, err)
			continue
		}
		if err := s.DB.Delete(&models.MatchLock{}, "user_id = ?", lock.UserID).Error; err != nil {
			log.Printf("[Sweeper] Failed to release orphaned lock for user %s: %v", lock.UserID, err)
		} else {
			log.Printf("[Sweeper] 🔓 Released orphaned lock for user %s", lock.UserID)
		}
	}
}
