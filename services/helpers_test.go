package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"dart-match-system/models"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Match{},
		&models.MatchLock{},
		&models.MatchEvent{},
		&models.UserBlock{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type testStack struct {
	db         *gorm.DB
	locks      *LockService
	challenges *ChallengeService
	turns      *TurnService
	sweeper    *SweeperService
	now        time.Time
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := openTestDB(t)
	locks := NewLockService(db)
	stack := &testStack{
		db:      db,
		locks:   locks,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		sweeper: NewSweeperService(db, locks),
	}
	stack.challenges = NewChallengeService(db, locks)
	stack.turns = NewTurnService(db, locks, X01Rules)

	clock := func() time.Time { return stack.now }
	stack.challenges.Now = clock
	stack.turns.Now = clock
	stack.sweeper.Now = clock
	return stack
}

// advance moves the injected clock forward.
func (s *testStack) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

// startedMatch drives a challenge through accept and both joins.
func (s *testStack) startedMatch(t *testing.T, challengerID, receiverID string, format int) *models.Match {
	t.Helper()
	match, err := s.challenges.CreateChallenge(challengerID, receiverID, format)
	if err != nil {
		t.Fatalf("create challenge failed: %v", err)
	}
	if _, err := s.challenges.AcceptChallenge(match.ID, receiverID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := s.challenges.ConfirmJoin(match.ID, challengerID); err != nil {
		t.Fatalf("challenger join failed: %v", err)
	}
	started, err := s.challenges.ConfirmJoin(match.ID, receiverID)
	if err != nil {
		t.Fatalf("receiver join failed: %v", err)
	}
	return started
}

func (s *testStack) lockCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := s.db.Model(&models.MatchLock{}).Count(&n).Error; err != nil {
		t.Fatalf("failed to count locks: %v", err)
	}
	return n
}

func (s *testStack) eventCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	if err := s.db.Model(&models.MatchEvent{}).Where("event_type = ?", eventType).Count(&n).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	return n
}

func (s *testStack) reload(t *testing.T, matchID string) *models.Match {
	t.Helper()
	var match models.Match
	if err := s.db.First(&match, "id = ?", matchID).Error; err != nil {
		t.Fatalf("failed to reload match %s: %v", matchID, err)
	}
	return &match
}
