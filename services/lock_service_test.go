package services

import (
	"errors"
	"testing"

	"dart-match-system/models"

	"gorm.io/gorm"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	stack := newTestStack(t)

	if err := stack.locks.Acquire(stack.db, "alice", "m1", models.LockStatusReady); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	lock, err := stack.locks.HeldBy("alice")
	if err != nil {
		t.Fatalf("held-by lookup failed: %v", err)
	}
	if lock == nil || lock.MatchID != "m1" || lock.LockStatus != models.LockStatusReady {
		t.Fatalf("unexpected lock row: %+v", lock)
	}

	// A second acquire fails regardless of which match it names.
	err = stack.locks.Acquire(stack.db, "alice", "m2", models.LockStatusReady)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	if err := stack.locks.Release(stack.db, "alice"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := stack.locks.Acquire(stack.db, "alice", "m2", models.LockStatusReady); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	stack := newTestStack(t)

	if err := stack.locks.Release(stack.db, "nobody"); err != nil {
		t.Fatalf("releasing a missing lock should be a no-op, got %v", err)
	}
}

func TestAcquirePairIsAllOrNothing(t *testing.T) {
	stack := newTestStack(t)

	// carol is already busy with another match.
	if err := stack.locks.Acquire(stack.db, "carol", "other", models.LockStatusInProgress); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	err := stack.db.Transaction(func(tx *gorm.DB) error {
		return stack.locks.AcquirePair(tx, "alice", "carol", "m1", models.LockStatusReady)
	})
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	// The rollback must leave alice without a lock.
	lock, err := stack.locks.HeldBy("alice")
	if err != nil {
		t.Fatalf("held-by lookup failed: %v", err)
	}
	if lock != nil {
		t.Fatalf("expected no lock for alice after rollback, got %+v", lock)
	}

	// carol's original lock is untouched.
	lock, err = stack.locks.HeldBy("carol")
	if err != nil {
		t.Fatalf("held-by lookup failed: %v", err)
	}
	if lock == nil || lock.MatchID != "other" {
		t.Fatalf("carol's lock changed: %+v", lock)
	}
}

func TestUpdateLockStatus(t *testing.T) {
	stack := newTestStack(t)

	if err := stack.locks.Acquire(stack.db, "alice", "m1", models.LockStatusReady); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := stack.locks.UpdateStatus(stack.db, "alice", models.LockStatusInProgress); err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	lock, err := stack.locks.HeldBy("alice")
	if err != nil {
		t.Fatalf("held-by lookup failed: %v", err)
	}
	if lock.LockStatus != models.LockStatusInProgress {
		t.Fatalf("expected in_progress lock, got %s", lock.LockStatus)
	}
}
