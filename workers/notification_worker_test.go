package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dart-match-system/models"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MatchEvent{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedEvents(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		event := models.MatchEvent{
			EventType:       models.EventTurnTaken,
			MatchID:         "m1",
			RecipientUserID: "bob",
			Summary:         fmt.Sprintf("visit %d", i),
		}
		if err := db.Create(&event).Error; err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}
}

func TestDispatchPendingDeliversInOrder(t *testing.T) {
	db := openTestDB(t)
	seedEvents(t, db, 3)

	var mu sync.Mutex
	var received []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Service-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	worker := &NotificationWorker{
		DB:         db,
		BaseURL:    server.URL,
		Token:      "secret",
		HTTPClient: server.Client(),
		Interval:   time.Minute,
		BatchSize:  100,
	}

	if err := worker.DispatchPending(context.Background()); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(received))
	}
	for i, payload := range received {
		if payload["summary"] != fmt.Sprintf("visit %d", i) {
			t.Fatalf("delivery %d out of order: %+v", i, payload)
		}
		if payload["eventType"] != models.EventTurnTaken || payload["matchId"] != "m1" || payload["recipientUserId"] != "bob" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	}

	var pending int64
	db.Model(&models.MatchEvent{}).Where("dispatched_at IS NULL").Count(&pending)
	if pending != 0 {
		t.Fatalf("expected all events marked dispatched, %d pending", pending)
	}
}

func TestDispatchPendingIsExactlyOnce(t *testing.T) {
	db := openTestDB(t)
	seedEvents(t, db, 1)

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	worker := &NotificationWorker{
		DB:         db,
		BaseURL:    server.URL,
		Token:      "secret",
		HTTPClient: server.Client(),
		BatchSize:  100,
	}

	if err := worker.DispatchPending(context.Background()); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	if err := worker.DispatchPending(context.Background()); err != nil {
		t.Fatalf("second dispatch failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
}

func TestDispatchPendingRetriesOnFailure(t *testing.T) {
	db := openTestDB(t)
	seedEvents(t, db, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	worker := &NotificationWorker{
		DB:         db,
		BaseURL:    server.URL,
		Token:      "secret",
		HTTPClient: server.Client(),
		BatchSize:  100,
	}

	if err := worker.DispatchPending(context.Background()); err == nil {
		t.Fatal("expected dispatch to report the push failure")
	}

	// The event stays pending for the next pass.
	var pending int64
	db.Model(&models.MatchEvent{}).Where("dispatched_at IS NULL").Count(&pending)
	if pending != 1 {
		t.Fatalf("expected 1 pending event, got %d", pending)
	}
}
