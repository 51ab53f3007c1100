package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"dart-match-system/models"
	"dart-match-system/utils"

	"gorm.io/gorm"
)

// NotificationWorker drains the match_events outbox and hands each event
// to the push service. Delivery is fire-and-forget from the request
// path's point of view: requests only write outbox rows, this loop does
// the HTTP.
type NotificationWorker struct {
	DB         *gorm.DB
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Interval   time.Duration
	BatchSize  int
}

// pushPayload is the contract with the push notification service.
type pushPayload struct {
	EventType       string `json:"eventType"`
	MatchID         string `json:"matchId"`
	RecipientUserID string `json:"recipientUserId"`
	Summary         string `json:"summary"`
}

func NewNotificationWorker(db *gorm.DB) *NotificationWorker {
	baseURL := os.Getenv("PUSH_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("PUSH_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("DART_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("DART_SERVICE_TOKEN environment variable is required for push delivery")
	}

	return &NotificationWorker{
		DB:         db,
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
		Interval:   30 * time.Second,
		BatchSize:  100,
	}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Notification Worker (match_events → push service)…")

	// Drain whatever accumulated while the service was down.
	if err := w.DispatchPending(ctx); err != nil {
		log.Printf("⚠️ Initial notification drain failed: %v", err)
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.DispatchPending(ctx); err != nil {
				log.Printf("❌ Notification dispatch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Notification Worker stopped")
			return
		}
	}
}

// DispatchPending sends undelivered events oldest-first. A failed POST
// leaves the row untouched, so the next pass retries it before anything
// newer — delivery stays in commit order per recipient.
func (w *NotificationWorker) DispatchPending(ctx context.Context) error {
	var events []models.MatchEvent
	err := w.DB.
		Where("dispatched_at IS NULL").
		Order("id ASC").
		Limit(w.BatchSize).
		Find(&events).Error
	if err != nil {
		return fmt.Errorf("failed to select pending events: %w", err)
	}

	for _, event := range events {
		if err := w.deliver(ctx, event); err != nil {
			// Stop the batch so ordering holds; retry on the next tick.
			return fmt.Errorf("event %d: %w", event.ID, err)
		}
		now := time.Now()
		if err := w.DB.Model(&models.MatchEvent{}).
			Where("id = ?", event.ID).
			Update("dispatched_at", &now).Error; err != nil {
			return fmt.Errorf("failed to mark event %d dispatched: %w", event.ID, err)
		}
	}

	if len(events) > 0 {
		log.Printf("📨 [Notify] dispatched %d event(s)", len(events))
	}
	return nil
}

func (w *NotificationWorker) deliver(ctx context.Context, event models.MatchEvent) error {
	payload := pushPayload{
		EventType:       event.EventType,
		MatchID:         event.MatchID,
		RecipientUserID: event.RecipientUserID,
		Summary:         event.Summary,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.BaseURL+"/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", w.Token)

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call push service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push service returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
