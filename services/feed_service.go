package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"dart-match-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// FeedService streams match-row changes to subscribed devices. It is a
// read-only consumer: committed transitions become visible here through
// the row's updated_at cursor, never partially.
type FeedService struct {
	DB           *gorm.DB
	PollInterval time.Duration
}

func NewFeedService(db *gorm.DB) *FeedService {
	return &FeedService{DB: db, PollInterval: 2 * time.Second}
}

// StreamMatchSSE streams updates for one match over server-sent events.
// GET /matches/:id/feed
func (s *FeedService) StreamMatchSSE(c *fiber.Ctx) error {
	matchID := c.Params("id")
	userID := c.Locals("user_id").(string)

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return errorJSON(c, err)
	}
	if !match.IsParticipant(userID) {
		return errorJSON(c, ErrNotParticipant)
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.PollInterval)
		defer ticker.Stop()

		// Emit the current state immediately, then follow the cursor.
		cursor := s.writeMatchEvent(w, &match, time.Time{})
		if err := w.Flush(); err != nil {
			return
		}
		if match.IsTerminal() {
			return
		}

		for {
			select {
			case <-ticker.C:
				var current models.Match
				err := s.DB.First(&current, "id = ?", matchID).Error
				if err != nil {
					if !errors.Is(err, gorm.ErrRecordNotFound) {
						log.Printf("[Feed] query error for match %s: %v", matchID, err)
					}
					continue
				}
				if !current.UpdatedAt.After(cursor) {
					continue
				}
				cursor = s.writeMatchEvent(w, &current, cursor)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}
				if current.IsTerminal() {
					return
				}

			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}

func (s *FeedService) writeMatchEvent(w *bufio.Writer, match *models.Match, cursor time.Time) time.Time {
	payload, err := json.Marshal(fiber.Map{
		"match":  match,
		"scores": match.Scores(),
	})
	if err != nil {
		log.Printf("[Feed] marshal error for match %s: %v", match.ID, err)
		return cursor
	}
	fmt.Fprintf(w, "event: match\ndata: %s\n\n", payload)
	return match.UpdatedAt
}
