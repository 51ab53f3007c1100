package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Sentinel errors returned by the match lifecycle services. Endpoint
// methods translate them to HTTP statuses; domain methods never partially
// commit before returning one.
var (
	// ErrAlreadyLocked — user already participates in a live remote match.
	ErrAlreadyLocked = errors.New("user already holds a live match lock")
	// ErrExpired — action attempted after its deadline.
	ErrExpired = errors.New("deadline has passed")
	// ErrStaleTurn — optimistic concurrency conflict; refetch and retry.
	ErrStaleTurn = errors.New("turn index is stale")
	// ErrNotYourTurn — submitter is not the current player.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrNotParticipant — actor does not play in this match.
	ErrNotParticipant = errors.New("user is not a participant")
	// ErrInvalidTransition — action not valid for the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBlocked — a block relationship exists between the two users.
	ErrBlocked = errors.New("users have a block relationship")
)

// statusForError maps service errors onto the HTTP contract.
func statusForError(err error) int {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrAlreadyLocked), errors.Is(err, ErrStaleTurn), errors.Is(err, ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, ErrExpired):
		return fiber.StatusGone
	case errors.Is(err, ErrNotYourTurn), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrBlocked):
		return fiber.StatusForbidden
	}
	return fiber.StatusInternalServerError
}

// errorJSON renders a service error as the JSON error body shared by
// all endpoints.
func errorJSON(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
}
