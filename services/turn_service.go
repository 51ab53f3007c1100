package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"dart-match-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LegRules applies one visit's score delta. Bust and checkout arithmetic
// for the specific game (301/501/Halve-It/...) lives in the supplied
// function, not here: the processor only sequences and validates visits.
type LegRules func(currentScore, delta int) (newScore int, legWon bool)

// X01Rules is the straight-down countdown used by the HTTP surface:
// subtract the visit, bust (score unchanged) on anything that would go
// below zero, leg won on exactly zero.
func X01Rules(currentScore, delta int) (int, bool) {
	next := currentScore - delta
	if next < 0 {
		return currentScore, false
	}
	return next, next == 0
}

// TurnService validates and applies scoring submissions for in-progress
// matches. Turn ordering is guaranteed by the expected-turn-index check
// under an exclusive row lock: of two racing submissions exactly one
// commits, the other observes ErrStaleTurn.
type TurnService struct {
	DB    *gorm.DB
	Locks *LockService
	Rules LegRules
	Now   func() time.Time
}

func NewTurnService(db *gorm.DB, locks *LockService, rules LegRules) *TurnService {
	return &TurnService{DB: db, Locks: locks, Rules: rules, Now: time.Now}
}

// SubmitTurn applies one visit as a single atomic transaction.
func (s *TurnService) SubmitTurn(matchID, playerID string, expectedTurnIndex, delta int) (*models.Match, error) {
	var match models.Match
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status != models.StatusInProgress {
			return ErrInvalidTransition
		}
		if !match.IsParticipant(playerID) {
			return ErrNotParticipant
		}
		if match.CurrentPlayerID == nil || *match.CurrentPlayerID != playerID {
			return ErrNotYourTurn
		}
		if expectedTurnIndex != match.TurnIndexInLeg {
			return fmt.Errorf("%w: submitted %d, current %d", ErrStaleTurn, expectedTurnIndex, match.TurnIndexInLeg)
		}

		appliedIndex := match.TurnIndexInLeg
		newScore, legWon := s.Rules(match.ScoreOf(playerID), delta)
		match.SetScore(playerID, newScore)

		matchWon := false
		now := s.Now()
		if legWon {
			match.AddLeg(playerID)
			if match.LegsOf(playerID) >= match.LegsToWin() {
				matchWon = true
				match.Status = models.StatusCompleted
				match.CurrentPlayerID = nil
				match.EndedAt = &now
				match.EndedBy = playerID
				match.EndedReason = models.EndedReasonCompleted
				if err := s.Locks.ReleaseForMatch(tx, match.ID); err != nil {
					return err
				}
			} else {
				// Next leg: fresh scores, the other player starts.
				match.ChallengerScore = match.StartingScore
				match.ReceiverScore = match.StartingScore
				match.TurnIndexInLeg = 0
				match.LegStarterID = match.Opponent(match.LegStarterID)
				starter := match.LegStarterID
				match.CurrentPlayerID = &starter
			}
		} else {
			match.TurnIndexInLeg++
			next := match.Opponent(playerID)
			match.CurrentPlayerID = &next
		}

		if !matchWon {
			// Rolling abandonment deadline: a match only expires after a
			// full join window with no accepted visit.
			deadline := now.Add(JoinWindow)
			match.JoinWindowExpiresAt = &deadline
		}

		payload := models.VisitPayload{
			PlayerID:    playerID,
			Delta:       delta,
			NewScore:    newScore,
			LegWon:      legWon,
			MatchWon:    matchWon,
			TurnIndex:   appliedIndex,
			VisitNumber: appliedIndex/2 + 1,
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		match.LastVisitPayload = string(raw)

		if err := tx.Save(&match).Error; err != nil {
			return err
		}

		opponent := match.Opponent(playerID)
		if err := emitEvent(tx, models.EventTurnTaken, match.ID, opponent,
			fmt.Sprintf("%s scored %d", playerID, delta)); err != nil {
			return err
		}
		if matchWon {
			if err := emitEvent(tx, models.EventMatchEnded, match.ID, opponent,
				fmt.Sprintf("%s won the match", playerID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if match.Status == models.StatusCompleted {
		log.Printf("🏆 [Turn] match %s won by %s", matchID, playerID)
	}
	return &match, nil
}

// SubmitTurnEndpoint handles POST /matches/:id/turns
func (s *TurnService) SubmitTurnEndpoint(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)

	var req struct {
		ExpectedTurnIndex *int `json:"expected_turn_index"`
		Delta             int  `json:"delta"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.ExpectedTurnIndex == nil {
		return c.Status(400).JSON(fiber.Map{"error": "expected_turn_index is required"})
	}
	if req.Delta < 0 || req.Delta > 180 {
		return c.Status(400).JSON(fiber.Map{"error": "delta must be between 0 and 180"})
	}

	match, err := s.SubmitTurn(c.Params("id"), playerID, *req.ExpectedTurnIndex, req.Delta)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status":            match.Status,
		"scores":            match.Scores(),
		"turn_index":        match.TurnIndexInLeg,
		"current_player_id": match.CurrentPlayerID,
		"last_visit":        json.RawMessage(match.LastVisitPayload),
	})
}
