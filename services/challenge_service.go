package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"dart-match-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lifecycle deadlines. Both are passive: nothing fires until the sweeper's
// next pass, which bounds staleness by the sweep interval.
const (
	ChallengeTTL = 24 * time.Hour
	JoinWindow   = 5 * time.Minute
)

// ChallengeService owns the pending → ready → lobby → in_progress portion
// of the match state machine. It and the turn processor are the only
// writers of match rows besides the sweeper.
type ChallengeService struct {
	DB    *gorm.DB
	Locks *LockService
	Now   func() time.Time
}

func NewChallengeService(db *gorm.DB, locks *LockService) *ChallengeService {
	return &ChallengeService{DB: db, Locks: locks, Now: time.Now}
}

// CreateChallenge opens a pending remote match from challenger to receiver.
// The lock check here is advisory only; enforcement happens at accept time,
// since sending a challenge does not make either user busy.
func (s *ChallengeService) CreateChallenge(challengerID, receiverID string, format int) (*models.Match, error) {
	if challengerID == receiverID {
		return nil, fmt.Errorf("%w: cannot challenge yourself", ErrInvalidTransition)
	}

	var blocks int64
	if err := s.DB.Model(&models.UserBlock{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)",
			challengerID, receiverID, receiverID, challengerID).
		Count(&blocks).Error; err != nil {
		return nil, err
	}
	if blocks > 0 {
		return nil, ErrBlocked
	}

	for _, userID := range []string{challengerID, receiverID} {
		lock, err := s.Locks.HeldBy(userID)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, userID)
		}
	}

	now := s.Now()
	expiresAt := now.Add(ChallengeTTL)
	match := models.Match{
		ID:                 uuid.NewString(),
		Mode:               models.ModeRemote,
		ChallengerID:       challengerID,
		ReceiverID:         receiverID,
		Status:             models.StatusPending,
		StartingScore:      models.DefaultStartingScore,
		MatchFormat:        format,
		LegStarterID:       challengerID,
		ChallengeExpiresAt: &expiresAt,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&match).Error; err != nil {
			return err
		}
		return emitEvent(tx, models.EventChallengeCreated, match.ID, receiverID,
			fmt.Sprintf("%s challenged you to a best-of-%d match", challengerID, format))
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🎯 [Challenge] %s → %s (match %s, best of %d)", challengerID, receiverID, match.ID, format)
	return &match, nil
}

// AcceptChallenge moves a pending match to ready and locks both players
// all-or-nothing. An accept past the deadline stamps the match expired in
// its own committed transaction and reports ErrExpired.
func (s *ChallengeService) AcceptChallenge(matchID, userID string) (*models.Match, error) {
	var match models.Match
	var lateExpiry bool

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status != models.StatusPending {
			return ErrInvalidTransition
		}
		if !match.IsParticipant(userID) {
			return ErrNotParticipant
		}
		if userID != match.ReceiverID {
			return fmt.Errorf("%w: only the receiver may accept", ErrInvalidTransition)
		}

		now := s.Now()
		if match.ChallengeExpiresAt != nil && !now.Before(*match.ChallengeExpiresAt) {
			// Commit the expiry; the error is reported after the tx.
			lateExpiry = true
			return s.expireInTx(tx, &match, now)
		}

		if err := s.Locks.AcquirePair(tx, match.ChallengerID, match.ReceiverID, match.ID, models.LockStatusReady); err != nil {
			return err
		}

		joinDeadline := now.Add(JoinWindow)
		match.Status = models.StatusReady
		match.JoinWindowExpiresAt = &joinDeadline
		if err := tx.Save(&match).Error; err != nil {
			return err
		}
		return emitEvent(tx, models.EventChallengeAccepted, match.ID, match.ChallengerID,
			fmt.Sprintf("%s accepted your challenge", userID))
	})
	if err != nil {
		return nil, err
	}
	if lateExpiry {
		return nil, ErrExpired
	}

	log.Printf("🤝 [Challenge] %s accepted match %s", userID, matchID)
	return &match, nil
}

// DeclineChallenge cancels a pending match. No locks exist yet, so there
// is nothing to release.
func (s *ChallengeService) DeclineChallenge(matchID, userID string) (*models.Match, error) {
	var match models.Match
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if match.Status != models.StatusPending {
			return ErrInvalidTransition
		}
		if !match.IsParticipant(userID) {
			return ErrNotParticipant
		}
		if userID != match.ReceiverID {
			return fmt.Errorf("%w: only the receiver may decline", ErrInvalidTransition)
		}

		now := s.Now()
		match.Status = models.StatusCancelled
		match.EndedAt = &now
		match.EndedBy = userID
		match.EndedReason = models.EndedReasonDeclined
		if err := tx.Save(&match).Error; err != nil {
			return err
		}
		return emitEvent(tx, models.EventMatchEnded, match.ID, match.ChallengerID,
			fmt.Sprintf("%s declined your challenge", userID))
	})
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// ConfirmJoin records a participant's lobby confirmation. The first
// confirmation moves ready → lobby, the second starts the match: the
// challenger throws first in leg one, both locks flip to in_progress.
// Re-confirming is a no-op.
func (s *ChallengeService) ConfirmJoin(matchID, userID string) (*models.Match, error) {
	var match models.Match
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if !match.IsParticipant(userID) {
			return ErrNotParticipant
		}
		if match.Status != models.StatusReady && match.Status != models.StatusLobby {
			return ErrInvalidTransition
		}

		if userID == match.ChallengerID {
			match.ChallengerJoined = true
		} else {
			match.ReceiverJoined = true
		}

		if match.ChallengerJoined && match.ReceiverJoined {
			match.Status = models.StatusInProgress
			match.CurrentPlayerID = &match.ChallengerID
			match.LegStarterID = match.ChallengerID
			match.TurnIndexInLeg = 0
			match.ChallengerScore = match.StartingScore
			match.ReceiverScore = match.StartingScore
			for _, id := range []string{match.ChallengerID, match.ReceiverID} {
				if err := s.Locks.UpdateStatus(tx, id, models.LockStatusInProgress); err != nil {
					return err
				}
			}
		} else {
			match.Status = models.StatusLobby
		}
		return tx.Save(&match).Error
	})
	if err != nil {
		return nil, err
	}

	if match.Status == models.StatusInProgress {
		log.Printf("▶️  [Challenge] match %s started, %s to throw", matchID, match.ChallengerID)
	}
	return &match, nil
}

// CancelMatch terminates any non-terminal match the user participates in.
// Takes effect immediately, independent of the sweep cadence.
func (s *ChallengeService) CancelMatch(matchID, userID, reason string) (*models.Match, error) {
	if reason == "" {
		reason = "cancelled"
	}
	var match models.Match
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&match, "id = ?", matchID).Error; err != nil {
			return err
		}
		if !match.IsParticipant(userID) {
			return ErrNotParticipant
		}
		if match.IsTerminal() {
			return ErrInvalidTransition
		}

		now := s.Now()
		match.Status = models.StatusCancelled
		match.CurrentPlayerID = nil
		match.EndedAt = &now
		match.EndedBy = userID
		match.EndedReason = reason
		if err := tx.Save(&match).Error; err != nil {
			return err
		}
		if err := s.Locks.ReleaseForMatch(tx, match.ID); err != nil {
			return err
		}
		return emitEvent(tx, models.EventMatchEnded, match.ID, match.Opponent(userID),
			fmt.Sprintf("%s cancelled the match: %s", userID, reason))
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🛑 [Challenge] match %s cancelled by %s (%s)", matchID, userID, reason)
	return &match, nil
}

// CreateLocalMatch records a finished same-device match for history. Local
// matches never touch locks or the turn processor.
func (s *ChallengeService) CreateLocalMatch(ownerID, opponentID string, ownerScore, opponentScore int) (*models.Match, error) {
	now := s.Now()
	match := models.Match{
		ID:              uuid.NewString(),
		Mode:            models.ModeLocal,
		ChallengerID:    ownerID,
		ReceiverID:      opponentID,
		Status:          models.StatusCompleted,
		ChallengerScore: ownerScore,
		ReceiverScore:   opponentScore,
		EndedAt:         &now,
		EndedBy:         ownerID,
		EndedReason:     models.EndedReasonCompleted,
	}
	if err := s.DB.Create(&match).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// GetMatch fetches a match for polling clients.
func (s *ChallengeService) GetMatch(matchID string) (*models.Match, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// expireInTx stamps a match expired and frees its locks inside tx. Shared
// with the sweeper.
func (s *ChallengeService) expireInTx(tx *gorm.DB, match *models.Match, now time.Time) error {
	match.Status = models.StatusExpired
	match.CurrentPlayerID = nil
	match.EndedAt = &now
	match.EndedReason = models.EndedReasonExpired
	if err := tx.Save(match).Error; err != nil {
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
}

// --- HTTP endpoints -------------------------------------------------------

// CreateChallengeEndpoint handles POST /matches/challenges
func (s *ChallengeService) CreateChallengeEndpoint(c *fiber.Ctx) error {
	challengerID := c.Locals("user_id").(string)

	var req struct {
		ReceiverID string `json:"receiver_id"`
		Format     int    `json:"format"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.ReceiverID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "receiver_id is required"})
	}
	if req.Format <= 0 || req.Format%2 == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "format must be a positive odd number of legs"})
	}

	match, err := s.CreateChallenge(challengerID, req.ReceiverID, req.Format)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return errorJSON(c, err)
	}

	return c.Status(201).JSON(fiber.Map{
		"match_id":             match.ID,
		"status":               match.Status,
		"challenge_expires_at": match.ChallengeExpiresAt,
	})
}

// AcceptChallengeEndpoint handles POST /matches/:id/accept
func (s *ChallengeService) AcceptChallengeEndpoint(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	match, err := s.AcceptChallenge(c.Params("id"), userID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status":                 match.Status,
		"join_window_expires_at": match.JoinWindowExpiresAt,
	})
}

// DeclineChallengeEndpoint handles POST /matches/:id/decline
func (s *ChallengeService) DeclineChallengeEndpoint(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	match, err := s.DeclineChallenge(c.Params("id"), userID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"status": match.Status})
}

// ConfirmJoinEndpoint handles POST /matches/:id/join
func (s *ChallengeService) ConfirmJoinEndpoint(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	match, err := s.ConfirmJoin(c.Params("id"), userID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status":            match.Status,
		"current_player_id": match.CurrentPlayerID,
	})
}

// CancelMatchEndpoint handles POST /matches/:id/cancel
func (s *ChallengeService) CancelMatchEndpoint(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancel.
	_ = c.BodyParser(&req)
	match, err := s.CancelMatch(c.Params("id"), userID, req.Reason)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"status": match.Status})
}

// CreateLocalMatchEndpoint handles POST /matches/local
func (s *ChallengeService) CreateLocalMatchEndpoint(c *fiber.Ctx) error {
	ownerID := c.Locals("user_id").(string)
	var req struct {
		OpponentID    string `json:"opponent_id"`
		OwnerScore    int    `json:"owner_score"`
		OpponentScore int    `json:"opponent_score"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.OpponentID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "opponent_id is required"})
	}
	match, err := s.CreateLocalMatch(ownerID, req.OpponentID, req.OwnerScore, req.OpponentScore)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(201).JSON(match)
}

// GetMatchEndpoint handles GET /matches/:id
func (s *ChallengeService) GetMatchEndpoint(c *fiber.Ctx) error {
	match, err := s.GetMatch(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	userID := c.Locals("user_id").(string)
	if !match.IsParticipant(userID) {
		return errorJSON(c, ErrNotParticipant)
	}
	return c.JSON(fiber.Map{
		"match":  match,
		"scores": match.Scores(),
	})
}
