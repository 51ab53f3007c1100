// handlers/match.go
package handlers

import (
	"dart-match-system/middleware"
	"dart-match-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, challengeService *services.ChallengeService, turnService *services.TurnService, feedService *services.FeedService) {
	// 🔐 Every match operation acts on behalf of a user — user context required
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Challenge lifecycle
	secured.Post("/matches/challenges", challengeService.CreateChallengeEndpoint)
	secured.Post("/matches/:id/accept", challengeService.AcceptChallengeEndpoint)
	secured.Post("/matches/:id/decline", challengeService.DeclineChallengeEndpoint)
	secured.Post("/matches/:id/join", challengeService.ConfirmJoinEndpoint)
	secured.Post("/matches/:id/cancel", challengeService.CancelMatchEndpoint)

	// Scoring
	secured.Post("/matches/:id/turns", turnService.SubmitTurnEndpoint)

	// Reads: polling and SSE subscription
	secured.Get("/matches/:id", challengeService.GetMatchEndpoint)
	secured.Get("/matches/:id/feed", feedService.StreamMatchSSE)

	// Local (same-device) match history
	secured.Post("/matches/local", challengeService.CreateLocalMatchEndpoint)
}
