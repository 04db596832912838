package handlers

import (
	"stylo-battle-system/middleware"
	"stylo-battle-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTournamentRoutes(
	app *fiber.App,
	tournamentService *services.TournamentService,
	voteService *services.VoteService,
	streamService *services.StreamService,
	authClient *services.AuthServiceClient,
) {
	// 🔓 Public scoreboard routes
	app.Get("/tournaments", tournamentService.GetAllTournaments)
	app.Get("/tournaments/:id", tournamentService.GetTournamentStatus)
	app.Get("/tournaments/:id/participants", tournamentService.GetParticipants)
	app.Get("/matches/:id", voteService.GetMatchTally)

	// SSE stream authenticates from the query string
	app.Get("/tournaments/:id/stream", middleware.SSEAuthMiddleware(authClient), streamService.StreamTournamentEventsSSE)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/tournaments/:id/entries", tournamentService.SubmitEntry)
	secured.Post("/matches/:id/votes", voteService.CastVote)

	// Administrative routes (role forwarded by Gateway)
	admin := secured.Group("/", middleware.RequireRole("battle_admin"))
	admin.Post("/tournaments", tournamentService.CreateTournament)
	admin.Post("/tournaments/:id/resolve", tournamentService.ForceResolve)
	admin.Delete("/tournaments/:id", tournamentService.ResetTournament)
}
