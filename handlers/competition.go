package handlers

import (
	"mini-compete/middleware"
	"mini-compete/models"
	"mini-compete/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCompetitionRoutes(app *fiber.App, competitionService *services.CompetitionService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/competitions", middleware.RequireRole(models.RoleOrganizer), competitionService.CreateCompetition)
	secured.Get("/competitions", competitionService.GetAllCompetitions)
	secured.Get("/competitions/:id", competitionService.GetCompetitionByID)

	// Organizer roster view
	secured.Get("/competitions/:id/registrations", competitionService.GetCompetitionRegistrations)
}
