package handlers

import (
	"mini-compete/middleware"
	"mini-compete/models"
	"mini-compete/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRegistrationRoutes(app *fiber.App, registrationService *services.RegistrationService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Admission endpoint. The Idempotency-Key header is mandatory and
	// validated in the handler before the engine runs.
	secured.Post("/competitions/:id/register",
		middleware.RequireRole(models.RoleParticipant),
		registrationService.RegisterForCompetition)

	secured.Get("/competitions/:id/registration-status", registrationService.CheckRegistrationStatus)
	secured.Get("/registrations/me", registrationService.GetMyRegistrations)
}
