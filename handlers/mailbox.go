package handlers

import (
	"mini-compete/middleware"
	"mini-compete/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMailboxRoutes(app *fiber.App, mailboxService *services.MailboxService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/mailbox", mailboxService.GetUserMailbox)
	secured.Get("/mailbox/unread-count", mailboxService.GetUnreadCount)
	secured.Patch("/mailbox/:id/read", mailboxService.MarkAsRead)
}
