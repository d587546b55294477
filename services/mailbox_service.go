package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mini-compete/models"
)

type MailboxService struct {
	DB *gorm.DB
}

func NewMailboxService(db *gorm.DB) *MailboxService {
	return &MailboxService{DB: db}
}

// GetUserMailbox handles GET /mailbox: the caller's notices, newest first.
func (s *MailboxService) GetUserMailbox(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	var entries []models.MailBox
	err := s.DB.WithContext(c.Context()).
		Where("user_id = ?", userID).
		Order("sent_at DESC").
		Find(&entries).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load mailbox"})
	}

	return c.JSON(fiber.Map{"mailbox": entries})
}

// MarkAsRead handles PATCH /mailbox/:id/read. Ownership is enforced by
// answering 404 for other users' mail, same as a missing entry.
func (s *MailboxService) MarkAsRead(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	var entry models.MailBox
	err := s.DB.WithContext(c.Context()).First(&entry, "id = ?", c.Params("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "email not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load email"})
	}
	if entry.UserID != userID {
		return c.Status(404).JSON(fiber.Map{"error": "email not found"})
	}

	if err := s.DB.WithContext(c.Context()).Model(&entry).Update("read", true).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to update email"})
	}

	entry.Read = true
	return c.JSON(entry)
}

// GetUnreadCount handles GET /mailbox/unread-count.
func (s *MailboxService) GetUnreadCount(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	var count int64
	err := s.DB.WithContext(c.Context()).
		Model(&models.MailBox{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to count unread"})
	}

	return c.JSON(fiber.Map{"unread": count})
}
