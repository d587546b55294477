package services

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"mini-compete/models"
)

type CompetitionService struct {
	DB *gorm.DB
}

func NewCompetitionService(db *gorm.DB) *CompetitionService {
	return &CompetitionService{DB: db}
}

// CreateCompetition handles POST /competitions. Organizer only; capacity and
// deadline are fixed at creation.
func (s *CompetitionService) CreateCompetition(c *fiber.Ctx) error {
	type Req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
		Capacity    int      `json:"capacity"`
		RegDeadline string   `json:"regDeadline"` // RFC3339
	}

	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("user_role").(string)
	if role != models.RoleOrganizer {
		return c.Status(403).JSON(fiber.Map{"error": "only organizers can create competitions"})
	}

	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if strings.TrimSpace(req.Title) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "title is required"})
	}
	if req.Capacity < 1 {
		return c.Status(400).JSON(fiber.Map{"error": "capacity must be at least 1"})
	}

	deadline, err := time.Parse(time.RFC3339, req.RegDeadline)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid regDeadline (use RFC3339)"})
	}
	if deadline.Before(time.Now()) {
		return c.Status(400).JSON(fiber.Map{"error": "regDeadline must be in the future"})
	}

	comp := models.Competition{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Slug:        slug.Make(req.Title),
		Description: req.Description,
		Tags:        strings.Join(req.Tags, ","),
		Capacity:    req.Capacity,
		RegDeadline: deadline.UTC(),
		OrganizerID: userID,
	}
	if err := s.DB.WithContext(c.Context()).Create(&comp).Error; err != nil {
		log.Printf("[Competitions] create failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create competition"})
	}

	return c.Status(201).JSON(comp)
}

// GetAllCompetitions handles GET /competitions. Organizers see their own
// competitions; participants see everything.
func (s *CompetitionService) GetAllCompetitions(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("user_role").(string)

	q := s.DB.WithContext(c.Context()).Preload("Organizer")
	if role == models.RoleOrganizer {
		q = q.Where("organizer_id = ?", userID)
	}

	var comps []models.Competition
	if err := q.Order("created_at DESC").Find(&comps).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list competitions"})
	}

	for i := range comps {
		if err := s.attachRegisteredCount(c, &comps[i]); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to count registrations"})
		}
	}

	return c.JSON(fiber.Map{"competitions": comps})
}

// GetCompetitionByID handles GET /competitions/:id.
func (s *CompetitionService) GetCompetitionByID(c *fiber.Ctx) error {
	var comp models.Competition
	err := s.DB.WithContext(c.Context()).
		Preload("Organizer").
		First(&comp, "id = ?", c.Params("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load competition"})
	}

	if err := s.attachRegisteredCount(c, &comp); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to count registrations"})
	}

	return c.JSON(comp)
}

// GetCompetitionRegistrations handles GET /competitions/:id/registrations,
// the organizer's roster view for their own competition.
func (s *CompetitionService) GetCompetitionRegistrations(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("user_role").(string)
	if role != models.RoleOrganizer {
		return c.Status(403).JSON(fiber.Map{"error": "only organizers can view registrations"})
	}

	var comp models.Competition
	err := s.DB.WithContext(c.Context()).First(&comp, "id = ?", c.Params("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load competition"})
	}
	if comp.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "not your competition"})
	}

	var regs []models.Registration
	err = s.DB.WithContext(c.Context()).
		Where("competition_id = ?", comp.ID).
		Preload("User").
		Order("registered_at ASC").
		Find(&regs).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list registrations"})
	}

	return c.JSON(fiber.Map{"competition_id": comp.ID, "registrations": regs})
}

func (s *CompetitionService) attachRegisteredCount(c *fiber.Ctx, comp *models.Competition) error {
	return s.DB.WithContext(c.Context()).
		Model(&models.Registration{}).
		Where("competition_id = ? AND status = ?", comp.ID, models.RegistrationConfirmed).
		Count(&comp.RegisteredCount).Error
}
