package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"mini-compete/models"
	"mini-compete/queue"
)

// Admission failure classes. All four are client errors: the caller should
// re-check state rather than retry the same call expecting a different
// outcome. Anything else out of Register is transient and safe to retry with
// the same idempotency key.
var (
	ErrCompetitionNotFound = errors.New("competition not found")
	ErrDeadlinePassed      = errors.New("registration deadline has passed")
	ErrCompetitionFull     = errors.New("competition is full")
	ErrAlreadyRegistered   = errors.New("already registered for this competition")
)

const (
	// Bound on the check-and-insert unit of work; past it the admission
	// aborts and surfaces a transient failure, safe to retry with the same
	// key.
	admissionTimeout = 10 * time.Second

	// How many serialization conflicts to absorb before giving up.
	maxAdmissionRetries = 5

	idempotencyTTL = 24 * time.Hour
)

// RegistrationOutcome is the response payload stored under the idempotency
// key and replayed verbatim on retries.
type RegistrationOutcome struct {
	RegistrationID string `json:"registrationId"`
	Status         int    `json:"status"`
	Message        string `json:"message"`
}

type RegistrationService struct {
	DB          *gorm.DB
	Idempotency *IdempotencyService
	Queue       *queue.Queue
}

func NewRegistrationService(db *gorm.DB, idem *IdempotencyService, q *queue.Queue) *RegistrationService {
	return &RegistrationService{DB: db, Idempotency: idem, Queue: q}
}

// Register admits userID into competitionID, durably recording the outcome
// exactly once per idempotency key.
//
// Order matters: the idempotency lookup must run before the transaction so a
// retried request never touches the ledger, and the store write plus the
// confirmation enqueue run after commit so neither can roll back a seat that
// was already granted.
func (s *RegistrationService) Register(ctx context.Context, competitionID, userID, idempotencyKey string) (*RegistrationOutcome, error) {
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}

	// 1. Short-circuit: replay the stored response byte-for-byte.
	if cached, ok, err := s.Idempotency.Get(ctx, idempotencyKey); err != nil {
		// A broken cache must not block admission; the ledger still
		// protects against duplicates via the unique index.
		log.Printf("[Register] idempotency lookup failed for key %s: %v", idempotencyKey, err)
	} else if ok {
		var outcome RegistrationOutcome
		if err := json.Unmarshal(cached, &outcome); err != nil {
			return nil, fmt.Errorf("replay stored outcome: %w", err)
		}
		return &outcome, nil
	}

	// 2. Atomic check-and-insert under serializable isolation, retried on
	// serialization conflicts, bounded by the admission timeout.
	txCtx, cancel := context.WithTimeout(ctx, admissionTimeout)
	defer cancel()

	var reg models.Registration
	var err error
	for attempt := 0; attempt < maxAdmissionRetries; attempt++ {
		reg, err = s.admit(txCtx, competitionID, userID)
		if err == nil || !isSerializationConflict(err) {
			break
		}
		select {
		case <-txCtx.Done():
			err = fmt.Errorf("admission timed out: %w", txCtx.Err())
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// The unique (user, competition) index caught a racing
			// duplicate the in-transaction check could not see.
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	outcome := &RegistrationOutcome{
		RegistrationID: reg.ID,
		Status:         fiber.StatusCreated,
		Message:        "Successfully registered",
	}

	// 3. Best effort: a failed cache write must never undo the admission.
	raw, _ := json.Marshal(outcome)
	if _, err := s.Idempotency.CheckAndStore(ctx, idempotencyKey, raw, idempotencyTTL); err != nil {
		log.Printf("[Register] failed to store idempotency key %s: %v", idempotencyKey, err)
	}

	// Enqueue failure is equally non-fatal: the seat stands, the notice is
	// lost until an operator intervenes, and the log line is the signal.
	err = s.Queue.Enqueue(ctx, queue.ConfirmationPayload{
		RegistrationID: reg.ID,
		UserID:         reg.UserID,
		CompetitionID:  reg.CompetitionID,
	}, queue.DefaultOptions())
	if err != nil {
		log.Printf("[Register] failed to enqueue confirmation for registration %s: %v", reg.ID, err)
	}

	return outcome, nil
}

// admit runs the serializable unit of work: load, deadline check, capacity
// count, duplicate check, insert. The isolation level makes the count and
// the insert indivisible per competition; two transactions that both saw a
// free seat cannot both commit.
func (s *RegistrationService) admit(ctx context.Context, competitionID, userID string) (models.Registration, error) {
	var reg models.Registration

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comp models.Competition
		if err := tx.First(&comp, "id = ?", competitionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompetitionNotFound
			}
			return fmt.Errorf("load competition: %w", err)
		}

		if !comp.IsOpen(time.Now().UTC()) {
			return ErrDeadlinePassed
		}

		// Seat count comes from the store every time; a cached count would
		// go stale under concurrency.
		var confirmed int64
		if err := tx.Model(&models.Registration{}).
			Where("competition_id = ? AND status = ?", competitionID, models.RegistrationConfirmed).
			Count(&confirmed).Error; err != nil {
			return fmt.Errorf("count confirmed registrations: %w", err)
		}
		if confirmed >= int64(comp.Capacity) {
			return ErrCompetitionFull
		}

		var existing models.Registration
		err := tx.Where("competition_id = ? AND user_id = ?", competitionID, userID).
			First(&existing).Error
		if err == nil {
			// Any prior row blocks, CANCELLED included: the unique pair
			// constraint in the schema is treated as a hard product rule.
			return ErrAlreadyRegistered
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing registration: %w", err)
		}

		reg = models.Registration{
			ID:            uuid.NewString(),
			CompetitionID: competitionID,
			UserID:        userID,
			Status:        models.RegistrationConfirmed,
			RegisteredAt:  time.Now().UTC(),
		}
		return tx.Create(&reg).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	return reg, err
}

// isSerializationConflict reports whether err is a transient transaction
// conflict worth retrying: Postgres serialization/deadlock/lock-timeout
// SQLSTATEs, or SQLite's busy errors under test.
func isSerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RegisterForCompetition handles POST /competitions/:id/register. The
// Idempotency-Key header is validated here, above the engine, exactly once.
func (s *RegistrationService) RegisterForCompetition(c *fiber.Ctx) error {
	competitionID := c.Params("id")
	if competitionID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "competition id required in URL"})
	}

	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	idempotencyKey := c.Get("Idempotency-Key")
	if idempotencyKey == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Idempotency-Key header is required"})
	}

	outcome, err := s.Register(c.Context(), competitionID, userID, idempotencyKey)
	if err != nil {
		switch {
		case errors.Is(err, ErrCompetitionNotFound):
			return c.Status(404).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrDeadlinePassed):
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrCompetitionFull), errors.Is(err, ErrAlreadyRegistered):
			return c.Status(409).JSON(fiber.Map{"error": err.Error()})
		default:
			log.Printf("[Register] transient failure for competition %s user %s: %v", competitionID, userID, err)
			return c.Status(503).JSON(fiber.Map{
				"error": "registration temporarily unavailable, retry with the same Idempotency-Key",
			})
		}
	}

	return c.Status(outcome.Status).JSON(outcome)
}

// GetMyRegistrations handles GET /registrations/me: the caller's CONFIRMED
// registrations, newest first, with competition and organizer attached.
func (s *RegistrationService) GetMyRegistrations(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	var regs []models.Registration
	err := s.DB.WithContext(c.Context()).
		Where("user_id = ? AND status = ?", userID, models.RegistrationConfirmed).
		Preload("Competition").
		Preload("Competition.Organizer").
		Order("registered_at DESC").
		Find(&regs).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load registrations"})
	}

	return c.JSON(fiber.Map{"registrations": regs})
}

// CheckRegistrationStatus handles GET /competitions/:id/registration-status,
// the "am I registered" re-check clients use after a 409.
func (s *RegistrationService) CheckRegistrationStatus(c *fiber.Ctx) error {
	competitionID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "missing user context"})
	}

	var reg models.Registration
	err := s.DB.WithContext(c.Context()).
		Where("competition_id = ? AND user_id = ?", competitionID, userID).
		First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"registered": false})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to check registration"})
	}

	return c.JSON(fiber.Map{
		"registered":      reg.Status == models.RegistrationConfirmed,
		"registration_id": reg.ID,
		"status":          reg.Status,
	})
}
