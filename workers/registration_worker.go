// Package workers hosts the long-running consumer loops. The registration
// worker drains the job queue: each claimed job runs exactly one handler, a
// failure either reschedules with backoff or lands in the dead-letter table.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mini-compete/models"
	"mini-compete/queue"
)

// RegistrationWorker consumes confirmation and reminder jobs. Handlers are
// safe to re-execute: redelivery after a crash may duplicate a mailbox
// notice, which is accepted; the mailbox is advisory.
type RegistrationWorker struct {
	DB    *gorm.DB
	Queue *queue.Queue

	Interval time.Duration
	Now      func() time.Time // injectable for tests
}

func NewRegistrationWorker(db *gorm.DB, q *queue.Queue) *RegistrationWorker {
	return &RegistrationWorker{
		DB:       db,
		Queue:    q,
		Interval: time.Second,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the polling loop until ctx is cancelled. Each tick drains every
// currently-due job before sleeping again.
func (w *RegistrationWorker) Start(ctx context.Context) {
	log.Println("Starting registration worker...")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Registration worker stopped.")
			return
		case <-ticker.C:
			for {
				processed, err := w.ProcessOne(ctx)
				if err != nil {
					log.Printf("[Worker] job failed: %v", err)
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOne claims and runs a single due job. It reports whether a job was
// claimed; the error is the handler's failure, already accounted for in the
// retry/dead-letter bookkeeping.
func (w *RegistrationWorker) ProcessOne(ctx context.Context) (bool, error) {
	job, ok, err := w.Queue.ClaimNextDue(ctx, w.Now())
	if err != nil || !ok {
		return false, err
	}

	if err := w.handle(ctx, job); err != nil {
		if job.Attempts >= job.MaxAttempts {
			w.recordDeadLetter(ctx, job, err)
			if qErr := w.Queue.MarkExhausted(ctx, job, err); qErr != nil {
				log.Printf("[Worker] failed to exhaust job %s: %v", job.ID, qErr)
			}
		} else {
			if qErr := w.Queue.RetryLater(ctx, job, err, w.Now()); qErr != nil {
				log.Printf("[Worker] failed to reschedule job %s: %v", job.ID, qErr)
			}
		}
		return true, err
	}

	if err := w.Queue.MarkCompleted(ctx, job); err != nil {
		log.Printf("[Worker] failed to complete job %s: %v", job.ID, err)
	}
	return true, nil
}

func (w *RegistrationWorker) handle(ctx context.Context, job *models.Job) error {
	payload, err := queue.DecodePayload(job)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case queue.ConfirmationPayload:
		return w.handleConfirmation(ctx, p)
	case queue.ReminderPayload:
		return w.handleReminder(ctx, p)
	default:
		// Unreachable: Payload is a sealed set and DecodePayload rejects
		// unknown names.
		return fmt.Errorf("job %s: unhandled payload %T", job.ID, payload)
	}
}

// handleConfirmation re-reads the registration and writes the confirmation
// notice. A missing row is retryable: the admission transaction may not be
// visible yet. A cancelled registration fails through the same budget and
// ends up dead-lettered for inspection.
func (w *RegistrationWorker) handleConfirmation(ctx context.Context, p queue.ConfirmationPayload) error {
	var reg models.Registration
	err := w.DB.WithContext(ctx).
		Preload("User").
		Preload("Competition").
		Preload("Competition.Organizer").
		First(&reg, "id = ?", p.RegistrationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("registration %s not found", p.RegistrationID)
		}
		return fmt.Errorf("load registration %s: %w", p.RegistrationID, err)
	}

	if reg.Status == models.RegistrationCancelled {
		return fmt.Errorf("registration %s is cancelled", reg.ID)
	}

	comp := reg.Competition
	body := fmt.Sprintf(`Hello %s,

You have been successfully registered for "%s".

Competition Details:
- Title: %s
- Description: %s
- Organizer: %s
- Deadline: %s

Thank you for registering!

Best regards,
Mini Compete Team`,
		reg.User.Name, comp.Title, comp.Title, comp.Description,
		comp.Organizer.Name, comp.RegDeadline.Format(time.RFC1123))

	entry := models.MailBox{
		ID:      uuid.NewString(),
		UserID:  reg.UserID,
		To:      reg.User.Email,
		Subject: "Registration Confirmed - " + comp.Title,
		Body:    body,
		SentAt:  w.Now(),
	}
	if err := w.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("write confirmation notice: %w", err)
	}

	log.Printf("[Worker] confirmation sent to %s for competition %s", reg.User.Email, comp.ID)
	return nil
}

// handleReminder writes the deadline reminder. An absent CONFIRMED
// registration is expected churn (cancelled between enqueue and delivery)
// and fails without alarm; the retry budget and dead-letter record still
// apply so the drop is observable.
func (w *RegistrationWorker) handleReminder(ctx context.Context, p queue.ReminderPayload) error {
	var reg models.Registration
	err := w.DB.WithContext(ctx).
		Where("user_id = ? AND competition_id = ? AND status = ?",
			p.UserID, p.CompetitionID, models.RegistrationConfirmed).
		Preload("User").
		Preload("Competition").
		First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no confirmed registration for user %s in competition %s", p.UserID, p.CompetitionID)
		}
		return fmt.Errorf("load registration: %w", err)
	}

	comp := reg.Competition
	body := fmt.Sprintf(`Hello %s,

This is a friendly reminder that "%s" starts in 24 hours!

Competition Details:
- Title: %s
- Start Date: %s

Be prepared and good luck!

Best regards,
Mini Compete Team`,
		reg.User.Name, comp.Title, comp.Title, comp.RegDeadline.Format(time.RFC1123))

	entry := models.MailBox{
		ID:      uuid.NewString(),
		UserID:  reg.UserID,
		To:      reg.User.Email,
		Subject: "Reminder: " + comp.Title + " Starts Tomorrow",
		Body:    body,
		SentAt:  w.Now(),
	}
	if err := w.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("write reminder notice: %w", err)
	}

	log.Printf("[Worker] reminder sent to %s for competition %s", reg.User.Email, comp.ID)
	return nil
}

// recordDeadLetter persists the dead-letter row before the job is retired.
// Write failures are logged, not retried: losing the record is preferable to
// wedging the queue on a broken job.
func (w *RegistrationWorker) recordDeadLetter(ctx context.Context, job *models.Job, cause error) {
	failed := models.FailedJob{
		ID:       uuid.NewString(),
		JobType:  job.Name,
		Payload:  job.Payload,
		Error:    cause.Error(),
		Attempts: job.Attempts,
	}
	if err := w.DB.WithContext(ctx).Create(&failed).Error; err != nil {
		log.Printf("[Worker] failed to dead-letter job %s: %v", job.ID, err)
		return
	}
	log.Printf("[Worker] job %s moved to dead letter after %d attempts: %v", job.ID, job.Attempts, cause)
}
