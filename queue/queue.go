// Package queue is a relational, at-least-once job queue. Producers insert
// rows with a due time; consumers claim due rows with an optimistic status
// flip so a job is only ever delivered to one in-flight handler at a time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mini-compete/models"
)

// Options control retry behavior for a single enqueued job.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultOptions matches the registration pipeline policy: 3 attempts with
// exponential backoff 1s, 4s, 16s.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, BaseDelay: time.Second}
}

// Queue is the producer/bookkeeping side of the jobs table. The consumer
// loop lives in the workers package.
type Queue struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Queue {
	return &Queue{DB: db}
}

// Enqueue inserts a job due immediately.
func (q *Queue) Enqueue(ctx context.Context, p Payload, opts Options) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", p.JobName(), err)
	}

	job := models.Job{
		ID:          uuid.NewString(),
		Name:        p.JobName(),
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
		BaseDelayMS: opts.BaseDelay.Milliseconds(),
		Status:      models.JobQueued,
		NextRunAt:   time.Now().UTC(),
	}
	if err := q.DB.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", p.JobName(), err)
	}
	return nil
}

// ClaimNextDue picks the oldest due job and flips it to processing. The
// guarded UPDATE (status must still be queued) makes the claim safe across
// concurrent workers: whoever flips the row first owns the delivery. The
// attempt counter advances on claim, so Attempts always equals deliveries
// actually started.
func (q *Queue) ClaimNextDue(ctx context.Context, now time.Time) (*models.Job, bool, error) {
	db := q.DB.WithContext(ctx)

	for {
		var job models.Job
		err := db.
			Where("status = ? AND next_run_at <= ?", models.JobQueued, now).
			Order("next_run_at ASC").
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("find due job: %w", err)
		}

		res := db.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobQueued).
			Updates(map[string]any{
				"status":   models.JobProcessing,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, false, fmt.Errorf("claim job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker got there first; look for the next due row.
			continue
		}

		job.Status = models.JobProcessing
		job.Attempts++
		return &job, true, nil
	}
}

// MarkCompleted finishes a delivered job.
func (q *Queue) MarkCompleted(ctx context.Context, job *models.Job) error {
	err := q.DB.WithContext(ctx).Model(job).Update("status", models.JobCompleted).Error
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return nil
}

// RetryLater puts a failed job back in the queue with the backoff delay for
// the attempt just made.
func (q *Queue) RetryLater(ctx context.Context, job *models.Job, cause error, now time.Time) error {
	next := now.Add(Backoff(job.BaseDelay(), job.Attempts))
	err := q.DB.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":      models.JobQueued,
		"last_error":  cause.Error(),
		"next_run_at": next,
	}).Error
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	return nil
}

// MarkExhausted retires a job that ran out of attempts. The dead-letter
// record is the worker's responsibility and must already be written.
func (q *Queue) MarkExhausted(ctx context.Context, job *models.Job, cause error) error {
	err := q.DB.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":     models.JobExhausted,
		"last_error": cause.Error(),
	}).Error
	if err != nil {
		return fmt.Errorf("exhaust job %s: %w", job.ID, err)
	}
	return nil
}

// Backoff returns the redelivery delay after the given 1-based attempt:
// base, base·4, base·16, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 4
	}
	return delay
}
