// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"mini-compete/models"
	"mini-compete/queue"
)

const failedJobRetention = 90 * 24 * time.Hour

// StartSchedulers starts the recurring jobs: hourly reminder fan-out and the
// nightly cleanup at 2 AM.
func (s *RegistrationService) StartSchedulers() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			n, err := s.EnqueueDueReminders(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("[Scheduler] reminder fan-out failed: %v", err)
				return
			}
			log.Printf("[Scheduler] enqueued %d reminder job(s)", n)
		}),
	)

	_, _ = sched.NewJob(
		gocron.CronJob("0 2 * * *", false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.CleanupOldData(ctx, time.Now().UTC()); err != nil {
				log.Printf("[Scheduler] cleanup failed: %v", err)
			}
		}),
	)
}

// EnqueueDueReminders finds competitions whose deadline falls inside the
// next 24 hours and enqueues one reminder:notify job per confirmed
// registrant, skipping anyone who already got a reminder notice for that
// competition within the last 24 hours.
func (s *RegistrationService) EnqueueDueReminders(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(24 * time.Hour)

	var comps []models.Competition
	err := s.DB.WithContext(ctx).
		Where("reg_deadline >= ? AND reg_deadline <= ?", now, cutoff).
		Find(&comps).Error
	if err != nil {
		return 0, fmt.Errorf("find upcoming competitions: %w", err)
	}

	enqueued := 0
	for _, comp := range comps {
		var regs []models.Registration
		err := s.DB.WithContext(ctx).
			Where("competition_id = ? AND status = ?", comp.ID, models.RegistrationConfirmed).
			Find(&regs).Error
		if err != nil {
			return enqueued, fmt.Errorf("find registrants for %s: %w", comp.ID, err)
		}

		for _, reg := range regs {
			var sent int64
			err := s.DB.WithContext(ctx).
				Model(&models.MailBox{}).
				Where("user_id = ? AND subject LIKE ? AND sent_at >= ?",
					reg.UserID, "%Reminder: "+comp.Title+"%", now.Add(-24*time.Hour)).
				Count(&sent).Error
			if err != nil {
				return enqueued, fmt.Errorf("check prior reminder: %w", err)
			}
			if sent > 0 {
				continue
			}

			err = s.Queue.Enqueue(ctx, queue.ReminderPayload{
				UserID:        reg.UserID,
				CompetitionID: comp.ID,
			}, queue.DefaultOptions())
			if err != nil {
				return enqueued, fmt.Errorf("enqueue reminder: %w", err)
			}
			enqueued++
		}
	}
	return enqueued, nil
}

// CleanupOldData purges expired idempotency records and dead-letter rows
// past the retention window.
func (s *RegistrationService) CleanupOldData(ctx context.Context, now time.Time) error {
	purged, err := s.Idempotency.PurgeExpired(ctx, now)
	if err != nil {
		return err
	}

	res := s.DB.WithContext(ctx).
		Where("created_at < ?", now.Add(-failedJobRetention)).
		Delete(&models.FailedJob{})
	if res.Error != nil {
		return fmt.Errorf("purge failed jobs: %w", res.Error)
	}

	log.Printf("[Cleanup] purged %d idempotency record(s), %d failed job(s)", purged, res.RowsAffected)
	return nil
}
