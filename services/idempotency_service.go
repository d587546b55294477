package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mini-compete/models"
)

// IdempotencyService deduplicates side-effecting calls by a client-supplied
// token. It caches opaque response bytes only, never capacity counts.
type IdempotencyService struct {
	DB *gorm.DB
}

func NewIdempotencyService(db *gorm.DB) *IdempotencyService {
	return &IdempotencyService{DB: db}
}

// Get returns the stored value for key, treating expired rows as absent.
func (s *IdempotencyService) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec models.IdempotencyRecord
	err := s.DB.WithContext(ctx).First(&rec, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// CheckAndStore writes value under key unless a live record already exists,
// and returns the earlier value when it does. The insert uses ON CONFLICT DO
// NOTHING, so racing retries of the same request agree on the first writer's
// value: the loser's insert is a no-op and the re-read surfaces the winner.
func (s *IdempotencyService) CheckAndStore(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error) {
	now := time.Now().UTC()
	rec := models.IdempotencyRecord{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
	}

	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return nil, fmt.Errorf("idempotency store: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil, nil
	}

	// Lost the race (or the key was already present): report what won.
	var existing models.IdempotencyRecord
	if err := s.DB.WithContext(ctx).First(&existing, "key = ?", key).Error; err != nil {
		return nil, fmt.Errorf("idempotency re-read: %w", err)
	}
	if existing.Expired(now) {
		// The conflicting row is stale; replace it so the key works again.
		err := s.DB.WithContext(ctx).
			Model(&models.IdempotencyRecord{}).
			Where("key = ?", key).
			Updates(map[string]any{"value": value, "expires_at": rec.ExpiresAt}).Error
		if err != nil {
			return nil, fmt.Errorf("idempotency refresh: %w", err)
		}
		return nil, nil
	}
	return existing.Value, nil
}

// PurgeExpired removes records past their TTL. Called from the cleanup
// scheduler.
func (s *IdempotencyService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("idempotency purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
