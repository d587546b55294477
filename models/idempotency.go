package models

import (
	"time"
)

// IdempotencyRecord maps a client-supplied key to the exact response bytes
// to replay. First write wins; expired rows read as absent and are purged by
// the cleanup scheduler.
type IdempotencyRecord struct {
	Key       string    `json:"key" gorm:"primaryKey;size:128"`
	Value     []byte    `json:"-" gorm:"type:bytes"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Expired reports whether the record is past its TTL at t.
func (r *IdempotencyRecord) Expired(t time.Time) bool {
	return t.After(r.ExpiresAt)
}
