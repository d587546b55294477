package models

import (
	"time"
)

// MailBox is the append-only per-user notice store consumed by the UI.
// Entries are advisory: a duplicate write on job redelivery is accepted.
type MailBox struct {
	ID      string    `json:"id" gorm:"primaryKey"`
	UserID  string    `json:"user_id" gorm:"not null;index"`
	To      string    `json:"to" gorm:"not null"`
	Subject string    `json:"subject" gorm:"not null"`
	Body    string    `json:"body" gorm:"type:text"`
	Read    bool      `json:"read" gorm:"default:false"`
	SentAt  time.Time `json:"sent_at" gorm:"index"`
}
