package models

import (
	"time"
)

// Registration statuses. There is no soft delete: cancelled rows stay and,
// because of the unique (user_id, competition_id) index, block a later
// re-registration for the same competition.
const (
	RegistrationConfirmed = "CONFIRMED"
	RegistrationCancelled = "CANCELLED"
)

// Registration is one claimed seat. The unique index on
// (user_id, competition_id) is the hard backstop against duplicate seats
// when two admissions for the same pair race.
type Registration struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID string    `json:"competition_id" gorm:"not null;uniqueIndex:idx_registration_user_competition"`
	UserID        string    `json:"user_id" gorm:"not null;uniqueIndex:idx_registration_user_competition"`
	Status        string    `json:"status" gorm:"type:varchar(16);not null;default:'CONFIRMED'"`
	RegisteredAt  time.Time `json:"registered_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Competition Competition `json:"competition,omitempty" gorm:"foreignKey:CompetitionID"`
	User        User        `json:"user,omitempty" gorm:"foreignKey:UserID"`
}
