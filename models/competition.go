package models

import (
	"time"
)

// Competition is a time-boxed competition with a fixed number of seats.
// Capacity and deadline are immutable after creation; there is no edit flow.
type Competition struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	Slug        string    `json:"slug" gorm:"index"`
	Description string    `json:"description" gorm:"type:text"`
	Tags        string    `json:"tags"` // comma-separated, denormalized for listing
	Capacity    int       `json:"capacity" gorm:"not null"`
	RegDeadline time.Time `json:"reg_deadline" gorm:"not null"`
	OrganizerID string    `json:"organizer_id" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Organizer     User           `json:"organizer,omitempty" gorm:"foreignKey:OrganizerID"`
	Registrations []Registration `json:"registrations,omitempty" gorm:"foreignKey:CompetitionID"`

	// Calculated fields (not stored in DB)
	RegisteredCount int64 `json:"registered_count" gorm:"-"`
}

// IsOpen reports whether the registration window is still open at t.
func (c *Competition) IsOpen(t time.Time) bool {
	return !t.After(c.RegDeadline)
}
