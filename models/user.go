package models

import (
	"time"
)

// Role values injected by the gateway via X-User-Role.
const (
	RoleOrganizer   = "ORGANIZER"
	RoleParticipant = "PARTICIPANT"
)

// User mirrors the identity record owned by the auth service. Signup and
// login live behind the gateway; rows exist here so confirmation mail can be
// addressed and organizers can be named in notice bodies.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-"` // opaque hash, never served
	Role      string    `json:"role" gorm:"type:varchar(16);default:'PARTICIPANT'"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
