package queue

import (
	"encoding/json"
	"fmt"

	"mini-compete/models"
)

// Job names stored in the jobs table.
const (
	NameRegistrationConfirmation = "registration:confirmation"
	NameReminderNotify           = "reminder:notify"
)

// Payload is the closed set of job bodies this queue carries. The interface
// is sealed so the worker can switch exhaustively instead of falling through
// an "unknown job type" branch at runtime.
type Payload interface {
	JobName() string
	sealed()
}

// ConfirmationPayload asks the worker to write a registration-confirmed
// notice for a freshly admitted registration.
type ConfirmationPayload struct {
	RegistrationID string `json:"registrationId"`
	UserID         string `json:"userId"`
	CompetitionID  string `json:"competitionId"`
}

func (ConfirmationPayload) JobName() string { return NameRegistrationConfirmation }
func (ConfirmationPayload) sealed()         {}

// ReminderPayload asks the worker to write a deadline reminder for a
// confirmed registrant. The registration may legitimately be gone by the
// time the job runs.
type ReminderPayload struct {
	UserID        string `json:"userId"`
	CompetitionID string `json:"competitionId"`
}

func (ReminderPayload) JobName() string { return NameReminderNotify }
func (ReminderPayload) sealed()         {}

// DecodePayload rebuilds the typed payload for a stored job.
func DecodePayload(job *models.Job) (Payload, error) {
	switch job.Name {
	case NameRegistrationConfirmation:
		var p ConfirmationPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode confirmation payload: %w", err)
		}
		return p, nil
	case NameReminderNotify:
		var p ReminderPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode reminder payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("job %s has unknown name %q", job.ID, job.Name)
	}
}
