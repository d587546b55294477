package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job statuses. A job is claimed by flipping queued to processing; completed
// jobs are kept for inspection, exhausted jobs have a FailedJob twin.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobExhausted  = "exhausted"
)

// Job is one unit of deferred work in the relational queue. NextRunAt drives
// both initial delivery and backoff redelivery; Attempts counts deliveries
// actually made.
type Job struct {
	ID          string         `json:"id" gorm:"primaryKey"`
	Name        string         `json:"name" gorm:"not null;index"`
	Payload     datatypes.JSON `json:"payload"`
	Attempts    int            `json:"attempts" gorm:"default:0"`
	MaxAttempts int            `json:"max_attempts" gorm:"default:3"`
	BaseDelayMS int64          `json:"base_delay_ms" gorm:"default:1000"`
	Status      string         `json:"status" gorm:"type:varchar(16);not null;default:'queued';index:idx_job_due"`
	NextRunAt   time.Time      `json:"next_run_at" gorm:"index:idx_job_due"`
	LastError   string         `json:"last_error" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// BaseDelay returns the configured backoff base as a duration.
func (j *Job) BaseDelay() time.Duration {
	return time.Duration(j.BaseDelayMS) * time.Millisecond
}

// FailedJob is the dead-letter record written exactly once when a job runs
// out of attempts. Write-once, read by operators.
type FailedJob struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	JobType   string         `json:"job_type" gorm:"not null;index"`
	Payload   datatypes.JSON `json:"payload"`
	Error     string         `json:"error" gorm:"type:text"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
}
