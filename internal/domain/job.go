// Package domain holds the durable Job record described in spec.md §3,
// grounded on the teacher's internal/domain/jobs.JobRun shape but carrying
// the fields the original Celery-backed design needs: an ordered step
// list, a broker task-id trail, and a progress cursor into that list.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusScheduled JobStatus = "SCHEDULED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether a job in this status will never be touched
// by the scheduler loops again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the single row of durable state spec.md §3 describes. Steps is
// the ordered, immutable plan produced once at submission time; Progress
// indexes into it (Progress == Total means every step has completed).
// TaskIDs accumulates one broker task id per dispatched step and is never
// truncated, mirroring original_source's celery_job_ids.
type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Status      JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Steps       datatypes.JSON `gorm:"column:steps;type:jsonb;not null" json:"steps"`
	Total       int            `gorm:"column:total;not null" json:"total"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	CurrentStep *string        `gorm:"column:current_step" json:"current_step,omitempty"`
	TaskIDs     datatypes.JSON `gorm:"column:task_ids;type:jsonb;not null;default:'[]'" json:"task_ids"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Logs        string         `gorm:"column:logs" json:"logs,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Job) TableName() string { return "job" }

// StepList decodes Steps into the ordered "pool.stage_name" identifiers.
func (j *Job) StepList() ([]string, error) {
	return decodeStringSlice(j.Steps)
}

func (j *Job) TaskIDList() ([]string, error) {
	return decodeStringSlice(j.TaskIDs)
}

func decodeStringSlice(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeStringSlice is the inverse of decodeStringSlice, used when
// constructing a Job at submission time or appending a task id.
func EncodeStringSlice(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
