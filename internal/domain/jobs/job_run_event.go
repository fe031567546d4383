package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobEventKind string

const (
	JobEventCreated   JobEventKind = "created"
	JobEventProgress  JobEventKind = "progress"
	JobEventRetrying  JobEventKind = "retrying"
	JobEventFailed    JobEventKind = "failed"
	JobEventSucceeded JobEventKind = "succeeded"
)

// JobRunEvent is the append-only timeline of a job. Clients that connect to
// the event stream late replay it before switching to live messages.
type JobRunEvent struct {
	ID       uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	JobType  string         `gorm:"column:job_type;not null" json:"job_type"`
	Kind     string         `gorm:"column:kind;not null" json:"kind"`
	Status   string         `gorm:"column:status;not null" json:"status"`
	Stage    string         `gorm:"column:stage;not null;default:''" json:"stage"`
	Progress float64        `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempt  int            `gorm:"column:attempt;not null;default:0" json:"attempt"`
	Message  string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Data     datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }
