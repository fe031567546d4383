package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// JobRun is one unit of queued background work. Progress is a fraction in
// [0,1]; Attempts counts started attempts.
type JobRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Queue      string     `gorm:"column:queue;not null;index" json:"queue"`
	JobType    string     `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityType string     `gorm:"column:entity_type;index" json:"entity_type,omitempty"`
	EntityID   *uuid.UUID `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`

	Status   string  `gorm:"column:status;not null;index" json:"status"`
	Stage    string  `gorm:"column:stage;not null;default:''" json:"stage"`
	Progress float64 `gorm:"column:progress;not null;default:0" json:"progress"`
	Message  string  `gorm:"column:message;type:text" json:"message,omitempty"`

	Attempts       int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts    int    `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	BackoffKind    string `gorm:"column:backoff_kind;not null;default:'exponential'" json:"backoff_kind"`
	BackoffDelayMs int64  `gorm:"column:backoff_delay_ms;not null;default:5000" json:"backoff_delay_ms"`

	Error       string     `gorm:"column:error;type:text" json:"error,omitempty"`
	NextRunAt   *time.Time `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	FinishedAt  *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (JobRun) TableName() string { return "job_run" }

// IsTerminal reports whether no further attempts will run.
func (j *JobRun) IsTerminal() bool {
	return j != nil && (j.Status == StatusSucceeded || j.Status == StatusFailed)
}
