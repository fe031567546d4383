package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/realtime/bus"
)

const (
	EventJobCreated  = "job_created"
	EventJobProgress = "job_progress"
	EventJobRetrying = "job_retrying"
	EventJobFailed   = "job_failed"
	EventJobDone     = "job_done"
)

// JobChannel is the bus channel carrying events for one job.
func JobChannel(jobID uuid.UUID) string { return "job:" + jobID.String() }

// EventForKind maps a persisted job_run_event kind to its bus event name.
func EventForKind(kind string) string {
	switch jobdomain.JobEventKind(kind) {
	case jobdomain.JobEventCreated:
		return EventJobCreated
	case jobdomain.JobEventProgress:
		return EventJobProgress
	case jobdomain.JobEventRetrying:
		return EventJobRetrying
	case jobdomain.JobEventFailed:
		return EventJobFailed
	case jobdomain.JobEventSucceeded:
		return EventJobDone
	default:
		return kind
	}
}

type JobNotifier interface {
	JobCreated(job *types.JobRun)
	JobProgress(job *types.JobRun, stage string, progress float64, message string)
	JobRetrying(job *types.JobRun, errorMessage string, nextRunAt time.Time)
	JobFailed(job *types.JobRun, stage string, errorMessage string)
	JobDone(job *types.JobRun)
}

type jobNotifier struct {
	log    *logger.Logger
	bus    bus.Bus
	events repos.JobRunEventRepo
}

// NewJobNotifier records every lifecycle change in job_run_event and
// publishes it on the job's bus channel. Either sink may be nil.
func NewJobNotifier(log *logger.Logger, b bus.Bus, events repos.JobRunEventRepo) JobNotifier {
	return &jobNotifier{log: log.With("service", "JobNotifier"), bus: b, events: events}
}

func (n *jobNotifier) JobCreated(job *types.JobRun) {
	n.emit(job, jobdomain.JobEventCreated, EventJobCreated, "", map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(job *types.JobRun, stage string, progress float64, message string) {
	n.emit(job, jobdomain.JobEventProgress, EventJobProgress, message, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *jobNotifier) JobRetrying(job *types.JobRun, errorMessage string, nextRunAt time.Time) {
	n.emit(job, jobdomain.JobEventRetrying, EventJobRetrying, errorMessage, map[string]any{
		"job_id":      job.ID,
		"job_type":    job.JobType,
		"attempt":     job.Attempts,
		"error":       errorMessage,
		"next_run_at": nextRunAt,
	})
}

func (n *jobNotifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.emit(job, jobdomain.JobEventFailed, EventJobFailed, errorMessage, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
		"job":      job,
	})
}

func (n *jobNotifier) JobDone(job *types.JobRun) {
	n.emit(job, jobdomain.JobEventSucceeded, EventJobDone, "", map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}

func (n *jobNotifier) emit(job *types.JobRun, kind jobdomain.JobEventKind, event string, message string, data map[string]any) {
	if n == nil || job == nil || job.ID == uuid.Nil {
		return
	}
	// Notifications are side effects of a state change that already committed;
	// they must not inherit a cancelled request or activity context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n.events != nil {
		raw, _ := json.Marshal(data)
		ev := &types.JobRunEvent{
			JobID:    job.ID,
			JobType:  job.JobType,
			Kind:     string(kind),
			Status:   job.Status,
			Stage:    job.Stage,
			Progress: job.Progress,
			Attempt:  job.Attempts,
			Message:  message,
			Data:     datatypes.JSON(raw),
		}
		if err := n.events.Create(dbctx.Context{Ctx: ctx}, []*types.JobRunEvent{ev}); err != nil {
			n.log.Warn("job event persist failed", "job_id", job.ID, "kind", kind, "error", err)
		}
	}
	if n.bus != nil {
		msg, err := bus.NewMessage(JobChannel(job.ID), event, data)
		if err != nil {
			n.log.Warn("job event encode failed", "job_id", job.ID, "error", err)
			return
		}
		if err := n.bus.Publish(ctx, msg); err != nil {
			n.log.Warn("job event publish failed", "job_id", job.ID, "event", event, "error", err)
		}
	}
}
