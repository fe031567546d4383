package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"gorm.io/gorm"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/docretrieval-backend/internal/jobs/runtime"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	Jobs     repos.JobRunRepo
	Registry *jobrt.Registry
	Notify   services.JobNotifier
	Metrics  *observability.Metrics

	// HeartbeatEvery paces both Temporal and job_run heartbeats.
	HeartbeatEvery time.Duration
}

// Attempt runs one attempt of the job. A job already in a terminal state is
// reported as is, which keeps activity retries after a worker crash harmless.
func (a *Activities) Attempt(ctx context.Context, jobID string) (AttemptResult, error) {
	res := AttemptResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("jobrun: invalid job_id", ErrTypePermanent, err)
	}

	ctx, span := otel.Tracer("docretrieval/jobs").Start(ctx, "job.attempt")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	job, err := a.Jobs.GetByID(dbc, id)
	if err != nil {
		return res, fmt.Errorf("jobrun: load job: %w", err)
	}
	if job.IsTerminal() {
		return resultOf(job), nil
	}

	now := time.Now()
	ok, err := a.Jobs.UpdateFieldsUnlessStatus(dbc, id, []string{jobdomain.StatusSucceeded, jobdomain.StatusFailed}, map[string]interface{}{
		"status":       jobdomain.StatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"next_run_at":  nil,
		"updated_at":   now,
	})
	if err != nil {
		return res, fmt.Errorf("jobrun: mark running: %w", err)
	}
	if job, err = a.Jobs.GetByID(dbc, id); err != nil {
		return res, fmt.Errorf("jobrun: reload job: %w", err)
	}
	if !ok {
		return resultOf(job), nil
	}
	span.SetAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", job.JobType),
		attribute.Int("job.attempt", job.Attempts),
	)

	stopHB := a.startHeartbeat(ctx, id)
	h, found := a.Registry.Get(job.JobType)
	if !found && a.Log != nil {
		a.Log.Warn("No handler registered for job_type", "job_id", id, "job_type", job.JobType)
	}
	jc := jobrt.NewContext(ctx, job, a.Jobs, a.Notify)
	started := time.Now()
	outcome, runErr := jobrt.RunAttempt(jc, h)
	stopHB()
	a.Metrics.ObserveJobAttempt(job.JobType, string(outcome), time.Since(started))

	res = resultOf(jc.Job)
	switch outcome {
	case jobrt.OutcomeSucceeded:
		return res, nil
	case jobrt.OutcomeRetry:
		return res, temporal.NewApplicationError(runErr.Error(), ErrTypeAttempt)
	default:
		msg := "job failed"
		if runErr != nil {
			msg = runErr.Error()
		}
		return res, temporal.NewNonRetryableApplicationError(msg, ErrTypePermanent, runErr)
	}
}

func resultOf(job *types.JobRun) AttemptResult {
	return AttemptResult{
		JobID:    job.ID.String(),
		Status:   job.Status,
		Stage:    job.Stage,
		Progress: job.Progress,
		Attempt:  job.Attempts,
	}
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 15 * time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
