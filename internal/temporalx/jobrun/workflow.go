package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	jobrt "github.com/yungbote/docretrieval-backend/internal/jobs/runtime"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

const (
	attemptTimeout   = 2 * time.Hour
	heartbeatTimeout = time.Minute
)

// RetryPolicy maps a job's attempts and backoff onto Temporal's activity
// retry policy, so both dispatch modes space attempts the same way.
func RetryPolicy(in services.JobWorkflowInput) *temporal.RetryPolicy {
	b := jobrt.Backoff{Kind: in.BackoffKind, Delay: time.Duration(in.BackoffDelayMs) * time.Millisecond}.Normalize()
	attempts := in.MaxAttempts
	if attempts < 1 {
		attempts = jobrt.DefaultMaxAttempts
	}
	return &temporal.RetryPolicy{
		InitialInterval:        b.Delay,
		BackoffCoefficient:     b.Coefficient(),
		MaximumInterval:        jobrt.MaxBackoffDelay,
		MaximumAttempts:        int32(attempts),
		NonRetryableErrorTypes: []string{ErrTypePermanent},
	}
}

// Workflow runs job_run_attempt until the job succeeds, fails permanently or
// runs out of attempts. The workflow id is the job id.
func Workflow(ctx workflow.Context, in services.JobWorkflowInput) (AttemptResult, error) {
	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		jobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	if jobID == "" {
		return AttemptResult{}, fmt.Errorf("jobrun: missing job_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: attemptTimeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy:         RetryPolicy(in),
	})

	var out AttemptResult
	if err := workflow.ExecuteActivity(ctx, ActivityAttempt, jobID).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Warn("Job run ended in failure", "job_id", jobID, "error", err)
		return out, err
	}
	return out, nil
}
