package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

/*
Context is the execution handle for a single attempt of a job run.
It wraps:
  - the attempt's context.Context (cancellation, deadlines)
  - the claimed job_run row
  - the notifier used for job events
  - the decoded payload

Handlers never write job_run directly. Lifecycle transitions go through
Progress, Retry, Fail and Succeed so that terminal rows are never overwritten
and every transition is announced.
*/
type Context struct {
	Ctx     context.Context
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	Notify  services.JobNotifier
	payload map[string]any
}

var terminalStatuses = []string{jobdomain.StatusSucceeded, jobdomain.StatusFailed}

// NewContext decodes the job payload eagerly. A malformed payload yields an
// empty map; handlers validate the fields they need.
func NewContext(ctx context.Context, job *types.JobRun, repo repos.JobRunRepo, notify services.JobNotifier) *Context {
	c := &Context{
		Ctx:    ctxutil.Default(ctx),
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil || m == nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// applyTraceData restores the trace/request ids captured at enqueue time so
// worker logs correlate with the request that scheduled the job.
func (c *Context) applyTraceData() {
	payload := c.Payload()
	traceID, _ := payload["trace_id"].(string)
	reqID, _ := payload["request_id"].(string)
	traceID, reqID = strings.TrimSpace(traceID), strings.TrimSpace(reqID)
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: traceID, RequestID: reqID})
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

/*
PayloadUUID reads key from the payload and parses it as a UUID.
Returns (uuid.Nil, false) when the key is missing, empty, not a string or not
a UUID.
*/
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s, ok := c.Payload()[key].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// write applies updates unless the row is already terminal. It runs on a
// detached context so a cancelled attempt can still record how it ended.
func (c *Context) write(updates map[string]interface{}) bool {
	if c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctxutil.Detached(c.Ctx), 10*time.Second)
	defer cancel()
	ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, terminalStatuses, updates)
	return err == nil && ok
}

/*
Progress records a non-terminal status update. fraction is clamped to [0,1].
The write also refreshes heartbeat_at, so long stages that report progress
keep the claim alive.
*/
func (c *Context) Progress(stage string, fraction float64, msg string) {
	if c == nil {
		return
	}
	fraction = clamp01(fraction)
	now := time.Now()
	if !c.write(map[string]interface{}{
		"stage":        stage,
		"progress":     fraction,
		"message":      msg,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = fraction
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
		if c.Notify != nil {
			c.Notify.JobProgress(c.Job, stage, fraction, msg)
		}
	}
}

// Retry parks the job until nextRunAt after a failed attempt that still has
// attempts left.
func (c *Context) Retry(stage string, err error, nextRunAt time.Time) {
	if c == nil {
		return
	}
	msg := errMessage(err)
	now := time.Now()
	if !c.write(map[string]interface{}{
		"status":        jobdomain.StatusRetrying,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"next_run_at":   nextRunAt,
		"locked_at":     nil,
		"updated_at":    now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobdomain.StatusRetrying
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.NextRunAt = &nextRunAt
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
		if c.Notify != nil {
			c.Notify.JobRetrying(c.Job, msg, nextRunAt)
		}
	}
}

// Fail marks the job terminally failed.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	msg := errMessage(err)
	now := time.Now()
	if !c.write(map[string]interface{}{
		"status":        jobdomain.StatusFailed,
		"stage":         stage,
		"message":       "",
		"error":         msg,
		"last_error_at": now,
		"finished_at":   now,
		"next_run_at":   nil,
		"locked_at":     nil,
		"updated_at":    now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobdomain.StatusFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.FinishedAt = &now
		c.Job.NextRunAt = nil
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
		if c.Notify != nil {
			c.Notify.JobFailed(c.Job, stage, msg)
		}
	}
}

// Succeed marks the job terminally succeeded and stores result as JSON.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	if !c.write(map[string]interface{}{
		"status":       jobdomain.StatusSucceeded,
		"stage":        finalStage,
		"progress":     1.0,
		"message":      "",
		"error":        "",
		"result":       res,
		"finished_at":  now,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobdomain.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 1
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.FinishedAt = &now
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
		if c.Notify != nil {
			c.Notify.JobDone(c.Job)
		}
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
