package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	jobrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/jobs"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const (
	QueueDocuments = "documents"

	JobTypeDocumentIngest    = "document_ingest"
	JobTypeDocumentReprocess = "document_reprocess"

	EntityDocument = "document"
)

const (
	DispatchWorker   = "worker"
	DispatchTemporal = "temporal"

	// Literal to avoid an import cycle with temporalx/jobrun.
	jobRunWorkflowName = "job_run"
)

var ErrJobNotFound = jobrepo.ErrJobNotFound

// JobWorkflowInput is the argument of the job_run workflow. The retry policy
// travels with it so the workflow stays deterministic.
type JobWorkflowInput struct {
	JobID          string `json:"job_id"`
	MaxAttempts    int    `json:"max_attempts"`
	BackoffKind    string `json:"backoff_kind"`
	BackoffDelayMs int64  `json:"backoff_delay_ms"`
}

type Backoff struct {
	Kind  string
	Delay time.Duration
}

type EnqueueRequest struct {
	Queue      string
	JobType    string
	EntityType string
	EntityID   *uuid.UUID
	Payload    map[string]any
	// Attempts is the total number of attempts, first run included.
	Attempts int
	Backoff  Backoff
	// Dedupe returns the entity's active job of the same type instead of
	// creating a second one.
	Dedupe bool
}

// JobState is the client view of a job.
type JobState struct {
	ID           uuid.UUID       `json:"id"`
	Queue        string          `json:"queue"`
	JobType      string          `json:"job_type"`
	State        string          `json:"state"`
	Stage        string          `json:"stage"`
	Progress     float64         `json:"progress"`
	Message      string          `json:"message,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

type JobService interface {
	Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	GetJobState(dbc dbctx.Context, queue string, jobID uuid.UUID) (*JobState, error)
	ListEvents(dbc dbctx.Context, queue string, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error)
}

type JobServiceConfig struct {
	DispatchMode      string
	TemporalTaskQueue string
	DefaultAttempts   int
	DefaultBackoff    Backoff
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	events repos.JobRunEventRepo
	notify JobNotifier
	cfg    JobServiceConfig

	temporal temporalsdkclient.Client
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	events repos.JobRunEventRepo,
	notify JobNotifier,
	tc temporalsdkclient.Client,
	cfg JobServiceConfig,
) (JobService, error) {
	cfg.DispatchMode = strings.ToLower(strings.TrimSpace(cfg.DispatchMode))
	if cfg.DispatchMode == "" {
		cfg.DispatchMode = DispatchWorker
	}
	switch cfg.DispatchMode {
	case DispatchWorker:
	case DispatchTemporal:
		if tc == nil {
			return nil, fmt.Errorf("JOB_DISPATCH_MODE=temporal requires a temporal client (TEMPORAL_ADDRESS)")
		}
	default:
		return nil, fmt.Errorf("unknown JOB_DISPATCH_MODE %q", cfg.DispatchMode)
	}
	if strings.TrimSpace(cfg.TemporalTaskQueue) == "" {
		cfg.TemporalTaskQueue = "docretrieval"
	}
	if cfg.DefaultAttempts <= 0 {
		cfg.DefaultAttempts = 3
	}
	if cfg.DefaultBackoff.Kind == "" {
		cfg.DefaultBackoff.Kind = jobdomain.BackoffExponential
	}
	if cfg.DefaultBackoff.Delay <= 0 {
		cfg.DefaultBackoff.Delay = 5 * time.Second
	}
	return &jobService{
		db:       db,
		log:      baseLog.With("service", "JobService"),
		repo:     repo,
		events:   events,
		notify:   notify,
		cfg:      cfg,
		temporal: tc,
	}, nil
}

func (s *jobService) Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, error) {
	req.JobType = strings.TrimSpace(req.JobType)
	if req.JobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if strings.TrimSpace(req.Queue) == "" {
		req.Queue = QueueDocuments
	}
	if req.Attempts <= 0 {
		req.Attempts = s.cfg.DefaultAttempts
	}
	if req.Backoff.Kind == "" {
		req.Backoff.Kind = s.cfg.DefaultBackoff.Kind
	}
	if req.Backoff.Delay <= 0 {
		req.Backoff.Delay = s.cfg.DefaultBackoff.Delay
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	if req.Dedupe && req.EntityID != nil {
		active, err := s.repo.GetActiveForEntity(repoCtx, req.EntityType, *req.EntityID, req.JobType)
		if err != nil {
			return nil, fmt.Errorf("check active job: %w", err)
		}
		if active != nil {
			s.log.Debug("Active job exists; not enqueueing another", "job_id", active.ID, "job_type", req.JobType)
			return active, nil
		}
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if _, ok := payload["trace_id"]; !ok && td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
		if _, ok := payload["request_id"]; !ok && td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now()
	job := &types.JobRun{
		ID:             uuid.New(),
		Queue:          req.Queue,
		JobType:        req.JobType,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Status:         jobdomain.StatusQueued,
		Stage:          "queued",
		Message:        "Queued",
		MaxAttempts:    req.Attempts,
		BackoffKind:    req.Backoff.Kind,
		BackoffDelayMs: req.Backoff.Delay.Milliseconds(),
		Payload:        datatypes.JSON(payloadJSON),
		Result:         datatypes.JSON([]byte(`{}`)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.repo.Create(repoCtx, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify.JobCreated(job)
	}

	// Inside a real transaction the workflow must not start before commit;
	// callers invoke Dispatch afterwards. gorm.DB pointers are cloned freely,
	// so pointer comparison does not detect a transaction.
	if isDBTransaction(dbc.Tx) {
		s.log.Debug("Job enqueued inside transaction; awaiting dispatch after commit", "job_id", job.ID, "job_type", job.JobType)
		return job, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

// Dispatch hands a queued job to the execution backend. In worker mode the
// poller claims rows on its own, so there is nothing to do.
func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	if s.cfg.DispatchMode != DispatchTemporal {
		return nil
	}
	ctx := ctxutil.Default(dbc.Ctx)

	job, err := s.repo.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	err = s.startTemporalJobWorkflow(ctx, job)
	if err == nil {
		return nil
	}
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return nil
	}

	now := time.Now()
	_ = s.repo.UpdateFields(dbctx.Context{Ctx: ctxutil.Detached(ctx)}, jobID, map[string]interface{}{
		"status":        jobdomain.StatusFailed,
		"stage":         "dispatch",
		"message":       "",
		"error":         err.Error(),
		"last_error_at": now,
		"finished_at":   now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	if s.notify != nil {
		job.Status = jobdomain.StatusFailed
		job.Stage = "dispatch"
		job.Error = err.Error()
		s.notify.JobFailed(job, "dispatch", err.Error())
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) startTemporalJobWorkflow(ctx context.Context, job *types.JobRun) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    job.ID.String(),
		TaskQueue:             s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	in := JobWorkflowInput{
		JobID:          job.ID.String(),
		MaxAttempts:    job.MaxAttempts,
		BackoffKind:    job.BackoffKind,
		BackoffDelayMs: job.BackoffDelayMs,
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, jobRunWorkflowName, in)
	return err
}

func (s *jobService) load(dbc dbctx.Context, queue string, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, ErrJobNotFound
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	job, err := s.repo.GetByID(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, jobID)
	if err != nil {
		return nil, err
	}
	// A job addressed through the wrong queue does not exist for the caller.
	if queue = strings.TrimSpace(queue); queue != "" && job.Queue != queue {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *jobService) GetJobState(dbc dbctx.Context, queue string, jobID uuid.UUID) (*JobState, error) {
	job, err := s.load(dbc, queue, jobID)
	if err != nil {
		return nil, err
	}
	return JobStateOf(job), nil
}

func (s *jobService) ListEvents(dbc dbctx.Context, queue string, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	if _, err := s.load(dbc, queue, jobID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, nil
	}
	return s.events.ListByJobID(dbctx.Context{Ctx: dbc.Ctx, Tx: dbc.Tx}, jobID, limit)
}

// JobStateOf projects a job row onto the client view.
func JobStateOf(job *types.JobRun) *JobState {
	if job == nil {
		return nil
	}
	st := &JobState{
		ID:           job.ID,
		Queue:        job.Queue,
		JobType:      job.JobType,
		State:        job.Status,
		Stage:        job.Stage,
		Progress:     job.Progress,
		Message:      job.Message,
		AttemptsMade: job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		NextRunAt:    job.NextRunAt,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
	}
	if job.Status == jobdomain.StatusFailed || job.Status == jobdomain.StatusRetrying {
		st.FailedReason = job.Error
	}
	if len(job.Result) > 0 && string(job.Result) != "{}" && string(job.Result) != "null" {
		st.Result = json.RawMessage(job.Result)
	}
	return st
}
