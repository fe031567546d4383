// Package jobstest provides in-memory job storage and a recording notifier
// for tests of the job runtime, worker and services.
package jobstest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	jobrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/jobs"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
)

// Repo is an in-memory jobrepo.JobRunRepo.
type Repo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.JobRun
	seq  int
}

func NewRepo() *Repo { return &Repo{jobs: map[uuid.UUID]*types.JobRun{}} }

var _ jobrepo.JobRunRepo = (*Repo)(nil)

// Snapshot returns a copy of the stored job.
func (r *Repo) Snapshot(id uuid.UUID) *types.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// Put stores job as-is, assigning an id when missing.
func (r *Repo) Put(job *types.JobRun) *types.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(job)
	cp := *job
	return &cp
}

func (r *Repo) insert(job *types.JobRun) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = jobdomain.StatusQueued
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	r.seq++
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Unix(int64(r.seq), 0)
	}
	job.UpdatedAt = job.CreatedAt
	cp := *job
	r.jobs[job.ID] = &cp
}

func (r *Repo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		r.insert(j)
	}
	return jobs, nil
}

func (r *Repo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	if j := r.Snapshot(id); j != nil {
		return j, nil
	}
	return nil, jobrepo.ErrJobNotFound
}

func (r *Repo) GetActiveForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *types.JobRun
	for _, j := range r.jobs {
		if j.EntityType != entityType || j.EntityID == nil || *j.EntityID != entityID || j.JobType != jobType {
			continue
		}
		if j.IsTerminal() {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *Repo) ClaimNextRunnable(dbc dbctx.Context, queues []string, staleRunning time.Duration) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	allowed := map[string]bool{}
	for _, q := range queues {
		allowed[q] = true
	}
	var candidates []*types.JobRun
	for _, j := range r.jobs {
		if len(allowed) > 0 && !allowed[j.Queue] {
			continue
		}
		runnable := (j.Status == jobdomain.StatusQueued || j.Status == jobdomain.StatusRetrying) &&
			(j.NextRunAt == nil || !j.NextRunAt.After(now))
		stale := j.Status == jobdomain.StatusRunning && j.HeartbeatAt != nil &&
			j.HeartbeatAt.Before(now.Add(-staleRunning)) && j.Attempts < j.MaxAttempts
		if runnable || stale {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].CreatedAt.Before(candidates[b].CreatedAt) })
	j := candidates[0]
	j.Status = jobdomain.StatusRunning
	j.Attempts++
	j.LockedAt = &now
	j.HeartbeatAt = &now
	j.NextRunAt = nil
	cp := *j
	return &cp, nil
}

func (r *Repo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		apply(j, updates)
	}
	return nil
}

func (r *Repo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowedStatuses {
		if j.Status == s {
			return false, nil
		}
	}
	apply(j, updates)
	return true, nil
}

func (r *Repo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && j.Status == jobdomain.StatusRunning {
		now := time.Now()
		j.HeartbeatAt = &now
	}
	return nil
}

// AgeHeartbeat moves a job's heartbeat into the past.
func (r *Repo) AgeHeartbeat(id uuid.UUID, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && j.HeartbeatAt != nil {
		t := j.HeartbeatAt.Add(-by)
		j.HeartbeatAt = &t
	}
}

func (r *Repo) FailExhaustedStale(dbc dbctx.Context, staleRunning time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for _, j := range r.jobs {
		if j.Status == jobdomain.StatusRunning && j.HeartbeatAt != nil &&
			j.HeartbeatAt.Before(now.Add(-staleRunning)) && j.Attempts >= j.MaxAttempts {
			j.Status = jobdomain.StatusFailed
			j.Error = "worker stopped responding on final attempt"
			j.FinishedAt = &now
			n++
		}
	}
	return n, nil
}

func apply(j *types.JobRun, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "stage":
			j.Stage = v.(string)
		case "progress":
			j.Progress = toFloat(v)
		case "message":
			j.Message = v.(string)
		case "error":
			j.Error = v.(string)
		case "attempts":
			switch a := v.(type) {
			case clause.Expr:
				j.Attempts++
			case int:
				j.Attempts = a
			}
		case "result":
			if v == nil {
				j.Result = nil
			} else {
				j.Result = v.(datatypes.JSON)
			}
		case "next_run_at":
			j.NextRunAt = toTime(v)
		case "locked_at":
			j.LockedAt = toTime(v)
		case "heartbeat_at":
			j.HeartbeatAt = toTime(v)
		case "last_error_at":
			j.LastErrorAt = toTime(v)
		case "finished_at":
			j.FinishedAt = toTime(v)
		case "updated_at":
			if t := toTime(v); t != nil {
				j.UpdatedAt = *t
			}
		}
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toTime(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	default:
		return nil
	}
}

// Event is one notifier call captured by Notifier.
type Event struct {
	Kind     string
	JobID    uuid.UUID
	Stage    string
	Progress float64
	Message  string
}

// Notifier records notifier calls; it satisfies services.JobNotifier.
type Notifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *Notifier) add(e Event) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *Notifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Kinds lists recorded event kinds in order.
func (n *Notifier) Kinds() []string {
	var out []string
	for _, e := range n.Events() {
		out = append(out, e.Kind)
	}
	return out
}

func (n *Notifier) JobCreated(job *types.JobRun) {
	n.add(Event{Kind: "created", JobID: job.ID})
}

func (n *Notifier) JobProgress(job *types.JobRun, stage string, progress float64, message string) {
	n.add(Event{Kind: "progress", JobID: job.ID, Stage: stage, Progress: progress, Message: message})
}

func (n *Notifier) JobRetrying(job *types.JobRun, errorMessage string, nextRunAt time.Time) {
	n.add(Event{Kind: "retrying", JobID: job.ID, Stage: job.Stage, Message: errorMessage})
}

func (n *Notifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.add(Event{Kind: "failed", JobID: job.ID, Stage: stage, Message: errorMessage})
}

func (n *Notifier) JobDone(job *types.JobRun) {
	n.add(Event{Kind: "done", JobID: job.ID})
}
