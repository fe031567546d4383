package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/jobs/jobstest"
	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/realtime/bus"
)

func newJobService(t *testing.T, repo *jobstest.Repo, notify JobNotifier) JobService {
	t.Helper()
	svc, err := NewJobService(nil, logger.Nop(), repo, nil, notify, nil, JobServiceConfig{})
	if err != nil {
		t.Fatalf("NewJobService: %v", err)
	}
	return svc
}

func TestEnqueueAppliesDefaultsAndTraceData(t *testing.T) {
	repo := jobstest.NewRepo()
	notify := &jobstest.Notifier{}
	svc := newJobService(t, repo, notify)

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "trace-1", RequestID: "req-1"})
	docID := uuid.New()
	job, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, EnqueueRequest{
		JobType:  JobTypeDocumentIngest,
		EntityID: &docID,
		Payload:  map[string]any{"document_id": docID.String()},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stored := repo.Snapshot(job.ID)
	if stored.Queue != QueueDocuments || stored.MaxAttempts != 3 || stored.Status != jobdomain.StatusQueued {
		t.Fatalf("defaults: queue=%s attempts=%d status=%s", stored.Queue, stored.MaxAttempts, stored.Status)
	}
	if stored.BackoffKind != jobdomain.BackoffExponential || stored.BackoffDelayMs != 5000 {
		t.Fatalf("backoff: kind=%s delay=%d", stored.BackoffKind, stored.BackoffDelayMs)
	}
	var payload map[string]string
	_ = json.Unmarshal(stored.Payload, &payload)
	if payload["trace_id"] != "trace-1" || payload["request_id"] != "req-1" || payload["document_id"] != docID.String() {
		t.Fatalf("payload: %v", payload)
	}
	if kinds := notify.Kinds(); len(kinds) != 1 || kinds[0] != "created" {
		t.Fatalf("events: want=[created] got=%v", kinds)
	}

	if _, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, EnqueueRequest{}); err == nil {
		t.Fatalf("missing job type: want error")
	}
}

func TestEnqueueDedupeReturnsActiveJob(t *testing.T) {
	repo := jobstest.NewRepo()
	svc := newJobService(t, repo, nil)
	docID := uuid.New()
	req := EnqueueRequest{JobType: JobTypeDocumentIngest, EntityType: EntityDocument, EntityID: &docID, Dedupe: true}

	first, err := svc.Enqueue(dbctx.Context{Ctx: context.Background()}, req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := svc.Enqueue(dbctx.Context{Ctx: context.Background()}, req)
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("dedupe: want same job got=%s and %s", first.ID, second.ID)
	}

	_ = repo.UpdateFields(dbctx.Context{}, first.ID, map[string]interface{}{"status": jobdomain.StatusSucceeded})
	third, _ := svc.Enqueue(dbctx.Context{Ctx: context.Background()}, req)
	if third.ID == first.ID {
		t.Fatalf("finished job must not absorb new work")
	}
}

func TestGetJobState(t *testing.T) {
	repo := jobstest.NewRepo()
	svc := newJobService(t, repo, nil)
	now := time.Now()
	job := repo.Put(&types.JobRun{
		Queue: QueueDocuments, JobType: JobTypeDocumentIngest,
		Status: jobdomain.StatusFailed, Progress: 0.4, Attempts: 3, MaxAttempts: 3,
		Error: "connection refused", FinishedAt: &now,
	})

	st, err := svc.GetJobState(dbctx.Context{Ctx: context.Background()}, QueueDocuments, job.ID)
	if err != nil {
		t.Fatalf("GetJobState: %v", err)
	}
	if st.State != "failed" || st.Progress != 0.4 || st.FailedReason != "connection refused" || st.AttemptsMade != 3 {
		t.Fatalf("state: %+v", st)
	}

	if _, err := svc.GetJobState(dbctx.Context{Ctx: context.Background()}, "other", job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("wrong queue: want ErrJobNotFound got=%v", err)
	}
	if _, err := svc.GetJobState(dbctx.Context{Ctx: context.Background()}, QueueDocuments, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("unknown id: want ErrJobNotFound got=%v", err)
	}
}

func TestNewJobServiceValidatesMode(t *testing.T) {
	if _, err := NewJobService(nil, logger.Nop(), jobstest.NewRepo(), nil, nil, nil, JobServiceConfig{DispatchMode: "temporal"}); err == nil {
		t.Fatalf("temporal without client: want error")
	}
	if _, err := NewJobService(nil, logger.Nop(), jobstest.NewRepo(), nil, nil, nil, JobServiceConfig{DispatchMode: "kafka"}); err == nil {
		t.Fatalf("unknown mode: want error")
	}
}

type memoryEvents struct{ rows []*types.JobRunEvent }

func (m *memoryEvents) Create(dbc dbctx.Context, events []*types.JobRunEvent) error {
	m.rows = append(m.rows, events...)
	return nil
}

func (m *memoryEvents) ListByJobID(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	var out []*types.JobRunEvent
	for _, e := range m.rows {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestJobNotifierPersistsAndPublishes(t *testing.T) {
	b := bus.NewMemoryBus()
	events := &memoryEvents{}
	n := NewJobNotifier(logger.Nop(), b, events)
	job := &types.JobRun{ID: uuid.New(), JobType: JobTypeDocumentIngest, Status: jobdomain.StatusRunning, Attempts: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsub, err := b.Subscribe(ctx, JobChannel(job.ID))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	n.JobProgress(job, "embed", 0.5, "stored 1/2 batches")

	select {
	case msg := <-ch:
		if msg.Event != EventJobProgress {
			t.Fatalf("event: want=%s got=%s", EventJobProgress, msg.Event)
		}
		var data map[string]any
		_ = json.Unmarshal(msg.Data, &data)
		if data["stage"] != "embed" || data["progress"] != 0.5 {
			t.Fatalf("data: %v", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("no bus message")
	}
	if len(events.rows) != 1 || events.rows[0].Kind != string(jobdomain.JobEventProgress) || events.rows[0].Attempt != 1 {
		t.Fatalf("persisted events: %+v", events.rows)
	}
}
