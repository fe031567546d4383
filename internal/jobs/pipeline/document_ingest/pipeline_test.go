package document_ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	docrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/documents"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	docdomain "github.com/yungbote/docretrieval-backend/internal/domain/documents"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/jobs/jobstest"
	jobrt "github.com/yungbote/docretrieval-backend/internal/jobs/runtime"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type fakeEngine struct {
	result      *ingestion.Result
	err         error
	ingested    []uuid.UUID
	reprocessed []uuid.UUID
}

func (f *fakeEngine) run(id uuid.UUID, opts []ingestion.Options) (*ingestion.Result, error) {
	for _, o := range opts {
		if o.Report != nil {
			o.Report("extract", 1, "extracted")
			o.Report("embed", 0.5, "stored 1/2 batches")
		}
	}
	return f.result, f.err
}

func (f *fakeEngine) Ingest(ctx context.Context, id uuid.UUID, opts ...ingestion.Options) (*ingestion.Result, error) {
	f.ingested = append(f.ingested, id)
	return f.run(id, opts)
}

func (f *fakeEngine) Reprocess(ctx context.Context, id uuid.UUID, opts ...ingestion.Options) (*ingestion.Result, error) {
	f.reprocessed = append(f.reprocessed, id)
	return f.run(id, opts)
}

func newJob(t *testing.T, repo *jobstest.Repo, jobType string, payload map[string]any) *jobrt.Context {
	t.Helper()
	raw, _ := json.Marshal(payload)
	repo.Put(&types.JobRun{Queue: "documents", JobType: jobType, Payload: raw, MaxAttempts: 3})
	job, err := repo.ClaimNextRunnable(dbctx.Context{Ctx: context.Background()}, nil, 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v", err)
	}
	return jobrt.NewContext(context.Background(), job, repo, &jobstest.Notifier{})
}

func TestIngestSucceedsWithResult(t *testing.T) {
	repo := jobstest.NewRepo()
	docID := uuid.New()
	eng := &fakeEngine{result: &ingestion.Result{DocumentID: docID, Status: docdomain.StatusReady, ChunkCount: 4}}
	p := New(logger.Nop(), eng)
	if p.Type() != "document_ingest" {
		t.Fatalf("Type: got=%s", p.Type())
	}

	jc := newJob(t, repo, p.Type(), map[string]any{"document_id": docID.String()})
	notify := jc.Notify.(*jobstest.Notifier)
	if _, err := jobrt.RunAttempt(jc, p); err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if len(eng.ingested) != 1 || eng.ingested[0] != docID || len(eng.reprocessed) != 0 {
		t.Fatalf("engine calls: ingest=%v reprocess=%v", eng.ingested, eng.reprocessed)
	}

	stored := repo.Snapshot(jc.Job.ID)
	if stored.Status != jobdomain.StatusSucceeded || stored.Stage != "done" {
		t.Fatalf("job: status=%s stage=%s", stored.Status, stored.Stage)
	}
	var res ingestion.Result
	if err := json.Unmarshal(stored.Result, &res); err != nil || res.ChunkCount != 4 {
		t.Fatalf("result: %s err=%v", stored.Result, err)
	}

	var progress []float64
	for _, e := range notify.Events() {
		if e.Kind == "progress" {
			progress = append(progress, e.Progress)
		}
	}
	if len(progress) != 2 || progress[0] != 0.15 || progress[1] != 0.625 {
		t.Fatalf("progress: want=[0.15 0.625] got=%v", progress)
	}
}

func TestReprocessUsesReprocessEntryPoint(t *testing.T) {
	repo := jobstest.NewRepo()
	docID := uuid.New()
	eng := &fakeEngine{result: &ingestion.Result{DocumentID: docID, Status: docdomain.StatusReady}}
	p := NewReprocess(logger.Nop(), eng)
	jc := newJob(t, repo, p.Type(), map[string]any{"document_id": docID.String()})
	if _, err := jobrt.RunAttempt(jc, p); err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if p.Type() != "document_reprocess" || len(eng.reprocessed) != 1 || len(eng.ingested) != 0 {
		t.Fatalf("reprocess calls: type=%s ingest=%v reprocess=%v", p.Type(), eng.ingested, eng.reprocessed)
	}
}

func TestRejectedDocumentFinishesJob(t *testing.T) {
	repo := jobstest.NewRepo()
	docID := uuid.New()
	eng := &fakeEngine{result: &ingestion.Result{DocumentID: docID, Status: docdomain.StatusFailed, ErrorMessage: "no extractable text"}}
	jc := newJob(t, repo, "document_ingest", map[string]any{"document_id": docID.String()})
	outcome, err := jobrt.RunAttempt(jc, New(logger.Nop(), eng))
	if outcome != jobrt.OutcomeSucceeded || err != nil {
		t.Fatalf("outcome: want=succeeded got=%s err=%v", outcome, err)
	}
	if got := repo.Snapshot(jc.Job.ID); got.Stage != "rejected" {
		t.Fatalf("stage: want=rejected got=%s", got.Stage)
	}
}

func TestTransientErrorRetriesAndMissingDocumentFails(t *testing.T) {
	repo := jobstest.NewRepo()
	eng := &fakeEngine{err: errors.New("connection reset")}
	jc := newJob(t, repo, "document_ingest", map[string]any{"document_id": uuid.NewString()})
	if outcome, _ := jobrt.RunAttempt(jc, New(logger.Nop(), eng)); outcome != jobrt.OutcomeRetry {
		t.Fatalf("transient: want=retry got=%s", outcome)
	}

	eng = &fakeEngine{err: fmt.Errorf("load document: %w", docrepo.ErrNotFound)}
	jc = newJob(t, repo, "document_ingest", map[string]any{"document_id": uuid.NewString()})
	if outcome, _ := jobrt.RunAttempt(jc, New(logger.Nop(), eng)); outcome != jobrt.OutcomeFailed {
		t.Fatalf("missing document: want=failed got=%s", outcome)
	}
}

func TestMissingPayloadIsPermanent(t *testing.T) {
	repo := jobstest.NewRepo()
	eng := &fakeEngine{}
	jc := newJob(t, repo, "document_ingest", map[string]any{"document_id": "not-a-uuid"})
	outcome, err := jobrt.RunAttempt(jc, New(logger.Nop(), eng))
	if outcome != jobrt.OutcomeFailed || !jobrt.IsPermanent(err) {
		t.Fatalf("bad payload: outcome=%s err=%v", outcome, err)
	}
	if len(eng.ingested) != 0 {
		t.Fatalf("engine must not run for a bad payload")
	}
}
