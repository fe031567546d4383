package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/docretrieval-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
)

func ptrUUID(v uuid.UUID) *uuid.UUID { return &v }
func ptrTime(v time.Time) *time.Time { return &v }

func newJob(queue, status string, created time.Time) *types.JobRun {
	return &types.JobRun{
		ID:          uuid.New(),
		Queue:       queue,
		JobType:     "test_job",
		EntityType:  "document",
		EntityID:    ptrUUID(uuid.New()),
		Status:      status,
		MaxAttempts: 3,
		BackoffKind: jobdomain.BackoffExponential,
		Payload:     datatypes.JSON([]byte("{}")),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestJobRunRepoClaimOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	// Use a queue name unique to this test so rows from other tests never match.
	queue := "test-" + uuid.NewString()
	now := time.Now().UTC()

	queued := newJob(queue, jobdomain.StatusQueued, now.Add(-3*time.Hour))
	notYet := newJob(queue, jobdomain.StatusRetrying, now.Add(-4*time.Hour))
	notYet.NextRunAt = ptrTime(now.Add(time.Hour))
	staleRunning := newJob(queue, jobdomain.StatusRunning, now.Add(-2*time.Hour))
	staleRunning.Attempts = 1
	staleRunning.HeartbeatAt = ptrTime(now.Add(-10 * time.Hour))
	exhausted := newJob(queue, jobdomain.StatusRunning, now.Add(-5*time.Hour))
	exhausted.Attempts = 3
	exhausted.HeartbeatAt = ptrTime(now.Add(-10 * time.Hour))

	if _, err := repo.Create(dbc, []*types.JobRun{queued, notYet, staleRunning, exhausted}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := repo.ClaimNextRunnable(dbc, []string{queue}, time.Minute)
	if err != nil || first == nil {
		t.Fatalf("ClaimNextRunnable: job=%v err=%v", first, err)
	}
	if first.ID != queued.ID || first.Attempts != 1 || first.Status != jobdomain.StatusRunning {
		t.Fatalf("first claim: want queued job attempt 1 got id=%s attempts=%d", first.ID, first.Attempts)
	}

	second, err := repo.ClaimNextRunnable(dbc, []string{queue}, time.Minute)
	if err != nil || second == nil || second.ID != staleRunning.ID || second.Attempts != 2 {
		t.Fatalf("second claim: want stale running job got=%v err=%v", second, err)
	}

	third, err := repo.ClaimNextRunnable(dbc, []string{queue}, time.Minute)
	if err != nil || third != nil {
		t.Fatalf("third claim: want nil got=%v err=%v", third, err)
	}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, first.ID, []string{jobdomain.StatusSucceeded}, map[string]interface{}{"status": jobdomain.StatusSucceeded})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus: ok=%v err=%v", ok, err)
	}
	ok, _ = repo.UpdateFieldsUnlessStatus(dbc, first.ID, []string{jobdomain.StatusSucceeded}, map[string]interface{}{"progress": 0.5})
	if ok {
		t.Fatalf("UpdateFieldsUnlessStatus on terminal job: want no-op")
	}

	failed, err := repo.FailExhaustedStale(dbc, time.Minute)
	if err != nil || failed < 1 {
		t.Fatalf("FailExhaustedStale: n=%d err=%v", failed, err)
	}
	if got, _ := repo.GetByID(dbc, exhausted.ID); got.Status != jobdomain.StatusFailed {
		t.Fatalf("exhausted job: want failed got=%s", got.Status)
	}

	active, err := repo.GetActiveForEntity(dbc, "document", *staleRunning.EntityID, "test_job")
	if err != nil || active == nil || active.ID != staleRunning.ID {
		t.Fatalf("GetActiveForEntity: got=%v err=%v", active, err)
	}
	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("GetByID unknown: want ErrJobNotFound got=%v", err)
	}
}

func TestJobRunEventRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunEventRepo(db, testutil.Logger(t))

	jobID := uuid.New()
	now := time.Now().UTC()
	err := repo.Create(dbc, []*types.JobRunEvent{
		{ID: uuid.New(), JobID: jobID, JobType: "t", Kind: string(jobdomain.JobEventProgress), Status: "running", Progress: 0.5, CreatedAt: now},
		{ID: uuid.New(), JobID: jobID, JobType: "t", Kind: string(jobdomain.JobEventCreated), Status: "queued", CreatedAt: now.Add(-time.Minute)},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	events, err := repo.ListByJobID(dbc, jobID, 0)
	if err != nil || len(events) != 2 {
		t.Fatalf("ListByJobID: len=%d err=%v", len(events), err)
	}
	if events[0].Kind != string(jobdomain.JobEventCreated) {
		t.Fatalf("ListByJobID order: want created first got=%s", events[0].Kind)
	}
}
