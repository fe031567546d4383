package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/jobs/jobstest"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
)

type funcHandler struct {
	typ string
	run func(*Context) error
}

func (h funcHandler) Type() string           { return h.typ }
func (h funcHandler) Run(jc *Context) error { return h.run(jc) }

func claim(t *testing.T, repo *jobstest.Repo, job *types.JobRun) *types.JobRun {
	t.Helper()
	repo.Put(job)
	claimed, err := repo.ClaimNextRunnable(dbctx.Context{Ctx: context.Background()}, nil, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}
	return claimed
}

func TestRunAttemptSucceeds(t *testing.T) {
	repo := jobstest.NewRepo()
	notify := &jobstest.Notifier{}
	job := claim(t, repo, &types.JobRun{Queue: "documents", JobType: "noop"})

	jc := NewContext(context.Background(), job, repo, notify)
	outcome, err := RunAttempt(jc, funcHandler{typ: "noop", run: func(jc *Context) error {
		jc.Progress("work", 0.5, "halfway")
		return nil
	}})
	if outcome != OutcomeSucceeded || err != nil {
		t.Fatalf("outcome: want=succeeded got=%s err=%v", outcome, err)
	}
	stored := repo.Snapshot(job.ID)
	if stored.Status != jobdomain.StatusSucceeded || stored.Progress != 1 || stored.FinishedAt == nil {
		t.Fatalf("stored job: %+v", stored)
	}
	if got := strings.Join(notify.Kinds(), ","); got != "progress,done" {
		t.Fatalf("events: want=progress,done got=%s", got)
	}
}

func TestRunAttemptRetriesWithBackoff(t *testing.T) {
	repo := jobstest.NewRepo()
	job := claim(t, repo, &types.JobRun{
		Queue: "documents", JobType: "flaky", MaxAttempts: 3,
		BackoffKind: jobdomain.BackoffExponential, BackoffDelayMs: 5000,
	})
	before := time.Now()
	outcome, err := RunAttempt(NewContext(context.Background(), job, repo, nil), funcHandler{typ: "flaky", run: func(*Context) error {
		return errors.New("temporarily unavailable")
	}})
	if outcome != OutcomeRetry || err == nil {
		t.Fatalf("outcome: want=retry got=%s err=%v", outcome, err)
	}
	stored := repo.Snapshot(job.ID)
	if stored.Status != jobdomain.StatusRetrying || stored.Error != "temporarily unavailable" {
		t.Fatalf("stored job: status=%s error=%q", stored.Status, stored.Error)
	}
	if stored.NextRunAt == nil || stored.NextRunAt.Before(before.Add(5*time.Second)) {
		t.Fatalf("next_run_at: want>=now+5s got=%v", stored.NextRunAt)
	}
}

func TestRunAttemptFailsWhenExhaustedOrPermanent(t *testing.T) {
	repo := jobstest.NewRepo()
	notify := &jobstest.Notifier{}

	last := claim(t, repo, &types.JobRun{Queue: "documents", JobType: "flaky", MaxAttempts: 1})
	outcome, _ := RunAttempt(NewContext(context.Background(), last, repo, notify), funcHandler{typ: "flaky", run: func(*Context) error {
		return errors.New("still down")
	}})
	if outcome != OutcomeFailed || repo.Snapshot(last.ID).Status != jobdomain.StatusFailed {
		t.Fatalf("exhausted: outcome=%s status=%s", outcome, repo.Snapshot(last.ID).Status)
	}

	perm := claim(t, repo, &types.JobRun{Queue: "documents", JobType: "bad", MaxAttempts: 5})
	outcome, _ = RunAttempt(NewContext(context.Background(), perm, repo, notify), funcHandler{typ: "bad", run: func(*Context) error {
		return Permanent(errors.New("document not found"))
	}})
	if outcome != OutcomeFailed {
		t.Fatalf("permanent: want=failed got=%s", outcome)
	}
	if got := repo.Snapshot(perm.ID); got.Status != jobdomain.StatusFailed || got.Attempts != 1 {
		t.Fatalf("permanent stored: status=%s attempts=%d", got.Status, got.Attempts)
	}
}

func TestRunAttemptRecoversPanicAndMissingHandler(t *testing.T) {
	repo := jobstest.NewRepo()
	job := claim(t, repo, &types.JobRun{Queue: "documents", JobType: "boom", MaxAttempts: 1})
	outcome, err := RunAttempt(NewContext(context.Background(), job, repo, nil), funcHandler{typ: "boom", run: func(*Context) error {
		panic("nil map")
	}})
	if outcome != OutcomeFailed || err == nil || !strings.Contains(err.Error(), "nil map") {
		t.Fatalf("panic: outcome=%s err=%v", outcome, err)
	}

	orphan := claim(t, repo, &types.JobRun{Queue: "documents", JobType: "unknown", MaxAttempts: 3})
	outcome, err = RunAttempt(NewContext(context.Background(), orphan, repo, nil), nil)
	if outcome != OutcomeFailed || !IsPermanent(err) {
		t.Fatalf("missing handler: outcome=%s err=%v", outcome, err)
	}
	if got := repo.Snapshot(orphan.ID); got.Stage != "dispatch" {
		t.Fatalf("missing handler stage: want=dispatch got=%s", got.Stage)
	}
}

func TestTerminalJobIsNotOverwritten(t *testing.T) {
	repo := jobstest.NewRepo()
	job := claim(t, repo, &types.JobRun{Queue: "documents", JobType: "x"})
	jc := NewContext(context.Background(), job, repo, nil)
	jc.Succeed("done", nil)
	jc.Fail("late", errors.New("too late"))
	jc.Progress("late", 0.1, "")
	if got := repo.Snapshot(job.ID); got.Status != jobdomain.StatusSucceeded || got.Stage != "done" {
		t.Fatalf("terminal overwritten: status=%s stage=%s", got.Status, got.Stage)
	}
}
