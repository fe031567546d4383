package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
)

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

/*
RunAttempt runs h once for the job held by jc and settles the row:
  - nil error: Succeed, unless the handler already finished the job
  - permanent error, or no attempts left: Fail
  - any other error: Retry after the job's backoff

A handler panic is recovered and treated like a returned error. The returned
error is the handler's error (nil on success).
*/
func RunAttempt(jc *Context, h Handler) (Outcome, error) {
	if jc == nil || jc.Job == nil {
		return OutcomeFailed, errors.New("nil job context")
	}
	if h == nil {
		err := Permanent(&missingHandlerError{JobType: jc.Job.JobType})
		jc.Fail("dispatch", err)
		return OutcomeFailed, err
	}

	runErr := safeRun(jc, h)
	if runErr == nil {
		if !jc.Job.IsTerminal() {
			jc.Succeed("done", nil)
		}
		return OutcomeSucceeded, nil
	}

	stage := jc.Job.Stage
	if stage == "" {
		stage = "run"
	}
	if jc.Job.IsTerminal() {
		return OutcomeFailed, runErr
	}
	if IsPermanent(runErr) || jc.Job.Attempts >= maxAttempts(jc.Job.MaxAttempts) {
		jc.Fail(stage, runErr)
		return OutcomeFailed, runErr
	}

	next := time.Now().Add(BackoffOf(jc.Job).After(jc.Job.Attempts))
	if errors.Is(runErr, context.Canceled) && jc.Ctx.Err() != nil {
		// shutdown interrupted the attempt; make it runnable again right away
		next = time.Now()
	}
	jc.Retry(stage, runErr, next)
	return OutcomeRetry, runErr
}

func safeRun(jc *Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{Val: r}
		}
	}()
	return h.Run(jc)
}

func maxAttempts(n int) int {
	if n < 1 {
		return DefaultMaxAttempts
	}
	return n
}
