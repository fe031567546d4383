package jobrun

const (
	WorkflowName    = "job_run"
	ActivityAttempt = "job_run_attempt"

	// ErrTypePermanent marks activity failures Temporal must not retry.
	ErrTypePermanent = "JobPermanentFailure"
	ErrTypeAttempt   = "JobAttemptFailed"
)

type AttemptResult struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Stage    string  `json:"stage,omitempty"`
	Progress float64 `json:"progress"`
	Attempt  int     `json:"attempt"`
}
