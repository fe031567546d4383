package runtime

import (
	"math"
	"strings"
	"time"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBackoffDelay = 5 * time.Second
	MaxBackoffDelay     = time.Hour
)

// Backoff describes the wait between attempts of a job.
type Backoff struct {
	Kind  string        `json:"kind" yaml:"kind"`
	Delay time.Duration `json:"delay" yaml:"delay"`
}

func DefaultBackoff() Backoff {
	return Backoff{Kind: jobdomain.BackoffExponential, Delay: DefaultBackoffDelay}
}

// BackoffOf reads the policy stored on a job row.
func BackoffOf(job *types.JobRun) Backoff {
	if job == nil {
		return DefaultBackoff()
	}
	return Backoff{Kind: job.BackoffKind, Delay: time.Duration(job.BackoffDelayMs) * time.Millisecond}.Normalize()
}

func (b Backoff) Normalize() Backoff {
	switch strings.ToLower(strings.TrimSpace(b.Kind)) {
	case jobdomain.BackoffFixed:
		b.Kind = jobdomain.BackoffFixed
	default:
		b.Kind = jobdomain.BackoffExponential
	}
	if b.Delay <= 0 {
		b.Delay = DefaultBackoffDelay
	}
	return b
}

// Coefficient is the growth factor between consecutive delays.
func (b Backoff) Coefficient() float64 {
	if b.Normalize().Kind == jobdomain.BackoffFixed {
		return 1
	}
	return 2
}

/*
After returns the wait before the next attempt once attempt (1-based) has
failed.
  - fixed: Delay every time
  - exponential: Delay * 2^(attempt-1)

The result is capped at MaxBackoffDelay.
*/
func (b Backoff) After(attempt int) time.Duration {
	b = b.Normalize()
	if attempt < 1 {
		attempt = 1
	}
	if b.Kind == jobdomain.BackoffFixed {
		return minDuration(b.Delay, MaxBackoffDelay)
	}
	d := float64(b.Delay) * math.Pow(2, float64(attempt-1))
	if d > float64(MaxBackoffDelay) || math.IsInf(d, 0) {
		return MaxBackoffDelay
	}
	return time.Duration(d)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
