package worker

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/jobs/runtime"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/envutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

type Config struct {
	Queues            []string      `yaml:"queues"`
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	StaleRunning      time.Duration `yaml:"stale_running"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
}

func DefaultConfig() Config {
	return Config{
		Queues:            []string{"documents"},
		Concurrency:       4,
		PollInterval:      time.Second,
		StaleRunning:      5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		ReapInterval:      time.Minute,
	}
}

// ConfigFromEnv overlays WORKER_* variables on base.
func ConfigFromEnv(base Config) Config {
	cfg := base
	if qs := envutil.List("WORKER_QUEUES"); len(qs) > 0 {
		cfg.Queues = qs
	}
	cfg.Concurrency = envutil.Int("WORKER_CONCURRENCY", cfg.Concurrency)
	cfg.PollInterval = envutil.Duration("WORKER_POLL_INTERVAL", cfg.PollInterval)
	cfg.StaleRunning = envutil.Duration("WORKER_STALE_RUNNING", cfg.StaleRunning)
	cfg.HeartbeatInterval = envutil.Duration("WORKER_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	return cfg
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = d.StaleRunning
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.StaleRunning {
		c.HeartbeatInterval = c.StaleRunning / 3
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	return c
}

// Worker polls job_run for runnable jobs and executes them with the handler
// registered for their job type.
type Worker struct {
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	metrics  *observability.Metrics
	cfg      Config
	wg       sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, cfg Config) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		cfg:      cfg.normalized(),
	}
}

// WithMetrics records attempt outcomes on m.
func (w *Worker) WithMetrics(m *observability.Metrics) *Worker {
	w.metrics = m
	return w
}

// Start launches the poll loops and the stale-job reaper. They stop when ctx
// is cancelled; Wait blocks until they have.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool",
		"concurrency", w.cfg.Concurrency,
		"queues", w.cfg.Queues,
		"job_types", w.registry.Types(),
	)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.reapLoop(ctx)
	}()
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// drain the queue before waiting for the next tick
			for ctx.Err() == nil {
				ran, err := w.ProcessNext(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				}
				if !ran {
					break
				}
			}
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.FailExhaustedStale(dbctx.Context{Ctx: ctx}, w.cfg.StaleRunning)
			if err != nil {
				w.log.Warn("FailExhaustedStale failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Warn("Failed stale jobs on their final attempt", "count", n)
			}
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.Queues, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
	}

	jc := runtime.NewContext(ctx, job, w.repo, w.notify)
	stopHeartbeat := w.heartbeat(ctx, job)
	started := time.Now()
	outcome, runErr := runtime.RunAttempt(jc, h)
	stopHeartbeat()
	w.metrics.ObserveJobAttempt(job.JobType, string(outcome), time.Since(started))

	switch outcome {
	case runtime.OutcomeSucceeded:
		log.Info("Job succeeded", "duration_ms", time.Since(started).Milliseconds())
	case runtime.OutcomeRetry:
		log.Warn("Job attempt failed; will retry", "error", runErr, "next_run_at", jc.Job.NextRunAt)
	default:
		log.Error("Job failed", "error", runErr, "stage", jc.Job.Stage)
	}
	return true, nil
}

func (w *Worker) heartbeat(ctx context.Context, job *types.JobRun) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.repo.Heartbeat(dbctx.Context{Ctx: hbCtx}, job.ID); err != nil {
					w.log.Warn("Job heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
