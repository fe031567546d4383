package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/envutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// Metrics is the process-wide metric set. A nil *Metrics is valid and records
// nothing, so callers never need to check whether metrics are enabled.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	jobAttempts *CounterVec
	jobDuration *HistogramVec
	queueDepth  *GaugeVec

	searchRequests *CounterVec
	searchLatency  *HistogramVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

// Init returns a Metrics when METRICS_ENABLED is set and nil otherwise.
func Init(log *logger.Logger) *Metrics {
	if !envutil.Bool("METRICS_ENABLED", false) {
		return nil
	}
	log.Info("Observability metrics enabled")
	return New()
}

func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("docr_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"docr_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("docr_api_inflight_requests", "In-flight API requests."),

		jobAttempts: NewCounterVec("docr_job_attempts_total", "Job attempts by job type and outcome.", []string{"job_type", "outcome"}),
		jobDuration: NewHistogramVec(
			"docr_job_attempt_duration_seconds",
			"Job attempt duration in seconds by job type and outcome.",
			[]string{"job_type", "outcome"},
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		),
		queueDepth: NewGaugeVec("docr_job_queue_depth", "Jobs by status.", []string{"status"}),

		searchRequests: NewCounterVec("docr_search_requests_total", "Search requests by status.", []string{"status"}),
		searchLatency: NewHistogramVec(
			"docr_search_duration_seconds",
			"Search latency in seconds by status.",
			[]string{"status"},
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),

		pgStats:   NewGaugeVec("docr_postgres_pool", "database/sql pool statistics.", []string{"stat"}),
		redisUp:   NewGauge("docr_redis_up", "1 when the last Redis ping succeeded."),
		redisPing: NewGauge("docr_redis_ping_seconds", "Latency of the last Redis ping."),
	}
}

// StartServer serves the exposition on addr until ctx is cancelled.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil || strings.TrimSpace(addr) == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err, "addr", addr)
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobAttempts, m.jobDuration, m.queueDepth,
		m.searchRequests, m.searchLatency,
		m.pgStats, m.redisUp, m.redisPing,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// ObserveAPI counts one request. A zero duration records no latency sample.
func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	if dur > 0 {
		m.apiLatency.Observe(dur.Seconds(), method, route, status)
	}
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

// ObserveJobAttempt records one finished attempt. outcome is succeeded, retry
// or failed.
func (m *Metrics) ObserveJobAttempt(jobType, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobAttempts.Inc(jobType, outcome)
	m.jobDuration.Observe(dur.Seconds(), jobType, outcome)
}

func (m *Metrics) ObserveSearch(err error, dur time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searchRequests.Inc(status)
	m.searchLatency.Observe(dur.Seconds(), status)
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// StartPostgresCollector samples pool stats and job queue depth.
func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sqlDB, err := db.DB(); err == nil {
					stats := sqlDB.Stats()
					m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
					m.pgStats.Set(float64(stats.InUse), "in_use")
					m.pgStats.Set(float64(stats.Idle), "idle")
					m.pgStats.Set(float64(stats.WaitCount), "wait_count")
					m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				} else {
					log.Warn("metrics: postgres stats unavailable", "error", err)
				}
				if err := m.collectQueueDepth(ctx, db); err != nil {
					log.Warn("metrics: job queue depth query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) collectQueueDepth(ctx context.Context, db *gorm.DB) error {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, s := range []string{jobdomain.StatusQueued, jobdomain.StatusRunning, jobdomain.StatusRetrying, jobdomain.StatusSucceeded, jobdomain.StatusFailed} {
		m.queueDepth.Set(0, s)
	}
	for _, row := range rows {
		m.queueDepth.Set(float64(row.Count), strings.TrimSpace(row.Status))
	}
	return nil
}

// StartRedisCollector pings rdb on every scrape interval.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					log.Warn("metrics: redis ping failed", "error", err)
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
