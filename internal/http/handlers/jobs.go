package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/http/response"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/realtime/bus"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

const (
	replayLimit        = 500
	sseHeartbeatPeriod = 15 * time.Second
)

type JobHandler struct {
	log       *logger.Logger
	jobs      services.JobService
	bus       bus.Bus
	heartbeat time.Duration
}

func NewJobHandler(log *logger.Logger, jobs services.JobService, b bus.Bus) *JobHandler {
	return &JobHandler{
		log:       log.With("handler", "JobHandler"),
		jobs:      jobs,
		bus:       b,
		heartbeat: sseHeartbeatPeriod,
	}
}

// GET /api/jobs/:queue/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	st, err := h.jobs.GetJobState(dbctx.Context{Ctx: c.Request.Context()}, c.Param("queue"), jobID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, st)
}

type sseFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// GET /api/jobs/:queue/:id/events
//
// Streams the job's lifecycle as server-sent events. Recorded events are
// replayed first; the stream ends after job_done or job_failed. An event
// published while the replay runs may be delivered twice.
func (h *JobHandler) Events(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	dbc := dbctx.Context{Ctx: ctx}
	queue := c.Param("queue")
	if _, err := h.jobs.GetJobState(dbc, queue, jobID); err != nil {
		response.RespondErr(c, err)
		return
	}

	var live <-chan bus.Message
	if h.bus != nil {
		ch, unsub, err := h.bus.Subscribe(ctx, services.JobChannel(jobID))
		if err != nil {
			response.RespondErr(c, fmt.Errorf("subscribe job events: %w", err))
			return
		}
		defer unsub()
		live = ch
	}
	history, err := h.jobs.ListEvents(dbc, queue, jobID, replayLimit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range history {
		name := services.EventForKind(ev.Kind)
		h.write(c, name, json.RawMessage(ev.Data))
		if isTerminalEvent(name) {
			return
		}
	}
	w.Flush()

	// The job may have finished before we subscribed without a recorded
	// terminal event; close the stream with its final state.
	if st, err := h.jobs.GetJobState(dbc, queue, jobID); err == nil {
		switch st.State {
		case jobdomain.StatusSucceeded:
			h.writeState(c, services.EventJobDone, st)
			return
		case jobdomain.StatusFailed:
			h.writeState(c, services.EventJobFailed, st)
			return
		}
	}
	if live == nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			w.Flush()
		case msg, open := <-live:
			if !open {
				return
			}
			h.write(c, msg.Event, msg.Data)
			if isTerminalEvent(msg.Event) {
				return
			}
		}
	}
}

func (h *JobHandler) write(c *gin.Context, event string, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	raw, err := json.Marshal(sseFrame{Event: event, Data: data})
	if err != nil {
		h.log.Warn("Failed to marshal SSE frame", "event", event, "error", err)
		return
	}
	_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, raw)
	c.Writer.Flush()
}

func (h *JobHandler) writeState(c *gin.Context, event string, st *services.JobState) {
	raw, err := json.Marshal(gin.H{"job_id": st.ID, "job_type": st.JobType, "job": st})
	if err != nil {
		h.log.Warn("Failed to marshal job state", "job_id", st.ID, "error", err)
		return
	}
	h.write(c, event, raw)
}

func isTerminalEvent(event string) bool {
	return event == services.EventJobDone || event == services.EventJobFailed
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, false
	}
	return id, true
}
