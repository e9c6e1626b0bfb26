package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/metrics"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/server/respond"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/telemetry"
)

// Handler exposes job snapshots and the event stream.
type Handler struct {
	Repo      Repo
	Devin     devin.Client
	Extractor *devin.Extractor
	Publisher *Publisher

	// PollLimit throttles the snapshot endpoint, which clients hit in a loop.
	PollLimit gin.HandlerFunc
}

// RegisterRoutes mounts job endpoints on the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	if h.PollLimit != nil {
		rg.GET("/jobs/:id", h.PollLimit, h.Get)
	} else {
		rg.GET("/jobs/:id", h.Get)
	}
	rg.GET("/jobs/:id/stream", h.Stream)
}

// Get returns a point-in-time snapshot of a job. Live jobs are re-observed
// upstream first, so pollers see progress without holding a stream open.
func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.Repo.GetByID(ctx, c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "JOB_NOT_FOUND", "No job exists with this id.", []string{
			"Check the jobId returned when the job was created.",
			"Jobs are kept in memory; a server restart forgets them.",
		})
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job.", nil)
		return
	}
	job = h.refresh(ctx, job)
	respond.NoStore(c)
	respond.OK(c, job)
}

// refresh folds the latest upstream observation into a live job, persisting
// status moves and the first extracted result. Upstream trouble degrades to
// the stored view. A completed job without a result keeps refreshing; the
// structured result can land after the terminal status.
func (h *Handler) refresh(ctx context.Context, job Job) Job {
	if h.Devin == nil || job.SessionID == "" {
		return job
	}
	if job.Result != nil || job.Status == devin.StatusFailed || job.Status == devin.StatusCancelled {
		return job
	}
	st, err := h.Devin.GetSessionStatus(ctx, job.SessionID)
	if err != nil {
		telemetry.Warn("job.refresh_failed", map[string]any{
			"job_id":     job.ID,
			"session_id": job.SessionID,
			"error":      err.Error(),
		})
		return job
	}

	switch st.Status {
	case devin.StatusFailed, devin.StatusCancelled:
		message := st.Error
		if message == "" {
			message = fmt.Sprintf("session %s", st.Status)
		}
		if err := h.Repo.SetError(ctx, job.ID, message); err == nil {
			metrics.IncJobFailed()
			job.Status = st.Status
			job.Error = message
		}
		return job
	}

	if job.Result == nil {
		if result, ok := h.Extractor.Extract(ctx, st); ok {
			if err := h.Repo.SetResult(ctx, job.ID, result); err == nil {
				metrics.IncJobCompleted()
				job.Result = &result
				job.Status = devin.StatusCompleted
				return job
			}
		}
	}
	if st.Status != job.Status {
		if err := h.Repo.SetStatus(ctx, job.ID, st.Status); err == nil {
			job.Status = st.Status
		}
	}
	return job
}

// Stream serves the job's event stream over SSE. The 404 is decided before
// any stream bytes go out; after the first frame the response is committed.
func (h *Handler) Stream(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.Repo.GetByID(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "JOB_NOT_FOUND", "No job exists with this id.", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job.", nil)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respond.Error(c, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Response writer does not support streaming.", nil)
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncStreamOpened()
	started := time.Now()
	defer func() {
		metrics.ObserveStreamDurationMs(float64(time.Since(started).Milliseconds()))
	}()

	emit := func(ev Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.Publisher.Run(c.Request.Context(), jobID, emit); err != nil {
		telemetry.Error("stream.failed", map[string]any{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
}
