package sessions

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
	"github.com/Nadosaurusrex/devin-proj/internal/jobs"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/metrics"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/server/respond"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/telemetry"
)

// Handler exposes session creation and the stateless snapshot endpoint.
type Handler struct {
	Devin     devin.Client
	Extractor *devin.Extractor
	Repo      jobs.Repo

	// PollLimit throttles the snapshot endpoint, which clients hit in a loop.
	PollLimit gin.HandlerFunc
}

// RegisterRoutes mounts session endpoints on the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyze", h.Analyze)
	rg.POST("/remove", h.Remove)
	if h.PollLimit != nil {
		rg.GET("/sessions/:id", h.PollLimit, h.GetSession)
	} else {
		rg.GET("/sessions/:id", h.GetSession)
	}
}

type analyzeRequest struct {
	Owner      string   `json:"owner"`
	Repo       string   `json:"repo"`
	Branch     string   `json:"branch"`
	Flags      []string `json:"flags"`
	WorkingDir string   `json:"workingDir"`
	Patterns   []string `json:"patterns"`
	Track      bool     `json:"track"`
}

type removeRequest struct {
	Owner          string   `json:"owner"`
	Repo           string   `json:"repo"`
	Branch         string   `json:"branch"`
	Flags          []string `json:"flags"`
	TargetBehavior string   `json:"targetBehavior"`
	RegistryFiles  []string `json:"registryFiles"`
	TestCommand    string   `json:"testCommand"`
	BuildCommand   string   `json:"buildCommand"`
	WorkingDir     string   `json:"workingDir"`
	Track          bool     `json:"track"`
}

type sessionCreatedResponse struct {
	SessionID string `json:"sessionId"`
	PollURL   string `json:"pollUrl"`
	Mode      string `json:"mode"`
}

type jobCreatedResponse struct {
	JobID     string `json:"jobId"`
	StreamURL string `json:"streamUrl"`
	Mode      string `json:"mode"`
}

// Analyze starts an analyze-only session, optionally wrapped in a tracked job.
func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON.", nil)
		return
	}
	params := devin.AnalyzeParams{
		Owner:      req.Owner,
		Repo:       req.Repo,
		Branch:     req.Branch,
		Flags:      req.Flags,
		WorkingDir: req.WorkingDir,
		Patterns:   req.Patterns,
	}
	if err := params.Validate(); err != nil {
		respond.Error(c, http.StatusBadRequest, "MISSING_PARAMETERS", err.Error(), []string{
			"Required fields: owner, repo, branch, flags (non-empty array).",
			`Example: {"owner":"acme","repo":"webapp","branch":"main","flags":["new_checkout"]}`,
		})
		return
	}

	sessionID, err := h.Devin.CreateAnalyzeSession(c.Request.Context(), params)
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	metrics.IncSessionCreated()
	telemetry.Info("session.created", map[string]any{
		"session_id": sessionID,
		"mode":       "analyze",
		"owner":      req.Owner,
		"repo":       req.Repo,
		"tracked":    req.Track,
	})

	if !req.Track {
		respond.JSON(c, http.StatusCreated, sessionCreatedResponse{
			SessionID: sessionID,
			PollURL:   "/api/v1/sessions/" + sessionID,
			Mode:      "analyze",
		})
		return
	}
	h.createTrackedJob(c, jobs.TypeAnalyze, sessionID, jobs.Metadata{
		Owner:  req.Owner,
		Repo:   req.Repo,
		Branch: req.Branch,
		Flags:  req.Flags,
	})
}

// Remove starts a flag-removal session, optionally wrapped in a tracked job.
func (h *Handler) Remove(c *gin.Context) {
	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON.", nil)
		return
	}
	params := devin.RemoveParams{
		Owner:          req.Owner,
		Repo:           req.Repo,
		Branch:         req.Branch,
		Flags:          req.Flags,
		TargetBehavior: req.TargetBehavior,
		RegistryFiles:  req.RegistryFiles,
		TestCommand:    req.TestCommand,
		BuildCommand:   req.BuildCommand,
		WorkingDir:     req.WorkingDir,
	}
	if err := params.Validate(); err != nil {
		respond.Error(c, http.StatusBadRequest, "MISSING_PARAMETERS", err.Error(), []string{
			"Required fields: owner, repo, branch, flags, targetBehavior (\"on\" or \"off\"), registryFiles.",
			`Example: {"owner":"acme","repo":"webapp","branch":"main","flags":["new_checkout"],"targetBehavior":"on","registryFiles":["config/flags.yaml"]}`,
		})
		return
	}

	sessionID, err := h.Devin.CreateRemoveSession(c.Request.Context(), params)
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	metrics.IncSessionCreated()
	telemetry.Info("session.created", map[string]any{
		"session_id": sessionID,
		"mode":       "remove",
		"owner":      req.Owner,
		"repo":       req.Repo,
		"tracked":    req.Track,
	})

	if !req.Track {
		respond.JSON(c, http.StatusCreated, sessionCreatedResponse{
			SessionID: sessionID,
			PollURL:   "/api/v1/sessions/" + sessionID,
			Mode:      "remove",
		})
		return
	}
	h.createTrackedJob(c, jobs.TypeRemove, sessionID, jobs.Metadata{
		Owner:  req.Owner,
		Repo:   req.Repo,
		Branch: req.Branch,
		Flags:  req.Flags,
	})
}

func (h *Handler) createTrackedJob(c *gin.Context, jobType jobs.Type, sessionID string, metadata jobs.Metadata) {
	ctx := c.Request.Context()
	job := jobs.New(jobType, metadata)
	job.Status = devin.StatusRunning
	if err := h.Repo.Create(ctx, job); err != nil {
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create tracking job.", nil)
		return
	}
	if err := h.Repo.AttachSession(ctx, job.ID, sessionID); err != nil {
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to attach session to job.", nil)
		return
	}
	seed := fmt.Sprintf("Session %s created for %s/%s", sessionID, metadata.Owner, metadata.Repo)
	if err := h.Repo.AppendLog(ctx, job.ID, jobs.LevelInfo, seed); err != nil {
		telemetry.Warn("job.seed_log_failed", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
	metrics.IncJobCreated()
	respond.JSON(c, http.StatusCreated, jobCreatedResponse{
		JobID:     job.ID,
		StreamURL: "/api/v1/jobs/" + job.ID + "/stream",
		Mode:      string(jobType),
	})
}

type sessionSnapshotResponse struct {
	SessionID string          `json:"sessionId"`
	Status    devin.Status    `json:"status"`
	Output    string          `json:"output"`
	Result    *devin.Result   `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Messages  []devin.Message `json:"messages"`
}

// GetSession returns a point-in-time view of an upstream session. The server
// keeps no state for untracked sessions; every call re-observes upstream.
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.Devin.GetSessionStatus(ctx, c.Param("id"))
	if err != nil {
		h.upstreamError(c, err)
		return
	}
	if st.Output == "" {
		st.Output = devin.FlattenOutput(st.Messages)
	}

	snapshot := sessionSnapshotResponse{
		SessionID: st.SessionID,
		Status:    st.Status,
		Output:    st.Output,
		Error:     st.Error,
		Messages:  st.Messages,
	}
	if result, ok := h.Extractor.Extract(ctx, st); ok {
		snapshot.Result = &result
	}

	respond.NoStore(c)
	respond.OK(c, snapshot)
}

// upstreamError maps agent-client failures onto the error taxonomy.
func (h *Handler) upstreamError(c *gin.Context, err error) {
	var rateLimited *devin.RateLimitError
	switch {
	case errors.Is(err, devin.ErrInvalidRequest):
		respond.Error(c, http.StatusBadRequest, "MISSING_PARAMETERS", err.Error(), nil)
	case errors.Is(err, devin.ErrSessionNotFound):
		respond.Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No session exists with this id.", []string{
			"Check the sessionId returned when the session was created.",
		})
	case errors.As(err, &rateLimited):
		c.Header("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		respond.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "The agent API is rate limiting requests.", []string{
			"Wait for the Retry-After interval before retrying.",
		})
	case errors.Is(err, devin.ErrTimeout):
		respond.Error(c, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "The agent API did not respond in time.", nil)
	case errors.Is(err, devin.ErrUnavailable):
		respond.Error(c, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "The agent API is unavailable.", []string{
			"Retry shortly; the upstream outage is usually transient.",
		})
	default:
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected failure talking to the agent API.", nil)
	}
}
