package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
)

// Type discriminates what a job asked the agent to do.
type Type string

const (
	TypeAnalyze Type = "analyze"
	TypeRemove  Type = "remove"
)

// LogLevel classifies a job log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelDebug LogLevel = "debug"
)

// LogEntry is one line in a job's log. Entries derived from the agent
// transcript carry observed-at timestamps, not upstream times.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Metadata records what repository and flags a job targets.
type Metadata struct {
	Owner  string   `json:"owner"`
	Repo   string   `json:"repo"`
	Branch string   `json:"branch"`
	Flags  []string `json:"flags"`
}

// Job is this system's own tracking record for one logical task, independent
// of the agent's bookkeeping. It references at most one session handle.
type Job struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	Status    devin.Status  `json:"status"`
	SessionID string        `json:"sessionId,omitempty"`
	Logs      []LogEntry    `json:"logs"`
	Result    *devin.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Metadata  Metadata      `json:"metadata"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// New builds a pending job with a fresh id and empty logs.
func New(jobType Type, metadata Metadata) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    devin.StatusPending,
		Logs:      []LogEntry{},
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
