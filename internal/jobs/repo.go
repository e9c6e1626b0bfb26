package jobs

import (
	"context"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
)

// Repo defines the shared job registry. All operations are atomic with
// respect to concurrent readers: a snapshot from GetByID never shows a status
// change without the log append that accompanied it.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	// AttachSession records the upstream session handle; idempotent.
	AttachSession(ctx context.Context, jobID, sessionID string) error
	SetStatus(ctx context.Context, jobID string, status devin.Status) error
	AppendLog(ctx context.Context, jobID string, level LogLevel, message string) error
	// SetResult stores the result and forces status to completed. A result
	// already present is never overwritten.
	SetResult(ctx context.Context, jobID string, result devin.Result) error
	// SetError stores the error and forces status to failed.
	SetError(ctx context.Context, jobID, message string) error
}
