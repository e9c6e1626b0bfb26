package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use. Jobs live
// for the process lifetime; nothing is ever deleted.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Job
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Job)}
}

// Create stores the job.
func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[job.ID] = job
	return nil
}

// GetByID returns a snapshot of a job. The logs slice is copied so callers
// cannot corrupt internal state.
func (r *MemoryRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	job.Logs = append([]LogEntry(nil), job.Logs...)
	return job, nil
}

// AttachSession records the upstream session handle.
func (r *MemoryRepo) AttachSession(ctx context.Context, jobID, sessionID string) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.SessionID = sessionID
	})
}

// SetStatus overwrites the job status. Transition legality is the caller's
// responsibility.
func (r *MemoryRepo) SetStatus(ctx context.Context, jobID string, status devin.Status) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.Status = status
	})
}

// AppendLog appends one log entry with a freshly generated timestamp.
func (r *MemoryRepo) AppendLog(ctx context.Context, jobID string, level LogLevel, message string) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.Logs = append(job.Logs, LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     level,
			Message:   message,
		})
	})
}

// SetResult stores the result and forces status to completed; a result
// already present wins.
func (r *MemoryRepo) SetResult(ctx context.Context, jobID string, result devin.Result) error {
	return r.update(ctx, jobID, func(job *Job) {
		if job.Result != nil {
			return
		}
		job.Result = &result
		job.Status = devin.StatusCompleted
	})
}

// SetError stores the error message and forces status to failed.
func (r *MemoryRepo) SetError(ctx context.Context, jobID, message string) error {
	return r.update(ctx, jobID, func(job *Job) {
		job.Error = message
		job.Status = devin.StatusFailed
	})
}

func (r *MemoryRepo) update(ctx context.Context, jobID string, mutate func(*Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
