package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/metrics"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/telemetry"
)

// EventType classifies a stream event.
type EventType string

const (
	EventLog      EventType = "log"
	EventStatus   EventType = "status"
	EventResult   EventType = "result"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one frame pushed to a stream subscriber. Data is kept loosely
// typed; each event type documents its own payload shape.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher drives one job's event stream: it polls the upstream session,
// diffs the transcript, persists progress to the repo and emits events to the
// subscriber. One Run call serves exactly one subscriber; concurrent
// subscribers each get their own Run with independent cursors.
type Publisher struct {
	Repo      Repo
	Devin     devin.Client
	Extractor *devin.Extractor

	// PollInterval is the upstream poll cadence; DrainGrace bounds how long a
	// terminal session is re-polled waiting for a late result.
	PollInterval time.Duration
	DrainGrace   time.Duration
}

// streamState tracks one subscriber's position in the job's history.
type streamState struct {
	outputPos    int
	lastStatus   devin.Status
	sentResult   bool
	sentComplete bool
	draining     bool
	drainUntil   time.Time
}

// Run streams a job until completion, drain expiry or subscriber departure.
// emit returning an error means the subscriber is gone; Run stops without
// touching job state, which outlives any one stream. The returned error is
// nil for every orderly shutdown including context cancellation.
func (p *Publisher) Run(ctx context.Context, jobID string, emit func(Event) error) error {
	job, err := p.Repo.GetByID(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			emit(errorEvent("job store unavailable: " + err.Error()))
		}
		return err
	}

	state := &streamState{lastStatus: devin.StatusPending}

	// Replay persisted logs so a late subscriber sees the full history.
	for _, entry := range job.Logs {
		if err := emit(logEvent(entry.Level, entry.Message)); err != nil {
			return nil
		}
	}
	if err := p.emitStatus(state, job.Status, emit); err != nil {
		return nil
	}

	// A job can reach a terminal state before anyone subscribes.
	if done, err := p.settleTerminal(ctx, jobID, job, state, emit); done || err != nil {
		return err
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		closed, err := p.poll(ctx, jobID, state, emit)
		if closed || err != nil {
			return err
		}
	}
}

// poll performs one observation cycle. The returned bool reports that the
// stream is finished.
func (p *Publisher) poll(ctx context.Context, jobID string, state *streamState, emit func(Event) error) (bool, error) {
	job, err := p.Repo.GetByID(ctx, jobID)
	if err != nil {
		return p.closeWithError(ctx, err, emit)
	}
	if job.SessionID == "" {
		// Session creation may still be in flight; nothing to observe yet.
		return false, nil
	}

	st, err := p.Devin.GetSessionStatus(ctx, job.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return p.handlePollError(ctx, jobID, job, state, err, emit)
	}

	status := st.Status
	if st.Output == "" {
		st.Output = devin.FlattenOutput(st.Messages)
	}

	if err := p.emitNewOutput(state, st.Output, status.Terminal(), emit); err != nil {
		return true, nil
	}

	if status != state.lastStatus {
		state.lastStatus = status
		if err := p.Repo.SetStatus(ctx, jobID, status); err != nil {
			return p.closeWithError(ctx, err, emit)
		}
		if err := emit(statusEvent(status)); err != nil {
			return true, nil
		}
	}

	if !state.sentResult {
		if result, ok := p.Extractor.Extract(ctx, st); ok {
			if err := p.Repo.SetResult(ctx, jobID, result); err != nil {
				return p.closeWithError(ctx, err, emit)
			}
			metrics.IncJobCompleted()
			state.sentResult = true
			if err := emit(Event{Type: EventResult, Data: result, Timestamp: time.Now().UTC()}); err != nil {
				return true, nil
			}
		}
	}

	switch status {
	case devin.StatusFailed, devin.StatusCancelled:
		message := st.Error
		if message == "" {
			message = fmt.Sprintf("session %s", status)
		}
		if err := p.Repo.SetError(ctx, jobID, message); err != nil {
			return p.closeWithError(ctx, err, emit)
		}
		metrics.IncJobFailed()
		if err := emit(errorEvent(message)); err != nil {
			return true, nil
		}
		return true, p.complete(state, status, emit)
	case devin.StatusCompleted:
		if state.sentResult {
			return true, p.complete(state, devin.StatusCompleted, emit)
		}
		// Completed with no result yet: keep polling briefly, results can
		// land after the terminal status.
		if !state.draining {
			state.draining = true
			grace := p.DrainGrace
			if grace <= 0 {
				grace = 8 * time.Second
			}
			state.drainUntil = time.Now().Add(grace)
		}
		if time.Now().After(state.drainUntil) {
			if err := emit(logEvent(LevelWarn, "session completed without a structured result")); err != nil {
				return true, nil
			}
			return true, p.complete(state, devin.StatusCompleted, emit)
		}
		return false, nil
	default:
		return false, nil
	}
}

// closeWithError shuts the stream after a job-store failure, telling the
// subscriber why before the connection drops. A canceled context means the
// subscriber already left; that shutdown is orderly.
func (p *Publisher) closeWithError(ctx context.Context, storeErr error, emit func(Event) error) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	emit(errorEvent("job store unavailable: " + storeErr.Error()))
	return true, storeErr
}

// settleTerminal finishes the stream immediately when the job was already
// terminal before this subscriber arrived.
func (p *Publisher) settleTerminal(ctx context.Context, jobID string, job Job, state *streamState, emit func(Event) error) (bool, error) {
	if !job.Status.Terminal() {
		return false, nil
	}
	switch job.Status {
	case devin.StatusCompleted:
		if job.Result != nil {
			state.sentResult = true
			if err := emit(Event{Type: EventResult, Data: *job.Result, Timestamp: time.Now().UTC()}); err != nil {
				return true, nil
			}
		}
	case devin.StatusFailed, devin.StatusCancelled:
		message := job.Error
		if message == "" {
			message = fmt.Sprintf("job %s", job.Status)
		}
		if err := emit(errorEvent(message)); err != nil {
			return true, nil
		}
	}
	return true, p.complete(state, job.Status, emit)
}

// handlePollError keeps the stream alive through transient upstream trouble
// and fails the job only on definitive errors.
func (p *Publisher) handlePollError(ctx context.Context, jobID string, job Job, state *streamState, pollErr error, emit func(Event) error) (bool, error) {
	var rateLimited *devin.RateLimitError
	switch {
	case errors.Is(pollErr, devin.ErrSessionNotFound):
		message := "upstream session disappeared"
		if err := p.Repo.SetError(ctx, jobID, message); err != nil {
			return p.closeWithError(ctx, err, emit)
		}
		if err := emit(errorEvent(message)); err != nil {
			return true, nil
		}
		return true, p.complete(state, devin.StatusFailed, emit)
	case errors.As(pollErr, &rateLimited), errors.Is(pollErr, devin.ErrTimeout), errors.Is(pollErr, devin.ErrUnavailable):
		telemetry.Warn("stream.poll_retry", map[string]any{
			"job_id":     jobID,
			"session_id": job.SessionID,
			"error":      pollErr.Error(),
		})
		if err := emit(logEvent(LevelWarn, "upstream poll failed, retrying: "+pollErr.Error())); err != nil {
			return true, nil
		}
		return false, nil
	default:
		telemetry.Warn("stream.poll_error", map[string]any{
			"job_id":     jobID,
			"session_id": job.SessionID,
			"error":      pollErr.Error(),
		})
		if err := emit(logEvent(LevelWarn, "upstream poll failed, retrying: "+pollErr.Error())); err != nil {
			return true, nil
		}
		return false, nil
	}
}

// emitNewOutput diffs the flattened transcript against the subscriber's byte
// cursor and emits each complete new line. A trailing partial line is held
// back until its newline arrives, unless the session is terminal and nothing
// more will come. Transcript lines are stream-local: each subscriber diffs
// from byte zero, so the repo log is never polluted with duplicates.
func (p *Publisher) emitNewOutput(state *streamState, output string, terminal bool, emit func(Event) error) error {
	if state.outputPos > len(output) {
		// Shrinking output breaks the append-only assumption; reset rather
		// than emit garbage offsets.
		state.outputPos = 0
	}
	fresh := output[state.outputPos:]
	if fresh == "" {
		return nil
	}

	consumed := len(fresh)
	if !terminal {
		last := strings.LastIndexByte(fresh, '\n')
		if last < 0 {
			return nil
		}
		consumed = last + 1
		fresh = fresh[:consumed]
	}

	for _, line := range strings.Split(strings.TrimRight(fresh, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := emit(logEvent(LevelInfo, line)); err != nil {
			return err
		}
	}
	state.outputPos += consumed
	return nil
}

func (p *Publisher) emitStatus(state *streamState, status devin.Status, emit func(Event) error) error {
	if status == state.lastStatus {
		return nil
	}
	state.lastStatus = status
	return emit(statusEvent(status))
}

// complete emits the final frame exactly once.
func (p *Publisher) complete(state *streamState, status devin.Status, emit func(Event) error) error {
	if state.sentComplete {
		return nil
	}
	state.sentComplete = true
	emit(Event{
		Type:      EventComplete,
		Data:      map[string]any{"status": status},
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func logEvent(level LogLevel, message string) Event {
	return Event{
		Type:      EventLog,
		Data:      map[string]any{"level": level, "message": message},
		Timestamp: time.Now().UTC(),
	}
}

func statusEvent(status devin.Status) Event {
	return Event{
		Type:      EventStatus,
		Data:      map[string]any{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

func errorEvent(message string) Event {
	return Event{
		Type:      EventError,
		Data:      map[string]any{"message": message},
		Timestamp: time.Now().UTC(),
	}
}
