package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
)

// scriptedClient replays a fixed sequence of observations; the final step
// repeats forever. Steps with err set fail that poll.
type scriptedClient struct {
	mu    sync.Mutex
	steps []scriptedStep
	idx   int
}

type scriptedStep struct {
	st  devin.SessionStatus
	err error
}

func (c *scriptedClient) CreateAnalyzeSession(ctx context.Context, params devin.AnalyzeParams) (string, error) {
	return "scripted", nil
}

func (c *scriptedClient) CreateRemoveSession(ctx context.Context, params devin.RemoveParams) (string, error) {
	return "scripted", nil
}

func (c *scriptedClient) GetSessionStatus(ctx context.Context, sessionID string) (devin.SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.steps[c.idx]
	if c.idx < len(c.steps)-1 {
		c.idx++
	}
	if step.err != nil {
		return devin.SessionStatus{}, step.err
	}
	st := step.st
	st.SessionID = sessionID
	return st, nil
}

func newTestPublisher(client devin.Client, repo Repo) *Publisher {
	return &Publisher{
		Repo:         repo,
		Devin:        client,
		Extractor:    devin.NewExtractor(),
		PollInterval: 2 * time.Millisecond,
		DrainGrace:   30 * time.Millisecond,
	}
}

func newRunningJob(t *testing.T, repo Repo, sessionID string) Job {
	t.Helper()
	job := New(TypeAnalyze, Metadata{Owner: "acme", Repo: "webapp", Branch: "main", Flags: []string{"x"}})
	job.SessionID = sessionID
	job.Status = devin.StatusRunning
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func collectEvents(t *testing.T, p *Publisher, jobID string, timeout time.Duration) []Event {
	t.Helper()
	var (
		mu     sync.Mutex
		events []Event
	)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := p.Run(ctx, jobID, func(ev Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("publisher run: %v", err)
	}
	return events
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func logMessages(events []Event) []string {
	var out []string
	for _, ev := range eventsOfType(events, EventLog) {
		data, ok := ev.Data.(map[string]any)
		if !ok {
			continue
		}
		msg, _ := data["message"].(string)
		out = append(out, msg)
	}
	return out
}

func TestPublisherHappyPath(t *testing.T) {
	resultJSON := `{"flags": [], "summary": {"total_flags": 0, "total_references": 0, "estimated_effort_hours": 0}}`
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusRunning, Output: "scanning repo\nfound 3 files\npartial"}},
		{st: devin.SessionStatus{Status: devin.StatusRunning, Output: "scanning repo\nfound 3 files\npartial line done"}},
		{st: devin.SessionStatus{
			Status:     devin.StatusCompleted,
			Output:     "scanning repo\nfound 3 files\npartial line done\nall done",
			Structured: json.RawMessage(resultJSON),
		}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-happy")

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)

	if n := len(eventsOfType(events, EventResult)); n != 1 {
		t.Fatalf("result events = %d, want exactly 1", n)
	}
	if n := len(eventsOfType(events, EventComplete)); n != 1 {
		t.Fatalf("complete events = %d, want exactly 1", n)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatalf("last event = %q, want complete", events[len(events)-1].Type)
	}

	msgs := logMessages(events)
	want := []string{"scanning repo", "found 3 files", "partial line done", "all done"}
	if len(msgs) != len(want) {
		t.Fatalf("log messages = %v, want %v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("log %d = %q, want %q", i, msgs[i], want[i])
		}
	}

	stored, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != devin.StatusCompleted || stored.Result == nil {
		t.Fatalf("job not completed with result: status=%q", stored.Status)
	}
}

func TestPublisherHoldsBackPartialLines(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusRunning, Output: "complete line\nhalf a"}},
		{st: devin.SessionStatus{Status: devin.StatusFailed, Output: "complete line\nhalf a sentence", Error: "boom"}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-partial")

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)
	msgs := logMessages(events)

	for _, m := range msgs {
		if m == "half a" {
			t.Fatalf("partial line emitted before completion: %v", msgs)
		}
	}
	var sawFull bool
	for _, m := range msgs {
		if m == "half a sentence" {
			sawFull = true
		}
	}
	if !sawFull {
		t.Fatalf("held-back line never flushed at terminal status: %v", msgs)
	}
}

func TestPublisherFailedSession(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusFailed, Error: "vm crashed"}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-fail")

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)

	errorEvents := eventsOfType(events, EventError)
	if len(errorEvents) != 1 {
		t.Fatalf("error events = %d, want 1", len(errorEvents))
	}
	data := errorEvents[0].Data.(map[string]any)
	if data["message"] != "vm crashed" {
		t.Fatalf("error message = %v", data["message"])
	}
	if n := len(eventsOfType(events, EventComplete)); n != 1 {
		t.Fatalf("complete events = %d, want 1", n)
	}
	if n := len(eventsOfType(events, EventResult)); n != 0 {
		t.Fatalf("result events = %d, want 0", n)
	}

	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != devin.StatusFailed || stored.Error != "vm crashed" {
		t.Fatalf("job not failed: %+v", stored)
	}
}

func TestPublisherDrainExpiresWithoutResult(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusCompleted, Output: "done but no json"}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-drain")

	start := time.Now()
	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)
	elapsed := time.Since(start)

	if elapsed < 25*time.Millisecond {
		t.Fatalf("stream closed before drain grace: %v", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("drain did not expire in time: %v", elapsed)
	}
	if n := len(eventsOfType(events, EventResult)); n != 0 {
		t.Fatalf("result events = %d, want 0", n)
	}
	if n := len(eventsOfType(events, EventComplete)); n != 1 {
		t.Fatalf("complete events = %d, want 1", n)
	}
}

func TestPublisherLateResultDuringDrain(t *testing.T) {
	resultJSON := `{"flags": [], "summary": {"total_flags": 0, "total_references": 0, "estimated_effort_hours": 0}}`
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusCompleted, Output: "wrapping up"}},
		{st: devin.SessionStatus{Status: devin.StatusCompleted, Output: "wrapping up"}},
		{st: devin.SessionStatus{
			Status:     devin.StatusCompleted,
			Output:     "wrapping up",
			Structured: json.RawMessage(resultJSON),
		}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-late")

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)

	if n := len(eventsOfType(events, EventResult)); n != 1 {
		t.Fatalf("result events = %d, want 1", n)
	}
	if n := len(eventsOfType(events, EventComplete)); n != 1 {
		t.Fatalf("complete events = %d, want 1", n)
	}
}

func TestPublisherSurvivesTransientPollErrors(t *testing.T) {
	resultJSON := `{"flags": [], "summary": {"total_flags": 0, "total_references": 0, "estimated_effort_hours": 0}}`
	client := &scriptedClient{steps: []scriptedStep{
		{err: fmt.Errorf("%w: connection refused", devin.ErrUnavailable)},
		{err: &devin.RateLimitError{RetryAfter: time.Second}},
		{st: devin.SessionStatus{
			Status:     devin.StatusCompleted,
			Output:     "recovered",
			Structured: json.RawMessage(resultJSON),
		}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-flaky")

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)

	if n := len(eventsOfType(events, EventComplete)); n != 1 {
		t.Fatalf("complete events = %d, want 1", n)
	}
	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != devin.StatusCompleted {
		t.Fatalf("job status = %q, want completed", stored.Status)
	}
}

func TestPublisherFailsJobWhenSessionDisappears(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{err: fmt.Errorf("%w: sess-gone", devin.ErrSessionNotFound)},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-gone")

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)

	if n := len(eventsOfType(events, EventError)); n != 1 {
		t.Fatalf("error events = %d, want 1", n)
	}
	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != devin.StatusFailed {
		t.Fatalf("job status = %q, want failed", stored.Status)
	}
}

func TestPublisherReplaysTerminalJob(t *testing.T) {
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-replay")
	result := devin.Result{Kind: devin.ResultAnalysis, Analysis: &devin.AnalysisResult{}}
	if err := repo.SetResult(context.Background(), job.ID, result); err != nil {
		t.Fatalf("set result: %v", err)
	}

	// The client must never be polled for an already-terminal job.
	client := &scriptedClient{steps: []scriptedStep{
		{err: errors.New("should not be called")},
	}}

	events := collectEvents(t, newTestPublisher(client, repo), job.ID, 2*time.Second)

	if n := len(eventsOfType(events, EventResult)); n != 1 {
		t.Fatalf("result events = %d, want 1", n)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatalf("last event = %q, want complete", events[len(events)-1].Type)
	}
	client.mu.Lock()
	polled := client.idx
	client.mu.Unlock()
	if polled != 0 {
		t.Fatalf("terminal replay polled upstream")
	}
}

func TestPublisherStopsWhenSubscriberLeaves(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusRunning, Output: "line one\nline two\n"}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-leave")

	var delivered int
	err := newTestPublisher(client, repo).Run(context.Background(), job.ID, func(ev Event) error {
		delivered++
		if delivered >= 2 {
			return errors.New("client went away")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscriber departure must not be an error, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status.Terminal() {
		t.Fatalf("job state must survive subscriber departure, got %q", stored.Status)
	}
}

// brokenStoreRepo serves the first read, then fails every one after it, the
// way a dropped database connection looks to a long-lived stream.
type brokenStoreRepo struct {
	*MemoryRepo
	mu   sync.Mutex
	gets int
}

func (r *brokenStoreRepo) GetByID(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	r.gets++
	n := r.gets
	r.mu.Unlock()
	if n > 1 {
		return Job{}, errors.New("driver: bad connection")
	}
	return r.MemoryRepo.GetByID(ctx, id)
}

func TestPublisherReportsStoreFailure(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusRunning, Output: "working\n"}},
	}}
	repo := &brokenStoreRepo{MemoryRepo: NewMemoryRepo()}
	job := newRunningJob(t, repo, "sess-store")

	var events []Event
	err := newTestPublisher(client, repo).Run(context.Background(), job.ID, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err == nil {
		t.Fatalf("store failure must surface from Run")
	}

	errorEvents := eventsOfType(events, EventError)
	if len(errorEvents) != 1 {
		t.Fatalf("error events = %d, want exactly 1", len(errorEvents))
	}
	data := errorEvents[0].Data.(map[string]any)
	msg, _ := data["message"].(string)
	if !strings.Contains(msg, "bad connection") {
		t.Fatalf("error message = %q, want the store failure described", msg)
	}
	if events[len(events)-1].Type != EventError {
		t.Fatalf("last event = %q, want error", events[len(events)-1].Type)
	}
	if n := len(eventsOfType(events, EventComplete)); n != 0 {
		t.Fatalf("complete events = %d, want 0 after a store failure", n)
	}
}

func TestPublisherCancelledPollIsOrderly(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{st: devin.SessionStatus{Status: devin.StatusRunning, Output: "working\n"}},
	}}
	repo := NewMemoryRepo()
	job := newRunningJob(t, repo, "sess-cancel")
	p := newTestPublisher(client, repo)

	// The subscriber can drop between a ticker fire and the store read; the
	// poll that runs on the dead context must not look like a failure.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var events []Event
	closed, err := p.poll(ctx, job.ID, &streamState{lastStatus: devin.StatusPending}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("cancelled poll must shut down orderly, got %v", err)
	}
	if !closed {
		t.Fatalf("cancelled poll must close the stream")
	}
	if len(events) != 0 {
		t.Fatalf("cancelled poll emitted %d events, want none", len(events))
	}
}

func TestPublisherUnknownJob(t *testing.T) {
	p := newTestPublisher(&scriptedClient{steps: []scriptedStep{{}}}, NewMemoryRepo())
	err := p.Run(context.Background(), "missing", func(Event) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
