package devin

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient simulates the agent locally: sessions progress through a
// multi-step transcript on a timer before producing a plausible result, so
// the polling and streaming consumers are exercised realistically without
// network access. The session registry lives for the process lifetime — the
// handle is returned to a client that polls across separate requests.
type MockClient struct {
	mu       sync.Mutex
	sessions map[string]*mockSession

	// StepDelay is the pause between simulated transcript steps. Tests
	// shrink it; zero means the production default.
	StepDelay time.Duration
}

type mockSession struct {
	mu       sync.Mutex
	status   Status
	messages []Message
	result   *Result
}

// NewMockClient constructs an empty mock registry.
func NewMockClient() *MockClient {
	return &MockClient{sessions: make(map[string]*mockSession)}
}

func (c *MockClient) stepDelay() time.Duration {
	if c.StepDelay > 0 {
		return c.StepDelay
	}
	return 400 * time.Millisecond
}

// CreateAnalyzeSession registers a simulated analyze session.
func (c *MockClient) CreateAnalyzeSession(ctx context.Context, params AnalyzeParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	id := "mock-" + uuid.NewString()
	session := &mockSession{status: StatusRunning}

	c.mu.Lock()
	c.sessions[id] = session
	c.mu.Unlock()

	go c.runAnalyze(session, params)
	return id, nil
}

// CreateRemoveSession registers a simulated removal session.
func (c *MockClient) CreateRemoveSession(ctx context.Context, params RemoveParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	id := "mock-" + uuid.NewString()
	session := &mockSession{status: StatusRunning}

	c.mu.Lock()
	c.sessions[id] = session
	c.mu.Unlock()

	go c.runRemove(session, params)
	return id, nil
}

// GetSessionStatus returns the current snapshot of a simulated session.
func (c *MockClient) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return SessionStatus{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	messages := append([]Message(nil), session.messages...)
	st := SessionStatus{
		SessionID: sessionID,
		Status:    session.status,
		Messages:  messages,
		Output:    FlattenOutput(messages),
	}
	if session.result != nil {
		raw, err := json.Marshal(*session.result)
		if err == nil {
			st.Structured = raw
		}
	}
	return st, nil
}

func (s *mockSession) say(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, Message{Origin: OriginAgent, Text: text})
	s.mu.Unlock()
}

func (s *mockSession) finish(result Result) {
	s.mu.Lock()
	s.result = &result
	s.status = StatusCompleted
	s.mu.Unlock()
}

func (c *MockClient) runAnalyze(s *mockSession, params AnalyzeParams) {
	delay := c.stepDelay()

	s.say("Starting analysis...")
	time.Sleep(delay)
	s.say(fmt.Sprintf("Scanning %d flags in %s/%s", len(params.Flags), params.Owner, params.Repo))
	time.Sleep(delay)

	for _, flag := range params.Flags {
		s.say("Analyzing flag: " + flag)
		time.Sleep(delay)
	}

	s.say("Generating analysis report...")
	time.Sleep(delay)

	// The closing line goes out before the status flips; a snapshot taken at
	// the terminal status must already hold the full transcript.
	result := mockAnalysis(params)
	s.say("Analysis complete!")
	s.finish(Result{Kind: ResultAnalysis, Analysis: &result})
}

func (c *MockClient) runRemove(s *mockSession, params RemoveParams) {
	delay := c.stepDelay()

	s.say("Starting flag removal...")
	time.Sleep(delay)
	s.say(fmt.Sprintf("Inlining %d flags as %q in %s/%s", len(params.Flags), params.TargetBehavior, params.Owner, params.Repo))
	time.Sleep(delay)

	for _, flag := range params.Flags {
		s.say("Removing flag: " + flag)
		time.Sleep(delay)
	}
	for _, path := range params.RegistryFiles {
		s.say("Updating registry file: " + path)
		time.Sleep(delay)
	}

	result := mockRemoval(params)
	if result.PRURL != "" {
		s.say("Opened pull request " + result.PRURL)
	} else {
		s.say("Could not open a pull request; reporting diff instead")
	}
	s.finish(Result{Kind: ResultRemoval, Removal: &result})
}

var mockFiles = []string{
	"src/components/Dashboard.tsx",
	"src/services/featureFlags.ts",
	"src/utils/config.ts",
	"tests/feature-flags.test.ts",
}

var mockRiskLevels = []string{"low", "medium", "high"}

func mockAnalysis(params AnalyzeParams) AnalysisResult {
	flags := make([]FlagAnalysis, 0, len(params.Flags))
	totalRefs := 0

	for idx, key := range params.Flags {
		refCount := rand.Intn(10) + 1
		affected := mockFiles[:min(refCount, len(mockFiles))]
		risk := mockRiskLevels[idx%len(mockRiskLevels)]

		references := make([]FlagReference, 0, len(affected))
		for i, file := range affected {
			references = append(references, FlagReference{
				File:    file,
				Line:    (i + 1) * 42,
				Context: fmt.Sprintf("if (featureFlags.%s) { ... }", key),
			})
		}

		flags = append(flags, FlagAnalysis{
			Key:            key,
			References:     references,
			ReferenceCount: refCount,
			AffectedFiles:  affected,
			RiskLevel:      risk,
			Confidence:     0.85 + rand.Float64()*0.15,
			Recommendation: mockRecommendation(risk),
		})
		totalRefs += refCount
	}

	return AnalysisResult{
		Flags: flags,
		Summary: AnalysisSummary{
			TotalFlags:           len(flags),
			TotalReferences:      totalRefs,
			EstimatedEffortHours: float64(len(flags)) * 2,
		},
	}
}

func mockRecommendation(risk string) string {
	switch risk {
	case "low":
		return "Safe to remove - all references are simple conditionals"
	case "medium":
		return "Review carefully - some complex logic involved"
	default:
		return "High risk - flag used in critical paths, extensive testing required"
	}
}

func mockRemoval(params RemoveParams) RemovalResult {
	passed := true
	summary := RemovalSummary{
		FlagsRemoved: append([]string(nil), params.Flags...),
		FilesChanged: len(params.Flags) + len(params.RegistryFiles),
		TestsPassed:  &passed,
	}

	// Most runs open a PR; the rest fall back to a diff with errors.
	if rand.Intn(4) > 0 {
		return RemovalResult{
			PRURL:         fmt.Sprintf("https://github.com/%s/%s/pull/%d", params.Owner, params.Repo, rand.Intn(900)+100),
			Branch:        "remove-flags-" + strings.Join(params.Flags, "-"),
			CommitMessage: "Remove deprecated feature flags: " + strings.Join(params.Flags, ", "),
			Summary:       summary,
		}
	}

	failed := false
	summary.TestsPassed = &failed
	summary.FlagsRemoved = nil
	return RemovalResult{
		Diff:    fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ removed %d flag references @@", mockFiles[0], mockFiles[0], len(params.Flags)),
		Summary: summary,
		Errors:  []string{"test command failed: 2 assertions reference removed flags"},
	}
}

var _ Client = (*MockClient)(nil)
