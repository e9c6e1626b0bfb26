package devin

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the canonical session lifecycle state, decoupled from the
// upstream agent's native vocabulary.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Origin identifies who produced a transcript message.
type Origin string

const (
	OriginAgent  Origin = "agent"
	OriginUser   Origin = "user"
	OriginSystem Origin = "system"
	OriginTool   Origin = "tool"
)

// Message is one entry in a session transcript.
type Message struct {
	Origin Origin `json:"origin"`
	Text   string `json:"text"`
}

// SessionStatus is one observation of an upstream session.
type SessionStatus struct {
	SessionID   string
	Status      Status
	Messages    []Message
	Output      string // flattened transcript; grows monotonically between polls
	Structured  json.RawMessage
	Attachments []string
	Error       string
}

// AnalyzeParams describes an analyze-only task.
type AnalyzeParams struct {
	Owner      string
	Repo       string
	Branch     string
	Flags      []string
	WorkingDir string
	Patterns   []string
}

// Validate checks required analyze parameters.
func (p AnalyzeParams) Validate() error {
	if p.Owner == "" || p.Repo == "" || p.Branch == "" {
		return fmt.Errorf("%w: owner, repo and branch are required", ErrInvalidRequest)
	}
	if len(p.Flags) == 0 {
		return fmt.Errorf("%w: at least one flag key is required", ErrInvalidRequest)
	}
	return nil
}

// RemoveParams describes a flag-removal task.
type RemoveParams struct {
	Owner          string
	Repo           string
	Branch         string
	Flags          []string
	TargetBehavior string // "on" or "off": the behavior to inline before removal
	RegistryFiles  []string
	TestCommand    string
	BuildCommand   string
	WorkingDir     string
}

// Validate checks required removal parameters.
func (p RemoveParams) Validate() error {
	if p.Owner == "" || p.Repo == "" || p.Branch == "" {
		return fmt.Errorf("%w: owner, repo and branch are required", ErrInvalidRequest)
	}
	if len(p.Flags) == 0 {
		return fmt.Errorf("%w: at least one flag key is required", ErrInvalidRequest)
	}
	if p.TargetBehavior != "on" && p.TargetBehavior != "off" {
		return fmt.Errorf("%w: targetBehavior must be \"on\" or \"off\"", ErrInvalidRequest)
	}
	if len(p.RegistryFiles) == 0 {
		return fmt.Errorf("%w: at least one registry file path is required", ErrInvalidRequest)
	}
	return nil
}

// ResultKind discriminates the two result payload shapes.
type ResultKind string

const (
	ResultAnalysis ResultKind = "analysis"
	ResultRemoval  ResultKind = "removal"
)

// FlagReference is one occurrence of a flag in the target codebase.
type FlagReference struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Context string `json:"context"`
}

// FlagAnalysis is the analysis report for a single flag.
type FlagAnalysis struct {
	Key            string          `json:"key"`
	References     []FlagReference `json:"references"`
	ReferenceCount int             `json:"reference_count"`
	AffectedFiles  []string        `json:"affected_files"`
	RiskLevel      string          `json:"risk_level"`
	Confidence     float64         `json:"confidence"`
	Recommendation string          `json:"recommendation"`
}

// AnalysisSummary aggregates an analysis run.
type AnalysisSummary struct {
	TotalFlags           int     `json:"total_flags"`
	TotalReferences      int     `json:"total_references"`
	EstimatedEffortHours float64 `json:"estimated_effort_hours"`
}

// AnalysisResult is the payload of a completed analyze task.
type AnalysisResult struct {
	Flags   []FlagAnalysis  `json:"flags"`
	Summary AnalysisSummary `json:"summary"`
}

// RemovalSummary aggregates a removal run.
type RemovalSummary struct {
	FlagsRemoved []string `json:"flags_removed"`
	FilesChanged int      `json:"files_changed"`
	TestsPassed  *bool    `json:"tests_passed,omitempty"`
}

// RemovalResult is the payload of a completed removal task. A run either
// opened a PR (PRURL set, Errors empty) or fell back to reporting a diff
// with the errors that blocked the PR.
type RemovalResult struct {
	PRURL         string         `json:"pr_url,omitempty"`
	Branch        string         `json:"branch,omitempty"`
	Diff          string         `json:"diff,omitempty"`
	CommitMessage string         `json:"commit_message,omitempty"`
	Summary       RemovalSummary `json:"summary"`
	Errors        []string       `json:"errors,omitempty"`
}

// Result is a tagged union over the two payload shapes. Kind is set once at
// construction; consumers switch on it instead of sniffing field presence.
type Result struct {
	Kind     ResultKind
	Analysis *AnalysisResult
	Removal  *RemovalResult
}

// MarshalJSON emits the inner payload object; the discriminant stays internal.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResultAnalysis:
		if r.Analysis == nil {
			return nil, errors.New("analysis result payload missing")
		}
		return json.Marshal(r.Analysis)
	case ResultRemoval:
		if r.Removal == nil {
			return nil, errors.New("removal result payload missing")
		}
		return json.Marshal(r.Removal)
	default:
		return nil, fmt.Errorf("unknown result kind %q", r.Kind)
	}
}
