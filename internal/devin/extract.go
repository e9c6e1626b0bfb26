package devin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Extractor locates a structured result in a session observation. Strategies
// are tried in order of trust; each failure falls through silently to the
// next. The first success per session is cached and never overwritten, so a
// later, possibly different extraction cannot replace an already-delivered
// result.
type Extractor struct {
	mu    sync.Mutex
	cache map[string]Result

	httpClient *http.Client
}

// NewExtractor constructs an Extractor with a bounded attachment-fetch client.
func NewExtractor() *Extractor {
	return &Extractor{
		cache: make(map[string]Result),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type extractStrategy struct {
	name string
	fn   func(e *Extractor, ctx context.Context, st SessionStatus) (Result, bool)
}

var extractStrategies = []extractStrategy{
	{"structured_output", (*Extractor).fromStructured},
	{"json_attachment", (*Extractor).fromAttachment},
	{"fenced_block", (*Extractor).fromFencedBlock},
	{"brace_scan", (*Extractor).fromBraceScan},
	{"recent_messages", (*Extractor).fromRecentMessages},
}

// Extract attempts every strategy in order against the observation. Absence
// of a result is not an error: attachments may still be propagating upstream
// and the caller re-attempts on the next poll.
func (e *Extractor) Extract(ctx context.Context, st SessionStatus) (Result, bool) {
	e.mu.Lock()
	if cached, ok := e.cache[st.SessionID]; ok {
		e.mu.Unlock()
		return cached, true
	}
	e.mu.Unlock()

	for _, strategy := range extractStrategies {
		result, ok := strategy.fn(e, ctx, st)
		if !ok {
			continue
		}
		e.mu.Lock()
		// A concurrent extraction may have won the race; first success wins.
		if cached, exists := e.cache[st.SessionID]; exists {
			result = cached
		} else {
			e.cache[st.SessionID] = result
		}
		e.mu.Unlock()
		return result, true
	}
	return Result{}, false
}

func (e *Extractor) fromStructured(ctx context.Context, st SessionStatus) (Result, bool) {
	if len(st.Structured) == 0 {
		return Result{}, false
	}
	return decodeResult(st.Structured)
}

func (e *Extractor) fromAttachment(ctx context.Context, st SessionStatus) (Result, bool) {
	for _, raw := range st.Attachments {
		parsed, err := url.Parse(raw)
		if err != nil || !strings.HasSuffix(strings.ToLower(parsed.Path), ".json") {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			continue
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		if result, ok := decodeResult(body); ok {
			return result, true
		}
	}
	return Result{}, false
}

var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// fromFencedBlock searches agent-originated text only: the instruction echoes
// an example JSON object, so user-origin messages would false-match.
func (e *Extractor) fromFencedBlock(ctx context.Context, st SessionStatus) (Result, bool) {
	for _, m := range st.Messages {
		if m.Origin != OriginAgent {
			continue
		}
		for _, match := range fencedJSONRe.FindAllStringSubmatch(m.Text, -1) {
			if result, ok := decodeResult([]byte(strings.TrimSpace(match[1]))); ok {
				return result, true
			}
		}
	}
	return Result{}, false
}

// fromBraceScan looks for a brace-balanced span containing a known result
// marker anywhere in agent text, tolerating surrounding prose.
func (e *Extractor) fromBraceScan(ctx context.Context, st SessionStatus) (Result, bool) {
	text := agentText(st.Messages)
	if text == "" {
		return Result{}, false
	}
	for start := 0; ; {
		open := strings.IndexByte(text[start:], '{')
		if open < 0 {
			return Result{}, false
		}
		open += start
		span, ok := balancedSpan(text, open)
		if ok && containsResultMarker(span) {
			if result, decoded := decodeResult([]byte(span)); decoded {
				return result, true
			}
		}
		start = open + 1
	}
}

// fromRecentMessages is the last resort: individually scan the most recent
// agent messages for any JSON object with a flags or summary key.
func (e *Extractor) fromRecentMessages(ctx context.Context, st SessionStatus) (Result, bool) {
	const lookback = 5
	recent := make([]Message, 0, lookback)
	for i := len(st.Messages) - 1; i >= 0 && len(recent) < lookback; i-- {
		if st.Messages[i].Origin == OriginAgent {
			recent = append(recent, st.Messages[i])
		}
	}
	for _, m := range recent {
		open := strings.IndexByte(m.Text, '{')
		if open < 0 {
			continue
		}
		span, ok := balancedSpan(m.Text, open)
		if !ok {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(span), &probe); err != nil {
			continue
		}
		if _, hasFlags := probe["flags"]; !hasFlags {
			if _, hasSummary := probe["summary"]; !hasSummary {
				continue
			}
		}
		if result, decoded := decodeResult([]byte(span)); decoded {
			return result, true
		}
	}
	return Result{}, false
}

func agentText(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Origin != OriginAgent {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Text)
	}
	return b.String()
}

// balancedSpan returns the substring from the opening brace at start through
// its matching close, counting depth and skipping string literals.
func balancedSpan(text string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func containsResultMarker(span string) bool {
	if strings.Contains(span, `"flags"`) {
		return true
	}
	return strings.Contains(span, `"summary"`) && strings.Contains(span, `"flags_removed"`)
}

// decodeResult classifies a candidate JSON object into the tagged result
// union. Removal evidence (pr_url, diff, or a summary with flags_removed)
// takes precedence; otherwise a flags array makes it an analysis.
func decodeResult(raw []byte) (Result, bool) {
	var probe struct {
		Flags   json.RawMessage `json:"flags"`
		Summary json.RawMessage `json:"summary"`
		PRURL   string          `json:"pr_url"`
		Diff    string          `json:"diff"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Result{}, false
	}

	if probe.PRURL != "" || probe.Diff != "" || summaryHasFlagsRemoved(probe.Summary) {
		var removal RemovalResult
		if err := json.Unmarshal(raw, &removal); err != nil {
			return Result{}, false
		}
		return Result{Kind: ResultRemoval, Removal: &removal}, true
	}

	if len(probe.Flags) > 0 && probe.Flags[0] == '[' {
		var analysis AnalysisResult
		if err := json.Unmarshal(raw, &analysis); err != nil {
			return Result{}, false
		}
		return Result{Kind: ResultAnalysis, Analysis: &analysis}, true
	}

	return Result{}, false
}

func summaryHasFlagsRemoved(summary json.RawMessage) bool {
	if len(summary) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(summary, &fields); err != nil {
		return false
	}
	_, ok := fields["flags_removed"]
	return ok
}
