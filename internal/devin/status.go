package devin

import "strings"

// NormalizeStatus maps the upstream status vocabulary onto the canonical
// lifecycle. Unknown or absent tokens default to running: a hard failure
// classification is user-visible and should require positive evidence.
// "blocked" (agent waiting on a human) is folded into running.
func NormalizeStatus(token string) Status {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "running":
		return StatusRunning
	case "blocked":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	default:
		return StatusRunning
	}
}

// FormatMessage renders one transcript message as a log line. Agent text is
// kept verbatim; other origins get a fixed label so the flattening is
// deterministic. Empty messages are dropped.
func FormatMessage(m Message) (string, bool) {
	text := strings.TrimRight(m.Text, "\n")
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	switch m.Origin {
	case OriginAgent, "":
		return text, true
	default:
		return "[" + string(m.Origin) + "] " + text, true
	}
}

// FlattenOutput joins the formatted transcript into a single newline-separated
// string. Because the upstream transcript is append-only, flattening the same
// prefix twice yields identical bytes, so byte-offset diffing against a
// previous flattening identifies exactly the new suffix.
func FlattenOutput(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		line, ok := FormatMessage(m)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}
