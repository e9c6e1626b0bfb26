package devin

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnavailable     = errors.New("agent api unavailable")
	ErrTimeout         = errors.New("agent api timeout")
)

// RateLimitError reports an upstream 429 with its retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent api rate limited, retry after %s", e.RetryAfter)
}
