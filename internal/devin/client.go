package devin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client creates agent sessions and observes their progress. The live and
// mock implementations are interchangeable; callers never learn which one
// they hold.
type Client interface {
	CreateAnalyzeSession(ctx context.Context, params AnalyzeParams) (string, error)
	CreateRemoveSession(ctx context.Context, params RemoveParams) (string, error)
	GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
}

// HTTPClient talks to the real agent API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient constructs a live client. The timeout bounds every round
// trip; calls fail with ErrTimeout instead of hanging.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) (*HTTPClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("DEVIN_API_KEY is required in live mode (set DEVIN_MOCK_MODE=true to run without credentials)")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type createSessionRequest struct {
	Prompt        string `json:"prompt"`
	RepositoryURL string `json:"repository_url"`
	Branch        string `json:"branch"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type sessionMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type sessionAttachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type sessionStatusResponse struct {
	SessionID        string              `json:"session_id"`
	StatusEnum       string              `json:"status_enum"`
	Messages         []sessionMessage    `json:"messages"`
	StructuredOutput json.RawMessage     `json:"structured_output"`
	Attachments      []sessionAttachment `json:"attachments"`
	Error            string              `json:"error"`
}

// CreateAnalyzeSession starts an analyze-only session and returns its handle.
func (c *HTTPClient) CreateAnalyzeSession(ctx context.Context, params AnalyzeParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	return c.createSession(ctx, createSessionRequest{
		Prompt:        buildAnalyzeInstruction(params),
		RepositoryURL: fmt.Sprintf("https://github.com/%s/%s", params.Owner, params.Repo),
		Branch:        params.Branch,
	})
}

// CreateRemoveSession starts a flag-removal session and returns its handle.
func (c *HTTPClient) CreateRemoveSession(ctx context.Context, params RemoveParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	return c.createSession(ctx, createSessionRequest{
		Prompt:        buildRemoveInstruction(params),
		RepositoryURL: fmt.Sprintf("https://github.com/%s/%s", params.Owner, params.Repo),
		Branch:        params.Branch,
	})
}

func (c *HTTPClient) createSession(ctx context.Context, body createSessionRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	var parsed createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("create session: decode response: %w", err)
	}
	if parsed.SessionID == "" {
		return "", errors.New("create session: response missing session_id")
	}
	return parsed.SessionID, nil
}

// GetSessionStatus performs a single round trip; the caller controls retry
// cadence.
func (c *HTTPClient) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return SessionStatus{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SessionStatus{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return SessionStatus{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := checkResponse(resp); err != nil {
		return SessionStatus{}, fmt.Errorf("get session status: %w", err)
	}

	var parsed sessionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SessionStatus{}, fmt.Errorf("get session status: decode response: %w", err)
	}

	messages := make([]Message, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		messages = append(messages, Message{Origin: originFromMessageType(m.Type), Text: m.Message})
	}

	attachments := make([]string, 0, len(parsed.Attachments))
	for _, a := range parsed.Attachments {
		if a.URL != "" {
			attachments = append(attachments, a.URL)
		}
	}

	return SessionStatus{
		SessionID:   sessionID,
		Status:      NormalizeStatus(parsed.StatusEnum),
		Messages:    messages,
		Output:      FlattenOutput(messages),
		Structured:  parsed.StructuredOutput,
		Attachments: attachments,
		Error:       parsed.Error,
	}, nil
}

func originFromMessageType(messageType string) Origin {
	switch messageType {
	case "devin_message":
		return OriginAgent
	case "user_message":
		return OriginUser
	case "tool_message", "tool_output":
		return OriginTool
	default:
		return OriginSystem
	}
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	return fmt.Errorf("agent api returned %d: %s", resp.StatusCode, msg)
}

func parseRetryAfter(raw string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 5 * time.Second
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if strings.Contains(err.Error(), "Client.Timeout") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var _ Client = (*HTTPClient)(nil)
