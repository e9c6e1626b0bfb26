package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrNotFound means the repository, ref or path does not exist or the
	// token cannot see it.
	ErrNotFound = errors.New("github: not found")
	// ErrForbidden means the token lacks access or the API rate limit is hit.
	ErrForbidden = errors.New("github: forbidden")
	// ErrMissingToken means no token was configured.
	ErrMissingToken = errors.New("github: token not configured")
)

// Client fetches repository contents from the GitHub REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client authenticating with the given personal access
// token. An empty token yields a client whose calls fail with ErrMissingToken.
func NewClient(token string) *Client {
	c := &Client{baseURL: "https://api.github.com"}
	if strings.TrimSpace(token) == "" {
		return c
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	c.httpClient = oauth2.NewClient(context.Background(), source)
	c.httpClient.Timeout = 15 * time.Second
	return c
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	Size     int    `json:"size"`
}

// GetFileContent fetches one file's decoded bytes at the given ref.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	if c.httpClient == nil {
		return nil, ErrMissingToken
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL,
		url.PathEscape(owner),
		url.PathEscape(repo),
		escapePath(path),
	)
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %s", redactTokens(err.Error()))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, owner, repo, path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrForbidden, owner, repo, path)
	default:
		return nil, fmt.Errorf("github returned status %d for %s/%s/%s", resp.StatusCode, owner, repo, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var content contentResponse
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("decode github response: %w", err)
	}
	if content.Type != "file" {
		return nil, fmt.Errorf("%s/%s/%s is not a file", owner, repo, path)
	}
	if content.Encoding != "base64" {
		return nil, fmt.Errorf("unexpected content encoding %q", content.Encoding)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode file content: %w", err)
	}
	return decoded, nil
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

var tokenPattern = regexp.MustCompile(`gh[ps]_[A-Za-z0-9]+`)

// redactTokens strips GitHub token material from error text before it can
// reach logs or clients.
func redactTokens(s string) string {
	return tokenPattern.ReplaceAllString(s, "[redacted]")
}
