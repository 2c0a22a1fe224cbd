// Package upstream talks to the hosted LLM provider: the stateful
// assistants API (assistant, thread, message, run) over plain REST, and the
// stateless chat-completion API through the go-openai SDK.
//
// Every response is handed back as a shape.Value so callers never depend on
// the exact layout the provider returns.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/prodscribe/internal/shape"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxErrorBody   = 4 << 10
)

// APIError is returned for any non-2xx upstream response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// IsRateLimit reports whether err is an upstream HTTP 429.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// AssistantParams describes the assistant persona to register.
type AssistantParams struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Model        string `json:"model"`
	Description  string `json:"description,omitempty"`
}

// Client communicates with the assistants API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a client for the default provider endpoint.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		backoff: initialBackoff,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// CreateAssistant registers a new assistant.
func (c *Client) CreateAssistant(ctx context.Context, p AssistantParams) (shape.Value, error) {
	return c.do(ctx, http.MethodPost, "/assistants", p)
}

// CreateThread opens an empty conversation thread.
func (c *Client) CreateThread(ctx context.Context) (shape.Value, error) {
	return c.do(ctx, http.MethodPost, "/threads", struct{}{})
}

// CreateMessage posts a message on a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (shape.Value, error) {
	body := map[string]string{"role": role, "content": content}
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body)
}

// CreateRun starts the assistant on a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (shape.Value, error) {
	body := map[string]string{"assistant_id": assistantID}
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", body)
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (shape.Value, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	return c.do(ctx, http.MethodGet, path, nil)
}

// ListMessages lists the messages of a thread in the given order
// ("asc" or "desc").
func (c *Client) ListMessages(ctx context.Context, threadID, order string) (shape.Value, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if order != "" {
		path += "?order=" + url.QueryEscape(order)
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

// do performs the request, retrying on HTTP 429 with exponential backoff.
// Other failures are returned immediately.
func (c *Client) do(ctx context.Context, method, path string, body any) (shape.Value, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return shape.Absent, fmt.Errorf("marshaling request: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := range maxRetries {
		v, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			return v, nil
		}
		if !IsRateLimit(err) {
			return shape.Absent, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return shape.Absent, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return shape.Absent, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) (shape.Value, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return shape.Absent, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shape.Absent, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return shape.Absent, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return shape.Absent, fmt.Errorf("reading response: %w", err)
	}
	return shape.Decode(json.RawMessage(raw)), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}
