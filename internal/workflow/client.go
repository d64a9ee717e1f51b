// Package workflow is the outbound call client for the remote automation
// endpoint. One accepted utterance maps to one Exchange: a single in-flight,
// timed-out, retried POST whose heterogeneous reply shape is normalized back
// into speakable text.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Source identifies this client in the request payload. External workflows
// key off it; do not change casually.
const Source = "voice-assistant"

var (
	ErrUnconfigured      = errors.New("workflow: endpoint URL not configured")
	ErrEmptyInput        = errors.New("workflow: empty input text")
	ErrTimeout           = errors.New("workflow: request timed out")
	ErrMalformedResponse = errors.New("workflow: malformed response body")
)

// HTTPError is returned for non-2xx responses, before any body parsing.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("workflow: endpoint returned status %d", e.Status)
}

// Reply is a normalized endpoint response.
type Reply struct {
	Text      string
	Raw       json.RawMessage
	Timestamp time.Time
}

// Client performs Exchanges with the remote workflow endpoint.
type Client struct {
	HTTPClient *http.Client
	Endpoint   string
	Timeout    time.Duration
	UserAgent  string
}

// NewClient constructs a Client with the given endpoint and per-attempt timeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{},
		Endpoint:   endpoint,
		Timeout:    timeout,
		UserAgent:  "yakeen-voice-assistant",
	}
}

type requestPayload struct {
	Text      string         `json:"text"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata"`
}

// Send performs exactly one POST attempt. The request is aborted when the
// configured timeout elapses and ErrTimeout is surfaced; the call never hangs.
func (c *Client) Send(ctx context.Context, text string, metadata map[string]any) (Reply, error) {
	if c.Endpoint == "" {
		return Reply{}, ErrUnconfigured
	}
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyInput
	}

	now := time.Now()
	md := map[string]any{
		"userAgent": c.UserAgent,
		"timestamp": now.UnixMilli(),
	}
	for k, v := range metadata {
		md[k] = v
	}
	payload := requestPayload{
		Text:      text,
		Timestamp: now.UTC().Format(time.RFC3339),
		Source:    Source,
		Metadata:  md,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("workflow: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("workflow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Reply{}, ErrTimeout
		}
		return Reply{}, fmt.Errorf("workflow: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, &HTTPError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Reply{}, ErrTimeout
		}
		return Reply{}, fmt.Errorf("workflow: read response: %w", err)
	}

	normalized, err := Normalize(raw)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: Sanitize(normalized), Raw: raw, Timestamp: time.Now()}, nil
}

// SendWithRetry re-invokes Send up to maxAttempts times with exponentially
// increasing backoff (doubling from backoff) between attempts. The last
// failure propagates; there is never a sleep after the final attempt.
// Configuration and empty-input failures are not retried.
func (c *Client) SendWithRetry(ctx context.Context, text string, metadata map[string]any, maxAttempts int, backoff time.Duration) (Reply, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	delay := backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		md := map[string]any{"attempt": attempt}
		for k, v := range metadata {
			md[k] = v
		}
		reply, err := c.Send(ctx, text, md)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, ErrUnconfigured) || errors.Is(err, ErrEmptyInput) {
			return Reply{}, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Reply{}, lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
	return Reply{}, lastErr
}

// Normalize extracts speakable text from an endpoint response body. The
// precedence is a contract external workflows rely on: string body, then the
// text, response, message and output fields of an object, then the first
// element's output field of a list, then the whole body JSON-stringified.
func Normalize(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", ErrMalformedResponse
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		// Not JSON at all: treat the body as plain text.
		return string(trimmed), nil
	}

	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]any:
		for _, field := range []string{"text", "response", "message", "output"} {
			if s, ok := v[field].(string); ok {
				return s, nil
			}
		}
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(map[string]any); ok {
				if s, ok := first["output"].(string); ok {
					return s, nil
				}
			}
		}
	case nil:
		return "", ErrMalformedResponse
	}

	// Fallback: speak the whole body.
	return string(trimmed), nil
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Sanitize strips HTML angle brackets, collapses whitespace runs (newlines
// included) to single spaces and trims the result.
func Sanitize(s string) string {
	s = angleBrackets.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
