package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the QA backend. Request/response calls share an
// http.Client with a hard timeout; the verification stream uses a separate
// client without one, since a run legitimately outlives any fixed deadline.
type Client struct {
	baseURL   string
	http      *http.Client
	streaming *http.Client
}

// NewClient creates a Client for the given base URL with the given
// per-request timeout. The timeout does not apply to VerifyStream.
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: requestTimeout},
		streaming: &http.Client{},
	}
}

// BaseURL returns the backend base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, fmt.Errorf("backend: building health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("backend: decoding health response: %w", err)
	}
	return &h, nil
}

// Explore calls POST /api/explore for the given URL.
func (c *Client) Explore(ctx context.Context, url string) (*ExploreResult, error) {
	var out ExploreResult
	if err := c.postJSON(ctx, "/api/explore", map[string]string{"url": url}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Design calls POST /api/design. The backend designs against the page
// structure it holds from the most recent exploration.
func (c *Client) Design(ctx context.Context) (*DesignResult, error) {
	var out DesignResult
	if err := c.postJSON(ctx, "/api/design", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Implement calls POST /api/implement. The backend generates code from the
// test cases it holds from the most recent design.
func (c *Client) Implement(ctx context.Context) (*ImplementResult, error) {
	var out ImplementResult
	if err := c.postJSON(ctx, "/api/implement", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat calls POST /api/chat with a free-form message.
func (c *Client) Chat(ctx context.Context, message string) (*ChatResult, error) {
	var out ChatResult
	if err := c.postJSON(ctx, "/api/chat", map[string]string{"message": message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset calls POST /api/reset to clear server-side session state.
// Callers treat a failure here as non-fatal.
func (c *Client) Reset(ctx context.Context) error {
	return c.postJSON(ctx, "/api/reset", struct{}{}, nil)
}

// VerifyStream opens POST /api/verify-stream and returns the raw record
// stream. The caller owns the body and must close it; decode it with one
// fresh stream.Decoder per call.
func (c *Client) VerifyStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/verify-stream", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("backend: building verify-stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: verify-stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// postJSON issues a POST with a JSON body and decodes a JSON response into
// out (out may be nil to discard the body).
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backend: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decoding %s response: %w", path, err)
	}
	return nil
}

// decodeError turns a non-success response into an *APIError, reading the
// backend's {"error": "..."} body when present.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
