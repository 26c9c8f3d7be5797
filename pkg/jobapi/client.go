// Package jobapi is the HTTP client for the asynchronous chat-job API:
// submit a message, read authoritative job status, and open the resumable
// event stream.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one chat-job server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no timeout: the event stream is unbounded.
	streamClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the request/response timeout. Stream requests are
// unaffected.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit creates a job for the given session and message text. RequestID
// makes retried submissions idempotent on the server side.
func (c *Client) Submit(ctx context.Context, sessionID, requestID, text string) (*SubmitResponse, error) {
	var result SubmitResponse
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
	err := c.doJSON(ctx, http.MethodPost, path, &SubmitRequest{RequestID: requestID, Text: text}, &result)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return &result, nil
}

// Status reads the authoritative state of a job. The read is idempotent.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	var result StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	return &result, nil
}

// OpenStream opens the event stream for a job. A non-zero lastEventID is
// passed as the resume hint so the server replays from after that event;
// zero omits the hint and the server starts from the beginning. The caller
// owns the returned body and must close it.
func (c *Client) OpenStream(ctx context.Context, jobID string, lastEventID int64) (io.ReadCloser, error) {
	u, err := url.Parse(c.baseURL + "/v1/jobs/" + url.PathEscape(jobID) + "/events")
	if err != nil {
		return nil, fmt.Errorf("stream url: %w", err)
	}
	if lastEventID > 0 {
		q := u.Query()
		q.Set("last_event_id", strconv.FormatInt(lastEventID, 10))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

// doJSON performs a request/response exchange with JSON bodies.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
