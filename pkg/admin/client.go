package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/engine"
	"github.com/getmockd/mockctl/pkg/httputil"
	"github.com/getmockd/mockctl/pkg/reconcile"
)

// ErrUnavailable is returned when the daemon cannot be reached.
var ErrUnavailable = errors.New("daemon unavailable")

// Client talks to the admin API of a running daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the daemon at baseURL. A bare host:port
// is accepted.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ reconcile.Target = (*Client)(nil)
var _ reconcile.Diagnoser = (*Client)(nil)

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.call(ctx, http.MethodGet, "/health", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the daemon's control status.
func (c *Client) Status(ctx context.Context) (*control.Status, error) {
	var out control.Status
	if err := c.call(ctx, http.MethodGet, "/status", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute runs cmd and returns the resulting status.
func (c *Client) Execute(ctx context.Context, cmd control.Command) (*control.Status, error) {
	var out control.Status
	if err := c.call(ctx, http.MethodPost, "/commands", cmd, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitSettings hands d to the daemon-side reconciler.
func (c *Client) SubmitSettings(ctx context.Context, d reconcile.Desired) error {
	return c.call(ctx, http.MethodPut, "/settings", d, http.StatusAccepted, nil)
}

// SetEngine implements reconcile.Target.
func (c *Client) SetEngine(ctx context.Context, enable bool, descriptor string) error {
	_, err := c.Execute(ctx, control.Command{
		Feature:    control.FeatureEngine,
		Enable:     control.Bool(enable),
		Descriptor: control.String(descriptor),
	})
	return err
}

// SetRecordMissing implements reconcile.Target.
func (c *Client) SetRecordMissing(ctx context.Context, enable bool) error {
	_, err := c.Execute(ctx, control.Command{Feature: control.FeatureRecordMissing, Enable: control.Bool(enable)})
	return err
}

// SetRecordMissingFailures implements reconcile.Target.
func (c *Client) SetRecordMissingFailures(ctx context.Context, enable bool) error {
	_, err := c.Execute(ctx, control.Command{Feature: control.FeatureRecordMissingFailures, Enable: control.Bool(enable)})
	return err
}

// IsEngineEnabled implements reconcile.Target.
func (c *Client) IsEngineEnabled(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.EngineEnabled && st.EngineRunning, nil
}

// LastFailure implements reconcile.Diagnoser.
func (c *Client) LastFailure(ctx context.Context) (string, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return st.LastError, nil
}

// Recordings lists recorded missing requests.
func (c *Client) Recordings(ctx context.Context) (*RecordingListResponse, error) {
	var out RecordingListResponse
	if err := c.call(ctx, http.MethodGet, "/recordings", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearRecordings deletes all recordings and returns how many there were.
func (c *Client) ClearRecordings(ctx context.Context) (int, error) {
	var out ClearResponse
	if err := c.call(ctx, http.MethodDelete, "/recordings", nil, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

// ExportRecordings returns the recordings as an engine document.
func (c *Client) ExportRecordings(ctx context.Context, format engine.Format, opts engine.ExportOptions) ([]byte, error) {
	q := url.Values{}
	q.Set("format", string(format))
	if opts.FallbackBaseURL != "" {
		q.Set("fallback", opts.FallbackBaseURL)
	}
	q.Set("dedupe", fmt.Sprint(opts.Deduplicate))
	q.Set("matchQuery", fmt.Sprint(opts.MatchQuery))

	resp, err := c.do(ctx, http.MethodGet, "/recordings/export?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Events streams daemon events until ctx is cancelled or the daemon goes
// away; the channel is then closed.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/events"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = conn.CloseNow() }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, in any, want int, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return parseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return nil, err
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// APIError is a non-success reply from the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("request failed: status %d", e.StatusCode)
}

func parseError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if e, ok := httputil.ReadError(resp, maxBodySize); ok {
		apiErr.Code = e.Error
		apiErr.Message = e.Message
	}
	return apiErr
}
