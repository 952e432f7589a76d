// Package recording captures requests the engine could not answer from its
// configuration and the responses the fallback upstream gave for them.
package recording

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Recording is one forwarded request/response exchange.
type Recording struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Request  Request  `json:"request"`
	Response Response `json:"response"`

	Duration time.Duration `json:"duration"`
}

// Request is the captured request.
type Request struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Path    string      `json:"path"`
	Query   string      `json:"query,omitempty"`
	Host    string      `json:"host"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// Response is the captured upstream response.
type Response struct {
	StatusCode int         `json:"statusCode"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// New starts a recording for req, whose body has already been drained
// into body.
func New(req *http.Request, body []byte) *Recording {
	return &Recording{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Request: Request{
			Method:  req.Method,
			URL:     req.URL.String(),
			Path:    req.URL.Path,
			Query:   req.URL.RawQuery,
			Host:    req.Host,
			Headers: req.Header.Clone(),
			Body:    body,
		},
	}
}

// Complete attaches the upstream response.
func (r *Recording) Complete(resp *http.Response, body []byte, took time.Duration) {
	r.Response = Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
	}
	r.Duration = took
}

// Failed reports whether the upstream answered with a non-2xx status.
func (r *Recording) Failed() bool {
	return r.Response.StatusCode < 200 || r.Response.StatusCode > 299
}
