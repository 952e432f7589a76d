package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/mockctl/internal/matching"
	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/recording"
)

// DefaultAddress is where an engine listens when neither the options nor
// the document name an address.
const DefaultAddress = "127.0.0.1:4280"

// Request outcomes reported to Options.OnRequest.
const (
	OutcomeMatched   = "matched"
	OutcomeForwarded = "forwarded"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// Doer performs upstream requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options carries the application-scoped dependencies of an engine.
type Options struct {
	Address    string
	Logger     *slog.Logger
	Recordings *recording.Store
	// Client forwards unmatched requests. Defaults to an http.Client with a
	// 30s timeout.
	Client Doer
	// OnRequest is called once per served request with its outcome.
	OnRequest func(outcome string)
	// ShutdownTimeout bounds Stop. Defaults to 5s.
	ShutdownTimeout time.Duration
}

type route struct {
	spec    RequestSpec
	matcher *matching.Matcher
	next    atomic.Uint64
}

// Server is one engine instance. It is started at most once; a stopped
// server is discarded and a new one built from the document.
type Server struct {
	doc    *Document
	routes []*route
	opts   Options
	log    *slog.Logger

	recordMissing  atomic.Bool
	recordFailures atomic.Bool

	mu       sync.RWMutex
	running  bool
	stopped  bool
	listener net.Listener
	http     *http.Server
	done     chan struct{}
}

// New builds an engine for doc. It does not listen yet.
func New(doc *Document, opts Options) (*Server, error) {
	if doc == nil {
		return nil, errors.New("engine: nil document")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if doc.Address != "" {
		opts.Address = doc.Address
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}

	s := &Server{doc: doc, opts: opts, log: logging.Component(opts.Logger, "engine")}
	for i, rs := range doc.Requests {
		m, err := matching.Compile(rs.Criteria)
		if err != nil {
			return nil, fmt.Errorf("engine: request %d: %w", i, err)
		}
		s.routes = append(s.routes, &route{spec: rs, matcher: m})
	}
	return s, nil
}

// Build parses the document in r and creates an engine for it.
func (o Options) Build(r io.Reader) (*Server, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return New(doc, o)
}

// Start binds the listen address and serves in the background. Bind
// failures are returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("engine is already running")
	}
	if s.stopped {
		return errors.New("engine was stopped and cannot be restarted")
	}

	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("engine listen on %s: %w", s.opts.Address, err)
	}

	s.listener = ln
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})
	s.running = true

	srv, done := s.http, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("engine server error", "error", err)
		}
	}()

	s.log.Info("engine started", "address", ln.Addr().String(), "requests", len(s.routes),
		"fallback", s.doc.FallbackBaseURL != "")
	return nil
}

// Stop shuts the listener down and waits for in-flight requests up to the
// shutdown timeout. Stopping a server that is not running is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	srv, done := s.http, s.done
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done
	s.log.Info("engine stopped")
	if err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	return nil
}

// IsRunning reports whether the engine is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil || !s.running {
		return ""
	}
	return s.listener.Addr().String()
}

// Document returns the configuration the engine was built from.
func (s *Server) Document() *Document { return s.doc }

// SetRecordMissingRequestsEnabled toggles recording of forwarded requests.
func (s *Server) SetRecordMissingRequestsEnabled(enabled bool) {
	s.recordMissing.Store(enabled)
	s.log.Debug("record missing requests", "enabled", enabled)
}

// SetRecordMissingFailuresEnabled toggles recording of forwarded requests
// whose upstream response was not 2xx. It only has an effect while
// record-missing is also on.
func (s *Server) SetRecordMissingFailuresEnabled(enabled bool) {
	s.recordFailures.Store(enabled)
	s.log.Debug("record missing failures", "enabled", enabled)
}

// IsRecordingMissingRequests reports the record-missing flag.
func (s *Server) IsRecordingMissingRequests() bool {
	return s.recordMissing.Load()
}

// IsRecordingMissingFailures reports the record-missing-failures flag.
func (s *Server) IsRecordingMissingFailures() bool {
	return s.recordFailures.Load()
}

func (s *Server) observe(outcome string) {
	if s.opts.OnRequest != nil {
		s.opts.OnRequest(outcome)
	}
}
