package control

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/mockctl/pkg/lifecycle"
	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/metrics"
	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/toggle"
)

// ErrClosed is returned by Start on a closed surface.
var ErrClosed = errors.New("control surface is closed")

// Transition operation names, used in logs and metrics.
const (
	OpRestore               = "restore"
	OpEngine                = "engine"
	OpRecordMissing         = "record_missing"
	OpRecordMissingFailures = "record_missing_failures"
	OpTeardown              = "teardown"
)

// Status is a point-in-time view of the surface. FailedDescriptor names the
// descriptor the failed engine transition tried to load and is empty unless
// LastError is set.
type Status struct {
	toggle.Snapshot
	Persisted        toggle.Persisted `json:"persisted"`
	LastError        string           `json:"lastError,omitempty"`
	FailedDescriptor string           `json:"failedDescriptor,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Surface serializes toggle transitions on one worker goroutine.
type Surface struct {
	state   *toggle.State
	host    lifecycle.Host
	metrics *metrics.Metrics
	log     *slog.Logger

	jobs      chan func()
	startOnce sync.Once
	closeOnce sync.Once
	workerEnd chan struct{}
	lifetime  context.Context

	// attempted is only touched on the worker.
	attempted string

	mu         sync.RWMutex
	started    bool
	closed     bool
	lastErr    error
	failedDesc string
	updatedAt  time.Time

	subMu sync.Mutex
	subs  map[chan Status]struct{}
}

// Option configures a Surface.
type Option func(*Surface)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Surface) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHost sets the lifecycle host promoted on Start.
func WithHost(h lifecycle.Host) Option {
	return func(s *Surface) {
		if h != nil {
			s.host = h
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Surface) { s.metrics = m }
}

// New creates a Surface and the toggle state it owns.
func New(resolver toggle.Resolver, factory toggle.Factory, store prefs.Store, opts ...Option) *Surface {
	s := &Surface{
		host:      lifecycle.Nop{},
		log:       logging.Nop(),
		jobs:      make(chan func()),
		workerEnd: make(chan struct{}),
		lifetime:  context.Background(),
		subs:      make(map[chan Status]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = toggle.New(resolver, factory, store, toggle.WithLogger(s.log))
	s.log = logging.Component(s.log, "control")
	return s
}

// Start promotes the host, starts the worker and restores the persisted
// state. A restore failure is not returned; it shows in LastError.
func (s *Surface) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.host.Promote(); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	// Applies run to completion; only the values of ctx are kept.
	s.lifetime = context.WithoutCancel(ctx)
	go s.worker()

	s.run(OpRestore, func(ctx context.Context) error {
		s.attempted = s.state.Persisted().Configuration
		return s.state.Restore(ctx)
	})
	s.log.Info("control surface started", "engineEnabled", s.state.IsEngineEnabled())
	return nil
}

// Close tears the engine down without touching persisted intent, stops the
// worker and demotes the host. It is safe to call more than once.
func (s *Surface) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// Transitions still queued behind the teardown see closed and drop.
		s.mu.Lock()
		started := s.started
		s.closed = true
		s.mu.Unlock()

		if started {
			s.submit(OpTeardown, func(context.Context) error {
				s.state.Teardown()
				return nil
			})
			close(s.jobs)
			<-s.workerEnd
			err = s.host.Demote()
		}

		s.subMu.Lock()
		for ch := range s.subs {
			close(ch)
			delete(s.subs, ch)
		}
		s.subMu.Unlock()
		s.log.Info("control surface closed")
	})
	return err
}

func (s *Surface) worker() {
	defer close(s.workerEnd)
	for job := range s.jobs {
		job()
	}
}

// run hands fn to the worker and waits for it. Calls on a surface that is
// not running are dropped with a warning.
func (s *Surface) run(op string, fn func(ctx context.Context) error) {
	s.mu.RLock()
	ok := s.started && !s.closed
	s.mu.RUnlock()
	if !ok {
		s.log.Warn("transition dropped, control surface not running", "operation", op)
		return
	}
	s.submit(op, fn)
}

func (s *Surface) submit(op string, fn func(ctx context.Context) error) {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		if op != OpTeardown && s.isClosed() {
			s.log.Warn("transition dropped, control surface closed", "operation", op)
			return
		}
		err := fn(s.lifetime)
		s.finish(op, err)
	}

	// The send can race with Close closing the channel; recover turns that
	// into a dropped transition.
	defer func() {
		if recover() != nil {
			s.log.Warn("transition dropped, control surface closed", "operation", op)
		}
	}()
	s.jobs <- job
	<-done
}

func (s *Surface) finish(op string, err error) {
	if err != nil {
		s.log.Error("transition failed", "operation", op, "error", err)
	} else {
		s.log.Debug("transition applied", "operation", op)
	}

	s.mu.Lock()
	// Only engine transitions can fail; the flag toggles must not hide
	// the last engine failure.
	if op == OpEngine || op == OpRestore {
		s.lastErr = err
		s.failedDesc = ""
		if err != nil {
			s.failedDesc = s.attempted
		}
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.metrics.Transition(op, err)
	s.metrics.EngineRunning(s.state.IsEngineEnabled())
	s.broadcast(s.Status())
}

func (s *Surface) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// SetEngine enables (restarting if already enabled) or disables the engine.
func (s *Surface) SetEngine(enable bool, descriptor string) {
	s.run(OpEngine, func(ctx context.Context) error {
		s.attempted = descriptor
		return s.state.SetEngine(ctx, enable, descriptor)
	})
}

// SetRecordMissing toggles recording of missing requests.
func (s *Surface) SetRecordMissing(enable bool) {
	s.run(OpRecordMissing, func(context.Context) error {
		s.state.SetRecordMissing(enable)
		return nil
	})
}

// SetRecordMissingFailures toggles recording of failed missing requests.
func (s *Surface) SetRecordMissingFailures(enable bool) {
	s.run(OpRecordMissingFailures, func(context.Context) error {
		s.state.SetRecordMissingFailures(enable)
		return nil
	})
}

// Execute applies a named command. Unknown features are ignored.
func (s *Surface) Execute(cmd Command) {
	p := s.state.Persisted()

	switch strings.ToUpper(cmd.Feature) {
	case FeatureEngine:
		enable := p.Enable
		if cmd.Enable != nil {
			enable = *cmd.Enable
		}
		descriptor := p.Configuration
		if cmd.Descriptor != nil {
			descriptor = *cmd.Descriptor
		}
		s.SetEngine(enable, descriptor)
	case FeatureRecordMissing:
		enable := p.Record
		if cmd.Enable != nil {
			enable = *cmd.Enable
		}
		s.SetRecordMissing(enable)
	case FeatureRecordMissingFailures:
		enable := p.RecordFailures
		if cmd.Enable != nil {
			enable = *cmd.Enable
		}
		s.SetRecordMissingFailures(enable)
	default:
		s.log.Debug("ignoring unknown command", "feature", cmd.Feature)
	}
}

// IsEngineEnabled reports whether the engine is enabled and running.
func (s *Surface) IsEngineEnabled() bool { return s.state.IsEngineEnabled() }

// IsRecordingMissing reports whether the running engine records missing
// requests.
func (s *Surface) IsRecordingMissing() bool { return s.state.IsRecordingMissing() }

// LastError returns the failure of the most recent engine transition, or
// nil.
func (s *Surface) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Status returns the current state.
func (s *Surface) Status() Status {
	st := Status{
		Snapshot:  s.state.Snapshot(),
		Persisted: s.state.Persisted(),
	}
	s.mu.RLock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.FailedDescriptor = s.failedDesc
	}
	st.UpdatedAt = s.updatedAt
	s.mu.RUnlock()
	return st
}

// Subscribe returns a channel that receives the latest Status after every
// transition, and a function to unsubscribe. Slow readers only ever see
// the newest value. The channel is closed on unsubscribe or Close.
func (s *Surface) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	s.subMu.Lock()
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *Surface) broadcast(st Status) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		// Replace a stale unread value with the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
