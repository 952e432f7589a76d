package toggle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/prefs"
)

// Persisted keys.
const (
	KeyConfiguration  = "mockctl.configuration"
	KeyEnable         = "mockctl.enable"
	KeyRecord         = "mockctl.record"
	KeyRecordFailures = "mockctl.record_failures"
)

// Engine is a running mock server.
type Engine interface {
	Start() error
	Stop() error
	IsRunning() bool
	SetRecordMissingRequestsEnabled(enabled bool)
	SetRecordMissingFailuresEnabled(enabled bool)
	IsRecordingMissingRequests() bool
}

// Factory builds an engine from a configuration stream.
type Factory func(config io.Reader) (Engine, error)

// Resolver turns a descriptor into a configuration stream. A nil stream
// with a nil error means the descriptor is absent.
type Resolver interface {
	Resolve(ctx context.Context, descriptor string) (io.ReadCloser, error)
}

// Snapshot is a point-in-time copy of the in-memory state.
type Snapshot struct {
	EngineEnabled         bool   `json:"engineEnabled"`
	EngineRunning         bool   `json:"engineRunning"`
	RecordMissing         bool   `json:"recordMissing"`
	RecordMissingFailures bool   `json:"recordMissingFailures"`
	RecordingMissing      bool   `json:"recordingMissing"`
	Descriptor            string `json:"descriptor"`
}

// Persisted is the durable copy of the state.
type Persisted struct {
	Enable         bool   `json:"enable"`
	Record         bool   `json:"record"`
	RecordFailures bool   `json:"recordFailures"`
	Configuration  string `json:"configuration"`
}

// State is the toggle state machine.
type State struct {
	resolver Resolver
	factory  Factory
	store    prefs.Store
	log      *slog.Logger

	// mu guards the fields below. It is never held during I/O.
	mu             sync.RWMutex
	engineEnabled  bool
	recordMissing  bool
	recordFailures bool
	descriptor     string
	engine         Engine
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *State) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a disabled State. Call Restore to seed it from the store.
func New(resolver Resolver, factory Factory, store prefs.Store, opts ...Option) *State {
	s := &State{
		resolver: resolver,
		factory:  factory,
		store:    store,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, "toggle")
	return s
}

// Restore replays the persisted state: both sub-feature flags, then the
// engine if it was enabled with a descriptor. The returned error is the
// engine start failure, if any; the flags are applied regardless.
func (s *State) Restore(ctx context.Context) error {
	p := s.Persisted()

	s.mu.Lock()
	s.recordMissing = p.Record
	s.recordFailures = p.RecordFailures
	s.descriptor = p.Configuration
	s.mu.Unlock()

	var err error
	if p.Enable && p.Configuration != "" {
		err = s.SetEngine(ctx, true, p.Configuration)
	} else {
		err = s.SetEngine(ctx, false, p.Configuration)
	}

	s.SetRecordMissing(p.Record)
	s.SetRecordMissingFailures(p.RecordFailures)
	return err
}

// SetEngine enables or disables the engine. Enabling always stops the
// current engine first, then resolves the descriptor and starts a fresh
// engine from it. Any failure leaves the engine disabled.
func (s *State) SetEngine(ctx context.Context, enable bool, descriptor string) error {
	s.stopCurrent()

	if !enable {
		s.mu.Lock()
		s.engineEnabled = false
		s.mu.Unlock()
		s.putBool(KeyEnable, false)
		s.log.Info("engine disabled")
		return nil
	}

	eng, err := s.build(ctx, descriptor)
	if err != nil {
		s.mu.Lock()
		s.engineEnabled = false
		s.mu.Unlock()
		s.putBool(KeyEnable, false)
		return err
	}

	s.mu.Lock()
	s.engine = eng
	s.engineEnabled = true
	s.descriptor = descriptor
	missing, failures := s.recordMissing, s.recordFailures
	s.mu.Unlock()

	s.putString(KeyConfiguration, descriptor)
	s.putBool(KeyEnable, true)

	eng.SetRecordMissingRequestsEnabled(missing)
	eng.SetRecordMissingFailuresEnabled(failures)

	s.log.Info("engine enabled", "descriptor", descriptor)
	return nil
}

// build resolves descriptor and starts an engine from it. A failed engine
// is stopped best-effort and never returned.
func (s *State) build(ctx context.Context, descriptor string) (Engine, error) {
	rc, err := s.resolver.Resolve(ctx, descriptor)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, ErrNoConfiguration
	}
	defer func() { _ = rc.Close() }()

	eng, err := s.construct(rc)
	if err != nil {
		return nil, &EngineStartError{Descriptor: descriptor, Err: err}
	}
	return eng, nil
}

// construct runs the factory and starts the engine. A panic in either is
// returned as an error.
func (s *State) construct(config io.Reader) (eng Engine, err error) {
	defer func() {
		if p := recover(); p != nil {
			eng = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	eng, err = s.factory(config)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, errors.New("factory returned no engine")
	}
	if err := eng.Start(); err != nil {
		if stopErr := eng.Stop(); stopErr != nil {
			s.log.Debug("stopping failed engine", "error", stopErr)
		}
		return nil, err
	}
	return eng, nil
}

func (s *State) stopCurrent() {
	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()

	if eng == nil {
		return
	}
	if err := eng.Stop(); err != nil {
		s.log.Warn("stopping engine", "error", err)
	}
}

// SetRecordMissing stores and persists the flag and pushes it to the
// engine if one is running.
func (s *State) SetRecordMissing(enable bool) {
	s.mu.Lock()
	s.recordMissing = enable
	eng := s.engine
	s.mu.Unlock()

	s.putBool(KeyRecord, enable)
	if eng != nil {
		eng.SetRecordMissingRequestsEnabled(enable)
	}
}

// SetRecordMissingFailures stores and persists the flag and pushes it to
// the engine if one is running.
func (s *State) SetRecordMissingFailures(enable bool) {
	s.mu.Lock()
	s.recordFailures = enable
	eng := s.engine
	s.mu.Unlock()

	s.putBool(KeyRecordFailures, enable)
	if eng != nil {
		eng.SetRecordMissingFailuresEnabled(enable)
	}
}

// Teardown stops the engine without touching the persisted state, so the
// next Restore brings it back.
func (s *State) Teardown() {
	s.stopCurrent()
	s.mu.Lock()
	s.engineEnabled = false
	s.mu.Unlock()
}

// IsEngineEnabled reports whether the engine is enabled and running.
func (s *State) IsEngineEnabled() bool {
	s.mu.RLock()
	enabled, eng := s.engineEnabled, s.engine
	s.mu.RUnlock()
	return enabled && eng != nil && eng.IsRunning()
}

// IsRecordingMissing reports whether a running engine records missing
// requests.
func (s *State) IsRecordingMissing() bool {
	s.mu.RLock()
	eng := s.engine
	s.mu.RUnlock()
	return eng != nil && eng.IsRecordingMissingRequests()
}

// Snapshot returns the in-memory state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		EngineEnabled:         s.engineEnabled,
		RecordMissing:         s.recordMissing,
		RecordMissingFailures: s.recordFailures,
		Descriptor:            s.descriptor,
	}
	eng := s.engine
	s.mu.RUnlock()

	if eng != nil {
		snap.EngineRunning = eng.IsRunning()
		snap.RecordingMissing = eng.IsRecordingMissingRequests()
	}
	return snap
}

// Persisted reads the durable state.
func (s *State) Persisted() Persisted {
	return Persisted{
		Enable:         s.store.GetBool(KeyEnable, false),
		Record:         s.store.GetBool(KeyRecord, false),
		RecordFailures: s.store.GetBool(KeyRecordFailures, false),
		Configuration:  s.store.GetString(KeyConfiguration, ""),
	}
}

func (s *State) putBool(key string, v bool) {
	if err := s.store.PutBool(key, v); err != nil {
		s.log.Error("persisting state", "key", key, "error", err)
	}
}

func (s *State) putString(key, v string) {
	if err := s.store.PutString(key, v); err != nil {
		s.log.Error("persisting state", "key", key, "error", err)
	}
}
