// Package reconcile applies a UI's desired state to the engine holder in
// the background and rolls the UI back when the engine did not come up.
//
// The UI updates optimistically and calls Submit with the full desired
// tuple. One unit of work runs at a time; a Submit while a unit is running
// replaces any pending tuple, so bursts collapse to the newest state.
// After applying, the reconciler waits a settle delay and reads the engine
// state back. If the engine was wanted but is not running, the View is
// told to roll back. There is no automatic retry.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/mockctl/pkg/logging"
)

// DefaultSettleDelay is the pause between applying and reading back.
const DefaultSettleDelay = 200 * time.Millisecond

// RollbackMessage is shown to the user when the engine failed to start.
const RollbackMessage = "The mock engine could not be started, check configuration."

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("reconciler is closed")

// Desired is the full state a UI wants.
type Desired struct {
	Engine                bool   `json:"engine"`
	Descriptor            string `json:"descriptor"`
	RecordMissing         bool   `json:"recordMissing"`
	RecordMissingFailures bool   `json:"recordMissingFailures"`
}

// Target is the holder of the engine.
type Target interface {
	SetEngine(ctx context.Context, enable bool, descriptor string) error
	SetRecordMissing(ctx context.Context, enable bool) error
	SetRecordMissingFailures(ctx context.Context, enable bool) error
	IsEngineEnabled(ctx context.Context) (bool, error)
}

// Diagnoser is implemented by targets that can explain the last failure.
type Diagnoser interface {
	LastFailure(ctx context.Context) (string, error)
}

// Rollback tells the View to revert its engine control.
type Rollback struct {
	Desired Desired
	Message string
	// Cause is the failure reported by the target, when available.
	Cause string
}

// View receives reconciliation outcomes. Rollback is called at most once
// per applied tuple.
type View interface {
	Rollback(rb Rollback)
}

// BusyView is implemented by views that show progress.
type BusyView interface {
	Busy(busy bool)
}

// ViewFunc adapts a function to View.
type ViewFunc func(Rollback)

func (f ViewFunc) Rollback(rb Rollback) { f(rb) }

// Reconciler is a single-flight applier.
type Reconciler struct {
	target     Target
	view       View
	settle     time.Duration
	log        *slog.Logger
	onRollback func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	pending *Desired
	closed  bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Reconciler) {
		if d >= 0 {
			r.settle = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRollbackHook registers fn to run on every rollback.
func WithRollbackHook(fn func()) Option {
	return func(r *Reconciler) { r.onRollback = fn }
}

// New creates a Reconciler for target reporting to view.
func New(target Target, view View, opts ...Option) *Reconciler {
	r := &Reconciler{
		target: target,
		view:   view,
		settle: DefaultSettleDelay,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.Component(r.log, "reconcile")
	r.cond = sync.NewCond(&r.mu)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Submit schedules d. It never blocks on the target.
func (r *Reconciler) Submit(d Desired) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.running {
		r.pending = &d
		r.log.Debug("superseding pending state", "engine", d.Engine)
		return nil
	}
	r.running = true
	go r.loop(d)
	return nil
}

func (r *Reconciler) loop(d Desired) {
	r.busy(true)
	defer r.busy(false)

	for {
		r.apply(d)

		r.mu.Lock()
		if r.pending == nil || r.closed {
			r.pending = nil
			r.running = false
			r.cond.Broadcast()
			r.mu.Unlock()
			return
		}
		next := *r.pending
		r.pending = nil
		r.mu.Unlock()

		d = next
	}
}

// apply runs one unit. The read-back is skipped when a newer tuple arrived
// during the settle delay. Calls on the target are never cancelled.
func (r *Reconciler) apply(d Desired) {
	ctx := context.Background()

	if err := r.target.SetEngine(ctx, d.Engine, d.Descriptor); err != nil {
		r.log.Warn("set engine", "error", err)
	}
	if err := r.target.SetRecordMissing(ctx, d.RecordMissing); err != nil {
		r.log.Warn("set record missing", "error", err)
	}
	if err := r.target.SetRecordMissingFailures(ctx, d.RecordMissingFailures); err != nil {
		r.log.Warn("set record missing failures", "error", err)
	}

	if r.settle > 0 {
		t := time.NewTimer(r.settle)
		select {
		case <-t.C:
		case <-r.ctx.Done():
			t.Stop()
			return
		}
	}

	r.mu.Lock()
	superseded := r.pending != nil || r.closed
	r.mu.Unlock()
	if superseded || !d.Engine {
		return
	}

	enabled, err := r.target.IsEngineEnabled(ctx)
	if err != nil {
		r.log.Warn("reading engine state", "error", err)
	}
	if enabled {
		return
	}

	rb := Rollback{Desired: d, Message: RollbackMessage}
	if diag, ok := r.target.(Diagnoser); ok {
		if cause, err := diag.LastFailure(ctx); err == nil {
			rb.Cause = cause
		}
	}
	if rb.Cause == "" && err != nil {
		rb.Cause = fmt.Sprintf("could not read engine state: %v", err)
	}

	r.log.Info("engine not running after apply, rolling back", "descriptor", d.Descriptor, "cause", rb.Cause)
	if r.onRollback != nil {
		r.onRollback()
	}
	if r.view != nil {
		r.view.Rollback(rb)
	}
}

func (r *Reconciler) busy(b bool) {
	if bv, ok := r.view.(BusyView); ok {
		bv.Busy(b)
	}
}

// Wait blocks until no unit is running or pending.
func (r *Reconciler) Wait() {
	r.mu.Lock()
	for r.running {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

// Close rejects further submits, abandons the settle wait of a running unit
// and waits for it to finish.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.Wait()
}
