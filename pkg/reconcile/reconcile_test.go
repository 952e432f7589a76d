package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/resolver"
	"github.com/getmockd/mockctl/pkg/toggle"
)

// fakeTarget records applied tuples. The engine comes up unless the
// descriptor is in failing.
type fakeTarget struct {
	mu       sync.Mutex
	applied  []Desired
	current  Desired
	failing  map[string]bool
	gate     chan struct{}
	inflight int
	overlap  bool
	readErr  error
	reads    int
}

func (f *fakeTarget) SetEngine(_ context.Context, enable bool, descriptor string) error {
	f.mu.Lock()
	f.inflight++
	if f.inflight > 1 {
		f.overlap = true
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.current = Desired{Engine: enable, Descriptor: descriptor}
	return nil
}

func (f *fakeTarget) SetRecordMissing(_ context.Context, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.RecordMissing = enable
	return nil
}

func (f *fakeTarget) SetRecordMissingFailures(_ context.Context, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.RecordMissingFailures = enable
	f.applied = append(f.applied, f.current)
	return nil
}

func (f *fakeTarget) IsEngineEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.current.Engine && !f.failing[f.current.Descriptor], nil
}

type recordingView struct {
	mu        sync.Mutex
	rollbacks []Rollback
	busy      []bool
}

func (v *recordingView) Rollback(rb Rollback) {
	v.mu.Lock()
	v.rollbacks = append(v.rollbacks, rb)
	v.mu.Unlock()
}

func (v *recordingView) Busy(b bool) {
	v.mu.Lock()
	v.busy = append(v.busy, b)
	v.mu.Unlock()
}

func (v *recordingView) snapshot() ([]Rollback, []bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Rollback(nil), v.rollbacks...), append([]bool(nil), v.busy...)
}

func TestReconciler_AppliesFullTuple(t *testing.T) {
	target := &fakeTarget{}
	view := &recordingView{}
	r := New(target, view, WithSettleDelay(0))
	defer r.Close()

	want := Desired{Engine: true, Descriptor: "cfg", RecordMissing: true, RecordMissingFailures: true}
	require.NoError(t, r.Submit(want))
	r.Wait()

	assert.Equal(t, []Desired{want}, target.applied)
	rollbacks, busy := view.snapshot()
	assert.Empty(t, rollbacks)
	assert.Equal(t, []bool{true, false}, busy)
}

func TestReconciler_RollbackExactlyOnce(t *testing.T) {
	target := &fakeTarget{failing: map[string]bool{"bad://x": true}}
	view := &recordingView{}
	var hooked int
	r := New(target, view, WithSettleDelay(time.Millisecond), WithRollbackHook(func() { hooked++ }))
	defer r.Close()

	d := Desired{Engine: true, Descriptor: "bad://x"}
	require.NoError(t, r.Submit(d))
	r.Wait()

	rollbacks, _ := view.snapshot()
	require.Len(t, rollbacks, 1)
	assert.Equal(t, d, rollbacks[0].Desired)
	assert.Equal(t, RollbackMessage, rollbacks[0].Message)
	assert.Contains(t, rollbacks[0].Message, "check configuration")
	assert.Equal(t, 1, hooked)
}

func TestReconciler_NoRollbackWhenDisabling(t *testing.T) {
	target := &fakeTarget{failing: map[string]bool{"x": true}}
	view := &recordingView{}
	r := New(target, view, WithSettleDelay(0))
	defer r.Close()

	require.NoError(t, r.Submit(Desired{Engine: false, Descriptor: "x"}))
	r.Wait()

	rollbacks, _ := view.snapshot()
	assert.Empty(t, rollbacks)
	assert.Zero(t, target.reads, "disabled engine is not read back")
}

func TestReconciler_ReadErrorRollsBackWithCause(t *testing.T) {
	target := &fakeTarget{readErr: errors.New("connection refused")}
	view := &recordingView{}
	r := New(target, view, WithSettleDelay(0))
	defer r.Close()

	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "cfg"}))
	r.Wait()

	rollbacks, _ := view.snapshot()
	require.Len(t, rollbacks, 1)
	assert.Contains(t, rollbacks[0].Cause, "connection refused")
}

func TestReconciler_SupersedesPending(t *testing.T) {
	target := &fakeTarget{gate: make(chan struct{}), failing: map[string]bool{"first": true, "second": true}}
	view := &recordingView{}
	r := New(target, view, WithSettleDelay(time.Millisecond))
	defer r.Close()

	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "first"}))
	// While "first" is blocked in SetEngine, queue two more; only the last
	// survives.
	require.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return target.inflight == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "second"}))
	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "third"}))

	close(target.gate)
	r.Wait()

	var descriptors []string
	for _, d := range target.applied {
		descriptors = append(descriptors, d.Descriptor)
	}
	assert.Equal(t, []string{"first", "third"}, descriptors)
	assert.False(t, target.overlap)

	// "first" failed but was superseded before its read-back, "third"
	// succeeded: no rollback at all.
	rollbacks, busy := view.snapshot()
	assert.Empty(t, rollbacks)
	assert.Equal(t, []bool{true, false}, busy)
}

func TestReconciler_OnlyNewestFailureRollsBack(t *testing.T) {
	target := &fakeTarget{
		gate:    make(chan struct{}),
		failing: map[string]bool{"first": true, "second": true, "third": true},
	}
	view := &recordingView{}
	r := New(target, view, WithSettleDelay(time.Millisecond))
	defer r.Close()

	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "first"}))
	require.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return target.inflight == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "second"}))
	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "third"}))

	close(target.gate)
	r.Wait()

	rollbacks, _ := view.snapshot()
	require.Len(t, rollbacks, 1, "superseded failures must not roll back")
	assert.Equal(t, "third", rollbacks[0].Desired.Descriptor)
	assert.Equal(t, 1, target.reads)
}

func TestReconciler_Close(t *testing.T) {
	target := &fakeTarget{}
	r := New(target, nil, WithSettleDelay(time.Hour))

	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "cfg"}))
	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abandon the settle delay")
	}
	assert.ErrorIs(t, r.Submit(Desired{}), ErrClosed)
}

func TestViewFunc(t *testing.T) {
	var got Rollback
	var v View = ViewFunc(func(rb Rollback) { got = rb })
	v.Rollback(Rollback{Message: "m"})
	assert.Equal(t, "m", got.Message)
}

// The end-to-end case: an unusable descriptor submitted against a real
// control surface produces exactly one rollback that carries the cause.
func TestReconciler_LocalSurfaceRollback(t *testing.T) {
	factory := func(r io.Reader) (toggle.Engine, error) {
		b, _ := io.ReadAll(r)
		return nil, errors.New("not an engine document: " + string(b))
	}
	surface := control.New(resolver.New(), factory, prefs.NewMemory())
	require.NoError(t, surface.Start(context.Background()))
	defer surface.Close()

	view := &recordingView{}
	r := New(Local(surface), view, WithSettleDelay(10*time.Millisecond))
	defer r.Close()

	require.NoError(t, r.Submit(Desired{Engine: true, Descriptor: "bad://x", RecordMissing: true}))
	r.Wait()

	rollbacks, _ := view.snapshot()
	require.Len(t, rollbacks, 1)
	assert.Contains(t, rollbacks[0].Cause, "bad://x")
	assert.False(t, surface.IsEngineEnabled())
	assert.True(t, surface.Status().RecordMissing)
}
