package toggle

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/resolver"
)

// journal records calls across fake engines in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.calls = append(j.calls, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakeEngine struct {
	name       string
	j          *journal
	startErr   error
	startPanic bool

	mu        sync.Mutex
	running   bool
	recording bool
	failures  bool
}

func (e *fakeEngine) Start() error {
	e.j.add(e.name + ".start")
	if e.startPanic {
		panic("listener exploded")
	}
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Stop() error {
	e.j.add(e.name + ".stop")
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *fakeEngine) SetRecordMissingRequestsEnabled(v bool) {
	e.j.add(e.name + ".record=" + boolString(v))
	e.mu.Lock()
	e.recording = v
	e.mu.Unlock()
}

func (e *fakeEngine) SetRecordMissingFailuresEnabled(v bool) {
	e.j.add(e.name + ".failures=" + boolString(v))
	e.mu.Lock()
	e.failures = v
	e.mu.Unlock()
}

func (e *fakeEngine) IsRecordingMissingRequests() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// factory hands out engines named e1, e2, ... and remembers the config
// each was built from.
type factory struct {
	j          *journal
	n          int
	configs    []string
	engines    []*fakeEngine
	buildErr   error
	buildPanic bool
	startErr   error
	startPanic bool
}

func (f *factory) build(r io.Reader) (Engine, error) {
	b, _ := io.ReadAll(r)
	f.configs = append(f.configs, string(b))
	if f.buildPanic {
		panic("parser exploded")
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.n++
	e := &fakeEngine{name: "e" + string(rune('0'+f.n)), j: f.j, startErr: f.startErr, startPanic: f.startPanic}
	f.engines = append(f.engines, e)
	return e, nil
}

func newState(t *testing.T) (*State, *factory, *prefs.Memory, *journal) {
	t.Helper()
	j := &journal{}
	f := &factory{j: j}
	store := prefs.NewMemory()
	return New(resolver.New(), f.build, store), f, store, j
}

var ctx = context.Background()

func TestSetEngine_EnableDisable(t *testing.T) {
	s, f, store, j := newState(t)

	require.NoError(t, s.SetEngine(ctx, true, `{"requests":[]}`))
	assert.True(t, s.IsEngineEnabled())
	assert.Equal(t, []string{`{"requests":[]}`}, f.configs)
	assert.True(t, store.GetBool(KeyEnable, false))
	assert.Equal(t, `{"requests":[]}`, store.GetString(KeyConfiguration, ""))

	require.NoError(t, s.SetEngine(ctx, false, ""))
	assert.False(t, s.IsEngineEnabled())
	assert.False(t, store.GetBool(KeyEnable, true))
	assert.Equal(t, `{"requests":[]}`, store.GetString(KeyConfiguration, ""), "disable keeps the descriptor")

	assert.Equal(t, []string{"e1.start", "e1.record=false", "e1.failures=false", "e1.stop"}, j.list())
}

func TestSetEngine_ReenableStopsBeforeStart(t *testing.T) {
	s, _, _, j := newState(t)

	require.NoError(t, s.SetEngine(ctx, true, "one"))
	require.NoError(t, s.SetEngine(ctx, true, "two"))

	calls := j.list()
	stop := indexOf(calls, "e1.stop")
	start := indexOf(calls, "e2.start")
	require.GreaterOrEqual(t, stop, 0)
	require.GreaterOrEqual(t, start, 0)
	assert.Less(t, stop, start)
	assert.True(t, s.IsEngineEnabled())
	assert.Equal(t, "two", s.Snapshot().Descriptor)
}

func TestSetEngine_SameDescriptorRestarts(t *testing.T) {
	s, f, _, _ := newState(t)
	require.NoError(t, s.SetEngine(ctx, true, "same"))
	require.NoError(t, s.SetEngine(ctx, true, "same"))
	assert.Len(t, f.engines, 2)
	assert.False(t, f.engines[0].IsRunning())
	assert.True(t, f.engines[1].IsRunning())
}

func TestSetEngine_ResolutionFailureDisables(t *testing.T) {
	s, f, store, _ := newState(t)
	require.NoError(t, s.SetEngine(ctx, true, "good"))

	err := s.SetEngine(ctx, true, "asset://missing.json")
	assert.ErrorIs(t, err, resolver.ErrNotFound)
	assert.False(t, s.IsEngineEnabled())
	assert.False(t, store.GetBool(KeyEnable, true))
	assert.Equal(t, "good", store.GetString(KeyConfiguration, ""), "failed descriptor is not persisted")
	assert.False(t, f.engines[0].IsRunning(), "old engine is stopped even though the new one failed")
	assert.Len(t, f.engines, 1)
}

func TestSetEngine_AbsentDescriptor(t *testing.T) {
	s, f, store, _ := newState(t)
	err := s.SetEngine(ctx, true, "")
	assert.ErrorIs(t, err, ErrNoConfiguration)
	assert.False(t, s.IsEngineEnabled())
	assert.False(t, store.GetBool(KeyEnable, true))
	assert.Empty(t, f.configs)
}

func TestSetEngine_BuildFailure(t *testing.T) {
	s, f, _, _ := newState(t)
	f.buildErr = errors.New("bad document")

	err := s.SetEngine(ctx, true, "x")
	var serr *EngineStartError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "x", serr.Descriptor)
	assert.ErrorIs(t, err, f.buildErr)
	assert.False(t, s.IsEngineEnabled())
}

func TestSetEngine_StartFailureStopsAndDiscards(t *testing.T) {
	s, f, _, j := newState(t)
	f.startErr = errors.New("address in use")

	err := s.SetEngine(ctx, true, "x")
	var serr *EngineStartError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, []string{"e1.start", "e1.stop"}, j.list())
	assert.False(t, s.IsEngineEnabled())
	assert.False(t, s.Snapshot().EngineRunning)

	// Nothing left to stop.
	require.NoError(t, s.SetEngine(ctx, false, ""))
	assert.Equal(t, []string{"e1.start", "e1.stop"}, j.list())
}

func TestSetEngine_PanicsBecomeStartErrors(t *testing.T) {
	t.Run("factory", func(t *testing.T) {
		s, f, store, _ := newState(t)
		f.buildPanic = true

		var serr *EngineStartError
		err := s.SetEngine(ctx, true, "x")
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "x", serr.Descriptor)
		assert.Contains(t, err.Error(), "parser exploded")
		assert.False(t, s.IsEngineEnabled())
		assert.False(t, store.GetBool(KeyEnable, true))
	})

	t.Run("start", func(t *testing.T) {
		s, f, _, j := newState(t)
		f.startPanic = true

		var serr *EngineStartError
		err := s.SetEngine(ctx, true, "x")
		require.ErrorAs(t, err, &serr)
		assert.Contains(t, err.Error(), "listener exploded")
		assert.False(t, s.IsEngineEnabled())
		assert.Equal(t, []string{"e1.start"}, j.list())

		// The state stays usable.
		f.startPanic = false
		require.NoError(t, s.SetEngine(ctx, true, "y"))
		assert.True(t, s.IsEngineEnabled())
	})
}

func TestSubFeatures_WhileDisabled(t *testing.T) {
	s, _, store, j := newState(t)

	s.SetRecordMissing(true)
	s.SetRecordMissingFailures(true)

	assert.Empty(t, j.list(), "no engine, nothing called")
	assert.False(t, s.IsRecordingMissing())
	assert.True(t, store.GetBool(KeyRecord, false))
	assert.True(t, store.GetBool(KeyRecordFailures, false))

	snap := s.Snapshot()
	assert.True(t, snap.RecordMissing)
	assert.True(t, snap.RecordMissingFailures)

	// Remembered intent reaches the next engine.
	require.NoError(t, s.SetEngine(ctx, true, "x"))
	assert.Equal(t, []string{"e1.start", "e1.record=true", "e1.failures=true"}, j.list())
	assert.True(t, s.IsRecordingMissing())
}

func TestSubFeatures_WhileEnabled(t *testing.T) {
	s, f, _, _ := newState(t)
	require.NoError(t, s.SetEngine(ctx, true, "x"))

	s.SetRecordMissing(true)
	assert.True(t, f.engines[0].IsRecordingMissingRequests())
	assert.True(t, s.IsRecordingMissing())

	s.SetRecordMissingFailures(true)
	assert.True(t, f.engines[0].failures)

	s.SetRecordMissing(false)
	assert.False(t, s.IsRecordingMissing())
}

func TestRestore(t *testing.T) {
	tests := []struct {
		name        string
		seed        Persisted
		wantEnabled bool
		wantBuilt   int
	}{
		{"nothing persisted", Persisted{}, false, 0},
		{"enabled with descriptor", Persisted{Enable: true, Configuration: "cfg", Record: true}, true, 1},
		{"enabled without descriptor", Persisted{Enable: true}, false, 0},
		{"disabled with descriptor", Persisted{Configuration: "cfg", RecordFailures: true}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, f, store, _ := newState(t)
			require.NoError(t, store.PutBool(KeyEnable, tt.seed.Enable))
			require.NoError(t, store.PutBool(KeyRecord, tt.seed.Record))
			require.NoError(t, store.PutBool(KeyRecordFailures, tt.seed.RecordFailures))
			require.NoError(t, store.PutString(KeyConfiguration, tt.seed.Configuration))

			err := s.Restore(ctx)
			if tt.seed.Enable && tt.seed.Configuration == "" {
				assert.NoError(t, err, "absent descriptor is not restored")
			}
			assert.Equal(t, tt.wantEnabled, s.IsEngineEnabled())
			assert.Len(t, f.engines, tt.wantBuilt)

			snap := s.Snapshot()
			assert.Equal(t, tt.seed.Record, snap.RecordMissing)
			assert.Equal(t, tt.seed.RecordFailures, snap.RecordMissingFailures)
			assert.Equal(t, tt.seed.Configuration, snap.Descriptor)
			if tt.wantBuilt > 0 {
				assert.Equal(t, tt.seed.Record, f.engines[0].IsRecordingMissingRequests())
			}
		})
	}
}

func TestTeardownKeepsPersistedIntent(t *testing.T) {
	s, f, store, _ := newState(t)
	require.NoError(t, s.SetEngine(ctx, true, "cfg"))

	s.Teardown()
	assert.False(t, s.IsEngineEnabled())
	assert.False(t, f.engines[0].IsRunning())
	assert.True(t, store.GetBool(KeyEnable, false))

	again := New(resolver.New(), f.build, store)
	require.NoError(t, again.Restore(ctx))
	assert.True(t, again.IsEngineEnabled())
}

func TestPersisted(t *testing.T) {
	s, _, _, _ := newState(t)
	s.SetRecordMissing(true)
	require.NoError(t, s.SetEngine(ctx, true, "cfg"))
	assert.Equal(t, Persisted{Enable: true, Record: true, Configuration: "cfg"}, s.Persisted())
}

func TestEngineStartError_Message(t *testing.T) {
	err := &EngineStartError{Descriptor: "d", Err: errors.New("boom")}
	assert.True(t, strings.Contains(err.Error(), `"d"`))
	assert.True(t, strings.Contains(err.Error(), "boom"))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
