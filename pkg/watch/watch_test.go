package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/resolver"
	"github.com/getmockd/mockctl/pkg/toggle"
)

type engine struct{ running atomic.Bool }

func (e *engine) Start() error {
	e.running.Store(true)
	return nil
}

func (e *engine) Stop() error {
	e.running.Store(false)
	return nil
}

func (e *engine) IsRunning() bool                      { return e.running.Load() }
func (e *engine) SetRecordMissingRequestsEnabled(bool) {}
func (e *engine) SetRecordMissingFailuresEnabled(bool) {}
func (e *engine) IsRecordingMissingRequests() bool     { return false }

// builds records every document the factory was handed.
type builds struct {
	mu   sync.Mutex
	docs []string
}

func (b *builds) factory(r io.Reader) (toggle.Engine, error) {
	data, _ := io.ReadAll(r)
	b.mu.Lock()
	b.docs = append(b.docs, string(data))
	b.mu.Unlock()
	if string(data) == "broken" {
		return nil, errors.New("invalid document")
	}
	return &engine{}, nil
}

func (b *builds) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.docs) == 0 {
		return ""
	}
	return b.docs[len(b.docs)-1]
}

func (b *builds) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docs)
}

func setup(t *testing.T) (*control.Surface, *builds, string) {
	t.Helper()
	b := &builds{}
	s := control.New(resolver.New(), b.factory, prefs.NewMemory())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))
	return s, b, path
}

func run(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

// rewriteUntil keeps writing content until cond holds, which covers the
// window before the watch is armed.
func rewriteUntil(t *testing.T, path, content string, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		_ = os.WriteFile(path, []byte(content), 0o600)
		return false
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	s, b, path := setup(t)
	s.SetEngine(true, "file://"+path)
	require.True(t, s.IsEngineEnabled())
	assert.Equal(t, "v1", b.last())

	run(t, New(s, WithDebounce(20*time.Millisecond)))

	rewriteUntil(t, path, "v2", func() bool { return b.last() == "v2" })
	assert.True(t, s.IsEngineEnabled())
	assert.Equal(t, "file://"+path, s.Status().Descriptor)
}

func TestWatcher_PlainPathDescriptor(t *testing.T) {
	s, b, path := setup(t)
	s.SetEngine(true, path)
	require.True(t, s.IsEngineEnabled())

	run(t, New(s, WithDebounce(20*time.Millisecond)))

	rewriteUntil(t, path, "v2", func() bool { return b.last() == "v2" })
}

func TestWatcher_FailedReloadStaysArmed(t *testing.T) {
	s, b, path := setup(t)
	s.SetEngine(true, "file://"+path)

	run(t, New(s, WithDebounce(20*time.Millisecond)))

	rewriteUntil(t, path, "broken", func() bool { return b.last() == "broken" })
	require.Eventually(t, func() bool { return !s.IsEngineEnabled() }, time.Second, 10*time.Millisecond)

	rewriteUntil(t, path, "v3", func() bool { return b.last() == "v3" })
	assert.True(t, s.IsEngineEnabled())
}

func TestWatcher_DisableDisarms(t *testing.T) {
	s, b, path := setup(t)
	s.SetEngine(true, "file://"+path)

	run(t, New(s, WithDebounce(20*time.Millisecond)))
	rewriteUntil(t, path, "v2", func() bool { return b.last() == "v2" })

	s.SetEngine(false, "")
	// Give the watcher time to see the disable.
	time.Sleep(100 * time.Millisecond)
	before := b.count()

	require.NoError(t, os.WriteFile(path, []byte("v4"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, b.count())
	assert.False(t, s.IsEngineEnabled())
}

func TestWatcher_DisableCancelsPendingReload(t *testing.T) {
	s, b, path := setup(t)
	s.SetEngine(true, "file://"+path)
	require.True(t, s.IsEngineEnabled())

	w := New(s, WithDebounce(300*time.Millisecond))
	run(t, w)

	pending := func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.timer != nil
	}
	rewriteUntil(t, path, "v2", pending)

	s.SetEngine(false, "")
	time.Sleep(500 * time.Millisecond)

	assert.False(t, s.IsEngineEnabled(), "a pending reload re-enabled the engine")
	assert.Equal(t, 1, b.count())
	assert.False(t, pending())
}

func TestWatcher_FailedSwitchDisarms(t *testing.T) {
	s, b, path := setup(t)
	s.SetEngine(true, "file://"+path)

	w := New(s, WithDebounce(20*time.Millisecond))
	run(t, w)
	rewriteUntil(t, path, "v2", func() bool { return b.last() == "v2" })

	s.SetEngine(true, "broken")
	require.False(t, s.IsEngineEnabled())
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.path == ""
	}, time.Second, 5*time.Millisecond)
	before := b.count()

	require.NoError(t, os.WriteFile(path, []byte("v3"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, b.count())
	assert.Equal(t, "broken", b.last())
	assert.False(t, s.IsEngineEnabled())
}

func TestWatcher_RunTwice(t *testing.T) {
	s, _, _ := setup(t)
	w := New(s)
	run(t, w)

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, w.Run(context.Background()))
}

func TestLocalPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	tests := []struct {
		name       string
		descriptor string
		want       string
	}{
		{"empty", "", ""},
		{"file scheme", "file://" + file, file},
		{"file scheme missing file", "file://" + filepath.Join(dir, "nope"), filepath.Join(dir, "nope")},
		{"plain existing path", file, file},
		{"plain directory", dir, ""},
		{"plain missing path", filepath.Join(dir, "nope"), ""},
		{"asset", "asset://cfg.json", ""},
		{"http", "http://example.test/cfg.json", ""},
		{"literal", `{"requests":[]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LocalPath(tt.descriptor))
		})
	}
}
