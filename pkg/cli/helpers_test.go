package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockctl/pkg/config"
	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/recording"
)

const pingDoc = `{"requests":[{"path":"/ping","responses":[{"body":"pong"}]}]}`

// resetFlags restores every flag in the tree, since cobra commands here
// are package globals shared between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Admin.Address = "127.0.0.1:0"
	cfg.Engine.Address = "127.0.0.1:0"
	cfg.Prefs = prefs.Config{Backend: prefs.BackendMemory}
	cfg.Watch.Enabled = false
	cfg.Reconcile.SettleDelay = 20 * time.Millisecond
	cfg.PIDFile = filepath.Join(dir, "mockctl.pid")
	cfg.Engine.RecordingsFile = filepath.Join(dir, "recordings", "recordings.json")
	return cfg
}

// startDaemon runs a daemon until the returned stop func or test cleanup.
func startDaemon(t *testing.T, cfg *config.Config) (*daemon, string, func()) {
	t.Helper()
	d, err := newDaemon(cfg, logging.Nop(), "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	select {
	case <-d.ready:
	case err := <-done:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	}
	t.Cleanup(stop)
	return d, "http://" + d.api.Addr(), stop
}

func addRecording(t *testing.T, store *recording.Store, method, target string, status int, body string) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := recording.New(req, nil)
	resp := httptest.NewRecorder()
	resp.WriteHeader(status)
	_, _ = resp.WriteString(body)
	rec.Complete(resp.Result(), []byte(body), 5*time.Millisecond)
	store.Add(rec)
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
