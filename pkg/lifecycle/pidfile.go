package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getmockd/mockctl/pkg/prefs"
)

// ErrAlreadyRunning is returned by Promote when the PID file names another
// live process.
var ErrAlreadyRunning = errors.New("another mockctl daemon is running")

// PIDFile describes a running daemon.
type PIDFile struct {
	PID          int       `json:"pid"`
	StartTime    time.Time `json:"startTime"`
	Version      string    `json:"version"`
	AdminAddress string    `json:"adminAddress,omitempty"`
}

// DefaultPIDPath returns the PID file location under the data directory.
func DefaultPIDPath() string {
	return filepath.Join(prefs.DefaultDataDir(), "mockctl.pid")
}

// WritePIDFile writes info to path atomically, creating the directory.
func WritePIDFile(path string, info *PIDFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PID file: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename PID file: %w", err)
	}
	return nil
}

// ReadPIDFile reads the PID file at path. A missing file yields an error
// matching os.ErrNotExist.
func ReadPIDFile(path string) (*PIDFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}
	var info PIDFile
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse PID file: %w", err)
	}
	return &info, nil
}

// RemovePIDFile removes path. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	if p.PID <= 0 {
		return false
	}
	process, err := os.FindProcess(p.PID)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}

// Uptime returns the time since the daemon started.
func (p *PIDFile) Uptime() time.Duration {
	if p.StartTime.IsZero() {
		return 0
	}
	return time.Since(p.StartTime)
}

// FormatUptime renders Uptime as "42s", "3m 5s", "2h 10m" or "1d 4h 0m".
func (p *PIDFile) FormatUptime() string {
	d := p.Uptime()
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if hours >= 24 {
		return fmt.Sprintf("%dd %dh %dm", hours/24, hours%24, mins)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// AdminURL returns the admin API base URL, or "" when unknown.
func (p *PIDFile) AdminURL() string {
	if p.AdminAddress == "" {
		return ""
	}
	return "http://" + p.AdminAddress
}

// PIDHost is a Host backed by a PID file. Promote refuses to run when
// another live daemon owns the file; a stale file is replaced.
type PIDHost struct {
	Path         string
	Version      string
	AdminAddress string

	// pid is overridable in tests.
	pid func() int
}

// NewPIDHost creates a PIDHost for path.
func NewPIDHost(path, version, adminAddress string) *PIDHost {
	return &PIDHost{Path: path, Version: version, AdminAddress: adminAddress, pid: os.Getpid}
}

func (h *PIDHost) Promote() error {
	self := h.pid()
	if existing, err := ReadPIDFile(h.Path); err == nil {
		if existing.PID != self && existing.IsRunning() {
			return fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, existing.PID, h.Path)
		}
	}
	return WritePIDFile(h.Path, &PIDFile{
		PID:          self,
		StartTime:    time.Now(),
		Version:      h.Version,
		AdminAddress: h.AdminAddress,
	})
}

// Demote removes the PID file if it is still ours.
func (h *PIDHost) Demote() error {
	existing, err := ReadPIDFile(h.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return RemovePIDFile(h.Path)
	}
	if existing.PID != h.pid() {
		return nil
	}
	return RemovePIDFile(h.Path)
}
