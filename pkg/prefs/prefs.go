package prefs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/getmockd/mockctl/pkg/logging"
)

// Store is a small typed key/value store.
type Store interface {
	GetString(key, def string) string
	GetBool(key string, def bool) bool
	PutString(key, value string) error
	PutBool(key string, value bool) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

// Backends.
const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend Backend `yaml:"backend" json:"backend"`
	// Path is the JSON document (file) or database file (sqlite).
	// Empty means the default location under DefaultDataDir.
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns the file backend at its default location.
func DefaultConfig() Config {
	return Config{Backend: BackendFile}
}

// Open creates the Store described by cfg.
func Open(cfg Config, log *slog.Logger) (Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	backend := Backend(strings.ToLower(string(cfg.Backend)))
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(DefaultDataDir(), "prefs.json")
		}
		return OpenFile(path, log)
	case BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(DefaultDataDir(), "prefs.db")
		}
		return OpenSQLite(path, log)
	default:
		return nil, fmt.Errorf("unknown prefs backend %q (expected memory, file or sqlite)", cfg.Backend)
	}
}

// DefaultDataDir returns the default data directory following the XDG
// base directory layout.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "mockctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".mockctl", "data")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "mockctl")
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "mockctl")
		}
		return filepath.Join(home, "AppData", "Local", "mockctl")
	}
	return filepath.Join(home, ".local", "share", "mockctl")
}
