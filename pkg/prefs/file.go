package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/getmockd/mockctl/pkg/logging"
)

// File is a Store backed by a JSON object on disk. Every put rewrites the
// document through a temp file and a rename.
type File struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	values map[string]any
}

// OpenFile loads path, creating its directory if needed. A missing file is
// an empty store.
func OpenFile(path string, log *slog.Logger) (*File, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating prefs directory: %w", err)
	}

	f := &File{path: path, log: log, values: make(map[string]any)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("reading prefs: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parsing prefs %s: %w", path, err)
	}
	if f.values == nil {
		f.values = make(map[string]any)
	}
	return f, nil
}

// Path returns the backing document.
func (f *File) Path() string { return f.path }

func (f *File) GetString(key, def string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if v, ok := f.values[key].(string); ok {
		return v
	}
	return def
}

func (f *File) GetBool(key string, def bool) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if v, ok := f.values[key].(bool); ok {
		return v
	}
	return def
}

func (f *File) PutString(key, value string) error { return f.put(key, value) }

func (f *File) PutBool(key string, value bool) error { return f.put(key, value) }

func (f *File) put(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[key]
	f.values[key] = value
	if err := f.save(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return fmt.Errorf("saving prefs: %w", err)
	}
	f.log.Debug("pref saved", "key", key)
	return nil
}

// save must be called with mu held.
func (f *File) save() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (f *File) Close() error { return nil }
