package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends opens each Store implementation in a fresh temp dir.
func backends(t *testing.T) map[string]func(t *testing.T, dir string) Store {
	t.Helper()
	return map[string]func(t *testing.T, dir string) Store{
		"memory": func(t *testing.T, dir string) Store {
			return NewMemory()
		},
		"file": func(t *testing.T, dir string) Store {
			s, err := OpenFile(filepath.Join(dir, "prefs.json"), nil)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, dir string) Store {
			s, err := OpenSQLite(filepath.Join(dir, "prefs.db"), nil)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_DefaultsAndRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()

			assert.Equal(t, "fallback", s.GetString("missing", "fallback"))
			assert.True(t, s.GetBool("missing", true))

			require.NoError(t, s.PutString("mockctl.configuration", "asset://config.json"))
			require.NoError(t, s.PutBool("mockctl.enable", true))

			assert.Equal(t, "asset://config.json", s.GetString("mockctl.configuration", ""))
			assert.True(t, s.GetBool("mockctl.enable", false))

			require.NoError(t, s.PutBool("mockctl.enable", false))
			assert.False(t, s.GetBool("mockctl.enable", true))
		})
	}
}

func TestStore_TypeMismatchYieldsDefault(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()

			require.NoError(t, s.PutString("k", "true"))
			assert.False(t, s.GetBool("k", false))

			require.NoError(t, s.PutBool("b", true))
			assert.Equal(t, "def", s.GetString("b", "def"))
		})
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	for name, open := range backends(t) {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			s := open(t, dir)
			require.NoError(t, s.PutString("mockctl.configuration", "file:///tmp/mocks.yaml"))
			require.NoError(t, s.PutBool("mockctl.record", true))
			require.NoError(t, s.Close())

			s = open(t, dir)
			defer s.Close()
			assert.Equal(t, "file:///tmp/mocks.yaml", s.GetString("mockctl.configuration", ""))
			assert.True(t, s.GetBool("mockctl.record", false))
		})
	}
}

func TestFile_AtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "prefs.json")

	s, err := OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.PutBool("mockctl.enable", true))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mockctl.enable": true}`, string(data))
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenFile(path, nil)
	assert.Error(t, err)
}

func TestFile_EmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s, err := OpenFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", s.GetString("a", "x"))
}

func TestSQLite_CloseTwice(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "prefs.db"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr bool
	}{
		{"memory", Config{Backend: BackendMemory}, &Memory{}, false},
		{"file", Config{Backend: BackendFile, Path: filepath.Join(dir, "p.json")}, &File{}, false},
		{"empty backend is file", Config{Path: filepath.Join(dir, "q.json")}, &File{}, false},
		{"case insensitive", Config{Backend: "SQLite", Path: filepath.Join(dir, "p.db")}, &SQLite{}, false},
		{"unknown", Config{Backend: "redis"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestDefaultDataDir_XDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	assert.Equal(t, filepath.Join("/xdg/data", "mockctl"), DefaultDataDir())
}
