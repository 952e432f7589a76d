package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("recording not found")

// DefaultLimit caps a Store created with a non-positive limit.
const DefaultLimit = 1000

// Store keeps recordings in memory, oldest first. When the limit is hit the
// oldest recording is dropped.
type Store struct {
	mu         sync.RWMutex
	recordings []*Recording
	limit      int
	onChange   func(count int)
}

// NewStore creates a Store holding at most limit recordings.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit}
}

// OnChange registers fn to be called with the new count after every
// mutation. It runs outside the store lock.
func (s *Store) OnChange(fn func(count int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Add appends r.
func (s *Store) Add(r *Recording) {
	s.mu.Lock()
	s.recordings = append(s.recordings, r)
	if over := len(s.recordings) - s.limit; over > 0 {
		clear(s.recordings[:over])
		s.recordings = s.recordings[over:]
	}
	n, fn := len(s.recordings), s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

// List returns a copy of all recordings, oldest first.
func (s *Store) List() []*Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Recording, len(s.recordings))
	copy(out, s.recordings)
	return out
}

// Get returns the recording with the given ID.
func (s *Store) Get(id string) (*Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recordings {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Count returns the number of stored recordings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recordings)
}

// Clear removes all recordings and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	n := len(s.recordings)
	s.recordings = nil
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(0)
	}
	return n
}

// SaveToFile writes all recordings as a JSON array, atomically.
func (s *Store) SaveToFile(path string) error {
	data, err := json.MarshalIndent(s.List(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recordings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating recordings directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// LoadFromFile appends the recordings saved at path. A missing file is not
// an error.
func (s *Store) LoadFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var recs []*Recording
	if err := json.Unmarshal(data, &recs); err != nil {
		return 0, fmt.Errorf("decoding recordings %s: %w", path, err)
	}
	for _, r := range recs {
		s.Add(r)
	}
	return len(recs), nil
}
