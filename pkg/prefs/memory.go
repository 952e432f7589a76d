package prefs

import "sync"

// Memory is an in-process Store. Nothing survives the process.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

func (m *Memory) GetString(key, def string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key].(string); ok {
		return v
	}
	return def
}

func (m *Memory) GetBool(key string, def bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key].(bool); ok {
		return v
	}
	return def
}

func (m *Memory) PutString(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutBool(key string, value bool) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
