package storage

import "sync"

var (
	_ Storage       = (*Memory)(nil)
	_ TokenRetainer = (*Memory)(nil)
)

// Memory keeps records for the life of the process.
type Memory struct {
	mu      sync.RWMutex
	records map[string]string
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]string)}
}

func (m *Memory) Load(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[key]
	return v, ok, nil
}

func (m *Memory) Save(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// RetainsTokens is true: nothing leaves the process.
func (m *Memory) RetainsTokens() bool { return true }
