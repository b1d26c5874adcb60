package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. Settings round-trip through JSON so it
// behaves like the persistent drivers.
type Memory struct {
	mu       sync.Mutex
	seen     []string
	hasSeen  bool
	settings map[string][]byte
	audit    []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{settings: map[string][]byte{}}
}

func (m *Memory) LoadSeen(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSeen {
		return nil, ErrNotFound
	}
	return append([]string(nil), m.seen...), nil
}

func (m *Memory) SaveSeen(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append([]string(nil), ids...)
	m.hasSeen = true
	return nil
}

func (m *Memory) GetSetting(ctx context.Context, key string, out any) error {
	m.mu.Lock()
	raw, ok := m.settings[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) SetSetting(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.settings[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// Audit returns a copy of recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
