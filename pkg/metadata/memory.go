package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Memory is the process-local fallback store. Entries do not expire; they
// are removed when the call ends or the process exits.
type Memory struct {
	mu   sync.RWMutex
	data map[string]types.CallFields
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]types.CallFields)}
}

func (m *Memory) Set(_ context.Context, phone string, fields types.CallFields, _ time.Duration) error {
	key, err := StorageKey(phone)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = fields
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, phone string) (types.CallFields, bool, error) {
	key, err := StorageKey(phone)
	if err != nil {
		return types.CallFields{}, false, err
	}
	m.mu.RLock()
	fields, ok := m.data[key]
	m.mu.RUnlock()
	return fields, ok, nil
}

func (m *Memory) Delete(_ context.Context, phone string) error {
	key, err := StorageKey(phone)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Backend() string { return "memory" }

func (m *Memory) Close() error { return nil }

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
