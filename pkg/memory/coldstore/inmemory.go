package coldstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/memwal/pkg/memory"
)

const memoryScheme = "mem"

// Memory keeps compressed originals in process. Used by tests and by
// archive.provider = "memory".
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-process cold store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, tenant, key string, original []byte) (string, error) {
	name := objectName(tenant, key)

	m.mu.Lock()
	m.objects[name] = compress(original)
	m.mu.Unlock()

	return memoryScheme + "://archive/" + name, nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	_, name, err := splitRef(ref, memoryScheme)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cold object %s: %w", ref, memory.ErrNotFound)
	}
	return decompress(data)
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ memory.ColdStore = (*Memory)(nil)
