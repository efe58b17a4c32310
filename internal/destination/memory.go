package destination

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"inertiavault/internal/iv"
)

// MemoryDestination keeps blocks and manifests in maps. It is safe for
// concurrent use and is mostly useful in tests.
type MemoryDestination struct {
	name      string
	mu        sync.RWMutex
	blocks    map[string][]byte
	manifests map[string][]byte
}

var _ iv.Destination = (*MemoryDestination)(nil)

func NewMemoryDestination(name string) *MemoryDestination {
	return &MemoryDestination{
		name:      name,
		blocks:    make(map[string][]byte),
		manifests: make(map[string][]byte),
	}
}

func (m *MemoryDestination) Name() string { return m.name }

func (m *MemoryDestination) Write(ctx context.Context, blockID string, data []byte) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[blockID] = bytes.Clone(data)
	return nil
}

func (m *MemoryDestination) Read(ctx context.Context, blockID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", blockID, iv.ErrNotFound)
	}
	return bytes.Clone(data), nil
}

func (m *MemoryDestination) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.blocks))
	for id := range m.blocks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryDestination) Delete(ctx context.Context, blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, blockID)
	return nil
}

func (m *MemoryDestination) PutManifest(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[name] = bytes.Clone(data)
	return nil
}

func (m *MemoryDestination) GetManifest(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.manifests[name]
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", name, iv.ErrNotFound)
	}
	return bytes.Clone(data), nil
}

// ValidateSetup always succeeds.
func (m *MemoryDestination) ValidateSetup(ctx context.Context) error {
	return nil
}

// Corrupt flips one byte of a stored block. It reports whether the block
// existed.
func (m *MemoryDestination) Corrupt(blockID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blocks[blockID]
	if !ok || len(data) == 0 {
		return ok
	}
	data[len(data)-1] ^= 0xff
	return true
}

// Len returns the number of stored blocks.
func (m *MemoryDestination) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
