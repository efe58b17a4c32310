package staging

import (
	"bytes"
	"fmt"

	"inertiavault/internal/iv"
)

// memoryStore keeps payloads in a map. Used for tests and small hosts.
type memoryStore struct {
	payloads map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{payloads: make(map[string][]byte)}
}

func (m *memoryStore) Write(hash string, payload []byte) error {
	m.payloads[hash] = bytes.Clone(payload)
	return nil
}

func (m *memoryStore) Read(hash string) ([]byte, error) {
	p, ok := m.payloads[hash]
	if !ok {
		return nil, fmt.Errorf("staged block %s: %w", hash, iv.ErrNotFound)
	}
	return p, nil
}

func (m *memoryStore) Remove(hash string) error {
	delete(m.payloads, hash)
	return nil
}

func (m *memoryStore) Destroy() error {
	clear(m.payloads)
	return nil
}
