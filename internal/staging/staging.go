// Package staging holds encoded block payloads of a run between encoding and
// upload.
package staging

import (
	"fmt"
	"sync"

	"inertiavault/internal/iv"
)

// stagingArea implements iv.StagingArea on top of a stagingStore. All shared
// bookkeeping lives here.
type stagingArea struct {
	store   stagingStore
	maxSize int64

	mu     sync.Mutex
	order  []string
	sizes  map[string]int64 // hash -> raw block size
	stored map[string]int64 // hash -> payload size
	total  int64
	closed bool
}

var _ iv.StagingArea = (*stagingArea)(nil)

func newStagingArea(store stagingStore, maxSize int64) *stagingArea {
	return &stagingArea{
		store:   store,
		maxSize: maxSize,
		sizes:   make(map[string]int64),
		stored:  make(map[string]int64),
	}
}

func (s *stagingArea) Put(hash string, size int64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("staging area closed")
	}
	if _, ok := s.sizes[hash]; ok {
		return nil
	}
	if s.maxSize > 0 && s.total+int64(len(payload)) > s.maxSize {
		return fmt.Errorf("%w: staging area full: would exceed max size of %d bytes", iv.ErrQuota, s.maxSize)
	}
	if err := s.store.Write(hash, payload); err != nil {
		s.store.Remove(hash)
		return err
	}
	s.order = append(s.order, hash)
	s.sizes[hash] = size
	s.stored[hash] = int64(len(payload))
	s.total += int64(len(payload))
	return nil
}

func (s *stagingArea) Get(hash string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[hash]
	if !ok {
		return nil, 0, fmt.Errorf("staged block %s: %w", hash, iv.ErrNotFound)
	}
	payload, err := s.store.Read(hash)
	if err != nil {
		return nil, 0, err
	}
	return payload, size, nil
}

func (s *stagingArea) Remove(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sizes[hash]; !ok {
		return nil
	}
	if err := s.store.Remove(hash); err != nil {
		return fmt.Errorf("removing staged block %s: %w", hash, err)
	}
	s.total -= s.stored[hash]
	delete(s.sizes, hash)
	delete(s.stored, hash)
	for i, h := range s.order {
		if h == hash {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stagingArea) Hashes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *stagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, nil
}

func (s *stagingArea) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.order = nil
	clear(s.sizes)
	clear(s.stored)
	s.total = 0
	return s.store.Destroy()
}
