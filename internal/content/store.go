// Package content implements the content-addressed block store: block bytes
// live at a destination, reference counts live in the block ledger.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"inertiavault/internal/iv"
)

var _ iv.ContentStore = (*Store)(nil)

// Store is the content store of one destination.
type Store struct {
	dest   iv.Destination
	ledger iv.BlockLedger
	codec  *codec
	clock  iv.Clock
	logger iv.Logger

	// Put encodes with these options.
	defaults iv.EncodeOptions

	// gc is held for reading by uploads and reference changes and for
	// writing by Collect.
	gc sync.RWMutex

	// uploads serializes Upload per hash.
	uploads hashLocks

	mu      sync.RWMutex
	decrypt iv.DecryptionContext
}

// NewStore creates a Store. encryptor may be nil when no job encrypts.
func NewStore(dest iv.Destination, ledger iv.BlockLedger, encryptor iv.Encryptor, defaults iv.EncodeOptions, clock iv.Clock, logger iv.Logger) (*Store, error) {
	c, err := newCodec(encryptor)
	if err != nil {
		return nil, err
	}
	return &Store{
		dest:     dest,
		ledger:   ledger,
		codec:    c,
		clock:    clock,
		logger:   logger,
		defaults: defaults,
	}, nil
}

// Hash returns the block ID of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SetDecryption makes encrypted blocks readable through Get and fully
// verifiable through Verify.
func (s *Store) SetDecryption(dec iv.DecryptionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrypt = dec
}

func (s *Store) decryption() iv.DecryptionContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decrypt
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	hash := Hash(data)
	err := s.Retain(ctx, hash)
	if err == nil {
		return hash, nil
	}
	if !errors.Is(err, iv.ErrNotFound) {
		return "", err
	}

	payload, err := s.Encode(data, s.defaults)
	if err != nil {
		return "", err
	}
	if err := s.Upload(ctx, hash, int64(len(data)), payload); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	block, payload, err := s.read(ctx, hash)
	if err != nil {
		return nil, err
	}
	data, err := s.codec.decode(payload, s.decryption())
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}
	if got := Hash(data); got != hash || int64(len(data)) != block.Size {
		return nil, fmt.Errorf("%w: block %s decoded to %s (%d bytes)", iv.ErrIntegrity, hash, got, len(data))
	}
	return data, nil
}

// read fetches a block's payload and checks it against the ledger digest.
func (s *Store) read(ctx context.Context, hash string) (*iv.Block, []byte, error) {
	block, err := s.ledger.FindBlock(s.dest.Name(), hash)
	if err != nil {
		return nil, nil, err
	}
	if block == nil {
		return nil, nil, fmt.Errorf("block %s: %w", hash, iv.ErrNotFound)
	}
	payload, err := s.dest.Read(ctx, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("reading block %s: %w", hash, err)
	}
	if got := Hash(payload); got != block.StoredDigest {
		return nil, nil, fmt.Errorf("%w: block %s payload digest %s, expected %s", iv.ErrIntegrity, hash, got, block.StoredDigest)
	}
	return block, payload, nil
}

func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	block, err := s.ledger.FindBlock(s.dest.Name(), hash)
	if err != nil {
		return false, err
	}
	return block != nil, nil
}

func (s *Store) Retain(ctx context.Context, hash string) error {
	s.gc.RLock()
	defer s.gc.RUnlock()
	return s.ledger.RetainBlock(s.dest.Name(), hash)
}

func (s *Store) Release(ctx context.Context, hash string) error {
	s.gc.RLock()
	defer s.gc.RUnlock()
	_, err := s.ledger.ReleaseBlock(s.dest.Name(), hash)
	return err
}

func (s *Store) Encode(data []byte, opts iv.EncodeOptions) ([]byte, error) {
	return s.codec.encode(data, opts)
}

// Upload writes a payload produced by Encode and records one reference to it.
// A block the ledger already knows is retained instead of written, so the
// recorded digest always describes the payload at the destination.
func (s *Store) Upload(ctx context.Context, hash string, size int64, payload []byte) error {
	if _, err := payloadFlags(payload); err != nil {
		return fmt.Errorf("block %s: %w", hash, err)
	}

	s.gc.RLock()
	defer s.gc.RUnlock()

	unlock := s.uploads.lock(hash)
	defer unlock()

	name := s.dest.Name()
	existing, err := s.ledger.FindBlock(name, hash)
	if err != nil {
		return fmt.Errorf("finding block %s: %w", hash, err)
	}
	if existing != nil {
		if err := s.ledger.RetainBlock(name, hash); err != nil {
			return fmt.Errorf("retaining block %s: %w", hash, err)
		}
		return nil
	}

	if err := s.dest.Write(ctx, hash, payload); err != nil {
		return fmt.Errorf("writing block %s: %w", hash, err)
	}
	err = s.ledger.RecordBlock(&iv.Block{
		Hash:         hash,
		Destination:  name,
		Size:         size,
		StoredSize:   int64(len(payload)),
		StoredDigest: Hash(payload),
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("recording block %s: %w", hash, err)
	}
	return nil
}

// hashLocks is a set of mutexes keyed by block hash. Entries are dropped
// once no caller holds or waits on them.
type hashLocks struct {
	mu    sync.Mutex
	locks map[string]*hashLock
}

type hashLock struct {
	sync.Mutex
	waiters int
}

func (l *hashLocks) lock(hash string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*hashLock)
	}
	hl, ok := l.locks[hash]
	if !ok {
		hl = &hashLock{}
		l.locks[hash] = hl
	}
	hl.waiters++
	l.mu.Unlock()

	hl.Lock()
	return func() {
		hl.Unlock()
		l.mu.Lock()
		hl.waiters--
		if hl.waiters == 0 {
			delete(l.locks, hash)
		}
		l.mu.Unlock()
	}
}

// Verify reads a block back and compares its payload digest with the ledger.
// Blocks that can be decoded with the keys at hand are also checked against
// their raw hash; encrypted blocks without an unlocked key are checked by
// payload digest only.
func (s *Store) Verify(ctx context.Context, hash string) error {
	block, payload, err := s.read(ctx, hash)
	if err != nil {
		return err
	}
	flags, err := payloadFlags(payload)
	if err != nil {
		return fmt.Errorf("block %s: %w", hash, err)
	}
	dec := s.decryption()
	if flags&flagEncrypted != 0 && dec == nil {
		return nil
	}
	data, err := s.codec.decode(payload, dec)
	if err != nil {
		return fmt.Errorf("block %s: %w", hash, err)
	}
	if got := Hash(data); got != hash || int64(len(data)) != block.Size {
		return fmt.Errorf("%w: block %s read back as %s", iv.ErrIntegrity, hash, got)
	}
	return nil
}

// Collect deletes zero-reference blocks, then destination objects the ledger
// does not know about.
func (s *Store) Collect(ctx context.Context) (*iv.CollectResult, error) {
	s.gc.Lock()
	defer s.gc.Unlock()

	name := s.dest.Name()
	result := &iv.CollectResult{}

	hashes, err := s.ledger.DeleteUnreferencedBlocks(name)
	if err != nil {
		return nil, fmt.Errorf("deleting unreferenced blocks: %w", err)
	}
	for _, h := range hashes {
		// A failed delete leaves an orphan that the next collection removes.
		if err := s.dest.Delete(ctx, h); err != nil {
			s.logger.Warn("deleting block", "destination", name, "block", h, "error", err)
			continue
		}
		result.Blocks++
	}

	known, err := s.ledger.ListBlocks(name)
	if err != nil {
		return result, fmt.Errorf("listing blocks: %w", err)
	}
	keep := make(map[string]bool, len(known))
	for _, b := range known {
		keep[b.Hash] = true
	}
	stored, err := s.dest.List(ctx)
	if err != nil {
		return result, fmt.Errorf("listing destination: %w", err)
	}
	for _, id := range stored {
		if keep[id] {
			continue
		}
		if err := s.dest.Delete(ctx, id); err != nil {
			s.logger.Warn("deleting orphan", "destination", name, "block", id, "error", err)
			continue
		}
		result.Orphans++
	}

	if result.Blocks > 0 || result.Orphans > 0 {
		s.logger.Info("collected blocks", "destination", name, "blocks", result.Blocks, "orphans", result.Orphans)
	}
	return result, nil
}
