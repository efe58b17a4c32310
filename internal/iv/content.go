package iv

import (
	"context"
	"io"
)

// ContentStore is the content-addressed, reference-counted block store of one
// destination. Hashes are lowercase hex SHA-256 of the raw block bytes.
type ContentStore interface {
	// Put stores data and returns its hash. Storing identical bytes again
	// increments the reference count instead of writing a second copy.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the raw bytes of a block. Unknown hashes yield ErrNotFound;
	// bytes whose digest does not match yield ErrIntegrity.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Exists reports whether the block is recorded in the store.
	Exists(ctx context.Context, hash string) (bool, error)

	// Retain adds a reference to a known block, or returns ErrNotFound.
	Retain(ctx context.Context, hash string) error

	// Release drops a reference.
	Release(ctx context.Context, hash string) error

	// Encode turns raw block bytes into the payload written to the destination.
	Encode(data []byte, opts EncodeOptions) ([]byte, error)

	// Upload writes an encoded payload and records one reference to it.
	Upload(ctx context.Context, hash string, size int64, payload []byte) error

	// Verify reads a block back from the destination and checks its digests.
	Verify(ctx context.Context, hash string) error

	// Collect deletes blocks whose reference count dropped to zero and
	// destination objects the ledger does not know. It excludes concurrent
	// uploads to the same store while it runs.
	Collect(ctx context.Context) (*CollectResult, error)
}

// CollectResult counts what a collection removed.
type CollectResult struct {
	Blocks  int `json:"blocks"`
	Orphans int `json:"orphans"`
}

// EncodeOptions selects the transformations applied to a block payload.
type EncodeOptions struct {
	Compress bool
	Encrypt  bool
}

// StoreRegistry hands out the content store bound to a named destination.
// Unknown names yield ErrConfiguration.
type StoreRegistry interface {
	Store(destination string) (ContentStore, error)
	Destination(name string) (Destination, error)
	Names() []string
}

// Encryptor encrypts block payloads with a public key; decryption requires
// unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates the key pair, protecting the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context for restores.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for one session.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
