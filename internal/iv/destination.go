package iv

import "context"

// Destination is a transport for encoded content blocks and snapshot manifests.
// A successful Write implies the bytes are durably retrievable by a later Read
// from any process, which is what makes read-back verification meaningful.
//
// Implementations classify failures by wrapping ErrTransientIO,
// ErrAuthorization, ErrQuota or ErrNotFound.
type Destination interface {
	// Name returns the configured destination name.
	Name() string

	// Write stores data under blockID. Writing the same blockID twice is safe.
	Write(ctx context.Context, blockID string, data []byte) error

	// Read returns the bytes stored under blockID.
	Read(ctx context.Context, blockID string) ([]byte, error)

	// List returns the IDs of all stored blocks in no particular order.
	List(ctx context.Context) ([]string, error)

	// Delete removes a block. Deleting a missing block is not an error.
	Delete(ctx context.Context, blockID string) error

	// PutManifest stores a named snapshot manifest, replacing any previous one.
	PutManifest(ctx context.Context, name string, data []byte) error

	// GetManifest returns a named snapshot manifest.
	GetManifest(ctx context.Context, name string) ([]byte, error)

	// ValidateSetup verifies that the destination is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
