package iv

// StagingArea holds encoded block payloads between the Compressing and
// Transferring phases of a run. Payloads are keyed by block hash, so a block
// shared by several files of the same run is staged once.
type StagingArea interface {
	// Put stages a payload. Staging a hash that is already present is a no-op.
	Put(hash string, size int64, payload []byte) error

	// Get returns a staged payload and the raw size of its block.
	Get(hash string) (payload []byte, size int64, err error)

	// Remove drops a staged payload.
	Remove(hash string) error

	// Hashes returns the staged hashes in staging order.
	Hashes() ([]string, error)

	// Size returns the total payload bytes currently staged.
	Size() (int64, error)

	// Close discards everything still staged.
	Close() error
}

// StagingFactory opens a fresh staging area for one run.
type StagingFactory interface {
	Open(runID string) (StagingArea, error)
}
