package staging

// stagingStore holds payload bytes for a staging area. Bookkeeping (order,
// sizes, limits) lives in stagingArea, which also serializes access, so
// stores do not need to be safe for concurrent use.
type stagingStore interface {
	// Write stores a payload under hash, replacing any previous one.
	Write(hash string, payload []byte) error

	// Read returns the payload stored under hash.
	Read(hash string) ([]byte, error)

	// Remove deletes a payload (best-effort).
	Remove(hash string) error

	// Destroy removes everything the store holds.
	Destroy() error
}
