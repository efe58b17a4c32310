package iv

import "context"

// ChangeDetector scans a source tree and compares it with a previous snapshot.
// Scan, Hash and Compare are the steps the executor drives as separate phases;
// Diff runs all three.
type ChangeDetector interface {
	// Scan stats every regular, non-ignored file under root, sorted by path.
	// It checks ctx between files.
	Scan(ctx context.Context, root string) ([]*FileState, error)

	// Hash fills ContentHash and Blocks of files. When incremental is true and
	// prev has an entry with the same size and mtime, that entry's hashes are
	// reused instead of reading the file. progress is called after each file.
	Hash(ctx context.Context, root string, files []*FileState, prev *Snapshot, incremental bool, progress func(done, total int)) error

	// Compare classifies hashed files against prev.
	Compare(files []*FileState, prev *Snapshot, incremental bool) *Changeset

	// ReadBlocks re-reads a file and calls fn with each block's bytes, failing
	// if the content no longer matches the hashed blocks.
	ReadBlocks(ctx context.Context, root string, file *FileState, fn func(ref BlockRef, data []byte) error) error

	// CheckRoot verifies that root is an existing directory.
	CheckRoot(root string) error

	// Diff scans, hashes and compares in one call.
	Diff(ctx context.Context, root string, prev *Snapshot, incremental bool) (*Changeset, []*FileState, error)
}
