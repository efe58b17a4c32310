package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"inertiavault/internal/iv"

	"github.com/spf13/afero"
)

// fileStore keeps payloads as files, one directory per run:
//
//	<staging_dir>/
//	  <run_id>/
//	    <hash>    (encoded block payload)
type fileStore struct {
	fs  afero.Fs
	dir string
}

func newFileStore(fsys afero.Fs, dir string) (*fileStore, error) {
	// A directory left by a crashed run with the same ID is stale.
	if err := fsys.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &fileStore{fs: fsys, dir: dir}, nil
}

func (f *fileStore) path(hash string) string {
	return filepath.Join(f.dir, hash)
}

func (f *fileStore) Write(hash string, payload []byte) error {
	if err := afero.WriteFile(f.fs, f.path(hash), payload, 0o600); err != nil {
		return fmt.Errorf("%w: writing staged block: %v", iv.ErrTransientIO, err)
	}
	return nil
}

func (f *fileStore) Read(hash string) ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("staged block %s: %w", hash, iv.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading staged block: %w", err)
	}
	return data, nil
}

func (f *fileStore) Remove(hash string) error {
	err := f.fs.Remove(f.path(hash))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *fileStore) Destroy() error {
	return f.fs.RemoveAll(f.dir)
}
