// Package changes detects what changed in a source tree since the previous
// snapshot of a job.
package changes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	ivfs "inertiavault/internal/fs"
	"inertiavault/internal/iv"

	"github.com/spf13/afero"
)

// DefaultBlockSize is the chunk size files are split into.
const DefaultBlockSize = 1 << 20

// Detector implements iv.ChangeDetector over an afero filesystem.
type Detector struct {
	fs        afero.Fs
	blockSize int
	ignore    []string
	logger    iv.Logger
}

var _ iv.ChangeDetector = (*Detector)(nil)

// NewDetector creates a Detector. ignore holds patterns applied to every
// source root in addition to its .ivignore file.
func NewDetector(fsys afero.Fs, blockSize int, ignore []string, logger iv.Logger) *Detector {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Detector{fs: fsys, blockSize: blockSize, ignore: ignore, logger: logger}
}

func (d *Detector) CheckRoot(root string) error {
	info, err := d.fs.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: source root %s: %v", iv.ErrConfiguration, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: source root %s is not a directory", iv.ErrConfiguration, root)
	}
	return nil
}

func (d *Detector) Scan(ctx context.Context, root string) ([]*iv.FileState, error) {
	matcher, err := ivfs.LoadIgnoreMatcher(d.fs, root, d.ignore)
	if err != nil {
		return nil, err
	}
	found, err := ivfs.FindFiles(ctx, d.fs, root, matcher)
	if err != nil {
		return nil, err
	}
	files := make([]*iv.FileState, len(found))
	for i, f := range found {
		files[i] = &iv.FileState{
			Path:    f.Path,
			Size:    f.Info.Size(),
			ModTime: f.Info.ModTime(),
			Mode:    uint32(f.Info.Mode().Perm()),
		}
	}
	return files, nil
}

// unchanged reports whether e can stand in for f without reading f.
func unchanged(e *iv.Entry, f *iv.FileState) bool {
	return e != nil && e.Size == f.Size && e.ModTime.Equal(f.ModTime)
}

func (d *Detector) Hash(ctx context.Context, root string, files []*iv.FileState, prev *iv.Snapshot, incremental bool, progress func(done, total int)) error {
	reused := 0
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e := prev.Lookup(f.Path); incremental && unchanged(e, f) {
			f.ContentHash = e.ContentHash
			f.Blocks = append([]iv.BlockRef(nil), e.Blocks...)
			reused++
		} else if err := d.hashFile(ctx, root, f); err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}
	if d.logger != nil && reused > 0 {
		d.logger.Debug("reused hashes of unchanged files", "files", reused)
	}
	return nil
}

// hashFile splits a file into blocks and records their hashes. Size follows
// what was actually read, in case the file grew or shrank since the scan.
func (d *Detector) hashFile(ctx context.Context, root string, f *iv.FileState) error {
	content := sha256.New()
	var blocks []iv.BlockRef
	var size int64
	err := d.chunks(ctx, root, f.Path, func(data []byte) error {
		content.Write(data)
		sum := sha256.Sum256(data)
		blocks = append(blocks, iv.BlockRef{Hash: hex.EncodeToString(sum[:]), Size: int64(len(data))})
		size += int64(len(data))
		return nil
	})
	if err != nil {
		return err
	}
	f.ContentHash = hex.EncodeToString(content.Sum(nil))
	f.Blocks = blocks
	f.Size = size
	return nil
}

// chunks calls fn with consecutive blockSize pieces of a file. The buffer is
// reused between calls.
func (d *Detector) chunks(ctx context.Context, root, rel string, fn func(data []byte) error) error {
	file, err := d.fs.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("opening %s: %w", rel, err)
	}
	defer file.Close()

	buf := make([]byte, d.blockSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
	}
}

func (d *Detector) Compare(files []*iv.FileState, prev *iv.Snapshot, incremental bool) *iv.Changeset {
	cs := &iv.Changeset{Added: []string{}, Modified: []string{}, Deleted: []string{}}
	if prev == nil || !incremental {
		for _, f := range files {
			cs.Added = append(cs.Added, f.Path)
		}
		sort.Strings(cs.Added)
		return cs
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Path] = true
		e := prev.Lookup(f.Path)
		switch {
		case e == nil:
			cs.Added = append(cs.Added, f.Path)
		case !unchanged(e, f) || e.ContentHash != f.ContentHash:
			cs.Modified = append(cs.Modified, f.Path)
		}
	}
	for _, e := range prev.Entries {
		if !present[e.Path] {
			cs.Deleted = append(cs.Deleted, e.Path)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	return cs
}

// ReadBlocks fails with iv.ErrIntegrity when the file no longer matches the
// blocks recorded while hashing, which means it changed during the run.
func (d *Detector) ReadBlocks(ctx context.Context, root string, file *iv.FileState, fn func(ref iv.BlockRef, data []byte) error) error {
	i := 0
	err := d.chunks(ctx, root, file.Path, func(data []byte) error {
		if i >= len(file.Blocks) {
			return fmt.Errorf("%w: %s grew during backup", iv.ErrIntegrity, file.Path)
		}
		ref := file.Blocks[i]
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != ref.Hash {
			return fmt.Errorf("%w: %s changed during backup (block %d)", iv.ErrIntegrity, file.Path, i)
		}
		i++
		return fn(ref, data)
	})
	if err != nil {
		return err
	}
	if i != len(file.Blocks) {
		return fmt.Errorf("%w: %s shrank during backup", iv.ErrIntegrity, file.Path)
	}
	return nil
}

func (d *Detector) Diff(ctx context.Context, root string, prev *iv.Snapshot, incremental bool) (*iv.Changeset, []*iv.FileState, error) {
	files, err := d.Scan(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Hash(ctx, root, files, prev, incremental, nil); err != nil {
		return nil, nil, err
	}
	return d.Compare(files, prev, incremental), files, nil
}
