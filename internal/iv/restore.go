package iv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// RestoreRequest selects what to restore and where.
type RestoreRequest struct {
	SnapshotID string

	// Target is the directory files are written under.
	Target string

	// Prefix limits the restore to one file or directory of the snapshot.
	// Empty restores everything.
	Prefix string

	// Overwrite replaces files that already exist under Target.
	Overwrite bool
}

// RestoreResult counts what a restore wrote.
type RestoreResult struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Restore writes the files of a snapshot into fs under req.Target. Every
// block is checked against its hash and every file against its content hash;
// a mismatch aborts with ErrIntegrity.
func (s *Service) Restore(ctx context.Context, fs afero.Fs, req RestoreRequest) (*RestoreResult, error) {
	snapshot, err := s.Snapshot(req.SnapshotID)
	if err != nil {
		return nil, err
	}
	store, err := s.stores.Store(snapshot.Destination)
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(path.Clean("/"+filepath.ToSlash(req.Prefix)), "/")
	result := &RestoreResult{}
	for _, entry := range snapshot.Entries {
		if prefix != "" && entry.Path != prefix && !strings.HasPrefix(entry.Path, prefix+"/") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !filepath.IsLocal(filepath.FromSlash(entry.Path)) {
			return result, fmt.Errorf("%w: unsafe path in snapshot: %s", ErrIntegrity, entry.Path)
		}

		dst := filepath.Join(req.Target, filepath.FromSlash(entry.Path))
		if err := s.restoreFile(ctx, fs, store, entry, dst, req.Overwrite); err != nil {
			return result, fmt.Errorf("restoring %s: %w", entry.Path, err)
		}
		result.Files++
		result.Bytes += entry.Size
	}

	if result.Files == 0 && prefix != "" {
		return result, fmt.Errorf("path %q in snapshot %s: %w", prefix, snapshot.ID, ErrNotFound)
	}
	s.logger.Info("snapshot restored", "snapshot", snapshot.ID, "target", req.Target, "files", result.Files)
	return result, nil
}

func (s *Service) restoreFile(ctx context.Context, fs afero.Fs, store ContentStore, entry *Entry, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := fs.Stat(dst); err == nil {
			return fmt.Errorf("%s already exists", dst)
		}
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	mode := os.FileMode(entry.Mode).Perm()
	if mode == 0 {
		mode = 0o644
	}
	tmp := dst + ".iv-restore"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	h := sha256.New()
	for _, b := range entry.Blocks {
		data, err := store.Get(ctx, b.Hash)
		if err != nil {
			f.Close()
			fs.Remove(tmp)
			return err
		}
		h.Write(data)
		if _, err := f.Write(data); err != nil {
			f.Close()
			fs.Remove(tmp)
			return fmt.Errorf("writing file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("closing file: %w", err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != entry.ContentHash {
		fs.Remove(tmp)
		return fmt.Errorf("%w: content hash mismatch: expected %s, got %s", ErrIntegrity, entry.ContentHash, got)
	}
	if err := fs.Rename(tmp, dst); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("renaming file: %w", err)
	}
	mtime := entry.ModTime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	if err := fs.Chtimes(dst, mtime, mtime); err != nil {
		s.logger.Warn("restoring mtime", "path", dst, "error", err)
	}
	return nil
}
