package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// File is a regular file found under a source root.
type File struct {
	Path string // slash-separated, relative to the root
	Info os.FileInfo
}

// FindFiles walks root and returns every regular, non-ignored file sorted by
// path. Symlinks, devices, pipes and sockets are skipped. ctx is checked
// between entries.
func FindFiles(ctx context.Context, fsys afero.Fs, root string, ignore *IgnoreMatcher) ([]File, error) {
	var files []File
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		if ignore.Match(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, File{Path: filepath.ToSlash(rel), Info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
