package testutil

import (
	"path"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// SourceRoot is where NewSourceTree places files.
const SourceRoot = "/src"

// NewSourceTree returns an in-memory filesystem with files (relative,
// slash-separated path -> content) under SourceRoot, all stamped with mtime.
func NewSourceTree(t *testing.T, files map[string]string, mtime time.Time) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll(SourceRoot, 0o755); err != nil {
		t.Fatalf("creating source root: %v", err)
	}
	for rel, content := range files {
		WriteSourceFile(t, fsys, rel, content, mtime)
	}
	return fsys
}

// WriteSourceFile creates or replaces a file under SourceRoot.
func WriteSourceFile(t *testing.T, fsys afero.Fs, rel, content string, mtime time.Time) {
	t.Helper()
	name := path.Join(SourceRoot, rel)
	if err := afero.WriteFile(fsys, name, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	if err := fsys.Chtimes(name, mtime, mtime); err != nil {
		t.Fatalf("setting mtime of %s: %v", name, err)
	}
}

// RemoveSourceFile deletes a file under SourceRoot.
func RemoveSourceFile(t *testing.T, fsys afero.Fs, rel string) {
	t.Helper()
	if err := fsys.Remove(path.Join(SourceRoot, rel)); err != nil {
		t.Fatalf("removing %s: %v", rel, err)
	}
}
