package fs

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func TestFindFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for name, content := range map[string]string{
		"/src/b.txt":               "b",
		"/src/a.txt":               "a",
		"/src/sub/c.txt":           "c",
		"/src/debug.log":           "x",
		"/src/node_modules/m/i.js": "x",
	} {
		afero.WriteFile(fsys, name, []byte(content), 0o644)
	}

	files, err := FindFiles(context.Background(), fsys, "/src", NewIgnoreMatcher([]string{"*.log", "node_modules"}))
	if err != nil {
		t.Fatalf("FindFiles() error = %v", err)
	}
	want := []string{"a.txt", "b.txt", "sub/c.txt"}
	if len(files) != len(want) {
		t.Fatalf("FindFiles() = %v, want %v", files, want)
	}
	for i, f := range files {
		if f.Path != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, f.Path, want[i])
		}
	}
	if files[0].Info.Size() != 1 {
		t.Errorf("Info.Size() = %d, want 1", files[0].Info.Size())
	}
}

func TestFindFiles_Cancelled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, "/src/a.txt", []byte("a"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := FindFiles(ctx, fsys, "/src", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("FindFiles() = %v, want context.Canceled", err)
	}
}

func TestFindFiles_MissingRoot(t *testing.T) {
	if _, err := FindFiles(context.Background(), afero.NewMemMapFs(), "/missing", nil); err == nil {
		t.Error("FindFiles() on missing root succeeded")
	}
}
