package destination

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"inertiavault/internal/iv"
)

// FileSystemDestination stores blocks and manifests in a local directory:
//
//	<root>/
//	  blocks/
//	    <aa>/<hash>        (fanned out by the first two hex digits)
//	  manifests/
//	    <job>/<snapshot>.json
type FileSystemDestination struct {
	name         string
	root         string
	blocksDir    string
	manifestsDir string
}

var _ iv.Destination = (*FileSystemDestination)(nil)

// NewFileSystemDestination creates the directory layout under root.
func NewFileSystemDestination(name, root string) (*FileSystemDestination, error) {
	d := &FileSystemDestination{
		name:         name,
		root:         root,
		blocksDir:    filepath.Join(root, "blocks"),
		manifestsDir: filepath.Join(root, "manifests"),
	}
	for _, dir := range []string{d.blocksDir, d.manifestsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, classifyFSError("creating destination directory", err)
		}
	}
	return d, nil
}

func (d *FileSystemDestination) Name() string { return d.name }

func (d *FileSystemDestination) blockPath(id string) string {
	return filepath.Join(d.blocksDir, id[:2], id)
}

func (d *FileSystemDestination) Write(ctx context.Context, blockID string, data []byte) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.writeFile(d.blockPath(blockID), data)
}

func (d *FileSystemDestination) Read(ctx context.Context, blockID string) ([]byte, error) {
	if err := checkBlockID(blockID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.blockPath(blockID))
	if err != nil {
		return nil, classifyFSError("reading block "+blockID, err)
	}
	return data, nil
}

func (d *FileSystemDestination) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(d.blocksDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Type().IsRegular() && checkBlockID(entry.Name()) == nil {
			ids = append(ids, entry.Name())
		}
		return nil
	})
	if err != nil {
		return nil, classifyFSError("listing blocks", err)
	}
	return ids, nil
}

func (d *FileSystemDestination) Delete(ctx context.Context, blockID string) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	err := os.Remove(d.blockPath(blockID))
	if err != nil && !os.IsNotExist(err) {
		return classifyFSError("deleting block "+blockID, err)
	}
	return nil
}

func (d *FileSystemDestination) manifestPath(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) || !strings.HasSuffix(name, ".json") {
		return "", fmt.Errorf("%w: invalid manifest name %q", iv.ErrConfiguration, name)
	}
	return filepath.Join(d.manifestsDir, rel), nil
}

func (d *FileSystemDestination) PutManifest(ctx context.Context, name string, data []byte) error {
	path, err := d.manifestPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return classifyFSError("creating manifest directory", err)
	}
	return d.writeFile(path, data)
}

func (d *FileSystemDestination) GetManifest(ctx context.Context, name string) ([]byte, error) {
	path, err := d.manifestPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classifyFSError("reading manifest "+name, err)
	}
	return data, nil
}

// ValidateSetup checks that the layout exists and that a file can be
// created under root.
func (d *FileSystemDestination) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{d.root, d.blocksDir, d.manifestsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return classifyFSError("destination not accessible", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", iv.ErrConfiguration, dir)
		}
	}
	tmp, err := os.CreateTemp(d.root, ".writable-*")
	if err != nil {
		return classifyFSError("destination not writable", err)
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}

// writeFile makes data durable at path: temp file, fsync, rename, then fsync
// of the directory so the rename itself survives a crash.
func (d *FileSystemDestination) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classifyFSError("creating directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return classifyFSError("creating temp file", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classifyFSError("writing data", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classifyFSError("syncing data", err)
	}
	if err := tmp.Close(); err != nil {
		return classifyFSError("closing temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return classifyFSError("renaming temp file", err)
	}
	ok = true

	if dh, err := os.Open(dir); err == nil {
		dh.Sync()
		dh.Close()
	}
	return nil
}
