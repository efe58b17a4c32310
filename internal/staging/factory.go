package staging

import (
	"fmt"
	"path/filepath"

	"inertiavault/internal/config"
	"inertiavault/internal/iv"

	"github.com/spf13/afero"
)

// Factory opens one staging area per run.
type Factory struct {
	kind    string
	fs      afero.Fs
	dir     string
	maxSize int64
}

var _ iv.StagingFactory = (*Factory)(nil)

// NewMemoryFactory returns a factory of in-memory staging areas.
func NewMemoryFactory(maxSize int64) *Factory {
	return &Factory{kind: "memory", maxSize: maxSize}
}

// NewFileSystemFactory returns a factory that stages under dir on fsys.
func NewFileSystemFactory(fsys afero.Fs, dir string, maxSize int64) (*Factory, error) {
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Factory{kind: "filesystem", fs: fsys, dir: dir, maxSize: maxSize}, nil
}

// NewStagingFactoryFromConfig creates a Factory based on the config type.
func NewStagingFactoryFromConfig(cfg config.StagingConfig) (*Factory, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = config.DefaultStagingSize
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryFactory(maxSize), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("%w: filesystem staging requires staging_dir to be set", iv.ErrConfiguration)
		}
		return NewFileSystemFactory(afero.NewOsFs(), cfg.StagingDir, maxSize)
	default:
		return nil, fmt.Errorf("%w: unknown staging type: %s", iv.ErrConfiguration, cfg.Type)
	}
}

func (f *Factory) Open(runID string) (iv.StagingArea, error) {
	if f.kind == "memory" {
		return newStagingArea(newMemoryStore(), f.maxSize), nil
	}
	if !filepath.IsLocal(runID) {
		return nil, fmt.Errorf("%w: invalid run id %q", iv.ErrConfiguration, runID)
	}
	store, err := newFileStore(f.fs, filepath.Join(f.dir, runID))
	if err != nil {
		return nil, err
	}
	return newStagingArea(store, f.maxSize), nil
}
