package destination

import (
	"context"
	"fmt"

	"inertiavault/internal/config"
	"inertiavault/internal/iv"
)

// NewDestinationFromConfig creates a Destination based on the config type.
func NewDestinationFromConfig(ctx context.Context, cfg config.DestinationConfig) (iv.Destination, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryDestination(cfg.Name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("%w: filesystem destination requires fs_root to be set", iv.ErrConfiguration)
		}
		return NewFileSystemDestination(cfg.Name, cfg.FSRoot)
	case "s3":
		return NewS3Destination(ctx, cfg.Name, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
	case "webdav":
		return NewWebDAVDestination(cfg.Name, cfg.WebDAVURL, cfg.WebDAVUser, cfg.WebDAVPassword, cfg.WebDAVRoot)
	default:
		return nil, fmt.Errorf("%w: unknown destination type: %s", iv.ErrConfiguration, cfg.Type)
	}
}

// NewDestinationsFromConfig creates every configured destination.
func NewDestinationsFromConfig(ctx context.Context, cfgs []config.DestinationConfig) ([]iv.Destination, error) {
	dests := make([]iv.Destination, 0, len(cfgs))
	for _, c := range cfgs {
		d, err := NewDestinationFromConfig(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", c.Name, err)
		}
		dests = append(dests, d)
	}
	return dests, nil
}
