package destination

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"inertiavault/internal/iv"

	"github.com/studio-b12/gowebdav"
)

// WebDAVDestination stores blocks on a WebDAV share, the protocol most
// consumer cloud drives expose. Layout matches the filesystem destination.
type WebDAVDestination struct {
	name   string
	root   string
	client *gowebdav.Client
}

var _ iv.Destination = (*WebDAVDestination)(nil)

func NewWebDAVDestination(name, url, user, password, root string) (*WebDAVDestination, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: webdav destination %q requires a url", iv.ErrConfiguration, name)
	}
	root = "/" + strings.Trim(root, "/")
	return &WebDAVDestination{
		name:   name,
		root:   root,
		client: gowebdav.NewClient(url, user, password),
	}, nil
}

func (d *WebDAVDestination) Name() string { return d.name }

func (d *WebDAVDestination) blockPath(id string) string {
	return path.Join(d.root, "blocks", id[:2], id)
}

func (d *WebDAVDestination) Write(ctx context.Context, blockID string, data []byte) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Write creates missing parent collections itself.
	return classifyWebDAVError("writing block "+blockID, d.client.Write(d.blockPath(blockID), data, 0o644))
}

func (d *WebDAVDestination) Read(ctx context.Context, blockID string) ([]byte, error) {
	if err := checkBlockID(blockID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := d.client.Read(d.blockPath(blockID))
	if err != nil {
		return nil, classifyWebDAVError("reading block "+blockID, err)
	}
	return data, nil
}

func (d *WebDAVDestination) List(ctx context.Context) ([]string, error) {
	base := path.Join(d.root, "blocks")
	dirs, err := d.client.ReadDir(base)
	if err != nil {
		if err = classifyWebDAVError("listing blocks", err); errors.Is(err, iv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := d.client.ReadDir(path.Join(base, dir.Name()))
		if err != nil {
			return nil, classifyWebDAVError("listing blocks", err)
		}
		for _, f := range files {
			if !f.IsDir() && checkBlockID(f.Name()) == nil {
				ids = append(ids, f.Name())
			}
		}
	}
	return ids, nil
}

func (d *WebDAVDestination) Delete(ctx context.Context, blockID string) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	err := classifyWebDAVError("deleting block "+blockID, d.client.Remove(d.blockPath(blockID)))
	if errors.Is(err, iv.ErrNotFound) {
		return nil
	}
	return err
}

func (d *WebDAVDestination) manifestPath(name string) string {
	return path.Join(d.root, "manifests", name)
}

func (d *WebDAVDestination) PutManifest(ctx context.Context, name string, data []byte) error {
	return classifyWebDAVError("writing manifest "+name, d.client.Write(d.manifestPath(name), data, 0o644))
}

func (d *WebDAVDestination) GetManifest(ctx context.Context, name string) ([]byte, error) {
	data, err := d.client.Read(d.manifestPath(name))
	if err != nil {
		return nil, classifyWebDAVError("reading manifest "+name, err)
	}
	return data, nil
}

// ValidateSetup authenticates against the server and makes sure the root
// collection exists.
func (d *WebDAVDestination) ValidateSetup(ctx context.Context) error {
	if err := d.client.Connect(); err != nil {
		return classifyWebDAVError("connecting", err)
	}
	return classifyWebDAVError("creating root", d.client.MkdirAll(d.root, 0o755))
}

func classifyWebDAVError(op string, err error) error {
	if err == nil {
		return nil
	}
	var status gowebdav.StatusError
	if errors.As(err, &status) {
		return classifyHTTPStatus(op, status.Status, err)
	}
	return classifyFSError(op, err)
}
