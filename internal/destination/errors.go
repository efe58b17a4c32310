// Package destination implements the transports that store encoded blocks
// and snapshot manifests: a local directory, S3-compatible object storage, a
// WebDAV cloud drive, and memory for tests.
package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"inertiavault/internal/iv"
)

var blockIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// checkBlockID rejects IDs that are not lowercase hex SHA-256, which also
// keeps them safe to use as file and object names.
func checkBlockID(id string) error {
	if !blockIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid block id %q", iv.ErrConfiguration, id)
	}
	return nil
}

// classifyFSError maps a local filesystem error onto the engine's error kinds.
func classifyFSError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w: %v", op, iv.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w: %v", op, iv.ErrAuthorization, err)
	case isQuotaErrno(err):
		return fmt.Errorf("%s: %w: %v", op, iv.ErrQuota, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, iv.ErrTransientIO, err)
	}
}

// classifyHTTPStatus maps an HTTP status code onto the engine's error kinds.
func classifyHTTPStatus(op string, status int, err error) error {
	switch {
	case status == 404:
		return fmt.Errorf("%s: %w: %v", op, iv.ErrNotFound, err)
	case status == 401 || status == 403:
		return fmt.Errorf("%s: %w: %v", op, iv.ErrAuthorization, err)
	case status == 507 || status == 413:
		return fmt.Errorf("%s: %w: %v", op, iv.ErrQuota, err)
	case status == 408 || status == 429 || status >= 500:
		return fmt.Errorf("%s: %w: %v", op, iv.ErrTransientIO, err)
	case status >= 400:
		return fmt.Errorf("%s: %w: unexpected status %d: %v", op, iv.ErrConfiguration, status, err)
	default:
		// No status: the request never got an answer.
		return fmt.Errorf("%s: %w: %v", op, iv.ErrTransientIO, err)
	}
}
