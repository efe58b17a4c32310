package testutil

import (
	"inertiavault/internal/staging"
)

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024
)

// NewTestStagingFactory creates a factory of in-memory staging areas.
func NewTestStagingFactory() *staging.Factory {
	return staging.NewMemoryFactory(DefaultStagingMaxSize)
}
