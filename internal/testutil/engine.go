package testutil

import (
	"testing"
	"time"

	"inertiavault/internal/changes"
	"inertiavault/internal/content"
	"inertiavault/internal/database"
	"inertiavault/internal/encryption"
	"inertiavault/internal/iv"

	"github.com/spf13/afero"
)

// DestinationName is the destination every Engine is wired to.
const DestinationName = "local"

// EngineOptions tunes NewEngine.
type EngineOptions struct {
	// BlockSize defaults to 4 bytes so small test files span several blocks.
	BlockSize int
	Files     map[string]string
	Executor  iv.ExecutorOptions
}

// Engine is a fully wired in-memory engine: SQLite in memory, an afero
// source tree under SourceRoot and one fault-injecting destination.
type Engine struct {
	DB        *database.SQLiteDatabase
	Dest      *FaultyDestination
	Registry  *content.Registry
	FS        afero.Fs
	Detector  *changes.Detector
	Executor  *iv.Executor
	Service   *iv.Service
	Clock     *StubClock
	IDs       *StubIDGenerator
	Observer  *RecordingObserver
	Encryptor *encryption.TestEncryptor
}

// MTime is the modification time NewEngine stamps on its source files.
var MTime = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

func NewEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	if opts.BlockSize == 0 {
		opts.BlockSize = 4
	}

	e := &Engine{
		DB:        NewTestDatabase(t),
		Dest:      NewFaultyDestination(DestinationName),
		FS:        NewSourceTree(t, opts.Files, MTime),
		Clock:     FixedClock(),
		IDs:       NewStubIDGenerator(),
		Observer:  &RecordingObserver{},
		Encryptor: NewTestEncryptor(),
	}
	logger := iv.NewNopLogger()

	registry, err := content.NewRegistry([]iv.Destination{e.Dest}, e.DB, e.Encryptor, iv.EncodeOptions{}, e.Clock, logger)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	e.Registry = registry
	e.Detector = changes.NewDetector(e.FS, opts.BlockSize, nil, logger)
	e.Executor = iv.NewExecutor(e.DB, registry, e.Detector, NewTestStagingFactory(), e.Observer, logger, e.Clock, e.IDs, opts.Executor)
	e.Service = iv.NewService(e.DB, registry, e.Detector, e.Executor, logger, e.Clock, e.IDs)
	return e
}

// CreateJob creates a job over SourceRoot with the given flags.
func (e *Engine) CreateJob(t *testing.T, name string, incremental bool) *iv.Job {
	t.Helper()
	job, err := e.Service.CreateJob(iv.JobSpec{
		Name:        name,
		SourceRoot:  SourceRoot,
		Destination: DestinationName,
		Incremental: incremental,
		Compressed:  true,
	})
	if err != nil {
		t.Fatalf("CreateJob(%q) error = %v", name, err)
	}
	return job
}
