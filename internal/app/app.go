package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"inertiavault/internal/changes"
	"inertiavault/internal/config"
	"inertiavault/internal/content"
	"inertiavault/internal/database"
	"inertiavault/internal/destination"
	"inertiavault/internal/encryption"
	"inertiavault/internal/iv"
	"inertiavault/internal/lock"
	"inertiavault/internal/schedule"
	"inertiavault/internal/staging"

	"github.com/spf13/afero"
)

// App is the application layer between the CLI and iv.Service.
// It constructs all dependencies from config, resolves raw paths given on
// the command line and owns the database and log file until Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	registry  *content.Registry
	encryptor iv.Encryptor
	executor  *iv.Executor
	service   *iv.Service
	logger    *slog.Logger
	logFile   *os.File
	op        *Operation
}

// Options tunes New. A nil Observer discards progress events.
type Options struct {
	Observer iv.Observer
}

// New creates a fully wired App from the given config.
// operation names the CLI command being run (e.g. "run", "gc") and tags
// every log line. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	op := NewOperation(operation, iv.RealClock{}.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID(), cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &App{cfg: cfg, logger: logger, logFile: logFile, op: op}
	if err := a.wire(ctx, log, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, log iv.Logger, opts Options) error {
	cfg := a.cfg
	dests, err := destination.NewDestinationsFromConfig(ctx, cfg.Destinations)
	if err != nil {
		return fmt.Errorf("creating destinations: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	clock := iv.RealClock{}
	ids := iv.UUIDGenerator{}

	registry, err := content.NewRegistry(dests, db, enc, iv.EncodeOptions{}, clock, log)
	if err != nil {
		return fmt.Errorf("creating content stores: %w", err)
	}
	a.registry = registry

	stagingFactory, err := staging.NewStagingFactoryFromConfig(cfg.Staging)
	if err != nil {
		return fmt.Errorf("creating staging: %w", err)
	}

	detector := changes.NewDetector(afero.NewOsFs(), int(cfg.Pipeline.BlockSize), cfg.Filesystem.Ignore, log)

	execOpts := iv.ExecutorOptions{
		Retry:    cfg.Pipeline.RetryPolicy(),
		Timeouts: cfg.Pipeline.Timeouts.PhaseTimeouts(),
	}
	if cfg.Pipeline.LockDir != "" {
		execOpts.Locks = lock.Provider(cfg.Pipeline.LockDir, lock.DefaultTTL)
	}

	a.executor = iv.NewExecutor(db, registry, detector, stagingFactory, opts.Observer, log, clock, ids, execOpts)
	a.service = iv.NewService(db, registry, detector, a.executor, log, clock, ids)
	return nil
}

// Service exposes the engine for commands that need no path handling.
func (a *App) Service() *iv.Service { return a.service }

// Logger returns the structured logger of this invocation.
func (a *App) Logger() *slog.Logger { return a.logger }

// Encrypted reports whether restoring snapshotID needs the private key.
func (a *App) Encrypted(snapshotID string) (bool, error) {
	snap, err := a.service.Snapshot(snapshotID)
	if err != nil {
		return false, err
	}
	job, err := a.service.FindJob(snap.JobID)
	if err != nil {
		// The job may be deleted; assume the worst.
		return true, nil
	}
	return job.Encrypted, nil
}

// Unlock decrypts the private key with passphrase and hands it to every
// content store, so encrypted blocks can be read back.
func (a *App) Unlock(passphrase string) error {
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return err
	}
	a.registry.Unlock(dec)
	return nil
}

// CreateJob resolves the source root to an absolute path and creates the job.
// An encrypted job needs key material set up first.
func (a *App) CreateJob(spec iv.JobSpec) (*iv.Job, error) {
	root, err := filepath.Abs(spec.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	spec.SourceRoot = root
	if spec.Encrypted && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("%w: encrypted jobs need keys (run `iv keys init`)", iv.ErrConfiguration)
	}
	return a.service.CreateJob(spec)
}

// Restore writes a snapshot into rawTarget on the local filesystem.
func (a *App) Restore(ctx context.Context, snapshotID, prefix, rawTarget string, overwrite bool) (*iv.RestoreResult, error) {
	target, err := filepath.Abs(rawTarget)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.Restore(ctx, afero.NewOsFs(), iv.RestoreRequest{
		SnapshotID: snapshotID,
		Target:     target,
		Prefix:     strings.Trim(filepath.ToSlash(prefix), "/"),
		Overwrite:  overwrite,
	})
}

// RunJobs runs the given jobs, at most concurrency at once. The returned
// records are in the order of refs; a job that could not start has a nil
// record and its error in errs.
func (a *App) RunJobs(ctx context.Context, refs []string, concurrency int) ([]*iv.RunRecord, []error) {
	return runAll(ctx, a.service, refs, concurrency)
}

// AllJobRefs returns the IDs of every job.
func (a *App) AllJobRefs() ([]string, error) {
	jobs, err := a.service.ListJobs()
	if err != nil {
		return nil, err
	}
	refs := make([]string, len(jobs))
	for i, j := range jobs {
		refs[i] = j.ID
	}
	return refs, nil
}

// Scheduler returns a scheduler that starts due jobs on this App's executor.
func (a *App) Scheduler() *schedule.Scheduler {
	return schedule.New(a.service, a.executor, iv.RealClock{}, &slogAdapter{l: a.logger}, a.cfg.Scheduler.Tick.Duration)
}

// Close releases the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// MigrateDatabase applies all pending migrations to the configured database.
func MigrateDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys generates the key pair used by encrypted jobs, protecting the
// private key with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	return enc.Setup(passphrase)
}
