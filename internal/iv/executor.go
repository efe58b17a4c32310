package iv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Locker guards a job against runs started by other processes.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// LockProvider returns the cross-process lock of a job. Acquire must fail
// with an error wrapping ErrAlreadyRunning when another process holds it.
type LockProvider func(jobID string) (Locker, error)

// ExecutorOptions tunes retries, phase budgets and locking.
type ExecutorOptions struct {
	Retry RetryPolicy

	// Timeouts bounds each phase. Missing or zero entries are unbounded.
	Timeouts map[Phase]time.Duration

	// Locks is optional; without it only runs in this process are excluded.
	Locks LockProvider
}

// Executor runs backup pipelines, at most one at a time per job.
type Executor struct {
	database Database
	stores   StoreRegistry
	detector ChangeDetector
	staging  StagingFactory
	observer Observer
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     ExecutorOptions

	mu     sync.Mutex
	active map[string]*RunHandle
}

// NewExecutor creates an Executor. observer may be nil.
func NewExecutor(database Database, stores StoreRegistry, detector ChangeDetector, staging StagingFactory, observer Observer, logger Logger, clock Clock, idgen IDGenerator, opts ExecutorOptions) *Executor {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	return &Executor{
		database: database,
		stores:   stores,
		detector: detector,
		staging:  staging,
		observer: observer,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
		active:   make(map[string]*RunHandle),
	}
}

// RunHandle tracks one active run.
type RunHandle struct {
	JobID string
	RunID string

	cancelled atomic.Bool
	cancelCtx context.CancelFunc
	done      chan struct{}

	record *RunRecord
	err    error
}

// Cancel asks the run to stop after its current unit of work.
func (h *RunHandle) Cancel() {
	h.cancelled.Store(true)
	if h.cancelCtx != nil {
		h.cancelCtx()
	}
}

// Cancelled reports whether cancellation was requested.
func (h *RunHandle) Cancelled() bool { return h.cancelled.Load() }

// Done is closed once the run reached a terminal state and was recorded.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes. A cancelled run is not an error; check
// the record's Status.
func (h *RunHandle) Wait() (*RunRecord, error) {
	<-h.done
	return h.record, h.err
}

// Active reports whether jobID has a run in progress in this process.
func (e *Executor) Active(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[jobID]
	return ok
}

// Start begins a run of jobID in the background. It fails with
// ErrAlreadyRunning if the job already has an active run, without changing
// any state. Cancelling ctx cancels the run cooperatively.
func (e *Executor) Start(ctx context.Context, jobID string) (*RunHandle, error) {
	job, err := e.database.FindJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("finding job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	h := &RunHandle{JobID: job.ID, done: make(chan struct{})}

	e.mu.Lock()
	if _, ok := e.active[job.ID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("job %q: %w", job.Name, ErrAlreadyRunning)
	}
	e.active[job.ID] = h
	e.mu.Unlock()

	var lk Locker
	if e.opts.Locks != nil {
		lk, err = e.opts.Locks(job.ID)
		if err == nil {
			err = lk.Acquire(ctx)
		}
		if err != nil {
			e.unregister(job.ID)
			if errors.Is(err, ErrAlreadyRunning) {
				return nil, fmt.Errorf("job %q: %w", job.Name, ErrAlreadyRunning)
			}
			return nil, fmt.Errorf("acquiring job lock: %w", err)
		}
	}

	now := e.clock.Now()
	run := &RunRecord{
		ID:        e.idgen.New(),
		JobID:     job.ID,
		Status:    RunStatusRunning,
		StartedAt: now,
	}
	if err := e.database.CreateRun(run); err != nil {
		e.release(lk)
		e.unregister(job.ID)
		return nil, fmt.Errorf("recording run: %w", err)
	}
	if err := e.database.UpdateJobStatus(job.ID, JobStatusRunning, now); err != nil {
		e.logger.Warn("updating job status", "job", job.Name, "error", err)
	}
	h.RunID = run.ID

	// The run outlives ctx: cancellation of ctx is turned into a cooperative
	// cancel request instead of aborting I/O.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancelCtx = cancel
	stop := context.AfterFunc(ctx, h.Cancel)

	go func() {
		defer cancel()
		defer stop()
		e.execute(runCtx, h, job, run)
		e.release(lk)
		e.unregister(job.ID)
		close(h.done)
	}()

	return h, nil
}

// Run starts a run and waits for it.
func (e *Executor) Run(ctx context.Context, jobID string) (*RunRecord, error) {
	h, err := e.Start(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// Cancel requests cancellation of the active run of jobID.
func (e *Executor) Cancel(jobID string) error {
	e.mu.Lock()
	h, ok := e.active[jobID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active run for job %s: %w", jobID, ErrNotFound)
	}
	h.Cancel()
	return nil
}

func (e *Executor) unregister(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, jobID)
}

func (e *Executor) release(lk Locker) {
	if lk == nil {
		return
	}
	if err := lk.Release(context.Background()); err != nil {
		e.logger.Warn("releasing job lock", "error", err)
	}
}

// execute runs the pipeline and records exactly one terminal state.
func (e *Executor) execute(ctx context.Context, h *RunHandle, job *Job, run *RunRecord) {
	r := &pipelineRun{
		e:        e,
		ctx:      ctx,
		handle:   h,
		job:      job,
		run:      run,
		log:      WithArgs(e.logger, "job", job.Name, "run", run.ID),
		progress: newProgress(job.ID, run.ID, e.observer, e.clock),
		handled:  make(map[string]bool),
	}

	e.journal(job.ID, LogInfo, fmt.Sprintf("Starting backup: %s", job.Name))
	r.progress.report(PhaseIdle, 0)

	err := r.execute()
	r.complete(err)

	h.record = run
	if run.Status == RunStatusFailed {
		h.err = err
	}
}

// journal appends a user-visible log entry. Journal failures are logged, not
// propagated: they must never change a run's outcome.
func (e *Executor) journal(jobID string, level LogLevel, msg string) {
	entry := &LogEntry{
		ID:        e.idgen.New(),
		JobID:     jobID,
		Level:     level,
		Message:   msg,
		Timestamp: e.clock.Now(),
	}
	if err := e.database.AppendLog(entry); err != nil {
		e.logger.Error("appending journal entry", "error", err, "message", msg)
	}
	switch level {
	case LogError:
		e.logger.Error(msg)
	case LogWarning:
		e.logger.Warn(msg)
	default:
		e.logger.Info(msg)
	}
}
