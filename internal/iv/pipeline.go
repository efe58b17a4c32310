package iv

import (
	"context"
	"errors"
	"fmt"
)

// pipelineRun is the state of one run as it moves through the phases.
type pipelineRun struct {
	e      *Executor
	ctx    context.Context // cancelled when the run is asked to stop
	handle *RunHandle
	job    *Job
	run    *RunRecord
	log    Logger

	progress *progress
	store    ContentStore
	dest     Destination
	stage    StagingArea

	prev    *Snapshot
	files   []*FileState
	changes *Changeset

	// handled holds every block hash already dealt with in this run;
	// retained lists the hashes this run holds a reference on, each once.
	handled     map[string]bool
	retained    []string
	transferred []string
	verified    int
	snapshot    *Snapshot
}

func (r *pipelineRun) cancelRequested() bool {
	return r.handle.Cancelled()
}

// execute drives the phases. It returns nil on success, an error wrapping
// ErrCancelled on cancellation, or a *PhaseError.
func (r *pipelineRun) execute() error {
	var err error
	r.store, err = r.e.stores.Store(r.job.Destination)
	if err != nil {
		return &PhaseError{Phase: PhaseIdle, Err: err}
	}
	r.dest, err = r.e.stores.Destination(r.job.Destination)
	if err != nil {
		return &PhaseError{Phase: PhaseIdle, Err: err}
	}
	r.stage, err = r.e.staging.Open(r.run.ID)
	if err != nil {
		return &PhaseError{Phase: PhaseIdle, Err: fmt.Errorf("opening staging area: %w", err)}
	}

	if r.job.Incremental {
		r.prev, err = r.e.database.LatestSnapshot(r.job.ID)
		if err != nil {
			return &PhaseError{Phase: PhaseIdle, Err: fmt.Errorf("loading previous snapshot: %w", err)}
		}
	}

	steps := []struct {
		phase Phase
		fn    func(ctx context.Context) error
	}{
		{PhaseScanning, r.scan},
		{PhaseHashing, r.hash},
		{PhaseDiffing, r.diff},
		{PhaseCompressing, r.compress},
		{PhaseTransferring, r.transfer},
		{PhaseVerifying, r.verify},
	}
	for _, s := range steps {
		if err := r.phase(s.phase, s.fn); err != nil {
			return err
		}
	}

	if r.cancelRequested() {
		return ErrCancelled
	}
	return r.commit()
}

// phase runs one phase under its timeout. A local phase that exceeds its
// budget fails the run; a network phase is resumed until the retry policy is
// exhausted, so fn must skip work that already completed.
func (r *pipelineRun) phase(p Phase, fn func(ctx context.Context) error) error {
	if r.cancelRequested() {
		return ErrCancelled
	}

	r.e.journal(r.job.ID, LogInfo, fmt.Sprintf("%s: %s", r.job.Name, p))
	r.progress.enter(p)

	attempts := 1
	if p.Network() {
		attempts = r.e.opts.Retry.normalized().Attempts
	}
	timeout := r.e.opts.Timeouts[p]

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		// Network I/O is detached from cancellation so a block is never
		// abandoned halfway; the cancel flag is checked between blocks.
		parent := r.ctx
		if p.Network() {
			parent = context.WithoutCancel(r.ctx)
		}
		ctx, cancel := parent, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parent, timeout)
		}
		err = fn(ctx)
		expired := ctx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			return nil
		}
		if r.cancelRequested() && (errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)) {
			return ErrCancelled
		}
		if !expired {
			break
		}
		err = fmt.Errorf("exceeded %s budget: %w", timeout, err)
		if !p.Network() {
			break
		}
		err = fmt.Errorf("%w: %w", ErrTransientIO, err)
		if attempt < attempts {
			r.log.Warn("phase timed out, resuming", "phase", p, "attempt", attempt+1)
		}
	}
	return &PhaseError{Phase: p, Err: err}
}

func (r *pipelineRun) scan(ctx context.Context) error {
	files, err := r.e.detector.Scan(ctx, r.job.SourceRoot)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", r.job.SourceRoot, err)
	}
	r.files = files
	r.progress.step(PhaseScanning, 1, 1)
	r.log.Debug("scanned source", "files", len(files))
	return nil
}

func (r *pipelineRun) hash(ctx context.Context) error {
	err := r.e.detector.Hash(ctx, r.job.SourceRoot, r.files, r.prev, r.job.Incremental, func(done, total int) {
		r.progress.step(PhaseHashing, done, total)
	})
	if err != nil {
		return fmt.Errorf("hashing: %w", err)
	}
	return nil
}

func (r *pipelineRun) diff(ctx context.Context) error {
	r.changes = r.e.detector.Compare(r.files, r.prev, r.job.Incremental)
	r.run.Added = int64(len(r.changes.Added))
	r.run.Modified = int64(len(r.changes.Modified))
	r.run.Deleted = int64(len(r.changes.Deleted))
	r.run.FilesChanged = r.run.Added + r.run.Modified
	r.progress.step(PhaseDiffing, 1, 1)
	r.log.Debug("computed changes", "added", r.run.Added, "modified", r.run.Modified, "deleted", r.run.Deleted)
	return nil
}

// compress retains every block already in the store and encodes the rest
// into the staging area. Blocks of unchanged files are retained too: each
// snapshot holds one reference per distinct block.
func (r *pipelineRun) compress(ctx context.Context) error {
	opts := EncodeOptions{Compress: r.job.Compressed, Encrypt: r.job.Encrypted}

	for i, f := range r.files {
		if r.cancelRequested() {
			return ErrCancelled
		}

		var missing []string
		for _, b := range f.Blocks {
			if r.handled[b.Hash] {
				continue
			}
			err := r.store.Retain(ctx, b.Hash)
			switch {
			case err == nil:
				r.handled[b.Hash] = true
				r.retained = append(r.retained, b.Hash)
			case errors.Is(err, ErrNotFound):
				missing = append(missing, b.Hash)
			default:
				return fmt.Errorf("retaining block %s: %w", b.Hash, err)
			}
		}

		if len(missing) > 0 {
			want := make(map[string]bool, len(missing))
			for _, h := range missing {
				want[h] = true
			}
			err := r.e.detector.ReadBlocks(ctx, r.job.SourceRoot, f, func(ref BlockRef, data []byte) error {
				if !want[ref.Hash] || r.handled[ref.Hash] {
					return nil
				}
				payload, err := r.store.Encode(data, opts)
				if err != nil {
					return fmt.Errorf("encoding block %s: %w", ref.Hash, err)
				}
				if err := r.stage.Put(ref.Hash, ref.Size, payload); err != nil {
					return fmt.Errorf("staging block %s: %w", ref.Hash, err)
				}
				r.handled[ref.Hash] = true
				return nil
			})
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Path, err)
			}
		}

		r.progress.step(PhaseCompressing, i+1, len(r.files))
	}
	return nil
}

// transfer uploads staged payloads. Uploaded payloads leave the staging area,
// so a resumed transfer continues with what is left.
func (r *pipelineRun) transfer(ctx context.Context) error {
	hashes, err := r.stage.Hashes()
	if err != nil {
		return fmt.Errorf("listing staged blocks: %w", err)
	}
	total := len(r.transferred) + len(hashes)
	if total == 0 {
		r.progress.step(PhaseTransferring, 1, 1)
		return nil
	}

	for _, hash := range hashes {
		if r.cancelRequested() {
			return ErrCancelled
		}
		payload, size, err := r.stage.Get(hash)
		if err != nil {
			return fmt.Errorf("reading staged block %s: %w", hash, err)
		}

		err = retry(ctx, r.e.clock, r.e.opts.Retry, func(ctx context.Context) error {
			return r.store.Upload(ctx, hash, size, payload)
		}, func(attempt int, err error) {
			r.log.Warn("retrying upload", "block", hash, "attempt", attempt, "error", err)
		})
		if err != nil {
			return fmt.Errorf("uploading block %s: %w", hash, err)
		}

		r.retained = append(r.retained, hash)
		r.transferred = append(r.transferred, hash)
		r.run.BytesTransferred += int64(len(payload))
		if err := r.stage.Remove(hash); err != nil {
			r.log.Warn("removing staged block", "block", hash, "error", err)
		}
		r.progress.step(PhaseTransferring, len(r.transferred), total)
	}
	return nil
}

// verify reads back every block transferred in this run.
func (r *pipelineRun) verify(ctx context.Context) error {
	if len(r.transferred) == 0 {
		r.progress.step(PhaseVerifying, 1, 1)
		return nil
	}
	for r.verified < len(r.transferred) {
		if r.cancelRequested() {
			return ErrCancelled
		}
		hash := r.transferred[r.verified]
		err := retry(ctx, r.e.clock, r.e.opts.Retry, func(ctx context.Context) error {
			return r.store.Verify(ctx, hash)
		}, func(attempt int, err error) {
			r.log.Warn("retrying verification", "block", hash, "attempt", attempt, "error", err)
		})
		if err != nil {
			return fmt.Errorf("verifying block %s: %w", hash, err)
		}
		r.verified++
		r.progress.step(PhaseVerifying, r.verified, len(r.transferred))
	}
	return nil
}

// commit writes the manifest and makes the snapshot visible.
func (r *pipelineRun) commit() error {
	snapshot := &Snapshot{
		ID:          r.e.idgen.New(),
		JobID:       r.job.ID,
		Destination: r.job.Destination,
		CreatedAt:   r.e.clock.Now(),
		Reachable:   true,
	}
	for _, f := range r.files {
		snapshot.Entries = append(snapshot.Entries, f.Entry())
	}
	snapshot.ComputeTotals()

	manifest, err := Serialize(snapshot)
	if err != nil {
		return &PhaseError{Phase: PhaseVerifying, Err: err}
	}
	ctx := context.WithoutCancel(r.ctx)
	err = retry(ctx, r.e.clock, r.e.opts.Retry, func(ctx context.Context) error {
		return r.dest.PutManifest(ctx, ManifestName(snapshot), manifest)
	}, func(attempt int, err error) {
		r.log.Warn("retrying manifest upload", "attempt", attempt, "error", err)
	})
	if err != nil {
		return &PhaseError{Phase: PhaseVerifying, Err: fmt.Errorf("writing manifest: %w", err)}
	}

	id, err := r.e.database.CommitSnapshot(snapshot)
	if err != nil {
		return &PhaseError{Phase: PhaseVerifying, Err: fmt.Errorf("committing snapshot: %w", err)}
	}
	r.snapshot = snapshot
	r.run.SnapshotID = id
	return nil
}

// complete records the terminal state of the run. On anything but success
// the references taken during the run are dropped again.
func (r *pipelineRun) complete(err error) {
	var (
		status   RunStatus
		terminal Phase
	)
	switch {
	case err == nil:
		status, terminal = RunStatusSuccess, PhaseCompleted
	case errors.Is(err, ErrCancelled):
		status, terminal = RunStatusCancelled, PhaseCancelled
	default:
		status, terminal = RunStatusFailed, PhaseFailed
	}

	if status != RunStatusSuccess {
		r.releaseRetained()
	}
	if r.stage != nil {
		if cerr := r.stage.Close(); cerr != nil {
			r.log.Warn("closing staging area", "error", cerr)
		}
	}

	finished := r.e.clock.Now()
	r.run.Status = status
	r.run.FinishedAt = &finished
	r.run.Duration = finished.Sub(r.run.StartedAt)
	if status == RunStatusFailed {
		r.run.Error = err.Error()
	}
	if ferr := r.e.database.FinishRun(r.run); ferr != nil {
		r.log.Error("recording run result", "error", ferr)
	}

	switch status {
	case RunStatusSuccess:
		r.e.journal(r.job.ID, LogSuccess, fmt.Sprintf("Backup completed: %s (%d files, %s)",
			r.job.Name, r.run.FilesChanged, FormatBytes(r.run.BytesTransferred)))
	case RunStatusCancelled:
		r.e.journal(r.job.ID, LogWarning, fmt.Sprintf("Backup cancelled: %s", r.job.Name))
	default:
		r.e.journal(r.job.ID, LogError, fmt.Sprintf("Backup failed: %s: %v", r.job.Name, err))
	}
	r.progress.finish(terminal)
}

// releaseRetained drops every reference this run took. Failures are logged;
// a leaked reference only delays collection of the block.
func (r *pipelineRun) releaseRetained() {
	if len(r.retained) == 0 {
		return
	}
	ctx := context.WithoutCancel(r.ctx)
	for _, hash := range r.retained {
		if err := r.store.Release(ctx, hash); err != nil {
			r.log.Warn("releasing block", "block", hash, "error", err)
		}
	}
	r.log.Debug("released blocks", "count", len(r.retained))
	r.retained = nil
}
