package iv

import "time"

// SnapshotIndex records the committed snapshots of every job.
type SnapshotIndex interface {
	// CommitSnapshot stores the snapshot and all of its entries atomically and
	// assigns its per-job sequence number. On error nothing is visible.
	CommitSnapshot(snapshot *Snapshot) (string, error)

	// LatestSnapshot returns the newest reachable snapshot of a job with its
	// entries, or nil if the job has none.
	LatestSnapshot(jobID string) (*Snapshot, error)

	// SnapshotHistory returns the job's snapshots newest first, without entries.
	// Each call returns a fresh slice.
	SnapshotHistory(jobID string) ([]*Snapshot, error)

	// FindSnapshot returns a snapshot with its entries, or nil.
	FindSnapshot(id string) (*Snapshot, error)

	// MarkSnapshotsUnreachable flags snapshots so garbage collection drops them.
	MarkSnapshotsUnreachable(ids []string) error

	// UnreachableSnapshots returns snapshots awaiting collection, with entries.
	UnreachableSnapshots() ([]*Snapshot, error)

	// ReleaseSnapshot drops one reference from every distinct block the
	// snapshot references and deletes the snapshot with its entries, all in
	// one transaction. It returns the number of references dropped. A
	// snapshot that is already gone yields ErrNotFound and releases nothing.
	ReleaseSnapshot(id string) (int, error)
}

// BlockLedger tracks block reference counts per destination. Every method
// changes counts atomically with respect to concurrent callers.
type BlockLedger interface {
	// RecordBlock inserts a block with one reference, or adds a reference if
	// the block is already known. The stored size and digest of a known block
	// are never changed.
	RecordBlock(block *Block) error

	// RetainBlock adds a reference to a known block or returns ErrNotFound.
	RetainBlock(destination, hash string) error

	// ReleaseBlock drops a reference, never below zero, and returns the
	// remaining count.
	ReleaseBlock(destination, hash string) (int64, error)

	// FindBlock returns the ledger row, or nil.
	FindBlock(destination, hash string) (*Block, error)

	// ListBlocks returns every block recorded for destination.
	ListBlocks(destination string) ([]*Block, error)

	// DeleteUnreferencedBlocks removes rows whose count is zero and returns
	// their hashes.
	DeleteUnreferencedBlocks(destination string) ([]string, error)
}

// Database is the metadata store: jobs, snapshots, runs, journal and ledger.
type Database interface {
	SnapshotIndex
	BlockLedger

	// Job operations

	// CreateJob inserts a job. Names are unique.
	CreateJob(job *Job) error

	// FindJob returns a job by ID, or nil.
	FindJob(id string) (*Job, error)

	// FindJobByName returns a job by name, or nil.
	FindJobByName(name string) (*Job, error)

	// ListJobs returns all jobs, newest first.
	ListJobs() ([]*Job, error)

	// UpdateJobStatus sets the job's status and last run time.
	UpdateJobStatus(jobID string, status JobStatus, lastRunAt time.Time) error

	// DeleteJob removes the job and its run records and marks its snapshots
	// unreachable in one transaction.
	DeleteJob(id string) error

	// Run operations

	// CreateRun inserts a run record in the running state.
	CreateRun(run *RunRecord) error

	// FinishRun stores the terminal state of a run and folds its totals into
	// the job counters in one transaction.
	FinishRun(run *RunRecord) error

	// ListRuns returns the most recent runs of a job (all jobs if jobID is
	// empty), newest first.
	ListRuns(jobID string, limit int) ([]*RunRecord, error)

	// Journal operations

	// AppendLog appends a journal entry.
	AppendLog(entry *LogEntry) error

	// ListLogs returns the newest entries first.
	ListLogs(limit int) ([]*LogEntry, error)

	// Close closes the database connection.
	Close() error
}
