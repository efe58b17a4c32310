package iv

import (
	"sort"
	"time"
)

// Schedule describes how often an external trigger should start a job.
type Schedule string

const (
	ScheduleManual  Schedule = "manual"
	ScheduleHourly  Schedule = "hourly"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// Valid reports whether s is one of the known schedules.
func (s Schedule) Valid() bool {
	switch s {
	case ScheduleManual, ScheduleHourly, ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		return true
	}
	return false
}

// JobStatus is the dashboard status of a job, reflecting its most recent run.
type JobStatus string

const (
	JobStatusReady     JobStatus = "ready"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is a backup job definition plus its run bookkeeping.
type Job struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	SourceRoot  string   `json:"source_root"`
	Destination string   `json:"destination"`
	Schedule    Schedule `json:"schedule"`
	Incremental bool     `json:"incremental"`
	Compressed  bool     `json:"compressed"`
	Encrypted   bool     `json:"encrypted"`

	CreatedAt      time.Time  `json:"created_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	Status         JobStatus  `json:"status"`
	TotalRuns      int64      `json:"total_runs"`
	SuccessfulRuns int64      `json:"successful_runs"`
	TotalSize      int64      `json:"total_size"`
	FilesBackedUp  int64      `json:"files_backed_up"`
}

// JobSpec carries the user-editable fields of a job.
type JobSpec struct {
	Name        string
	SourceRoot  string
	Destination string
	Schedule    Schedule
	Incremental bool
	Compressed  bool
	Encrypted   bool
}

// BlockRef references one content block of a file, in file order.
type BlockRef struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Entry is one file recorded in a snapshot.
type Entry struct {
	Path        string     `json:"path"` // slash-separated, relative to the source root
	ContentHash string     `json:"content_hash"`
	Size        int64      `json:"size"`
	ModTime     time.Time  `json:"mtime"`
	Mode        uint32     `json:"mode"`
	Blocks      []BlockRef `json:"blocks"`
}

// Snapshot is the immutable file tree of a job as of one successful run.
type Snapshot struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Destination string    `json:"destination"`
	Seq         int64     `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
	FileCount   int64     `json:"file_count"`
	TotalSize   int64     `json:"total_size"`
	Reachable   bool      `json:"reachable"`
	Entries     []*Entry  `json:"entries,omitempty"`
}

// Lookup returns the entry for path, or nil.
func (s *Snapshot) Lookup(path string) *Entry {
	if s == nil {
		return nil
	}
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Path >= path })
	if i < len(s.Entries) && s.Entries[i].Path == path {
		return s.Entries[i]
	}
	return nil
}

// DistinctBlocks returns every block referenced by the snapshot exactly once,
// in first-reference order.
func (s *Snapshot) DistinctBlocks() []BlockRef {
	seen := make(map[string]bool)
	var refs []BlockRef
	for _, e := range s.Entries {
		for _, b := range e.Blocks {
			if seen[b.Hash] {
				continue
			}
			seen[b.Hash] = true
			refs = append(refs, b)
		}
	}
	return refs
}

// ComputeTotals sorts entries by path and sets FileCount and TotalSize.
// TotalSize counts each distinct block once.
func (s *Snapshot) ComputeTotals() {
	sort.Slice(s.Entries, func(i, j int) bool { return s.Entries[i].Path < s.Entries[j].Path })
	s.FileCount = int64(len(s.Entries))
	s.TotalSize = 0
	for _, b := range s.DistinctBlocks() {
		s.TotalSize += b.Size
	}
}

// Block is a content block as recorded in the block ledger of one destination.
type Block struct {
	Hash         string    `json:"hash"`
	Destination  string    `json:"destination"`
	Size         int64     `json:"size"`
	StoredSize   int64     `json:"stored_size"`
	StoredDigest string    `json:"stored_digest"`
	RefCount     int64     `json:"ref_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunStatus is the state of a run record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusCancelled
}

// RunRecord records one execution attempt of a job.
type RunRecord struct {
	ID               string        `json:"id"`
	JobID            string        `json:"job_id"`
	Status           RunStatus     `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	Duration         time.Duration `json:"duration"`
	BytesTransferred int64         `json:"bytes_transferred"`
	FilesChanged     int64         `json:"files_changed"`
	Added            int64         `json:"added"`
	Modified         int64         `json:"modified"`
	Deleted          int64         `json:"deleted"`
	SnapshotID       string        `json:"snapshot_id,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// LogLevel classifies journal entries the way the dashboard did.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is an append-only journal line.
type LogEntry struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id,omitempty"`
	Level     LogLevel  `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FileState is a scanned file, hashed once the Hashing phase has seen it.
type FileState struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Mode        uint32
	ContentHash string
	Blocks      []BlockRef
}

// Entry converts the state into a snapshot entry.
func (f *FileState) Entry() *Entry {
	return &Entry{
		Path:        f.Path,
		ContentHash: f.ContentHash,
		Size:        f.Size,
		ModTime:     f.ModTime,
		Mode:        f.Mode,
		Blocks:      append([]BlockRef(nil), f.Blocks...),
	}
}

// Changeset is the delta between a source tree and the previous snapshot.
// All lists are sorted by path.
type Changeset struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Empty reports whether nothing changed.
func (c *Changeset) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Changed returns added and modified paths, sorted.
func (c *Changeset) Changed() []string {
	paths := make([]string, 0, len(c.Added)+len(c.Modified))
	paths = append(paths, c.Added...)
	paths = append(paths, c.Modified...)
	sort.Strings(paths)
	return paths
}

// Stats summarizes all jobs for the dashboard.
type Stats struct {
	Jobs        int     `json:"jobs"`
	TotalRuns   int64   `json:"total_runs"`
	SuccessRate float64 `json:"success_rate"`
	TotalSize   int64   `json:"total_size"`
}
