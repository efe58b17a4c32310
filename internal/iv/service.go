package iv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// DefaultLogLimit is how many journal entries are listed when no limit is given.
const DefaultLogLimit = 100

// Service is the orchestration layer behind the CLI: job definitions,
// snapshots, history, the journal, restores and garbage collection.
// Runs themselves are delegated to the Executor.
type Service struct {
	database Database
	stores   StoreRegistry
	detector ChangeDetector
	executor *Executor
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a Service with the provided dependencies.
func NewService(database Database, stores StoreRegistry, detector ChangeDetector, executor *Executor, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		database: database,
		stores:   stores,
		detector: detector,
		executor: executor,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Executor returns the executor runs are started on.
func (s *Service) Executor() *Executor { return s.executor }

// CreateJob validates spec and stores a new job in the ready state.
// Invalid definitions fail with ErrConfiguration.
func (s *Service) CreateJob(spec JobSpec) (*Job, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Schedule == "" {
		spec.Schedule = ScheduleManual
	}
	if err := s.validate(spec); err != nil {
		return nil, err
	}

	existing, err := s.database.FindJobByName(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("checking for existing job: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: job %q already exists", ErrConfiguration, spec.Name)
	}

	job := &Job{
		ID:          s.idgen.New(),
		Name:        spec.Name,
		SourceRoot:  filepath.Clean(spec.SourceRoot),
		Destination: spec.Destination,
		Schedule:    spec.Schedule,
		Incremental: spec.Incremental,
		Compressed:  spec.Compressed,
		Encrypted:   spec.Encrypted,
		CreatedAt:   s.clock.Now(),
		Status:      JobStatusReady,
	}
	if err := s.database.CreateJob(job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.executor.journal(job.ID, LogSuccess, fmt.Sprintf("Created backup: %s", job.Name))
	return job, nil
}

func (s *Service) validate(spec JobSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: job name is required", ErrConfiguration)
	}
	if spec.SourceRoot == "" {
		return fmt.Errorf("%w: source root is required", ErrConfiguration)
	}
	if !filepath.IsAbs(spec.SourceRoot) {
		return fmt.Errorf("%w: source root must be absolute: %s", ErrConfiguration, spec.SourceRoot)
	}
	if err := s.detector.CheckRoot(spec.SourceRoot); err != nil {
		return fmt.Errorf("%w: source root: %v", ErrConfiguration, err)
	}
	if spec.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrConfiguration)
	}
	if _, err := s.stores.Destination(spec.Destination); err != nil {
		return err
	}
	if !spec.Schedule.Valid() {
		return fmt.Errorf("%w: unknown schedule %q", ErrConfiguration, spec.Schedule)
	}
	return nil
}

// FindJob looks a job up by ID, then by name.
func (s *Service) FindJob(ref string) (*Job, error) {
	job, err := s.database.FindJob(ref)
	if err != nil {
		return nil, fmt.Errorf("finding job: %w", err)
	}
	if job == nil {
		job, err = s.database.FindJobByName(ref)
		if err != nil {
			return nil, fmt.Errorf("finding job: %w", err)
		}
	}
	if job == nil {
		return nil, fmt.Errorf("job %q: %w", ref, ErrNotFound)
	}
	return job, nil
}

// ListJobs returns all jobs, newest first.
func (s *Service) ListJobs() ([]*Job, error) {
	return s.database.ListJobs()
}

// DeleteJob removes a job and its run history. Its snapshots become
// unreachable; the blocks they share stay until garbage collection.
func (s *Service) DeleteJob(ref string) error {
	job, err := s.FindJob(ref)
	if err != nil {
		return err
	}
	if s.executor.Active(job.ID) {
		return fmt.Errorf("job %q: %w", job.Name, ErrAlreadyRunning)
	}
	if err := s.database.DeleteJob(job.ID); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	s.executor.journal("", LogWarning, fmt.Sprintf("Deleted backup: %s", job.Name))
	return nil
}

// ExportJob serializes a job definition.
func (s *Service) ExportJob(ref string) ([]byte, error) {
	job, err := s.FindJob(ref)
	if err != nil {
		return nil, err
	}
	return Serialize(job)
}

// ImportJob creates a job from an exported definition. The imported job
// gets a fresh ID and starts without history.
func (s *Service) ImportJob(data []byte) (*Job, error) {
	v, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	job, ok := v.(*Job)
	if !ok {
		return nil, fmt.Errorf("%w: document is not a job", ErrConfiguration)
	}
	return s.CreateJob(JobSpec{
		Name:        job.Name,
		SourceRoot:  job.SourceRoot,
		Destination: job.Destination,
		Schedule:    job.Schedule,
		Incremental: job.Incremental,
		Compressed:  job.Compressed,
		Encrypted:   job.Encrypted,
	})
}

// Snapshots returns the snapshots of a job, newest first.
func (s *Service) Snapshots(ref string) ([]*Snapshot, error) {
	job, err := s.FindJob(ref)
	if err != nil {
		return nil, err
	}
	return s.database.SnapshotHistory(job.ID)
}

// Snapshot returns a snapshot with its entries.
func (s *Service) Snapshot(id string) (*Snapshot, error) {
	snapshot, err := s.database.FindSnapshot(id)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return snapshot, nil
}

// History returns recent runs of a job, or of all jobs when ref is empty.
func (s *Service) History(ref string, limit int) ([]*RunRecord, error) {
	jobID := ""
	if ref != "" {
		job, err := s.FindJob(ref)
		if err != nil {
			return nil, err
		}
		jobID = job.ID
	}
	return s.database.ListRuns(jobID, limit)
}

// Logs returns the newest journal entries. A non-positive limit means
// DefaultLogLimit.
func (s *Service) Logs(limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return s.database.ListLogs(limit)
}

// ExportLogs writes the newest journal entries to w as an indented JSON array.
func (s *Service) ExportLogs(w io.Writer, limit int) error {
	logs, err := s.Logs(limit)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*LogEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(logs); err != nil {
		return fmt.Errorf("encoding logs: %w", err)
	}
	return nil
}

// LogExportName is the default file name of a journal export made at t.
func LogExportName(t time.Time) string {
	return fmt.Sprintf("inertiavault-logs-%s.json", t.Format("2006-01-02"))
}

// Stats summarizes all jobs. SuccessRate is a percentage with one decimal.
func (s *Service) Stats() (*Stats, error) {
	jobs, err := s.database.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	stats := &Stats{Jobs: len(jobs)}
	var successful int64
	for _, j := range jobs {
		stats.TotalRuns += j.TotalRuns
		stats.TotalSize += j.TotalSize
		successful += j.SuccessfulRuns
	}
	if stats.TotalRuns > 0 {
		rate := float64(successful) / float64(stats.TotalRuns) * 100
		stats.SuccessRate = math.Round(rate*10) / 10
	}
	return stats, nil
}

// Run runs a job by ID or name and waits for it.
func (s *Service) Run(ctx context.Context, ref string) (*RunRecord, error) {
	job, err := s.FindJob(ref)
	if err != nil {
		return nil, err
	}
	return s.executor.Run(ctx, job.ID)
}
