package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"inertiavault/internal/iv"
)

// DefaultTick is how often the scheduler looks for due jobs.
const DefaultTick = time.Minute

// JobLister lists the jobs to consider.
type JobLister interface {
	ListJobs() ([]*iv.Job, error)
}

// Starter starts a run in the background.
type Starter interface {
	Start(ctx context.Context, jobID string) (*iv.RunHandle, error)
}

// Scheduler starts due jobs on every tick. It never runs a job itself; the
// executor owns runs and their exclusion.
type Scheduler struct {
	jobs    JobLister
	starter Starter
	clock   iv.Clock
	logger  iv.Logger
	tick    time.Duration

	wg sync.WaitGroup
}

func New(jobs JobLister, starter Starter, clock iv.Clock, logger iv.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{jobs: jobs, starter: starter, clock: clock, logger: logger, tick: tick}
}

// Run checks for due jobs immediately and then on every tick until ctx is
// done. Runs it started are cancelled with ctx; Run returns once they have
// all finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "tick", s.tick)
	defer s.wg.Wait()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if _, err := s.RunPending(ctx); err != nil {
			s.logger.Error("failed to run pending backups", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RunPending starts every due job and returns the IDs of the jobs started.
// Jobs that are already running are skipped.
func (s *Scheduler) RunPending(ctx context.Context) ([]string, error) {
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var started []string
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if job.Schedule == iv.ScheduleManual || !Due(job, now) {
			continue
		}
		h, err := s.starter.Start(ctx, job.ID)
		if errors.Is(err, iv.ErrAlreadyRunning) {
			s.logger.Info("backup already running, skipping", "job", job.Name)
			continue
		}
		if err != nil {
			s.logger.Error("failed to start backup", "job", job.Name, "error", err)
			continue
		}
		s.logger.Info("started scheduled backup", "job", job.Name, "run", h.RunID)
		started = append(started, job.ID)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := h.Wait(); err != nil {
				s.logger.Warn("scheduled backup failed", "job", job.Name, "run", h.RunID, "error", err)
			}
		}()
	}
	return started, nil
}
