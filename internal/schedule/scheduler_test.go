package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inertiavault/internal/iv"
	"inertiavault/internal/schedule"
	"inertiavault/internal/testutil"
)

type recordingStarter struct {
	exec    *iv.Executor
	err     error
	mu      sync.Mutex
	handles []*iv.RunHandle
}

func (s *recordingStarter) Start(ctx context.Context, jobID string) (*iv.RunHandle, error) {
	if s.err != nil {
		return nil, s.err
	}
	h, err := s.exec.Start(ctx, jobID)
	if err == nil {
		s.mu.Lock()
		s.handles = append(s.handles, h)
		s.mu.Unlock()
	}
	return h, err
}

func TestScheduler_RunPending(t *testing.T) {
	e := testutil.NewEngine(t, testutil.EngineOptions{Files: map[string]string{"a.txt": "hello"}})
	ctx := context.Background()

	hourly, err := e.Service.CreateJob(iv.JobSpec{
		Name: "hourly", SourceRoot: testutil.SourceRoot, Destination: testutil.DestinationName,
		Schedule: iv.ScheduleHourly, Incremental: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Service.CreateJob(iv.JobSpec{
		Name: "manual", SourceRoot: testutil.SourceRoot, Destination: testutil.DestinationName,
	}); err != nil {
		t.Fatal(err)
	}

	starter := &recordingStarter{exec: e.Executor}
	s := schedule.New(e.Service, starter, e.Clock, iv.NewNopLogger(), time.Minute)

	started, err := s.RunPending(ctx)
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if len(started) != 0 {
		t.Fatalf("RunPending() right after creation started %v", started)
	}

	e.Clock.Advance(time.Hour)
	started, err = s.RunPending(ctx)
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if len(started) != 1 || started[0] != hourly.ID {
		t.Fatalf("RunPending() = %v, want [%s]", started, hourly.ID)
	}
	run, err := starter.handles[0].Wait()
	if err != nil || run.Status != iv.RunStatusSuccess {
		t.Fatalf("scheduled run = %+v, %v", run, err)
	}

	// The run moved the job's last run forward, so nothing is due now.
	started, _ = s.RunPending(ctx)
	if len(started) != 0 {
		t.Errorf("RunPending() after the run started %v", started)
	}
}

func TestScheduler_SkipsAlreadyRunning(t *testing.T) {
	e := testutil.NewEngine(t, testutil.EngineOptions{})
	if _, err := e.Service.CreateJob(iv.JobSpec{
		Name: "daily", SourceRoot: testutil.SourceRoot, Destination: testutil.DestinationName,
		Schedule: iv.ScheduleDaily,
	}); err != nil {
		t.Fatal(err)
	}
	e.Clock.Advance(48 * time.Hour)

	starter := &recordingStarter{err: iv.ErrAlreadyRunning}
	s := schedule.New(e.Service, starter, e.Clock, iv.NewNopLogger(), 0)
	started, err := s.RunPending(context.Background())
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if len(started) != 0 {
		t.Errorf("RunPending() = %v, want nothing started", started)
	}
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	e := testutil.NewEngine(t, testutil.EngineOptions{})
	s := schedule.New(e.Service, &recordingStarter{exec: e.Executor}, e.Clock, iv.NewNopLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
