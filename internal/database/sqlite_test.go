package database

import (
	"errors"
	"testing"
	"time"

	"inertiavault/internal/iv"
)

// newTestDB creates a migrated in-memory database.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createJob(t *testing.T, db *SQLiteDatabase, id, name string) *iv.Job {
	t.Helper()
	job := &iv.Job{
		ID:          id,
		Name:        name,
		SourceRoot:  "/src/" + name,
		Destination: "local",
		Schedule:    iv.ScheduleDaily,
		Incremental: true,
		Compressed:  true,
		CreatedAt:   epoch,
	}
	if err := db.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}

func snapshotWith(id, jobID string, entries ...*iv.Entry) *iv.Snapshot {
	snap := &iv.Snapshot{ID: id, JobID: jobID, Destination: "local", CreatedAt: epoch, Entries: entries}
	snap.ComputeTotals()
	return snap
}

func entry(path string, blocks ...iv.BlockRef) *iv.Entry {
	var size int64
	for _, b := range blocks {
		size += b.Size
	}
	return &iv.Entry{Path: path, ContentHash: "h-" + path, Size: size, ModTime: epoch, Mode: 0o644, Blocks: blocks}
}

func TestSQLiteDatabase_Jobs(t *testing.T) {
	db := newTestDB(t)
	job := createJob(t, db, "job-1", "docs")

	got, err := db.FindJob("job-1")
	if err != nil {
		t.Fatalf("FindJob() error = %v", err)
	}
	if got == nil || got.Name != "docs" || got.Status != iv.JobStatusReady || !got.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("FindJob() = %+v", got)
	}
	if got.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want nil", got.LastRunAt)
	}

	byName, err := db.FindJobByName("docs")
	if err != nil || byName == nil || byName.ID != "job-1" {
		t.Errorf("FindJobByName() = %v, %v", byName, err)
	}

	missing, err := db.FindJob("nope")
	if err != nil || missing != nil {
		t.Errorf("FindJob(missing) = %v, %v; want nil, nil", missing, err)
	}

	dup := *job
	dup.ID = "job-2"
	if err := db.CreateJob(&dup); !errors.Is(err, iv.ErrConfiguration) {
		t.Errorf("CreateJob(duplicate name) = %v, want ErrConfiguration", err)
	}

	if err := db.UpdateJobStatus("job-1", iv.JobStatusRunning, epoch.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	got, _ = db.FindJob("job-1")
	if got.Status != iv.JobStatusRunning || got.LastRunAt == nil || !got.LastRunAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("after UpdateJobStatus() = %+v", got)
	}
}

func TestSQLiteDatabase_CommitSnapshot(t *testing.T) {
	db := newTestDB(t)
	createJob(t, db, "job-1", "docs")

	a := iv.BlockRef{Hash: "aaa", Size: 10}
	b := iv.BlockRef{Hash: "bbb", Size: 5}

	first := snapshotWith("snap-1", "job-1", entry("b.txt", a), entry("a.txt", a, b))
	id, err := db.CommitSnapshot(first)
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if id != "snap-1" || first.Seq != 1 {
		t.Errorf("CommitSnapshot() = %q seq %d, want snap-1 seq 1", id, first.Seq)
	}

	latest, err := db.LatestSnapshot("job-1")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if latest.ID != "snap-1" || latest.TotalSize != 15 || latest.FileCount != 2 {
		t.Errorf("LatestSnapshot() = %+v", latest)
	}
	if len(latest.Entries) != 2 || latest.Entries[0].Path != "a.txt" || len(latest.Entries[0].Blocks) != 2 {
		t.Fatalf("entries = %+v", latest.Entries)
	}
	if !latest.Entries[0].ModTime.Equal(epoch) {
		t.Errorf("entry mtime = %v, want %v", latest.Entries[0].ModTime, epoch)
	}

	second := snapshotWith("snap-2", "job-1", entry("a.txt", a))
	if _, err := db.CommitSnapshot(second); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("second Seq = %d, want 2", second.Seq)
	}

	history, err := db.SnapshotHistory("job-1")
	if err != nil {
		t.Fatalf("SnapshotHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].ID != "snap-2" || history[1].ID != "snap-1" {
		t.Errorf("SnapshotHistory() order = %v", ids(history))
	}

	again, _ := db.SnapshotHistory("job-1")
	history[0] = nil
	if again[0] == nil {
		t.Error("SnapshotHistory() returned a shared slice")
	}
}

func TestSQLiteDatabase_CommitSnapshotIsAtomic(t *testing.T) {
	db := newTestDB(t)
	createJob(t, db, "job-1", "docs")

	if _, err := db.CommitSnapshot(snapshotWith("snap-1", "job-1", entry("a.txt"))); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	// Duplicate paths violate the entry primary key halfway through.
	bad := &iv.Snapshot{ID: "snap-2", JobID: "job-1", Destination: "local", CreatedAt: epoch,
		Entries: []*iv.Entry{entry("x.txt"), entry("x.txt")}}
	if _, err := db.CommitSnapshot(bad); err == nil {
		t.Fatal("CommitSnapshot() with duplicate paths succeeded")
	}

	latest, err := db.LatestSnapshot("job-1")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if latest.ID != "snap-1" {
		t.Errorf("LatestSnapshot() = %s, want snap-1", latest.ID)
	}
	if found, _ := db.FindSnapshot("snap-2"); found != nil {
		t.Error("partially committed snapshot is visible")
	}
}

func TestSQLiteDatabase_DeleteJob(t *testing.T) {
	db := newTestDB(t)
	createJob(t, db, "job-1", "docs")

	if _, err := db.CommitSnapshot(snapshotWith("snap-1", "job-1", entry("a.txt", iv.BlockRef{Hash: "aaa", Size: 1}))); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	run := &iv.RunRecord{ID: "run-1", JobID: "job-1", Status: iv.RunStatusRunning, StartedAt: epoch}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := db.DeleteJob("job-1"); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if err := db.DeleteJob("job-1"); !errors.Is(err, iv.ErrNotFound) {
		t.Errorf("DeleteJob() twice = %v, want ErrNotFound", err)
	}

	runs, err := db.ListRuns("job-1", 0)
	if err != nil || len(runs) != 0 {
		t.Errorf("runs after delete = %d, %v", len(runs), err)
	}
	if latest, _ := db.LatestSnapshot("job-1"); latest != nil {
		t.Error("LatestSnapshot() of deleted job is still reachable")
	}

	unreachable, err := db.UnreachableSnapshots()
	if err != nil {
		t.Fatalf("UnreachableSnapshots() error = %v", err)
	}
	if len(unreachable) != 1 || len(unreachable[0].Entries) != 1 {
		t.Fatalf("UnreachableSnapshots() = %v", ids(unreachable))
	}

	if _, err := db.ReleaseSnapshot("snap-1"); err != nil {
		t.Fatalf("ReleaseSnapshot() error = %v", err)
	}
	if found, _ := db.FindSnapshot("snap-1"); found != nil {
		t.Error("snapshot still present after ReleaseSnapshot()")
	}
}

func TestSQLiteDatabase_BlockLedger(t *testing.T) {
	db := newTestDB(t)
	block := &iv.Block{Hash: "aaa", Destination: "local", Size: 10, StoredSize: 8, StoredDigest: "d1", CreatedAt: epoch}

	if err := db.RetainBlock("local", "aaa"); !errors.Is(err, iv.ErrNotFound) {
		t.Errorf("RetainBlock(unknown) = %v, want ErrNotFound", err)
	}
	if _, err := db.ReleaseBlock("local", "aaa"); !errors.Is(err, iv.ErrNotFound) {
		t.Errorf("ReleaseBlock(unknown) = %v, want ErrNotFound", err)
	}

	if err := db.RecordBlock(block); err != nil {
		t.Fatalf("RecordBlock() error = %v", err)
	}
	if err := db.RetainBlock("local", "aaa"); err != nil {
		t.Fatalf("RetainBlock() error = %v", err)
	}
	again := *block
	again.StoredDigest = "d2"
	if err := db.RecordBlock(&again); err != nil {
		t.Fatalf("RecordBlock() again error = %v", err)
	}

	got, err := db.FindBlock("local", "aaa")
	if err != nil {
		t.Fatalf("FindBlock() error = %v", err)
	}
	if got.RefCount != 3 || got.StoredDigest != "d1" || got.StoredSize != 8 {
		t.Errorf("FindBlock() = %+v, want ref 3 digest d1", got)
	}

	// The same hash on another destination is a separate block.
	if other, _ := db.FindBlock("s3", "aaa"); other != nil {
		t.Error("block leaked across destinations")
	}

	for want := int64(2); want >= 0; want-- {
		remaining, err := db.ReleaseBlock("local", "aaa")
		if err != nil {
			t.Fatalf("ReleaseBlock() error = %v", err)
		}
		if remaining != want {
			t.Errorf("ReleaseBlock() = %d, want %d", remaining, want)
		}
	}
	if remaining, _ := db.ReleaseBlock("local", "aaa"); remaining != 0 {
		t.Errorf("ReleaseBlock() below zero = %d", remaining)
	}

	deleted, err := db.DeleteUnreferencedBlocks("local")
	if err != nil {
		t.Fatalf("DeleteUnreferencedBlocks() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "aaa" {
		t.Errorf("DeleteUnreferencedBlocks() = %v", deleted)
	}
	blocks, _ := db.ListBlocks("local")
	if len(blocks) != 0 {
		t.Errorf("ListBlocks() after delete = %d", len(blocks))
	}
}

func TestSQLiteDatabase_ReleaseSnapshot(t *testing.T) {
	db := newTestDB(t)
	createJob(t, db, "job-1", "docs")

	for _, h := range []string{"aaa", "bbb", "ccc"} {
		if err := db.RecordBlock(&iv.Block{Hash: h, Destination: "local", Size: 4, StoredSize: 4, StoredDigest: "d-" + h, CreatedAt: epoch}); err != nil {
			t.Fatalf("RecordBlock(%s) error = %v", h, err)
		}
		if err := db.RetainBlock("local", h); err != nil {
			t.Fatalf("RetainBlock(%s) error = %v", h, err)
		}
	}
	// "aaa" appears twice and is released once.
	snap := snapshotWith("snap-1", "job-1",
		entry("a.txt", iv.BlockRef{Hash: "aaa", Size: 4}, iv.BlockRef{Hash: "bbb", Size: 4}),
		entry("b.txt", iv.BlockRef{Hash: "aaa", Size: 4}, iv.BlockRef{Hash: "ccc", Size: 4}),
	)
	if _, err := db.CommitSnapshot(snap); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	refCounts := func() map[string]int64 {
		t.Helper()
		blocks, err := db.ListBlocks("local")
		if err != nil {
			t.Fatalf("ListBlocks() error = %v", err)
		}
		counts := make(map[string]int64)
		for _, b := range blocks {
			counts[b.Hash] = b.RefCount
		}
		return counts
	}

	// Fail the transaction after "aaa" has been decremented.
	if _, err := db.db.Exec(`
		CREATE TRIGGER fail_release BEFORE UPDATE ON blocks
		WHEN NEW.hash = 'ccc'
		BEGIN SELECT RAISE(ABORT, 'release failed'); END`); err != nil {
		t.Fatalf("creating trigger: %v", err)
	}
	if _, err := db.ReleaseSnapshot("snap-1"); err == nil {
		t.Fatal("ReleaseSnapshot() with failing update succeeded")
	}
	for h, n := range refCounts() {
		if n != 2 {
			t.Errorf("ref count of %s after failed release = %d, want 2", h, n)
		}
	}
	if found, _ := db.FindSnapshot("snap-1"); found == nil {
		t.Fatal("snapshot deleted by failed release")
	}

	if _, err := db.db.Exec(`DROP TRIGGER fail_release`); err != nil {
		t.Fatalf("dropping trigger: %v", err)
	}
	released, err := db.ReleaseSnapshot("snap-1")
	if err != nil {
		t.Fatalf("ReleaseSnapshot() error = %v", err)
	}
	if released != 3 {
		t.Errorf("ReleaseSnapshot() released %d, want 3", released)
	}

	// A second release finds nothing and leaves the counts alone.
	if _, err := db.ReleaseSnapshot("snap-1"); !errors.Is(err, iv.ErrNotFound) {
		t.Errorf("ReleaseSnapshot() twice = %v, want ErrNotFound", err)
	}
	for h, n := range refCounts() {
		if n != 1 {
			t.Errorf("ref count of %s = %d, want 1", h, n)
		}
	}
}

func TestSQLiteDatabase_FinishRun(t *testing.T) {
	tests := []struct {
		status         iv.RunStatus
		wantJobStatus  iv.JobStatus
		wantSuccessful int64
		wantSize       int64
	}{
		{iv.RunStatusSuccess, iv.JobStatusSuccess, 1, 2048},
		{iv.RunStatusFailed, iv.JobStatusFailed, 0, 0},
		{iv.RunStatusCancelled, iv.JobStatusCancelled, 0, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			db := newTestDB(t)
			createJob(t, db, "job-1", "docs")

			run := &iv.RunRecord{ID: "run-1", JobID: "job-1", Status: iv.RunStatusRunning, StartedAt: epoch}
			if err := db.CreateRun(run); err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}
			finished := epoch.Add(time.Minute)
			run.Status = tt.status
			run.FinishedAt = &finished
			run.Duration = time.Minute
			run.BytesTransferred = 2048
			run.FilesChanged = 3
			if err := db.FinishRun(run); err != nil {
				t.Fatalf("FinishRun() error = %v", err)
			}

			job, _ := db.FindJob("job-1")
			if job.Status != tt.wantJobStatus || job.TotalRuns != 1 || job.SuccessfulRuns != tt.wantSuccessful || job.TotalSize != tt.wantSize {
				t.Errorf("job after FinishRun() = %+v", job)
			}

			runs, err := db.ListRuns("job-1", 10)
			if err != nil || len(runs) != 1 {
				t.Fatalf("ListRuns() = %d, %v", len(runs), err)
			}
			if runs[0].Status != tt.status || runs[0].Duration != time.Minute || runs[0].FinishedAt == nil {
				t.Errorf("ListRuns()[0] = %+v", runs[0])
			}
		})
	}
}

func TestSQLiteDatabase_Logs(t *testing.T) {
	db := newTestDB(t)
	for i, msg := range []string{"first", "second", "third"} {
		err := db.AppendLog(&iv.LogEntry{
			ID:        msg,
			Level:     iv.LogInfo,
			Message:   msg,
			Timestamp: epoch.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	logs, err := db.ListLogs(2)
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(logs) != 2 || logs[0].Message != "third" || logs[1].Message != "second" {
		t.Errorf("ListLogs(2) = %v", logs)
	}
}

func ids(snaps []*iv.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}
