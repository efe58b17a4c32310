package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"inertiavault/internal/database/migrations"
	"inertiavault/internal/iv"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var _ iv.Database = (*SQLiteDatabase)(nil)

// SQLiteDatabase implements iv.Database using SQLite. Timestamps are stored
// as Unix nanoseconds.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path, which can be a file path or
// ":memory:". The schema is not touched; see Migrate and CheckMigrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, configured connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens a SQLite connection with the PRAGMAs the engine
// relies on. A single connection serializes transactions and keeps an
// in-memory database alive across calls.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations fails unless the schema is at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

// Job operations

const jobColumns = `id, name, source_root, destination, schedule, incremental, compressed, encrypted,
	created_at, last_run_at, status, total_runs, successful_runs, total_size, files_backed_up`

func scanJob(row rowScanner) (*iv.Job, error) {
	var (
		j         iv.Job
		createdAt int64
		lastRunAt sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.Name, &j.SourceRoot, &j.Destination, &j.Schedule,
		&j.Incremental, &j.Compressed, &j.Encrypted, &createdAt, &lastRunAt, &j.Status,
		&j.TotalRuns, &j.SuccessfulRuns, &j.TotalSize, &j.FilesBackedUp)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = fromUnixNano(createdAt)
	j.LastRunAt = timePtr(lastRunAt)
	return &j, nil
}

func (s *SQLiteDatabase) CreateJob(job *iv.Job) error {
	if job.Status == "" {
		job.Status = iv.JobStatusReady
	}
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceRoot, job.Destination, string(job.Schedule),
		job.Incremental, job.Compressed, job.Encrypted, unixNano(job.CreatedAt), nullTime(job.LastRunAt),
		string(job.Status), job.TotalRuns, job.SuccessfulRuns, job.TotalSize, job.FilesBackedUp)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: job %q already exists", iv.ErrConfiguration, job.Name)
		}
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) findJob(where string, arg any) (*iv.Job, error) {
	row := s.db.QueryRowContext(context.Background(), `SELECT `+jobColumns+` FROM jobs WHERE `+where, arg)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding job: %w", err)
	}
	return job, nil
}

func (s *SQLiteDatabase) FindJob(id string) (*iv.Job, error) {
	return s.findJob("id = ?", id)
}

func (s *SQLiteDatabase) FindJobByName(name string) (*iv.Job, error) {
	return s.findJob("name = ?", name)
}

func (s *SQLiteDatabase) ListJobs() ([]*iv.Job, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*iv.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteDatabase) UpdateJobStatus(jobID string, status iv.JobStatus, lastRunAt time.Time) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE jobs SET status = ?, last_run_at = ? WHERE id = ?`,
		string(status), unixNano(lastRunAt), jobID)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	return expectRow(res, "job "+jobID)
}

func (s *SQLiteDatabase) DeleteJob(id string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE snapshots SET reachable = 0 WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("marking snapshots unreachable: %w", err)
	}
	// Runs go with the job through ON DELETE CASCADE.
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if err := expectRow(res, "job "+id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, iv.ErrNotFound)
	}
	return nil
}

// Snapshot operations

const snapshotColumns = `id, job_id, destination, seq, created_at, file_count, total_size, reachable`

func scanSnapshot(row rowScanner) (*iv.Snapshot, error) {
	var (
		snap      iv.Snapshot
		createdAt int64
	)
	err := row.Scan(&snap.ID, &snap.JobID, &snap.Destination, &snap.Seq, &createdAt,
		&snap.FileCount, &snap.TotalSize, &snap.Reachable)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = fromUnixNano(createdAt)
	return &snap, nil
}

// CommitSnapshot assigns the next per-job sequence number and stores the
// snapshot with all of its entries in one transaction.
func (s *SQLiteDatabase) CommitSnapshot(snapshot *iv.Snapshot) (string, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots WHERE job_id = ?`, snapshot.JobID).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocating sequence number: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		snapshot.ID, snapshot.JobID, snapshot.Destination, seq, unixNano(snapshot.CreatedAt),
		snapshot.FileCount, snapshot.TotalSize)
	if err != nil {
		return "", fmt.Errorf("inserting snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_entries (snapshot_id, path, content_hash, size, mtime, mode, blocks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snapshot.Entries {
		blocks := e.Blocks
		if blocks == nil {
			blocks = []iv.BlockRef{}
		}
		encoded, err := json.Marshal(blocks)
		if err != nil {
			return "", fmt.Errorf("encoding blocks of %s: %w", e.Path, err)
		}
		if _, err := stmt.ExecContext(ctx, snapshot.ID, e.Path, e.ContentHash, e.Size,
			unixNano(e.ModTime), e.Mode, string(encoded)); err != nil {
			return "", fmt.Errorf("inserting entry %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	snapshot.Seq = seq
	snapshot.Reachable = true
	return snapshot.ID, nil
}

func (s *SQLiteDatabase) loadEntries(snapshot *iv.Snapshot) error {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT path, content_hash, size, mtime, mode, blocks
		FROM snapshot_entries WHERE snapshot_id = ? ORDER BY path`, snapshot.ID)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	defer rows.Close()

	snapshot.Entries = nil
	for rows.Next() {
		var (
			e      iv.Entry
			mtime  int64
			blocks string
		)
		if err := rows.Scan(&e.Path, &e.ContentHash, &e.Size, &mtime, &e.Mode, &blocks); err != nil {
			return fmt.Errorf("scanning entry: %w", err)
		}
		e.ModTime = fromUnixNano(mtime)
		if err := json.Unmarshal([]byte(blocks), &e.Blocks); err != nil {
			return fmt.Errorf("decoding blocks of %s: %w", e.Path, err)
		}
		snapshot.Entries = append(snapshot.Entries, &e)
	}
	return rows.Err()
}

func (s *SQLiteDatabase) LatestSnapshot(jobID string) (*iv.Snapshot, error) {
	row := s.db.QueryRowContext(context.Background(), `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE job_id = ? AND reachable = 1
		ORDER BY seq DESC LIMIT 1`, jobID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	if err := s.loadEntries(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteDatabase) querySnapshots(query string, args ...any) ([]*iv.Snapshot, error) {
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*iv.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteDatabase) SnapshotHistory(jobID string) ([]*iv.Snapshot, error) {
	return s.querySnapshots(`SELECT `+snapshotColumns+` FROM snapshots WHERE job_id = ? ORDER BY seq DESC`, jobID)
}

func (s *SQLiteDatabase) FindSnapshot(id string) (*iv.Snapshot, error) {
	row := s.db.QueryRowContext(context.Background(), `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	if err := s.loadEntries(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteDatabase) MarkSnapshotsUnreachable(ids []string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE snapshots SET reachable = 0 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("marking snapshot %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UnreachableSnapshots() ([]*iv.Snapshot, error) {
	snaps, err := s.querySnapshots(`SELECT ` + snapshotColumns + ` FROM snapshots WHERE reachable = 0 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if err := s.loadEntries(snap); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (s *SQLiteDatabase) ReleaseSnapshot(id string) (int, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var destination string
	err = tx.QueryRowContext(ctx, `SELECT destination FROM snapshots WHERE id = ?`, id).Scan(&destination)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("snapshot %s: %w", id, iv.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("finding snapshot: %w", err)
	}

	hashes, err := snapshotBlockHashes(ctx, tx, id)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, h := range hashes {
		res, err := tx.ExecContext(ctx, `
			UPDATE blocks SET ref_count = MAX(ref_count - 1, 0)
			WHERE destination = ? AND hash = ?`, destination, h)
		if err != nil {
			return 0, fmt.Errorf("releasing block %s: %w", h, err)
		}
		// Rows missing from the ledger have nothing left to release.
		if n, _ := res.RowsAffected(); n > 0 {
			released++
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("deleting snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return released, nil
}

// snapshotBlockHashes returns each block hash referenced by the snapshot once.
func snapshotBlockHashes(ctx context.Context, tx *sql.Tx, snapshotID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path, blocks FROM snapshot_entries WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var hashes []string
	for rows.Next() {
		var (
			path   string
			blocks string
			refs   []iv.BlockRef
		)
		if err := rows.Scan(&path, &blocks); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if err := json.Unmarshal([]byte(blocks), &refs); err != nil {
			return nil, fmt.Errorf("decoding blocks of %s: %w", path, err)
		}
		for _, r := range refs {
			if !seen[r.Hash] {
				seen[r.Hash] = true
				hashes = append(hashes, r.Hash)
			}
		}
	}
	return hashes, rows.Err()
}

// Block ledger operations

func (s *SQLiteDatabase) RecordBlock(block *iv.Block) error {
	// The first recorded payload stays authoritative. A conflicting record
	// only adds a reference and never rewrites stored_size or stored_digest.
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO blocks (destination, hash, size, stored_size, stored_digest, ref_count, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (destination, hash) DO UPDATE SET
			ref_count = ref_count + 1`,
		block.Destination, block.Hash, block.Size, block.StoredSize, block.StoredDigest, unixNano(block.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording block: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) RetainBlock(destination, hash string) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE blocks SET ref_count = ref_count + 1 WHERE destination = ? AND hash = ?`, destination, hash)
	if err != nil {
		return fmt.Errorf("retaining block: %w", err)
	}
	return expectRow(res, "block "+hash)
}

func (s *SQLiteDatabase) ReleaseBlock(destination, hash string) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(context.Background(), `
		UPDATE blocks SET ref_count = MAX(ref_count - 1, 0)
		WHERE destination = ? AND hash = ?
		RETURNING ref_count`, destination, hash).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("block %s: %w", hash, iv.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("releasing block: %w", err)
	}
	return remaining, nil
}

const blockColumns = `destination, hash, size, stored_size, stored_digest, ref_count, created_at`

func scanBlock(row rowScanner) (*iv.Block, error) {
	var (
		b         iv.Block
		createdAt int64
	)
	if err := row.Scan(&b.Destination, &b.Hash, &b.Size, &b.StoredSize, &b.StoredDigest, &b.RefCount, &createdAt); err != nil {
		return nil, err
	}
	b.CreatedAt = fromUnixNano(createdAt)
	return &b, nil
}

func (s *SQLiteDatabase) FindBlock(destination, hash string) (*iv.Block, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+blockColumns+` FROM blocks WHERE destination = ? AND hash = ?`, destination, hash)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding block: %w", err)
	}
	return b, nil
}

func (s *SQLiteDatabase) ListBlocks(destination string) ([]*iv.Block, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+blockColumns+` FROM blocks WHERE destination = ? ORDER BY hash`, destination)
	if err != nil {
		return nil, fmt.Errorf("listing blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*iv.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (s *SQLiteDatabase) DeleteUnreferencedBlocks(destination string) ([]string, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT hash FROM blocks WHERE destination = ? AND ref_count = 0 ORDER BY hash`, destination)
	if err != nil {
		return nil, fmt.Errorf("listing unreferenced blocks: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning block hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE destination = ? AND ref_count = 0`, destination); err != nil {
		return nil, fmt.Errorf("deleting unreferenced blocks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return hashes, nil
}

// Run operations

const runColumns = `id, job_id, status, started_at, finished_at, duration, bytes_transferred,
	files_changed, added, modified, deleted, snapshot_id, error`

func (s *SQLiteDatabase) CreateRun(run *iv.RunRecord) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, string(run.Status), unixNano(run.StartedAt), nullTime(run.FinishedAt),
		int64(run.Duration), run.BytesTransferred, run.FilesChanged, run.Added, run.Modified,
		run.Deleted, run.SnapshotID, run.Error)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun stores the terminal run state and updates the job's counters and
// status in the same transaction.
func (s *SQLiteDatabase) FinishRun(run *iv.RunRecord) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, duration = ?, bytes_transferred = ?,
			files_changed = ?, added = ?, modified = ?, deleted = ?, snapshot_id = ?, error = ?
		WHERE id = ?`,
		string(run.Status), nullTime(run.FinishedAt), int64(run.Duration), run.BytesTransferred,
		run.FilesChanged, run.Added, run.Modified, run.Deleted, run.SnapshotID, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if err := expectRow(res, "run "+run.ID); err != nil {
		return err
	}

	var (
		status     = jobStatusFor(run.Status)
		successful int64
		size       int64
		files      int64
	)
	if run.Status == iv.RunStatusSuccess {
		successful, size, files = 1, run.BytesTransferred, run.FilesChanged
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, total_runs = total_runs + 1,
			successful_runs = successful_runs + ?, total_size = total_size + ?,
			files_backed_up = files_backed_up + ?
		WHERE id = ?`,
		string(status), successful, size, files, run.JobID)
	if err != nil {
		return fmt.Errorf("updating job counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func jobStatusFor(s iv.RunStatus) iv.JobStatus {
	switch s {
	case iv.RunStatusSuccess:
		return iv.JobStatusSuccess
	case iv.RunStatusCancelled:
		return iv.JobStatusCancelled
	case iv.RunStatusRunning:
		return iv.JobStatusRunning
	default:
		return iv.JobStatusFailed
	}
}

func (s *SQLiteDatabase) ListRuns(jobID string, limit int) ([]*iv.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*iv.RunRecord
	for rows.Next() {
		var (
			r          iv.RunRecord
			startedAt  int64
			finishedAt sql.NullInt64
			duration   int64
		)
		err := rows.Scan(&r.ID, &r.JobID, &r.Status, &startedAt, &finishedAt, &duration,
			&r.BytesTransferred, &r.FilesChanged, &r.Added, &r.Modified, &r.Deleted, &r.SnapshotID, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = fromUnixNano(startedAt)
		r.FinishedAt = timePtr(finishedAt)
		r.Duration = time.Duration(duration)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Journal operations

func (s *SQLiteDatabase) AppendLog(entry *iv.LogEntry) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO logs (id, job_id, level, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, string(entry.Level), entry.Message, unixNano(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("appending log: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListLogs(limit int) ([]*iv.LogEntry, error) {
	query := `SELECT id, job_id, level, message, timestamp FROM logs ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	var logs []*iv.LogEntry
	for rows.Next() {
		var (
			e  iv.LogEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("scanning log: %w", err)
		}
		e.Timestamp = fromUnixNano(ts)
		logs = append(logs, &e)
	}
	return logs, rows.Err()
}
