package iv

import (
	"context"
	"errors"
	"fmt"
)

// GCReport summarizes a garbage collection.
type GCReport struct {
	Pruned         int `json:"pruned"`          // snapshots marked unreachable by retention
	Collected      int `json:"collected"`       // unreachable snapshots deleted
	Released       int `json:"released"`        // block references dropped
	DeletedBlocks  int `json:"deleted_blocks"`  // zero-reference blocks removed
	DeletedOrphans int `json:"deleted_orphans"` // destination objects unknown to the ledger
}

// CollectGarbage applies retention, then frees what no reachable snapshot
// references. keepLast > 0 keeps only that many newest snapshots per job.
func (s *Service) CollectGarbage(ctx context.Context, keepLast int) (*GCReport, error) {
	report := &GCReport{}

	if keepLast > 0 {
		jobs, err := s.database.ListJobs()
		if err != nil {
			return nil, fmt.Errorf("listing jobs: %w", err)
		}
		for _, job := range jobs {
			history, err := s.database.SnapshotHistory(job.ID)
			if err != nil {
				return nil, fmt.Errorf("listing snapshots of %s: %w", job.Name, err)
			}
			var prune []string
			kept := 0
			for _, snap := range history {
				if !snap.Reachable {
					continue
				}
				if kept < keepLast {
					kept++
					continue
				}
				prune = append(prune, snap.ID)
			}
			if len(prune) == 0 {
				continue
			}
			if err := s.database.MarkSnapshotsUnreachable(prune); err != nil {
				return nil, fmt.Errorf("pruning snapshots of %s: %w", job.Name, err)
			}
			report.Pruned += len(prune)
		}
	}

	unreachable, err := s.database.UnreachableSnapshots()
	if err != nil {
		return nil, fmt.Errorf("listing unreachable snapshots: %w", err)
	}
	for _, snap := range unreachable {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.stores.Destination(snap.Destination); err != nil {
			s.logger.Warn("skipping snapshot on unknown destination", "snapshot", snap.ID, "destination", snap.Destination)
			continue
		}
		released, err := s.database.ReleaseSnapshot(snap.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("releasing snapshot %s: %w", snap.ID, err)
		}
		report.Released += released
		report.Collected++
	}

	for _, name := range s.stores.Names() {
		store, err := s.stores.Store(name)
		if err != nil {
			return report, err
		}
		res, err := store.Collect(ctx)
		if err != nil {
			return report, fmt.Errorf("collecting %s: %w", name, err)
		}
		report.DeletedBlocks += res.Blocks
		report.DeletedOrphans += res.Orphans
	}

	s.logger.Info("garbage collected",
		"pruned", report.Pruned,
		"collected", report.Collected,
		"released", report.Released,
		"deleted_blocks", report.DeletedBlocks,
		"deleted_orphans", report.DeletedOrphans)
	return report, nil
}

// CheckProblem is one block that failed verification.
type CheckProblem struct {
	Destination string `json:"destination"`
	Hash        string `json:"hash"`
	Error       string `json:"error"`
}

// CheckReport summarizes a consistency check.
type CheckReport struct {
	Blocks   int             `json:"blocks"`
	Problems []*CheckProblem `json:"problems,omitempty"`
}

// Check reads back every block recorded in the ledger and verifies it.
// Problems are collected; only infrastructure failures abort the check.
func (s *Service) Check(ctx context.Context) (*CheckReport, error) {
	report := &CheckReport{}
	for _, name := range s.stores.Names() {
		store, err := s.stores.Store(name)
		if err != nil {
			return nil, err
		}
		blocks, err := s.database.ListBlocks(name)
		if err != nil {
			return nil, fmt.Errorf("listing blocks of %s: %w", name, err)
		}
		for _, b := range blocks {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Blocks++
			if err := store.Verify(ctx, b.Hash); err != nil {
				report.Problems = append(report.Problems, &CheckProblem{
					Destination: name,
					Hash:        b.Hash,
					Error:       err.Error(),
				})
			}
		}
	}
	if len(report.Problems) > 0 {
		s.logger.Warn("check found problems", "blocks", report.Blocks, "problems", len(report.Problems))
	}
	return report, nil
}
