package app

import (
	"context"

	"inertiavault/internal/iv"

	"golang.org/x/sync/errgroup"
)

type jobRunner interface {
	Run(ctx context.Context, ref string) (*iv.RunRecord, error)
}

// runAll runs every ref with at most concurrency runs in flight. One job
// failing does not stop the others.
func runAll(ctx context.Context, r jobRunner, refs []string, concurrency int) ([]*iv.RunRecord, []error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	records := make([]*iv.RunRecord, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			records[i], errs[i] = r.Run(ctx, ref)
			return nil
		})
	}
	g.Wait()
	return records, errs
}
