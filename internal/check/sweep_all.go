package check

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SweepAll sweeps every mapping file concurrently, at most limit at a time
// (GOMAXPROCS when limit <= 0). Reports keep the order of paths. The first
// load or sweep error cancels the rest and is returned.
func SweepAll(ctx context.Context, paths []string, opts Options, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	reports := make([]Report, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			r, err := SweepFile(ctx, path, opts)
			reports[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
