package importer

import (
	"context"
	"log/slog"

	"github.com/octohelm/x/logr"
	"golang.org/x/sync/errgroup"
)

// ImportAll runs independent attempts with at most concurrency in flight; concurrency <= 0 means unlimited.
// Outcomes are in the order of reqs. One failure does not stop the others.
func (i *Importer) ImportAll(pctx context.Context, reqs []*Request, overwrite bool, concurrency int) []Outcome {
	ctx, l := logr.FromContext(pctx).Start(pctx, "ImportAll", slog.Int("import.count", len(reqs)))
	defer l.End()

	outcomes := make([]Outcome, len(reqs))

	g := &errgroup.Group{}
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for idx, req := range reqs {
		g.Go(func() error {
			outcomes[idx] = i.Import(ctx, req, overwrite)
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}
