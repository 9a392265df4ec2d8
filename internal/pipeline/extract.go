package pipeline

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// sources lists the descriptors of one run, levels outermost.
func (p *Pipeline) sources(run domain.RunTime) []domain.SourceDescriptor {
	branches := p.opts.Selection.Branches()
	out := make([]domain.SourceDescriptor, len(branches))
	for i, br := range branches {
		out[i] = p.opts.Locator.Describe(run, br)
	}
	return out
}

// fetchPath is the scratch file for a branch's source. The name is stable
// across cycles.
func (p *Pipeline) fetchPath(br domain.Branch) string {
	return filepath.Join(p.opts.ScratchDir, br.FileStem()+".grb2")
}

// fetchAll downloads every source. Requests start at most once per FetchDelay
// with at most FetchConcurrency in flight; the first failure cancels the
// rest. The files fetched before a failure are returned with the error.
func (p *Pipeline) fetchAll(ctx context.Context, sources []domain.SourceDescriptor) ([]domain.FetchedFile, error) {
	limit := rate.Inf
	if p.opts.FetchDelay > 0 {
		limit = rate.Every(p.opts.FetchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	files := make([]domain.FetchedFile, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FetchConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			f, err := p.stages.Fetcher.Fetch(gctx, src, p.fetchPath(src.Branch))
			if err != nil {
				p.logger.Error("source fetch failed",
					"level", src.Branch.Level.ID,
					"forecast", src.Branch.Forecast.ID,
					"url", src.URL,
					"error", err,
				)
				return err
			}
			files[i] = f
			return nil
		})
	}
	err := g.Wait()

	done := files[:0:0]
	for _, f := range files {
		if f.Path != "" {
			done = append(done, f)
		}
	}
	return done, err
}
