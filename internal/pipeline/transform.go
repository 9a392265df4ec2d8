package pipeline

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// convertPath is the scratch file for a branch's converter output.
func (p *Pipeline) convertPath(br domain.Branch) string {
	return filepath.Join(p.opts.ScratchDir, br.FileStem()+".json")
}

// convertAll runs the converter over every fetched file with ConvertWorkers
// processes at most. Failures are not retried; the first one cancels the rest.
func (p *Pipeline) convertAll(ctx context.Context, files []domain.FetchedFile) ([]domain.IntermediateFile, error) {
	out := make([]domain.IntermediateFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ConvertWorkers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in, err := p.stages.Converter.Convert(gctx, f, p.convertPath(f.Source.Branch))
			if err != nil {
				p.logger.Error("conversion failed",
					"level", f.Source.Branch.Level.ID,
					"forecast", f.Source.Branch.Forecast.ID,
					"error", err,
				)
				return err
			}
			out[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
