package tilestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// Builder writes complete tile trees into staging.
type Builder struct {
	layout    Layout
	maxZoom   int
	maxPoints int
	workers   int
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewBuilder creates a builder producing zooms 0 through maxZoom with at most
// maxPoints grid points per tile axis, building up to workers branches at once.
func NewBuilder(layout Layout, maxZoom, maxPoints, workers int, clock clockwork.Clock, logger *slog.Logger) *Builder {
	return &Builder{
		layout:    layout,
		maxZoom:   maxZoom,
		maxPoints: maxPoints,
		workers:   max(workers, 1),
		clock:     clock,
		logger:    logger,
	}
}

// Build writes every tile of every selected branch plus the manifest into
// staging/<ReleaseID>. A missing or unreadable intermediate returns
// domain.ErrIncomplete. On any error the staging tree is removed.
func (b *Builder) Build(ctx context.Context, req domain.BuildRequest) (m domain.Manifest, err error) {
	branches := req.Selection.Branches()
	inputs := make(map[string]domain.IntermediateFile, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs[in.Branch.Key()] = in
	}
	var missing []string
	for _, br := range branches {
		if _, ok := inputs[br.Key()]; !ok {
			missing = append(missing, br.Key())
		}
	}
	if len(missing) > 0 {
		return domain.Manifest{}, fmt.Errorf("%w: no intermediate for %s", domain.ErrIncomplete, strings.Join(missing, ", "))
	}

	dir := b.layout.Staging(req.ReleaseID)
	if err := os.RemoveAll(dir); err != nil {
		return domain.Manifest{}, fmt.Errorf("clear staging: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Manifest{}, fmt.Errorf("create staging: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, br := range branches {
		in := inputs[br.Key()]
		g.Go(func() error {
			n, err := b.buildBranch(gctx, dir, br, in)
			written.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Manifest{}, err
	}

	m = domain.Manifest{
		ReleaseID:   req.ReleaseID,
		CycleID:     req.CycleID,
		RunTime:     req.RunTime.Time,
		GeneratedAt: b.clock.Now().UTC(),
		Levels:      req.Selection.LevelIDs(),
		Forecasts:   req.Selection.ForecastIDs(),
		MaxZoom:     b.maxZoom,
		TileCount:   int(written.Load()),
		MaxPoints:   b.maxPoints,
	}
	if err := writeManifest(dir, m); err != nil {
		return domain.Manifest{}, err
	}
	if _, err := Verify(dir, false); err != nil {
		return domain.Manifest{}, err
	}
	return m, nil
}

func (b *Builder) buildBranch(ctx context.Context, dir string, br domain.Branch, in domain.IntermediateFile) (int, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrIncomplete, br.Key(), err)
	}
	field, err := domain.DecodeWindField(f)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrIncomplete, br.Key(), err)
	}

	written := 0
	for _, key := range domain.BranchKeys(br, b.maxZoom) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		tile, err := field.Tile(key.Zoom, key.X, key.Y, b.maxPoints)
		if err != nil {
			return written, fmt.Errorf("tile %s: %w", key, err)
		}
		data, err := json.Marshal(tile.Records())
		if err != nil {
			return written, fmt.Errorf("encode tile %s: %w", key, err)
		}
		path := TilePath(dir, key)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("create tile dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write tile %s: %w", key, err)
		}
		written++
	}

	b.logger.Debug("branch tiles written",
		"level", br.Level.ID,
		"forecast", br.Forecast.ID,
		"tiles", written,
		"points", field.Points(),
	)
	return written, nil
}
