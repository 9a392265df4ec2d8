// Package pipeline runs update cycles: resolve the run, fetch every source
// file, convert, build a staging tree and publish it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
	"github.com/couchcryptid/wind-tile-service/internal/observability"
)

// Fetcher downloads one source file to dest.
type Fetcher interface {
	Fetch(ctx context.Context, src domain.SourceDescriptor, dest string) (domain.FetchedFile, error)
}

// Converter turns one fetched file into an intermediate file at out.
type Converter interface {
	Convert(ctx context.Context, in domain.FetchedFile, out string) (domain.IntermediateFile, error)
}

// Builder writes a complete staging tree.
type Builder interface {
	Build(ctx context.Context, req domain.BuildRequest) (domain.Manifest, error)
}

// Publisher promotes a staging tree to current.
type Publisher interface {
	Publish(ctx context.Context, releaseID string) (domain.Release, error)
}

// ReleaseNotifier announces a published release.
type ReleaseNotifier interface {
	NotifyRelease(ctx context.Context, rel domain.Release) error
}

// HistoryRecorder stores finished cycles.
type HistoryRecorder interface {
	RecordCycle(ctx context.Context, rec domain.CycleRecord) error
}

// Stages are the collaborators of one cycle. Notifier and History are
// optional.
type Stages struct {
	Fetcher   Fetcher
	Converter Converter
	Builder   Builder
	Publisher Publisher
	Notifier  ReleaseNotifier
	History   HistoryRecorder
}

// Options configure what a cycle builds and how hard it pulls upstream.
type Options struct {
	Selection        domain.Selection
	Schedule         domain.PublicationSchedule
	Locator          domain.Locator
	ScratchDir       string
	FetchDelay       time.Duration
	FetchConcurrency int
	ConvertWorkers   int
}

// sideEffectTimeout bounds notification and history writes after publish.
const sideEffectTimeout = 10 * time.Second

// Pipeline runs at most one update cycle at a time.
type Pipeline struct {
	opts    Options
	stages  Stages
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu sync.Mutex
}

// New creates a Pipeline.
func New(opts Options, stages Stages, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	opts.FetchConcurrency = max(opts.FetchConcurrency, 1)
	opts.ConvertWorkers = max(opts.ConvertWorkers, 1)
	return &Pipeline{
		opts:    opts,
		stages:  stages,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer(observability.ServiceName),
	}
}

// RunCycle runs one complete update cycle. If another cycle is in progress it
// returns immediately with domain.ErrCycleInProgress. Any failure leaves the
// published tree untouched, and scratch files are removed in every case.
func (p *Pipeline) RunCycle(ctx context.Context, trigger domain.Trigger) domain.CycleResult {
	started := p.clock.Now().UTC()
	if !p.mu.TryLock() {
		p.metrics.CyclesTotal.WithLabelValues(string(trigger), "skipped").Inc()
		p.logger.Warn("update cycle skipped", "trigger", trigger, "reason", "cycle in progress")
		return domain.CycleResult{Trigger: trigger, StartedAt: started, Err: domain.ErrCycleInProgress}
	}
	defer p.mu.Unlock()

	p.metrics.CycleRunning.Set(1)
	defer p.metrics.CycleRunning.Set(0)

	res := domain.CycleResult{
		CycleID:   uuid.NewString(),
		Trigger:   trigger,
		RunTime:   domain.ResolveRunTime(started, p.opts.Schedule),
		StartedAt: started,
		Levels:    p.opts.Selection.LevelIDs(),
		Forecasts: p.opts.Selection.ForecastIDs(),
	}
	logger := p.logger.With("cycle_id", res.CycleID, "trigger", trigger, "run_time", res.RunTime.String())

	ctx, span := p.tracer.Start(ctx, "update_cycle", trace.WithAttributes(
		attribute.String("cycle.id", res.CycleID),
		attribute.String("cycle.trigger", string(trigger)),
		attribute.String("cycle.run_time", res.RunTime.String()),
	))
	defer span.End()

	logger.Info("update cycle started", "branches", len(p.opts.Selection.Branches()))

	rel, fetched, err := p.run(ctx, &res)
	if cleanErr := p.cleanScratch(); cleanErr != nil {
		logger.Warn("scratch cleanup incomplete", "error", cleanErr)
	}
	res.Duration = p.clock.Since(started)
	res.Err = err

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("update cycle failed", "error", err, "duration", res.Duration)
	} else {
		p.metrics.LastSuccess.Set(float64(p.clock.Now().Unix()))
		p.metrics.TilesWritten.Add(float64(res.Tiles))
		logger.Info("update cycle finished",
			"release_id", res.ReleaseID,
			"files", res.TotalFiles,
			"tiles", res.Tiles,
			"duration", res.Duration,
		)
	}
	p.metrics.FilesDownloaded.Add(float64(len(fetched)))
	for _, f := range fetched {
		p.metrics.BytesDownloaded.Add(float64(f.Size))
	}
	p.metrics.CycleDuration.Observe(res.Duration.Seconds())
	p.metrics.CyclesTotal.WithLabelValues(string(trigger), outcome(err)).Inc()

	// Publication is final; side effects must not be lost to a caller hanging up.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err == nil {
		p.notify(sideCtx, logger, rel)
	}
	p.record(sideCtx, logger, res)

	return res
}

// Wait blocks until no cycle is running or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		p.mu.Lock()
		p.mu.Unlock() //nolint:staticcheck // only waiting for the holder to finish
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context, res *domain.CycleResult) (domain.Release, []domain.FetchedFile, error) {
	if err := os.MkdirAll(p.opts.ScratchDir, 0o755); err != nil {
		return domain.Release{}, nil, fmt.Errorf("create scratch dir: %w", err)
	}

	sources := p.sources(res.RunTime)
	fetched, err := stage(ctx, p, "fetch", func(ctx context.Context) ([]domain.FetchedFile, error) {
		return p.fetchAll(ctx, sources)
	})
	if err != nil {
		return domain.Release{}, fetched, err
	}
	res.TotalFiles = len(fetched)

	inputs, err := stage(ctx, p, "convert", func(ctx context.Context) ([]domain.IntermediateFile, error) {
		return p.convertAll(ctx, fetched)
	})
	if err != nil {
		return domain.Release{}, fetched, err
	}

	releaseID := fmt.Sprintf("%s%s-%s", res.RunTime.Date(), res.RunTime.Cycle(), res.CycleID[:8])
	m, err := stage(ctx, p, "build", func(ctx context.Context) (domain.Manifest, error) {
		return p.stages.Builder.Build(ctx, domain.BuildRequest{
			ReleaseID: releaseID,
			CycleID:   res.CycleID,
			RunTime:   res.RunTime,
			Selection: p.opts.Selection,
			Inputs:    inputs,
		})
	})
	if err != nil {
		return domain.Release{}, fetched, err
	}

	rel, err := stage(ctx, p, "publish", func(ctx context.Context) (domain.Release, error) {
		return p.stages.Publisher.Publish(ctx, releaseID)
	})
	if err != nil {
		return domain.Release{}, fetched, err
	}
	res.ReleaseID = rel.ID
	res.Tiles = m.TileCount
	return rel, fetched, nil
}

// stage times fn and wraps it in a child span.
func stage[T any](ctx context.Context, p *Pipeline, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()

	start := p.clock.Now()
	out, err := fn(ctx)
	p.metrics.StageDuration.WithLabelValues(name).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// cleanScratch empties the scratch directory. Scratch never outlives a cycle.
func (p *Pipeline) cleanScratch() error {
	entries, err := os.ReadDir(p.opts.ScratchDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.opts.ScratchDir, e.Name())); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, rel domain.Release) {
	if p.stages.Notifier == nil {
		return
	}
	if err := p.stages.Notifier.NotifyRelease(ctx, rel); err != nil {
		p.metrics.ReleaseNotifications.WithLabelValues("error").Inc()
		logger.Warn("release notification failed", "release_id", rel.ID, "error", err)
		return
	}
	p.metrics.ReleaseNotifications.WithLabelValues("success").Inc()
}

func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, res domain.CycleResult) {
	if p.stages.History == nil {
		return
	}
	if err := p.stages.History.RecordCycle(ctx, res.Record()); err != nil {
		logger.Warn("cycle history write failed", "error", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return domain.OutcomeFailed
	}
	return domain.OutcomeSuccess
}
