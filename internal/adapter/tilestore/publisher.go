package tilestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// Publisher promotes complete staging trees to current.
type Publisher struct {
	layout Layout
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPublisher creates a publisher for layout.
func NewPublisher(layout Layout, clock clockwork.Clock, logger *slog.Logger) *Publisher {
	return &Publisher{layout: layout, clock: clock, logger: logger}
}

// Publish makes staging/<id> the current release:
//
//  1. stamp the manifest and move staging/<id> to releases/<id>
//  2. point a fresh temporary symlink at releases/<id>
//  3. rename the symlink over current, a single atomic step
//  4. delete the superseded release
//
// The previous release stays authoritative until step 3 succeeds. Every
// failure before that wraps domain.ErrSwapFailed and removes the new tree.
func (p *Publisher) Publish(ctx context.Context, id string) (rel domain.Release, err error) {
	staging := p.layout.Staging(id)
	release := p.layout.Release(id)
	swapFailed := func(step string, cause error) error {
		return fmt.Errorf("%w: %s: %w", domain.ErrSwapFailed, step, cause)
	}

	if err := ctx.Err(); err != nil {
		_ = os.RemoveAll(staging)
		return domain.Release{}, swapFailed("publish", err)
	}

	m, err := ReadManifest(staging)
	if err != nil {
		_ = os.RemoveAll(staging)
		return domain.Release{}, swapFailed("read staging manifest", err)
	}
	m.PublishedAt = p.clock.Now().UTC()
	if err := writeManifest(staging, m); err != nil {
		_ = os.RemoveAll(staging)
		return domain.Release{}, swapFailed("stamp manifest", err)
	}

	if err := os.MkdirAll(p.layout.releasesRoot(), 0o755); err != nil {
		_ = os.RemoveAll(staging)
		return domain.Release{}, swapFailed("create releases dir", err)
	}
	if err := os.Rename(staging, release); err != nil {
		_ = os.RemoveAll(staging)
		return domain.Release{}, swapFailed("move staging", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(release)
		}
	}()

	previous, legacy, err := p.previous()
	if err != nil {
		return domain.Release{}, swapFailed("inspect current", err)
	}
	if legacy != "" {
		// A plain directory cannot be replaced by rename; move it aside first.
		if err := os.Rename(p.layout.Current(), legacy); err != nil {
			return domain.Release{}, swapFailed("move legacy current", err)
		}
		previous = legacy
	}

	tmp := p.layout.tmpLink()
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.Release{}, swapFailed("clear temporary link", err)
	}
	if err := os.Symlink(filepath.Join(releasesName, id), tmp); err != nil {
		return domain.Release{}, swapFailed("create temporary link", err)
	}
	if err := os.Rename(tmp, p.layout.Current()); err != nil {
		_ = os.Remove(tmp)
		if legacy != "" {
			_ = os.Rename(legacy, p.layout.Current())
		}
		return domain.Release{}, swapFailed("swap current", err)
	}

	if previous != "" && previous != release && filepath.Dir(previous) == p.layout.releasesRoot() {
		if err := os.RemoveAll(previous); err != nil {
			p.logger.Warn("failed to remove superseded release", "path", previous, "error", err)
		}
	}

	p.logger.Info("release published", "release_id", id, "run_time", m.RunTime, "tiles", m.TileCount)
	return domain.Release{ID: id, Dir: release, Manifest: m}, nil
}

// previous returns the release directory current points at, or for a plain
// directory current the path it should be moved aside to.
func (p *Publisher) previous() (release, legacy string, err error) {
	cur := p.layout.Current()
	info, err := os.Lstat(cur)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return "", p.layout.Release("legacy-" + info.ModTime().UTC().Format("20060102T150405")), nil
	}
	target, err := os.Readlink(cur)
	if err != nil {
		return "", "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(p.layout.Root, target)
	}
	return target, "", nil
}
