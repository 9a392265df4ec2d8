package tilestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// legacyReleaseID names a current tree that predates manifests.
const legacyReleaseID = "legacy"

// Tile is one tile read from a specific release.
type Tile struct {
	ReleaseID string
	Data      []byte
}

// Reader serves tiles and release metadata from whatever current points at.
// Releases are immutable, so the manifest of the last resolved release is
// kept in memory.
type Reader struct {
	layout Layout

	mu        sync.Mutex
	cachedDir string
	cached    domain.Manifest
}

// NewReader creates a reader over layout.
func NewReader(layout Layout) *Reader {
	return &Reader{layout: layout}
}

// Current resolves the published release. It returns domain.ErrNoData when
// nothing has been published.
func (r *Reader) Current() (domain.Release, error) {
	rel, err := r.current()
	if errors.Is(err, errSuperseded) {
		// current moved on while the old release was being removed.
		rel, err = r.current()
	}
	if errors.Is(err, errSuperseded) {
		return domain.Release{}, domain.ErrNoData
	}
	return rel, err
}

var errSuperseded = errors.New("release superseded")

func (r *Reader) current() (domain.Release, error) {
	cur := r.layout.Current()
	target, err := os.Readlink(cur)
	if err != nil {
		info, statErr := os.Stat(cur)
		if errors.Is(statErr, fs.ErrNotExist) {
			return domain.Release{}, domain.ErrNoData
		}
		if statErr != nil {
			return domain.Release{}, statErr
		}
		if !info.IsDir() {
			return domain.Release{}, fmt.Errorf("%s is neither a link nor a directory", cur)
		}
		return r.legacy(cur)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(r.layout.Root, target)
	}
	m, err := r.manifest(target)
	if err != nil {
		return domain.Release{}, err
	}
	return domain.Release{ID: filepath.Base(target), Dir: target, Manifest: m}, nil
}

func (r *Reader) manifest(dir string) (domain.Manifest, error) {
	r.mu.Lock()
	m, ok := r.cached, r.cachedDir == dir
	r.mu.Unlock()
	if ok {
		return m, nil
	}

	m, err := ReadManifest(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Manifest{}, errSuperseded
	}
	if err != nil {
		return domain.Manifest{}, err
	}

	r.mu.Lock()
	r.cachedDir, r.cached = dir, m
	r.mu.Unlock()
	return m, nil
}

// legacy describes a plain directory current. Trees written before manifests
// existed are described from their directory structure.
func (r *Reader) legacy(dir string) (domain.Release, error) {
	m, err := ReadManifest(dir)
	if err == nil {
		return domain.Release{ID: m.ReleaseID, Dir: dir, Manifest: m}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return domain.Release{}, err
	}

	tiles := filepath.Join(dir, tilesName)
	info, err := os.Stat(tiles)
	if err != nil {
		return domain.Release{}, domain.ErrNoData
	}
	m = domain.Manifest{ReleaseID: legacyReleaseID, GeneratedAt: info.ModTime().UTC()}
	m.Levels = subdirs(tiles)
	if len(m.Levels) > 0 {
		m.Forecasts = subdirs(filepath.Join(tiles, m.Levels[0]))
	}
	return domain.Release{ID: legacyReleaseID, Dir: dir, Manifest: m}, nil
}

func subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Tile reads key from the current release. A valid key with no file returns
// domain.ErrTileNotFound.
func (r *Reader) Tile(ctx context.Context, key domain.TileKey) (Tile, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Tile{}, err
		}
		rel, err := r.Current()
		if err != nil {
			return Tile{}, err
		}

		data, err := os.ReadFile(TilePath(rel.Dir, key))
		if err == nil {
			return Tile{ReleaseID: rel.ID, Data: data}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return Tile{}, err
		}

		// The release may have been superseded between resolving current
		// and opening the file; retry once against the new release.
		if attempt == 0 {
			if next, nerr := r.Current(); nerr == nil && next.ID != rel.ID {
				continue
			}
		}
		return Tile{}, domain.ErrTileNotFound
	}
}

// CheckReadiness reports whether a release is being served.
func (r *Reader) CheckReadiness(_ context.Context) error {
	_, err := r.Current()
	return err
}
