package tilestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

func TestPublisher_FirstPublish(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	sel := testSelection(t, []string{"surface"}, []string{"f000"})

	rel := buildAndPublish(t, layout, sel, "r1", 0)

	assert.Equal(t, "r1", rel.ID)
	assert.Equal(t, testNow, rel.Manifest.PublishedAt)
	assert.NoDirExists(t, layout.Staging("r1"))

	target, err := os.Readlink(layout.Current())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("releases", "r1"), target)
	assert.FileExists(t, filepath.Join(layout.Current(), "tiles", "surface", "f000", "0", "0", "0.json"))
	assert.NoFileExists(t, layout.tmpLink())
}

func TestPublisher_ReplacesAndRemovesPrevious(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	sel := testSelection(t, []string{"surface"}, []string{"f000"})

	buildAndPublish(t, layout, sel, "r1", 0)
	buildAndPublish(t, layout, sel, "r2", 100)

	target, err := os.Readlink(layout.Current())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("releases", "r2"), target)
	assert.NoDirExists(t, layout.Release("r1"))

	m, err := ReadManifest(layout.Current())
	require.NoError(t, err)
	assert.Equal(t, "r2", m.ReleaseID)
}

func TestPublisher_MigratesLegacyDirectory(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	legacyTile := filepath.Join(layout.Current(), "tiles", "surface", "f000", "0", "0", "0.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(legacyTile), 0o755))
	require.NoError(t, os.WriteFile(legacyTile, []byte("[]"), 0o644))

	sel := testSelection(t, []string{"surface"}, []string{"f000"})
	buildAndPublish(t, layout, sel, "r1", 0)

	info, err := os.Lstat(layout.Current())
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	entries, err := os.ReadDir(layout.releasesRoot())
	require.NoError(t, err)
	require.Len(t, entries, 1, "legacy tree is removed after the swap")
	assert.Equal(t, "r1", entries[0].Name())
}

func TestPublisher_SwapFailureKeepsCurrent(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	sel := testSelection(t, []string{"surface"}, []string{"f000"})
	buildAndPublish(t, layout, sel, "r1", 0)

	clock := clockwork.NewFakeClockAt(testNow)
	_, err := NewBuilder(layout, 1, 16, 1, clock, discardLogger()).Build(context.Background(), domain.BuildRequest{
		ReleaseID: "r2",
		Selection: sel,
		Inputs:    intermediates(t, sel, 100),
	})
	require.NoError(t, err)

	// A non-empty directory where the release must go makes the move fail.
	require.NoError(t, os.MkdirAll(filepath.Join(layout.Release("r2"), "occupied"), 0o755))

	_, err = NewPublisher(layout, clock, discardLogger()).Publish(context.Background(), "r2")
	require.ErrorIs(t, err, domain.ErrSwapFailed)

	target, linkErr := os.Readlink(layout.Current())
	require.NoError(t, linkErr)
	assert.Equal(t, filepath.Join("releases", "r1"), target)
	assert.NoDirExists(t, layout.Staging("r2"))

	m, readErr := ReadManifest(layout.Current())
	require.NoError(t, readErr)
	assert.Equal(t, "r1", m.ReleaseID)
}

func TestPublisher_MissingStaging(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	_, err := NewPublisher(layout, clockwork.NewFakeClock(), discardLogger()).Publish(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSwapFailed)
	assert.NoFileExists(t, layout.Current())
}

// fromRelease reports whether every value in the tile carries the offset of
// the release it was served from. Release "rN" is built with base N*100.
func fromRelease(tile Tile) bool {
	var n int
	if _, err := fmt.Sscanf(tile.ReleaseID, "r%d", &n); err != nil {
		return false
	}
	field, err := domain.DecodeWindField(bytes.NewReader(tile.Data))
	if err != nil || len(field.U.Data) == 0 {
		return false
	}
	base := float64(n * 100)
	for i, u := range field.U.Data {
		if u < base || u >= base+100 || field.V.Data[i] != -u {
			return false
		}
	}
	return true
}

// Readers resolving current while releases are swapped must always find
// every tile of some complete release.
func TestPublisher_ConcurrentReadersSeeWholeReleases(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	sel := testSelection(t, []string{"surface"}, []string{"f000"})
	buildAndPublish(t, layout, sel, "r0", 0)

	reader := NewReader(layout)
	keys := domain.BranchKeys(sel.Branches()[0], 1)

	var (
		stop     atomic.Bool
		failures atomic.Int32
		reads    atomic.Int32
		wg       sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				for _, key := range keys {
					tile, err := reader.Tile(context.Background(), key)
					if err != nil || !fromRelease(tile) {
						failures.Add(1)
					}
				}
				reads.Add(1)
			}
		}()
	}

	for i := 1; i <= 5; i++ {
		buildAndPublish(t, layout, sel, fmt.Sprintf("r%d", i), float64(i*100))
	}
	time.Sleep(10 * time.Millisecond)
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.NotZero(t, reads.Load())

	rel, err := reader.Current()
	require.NoError(t, err)
	assert.Equal(t, "r5", rel.ID)
}
