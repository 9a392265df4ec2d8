package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wind-tile-service/internal/adapter/grib2json"
	"github.com/couchcryptid/wind-tile-service/internal/adapter/nomads"
	"github.com/couchcryptid/wind-tile-service/internal/adapter/tilestore"
	"github.com/couchcryptid/wind-tile-service/internal/domain"
	"github.com/couchcryptid/wind-tile-service/internal/observability"
	"github.com/couchcryptid/wind-tile-service/internal/pipeline"
)

// upstream serves fake GRIB bodies and answers request n with failStatus(n)
// when that is non-zero.
func upstream(t *testing.T, failStatus func(n int) int) *httptest.Server {
	t.Helper()
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(count.Add(1))
		if status := failStatus(n); status != 0 {
			http.Error(w, "upstream unavailable", status)
			return
		}
		_, _ = w.Write([]byte("GRIB2 test payload"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// converterScript stands in for grib2json by copying a fixed wind document
// to the --output path.
func converterScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converter requires a POSIX shell")
	}
	dir := t.TempDir()

	header := func(param int) map[string]any {
		return map[string]any{
			"parameterCategory": 2, "parameterNumber": param,
			"nx": 4, "ny": 3, "lo1": 0.0, "la1": 90.0, "lo2": 270.0, "la2": -90.0,
			"dx": 90.0, "dy": 90.0,
		}
	}
	u := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	v := []float64{-1, -2, -3, -4, -5, -6, -7, -8, -9, -10, -11, -12}
	doc, err := json.Marshal([]map[string]any{
		{"header": header(2), "data": u},
		{"header": header(3), "data": v},
	})
	require.NoError(t, err)
	fixture := filepath.Join(dir, "wind.json")
	require.NoError(t, os.WriteFile(fixture, doc, 0o644))

	script := fmt.Sprintf(`#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
cp %q "$out"
`, fixture)
	bin := filepath.Join(dir, "grib2json")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin
}

type system struct {
	pipeline *pipeline.Pipeline
	layout   tilestore.Layout
	scratch  string
}

// newSystem wires the real adapters: 2 levels x 2 forecasts, zooms 0 and 1.
func newSystem(t *testing.T, upstreamURL string) system {
	t.Helper()
	logger := discardLogger()
	clock := clockwork.NewFakeClockAt(testNow)
	layout := tilestore.Layout{Root: filepath.Join(t.TempDir(), "data")}
	scratch := filepath.Join(t.TempDir(), "scratch")

	p := pipeline.New(pipeline.Options{
		Selection:        testSelection(t),
		Schedule:         domain.DefaultCatalog().Publication,
		Locator:          domain.Locator{BaseURL: upstreamURL, Resolution: "1p00"},
		ScratchDir:       scratch,
		FetchConcurrency: 1,
		ConvertWorkers:   2,
	}, pipeline.Stages{
		Fetcher:   nomads.NewClient(5*time.Second, 10, time.Minute, logger),
		Converter: grib2json.NewConverter(converterScript(t), 10*time.Second, logger),
		Builder:   tilestore.NewBuilder(layout, 1, 16, 2, clock, logger),
		Publisher: tilestore.NewPublisher(layout, clock, logger),
	}, clock, logger, observability.NewMetricsForTesting())
	return system{pipeline: p, layout: layout, scratch: scratch}
}

func TestEndToEnd_PublishesEveryBranch(t *testing.T) {
	srv := upstream(t, func(int) int { return 0 })
	sys := newSystem(t, srv.URL)

	res := sys.pipeline.RunCycle(context.Background(), domain.TriggerManual)
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.TotalFiles)

	zoomDirs, err := filepath.Glob(filepath.Join(sys.layout.Current(), "tiles", "*", "*", "*"))
	require.NoError(t, err)
	assert.Len(t, zoomDirs, 2*2*2)
	for _, dir := range zoomDirs {
		tiles, err := filepath.Glob(filepath.Join(dir, "*", "*.json"))
		require.NoError(t, err)
		assert.NotEmpty(t, tiles, dir)
	}

	m, err := tilestore.ReadManifest(sys.layout.Current())
	require.NoError(t, err)
	assert.Equal(t, res.ReleaseID, m.ReleaseID)
	assert.Equal(t, 4*(1+4), m.TileCount)
	assert.False(t, m.PublishedAt.IsZero())

	_, err = tilestore.Verify(sys.layout.Current(), true)
	require.NoError(t, err)
	assertScratchEmpty(t, sys.scratch)
}

func TestEndToEnd_UpstreamErrorLeavesNothingBehind(t *testing.T) {
	srv := upstream(t, func(n int) int {
		if n == 2 {
			return http.StatusInternalServerError
		}
		return 0
	})
	sys := newSystem(t, srv.URL)

	res := sys.pipeline.RunCycle(context.Background(), domain.TriggerManual)

	assert.False(t, res.Success())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "500")
	assert.ErrorIs(t, res.Err, domain.ErrTransport)
	assertScratchEmpty(t, sys.scratch)

	_, err := os.Lstat(sys.layout.Current())
	assert.True(t, errors.Is(err, fs.ErrNotExist), "nothing may be published")
}

func TestEndToEnd_FailedCycleKeepsPreviousRelease(t *testing.T) {
	// Requests 1-4 belong to the first cycle; the second cycle's second
	// request fails.
	srv := upstream(t, func(n int) int {
		if n == 6 {
			return http.StatusInternalServerError
		}
		return 0
	})
	sys := newSystem(t, srv.URL)

	first := sys.pipeline.RunCycle(context.Background(), domain.TriggerManual)
	require.NoError(t, first.Err)
	target, err := os.Readlink(sys.layout.Current())
	require.NoError(t, err)
	key := domain.TileKey{Level: "500mb", Forecast: "f006", Zoom: 1, X: 1, Y: 0}
	before, err := os.ReadFile(tilestore.TilePath(sys.layout.Current(), key))
	require.NoError(t, err)

	second := sys.pipeline.RunCycle(context.Background(), domain.TriggerManual)
	require.Error(t, second.Err)
	assert.Contains(t, second.Err.Error(), "500")

	after, err := os.Readlink(sys.layout.Current())
	require.NoError(t, err)
	assert.Equal(t, target, after)
	got, err := os.ReadFile(tilestore.TilePath(sys.layout.Current(), key))
	require.NoError(t, err)
	assert.Equal(t, before, got)
	assertScratchEmpty(t, sys.scratch)
}
