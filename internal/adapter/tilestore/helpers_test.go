package tilestore

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

var testNow = time.Date(2024, 10, 15, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSelection(t *testing.T, levels, forecasts []string) domain.Selection {
	t.Helper()
	sel, err := domain.DefaultCatalog().Select(levels, forecasts)
	require.NoError(t, err)
	return sel
}

// writeIntermediate writes a 4x3 global grib2json document (90 degree
// spacing) whose U values encode base+row*10+col.
func writeIntermediate(t *testing.T, dir string, br domain.Branch, base float64) domain.IntermediateFile {
	t.Helper()
	header := func(param int) map[string]any {
		return map[string]any{
			"parameterCategory": 2, "parameterNumber": param,
			"nx": 4, "ny": 3, "lo1": 0.0, "la1": 90.0, "lo2": 270.0, "la2": -90.0,
			"dx": 90.0, "dy": 90.0,
		}
	}
	var u, v []float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			u = append(u, base+float64(r*10+c))
			v = append(v, -(base + float64(r*10+c)))
		}
	}
	doc := []map[string]any{
		{"header": header(2), "data": u},
		{"header": header(3), "data": v},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(dir, br.FileStem()+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return domain.IntermediateFile{Branch: br, Path: path}
}

func intermediates(t *testing.T, sel domain.Selection, base float64) []domain.IntermediateFile {
	t.Helper()
	dir := t.TempDir()
	var out []domain.IntermediateFile
	for _, br := range sel.Branches() {
		out = append(out, writeIntermediate(t, dir, br, base))
	}
	return out
}

// buildAndPublish builds release id from sel and publishes it.
func buildAndPublish(t *testing.T, layout Layout, sel domain.Selection, id string, base float64) domain.Release {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	b := NewBuilder(layout, 1, 16, 2, clock, discardLogger())
	_, err := b.Build(t.Context(), domain.BuildRequest{
		ReleaseID: id,
		CycleID:   "cycle-" + id,
		RunTime:   domain.RunTime{Time: time.Date(2024, 10, 15, 6, 0, 0, 0, time.UTC)},
		Selection: sel,
		Inputs:    intermediates(t, sel, base),
	})
	require.NoError(t, err)

	rel, err := NewPublisher(layout, clock, discardLogger()).Publish(t.Context(), id)
	require.NoError(t, err)
	return rel
}
