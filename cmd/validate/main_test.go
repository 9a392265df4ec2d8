package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wind-tile-service/internal/adapter/tilestore"
	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// publishTree builds and publishes a small release under a fresh data root.
func publishTree(t *testing.T) (tilestore.Layout, domain.Release) {
	t.Helper()
	sel, err := domain.DefaultCatalog().Select([]string{"surface", "500mb"}, []string{"f000"})
	require.NoError(t, err)

	header := func(param int) domain.GridHeader {
		return domain.GridHeader{
			ParameterCategory: 2, ParameterNumber: param,
			Nx: 4, Ny: 3, Lo1: 0, La1: 90, Lo2: 270, La2: -90, Dx: 90, Dy: 90,
		}
	}
	data, err := json.Marshal([]domain.GridRecord{
		{Header: header(2), Data: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		{Header: header(3), Data: []float64{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2}},
	})
	require.NoError(t, err)

	scratch := t.TempDir()
	var inputs []domain.IntermediateFile
	for _, br := range sel.Branches() {
		path := filepath.Join(scratch, br.FileStem()+".json")
		require.NoError(t, os.WriteFile(path, data, 0o644))
		inputs = append(inputs, domain.IntermediateFile{Branch: br, Path: path})
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2024, 10, 15, 9, 30, 0, 0, time.UTC))
	layout := tilestore.Layout{Root: t.TempDir()}
	_, err = tilestore.NewBuilder(layout, 1, 8, 1, clock, logger).Build(t.Context(), domain.BuildRequest{
		ReleaseID: "r1",
		CycleID:   "c1",
		RunTime:   domain.RunTime{Time: time.Date(2024, 10, 15, 6, 0, 0, 0, time.UTC)},
		Selection: sel,
		Inputs:    inputs,
	})
	require.NoError(t, err)
	rel, err := tilestore.NewPublisher(layout, clock, logger).Publish(t.Context(), "r1")
	require.NoError(t, err)
	return layout, rel
}

func TestRun_ValidTree(t *testing.T) {
	layout, _ := publishTree(t)

	assert.Equal(t, 0, run(layout.Root, nil, nil, true))
	assert.Equal(t, 0, run(layout.Root, []string{"surface"}, []string{"f000"}, false))
}

func TestRun_MissingExpectedBranch(t *testing.T) {
	layout, _ := publishTree(t)

	assert.Equal(t, 1, run(layout.Root, []string{"surface", "850mb"}, []string{"f000"}, true))
}

func TestRun_MissingTile(t *testing.T) {
	layout, rel := publishTree(t)
	key := domain.TileKey{Level: "500mb", Forecast: "f000", Zoom: 1, X: 1, Y: 1}
	require.NoError(t, os.Remove(tilestore.TilePath(rel.Dir, key)))

	assert.Equal(t, 1, run(layout.Root, nil, nil, false))
}

func TestRun_CorruptPayload(t *testing.T) {
	layout, rel := publishTree(t)
	key := domain.TileKey{Level: "surface", Forecast: "f000"}
	require.NoError(t, os.WriteFile(tilestore.TilePath(rel.Dir, key), []byte(`{"not":"records"}`), 0o644))

	assert.Equal(t, 1, run(layout.Root, nil, nil, true))
}

func TestRun_NoData(t *testing.T) {
	assert.Equal(t, 1, run(t.TempDir(), nil, nil, true))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
