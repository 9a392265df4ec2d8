package tilestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// Verify checks that tree holds a manifest and every tile it promises. With
// deep set each tile is also decoded and must carry a U and a V record with
// values. Failures wrap domain.ErrIncomplete.
func Verify(tree string, deep bool) (domain.Manifest, error) {
	m, err := ReadManifest(tree)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: manifest: %w", domain.ErrIncomplete, err)
	}

	count := 0
	for _, level := range m.Levels {
		for _, forecast := range m.Forecasts {
			br := domain.Branch{Level: domain.LevelSpec{ID: level}, Forecast: domain.ForecastOffset{ID: forecast}}
			for _, key := range domain.BranchKeys(br, m.MaxZoom) {
				if err := verifyTile(TilePath(tree, key), deep); err != nil {
					return m, fmt.Errorf("%w: tile %s: %w", domain.ErrIncomplete, key, err)
				}
				count++
			}
		}
	}
	if count != m.TileCount {
		return m, fmt.Errorf("%w: manifest lists %d tiles, tree has %d", domain.ErrIncomplete, m.TileCount, count)
	}
	return m, nil
}

func verifyTile(path string, deep bool) error {
	if !deep {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return errors.New("empty file")
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var records []domain.GridRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if len(records) != 2 {
		return fmt.Errorf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if len(rec.Data) == 0 || len(rec.Data) != rec.Header.Nx*rec.Header.Ny {
			return fmt.Errorf("record %d has %d values for a %dx%d grid", rec.Header.ParameterNumber, len(rec.Data), rec.Header.Nx, rec.Header.Ny)
		}
	}
	return nil
}
