// Command validate checks a published wind tile tree offline: the current
// pointer resolves, the manifest matches the tiles on disk, every expected
// level and forecast is present, and tile payloads decode as wind fields.
//
// Usage:
//
//	go run ./cmd/validate -data-dir ./data -levels surface,500mb -forecasts f000,f006
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/wind-tile-service/internal/adapter/tilestore"
	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", sharedcfg.EnvOrDefault("DATA_DIR", "./data"), "data root holding current/")
	levels := flag.String("levels", sharedcfg.EnvOrDefault("LEVELS", ""), "comma-separated levels expected in the release (default: manifest's own)")
	forecasts := flag.String("forecasts", sharedcfg.EnvOrDefault("FORECASTS", ""), "comma-separated forecasts expected in the release (default: manifest's own)")
	quick := flag.Bool("quick", false, "only check tile files exist and are non-empty")
	flag.Parse()

	os.Exit(run(*dataDir, splitList(*levels), splitList(*forecasts), !*quick))
}

func run(dataDir string, levels, forecasts []string, deep bool) int {
	fmt.Println("=== Wind Tile Integrity Validation ===")
	fmt.Println()

	rel, err := tilestore.NewReader(tilestore.Layout{Root: dataDir}).Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: resolve current release in %s: %v\n", dataDir, err)
		return 1
	}
	m := rel.Manifest

	phases := []*phase{
		validateManifest(rel),
		validateTree(rel, deep),
		validateCoverage(m, levels, forecasts),
		validatePayloads(rel),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Release %s: run %s, %d levels x %d forecasts, zoom 0-%d, %d tiles\n",
		rel.ID, m.RunTime.UTC().Format("2006-01-02 15z"), len(m.Levels), len(m.Forecasts), m.MaxZoom, m.TileCount)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateManifest(rel domain.Release) *phase {
	p := &phase{name: "Manifest"}
	m := rel.Manifest
	if m.ReleaseID == "" {
		p.errorf("manifest has no release id")
	} else if m.ReleaseID != rel.ID {
		p.errorf("manifest release id %q does not match directory %q", m.ReleaseID, rel.ID)
	}
	if m.RunTime.IsZero() {
		p.errorf("manifest has no run time")
	}
	if m.PublishedAt.IsZero() {
		p.errorf("manifest was never stamped as published")
	}
	if len(m.Levels) == 0 || len(m.Forecasts) == 0 {
		p.errorf("manifest lists %d levels and %d forecasts", len(m.Levels), len(m.Forecasts))
	}
	return p
}

func validateTree(rel domain.Release, deep bool) *phase {
	p := &phase{name: "Tile tree matches manifest"}
	if _, err := tilestore.Verify(rel.Dir, deep); err != nil {
		p.errorf("%v", err)
	}
	return p
}

func validateCoverage(m domain.Manifest, levels, forecasts []string) *phase {
	p := &phase{name: "Expected levels and forecasts"}
	if len(levels) == 0 {
		levels = m.Levels
	}
	if len(forecasts) == 0 {
		forecasts = m.Forecasts
	}
	for _, l := range levels {
		for _, f := range forecasts {
			if !m.HasBranch(l, f) {
				p.errorf("missing branch %s/%s", l, f)
			}
		}
	}
	return p
}

// validatePayloads decodes the zoom 0 tile of every branch as a full wind
// field, which also checks that U and V share one grid.
func validatePayloads(rel domain.Release) *phase {
	p := &phase{name: "Tile payloads decode"}
	for _, l := range rel.Manifest.Levels {
		for _, f := range rel.Manifest.Forecasts {
			key := domain.TileKey{Level: l, Forecast: f}
			file, err := os.Open(tilestore.TilePath(rel.Dir, key))
			if err != nil {
				p.errorf("%s: %v", key, err)
				continue
			}
			field, err := domain.DecodeWindField(file)
			file.Close()
			if err != nil {
				p.errorf("%s: %v", key, err)
				continue
			}
			if field.Points() == 0 {
				p.errorf("%s: no grid points", key)
			}
		}
	}
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
