package tilestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Sweep removes what an interrupted process can leave behind: staging
// trees, a dangling temporary link, releases current no longer points at, and
// everything under scratchDir. The current release is never touched.
func Sweep(layout Layout, scratchDir string) (removed []string, err error) {
	var result *multierror.Error
	rm := func(path string) {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			result = multierror.Append(result, rmErr)
			return
		}
		removed = append(removed, path)
	}

	if _, statErr := os.Lstat(layout.tmpLink()); statErr == nil {
		rm(layout.tmpLink())
	}

	entries, readErr := os.ReadDir(layout.stagingRoot())
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		result = multierror.Append(result, readErr)
	}
	for _, e := range entries {
		rm(filepath.Join(layout.stagingRoot(), e.Name()))
	}

	keep := ""
	if target, linkErr := os.Readlink(layout.Current()); linkErr == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(layout.Root, target)
		}
		keep = filepath.Clean(target)
	}
	entries, readErr = os.ReadDir(layout.releasesRoot())
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		result = multierror.Append(result, readErr)
	}
	for _, e := range entries {
		path := filepath.Join(layout.releasesRoot(), e.Name())
		if path != keep {
			rm(path)
		}
	}

	if scratchDir != "" && overlaps(layout.Root, scratchDir) {
		result = multierror.Append(result, fmt.Errorf("scratch dir %s overlaps data root %s, left untouched", scratchDir, layout.Root))
	} else if scratchDir != "" {
		entries, readErr = os.ReadDir(scratchDir)
		if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
			result = multierror.Append(result, readErr)
		}
		for _, e := range entries {
			rm(filepath.Join(scratchDir, e.Name()))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return removed, fmt.Errorf("sweep: %w", err)
	}
	return removed, nil
}

// overlaps reports whether a and b are the same directory or one contains the
// other.
func overlaps(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return true
	}
	return under(absA, absB) || under(absB, absA)
}

func under(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
