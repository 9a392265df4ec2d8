// Package tilestore owns the on-disk tile tree: building staging trees,
// publishing them atomically, and reading tiles from the current release.
//
// Layout below the data root:
//
//	current            -> releases/<id>   (symlink, replaced by rename)
//	releases/<id>/manifest.json
//	releases/<id>/tiles/<level>/<forecast>/<z>/<x>/<y>.json
//	staging/<id>/...   trees being built, never served
//
// Readers resolve current once per request and read from that release only,
// so a concurrent swap is never observed halfway.
package tilestore

import (
	"path/filepath"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

const (
	currentName  = "current"
	tmpLinkName  = ".current.tmp"
	stagingName  = "staging"
	releasesName = "releases"
	tilesName    = "tiles"

	// ManifestName is the manifest file at the root of every tree.
	ManifestName = "manifest.json"
)

// Layout resolves paths below one data root.
type Layout struct {
	Root string
}

// Current is the published pointer.
func (l Layout) Current() string { return filepath.Join(l.Root, currentName) }

func (l Layout) tmpLink() string { return filepath.Join(l.Root, tmpLinkName) }

func (l Layout) stagingRoot() string { return filepath.Join(l.Root, stagingName) }

func (l Layout) releasesRoot() string { return filepath.Join(l.Root, releasesName) }

// Staging is the build directory for release id.
func (l Layout) Staging(id string) string { return filepath.Join(l.stagingRoot(), id) }

// Release is the directory of published release id.
func (l Layout) Release(id string) string { return filepath.Join(l.releasesRoot(), id) }

// TilePath is the file holding key within tree.
func TilePath(tree string, key domain.TileKey) string {
	return filepath.Join(tree, tilesName, filepath.FromSlash(key.Path()))
}

// ManifestPath is the manifest file within tree.
func ManifestPath(tree string) string {
	return filepath.Join(tree, ManifestName)
}
