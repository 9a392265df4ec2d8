package tilestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

// ReadManifest loads the manifest of tree.
func ReadManifest(tree string) (domain.Manifest, error) {
	data, err := os.ReadFile(ManifestPath(tree))
	if err != nil {
		return domain.Manifest{}, err
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Manifest{}, fmt.Errorf("decode %s: %w", ManifestPath(tree), err)
	}
	return m, nil
}

// writeManifest replaces the manifest of tree via a temporary file so a
// reader never sees it half written.
func writeManifest(tree string, m domain.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp, err := os.CreateTemp(tree, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	err = tmp.Chmod(0o644)
	if err == nil {
		_, err = tmp.Write(data)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(tree, ManifestName))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
