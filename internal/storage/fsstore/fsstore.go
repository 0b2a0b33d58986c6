// Package fsstore serves the asset catalog from a local directory and writes
// rendered outputs to another. Every top-level directory under the asset
// root is a pack; any file under the root can be addressed as a loose asset
// by its slash-separated relative path.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

type Store struct {
	assets  string
	outputs string
}

func New(assetsDir, outputsDir string) (*Store, error) {
	if strings.TrimSpace(assetsDir) == "" {
		return nil, errors.New("assets directory is required")
	}
	info, err := os.Stat(assetsDir)
	if err != nil {
		return nil, fmt.Errorf("assets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("assets directory %s is not a directory", assetsDir)
	}
	return &Store{assets: assetsDir, outputs: outputsDir}, nil
}

func (s *Store) PackExists(ctx context.Context, packID string) (bool, error) {
	dir, err := s.packDir(packID)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// ListAssets walks the pack directory and returns regular file paths
// relative to it, sorted lexically.
func (s *Store) ListAssets(ctx context.Context, packID string) ([]string, error) {
	dir, err := s.packDir(packID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list pack %s: %w", packID, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) Fetch(ctx context.Context, loc domain.Locator) ([]byte, error) {
	p, err := s.assetPath(loc)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Describe reports the file's own name; a local tree has no upload metadata.
func (s *Store) Describe(ctx context.Context, loc domain.Locator) (domain.AssetInfo, error) {
	p, err := s.assetPath(loc)
	if err != nil {
		return domain.AssetInfo{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return domain.AssetInfo{}, err
	}
	return domain.AssetInfo{Locator: loc, FileName: info.Name(), Size: info.Size()}, nil
}

// PutOutput writes <outputs>/<run_id>/<name>.
func (s *Store) PutOutput(ctx context.Context, runID, name, contentType string, data []byte) error {
	if s.outputs == "" {
		return errors.New("outputs directory is not configured")
	}
	if !filepath.IsLocal(runID) || !filepath.IsLocal(name) || strings.ContainsAny(runID+name, `/\`) {
		return fmt.Errorf("invalid output %q/%q", runID, name)
	}
	dir := filepath.Join(s.outputs, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func (s *Store) packDir(packID string) (string, error) {
	if packID == "" || !filepath.IsLocal(packID) || strings.ContainsAny(packID, `/\`) {
		return "", fmt.Errorf("invalid pack id %q", packID)
	}
	return filepath.Join(s.assets, packID), nil
}

func (s *Store) assetPath(loc domain.Locator) (string, error) {
	rel := path.Clean(strings.TrimPrefix(loc.Path, "/"))
	if loc.Pack != "" {
		rel = loc.Pack + "/" + rel
	}
	native := filepath.FromSlash(rel)
	if !filepath.IsLocal(native) {
		return "", fmt.Errorf("invalid asset path %q", loc)
	}
	return filepath.Join(s.assets, native), nil
}
