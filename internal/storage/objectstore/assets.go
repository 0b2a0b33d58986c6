package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

const (
	packPrefix  = "packs/"
	loosePrefix = "loose/"

	// MetadataFileName carries the original upload name of an asset.
	MetadataFileName = "file_name"
	MetadataPackID   = "pack_id"
)

// ErrInvalidKey reports a locator, run id or output name that cannot be
// mapped to an object key.
var ErrInvalidKey = errors.New("invalid object key")

// AssetStore lays the asset catalog and rendered outputs out over two
// buckets:
//
//	<assets>/packs/<pack>/<path>   pack member
//	<assets>/loose/<path>          asset addressed without a pack
//	<outputs>/<run_id>/<name>      rendered instance
type AssetStore struct {
	store         Store
	assetsBucket  string
	outputsBucket string
	maxAssetBytes int64
}

type AssetStoreConfig struct {
	AssetsBucket  string
	OutputsBucket string
	// MaxAssetBytes bounds a single Fetch; zero means no limit.
	MaxAssetBytes int64
}

func NewAssetStore(store Store, cfg AssetStoreConfig) (*AssetStore, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(cfg.AssetsBucket) == "" || strings.TrimSpace(cfg.OutputsBucket) == "" {
		return nil, errors.New("assets and outputs buckets are required")
	}
	return &AssetStore{
		store:         store,
		assetsBucket:  cfg.AssetsBucket,
		outputsBucket: cfg.OutputsBucket,
		maxAssetBytes: cfg.MaxAssetBytes,
	}, nil
}

// AssetKey is the object key of loc in the assets bucket.
func AssetKey(loc domain.Locator) (string, error) {
	p, err := cleanPath(loc.Path)
	if err != nil {
		return "", err
	}
	if loc.Pack == "" {
		return loosePrefix + p, nil
	}
	if strings.Contains(loc.Pack, "/") {
		return "", fmt.Errorf("%w: pack id %q", ErrInvalidKey, loc.Pack)
	}
	return packPrefix + loc.Pack + "/" + p, nil
}

// OutputKey is the object key of a rendered instance in the outputs bucket.
func OutputKey(runID, name string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.Contains(runID, "/") {
		return "", fmt.Errorf("%w: run id %q", ErrInvalidKey, runID)
	}
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", fmt.Errorf("%w: output name %q", ErrInvalidKey, name)
	}
	return runID + "/" + name, nil
}

func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return "", fmt.Errorf("%w: asset path is required", ErrInvalidKey)
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", fmt.Errorf("%w: asset path %q", ErrInvalidKey, p)
	}
	return cleaned, nil
}

// ListAssets returns the paths of every asset in the pack, relative to the
// pack, in lexical key order.
func (s *AssetStore) ListAssets(ctx context.Context, packID string) ([]string, error) {
	prefix := packPrefix + packID + "/"
	objects, err := s.store.List(ctx, s.assetsBucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list pack %s: %w", packID, err)
	}
	paths := make([]string, 0, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		paths = append(paths, rel)
	}
	return paths, nil
}

func (s *AssetStore) Fetch(ctx context.Context, loc domain.Locator) ([]byte, error) {
	key, err := AssetKey(loc)
	if err != nil {
		return nil, err
	}
	body, _, err := s.store.Get(ctx, s.assetsBucket, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer body.Close()
	reader := io.Reader(body)
	if s.maxAssetBytes > 0 {
		reader = io.LimitReader(body, s.maxAssetBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if s.maxAssetBytes > 0 && int64(len(data)) > s.maxAssetBytes {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", key, s.maxAssetBytes)
	}
	return data, nil
}

func (s *AssetStore) Describe(ctx context.Context, loc domain.Locator) (domain.AssetInfo, error) {
	key, err := AssetKey(loc)
	if err != nil {
		return domain.AssetInfo{}, err
	}
	info, err := s.store.Stat(ctx, s.assetsBucket, key)
	if err != nil {
		return domain.AssetInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	fileName := info.MetadataValue(MetadataFileName)
	if fileName == "" {
		fileName = loc.BaseName()
	}
	return domain.AssetInfo{
		Locator:     loc,
		FileName:    fileName,
		ContentType: info.ContentType,
		Size:        info.Size,
	}, nil
}

// PutAsset uploads an asset, remembering fileName for output naming.
func (s *AssetStore) PutAsset(ctx context.Context, loc domain.Locator, fileName, contentType string, data []byte) (domain.AssetInfo, error) {
	key, err := AssetKey(loc)
	if err != nil {
		return domain.AssetInfo{}, err
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		fileName = loc.BaseName()
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := map[string]string{MetadataFileName: fileName}
	if loc.Pack != "" {
		meta[MetadataPackID] = loc.Pack
	}
	err = s.store.Put(ctx, s.assetsBucket, key, bytes.NewReader(data), int64(len(data)), PutOptions{
		ContentType: contentType,
		Metadata:    meta,
	})
	if err != nil {
		return domain.AssetInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	return domain.AssetInfo{Locator: loc, FileName: fileName, ContentType: contentType, Size: int64(len(data))}, nil
}

// DeleteAsset removes an asset. A missing asset is ErrObjectNotFound.
func (s *AssetStore) DeleteAsset(ctx context.Context, loc domain.Locator) error {
	key, err := AssetKey(loc)
	if err != nil {
		return err
	}
	if _, err := s.store.Stat(ctx, s.assetsBucket, key); err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	if err := s.store.Delete(ctx, s.assetsBucket, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *AssetStore) PutOutput(ctx context.Context, runID, name, contentType string, data []byte) error {
	key, err := OutputKey(runID, name)
	if err != nil {
		return err
	}
	err = s.store.Put(ctx, s.outputsBucket, key, bytes.NewReader(data), int64(len(data)), PutOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Output is a rendered instance as listed back from the outputs bucket.
type Output struct {
	Name string
	Size int64
	URL  string
}

// ListOutputs lists a run's outputs with presigned download links valid for ttl.
func (s *AssetStore) ListOutputs(ctx context.Context, runID string, ttl time.Duration) ([]Output, error) {
	if _, err := OutputKey(runID, "x"); err != nil {
		return nil, err
	}
	prefix := runID + "/"
	objects, err := s.store.List(ctx, s.outputsBucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list outputs %s: %w", runID, err)
	}
	out := make([]Output, 0, len(objects))
	for _, obj := range objects {
		url, err := s.store.PresignGet(ctx, s.outputsBucket, obj.Key, ttl)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", obj.Key, err)
		}
		out = append(out, Output{Name: strings.TrimPrefix(obj.Key, prefix), Size: obj.Size, URL: url})
	}
	return out, nil
}
