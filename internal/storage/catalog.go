// Package storage joins a pack registry with an asset lister into the
// catalog the reference resolver reads.
package storage

import (
	"context"
	"errors"
)

type Registry interface {
	PackExists(ctx context.Context, packID string) (bool, error)
}

type Lister interface {
	ListAssets(ctx context.Context, packID string) ([]string, error)
}

// Catalog answers pack existence from the registry and listings from the
// asset store. A registered pack with no stored assets lists as empty.
type Catalog struct {
	registry Registry
	lister   Lister
}

func NewCatalog(registry Registry, lister Lister) (*Catalog, error) {
	if registry == nil || lister == nil {
		return nil, errors.New("registry and lister are required")
	}
	return &Catalog{registry: registry, lister: lister}, nil
}

func (c *Catalog) PackExists(ctx context.Context, packID string) (bool, error) {
	return c.registry.PackExists(ctx, packID)
}

func (c *Catalog) ListAssets(ctx context.Context, packID string) ([]string, error) {
	return c.lister.ListAssets(ctx, packID)
}
