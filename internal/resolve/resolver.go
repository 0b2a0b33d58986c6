// Package resolve expands template references into concrete asset locators.
//
// Reference forms:
//   - "id" or "asset:id" names a single loose asset.
//   - "pack:pack_id" expands to every asset of a pack.
//   - "pack_id:pattern" expands to the assets of a registered pack whose path
//     matches the glob pattern.
//
// Expansion preserves catalog order. A Resolver reads each pack listing at
// most once, so every alias resolved through it sees the same catalog view.
package resolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"
)

// Catalog is the read side of the asset store.
type Catalog interface {
	PackExists(ctx context.Context, packID string) (bool, error)
	// ListAssets returns the asset paths of a pack in catalog order.
	ListAssets(ctx context.Context, packID string) ([]string, error)
}

type Resolver struct {
	catalog Catalog

	mu       sync.Mutex
	listings map[string]*listing
	exists   map[string]*existence
}

type listing struct {
	once  sync.Once
	paths []string
	err   error
}

type existence struct {
	once sync.Once
	ok   bool
	err  error
}

// New returns a Resolver holding a private snapshot of catalog reads.
// Create one per run.
func New(catalog Catalog) *Resolver {
	if catalog == nil {
		return nil
	}
	return &Resolver{
		catalog:  catalog,
		listings: make(map[string]*listing),
		exists:   make(map[string]*existence),
	}
}

// Resolve expands a single reference.
func (r *Resolver) Resolve(ctx context.Context, raw string) ([]domain.Locator, error) {
	ref, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	switch ref.Kind {
	case KindAsset:
		return []domain.Locator{{Path: ref.Asset}}, nil
	case KindPack:
		paths, err := r.list(ctx, ref.Pack)
		if err != nil {
			return nil, &ReferenceError{Kind: CatalogUnavailable, Reference: raw, Err: err}
		}
		return locators(ref.Pack, paths, nil), nil
	}

	if ref.Pattern == "" {
		return nil, &ReferenceError{Kind: InvalidGlob, Reference: raw, Err: fmt.Errorf("pattern is empty")}
	}
	matcher, err := glob.Compile(ref.Pattern)
	if err != nil {
		return nil, &ReferenceError{Kind: InvalidGlob, Reference: raw, Err: err}
	}
	ok, err := r.packExists(ctx, ref.Pack)
	if err != nil {
		return nil, &ReferenceError{Kind: CatalogUnavailable, Reference: raw, Err: err}
	}
	if !ok {
		return nil, &ReferenceError{Kind: UnknownReferenceKind, Reference: raw, Err: fmt.Errorf("%q is neither a reference kind nor a known pack", ref.Pack)}
	}
	paths, err := r.list(ctx, ref.Pack)
	if err != nil {
		return nil, &ReferenceError{Kind: CatalogUnavailable, Reference: raw, Err: err}
	}
	return locators(ref.Pack, paths, matcher), nil
}

// ResolveAll expands refs in order and concatenates the results.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string) ([]domain.Locator, error) {
	out := make([]domain.Locator, 0, len(refs))
	for _, ref := range refs {
		locs, err := r.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, locs...)
	}
	return out, nil
}

// ResolveAliases expands every alias concurrently. Each alias keeps the
// order of its reference list. The first failure cancels the rest.
func (r *Resolver) ResolveAliases(ctx context.Context, aliases map[string][]string) (map[string][]domain.Locator, error) {
	results := make(map[string][]domain.Locator, len(aliases))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for alias, refs := range aliases {
		g.Go(func() error {
			locs, err := r.ResolveAll(gctx, refs)
			if err != nil {
				return fmt.Errorf("alias %s: %w", alias, err)
			}
			mu.Lock()
			results[alias] = locs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Resolver) list(ctx context.Context, pack string) ([]string, error) {
	r.mu.Lock()
	entry, ok := r.listings[pack]
	if !ok {
		entry = &listing{}
		r.listings[pack] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.paths, entry.err = r.catalog.ListAssets(ctx, pack)
	})
	if entry.err != nil {
		// Drop failed listings so a later call can retry.
		r.mu.Lock()
		if r.listings[pack] == entry {
			delete(r.listings, pack)
		}
		r.mu.Unlock()
	}
	return entry.paths, entry.err
}

func (r *Resolver) packExists(ctx context.Context, pack string) (bool, error) {
	r.mu.Lock()
	entry, ok := r.exists[pack]
	if !ok {
		entry = &existence{}
		r.exists[pack] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.ok, entry.err = r.catalog.PackExists(ctx, pack)
	})
	if entry.err != nil {
		r.mu.Lock()
		if r.exists[pack] == entry {
			delete(r.exists, pack)
		}
		r.mu.Unlock()
	}
	return entry.ok, entry.err
}

func locators(pack string, paths []string, matcher glob.Glob) []domain.Locator {
	out := make([]domain.Locator, 0, len(paths))
	for _, p := range paths {
		if matcher != nil && !matcher.Match(p) {
			continue
		}
		out = append(out, domain.Locator{Pack: pack, Path: p})
	}
	return out
}
