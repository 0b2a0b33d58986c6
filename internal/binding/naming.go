package binding

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

// Namer derives the output file name for a rendered instance.
type Namer interface {
	Name(ctx context.Context, b Binding) (string, error)
}

// NamerFunc adapts a function to Namer.
type NamerFunc func(ctx context.Context, b Binding) (string, error)

func (f NamerFunc) Name(ctx context.Context, b Binding) (string, error) {
	return f(ctx, b)
}

// Describer looks up asset metadata.
type Describer interface {
	Describe(ctx context.Context, loc domain.Locator) (domain.AssetInfo, error)
}

// IndexNamer names outputs by instance position.
func IndexNamer() Namer {
	return NamerFunc(func(ctx context.Context, b Binding) (string, error) {
		return fmt.Sprintf("instance-%04d.png", b.Index), nil
	})
}

// PrimaryAliasNamer names each output after the asset bound to Alias,
// preferring its file_name metadata over the locator's base name. Bindings
// without Alias fall back to IndexNamer.
type PrimaryAliasNamer struct {
	Alias     string
	Describer Describer
}

func (n PrimaryAliasNamer) Name(ctx context.Context, b Binding) (string, error) {
	loc, ok := b.Get(n.Alias)
	if !ok {
		return IndexNamer().Name(ctx, b)
	}
	name := ""
	if n.Describer != nil {
		info, err := n.Describer.Describe(ctx, loc)
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", loc, err)
		}
		name = info.FileName
	}
	if name = sanitize(name); name == "" {
		name = sanitize(loc.BaseName())
	}
	if name == "" {
		return IndexNamer().Name(ctx, b)
	}
	return pngName(name), nil
}

// Unique wraps a Namer so repeated names within one run get a numeric suffix.
func Unique(next Namer) Namer {
	var mu sync.Mutex
	seen := map[string]int{}
	return NamerFunc(func(ctx context.Context, b Binding) (string, error) {
		name, err := next.Name(ctx, b)
		if err != nil {
			return "", err
		}
		mu.Lock()
		defer mu.Unlock()
		candidate := name
		for seen[candidate] > 0 {
			ext := path.Ext(name)
			candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), seen[name], ext)
			seen[name]++
		}
		seen[candidate]++
		return candidate, nil
	})
}

func sanitize(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// Outputs are always PNG encoded.
func pngName(name string) string {
	ext := path.Ext(name)
	if strings.EqualFold(ext, ".png") {
		return name
	}
	return strings.TrimSuffix(name, ext) + ".png"
}
