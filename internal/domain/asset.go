package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Locator identifies one fetchable asset. An empty Pack addresses the
// loose asset namespace shared by all packs.
type Locator struct {
	Pack string
	Path string
}

func (l Locator) String() string {
	if l.Pack == "" {
		return l.Path
	}
	return l.Pack + ":" + l.Path
}

// BaseName is the last element of the asset path.
func (l Locator) BaseName() string {
	p := strings.TrimSuffix(l.Path, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// AssetInfo is the metadata kept alongside an asset's bytes.
type AssetInfo struct {
	Locator     Locator
	FileName    string
	ContentType string
	Size        int64
}

// AssetPack is a named collection of assets.
type AssetPack struct {
	ID          string
	Name        string
	Description string
	Tags        []string
}

func (p AssetPack) Validate() error {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return errors.New("pack id is required")
	}
	if strings.ContainsAny(id, ":/\\") || strings.TrimSpace(id) != p.ID {
		return fmt.Errorf("pack id %q must not contain ':', '/' or surrounding spaces", p.ID)
	}
	if IsReservedPackID(id) {
		return fmt.Errorf("pack id %q is reserved", id)
	}
	return nil
}

// IsReservedPackID reports whether id collides with a reference kind prefix.
func IsReservedPackID(id string) bool {
	switch strings.ToLower(id) {
	case "asset", "pack":
		return true
	}
	return false
}
