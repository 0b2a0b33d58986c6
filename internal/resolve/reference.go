package resolve

import (
	"fmt"
	"strings"
)

// Kind is the syntactic form of a reference.
type Kind int

const (
	// KindAsset names one asset directly: "id" or "asset:id".
	KindAsset Kind = iota + 1
	// KindPack expands to every asset of a pack: "pack:pack_id".
	KindPack
	// KindGlob expands to the assets of a pack matching a pattern: "pack_id:pattern".
	KindGlob
)

const (
	assetPrefix = "asset"
	packPrefix  = "pack"
)

// Reference is a parsed template reference.
type Reference struct {
	Raw     string
	Kind    Kind
	Pack    string
	Pattern string
	Asset   string
}

// Parse splits a reference on its first ':' delimiter. Whether a glob
// reference's pack exists is only known once the catalog is consulted.
func Parse(raw string) (Reference, error) {
	ref := strings.TrimSpace(raw)
	prefix, rest, found := strings.Cut(ref, ":")
	if !found {
		if ref == "" {
			return Reference{}, &ReferenceError{Kind: UnknownReferenceKind, Reference: raw, Err: fmt.Errorf("reference is empty")}
		}
		return Reference{Raw: raw, Kind: KindAsset, Asset: ref}, nil
	}
	if prefix == "" {
		return Reference{}, &ReferenceError{Kind: UnknownReferenceKind, Reference: raw, Err: fmt.Errorf("missing prefix before ':'")}
	}
	switch prefix {
	case assetPrefix:
		if rest == "" {
			return Reference{}, &ReferenceError{Kind: UnknownReferenceKind, Reference: raw, Err: fmt.Errorf("asset id is empty")}
		}
		return Reference{Raw: raw, Kind: KindAsset, Asset: rest}, nil
	case packPrefix:
		if rest == "" {
			return Reference{}, &ReferenceError{Kind: UnknownReferenceKind, Reference: raw, Err: fmt.Errorf("pack id is empty")}
		}
		return Reference{Raw: raw, Kind: KindPack, Pack: rest}, nil
	}
	return Reference{Raw: raw, Kind: KindGlob, Pack: prefix, Pattern: rest}, nil
}
