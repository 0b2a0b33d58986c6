package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/google/go-cmp/cmp"
)

type fakeCatalog struct {
	mu      sync.Mutex
	packs   map[string][]string
	listErr error
	lists   map[string]int
}

func newFakeCatalog(packs map[string][]string) *fakeCatalog {
	return &fakeCatalog{packs: packs, lists: map[string]int{}}
}

func (c *fakeCatalog) PackExists(ctx context.Context, packID string) (bool, error) {
	if c.listErr != nil {
		return false, c.listErr
	}
	_, ok := c.packs[packID]
	return ok, nil
}

func (c *fakeCatalog) ListAssets(ctx context.Context, packID string) ([]string, error) {
	c.mu.Lock()
	c.lists[packID]++
	c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]string(nil), c.packs[packID]...), nil
}

func TestResolveGlobKeepsCatalogOrder(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{"packA": {"a.png", "b.jpg", "c.png"}})
	got, err := New(catalog).Resolve(context.Background(), "packA:*.png")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	want := []domain.Locator{{Pack: "packA", Path: "a.png"}, {Pack: "packA", Path: "c.png"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveLiteralAndPackKinds(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{"hats": {"red.png", "blue.png"}})
	r := New(catalog)

	cases := []struct {
		ref  string
		want []domain.Locator
	}{
		{"asset-42", []domain.Locator{{Path: "asset-42"}}},
		{"asset:asset-42", []domain.Locator{{Path: "asset-42"}}},
		{"pack:hats", []domain.Locator{{Pack: "hats", Path: "red.png"}, {Pack: "hats", Path: "blue.png"}}},
		{"hats:*.gif", []domain.Locator{}},
	}
	for _, tc := range cases {
		got, err := r.Resolve(context.Background(), tc.ref)
		if err != nil {
			t.Fatalf("Resolve(%q) err=%v", tc.ref, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("Resolve(%q) mismatch (-want +got):\n%s", tc.ref, diff)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{"packA": {"a.png"}})
	r := New(catalog)

	cases := []struct {
		ref  string
		kind ErrorKind
		is   error
	}{
		{"s3:*.png", UnknownReferenceKind, ErrUnknownReferenceKind},
		{":*.png", UnknownReferenceKind, ErrUnknownReferenceKind},
		{"packA:[abc", InvalidGlob, ErrInvalidGlob},
		{"packA:", InvalidGlob, ErrInvalidGlob},
	}
	for _, tc := range cases {
		_, err := r.Resolve(context.Background(), tc.ref)
		var refErr *ReferenceError
		if !errors.As(err, &refErr) {
			t.Fatalf("Resolve(%q) err=%v, want ReferenceError", tc.ref, err)
		}
		if refErr.Kind != tc.kind || !errors.Is(err, tc.is) {
			t.Fatalf("Resolve(%q) kind=%s, want %s", tc.ref, refErr.Kind, tc.kind)
		}
	}
}

func TestResolveCatalogUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	catalog := newFakeCatalog(map[string][]string{"packA": {"a.png"}})
	catalog.listErr = boom

	_, err := New(catalog).Resolve(context.Background(), "pack:packA")
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("err=%v, want catalog unavailable", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error to be wrapped, got %v", err)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{"packA": {"a.png", "b.png"}})
	r := New(catalog)
	first, err := r.Resolve(context.Background(), "packA:*")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	second, err := r.Resolve(context.Background(), "packA:*")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated Resolve() differs:\n%s", diff)
	}
	if catalog.lists["packA"] != 1 {
		t.Fatalf("expected one catalog listing, got %d", catalog.lists["packA"])
	}
}

func TestResolveAliasesConcatenatesInOrder(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{
		"bgs": {"night.png", "day.png"},
		"fgs": {"cat.png", "dog.png", "notes.txt"},
	})
	got, err := New(catalog).ResolveAliases(context.Background(), map[string][]string{
		"bg": {"pack:bgs", "loose-bg"},
		"fg": {"fgs:*.png"},
	})
	if err != nil {
		t.Fatalf("ResolveAliases() err=%v", err)
	}
	want := map[string][]domain.Locator{
		"bg": {{Pack: "bgs", Path: "night.png"}, {Pack: "bgs", Path: "day.png"}, {Path: "loose-bg"}},
		"fg": {{Pack: "fgs", Path: "cat.png"}, {Pack: "fgs", Path: "dog.png"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ResolveAliases() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveAliasesFailsFast(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{"bgs": {"a.png"}})
	_, err := New(catalog).ResolveAliases(context.Background(), map[string][]string{
		"bg": {"pack:bgs"},
		"fg": {"nope:*.png"},
	})
	if !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("err=%v, want unknown reference kind", err)
	}
}

func TestParse(t *testing.T) {
	ref, err := Parse("packA:dir/*.png")
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if ref.Kind != KindGlob || ref.Pack != "packA" || ref.Pattern != "dir/*.png" {
		t.Fatalf("unexpected parse %+v", ref)
	}
	if _, err := Parse("  "); !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("expected empty reference to fail, got %v", err)
	}
}
