package compositor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/blueprint-labs/blueprint/internal/binding"
	"github.com/blueprint-labs/blueprint/internal/domain"
)

type fakeSource map[domain.Locator]*image.NRGBA

func (f fakeSource) Get(_ context.Context, loc domain.Locator) (*image.NRGBA, error) {
	img, ok := f[loc]
	if !ok {
		return nil, errors.New("no such asset")
	}
	return img, nil
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func layer(ref string) domain.Layer {
	return domain.Layer{Ref: ref, Transform: domain.DefaultTransform(), BlendMode: domain.BlendNormal, Opacity: 1}
}

func render(t *testing.T, canvas domain.Size, layers []domain.Layer, assets map[string]*image.NRGBA) *image.NRGBA {
	t.Helper()
	src := fakeSource{}
	aliases := map[string][]string{}
	assignment := map[string]domain.Locator{}
	for alias, img := range assets {
		loc := domain.Locator{Pack: "test", Path: alias + ".png"}
		src[loc] = img
		aliases[alias] = []string{loc.String()}
		assignment[alias] = loc
	}
	tmpl := domain.Template{Aliases: aliases, Layers: layers, CanvasSize: canvas}
	out, err := Composite(context.Background(), tmpl, binding.Of(0, assignment), src)
	if err != nil {
		t.Fatalf("Composite() err=%v", err)
	}
	return out
}

var (
	red   = color.NRGBA{R: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

func TestCompositeOpaqueRedCanvas(t *testing.T) {
	out := render(t, domain.Size{100, 100}, []domain.Layer{layer("bg")}, map[string]*image.NRGBA{
		"bg": solid(100, 100, red),
	})
	if out.Rect != image.Rect(0, 0, 100, 100) {
		t.Fatalf("Rect=%v", out.Rect)
	}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if got := out.NRGBAAt(x, y); got != red {
				t.Fatalf("pixel (%d,%d)=%v, want %v", x, y, got, red)
			}
		}
	}
}

func TestCompositeRoundTripReproducesLayer(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 7, 5))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 37)
	}
	out := render(t, domain.Size{7, 5}, []domain.Layer{layer("fg")}, map[string]*image.NRGBA{"fg": src})
	if !bytes.Equal(out.Pix, src.Pix) {
		t.Fatalf("canvas differs from layer\n got=%v\nwant=%v", out.Pix, src.Pix)
	}
}

func TestCompositeStartsTransparent(t *testing.T) {
	out := render(t, domain.Size{6, 6}, []domain.Layer{layer("fg")}, map[string]*image.NRGBA{
		"fg": solid(2, 2, red),
	})
	if got := out.NRGBAAt(0, 0); got.A != 0 {
		t.Fatalf("corner=%v, want transparent", got)
	}
	// 2x2 centred on 6x6 lands at (2,2).
	if got := out.NRGBAAt(2, 2); got != red {
		t.Fatalf("centre=%v, want red", got)
	}
	if got := out.NRGBAAt(4, 4); got.A != 0 {
		t.Fatalf("(4,4)=%v, want transparent", got)
	}
}

func TestCompositeLaterLayersPaintOver(t *testing.T) {
	out := render(t, domain.Size{4, 4}, []domain.Layer{layer("bg"), layer("fg")}, map[string]*image.NRGBA{
		"bg": solid(4, 4, red),
		"fg": solid(2, 2, blue),
	})
	if got := out.NRGBAAt(0, 0); got != red {
		t.Fatalf("(0,0)=%v, want red", got)
	}
	if got := out.NRGBAAt(1, 1); got != blue {
		t.Fatalf("(1,1)=%v, want blue", got)
	}
}

func TestCompositeOffsetAndClipping(t *testing.T) {
	tests := []struct {
		name   string
		offset domain.Point
		want   map[image.Point]color.NRGBA
	}{
		{name: "partially outside", offset: domain.Point{2, 2}, want: map[image.Point]color.NRGBA{{3, 3}: red, {2, 2}: {}}},
		{name: "fully outside", offset: domain.Point{3, 3}, want: map[image.Point]color.NRGBA{{3, 3}: {}}},
		{name: "negative", offset: domain.Point{-2, -1}, want: map[image.Point]color.NRGBA{{0, 0}: red, {0, 1}: red, {0, 2}: {}, {1, 0}: {}}},
		{name: "far away", offset: domain.Point{-1 << 40, 1 << 50}, want: map[image.Point]color.NRGBA{{1, 1}: {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := layer("fg")
			l.Transform.Offset = tt.offset
			out := render(t, domain.Size{4, 4}, []domain.Layer{l}, map[string]*image.NRGBA{"fg": solid(2, 2, red)})
			for p, want := range tt.want {
				if got := out.NRGBAAt(p.X, p.Y); got != want {
					t.Fatalf("pixel %v=%v, want %v", p, got, want)
				}
			}
		})
	}
}

func TestCompositeAlphaOver(t *testing.T) {
	out := render(t, domain.Size{1, 1}, []domain.Layer{layer("bg"), layer("fg")}, map[string]*image.NRGBA{
		"bg": solid(1, 1, white),
		"fg": solid(1, 1, color.NRGBA{A: 128}),
	})
	want := color.NRGBA{R: 127, G: 127, B: 127, A: 255}
	if got := out.NRGBAAt(0, 0); got != want {
		t.Fatalf("pixel=%v, want %v", got, want)
	}
}

func TestCompositeOpacity(t *testing.T) {
	asset := solid(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 200})
	l := layer("fg")
	l.Opacity = 0.5
	out := render(t, domain.Size{1, 1}, []domain.Layer{l}, map[string]*image.NRGBA{"fg": asset})
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{R: 10, G: 20, B: 30, A: 100}) {
		t.Fatalf("pixel=%v", got)
	}
	if asset.NRGBAAt(0, 0).A != 200 {
		t.Fatalf("shared raster was modified")
	}

	l.Opacity = 0
	out = render(t, domain.Size{1, 1}, []domain.Layer{layer("bg"), l}, map[string]*image.NRGBA{
		"bg": solid(1, 1, red),
		"fg": asset,
	})
	if got := out.NRGBAAt(0, 0); got != red {
		t.Fatalf("zero opacity layer changed the canvas: %v", got)
	}
}

func TestCompositeBlendModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     domain.BlendMode
		backdrop color.NRGBA
		source   color.NRGBA
		want     color.NRGBA
	}{
		{
			name:     "multiply",
			mode:     domain.BlendMultiply,
			backdrop: color.NRGBA{R: 200, G: 100, B: 50, A: 255},
			source:   color.NRGBA{R: 128, G: 255, B: 0, A: 255},
			want:     color.NRGBA{R: 100, G: 100, B: 0, A: 255},
		},
		{
			name:     "overlay keeps extremes",
			mode:     domain.BlendOverlay,
			backdrop: color.NRGBA{R: 0, G: 255, B: 0, A: 255},
			source:   color.NRGBA{R: 90, G: 90, B: 90, A: 255},
			want:     color.NRGBA{R: 0, G: 255, B: 0, A: 255},
		},
		{
			name:     "multiply onto transparent copies source",
			mode:     domain.BlendMultiply,
			backdrop: color.NRGBA{},
			source:   color.NRGBA{R: 40, G: 50, B: 60, A: 70},
			want:     color.NRGBA{R: 40, G: 50, B: 60, A: 70},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := layer("fg")
			fg.BlendMode = tt.mode
			out := render(t, domain.Size{1, 1}, []domain.Layer{layer("bg"), fg}, map[string]*image.NRGBA{
				"bg": solid(1, 1, tt.backdrop),
				"fg": solid(1, 1, tt.source),
			})
			if got := out.NRGBAAt(0, 0); got != tt.want {
				t.Fatalf("pixel=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompositeErrors(t *testing.T) {
	loc := domain.Locator{Path: "bg.png"}
	src := fakeSource{loc: solid(1, 1, red)}
	b := binding.Of(0, map[string]domain.Locator{"bg": loc, "missing": {Path: "gone.png"}})

	tests := []struct {
		name string
		tmpl domain.Template
		want error
	}{
		{
			name: "unbound reference",
			tmpl: domain.Template{CanvasSize: domain.Size{1, 1}, Layers: []domain.Layer{layer("bg"), layer("fg")}},
			want: ErrUnboundReference,
		},
		{
			name: "layer load",
			tmpl: domain.Template{CanvasSize: domain.Size{1, 1}, Layers: []domain.Layer{layer("missing")}},
			want: ErrLayerLoad,
		},
		{
			name: "empty canvas",
			tmpl: domain.Template{CanvasSize: domain.Size{0, 5}, Layers: []domain.Layer{layer("bg")}},
			want: ErrInvalidTemplate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Composite(context.Background(), tt.tmpl, b, src)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
		})
	}

	_, err := Composite(context.Background(), domain.Template{CanvasSize: domain.Size{1, 1}, Layers: []domain.Layer{layer("bg"), layer("fg")}}, b, src)
	var cerr *CompositeError
	if !errors.As(err, &cerr) || cerr.Layer != 1 || cerr.Alias != "fg" {
		t.Fatalf("err=%#v", err)
	}
}

func TestRotateMultiplesOfFullTurnKeepPixels(t *testing.T) {
	src := solid(3, 2, red)
	for _, deg := range []float64{0, 360, -720, 1080} {
		if got := Rotate(src, deg); got != src {
			t.Fatalf("Rotate(%v) returned a new raster", deg)
		}
	}
}

func TestRotateQuarterTurnClockwiseWithoutCropping(t *testing.T) {
	// Left half red, right half blue.
	src := image.NewNRGBA(image.Rect(0, 0, 10, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			if x < 5 {
				src.SetNRGBA(x, y, red)
			} else {
				src.SetNRGBA(x, y, blue)
			}
		}
	}
	out := Rotate(src, 90)
	if out.Rect != image.Rect(0, 0, 12, 12) {
		t.Fatalf("Rect=%v, want 12x12 diagonal buffer", out.Rect)
	}
	// The source sits at (1,4)-(11,9) and turns about (6,6) into (3,1)-(8,11).
	// Clockwise: the left edge ends up on top.
	for y := 1; y < 11; y++ {
		for x := 3; x < 8; x++ {
			want := red
			if y >= 6 {
				want = blue
			}
			if got := out.NRGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d)=%v, want %v", x, y, got, want)
			}
		}
	}
}

func TestRotateQuarterTurnKeepsPixelsSharp(t *testing.T) {
	tests := []struct{ w, h int }{
		{10, 5},
		{3, 4},
		{2, 7},
		{1, 100},
		{4, 4},
	}
	for _, tt := range tests {
		for _, deg := range []float64{90, 180, 270, -90} {
			out := Rotate(solid(tt.w, tt.h, red), deg)
			full, partial := 0, 0
			for i := 3; i < len(out.Pix); i += 4 {
				switch out.Pix[i] {
				case 0:
				case 255:
					full++
				default:
					partial++
				}
			}
			if full != tt.w*tt.h || partial != 0 {
				t.Fatalf("Rotate(%dx%d, %v) full=%d partial=%d, want %d opaque and no partial pixels",
					tt.w, tt.h, deg, full, partial, tt.w*tt.h)
			}
		}
	}
}

func TestRotateDiagonalKeepsContent(t *testing.T) {
	src := solid(20, 20, red)
	out := Rotate(src, 45)
	if out.Rect.Dx() != 29 || out.Rect.Dy() != 29 {
		t.Fatalf("Rect=%v, want 29x29", out.Rect)
	}
	var mass float64
	for i := 3; i < len(out.Pix); i += 4 {
		mass += float64(out.Pix[i])
	}
	want := 20 * 20 * 255.0
	if math.Abs(mass-want)/want > 0.05 {
		t.Fatalf("alpha mass=%v, want within 5%% of %v", mass, want)
	}
	if got := out.NRGBAAt(14, 14); got.R < 254 || got.A < 254 {
		t.Fatalf("centre=%v, want red", got)
	}
	if got := out.NRGBAAt(0, 0); got.A != 0 {
		t.Fatalf("corner=%v, want transparent", got)
	}
}

func TestScale(t *testing.T) {
	src := solid(4, 4, red)
	if Scale(src, 1) != src {
		t.Fatalf("unit scale should not copy")
	}
	tests := []struct {
		w, h   int
		factor float64
		want   image.Rectangle
	}{
		{4, 4, 0.5, image.Rect(0, 0, 2, 2)},
		{3, 3, 1.5, image.Rect(0, 0, 4, 4)},
		{4, 2, 0.1, image.Rect(0, 0, 1, 1)},
	}
	for _, tt := range tests {
		out := Scale(solid(tt.w, tt.h, red), tt.factor)
		if out.Rect != tt.want {
			t.Fatalf("Scale(%dx%d, %v) Rect=%v, want %v", tt.w, tt.h, tt.factor, out.Rect, tt.want)
		}
		for y := 0; y < out.Rect.Dy(); y++ {
			for x := 0; x < out.Rect.Dx(); x++ {
				p := out.NRGBAAt(x, y)
				if p.R < 254 || p.G > 1 || p.B > 1 || p.A < 254 {
					t.Fatalf("pixel (%d,%d)=%v, want red", x, y, p)
				}
			}
		}
	}
}

func TestEncodePNG(t *testing.T) {
	img := solid(3, 3, color.NRGBA{R: 1, G: 2, B: 3, A: 4})
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG() err=%v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(*image.NRGBA)
	if !ok || !bytes.Equal(got.Pix, img.Pix) {
		t.Fatalf("round trip mismatch: %T", decoded)
	}
}
