// Package compositor renders one template instance onto a transparent canvas.
//
// Layers are painted in order. Each layer's raster is scaled, rotated about
// its centre, faded by its opacity, centred on the canvas, shifted by its
// offset and then blended over what is already there.
package compositor

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/blueprint-labs/blueprint/internal/binding"
	"github.com/blueprint-labs/blueprint/internal/domain"
)

// Source hands out decoded layer rasters. Returned rasters are shared and
// are never written to.
type Source interface {
	Get(ctx context.Context, loc domain.Locator) (*image.NRGBA, error)
}

// Composite renders tmpl with every layer reference taken from b.
func Composite(ctx context.Context, tmpl domain.Template, b binding.Binding, src Source) (*image.NRGBA, error) {
	w, h := tmpl.CanvasSize.Width(), tmpl.CanvasSize.Height()
	if w <= 0 || h <= 0 {
		return nil, &CompositeError{
			Kind:  InvalidTemplate,
			Layer: -1,
			Err:   fmt.Errorf("canvas size %dx%d", w, h),
		}
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, layer := range tmpl.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := paint(ctx, canvas, i, layer, b, src); err != nil {
			return nil, err
		}
	}
	return canvas, nil
}

func paint(ctx context.Context, canvas *image.NRGBA, index int, layer domain.Layer, b binding.Binding, src Source) error {
	loc, ok := b.Get(layer.Ref)
	if !ok {
		return &CompositeError{Kind: UnboundReference, Layer: index, Alias: layer.Ref}
	}
	raster, err := src.Get(ctx, loc)
	if err != nil {
		return &CompositeError{Kind: LayerLoad, Layer: index, Alias: layer.Ref, Err: err}
	}

	t := layer.Transform
	if math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) || t.Scale <= 0 {
		return &CompositeError{
			Kind:  InvalidTemplate,
			Layer: index,
			Alias: layer.Ref,
			Err:   fmt.Errorf("scale %v", t.Scale),
		}
	}
	if layer.Opacity <= 0 {
		return nil
	}

	raster = Scale(raster, t.Scale)
	raster = Rotate(raster, t.Rotate)
	raster = WithOpacity(raster, layer.Opacity)

	x, y := placement(canvas.Rect, raster.Rect, t.Offset.X(), t.Offset.Y())
	overlay(canvas, raster, x, y, layer.BlendMode)
	return nil
}
