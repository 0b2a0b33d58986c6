package compositor

import (
	"image"
	"math"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

type blendFunc func(cb, cs float64) float64

func blendFor(mode domain.BlendMode) blendFunc {
	switch mode {
	case domain.BlendMultiply:
		return func(cb, cs float64) float64 { return cb * cs }
	case domain.BlendOverlay:
		return func(cb, cs float64) float64 {
			// Overlay is hard light with the layers swapped.
			if cb <= 0.5 {
				return 2 * cb * cs
			}
			return 1 - 2*(1-cb)*(1-cs)
		}
	default:
		return nil
	}
}

// overlay paints src onto dst with its top-left pixel at (x, y), clipping
// whatever falls outside dst. Both images carry straight alpha.
func overlay(dst, src *image.NRGBA, x, y int64, mode domain.BlendMode) {
	db := dst.Rect
	// Clip in int64 so far-away offsets cannot overflow.
	x0 := max(x, int64(db.Min.X))
	y0 := max(y, int64(db.Min.Y))
	x1 := min(x+int64(src.Rect.Dx()), int64(db.Max.X))
	y1 := min(y+int64(src.Rect.Dy()), int64(db.Max.Y))
	if x0 >= x1 || y0 >= y1 {
		return
	}
	blend := blendFor(mode)
	for py := int(y0); py < int(y1); py++ {
		sy := src.Rect.Min.Y + py - int(y)
		for px := int(x0); px < int(x1); px++ {
			sx := src.Rect.Min.X + px - int(x)
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(px, py)
			blendPixel(dst.Pix[di:di+4:di+4], src.Pix[si:si+4:si+4], blend)
		}
	}
}

func blendPixel(d, s []uint8, blend blendFunc) {
	sa, da := s[3], d[3]
	switch {
	case sa == 0:
		return
	case da == 0, sa == 255 && blend == nil:
		copy(d, s)
		return
	}

	as := float64(sa) / 255
	ab := float64(da) / 255
	ao := as + ab*(1-as)
	for i := 0; i < 3; i++ {
		cs := float64(s[i]) / 255
		cb := float64(d[i]) / 255
		if blend != nil {
			cs = (1-ab)*cs + ab*blend(cb, cs)
		}
		co := (cs*as + cb*ab*(1-as)) / ao
		d[i] = toChannel(co)
	}
	d[3] = toChannel(ao)
}

func toChannel(v float64) uint8 {
	return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
}
