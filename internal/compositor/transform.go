package compositor

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// lanczos3 is the windowed sinc kernel with three lobes.
var lanczos3 = &xdraw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		if t == 0 {
			return 1
		}
		x := math.Pi * t
		return 3 * math.Sin(x) * math.Sin(x/3) / (x * x)
	},
}

// Scale resizes src uniformly. Target dimensions are truncated, with a floor
// of one pixel. A factor of 1 returns src itself.
func Scale(src *image.NRGBA, factor float64) *image.NRGBA {
	if factor == 1 {
		return src
	}
	w := int(float64(src.Rect.Dx()) * factor)
	h := int(float64(src.Rect.Dy()) * factor)
	w, h = max(w, 1), max(h, 1)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	lanczos3.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return dst
}

// Rotate turns src clockwise by degrees. src is first placed in a square of
// side ceil(hypot(w, h)), offset by n/2-w/2 and n/2-h/2, and the square is
// then turned about its own centre, so no pixel of the original is clipped at
// any angle. Exposed areas are transparent. Multiples of 360 return src
// itself.
func Rotate(src *image.NRGBA, degrees float64) *image.NRGBA {
	deg := math.Mod(degrees, 360)
	if deg == 0 {
		return src
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	n := int(math.Ceil(math.Hypot(float64(w), float64(h))))

	padded := image.NewNRGBA(image.Rect(0, 0, n, n))
	at := image.Pt(n/2-w/2, n/2-h/2)
	draw.Draw(padded, image.Rectangle{Min: at, Max: at.Add(image.Pt(w, h))}, src, src.Rect.Min, draw.Src)

	theta := deg * math.Pi / 180
	sin, cos := math.Sincos(theta)
	// The buffer centre keeps pixel centres on sample points for quarter turns.
	c := float64(n) / 2
	// y grows downwards, so this matrix turns clockwise on screen.
	s2d := f64.Aff3{
		cos, -sin, c - cos*c + sin*c,
		sin, cos, c - sin*c - cos*c,
	}
	out := image.NewNRGBA(padded.Rect)
	xdraw.CatmullRom.Transform(out, s2d, padded, padded.Rect, xdraw.Src, nil)
	return out
}

// WithOpacity multiplies every alpha value by opacity, truncating. The
// result never aliases src unless opacity is 1.
func WithOpacity(src *image.NRGBA, opacity float64) *image.NRGBA {
	if opacity >= 1 {
		return src
	}
	out := image.NewNRGBA(src.Rect)
	copy(out.Pix, src.Pix)
	if opacity <= 0 {
		clear(out.Pix)
		return out
	}
	for y := 0; y < out.Rect.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+out.Rect.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			row[i] = uint8(float64(row[i]) * opacity)
		}
	}
	return out
}

// placement returns the canvas position of the layer's top-left pixel: the
// layer centred on the canvas, then shifted by offset.
func placement(canvas, layer image.Rectangle, offX, offY int64) (int64, int64) {
	x := int64(canvas.Dx()/2-layer.Dx()/2) + offX
	y := int64(canvas.Dy()/2-layer.Dy()/2) + offY
	return x, y
}
