package imagecache

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeFunc turns encoded image bytes into an 8-bit straight-alpha raster.
type DecodeFunc func(data []byte) (*image.NRGBA, error)

// Decode sniffs the container format and converts the result to NRGBA with
// its origin at (0, 0).
func Decode(data []byte) (*image.NRGBA, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba, nil
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%s image has no pixels", format)
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out, nil
}
