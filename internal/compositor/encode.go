package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// ContentType of EncodePNG output.
const ContentType = "image/png"

var encoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// EncodePNG serialises a rendered canvas losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
