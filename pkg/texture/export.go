package texture

import (
	"fmt"
	"image"
	"io"
	"path"

	"github.com/HugoSmits86/nativewebp"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// Image returns the pixels of an embedded texture, decoding compressed
// payloads.
func Image(e *scene.EmbeddedImage) (*image.RGBA, error) {
	if e == nil {
		return nil, fmt.Errorf("texture: no image")
	}
	if e.Compressed {
		return Decode(e.Data, e.FormatHint)
	}
	if e.Width <= 0 || e.Height <= 0 || len(e.Data) != e.Width*e.Height*4 {
		return nil, fmt.Errorf("texture: %dx%d RGBA payload has %d bytes", e.Width, e.Height, len(e.Data))
	}
	return &image.RGBA{
		Pix:    e.Data,
		Stride: e.Width * 4,
		Rect:   image.Rect(0, 0, e.Width, e.Height),
	}, nil
}

// DecodeFile decodes a referenced texture file, using the extension of name
// when the payload has no signature.
func DecodeFile(name string, data []byte) (*image.RGBA, error) {
	return Decode(data, path.Ext(name))
}

// WriteWebP encodes img as lossless WebP.
func WriteWebP(w io.Writer, img image.Image) error {
	if err := nativewebp.Encode(w, img, nil); err != nil {
		return fmt.Errorf("texture: webp encode: %w", err)
	}
	return nil
}
