// Package texture probes and decodes embedded texture payloads.
//
// Probing never decodes pixels: it sniffs the container with filetype and
// reads only the image header. Decoding produces packed RGBA8888 suitable
// for scene.EmbeddedImage.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"github.com/h2non/filetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// ErrUnknownFormat is returned when no codec recognises the payload.
var ErrUnknownFormat = errors.New("texture: unknown image format")

// Info is the result of probing a payload.
type Info struct {
	Format string
	Width  int
	Height int
}

type codec struct {
	hint   string
	config func(io.Reader) (image.Config, error)
	decode func(io.Reader) (image.Image, error)
}

var codecs = map[string]codec{
	scene.HintPNG:  {scene.HintPNG, png.DecodeConfig, png.Decode},
	scene.HintJPEG: {scene.HintJPEG, jpeg.DecodeConfig, jpeg.Decode},
	scene.HintBMP:  {scene.HintBMP, bmp.DecodeConfig, bmp.Decode},
	scene.HintTIFF: {scene.HintTIFF, tiff.DecodeConfig, tiff.Decode},
	scene.HintWebP: {scene.HintWebP, webp.DecodeConfig, webp.Decode},
	scene.HintTGA:  {scene.HintTGA, tga.DecodeConfig, tga.Decode},
	"gif":          {"gif", gif.DecodeConfig, gif.Decode},
}

// sniff names the codec for data, or "" when the container is unknown.
// TGA has no magic and is never sniffed.
func sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return normalizeHint(kind.Extension)
}

func normalizeHint(h string) string {
	switch h = strings.ToLower(strings.TrimPrefix(h, ".")); h {
	case "jpeg":
		return scene.HintJPEG
	case "tiff":
		return scene.HintTIFF
	}
	return h
}

// HintFromMIME maps an image MIME type to a format hint.
func HintFromMIME(mime string) string {
	mime = strings.ToLower(mime)
	if !strings.HasPrefix(mime, "image/") {
		return ""
	}
	h := normalizeHint(strings.TrimPrefix(mime, "image/"))
	switch h {
	case "x-tga", "x-targa":
		return scene.HintTGA
	case "x-ms-bmp":
		return scene.HintBMP
	}
	return h
}

// Probe identifies the payload format and reads its dimensions. Unknown
// payloads return a zero Info.
func Probe(data []byte) Info {
	return ProbeHint(data, "")
}

// ProbeHint is Probe with a fallback hint, typically the file extension,
// for formats without a signature.
func ProbeHint(data []byte, hint string) Info {
	h := sniff(data)
	if h == "" {
		h = normalizeHint(hint)
	}
	c, ok := codecs[h]
	if !ok {
		return Info{}
	}
	cfg, err := c.config(bytes.NewReader(data))
	if err != nil {
		return Info{Format: c.hint}
	}
	return Info{Format: c.hint, Width: cfg.Width, Height: cfg.Height}
}

// Decode decodes data into an RGBA image. hint is consulted only when the
// payload has no recognisable signature.
func Decode(data []byte, hint string) (*image.RGBA, error) {
	h := sniff(data)
	if h == "" {
		h = normalizeHint(hint)
	}
	c, ok := codecs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, hint)
	}
	img, err := c.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("texture: decode %s: %w", c.hint, err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts img to a tightly packed RGBA image anchored at 0,0.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Decoder turns a compressed embedded texture into packed RGBA8888.
type Decoder interface {
	DecodeTexture(e *scene.EmbeddedImage) (*scene.EmbeddedImage, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(e *scene.EmbeddedImage) (*scene.EmbeddedImage, error)

// DecodeTexture calls f.
func (f DecoderFunc) DecodeTexture(e *scene.EmbeddedImage) (*scene.EmbeddedImage, error) {
	return f(e)
}

// StdDecoder decodes with the codecs linked into this package.
type StdDecoder struct{}

// DecodeTexture decodes e. Uncompressed payloads are returned unchanged.
func (StdDecoder) DecodeTexture(e *scene.EmbeddedImage) (*scene.EmbeddedImage, error) {
	if e == nil || !e.Compressed {
		return e, nil
	}
	img, err := Decode(e.Data, e.FormatHint)
	if err != nil {
		return nil, err
	}
	return &scene.EmbeddedImage{
		Width:      img.Rect.Dx(),
		Height:     img.Rect.Dy(),
		FormatHint: scene.HintRGBA8888,
		Data:       img.Pix,
	}, nil
}
