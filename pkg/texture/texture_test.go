package texture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/scenekit/pkg/scene"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProbePNG(t *testing.T) {
	info := Probe(encodePNG(t, 3, 2))
	assert.Equal(t, Info{Format: scene.HintPNG, Width: 3, Height: 2}, info)
}

func TestProbeUnknown(t *testing.T) {
	assert.Equal(t, Info{}, Probe([]byte("definitely not an image")))
}

func TestHintFromMIME(t *testing.T) {
	tests := map[string]string{
		"image/png":  scene.HintPNG,
		"image/jpeg": scene.HintJPEG,
		"IMAGE/TIFF": scene.HintTIFF,
		"image/webp": scene.HintWebP,
		"text/plain": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, HintFromMIME(in), in)
	}
}

func TestStdDecoder(t *testing.T) {
	src := &scene.EmbeddedImage{
		FormatHint: scene.HintPNG,
		Data:       encodePNG(t, 4, 3),
		Compressed: true,
	}
	out, err := StdDecoder{}.DecodeTexture(src)
	require.NoError(t, err)
	assert.False(t, out.Compressed)
	assert.Equal(t, scene.HintRGBA8888, out.FormatHint)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 3, out.Height)
	assert.Len(t, out.Data, 4*3*4)
	assert.Equal(t, byte(255), out.Data[0])

	tex := &scene.Texture{Embedded: out}
	assert.NoError(t, tex.Validate())
}

func TestStdDecoderPassesRawThrough(t *testing.T) {
	raw := &scene.EmbeddedImage{Width: 1, Height: 1, FormatHint: scene.HintRGBA8888, Data: []byte{1, 2, 3, 4}}
	out, err := StdDecoder{}.DecodeTexture(raw)
	require.NoError(t, err)
	assert.Same(t, raw, out)
}

func TestDecodeUnknown(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, "xyz")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
