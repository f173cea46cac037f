package scene

import (
	"errors"
	"strconv"
	"strings"
)

// Format hints for embedded texture payloads.
const (
	HintRGBA8888 = "rgba8888"
	HintPNG      = "png"
	HintJPEG     = "jpg"
	HintBMP      = "bmp"
	HintTGA      = "tga"
	HintWebP     = "webp"
	HintTIFF     = "tif"
)

// Texture is either an external file reference or embedded image data,
// never both.
type Texture struct {
	Path     string
	Embedded *EmbeddedImage
}

// EmbeddedImage carries texture data stored inside the source file.
// Compressed payloads keep the original file bytes and FormatHint names the
// codec; uncompressed payloads are packed RGBA8888, Width*Height*4 bytes.
type EmbeddedImage struct {
	Width      int
	Height     int
	FormatHint string
	Data       []byte
	Compressed bool
}

var (
	errTextureBoth    = errors.New("texture has both a path and embedded data")
	errTextureNeither = errors.New("texture has neither a path nor embedded data")
	errTextureSize    = errors.New("uncompressed texture size does not match dimensions")
)

// IsEmbedded reports whether the texture data lives in the scene.
func (t *Texture) IsEmbedded() bool {
	return t.Embedded != nil
}

// Validate enforces the path/embedded exclusivity and payload size.
func (t *Texture) Validate() error {
	switch {
	case t.Path != "" && t.Embedded != nil:
		return errTextureBoth
	case t.Path == "" && t.Embedded == nil:
		return errTextureNeither
	case t.Embedded != nil && !t.Embedded.Compressed &&
		len(t.Embedded.Data) != t.Embedded.Width*t.Embedded.Height*4:
		return errTextureSize
	}
	return nil
}

func (t *Texture) clone() *Texture {
	c := &Texture{Path: t.Path}
	if t.Embedded != nil {
		e := *t.Embedded
		e.Data = append([]byte(nil), t.Embedded.Data...)
		c.Embedded = &e
	}
	return c
}

// EmbeddedRef returns the material texture path referencing Scene.Textures[i].
func EmbeddedRef(i int) string {
	return "*" + strconv.Itoa(i)
}

// ParseEmbeddedRef extracts the texture index from a "*N" path.
func ParseEmbeddedRef(path string) (int, bool) {
	if !strings.HasPrefix(path, "*") {
		return 0, false
	}
	i, err := strconv.Atoi(path[1:])
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}
