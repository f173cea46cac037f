package formats

import (
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const lightmapAtlasMax = 4096

// lightmapAtlas packs GND lightmap cells into one square RGBA image:
// RGB holds the colour tint, A the shadow intensity.
type lightmapAtlas struct {
	data        []byte
	size        int
	tilesPerRow int
	tileW       int
	tileH       int
}

// newLightmapAtlas returns nil when the ground carries no lightmaps.
func newLightmapAtlas(g *GND) *lightmapAtlas {
	if len(g.Lightmaps) == 0 {
		return nil
	}
	tw, th := g.LightmapWidth, g.LightmapHeight
	if tw == 0 {
		tw = 8
	}
	if th == 0 {
		th = 8
	}
	perRow := 1
	for perRow*perRow < len(g.Lightmaps) {
		perRow *= 2
	}
	size := 64
	for size < perRow*max(tw, th) && size < lightmapAtlasMax {
		size *= 2
	}
	a := &lightmapAtlas{
		data:        make([]byte, size*size*4),
		size:        size,
		tilesPerRow: size / tw,
		tileW:       tw,
		tileH:       th,
	}
	for i := range a.data {
		a.data[i] = 255
	}
	for i, lm := range g.Lightmaps {
		ox, oy := (i%a.tilesPerRow)*tw, (i/a.tilesPerRow)*th
		for y := 0; y < th; y++ {
			for x := 0; x < tw; x++ {
				dx, dy := ox+x, oy+y
				if dx >= size || dy >= size {
					continue
				}
				src, dst := y*tw+x, (dy*size+dx)*4
				a.data[dst], a.data[dst+1], a.data[dst+2] = 0, 0, 0
				if src*3+2 < len(lm.ColorRGB) {
					copy(a.data[dst:dst+3], lm.ColorRGB[src*3:src*3+3])
				}
				if src < len(lm.Brightness) {
					a.data[dst+3] = lm.Brightness[src]
				}
			}
		}
	}
	return a
}

func (a *lightmapAtlas) image() *scene.EmbeddedImage {
	return &scene.EmbeddedImage{
		Width:      a.size,
		Height:     a.size,
		FormatHint: scene.HintRGBA8888,
		Data:       a.data,
	}
}

// uv returns the atlas coordinate of a lightmap corner (0=BL, 1=BR,
// 2=TL, 3=TR), inset by half a texel to avoid bleeding.
func (a *lightmapAtlas) uv(id int16, corner int) smath.Vec3 {
	if a == nil || id < 0 {
		return smath.Vec3{X: 0.5, Y: 0.5}
	}
	size := float32(a.size)
	tx, ty := int(id)%a.tilesPerRow, int(id)/a.tilesPerRow
	u0 := float32(tx*a.tileW)/size + 0.5/size
	u1 := float32((tx+1)*a.tileW)/size - 0.5/size
	v0 := float32(ty*a.tileH)/size + 0.5/size
	v1 := float32((ty+1)*a.tileH)/size - 0.5/size
	switch corner {
	case 0:
		return smath.Vec3{X: u0, Y: v1}
	case 1:
		return smath.Vec3{X: u1, Y: v1}
	case 2:
		return smath.Vec3{X: u0, Y: v0}
	default:
		return smath.Vec3{X: u1, Y: v0}
	}
}
