package formats

import (
	"errors"
	"testing"

	"github.com/Faultbox/scenekit/pkg/scene"
)

type testGND struct {
	w, h      int
	minor     uint8
	textures  []string
	lightmaps int
	surfaces  []GNDSurface
	tiles     []GNDTile
}

// bytes encodes the ground with 8x8 lightmaps. Missing tiles are flat and
// have no surfaces.
func (g testGND) bytes() []byte {
	b := &bin{}
	minor := g.minor
	if minor == 0 {
		minor = 7
	}
	b.raw([]byte("GRGN")).u8(1, minor)
	b.u32(uint32(g.w), uint32(g.h)).f32(10)

	b.i32(int32(len(g.textures)), 80)
	for _, tex := range g.textures {
		b.str(tex, 80)
	}

	b.i32(int32(g.lightmaps), 8, 8, 1)
	for i := 0; i < g.lightmaps; i++ {
		for p := 0; p < 64; p++ {
			b.u8(7)
		}
		for p := 0; p < 64; p++ {
			b.u8(10, 20, 30)
		}
	}

	b.i32(int32(len(g.surfaces)))
	for _, s := range g.surfaces {
		b.f32(s.U[:]...).f32(s.V[:]...)
		b.i16(s.TextureID, s.LightmapID)
		b.u8(s.Color[:]...)
	}

	for i := 0; i < g.w*g.h; i++ {
		t := GNDTile{TopSurface: -1, FrontSurface: -1, RightSurface: -1}
		if i < len(g.tiles) {
			t = g.tiles[i]
		}
		b.f32(t.Altitude[:]...)
		b.i32(t.TopSurface, t.FrontSurface, t.RightSurface)
	}
	return b.bytes()
}

func TestParseGND_ValidFile(t *testing.T) {
	data := testGND{w: 4, h: 4, textures: []string{"GROUND01.BMP", "water\\blue.bmp"}}.bytes()

	gnd, err := ParseGND(data)
	if err != nil {
		t.Fatalf("ParseGND failed: %v", err)
	}
	if gnd.Version.String() != "1.7" {
		t.Errorf("expected version 1.7, got %s", gnd.Version)
	}
	if gnd.Width != 4 || gnd.Height != 4 {
		t.Errorf("expected 4x4, got %dx%d", gnd.Width, gnd.Height)
	}
	if gnd.Zoom != 10.0 {
		t.Errorf("expected zoom 10.0, got %f", gnd.Zoom)
	}
	if len(gnd.Tiles) != 16 {
		t.Errorf("expected 16 tiles, got %d", len(gnd.Tiles))
	}

	want := []string{"ground01.bmp", "water/blue.bmp"}
	for i, w := range want {
		if gnd.Textures[i] != w {
			t.Errorf("texture %d: expected %q, got %q", i, w, gnd.Textures[i])
		}
	}
}

func TestParseGND_Errors(t *testing.T) {
	valid := testGND{w: 2, h: 2}.bytes()
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"invalid magic", append([]byte("XXXX"), valid[4:]...), ErrInvalidMagic},
		{"version 1.4", testGND{w: 2, h: 2, minor: 4}.bytes(), ErrUnsupportedVersion},
		{"zero width", testGND{w: 0, h: 2}.bytes(), ErrMalformed},
		{"oversized", testGND{w: 2000, h: 2}.bytes()[:30], ErrMalformed},
		{"missing tiles", valid[:len(valid)-gndTileSize], ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGND(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseGND() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGND_Tile(t *testing.T) {
	tiles := make([]GNDTile, 6)
	for i := range tiles {
		tiles[i] = GNDTile{Altitude: [4]float32{float32(i), 0, 0, -float32(i)}, TopSurface: -1, FrontSurface: -1, RightSurface: -1}
	}
	gnd, err := ParseGND(testGND{w: 3, h: 2, tiles: tiles}.bytes())
	if err != nil {
		t.Fatalf("ParseGND failed: %v", err)
	}

	tests := []struct {
		x, y    int
		wantNil bool
		want    float32
	}{
		{0, 0, false, 0},
		{2, 0, false, 2},
		{1, 1, false, 4},
		{3, 0, true, 0},
		{0, 2, true, 0},
		{-1, 0, true, 0},
	}
	for _, tt := range tests {
		tile := gnd.Tile(tt.x, tt.y)
		if (tile == nil) != tt.wantNil {
			t.Errorf("Tile(%d, %d) nil = %v, want %v", tt.x, tt.y, tile == nil, tt.wantNil)
			continue
		}
		if tile != nil && tile.Altitude[0] != tt.want {
			t.Errorf("Tile(%d, %d) altitude = %v, want %v", tt.x, tt.y, tile.Altitude[0], tt.want)
		}
	}

	lo, hi := gnd.AltitudeRange()
	if lo != -5 || hi != 5 {
		t.Errorf("AltitudeRange() = %v, %v, want -5, 5", lo, hi)
	}
}

func TestGND_SurfacesByTexture(t *testing.T) {
	gnd := &GND{Surfaces: []GNDSurface{{TextureID: 0}, {TextureID: 0}, {TextureID: 1}, {TextureID: -1}}}
	counts := gnd.SurfacesByTexture()
	if counts[0] != 2 || counts[1] != 1 || len(counts) != 2 {
		t.Errorf("SurfacesByTexture() = %v", counts)
	}
}

// twoTileGround has a flat tile next to one raised by 10 units, both
// using surface 0, so a right wall is generated between them.
func twoTileGround(lightmaps int) []byte {
	surface := GNDSurface{
		U:     [4]float32{0, 1, 0, 1},
		V:     [4]float32{0, 0, 1, 1},
		Color: [4]uint8{255, 128, 0, 255},
	}
	return testGND{
		w: 2, h: 1,
		textures:  []string{"grass.bmp"},
		lightmaps: lightmaps,
		surfaces:  []GNDSurface{surface},
		tiles: []GNDTile{
			{TopSurface: 0, FrontSurface: -1, RightSurface: -1},
			{Altitude: [4]float32{-10, -10, -10, -10}, TopSurface: 0, FrontSurface: -1, RightSurface: -1},
		},
	}.bytes()
}

func TestGNDDecoder_Terrain(t *testing.T) {
	s, err := decodeWith(t, GNDDecoder{}, "prontera.gnd", twoTileGround(1), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.FindNode("terrain") == nil {
		t.Fatal("terrain node missing")
	}
	if len(s.Meshes) != 1 {
		t.Fatalf("got %d meshes, want one per texture", len(s.Meshes))
	}
	m := s.Meshes[0]
	// two top quads and one wall
	if len(m.Faces) != 6 || m.NumVertices() != 12 {
		t.Errorf("got %d faces and %d vertices, want 6 and 12", len(m.Faces), m.NumVertices())
	}
	if len(m.TexCoords) != 2 {
		t.Errorf("got %d uv sets, want diffuse and lightmap", len(m.TexCoords))
	}
	// BGRA surface color becomes RGBA
	if c := m.Colors[0][0]; c.R != 0 || c.B != 1 {
		t.Errorf("vertex color = %v, want blue", c)
	}

	if box := s.Bounds(); box.Max.Y != 10 || box.Min.Y != 0 {
		t.Errorf("bounds Y = [%v, %v], want [0, 10]", box.Min.Y, box.Max.Y)
	}

	if len(s.Textures) != 1 || !s.Textures[0].IsEmbedded() {
		t.Fatalf("expected one embedded lightmap texture")
	}
	ref, ok := s.Materials[m.MaterialIndex].Texture(scene.TextureLightmap, 0)
	if !ok || ref.Path != scene.EmbeddedRef(0) || ref.UVIndex != 1 {
		t.Errorf("lightmap binding = %+v, %v", ref, ok)
	}
	if s.Metadata["gnd.size"] != "2x1" {
		t.Errorf("gnd.size = %q", s.Metadata["gnd.size"])
	}
}

func TestGNDDecoder_NoLightmaps(t *testing.T) {
	s, err := decodeWith(t, GNDDecoder{}, "flat.gnd", twoTileGround(0), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(s.Textures) != 0 {
		t.Errorf("got %d textures, want none", len(s.Textures))
	}
	if len(s.Meshes[0].TexCoords) != 1 {
		t.Errorf("got %d uv sets, want 1", len(s.Meshes[0].TexCoords))
	}
}

func TestGNDDecoder_NoSurfaces(t *testing.T) {
	_, err := decodeWith(t, GNDDecoder{}, "empty.gnd", testGND{w: 2, h: 2}.bytes(), nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestLightmapAtlas(t *testing.T) {
	gnd, err := ParseGND(twoTileGround(1))
	if err != nil {
		t.Fatalf("ParseGND failed: %v", err)
	}
	atlas := newLightmapAtlas(gnd)
	if atlas == nil {
		t.Fatal("newLightmapAtlas returned nil")
	}
	img := atlas.image()
	if img.Width != 64 || len(img.Data) != 64*64*4 {
		t.Fatalf("atlas is %dx%d with %d bytes", img.Width, img.Height, len(img.Data))
	}
	if got := img.Data[:4]; got[0] != 10 || got[1] != 20 || got[2] != 30 || got[3] != 7 {
		t.Errorf("first texel = %v, want [10 20 30 7]", got)
	}
	if uv := atlas.uv(0, 2); uv.X != 0.5/64 || uv.Y != 0.5/64 {
		t.Errorf("uv(0, TL) = %v", uv)
	}
	if uv := atlas.uv(-1, 0); uv.X != 0.5 {
		t.Errorf("uv for missing lightmap = %v, want centre", uv)
	}
	if newLightmapAtlas(&GND{}) != nil {
		t.Error("atlas without lightmaps should be nil")
	}
}
