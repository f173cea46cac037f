package formats

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/chewxy/math32"

	"github.com/Faultbox/scenekit/pkg/encoding"
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const gndFormat = "gnd"

var gndMagic = []byte("GRGN")

const (
	gndSurfaceSize = 40
	gndTileSize    = 28
	gndMaxSide     = 1024
	gndWallEpsilon = 0.001
)

// GNDVersion represents the GND file version.
type GNDVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v GNDVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// GNDSurface is a textured quad face shared by tiles.
type GNDSurface struct {
	U          [4]float32
	V          [4]float32
	TextureID  int16 // -1 = no texture
	LightmapID int16
	Color      [4]uint8 // BGRA
}

// GNDTile is one ground cell. Corners are ordered bottom-left,
// bottom-right, top-left, top-right; surface IDs are -1 when absent.
type GNDTile struct {
	Altitude     [4]float32
	TopSurface   int32
	FrontSurface int32
	RightSurface int32
}

// GNDLightmap is one baked lightmap cell.
type GNDLightmap struct {
	Brightness []uint8
	ColorRGB   []uint8
}

// GND is a parsed Ragnarok Online ground file.
type GND struct {
	Version        GNDVersion
	Width          int
	Height         int
	Zoom           float32
	Textures       []string
	Lightmaps      []GNDLightmap
	LightmapWidth  int
	LightmapHeight int
	Surfaces       []GNDSurface
	Tiles          []GNDTile
}

// Tile returns the tile at x, y or nil when out of range.
func (g *GND) Tile(x, y int) *GNDTile {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return nil
	}
	return &g.Tiles[y*g.Width+x]
}

// AltitudeRange returns the lowest and highest corner altitude.
func (g *GND) AltitudeRange() (lo, hi float32) {
	if len(g.Tiles) == 0 {
		return 0, 0
	}
	lo, hi = g.Tiles[0].Altitude[0], g.Tiles[0].Altitude[0]
	for _, t := range g.Tiles {
		for _, h := range t.Altitude {
			lo, hi = math32.Min(lo, h), math32.Max(hi, h)
		}
	}
	return lo, hi
}

// ParseGND parses GND data. Versions 1.5 through 1.9 are supported.
func ParseGND(data []byte) (*GND, error) {
	r := newReader(gndFormat, data)
	if !r.need(6) {
		return nil, r.Err()
	}
	if !bytes.Equal(r.bytes(4), gndMagic) {
		return nil, errAt(gndFormat, 0, ErrInvalidMagic)
	}
	g := &GND{Version: GNDVersion{Major: r.u8(), Minor: r.u8()}}
	if g.Version.Major != 1 || g.Version.Minor < 5 || g.Version.Minor > 9 {
		return nil, errAt(gndFormat, 4, wrapf(ErrUnsupportedVersion, "version %s", g.Version))
	}

	w, h := r.u32(), r.u32()
	g.Zoom = r.f32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if w == 0 || h == 0 || w > gndMaxSide || h > gndMaxSide {
		return nil, errAt(gndFormat, 6, wrapf(ErrMalformed, "dimensions %dx%d", w, h))
	}
	g.Width, g.Height = int(w), int(h)

	nTex := r.i32()
	nameLen := int(r.i32())
	if nameLen <= 0 || nameLen > 1024 {
		nameLen = 0
	}
	g.Textures = make([]string, r.count(int64(nTex), max(nameLen, 1), "textures"))
	for i := range g.Textures {
		g.Textures[i] = encoding.NormalizePath(r.str(nameLen, encoding.EUCKR))
	}

	nLM := r.i32()
	lmW, lmH, lmCells := r.i32(), r.i32(), r.i32()
	if r.Err() == nil && (lmW < 0 || lmH < 0 || lmCells < 0 || lmW > 64 || lmH > 64 || lmCells > 16) {
		return nil, errAt(gndFormat, r.off-12, wrapf(ErrMalformed, "lightmap format %dx%dx%d", lmW, lmH, lmCells))
	}
	g.LightmapWidth, g.LightmapHeight = int(lmW), int(lmH)
	pixels := int(lmW * lmH * lmCells)
	g.Lightmaps = make([]GNDLightmap, r.count(int64(nLM), max(pixels*4, 1), "lightmaps"))
	for i := range g.Lightmaps {
		g.Lightmaps[i].Brightness = r.bytes(pixels)
		g.Lightmaps[i].ColorRGB = r.bytes(pixels * 3)
	}

	g.Surfaces = make([]GNDSurface, r.count(int64(r.i32()), gndSurfaceSize, "surfaces"))
	for i := range g.Surfaces {
		s := &g.Surfaces[i]
		for k := range s.U {
			s.U[k] = r.f32()
		}
		for k := range s.V {
			s.V[k] = r.f32()
		}
		s.TextureID = r.i16()
		s.LightmapID = r.i16()
		copy(s.Color[:], r.bytes(4))
	}

	g.Tiles = make([]GNDTile, r.count(int64(g.Width)*int64(g.Height), gndTileSize, "tiles"))
	for i := range g.Tiles {
		t := &g.Tiles[i]
		for k := range t.Altitude {
			t.Altitude[k] = r.f32()
		}
		t.TopSurface, t.FrontSurface, t.RightSurface = r.i32(), r.i32(), r.i32()
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// SurfacesByTexture counts surfaces per texture index.
func (g *GND) SurfacesByTexture() map[int]int {
	counts := make(map[int]int)
	for _, s := range g.Surfaces {
		if s.TextureID >= 0 {
			counts[int(s.TextureID)]++
		}
	}
	return counts
}

func (g *GND) surface(id int32) *GNDSurface {
	if id < 0 || int(id) >= len(g.Surfaces) {
		return nil
	}
	return &g.Surfaces[id]
}

// GNDDecoder converts ground files into a terrain scene: one mesh per
// texture plus a lightmap atlas bound on UV set 1.
type GNDDecoder struct{}

// Info describes the decoder.
func (GNDDecoder) Info() Info {
	return Info{Name: gndFormat, Description: "Ragnarok Online ground", Extensions: []string{".gnd"}}
}

// Probe checks the GRGN magic.
func (GNDDecoder) Probe(header []byte, _ string) Match {
	if bytes.HasPrefix(header, gndMagic) {
		return MatchSignature
	}
	return MatchNone
}

// Decode parses req.Data.
func (GNDDecoder) Decode(req *Request) (*scene.Scene, error) {
	g, err := ParseGND(req.Data)
	if err != nil {
		return nil, err
	}
	s := newScene(req, gndFormat, g.Version.String())
	terrain := gndToScene(g, s)
	if terrain == nil {
		return nil, errFormat(gndFormat, wrapf(ErrMalformed, "ground has no surfaces"))
	}
	s.Root.AddChild(terrain)
	finishMeshes(s)
	return s, nil
}

// gndMesh accumulates the quads of one texture.
type gndMesh struct {
	pos    []smath.Vec3
	uv     []smath.Vec3
	lmUV   []smath.Vec3
	colors []smath.Color4
	faces  []scene.Face
}

type gndCorner struct {
	pos   smath.Vec3
	uv    smath.Vec3
	lmUV  smath.Vec3
	color smath.Color4
}

// quad appends four corners and two triangles given as corner indices.
func (m *gndMesh) quad(c [4]gndCorner, tris [6]int) {
	base := len(m.pos)
	for _, v := range c {
		m.pos = append(m.pos, v.pos)
		m.uv = append(m.uv, v.uv)
		m.lmUV = append(m.lmUV, v.lmUV)
		m.colors = append(m.colors, v.color)
	}
	m.faces = append(m.faces,
		scene.Face{Indices: []int{base + tris[0], base + tris[1], base + tris[2]}},
		scene.Face{Indices: []int{base + tris[3], base + tris[4], base + tris[5]}},
	)
}

// gndToScene adds the terrain meshes, materials and lightmap texture to s
// and returns the node holding them, or nil when nothing was emitted.
// Altitudes grow downward, so they are negated into Y-up.
func gndToScene(g *GND, s *scene.Scene) *scene.Node {
	atlas := newLightmapAtlas(g)
	meshes := make(map[int]*gndMesh)
	var order []int
	get := func(tex int) *gndMesh {
		m, ok := meshes[tex]
		if !ok {
			m = &gndMesh{}
			meshes[tex] = m
			order = append(order, tex)
		}
		return m
	}

	size := g.Zoom
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			t := g.Tile(x, y)
			bx, bz := float32(x)*size, float32(y)*size
			corners := [4]smath.Vec3{
				{X: bx, Y: -t.Altitude[0], Z: bz + size},
				{X: bx + size, Y: -t.Altitude[1], Z: bz + size},
				{X: bx, Y: -t.Altitude[2], Z: bz},
				{X: bx + size, Y: -t.Altitude[3], Z: bz},
			}

			if sf := g.surface(t.TopSurface); sf != nil {
				col := smath.ColorFromBytes(sf.Color[2], sf.Color[1], sf.Color[0], sf.Color[3])
				var c [4]gndCorner
				// surface UVs are stored TL, TR, BL, BR
				uvOrder := [4]int{2, 3, 0, 1}
				for k := range c {
					c[k] = gndCorner{
						pos:   corners[k],
						uv:    smath.Vec3{X: sf.U[uvOrder[k]], Y: sf.V[uvOrder[k]]},
						lmUV:  atlas.uv(sf.LightmapID, k),
						color: col,
					}
				}
				get(int(sf.TextureID)).quad(c, [6]int{0, 1, 2, 2, 1, 3})
			}

			if next := g.Tile(x, y+1); next != nil &&
				(math32.Abs(t.Altitude[0]-next.Altitude[2]) > gndWallEpsilon || math32.Abs(t.Altitude[1]-next.Altitude[3]) > gndWallEpsilon) {
				wall := [4]smath.Vec3{
					corners[0], corners[1],
					{X: bx, Y: -next.Altitude[2], Z: bz + size},
					{X: bx + size, Y: -next.Altitude[3], Z: bz + size},
				}
				gndWall(g, t.FrontSurface, t.TopSurface, wall, atlas, get)
			}
			if right := g.Tile(x+1, y); right != nil &&
				(math32.Abs(t.Altitude[1]-right.Altitude[0]) > gndWallEpsilon || math32.Abs(t.Altitude[3]-right.Altitude[2]) > gndWallEpsilon) {
				wall := [4]smath.Vec3{
					corners[3], corners[1],
					{X: bx + size, Y: -right.Altitude[2], Z: bz},
					{X: bx + size, Y: -right.Altitude[0], Z: bz + size},
				}
				gndWall(g, t.RightSurface, t.TopSurface, wall, atlas, get)
			}
		}
	}
	if len(order) == 0 {
		return nil
	}

	lmRef := ""
	if atlas != nil {
		lmRef = scene.EmbeddedRef(s.AddTexture(&scene.Texture{Embedded: atlas.image()}))
	}
	node := scene.NewNode("terrain")
	for _, tex := range order {
		name := "gnd_untextured"
		if tex >= 0 && tex < len(g.Textures) {
			name = g.Textures[tex]
		}
		mat := scene.NewMaterial(name)
		if tex >= 0 && tex < len(g.Textures) {
			mat.SetTexture(scene.TextureDiffuse, 0, scene.TextureRef{Path: g.Textures[tex]})
		}
		if lmRef != "" {
			mat.SetTexture(scene.TextureLightmap, 0, scene.TextureRef{Path: lmRef, UVIndex: 1})
		}
		src := meshes[tex]
		m := &scene.Mesh{
			Name:          "terrain_" + strconv.Itoa(tex),
			Positions:     src.pos,
			Colors:        [][]smath.Color4{src.colors},
			Faces:         src.faces,
			MaterialIndex: s.AddMaterial(mat),
		}
		m.AddTexCoords(src.uv, 2)
		if atlas != nil {
			m.AddTexCoords(src.lmUV, 2)
		}
		node.Meshes = append(node.Meshes, s.AddMesh(m))
	}
	s.SetMeta("gnd.size", fmt.Sprintf("%dx%d", g.Width, g.Height))
	return node
}

// gndWall emits a vertical quad between neighbouring tiles, falling back
// to the top surface's texture with a unit mapping.
func gndWall(g *GND, wallID, topID int32, wall [4]smath.Vec3, atlas *lightmapAtlas, get func(int) *gndMesh) {
	var (
		u, v [4]float32
		sf   *GNDSurface
	)
	if sf = g.surface(wallID); sf != nil {
		u, v = sf.U, sf.V
	} else if sf = g.surface(topID); sf != nil {
		u = [4]float32{0, 1, 0, 1}
		v = [4]float32{0, 0, 1, 1}
	} else {
		return
	}
	var c [4]gndCorner
	for k := range c {
		c[k] = gndCorner{
			pos:   wall[k],
			uv:    smath.Vec3{X: u[k], Y: v[k]},
			lmUV:  atlas.uv(sf.LightmapID, k),
			color: smath.White,
		}
	}
	get(int(sf.TextureID)).quad(c, [6]int{0, 2, 1, 1, 2, 3})
}
