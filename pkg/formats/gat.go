package formats

import (
	"bytes"
	"fmt"
	"strconv"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const gatFormat = "gat"

var gatMagic = []byte("GRAT")

const (
	gatCellSize   = 20
	gatMaxSide    = 4096
	gatCellExtent = 5 // world units; half a ground tile
)

// GATVersion represents the GAT file version.
type GATVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v GATVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// GATCellType is the walkability class of a cell.
type GATCellType uint32

const (
	GATWalkable      GATCellType = 0
	GATBlocked       GATCellType = 1
	GATWater         GATCellType = 2
	GATWalkableWater GATCellType = 3
	GATSnipeable     GATCellType = 4
	GATBlockedSnipe  GATCellType = 5
)

// String returns a human-readable cell type name.
func (t GATCellType) String() string {
	switch t {
	case GATWalkable:
		return "walkable"
	case GATBlocked:
		return "blocked"
	case GATWater:
		return "water"
	case GATWalkableWater:
		return "walkable_water"
	case GATSnipeable:
		return "snipeable"
	case GATBlockedSnipe:
		return "blocked_snipe"
	default:
		return "unknown_" + strconv.Itoa(int(t))
	}
}

// IsWalkable returns true if the cell type allows walking.
func (t GATCellType) IsWalkable() bool {
	return t == GATWalkable || t == GATWalkableWater
}

// IsWater returns true if the cell contains water.
func (t GATCellType) IsWater() bool {
	return t == GATWater || t == GATWalkableWater
}

// color is the debug colour a cell type is rendered with.
func (t GATCellType) color() smath.Color4 {
	switch {
	case t.IsWater():
		return smath.Color4{R: 0.2, G: 0.4, B: 0.9, A: 1}
	case t.IsWalkable():
		return smath.Color4{R: 0.3, G: 0.8, B: 0.3, A: 1}
	case t == GATSnipeable:
		return smath.Color4{R: 0.9, G: 0.8, B: 0.2, A: 1}
	default:
		return smath.Color4{R: 0.8, G: 0.2, B: 0.2, A: 1}
	}
}

// GATCell is one cell; corners are bottom-left, bottom-right, top-left,
// top-right.
type GATCell struct {
	Heights [4]float32
	Type    GATCellType
}

// GAT is a parsed ground altitude table.
type GAT struct {
	Version GATVersion
	Width   int
	Height  int
	Cells   []GATCell
}

// Cell returns the cell at x, y or nil when out of range.
func (g *GAT) Cell(x, y int) *GATCell {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return nil
	}
	return &g.Cells[y*g.Width+x]
}

// CountByType returns the cell count per type.
func (g *GAT) CountByType() map[GATCellType]int {
	counts := make(map[GATCellType]int)
	for _, c := range g.Cells {
		counts[c.Type]++
	}
	return counts
}

// ParseGAT parses GAT data. Versions 1.x through 3.x share one cell layout.
func ParseGAT(data []byte) (*GAT, error) {
	r := newReader(gatFormat, data)
	if !r.need(6) {
		return nil, r.Err()
	}
	if !bytes.Equal(r.bytes(4), gatMagic) {
		return nil, errAt(gatFormat, 0, ErrInvalidMagic)
	}
	g := &GAT{}
	g.Version.Minor, g.Version.Major = r.u8(), r.u8()
	if g.Version.Major < 1 || g.Version.Major > 3 {
		return nil, errAt(gatFormat, 4, wrapf(ErrUnsupportedVersion, "version %s", g.Version))
	}
	w, h := r.u32(), r.u32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if w == 0 || h == 0 || w > gatMaxSide || h > gatMaxSide {
		return nil, errAt(gatFormat, 6, wrapf(ErrMalformed, "dimensions %dx%d", w, h))
	}
	g.Width, g.Height = int(w), int(h)
	g.Cells = make([]GATCell, r.count(int64(w)*int64(h), gatCellSize, "cells"))
	for i := range g.Cells {
		c := &g.Cells[i]
		for k := range c.Heights {
			c.Heights[k] = r.f32()
		}
		c.Type = GATCellType(r.u32())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// GATDecoder converts altitude tables into a walkability mesh: one mesh
// per cell type, each cell a quad at its corner heights.
type GATDecoder struct{}

// Info describes the decoder.
func (GATDecoder) Info() Info {
	return Info{Name: gatFormat, Description: "Ragnarok Online altitude table", Extensions: []string{".gat"}}
}

// Probe checks the GRAT magic.
func (GATDecoder) Probe(header []byte, _ string) Match {
	if bytes.HasPrefix(header, gatMagic) {
		return MatchSignature
	}
	return MatchNone
}

// Decode parses req.Data.
func (GATDecoder) Decode(req *Request) (*scene.Scene, error) {
	g, err := ParseGAT(req.Data)
	if err != nil {
		return nil, err
	}
	s := newScene(req, gatFormat, g.Version.String())

	meshes := make(map[GATCellType]*scene.Mesh)
	var order []GATCellType
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			c := g.Cell(x, y)
			m, ok := meshes[c.Type]
			if !ok {
				mat := scene.NewMaterial(c.Type.String())
				mat.SetColor(scene.KeyColorDiffuse, c.Type.color())
				m = &scene.Mesh{Name: "gat_" + c.Type.String(), MaterialIndex: s.AddMaterial(mat)}
				meshes[c.Type] = m
				order = append(order, c.Type)
			}
			bx, bz := float32(x*gatCellExtent), float32(y*gatCellExtent)
			base := len(m.Positions)
			m.Positions = append(m.Positions,
				smath.Vec3{X: bx, Y: -c.Heights[0], Z: bz + gatCellExtent},
				smath.Vec3{X: bx + gatCellExtent, Y: -c.Heights[1], Z: bz + gatCellExtent},
				smath.Vec3{X: bx, Y: -c.Heights[2], Z: bz},
				smath.Vec3{X: bx + gatCellExtent, Y: -c.Heights[3], Z: bz},
			)
			m.Faces = append(m.Faces,
				scene.Face{Indices: []int{base, base + 1, base + 2}},
				scene.Face{Indices: []int{base + 2, base + 1, base + 3}},
			)
		}
	}
	node := scene.NewNode("walkability")
	for _, t := range order {
		node.Meshes = append(node.Meshes, s.AddMesh(meshes[t]))
	}
	s.Root.AddChild(node)
	s.SetMeta("gat.size", fmt.Sprintf("%dx%d", g.Width, g.Height))
	finishMeshes(s)
	return s, nil
}
