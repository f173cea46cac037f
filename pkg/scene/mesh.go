package scene

import "github.com/Faultbox/scenekit/pkg/math"

// Limits on per-vertex attribute sets.
const (
	MaxColorSets    = 8
	MaxTexCoordSets = 8
)

// PrimitiveType is a bitmask describing the face sizes present in a mesh.
type PrimitiveType uint8

const (
	PrimitivePoint PrimitiveType = 1 << iota
	PrimitiveLine
	PrimitiveTriangle
	PrimitivePolygon
)

// Face is an ordered list of vertex indices. Winding order is significant.
type Face struct {
	Indices []int
}

// VertexWeight binds one vertex to a bone.
type VertexWeight struct {
	VertexID int
	Weight   float32
}

// Bone influences a set of mesh vertices.
type Bone struct {
	Name    string
	Weights []VertexWeight
	Offset  math.Mat4
}

// Mesh holds geometry using a single material. Every per-vertex array is
// either empty or exactly as long as Positions.
type Mesh struct {
	Name       string
	Positions  []math.Vec3
	Normals    []math.Vec3
	Tangents   []math.Vec3
	Bitangents []math.Vec3
	Colors     [][]math.Color4
	TexCoords  [][]math.Vec3
	// UVComponents holds the number of meaningful components per TexCoords set.
	UVComponents   []int
	Faces          []Face
	Bones          []*Bone
	MaterialIndex  int
	AABB           AABB
	PrimitiveTypes PrimitiveType
}

// NumVertices returns the vertex count.
func (m *Mesh) NumVertices() int {
	return len(m.Positions)
}

// HasNormals reports whether the mesh has per-vertex normals.
func (m *Mesh) HasNormals() bool {
	return len(m.Normals) > 0
}

// HasTangents reports whether the mesh has a tangent frame.
func (m *Mesh) HasTangents() bool {
	return len(m.Tangents) > 0 && len(m.Bitangents) > 0
}

// HasTexCoords reports whether UV set i is present.
func (m *Mesh) HasTexCoords(i int) bool {
	return i < len(m.TexCoords) && len(m.TexCoords[i]) > 0
}

// AddTexCoords appends a UV set with the given component count.
func (m *Mesh) AddTexCoords(uv []math.Vec3, components int) {
	m.TexCoords = append(m.TexCoords, uv)
	m.UVComponents = append(m.UVComponents, components)
}

// AddTriangle appends a triangle face.
func (m *Mesh) AddTriangle(a, b, c int) {
	m.Faces = append(m.Faces, Face{Indices: []int{a, b, c}})
}

// UpdatePrimitiveTypes recomputes PrimitiveTypes from the faces.
func (m *Mesh) UpdatePrimitiveTypes() {
	var pt PrimitiveType
	for _, f := range m.Faces {
		switch len(f.Indices) {
		case 0:
		case 1:
			pt |= PrimitivePoint
		case 2:
			pt |= PrimitiveLine
		case 3:
			pt |= PrimitiveTriangle
		default:
			pt |= PrimitivePolygon
		}
	}
	m.PrimitiveTypes = pt
}

// ComputeAABB returns the bounds of the mesh positions.
func (m *Mesh) ComputeAABB() AABB {
	box := EmptyAABB()
	for _, p := range m.Positions {
		box = box.Extend(p)
	}
	if box.IsEmpty() {
		return AABB{}
	}
	return box
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := *m
	c.Positions = append([]math.Vec3(nil), m.Positions...)
	c.Normals = append([]math.Vec3(nil), m.Normals...)
	c.Tangents = append([]math.Vec3(nil), m.Tangents...)
	c.Bitangents = append([]math.Vec3(nil), m.Bitangents...)
	c.Colors = nil
	for _, set := range m.Colors {
		c.Colors = append(c.Colors, append([]math.Color4(nil), set...))
	}
	c.TexCoords = nil
	for _, set := range m.TexCoords {
		c.TexCoords = append(c.TexCoords, append([]math.Vec3(nil), set...))
	}
	c.UVComponents = append([]int(nil), m.UVComponents...)
	c.Faces = make([]Face, len(m.Faces))
	for i, f := range m.Faces {
		c.Faces[i] = Face{Indices: append([]int(nil), f.Indices...)}
	}
	c.Bones = nil
	for _, b := range m.Bones {
		nb := *b
		nb.Weights = append([]VertexWeight(nil), b.Weights...)
		c.Bones = append(c.Bones, &nb)
	}
	return &c
}
