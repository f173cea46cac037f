package postprocess

import (
	"sort"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// twoTriangleQuad is the unit quad stored as two triangles with every
// corner duplicated, as unindexed exporters write it.
func twoTriangleQuad() *scene.Mesh {
	return &scene.Mesh{
		Name: "soup",
		Positions: []math.Vec3{
			v3(0, 0, 0), v3(1, 0, 0), v3(1, 1, 0),
			v3(0, 0, 0), v3(1, 1, 0), v3(0, 1, 0),
		},
		Faces: []scene.Face{{Indices: []int{0, 1, 2}}, {Indices: []int{3, 4, 5}}},
	}
}

// triangles returns each face as its three positions, sorted so that two
// meshes describing the same triangles compare equal.
func triangles(m *scene.Mesh) [][3]math.Vec3 {
	var out [][3]math.Vec3
	for _, f := range m.Faces {
		out = append(out, [3]math.Vec3{m.Positions[f.Indices[0]], m.Positions[f.Indices[1]], m.Positions[f.Indices[2]]})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for k := range 3 {
			if a[k] != b[k] {
				if a[k].X != b[k].X {
					return a[k].X < b[k].X
				}
				if a[k].Y != b[k].Y {
					return a[k].Y < b[k].Y
				}
				return a[k].Z < b[k].Z
			}
		}
		return false
	})
	return out
}

func area(m *scene.Mesh, f scene.Face) math.Vec3 {
	a, b, c := m.Positions[f.Indices[0]], m.Positions[f.Indices[1]], m.Positions[f.Indices[2]]
	return b.Sub(a).Cross(c.Sub(a)).Scale(0.5)
}

func TestTriangulate_Quad(t *testing.T) {
	s := newScene(unitQuad())
	run(t, s, Triangulate)
	m := s.Meshes[0]

	require.Len(t, m.Faces, 2)
	used := map[int]bool{}
	for _, f := range m.Faces {
		require.Len(t, f.Indices, 3)
		assert.Greater(t, area(m, f).Z, float32(0), "winding must stay counter-clockwise")
		for _, i := range f.Indices {
			used[i] = true
		}
	}
	assert.Len(t, used, 4, "triangles must cover the quad's four vertices")
	assert.Equal(t, scene.PrimitiveTriangle, m.PrimitiveTypes)
}

func TestTriangulate_ConcavePolygon(t *testing.T) {
	// an L shape in the XZ plane, counter-clockwise seen from +Y
	m := &scene.Mesh{
		Positions: []math.Vec3{
			v3(0, 0, 0), v3(0, 0, -2), v3(1, 0, -2), v3(1, 0, -1), v3(2, 0, -1), v3(2, 0, 0),
		},
		Faces: []scene.Face{{Indices: []int{0, 5, 4, 3, 2, 1}}},
	}
	s := newScene(m)
	run(t, s, Triangulate)

	require.Len(t, m.Faces, 4)
	var total math.Vec3
	for _, f := range m.Faces {
		a := area(m, f)
		assert.Greater(t, a.Y, float32(0), "triangle %v flips the winding", f.Indices)
		total = total.Add(a)
	}
	assert.InDelta(t, 3, total.Y, 1e-5, "triangles must tile the polygon")
}

func TestTriangulate_Idempotent(t *testing.T) {
	m := &scene.Mesh{
		Positions: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(2, 1, 0), v3(1, 2, 0), v3(0, 1, 0)},
		Faces: []scene.Face{
			{Indices: []int{0, 1, 2, 3, 4}},
			{Indices: []int{0, 1}},
			{Indices: []int{2}},
		},
	}
	s := newScene(m)
	run(t, s, Triangulate)
	once := s.Clone()
	run(t, s, Triangulate)

	assert.Equal(t, once.Meshes[0].Faces, s.Meshes[0].Faces)
	assert.Len(t, s.Meshes[0].Faces, 5)
	assert.Equal(t, scene.PrimitivePoint|scene.PrimitiveLine|scene.PrimitiveTriangle, s.Meshes[0].PrimitiveTypes)
}

func TestGenNormals_Flat(t *testing.T) {
	// two triangles folded along the shared edge 0-2
	m := &scene.Mesh{
		Positions: []math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0), v3(0, 0, 1)},
		Faces:     []scene.Face{{Indices: []int{0, 1, 2}}, {Indices: []int{0, 2, 3}}},
	}
	m.AddTexCoords([]math.Vec3{v3(0, 0, 0), v3(1, 0, 0), v3(0, 1, 0), v3(1, 1, 0)}, 2)
	s := newScene(m)
	run(t, s, GenNormals)

	require.Equal(t, 6, m.NumVertices(), "shared corners are split")
	require.Len(t, m.Normals, 6)
	require.Len(t, m.TexCoords[0], 6)
	for _, vi := range m.Faces[0].Indices {
		assert.Equal(t, v3(0, 0, 1), m.Normals[vi])
	}
	for _, vi := range m.Faces[1].Indices {
		assert.Equal(t, v3(1, 0, 0), m.Normals[vi])
	}
	assert.NoError(t, scene.Validate(s))
}

func TestGenNormals_SkipsExisting(t *testing.T) {
	m := unitQuad()
	m.Normals = []math.Vec3{v3(0, 1, 0), v3(0, 1, 0), v3(0, 1, 0), v3(0, 1, 0)}
	s := newScene(m)
	run(t, s, GenSmoothNormals)
	assert.Equal(t, v3(0, 1, 0), m.Normals[2])
}

func TestGenSmoothNormals(t *testing.T) {
	m := twoTriangleQuad()
	// tilt one corner so the two triangles are not coplanar
	m.Positions[5].Z = 1
	m.Positions = append(m.Positions, v3(5, 5, 5)) // unreferenced
	s := newScene(m)
	run(t, s, GenSmoothNormals)

	require.Len(t, m.Normals, m.NumVertices())
	// duplicated corners at the same position share one normal
	assert.Equal(t, m.Normals[0], m.Normals[3])
	assert.Equal(t, m.Normals[2], m.Normals[4])
	assert.InDelta(t, 1, m.Normals[0].Length(), 1e-5)
	assert.NotEqual(t, m.Normals[1], m.Normals[0], "corner 1 only sees the flat triangle")
	assert.Equal(t, math.Vec3{}, m.Normals[6])
}

func TestCalcTangentSpace(t *testing.T) {
	s := newScene(unitQuad())
	run(t, s, Triangulate|GenNormals|CalcTangentSpace)
	m := s.Meshes[0]

	require.True(t, m.HasTangents())
	for i := range m.Tangents {
		assert.InDelta(t, 1, m.Tangents[i].X, 1e-5)
		assert.InDelta(t, 1, m.Bitangents[i].Y, 1e-5)
		assert.InDelta(t, 0, m.Tangents[i].Dot(m.Normals[i]), 1e-5)
	}

	// mirrored UVs flip the bitangent
	s = newScene(unitQuad())
	for i := range s.Meshes[0].TexCoords[0] {
		s.Meshes[0].TexCoords[0][i].Y = -s.Meshes[0].TexCoords[0][i].Y
	}
	run(t, s, Triangulate|GenNormals|CalcTangentSpace)
	assert.InDelta(t, -1, s.Meshes[0].Bitangents[0].Y, 1e-5)
}

func TestCalcTangentSpace_SkipsWithoutUVs(t *testing.T) {
	s := newScene(twoTriangleQuad())
	run(t, s, GenSmoothNormals|CalcTangentSpace)
	assert.False(t, s.Meshes[0].HasTangents())
}

func TestJoinIdenticalVertices(t *testing.T) {
	m := twoTriangleQuad()
	before := triangles(m)
	s := newScene(m)
	run(t, s, JoinIdenticalVertices)

	assert.Equal(t, 4, m.NumVertices())
	assert.Equal(t, before, triangles(m), "joining must not change the triangles")
	assert.Equal(t, []int{0, 1, 2}, m.Faces[0].Indices)
	assert.Equal(t, []int{0, 2, 3}, m.Faces[1].Indices)
}

func TestJoinIdenticalVertices_AttributesMustMatch(t *testing.T) {
	m := twoTriangleQuad()
	m.AddTexCoords(make([]math.Vec3, 6), 2)
	m.TexCoords[0][3] = v3(0.5, 0, 0) // position 0 seam
	s := newScene(m)
	run(t, s, JoinIdenticalVertices)
	assert.Equal(t, 5, m.NumVertices(), "the uv seam keeps its duplicate")
}

func TestJoinIdenticalVertices_Epsilon(t *testing.T) {
	m := twoTriangleQuad()
	m.Positions[3] = v3(0.00001, 0, 0)
	s := newScene(m)

	exact := s.Clone()
	run(t, exact, JoinIdenticalVertices)
	assert.Equal(t, 5, exact.Meshes[0].NumVertices())

	p := New(Config{Epsilon: 0.001})
	require.NoError(t, p.Run(t.Context(), s, JoinIdenticalVertices))
	assert.Equal(t, 4, s.Meshes[0].NumVertices())
}

func TestJoinIdenticalVertices_BoneWeights(t *testing.T) {
	m := twoTriangleQuad()
	m.Bones = []*scene.Bone{{
		Name:    "hip",
		Offset:  math.Identity(),
		Weights: []scene.VertexWeight{{VertexID: 0, Weight: 1}, {VertexID: 3, Weight: 1}, {VertexID: 2, Weight: 0.5}},
	}}
	s := newScene(m)
	run(t, s, JoinIdenticalVertices)

	// 2 and 4 share a position but only 2 is weighted
	assert.Equal(t, 5, m.NumVertices())
	assert.ElementsMatch(t, []scene.VertexWeight{{VertexID: 0, Weight: 1}, {VertexID: 2, Weight: 0.5}}, m.Bones[0].Weights)
	assert.NoError(t, scene.Validate(s))
}

func TestJoinIdenticalVertices_ToleratesNaN(t *testing.T) {
	bad := twoTriangleQuad()
	bad.Positions[1].Y = math32.Inf(1)
	good := twoTriangleQuad()
	s := newScene(bad, good)
	run(t, s, JoinIdenticalVertices)

	assert.Equal(t, 6, bad.NumVertices(), "non-finite mesh is left as is")
	assert.Equal(t, 4, good.NumVertices())
}

func TestJoinIdenticalVertices_NeverGrows(t *testing.T) {
	for _, m := range []*scene.Mesh{unitQuad(), twoTriangleQuad()} {
		s := newScene(m)
		run(t, s, Triangulate|GenNormals)
		before := m.NumVertices()
		tris := triangles(m)
		run(t, s, JoinIdenticalVertices)
		assert.LessOrEqual(t, m.NumVertices(), before, "mesh %s", m.Name)
		assert.Equal(t, tris, triangles(m), "mesh %s", m.Name)
	}
}
