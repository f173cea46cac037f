package formats

import (
	"github.com/chewxy/math32"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// newScene creates an empty scene tagged with its source format.
func newScene(req *Request, format, version string) *scene.Scene {
	s := scene.New(baseName(req.Name))
	s.Name = baseName(req.Name)
	s.SetMeta(scene.MetaFormat, format)
	if version != "" {
		s.SetMeta(scene.MetaVersion, version)
	}
	s.SetMeta(scene.MetaUpAxis, "y")
	return s
}

// zUpToYUp converts a Z-up source to the canonical Y-up frame by
// rotating the root node.
func zUpToYUp(s *scene.Scene) {
	s.Root.Transform = smath.RotateX(-math32.Pi / 2).Mul(s.Root.Transform)
	s.SetMeta(scene.MetaUpAxis, "z")
}

// finishMeshes fills derived mesh fields and guarantees every mesh has a
// valid material index.
func finishMeshes(s *scene.Scene) {
	needDefault := len(s.Materials) == 0
	for _, m := range s.Meshes {
		if m.MaterialIndex < 0 || m.MaterialIndex >= len(s.Materials) {
			needDefault = true
		}
	}
	def := -1
	if needDefault {
		def = s.AddMaterial(scene.DefaultMaterial())
	}
	for _, m := range s.Meshes {
		if m.MaterialIndex < 0 || m.MaterialIndex >= len(s.Materials) {
			m.MaterialIndex = def
		}
		m.UpdatePrimitiveTypes()
	}
}

// attachMeshes hangs every mesh off the root node when the format has no
// hierarchy of its own.
func attachMeshes(s *scene.Scene) {
	for i := range s.Meshes {
		s.Root.Meshes = append(s.Root.Meshes, i)
	}
}

func baseName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' || name[i] == '\\' {
			return name[i+1:]
		}
	}
	return name
}

// vertexKey identifies a unique combination of source attribute indices.
// -1 marks an absent attribute.
type vertexKey struct {
	pos, uv, normal, color int
}

// meshBuilder assembles a mesh from formats that index each attribute
// separately, emitting one output vertex per distinct attribute tuple.
type meshBuilder struct {
	mesh  *scene.Mesh
	index map[vertexKey]int

	uvs     []smath.Vec3
	normals []smath.Vec3
	colors  []smath.Color4
	anyUV   bool
	anyNorm bool
	anyCol  bool
	// uvDims is the UV component count reported for the set, at least 2.
	uvDims int
}

func newMeshBuilder(name string, material int) *meshBuilder {
	return &meshBuilder{
		mesh:  &scene.Mesh{Name: name, MaterialIndex: material},
		index: make(map[vertexKey]int),
	}
}

// vertex returns the output index for key, appending a new vertex the
// first time the key is seen.
func (b *meshBuilder) vertex(key vertexKey, pos, uv, normal smath.Vec3, color smath.Color4) int {
	if i, ok := b.index[key]; ok {
		return i
	}
	i := len(b.mesh.Positions)
	b.mesh.Positions = append(b.mesh.Positions, pos)
	b.uvs = append(b.uvs, uv)
	b.normals = append(b.normals, normal)
	b.colors = append(b.colors, color)
	b.anyUV = b.anyUV || key.uv >= 0
	b.anyNorm = b.anyNorm || key.normal >= 0
	b.anyCol = b.anyCol || key.color >= 0
	b.index[key] = i
	return i
}

func (b *meshBuilder) face(indices ...int) {
	b.mesh.Faces = append(b.mesh.Faces, scene.Face{Indices: indices})
}

func (b *meshBuilder) empty() bool {
	return len(b.mesh.Faces) == 0
}

// build returns the mesh, dropping attribute arrays no vertex supplied.
func (b *meshBuilder) build() *scene.Mesh {
	m := b.mesh
	if b.anyNorm {
		m.Normals = b.normals
	}
	if b.anyUV {
		m.AddTexCoords(b.uvs, max(b.uvDims, 2))
	}
	if b.anyCol {
		m.Colors = [][]smath.Color4{b.colors}
	}
	m.UpdatePrimitiveTypes()
	return m
}
