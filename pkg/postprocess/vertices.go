package postprocess

import (
	"github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// rebuildVertices replaces every per-vertex array of m so that new vertex
// i is a copy of old vertex src[i]. Bone weights follow their vertices.
// Faces are not touched; callers remap them.
func rebuildVertices(m *scene.Mesh, src []int) {
	m.Positions = gather(m.Positions, src)
	m.Normals = gather(m.Normals, src)
	m.Tangents = gather(m.Tangents, src)
	m.Bitangents = gather(m.Bitangents, src)
	for i := range m.Colors {
		m.Colors[i] = gather(m.Colors[i], src)
	}
	for i := range m.TexCoords {
		m.TexCoords[i] = gather(m.TexCoords[i], src)
	}
	if len(m.Bones) == 0 {
		return
	}

	// old vertex -> new vertices created from it
	copies := make(map[int][]int, len(src))
	for newID, oldID := range src {
		copies[oldID] = append(copies[oldID], newID)
	}
	for _, b := range m.Bones {
		weights := make([]scene.VertexWeight, 0, len(b.Weights))
		for _, w := range b.Weights {
			for _, newID := range copies[w.VertexID] {
				weights = append(weights, scene.VertexWeight{VertexID: newID, Weight: w.Weight})
			}
		}
		b.Weights = weights
	}
}

func gather[T any](in []T, src []int) []T {
	if len(in) == 0 {
		return in
	}
	out := make([]T, len(src))
	for i, s := range src {
		out[i] = in[s]
	}
	return out
}

// faceNormal returns the unnormalized Newell normal of a face. Its length
// is twice the face area, so summing these weights by area.
func faceNormal(pos []math.Vec3, idx []int) math.Vec3 {
	var n math.Vec3
	if len(idx) < 3 {
		return n
	}
	for i := range idx {
		cur := pos[idx[i]]
		next := pos[idx[(i+1)%len(idx)]]
		n.X += (cur.Y - next.Y) * (cur.Z + next.Z)
		n.Y += (cur.Z - next.Z) * (cur.X + next.X)
		n.Z += (cur.X - next.X) * (cur.Y + next.Y)
	}
	return n
}
