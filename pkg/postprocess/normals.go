package postprocess

import (
	"context"

	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// genFlatNormals gives every face its own normal. A vertex used by more
// than one face is duplicated so each copy carries the normal of one face.
// Meshes that already have normals are left alone. Point and line faces
// and unreferenced vertices get a zero normal.
func (p *Pipeline) genFlatNormals(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		if m.HasNormals() {
			p.log.Debug("mesh already has normals", zap.String("mesh", m.Name))
			return nil
		}
		n := m.NumVertices()
		used := make([]bool, n)
		src := make([]int, n, n+len(m.Faces))
		for i := range src {
			src[i] = i
		}
		for _, f := range m.Faces {
			for k, vi := range f.Indices {
				if !used[vi] {
					used[vi] = true
					continue
				}
				f.Indices[k] = len(src)
				src = append(src, vi)
			}
		}
		if len(src) > n {
			rebuildVertices(m, src)
		}

		normals := make([]math.Vec3, len(src))
		for _, f := range m.Faces {
			fn := faceNormal(m.Positions, f.Indices).Normalize()
			for _, vi := range f.Indices {
				normals[vi] = fn
			}
		}
		m.Normals = normals
		return nil
	})
}

// genSmoothNormals averages area-weighted face normals over all vertices
// sharing a position, so split seams still shade smoothly. Meshes that
// already have normals are left alone.
func (p *Pipeline) genSmoothNormals(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		if m.HasNormals() {
			p.log.Debug("mesh already has normals", zap.String("mesh", m.Name))
			return nil
		}
		sums := make(map[math.Vec3]math.Vec3)
		for _, f := range m.Faces {
			fn := faceNormal(m.Positions, f.Indices)
			for _, vi := range f.Indices {
				key := m.Positions[vi]
				sums[key] = sums[key].Add(fn)
			}
		}

		referenced := make([]bool, m.NumVertices())
		for _, f := range m.Faces {
			for _, vi := range f.Indices {
				referenced[vi] = true
			}
		}
		normals := make([]math.Vec3, m.NumVertices())
		for i, pos := range m.Positions {
			if referenced[i] {
				normals[i] = sums[pos].Normalize()
			}
		}
		m.Normals = normals
		return nil
	})
}
