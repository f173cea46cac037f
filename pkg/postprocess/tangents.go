package postprocess

import (
	"context"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// calcTangentSpace derives per-vertex tangents and bitangents from the
// UV gradients of UV set 0. Meshes without normals or UVs are skipped
// with a warning. Only triangle faces contribute. The tangent is made
// orthogonal to the normal and the bitangent is rebuilt from both, keeping
// the handedness of the UV mapping.
func (p *Pipeline) calcTangentSpace(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		if !m.HasNormals() || !m.HasTexCoords(0) {
			p.log.Warn("tangent space needs normals and uv set 0, skipping mesh",
				zap.String("mesh", m.Name),
				zap.Bool("normals", m.HasNormals()),
				zap.Bool("uvs", m.HasTexCoords(0)))
			return nil
		}
		n := m.NumVertices()
		uv := m.TexCoords[0]
		tan := make([]math.Vec3, n)
		btan := make([]math.Vec3, n)

		for _, f := range m.Faces {
			if len(f.Indices) != 3 {
				continue
			}
			i0, i1, i2 := f.Indices[0], f.Indices[1], f.Indices[2]
			e1 := m.Positions[i1].Sub(m.Positions[i0])
			e2 := m.Positions[i2].Sub(m.Positions[i0])
			du1, dv1 := uv[i1].X-uv[i0].X, uv[i1].Y-uv[i0].Y
			du2, dv2 := uv[i2].X-uv[i0].X, uv[i2].Y-uv[i0].Y

			det := du1*dv2 - dv1*du2
			if math32.Abs(det) < 1e-12 {
				continue
			}
			r := 1 / det
			t := e1.Scale(dv2 * r).Sub(e2.Scale(dv1 * r))
			b := e2.Scale(du1 * r).Sub(e1.Scale(du2 * r))
			for _, vi := range f.Indices {
				tan[vi] = tan[vi].Add(t)
				btan[vi] = btan[vi].Add(b)
			}
		}

		for i := range tan {
			nrm := m.Normals[i]
			t := tan[i].Sub(nrm.Scale(nrm.Dot(tan[i]))).Normalize()
			if t == (math.Vec3{}) {
				t = anyPerpendicular(nrm)
			}
			b := nrm.Cross(t)
			if b.Dot(btan[i]) < 0 {
				b = b.Neg()
			}
			tan[i], btan[i] = t, b
		}
		m.Tangents = tan
		m.Bitangents = btan
		return nil
	})
}

// anyPerpendicular returns a unit vector orthogonal to n.
func anyPerpendicular(n math.Vec3) math.Vec3 {
	axis := math.Vec3{X: 1}
	if math32.Abs(n.X) > 0.9 {
		axis = math.Vec3{Y: 1}
	}
	return axis.Sub(n.Scale(n.Dot(axis))).Normalize()
}
