package postprocess

import (
	"context"
	"encoding/binary"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// joinIdenticalVertices merges vertices whose complete attribute tuple
// (position, normal, tangent frame, every color and uv set, bone weights)
// matches, then reindexes faces. With a non-zero Epsilon components are
// compared on an Epsilon grid; otherwise they must be bit-identical.
// The surviving vertex of each group is the lowest-numbered one, so the
// vertex count never grows.
//
// The pass tolerates bad input: a mesh holding NaN or infinite attribute
// values is left unjoined and logged instead of failing the import.
func (p *Pipeline) joinIdenticalVertices(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		if !finiteMesh(m) {
			p.log.Warn("mesh has non-finite vertex data, not joining", zap.String("mesh", m.Name))
			return nil
		}
		n := m.NumVertices()
		weights := vertexWeights(m)
		k := keyer{eps: p.cfg.Epsilon}

		first := make(map[string]int, n)
		remap := make([]int, n)
		src := make([]int, 0, n)
		for v := 0; v < n; v++ {
			key := k.vertex(m, v, weights[v])
			if j, ok := first[key]; ok {
				remap[v] = j
				continue
			}
			first[key] = len(src)
			remap[v] = len(src)
			src = append(src, v)
		}
		if len(src) == n {
			return nil
		}

		for _, f := range m.Faces {
			for i, vi := range f.Indices {
				f.Indices[i] = remap[vi]
			}
		}
		// joined vertices have identical weights, so only the survivor's
		// weights are kept
		for _, b := range m.Bones {
			kept := b.Weights[:0]
			for _, w := range b.Weights {
				if src[remap[w.VertexID]] == w.VertexID {
					kept = append(kept, w)
				}
			}
			b.Weights = kept
		}
		rebuildVertices(m, src)
		p.log.Debug("joined vertices",
			zap.String("mesh", m.Name),
			zap.Int("before", n),
			zap.Int("after", len(src)))
		return nil
	})
}

type boneWeight struct {
	bone   int
	weight float32
}

func vertexWeights(m *scene.Mesh) [][]boneWeight {
	out := make([][]boneWeight, m.NumVertices())
	for bi, b := range m.Bones {
		for _, w := range b.Weights {
			out[w.VertexID] = append(out[w.VertexID], boneWeight{bi, w.Weight})
		}
	}
	return out
}

func finiteMesh(m *scene.Mesh) bool {
	for _, vs := range [][]math.Vec3{m.Positions, m.Normals, m.Tangents, m.Bitangents} {
		for _, v := range vs {
			if !v.IsFinite() {
				return false
			}
		}
	}
	for _, set := range m.TexCoords {
		for _, v := range set {
			if !v.IsFinite() {
				return false
			}
		}
	}
	for _, set := range m.Colors {
		for _, c := range set {
			if !c.IsFinite() {
				return false
			}
		}
	}
	return true
}

// keyer builds comparable vertex keys.
type keyer struct {
	eps float32
	buf []byte
}

func (k *keyer) vertex(m *scene.Mesh, v int, weights []boneWeight) string {
	k.buf = k.buf[:0]
	k.vec(m.Positions[v])
	if m.HasNormals() {
		k.vec(m.Normals[v])
	}
	if m.HasTangents() {
		k.vec(m.Tangents[v])
		k.vec(m.Bitangents[v])
	}
	for _, set := range m.Colors {
		if len(set) == 0 {
			continue
		}
		c := set[v]
		k.float(c.R)
		k.float(c.G)
		k.float(c.B)
		k.float(c.A)
	}
	for _, set := range m.TexCoords {
		if len(set) > 0 {
			k.vec(set[v])
		}
	}
	for _, w := range weights {
		k.buf = binary.LittleEndian.AppendUint32(k.buf, uint32(w.bone))
		k.buf = binary.LittleEndian.AppendUint32(k.buf, math32.Float32bits(w.weight))
	}
	return string(k.buf)
}

func (k *keyer) vec(v math.Vec3) {
	k.float(v.X)
	k.float(v.Y)
	k.float(v.Z)
}

func (k *keyer) float(f float32) {
	if k.eps > 0 {
		q := int64(math32.Round(f / k.eps))
		k.buf = binary.LittleEndian.AppendUint64(k.buf, uint64(q))
		return
	}
	if f == 0 {
		// +0 and -0 compare equal
		f = 0
	}
	k.buf = binary.LittleEndian.AppendUint32(k.buf, math32.Float32bits(f))
}
