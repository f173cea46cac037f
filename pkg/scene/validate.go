package scene

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrInvalidScene is wrapped by every validation failure.
var ErrInvalidScene = errors.New("invalid scene")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScene, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants every returned scene holds:
// index bounds, parallel array lengths, tree shape and texture
// references. All violations are combined into one error.
func Validate(s *Scene) error {
	if s.Released() {
		return invalid("scene has been released")
	}
	var err error
	err = multierr.Append(err, validateTree(s))
	for i, m := range s.Meshes {
		err = multierr.Append(err, validateMesh(s, i, m))
	}
	for i, t := range s.Textures {
		if t == nil {
			err = multierr.Append(err, invalid("texture %d is nil", i))
			continue
		}
		if e := t.Validate(); e != nil {
			err = multierr.Append(err, invalid("texture %d: %v", i, e))
		}
	}
	for i, m := range s.Materials {
		if m == nil {
			err = multierr.Append(err, invalid("material %d is nil", i))
			continue
		}
		for _, ref := range m.TextureRefs() {
			if ti, ok := ParseEmbeddedRef(ref.Path); ok && ti >= len(s.Textures) {
				err = multierr.Append(err, invalid("material %d references embedded texture %d of %d", i, ti, len(s.Textures)))
			}
		}
	}
	return err
}

// ValidateStrict runs Validate and additionally rejects non-finite
// vertex data, out-of-range bone weights, unsorted animation keys and
// animation channels naming nodes that do not exist.
func ValidateStrict(s *Scene) error {
	err := Validate(s)
	if err != nil && s.Released() {
		return err
	}
	for i, m := range s.Meshes {
		if m == nil {
			continue
		}
		err = multierr.Append(err, checkFinite(i, "position", m.Positions))
		err = multierr.Append(err, checkFinite(i, "normal", m.Normals))
		err = multierr.Append(err, checkFinite(i, "tangent", m.Tangents))
		for _, b := range m.Bones {
			for _, w := range b.Weights {
				if !(w.Weight >= 0 && w.Weight <= 1) {
					err = multierr.Append(err, invalid("mesh %d bone %q: weight %v outside [0,1]", i, b.Name, w.Weight))
					break
				}
			}
			if !b.Offset.IsFinite() {
				err = multierr.Append(err, invalid("mesh %d bone %q: non-finite offset matrix", i, b.Name))
			}
		}
	}
	for ai, a := range s.Animations {
		if a.Duration < 0 || a.TicksPerSecond < 0 {
			err = multierr.Append(err, invalid("animation %d: negative duration or tick rate", ai))
		}
		for _, ch := range a.Channels {
			if s.FindNode(ch.NodeName) == nil {
				err = multierr.Append(err, invalid("animation %d: channel targets unknown node %q", ai, ch.NodeName))
			}
			if !sortedVec(ch.PositionKeys) || !sortedVec(ch.ScalingKeys) || !sortedQuat(ch.RotationKeys) {
				err = multierr.Append(err, invalid("animation %d: channel %q keys out of order", ai, ch.NodeName))
			}
		}
	}
	return err
}

func validateTree(s *Scene) error {
	if s.Root == nil {
		return invalid("scene has no root node")
	}
	if s.Root.parent != nil {
		return invalid("root node %q has a parent", s.Root.Name)
	}
	var err error
	seen := make(map[*Node]bool)
	var visit func(n *Node)
	visit = func(n *Node) {
		if seen[n] {
			err = multierr.Append(err, invalid("node %q appears more than once in the tree", n.Name))
			return
		}
		seen[n] = true
		for _, mi := range n.Meshes {
			if mi < 0 || mi >= len(s.Meshes) {
				err = multierr.Append(err, invalid("node %q references mesh %d of %d", n.Name, mi, len(s.Meshes)))
			}
		}
		for _, c := range n.Children {
			if c == nil {
				err = multierr.Append(err, invalid("node %q has a nil child", n.Name))
				continue
			}
			if c.parent != n {
				err = multierr.Append(err, invalid("node %q: parent link does not match", c.Name))
			}
			visit(c)
		}
	}
	visit(s.Root)
	return err
}

func validateMesh(s *Scene, i int, m *Mesh) error {
	if m == nil {
		return invalid("mesh %d is nil", i)
	}
	var err error
	n := len(m.Positions)
	if n == 0 {
		err = multierr.Append(err, invalid("mesh %d has no vertices", i))
	}
	if len(m.Faces) == 0 {
		err = multierr.Append(err, invalid("mesh %d has no faces", i))
	}
	parallel := func(name string, l int) {
		if l != 0 && l != n {
			err = multierr.Append(err, invalid("mesh %d: %d %s for %d vertices", i, l, name, n))
		}
	}
	parallel("normals", len(m.Normals))
	parallel("tangents", len(m.Tangents))
	parallel("bitangents", len(m.Bitangents))
	if (len(m.Tangents) == 0) != (len(m.Bitangents) == 0) {
		err = multierr.Append(err, invalid("mesh %d: tangents and bitangents must be present together", i))
	}
	if len(m.Colors) > MaxColorSets {
		err = multierr.Append(err, invalid("mesh %d: %d color sets exceeds %d", i, len(m.Colors), MaxColorSets))
	}
	for ci, set := range m.Colors {
		parallel(fmt.Sprintf("colors[%d]", ci), len(set))
	}
	if len(m.TexCoords) > MaxTexCoordSets {
		err = multierr.Append(err, invalid("mesh %d: %d uv sets exceeds %d", i, len(m.TexCoords), MaxTexCoordSets))
	}
	if len(m.UVComponents) != len(m.TexCoords) {
		err = multierr.Append(err, invalid("mesh %d: %d uv component counts for %d uv sets", i, len(m.UVComponents), len(m.TexCoords)))
	}
	for ui, set := range m.TexCoords {
		parallel(fmt.Sprintf("uvs[%d]", ui), len(set))
	}
	for _, c := range m.UVComponents {
		if c < 1 || c > 3 {
			err = multierr.Append(err, invalid("mesh %d: invalid uv component count %d", i, c))
		}
	}
	for fi, f := range m.Faces {
		if len(f.Indices) == 0 {
			err = multierr.Append(err, invalid("mesh %d face %d is empty", i, fi))
			continue
		}
		for _, idx := range f.Indices {
			if idx < 0 || idx >= n {
				err = multierr.Append(err, invalid("mesh %d face %d: index %d out of range [0,%d)", i, fi, idx, n))
				break
			}
		}
	}
	if m.MaterialIndex < 0 || m.MaterialIndex >= len(s.Materials) {
		err = multierr.Append(err, invalid("mesh %d: material index %d of %d", i, m.MaterialIndex, len(s.Materials)))
	}
	for _, b := range m.Bones {
		for _, w := range b.Weights {
			if w.VertexID < 0 || w.VertexID >= n {
				err = multierr.Append(err, invalid("mesh %d bone %q: vertex %d out of range", i, b.Name, w.VertexID))
				break
			}
		}
	}
	return err
}

type finiter interface{ IsFinite() bool }

func checkFinite[T finiter](mesh int, what string, vs []T) error {
	for vi, v := range vs {
		if !v.IsFinite() {
			return invalid("mesh %d: non-finite %s at vertex %d", mesh, what, vi)
		}
	}
	return nil
}

func sortedVec(keys []VectorKey) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i].Time < keys[i-1].Time {
			return false
		}
	}
	return true
}

func sortedQuat(keys []QuatKey) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i].Time < keys[i-1].Time {
			return false
		}
	}
	return true
}
