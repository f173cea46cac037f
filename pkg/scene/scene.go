// Package scene defines the intermediate scene representation every format
// decoder produces and every post-processing pass consumes.
//
// A Scene exclusively owns its meshes, materials, textures, animations,
// cameras, lights and node tree. Nodes reference meshes by index into
// Scene.Meshes and meshes reference materials by index into Scene.Materials;
// no component holds a pointer into another component's storage.
package scene

import (
	"sync/atomic"

	"github.com/Faultbox/scenekit/pkg/math"
)

// Metadata keys recorded by decoders.
const (
	MetaFormat  = "format"
	MetaVersion = "version"
	MetaUpAxis  = "up_axis"
	MetaSource  = "source"
)

// Scene is the root of an imported asset.
type Scene struct {
	Name       string
	Root       *Node
	Meshes     []*Mesh
	Materials  []*Material
	Textures   []*Texture
	Animations []*Animation
	Cameras    []*Camera
	Lights     []*Light
	Metadata   map[string]string

	released atomic.Bool
}

// New returns an empty scene with a root node of the given name.
func New(rootName string) *Scene {
	return &Scene{
		Root:     NewNode(rootName),
		Metadata: make(map[string]string),
	}
}

// AddMesh appends a mesh and returns its index.
func (s *Scene) AddMesh(m *Mesh) int {
	s.Meshes = append(s.Meshes, m)
	return len(s.Meshes) - 1
}

// AddMaterial appends a material and returns its index.
func (s *Scene) AddMaterial(m *Material) int {
	s.Materials = append(s.Materials, m)
	return len(s.Materials) - 1
}

// AddTexture appends a texture and returns its index.
func (s *Scene) AddTexture(t *Texture) int {
	s.Textures = append(s.Textures, t)
	return len(s.Textures) - 1
}

// SetMeta records a metadata entry.
func (s *Scene) SetMeta(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}

// Walk visits every node depth-first, parents before children.
func (s *Scene) Walk(fn func(n *Node) bool) {
	if s.Root != nil {
		s.Root.Walk(fn)
	}
}

// FindNode returns the first node with the given name.
func (s *Scene) FindNode(name string) *Node {
	if s.Root == nil {
		return nil
	}
	return s.Root.Find(name)
}

// CountNodes returns the number of nodes in the tree.
func (s *Scene) CountNodes() int {
	n := 0
	s.Walk(func(*Node) bool {
		n++
		return true
	})
	return n
}

// TotalVertices sums vertex counts over all meshes.
func (s *Scene) TotalVertices() int {
	total := 0
	for _, m := range s.Meshes {
		total += m.NumVertices()
	}
	return total
}

// TotalFaces sums face counts over all meshes.
func (s *Scene) TotalFaces() int {
	total := 0
	for _, m := range s.Meshes {
		total += len(m.Faces)
	}
	return total
}

// Released reports whether Release has been called.
func (s *Scene) Released() bool {
	return s.released.Load()
}

// Release drops every owned component. It returns false if the scene had
// already been released, in which case nothing happens.
func (s *Scene) Release() bool {
	if !s.released.CompareAndSwap(false, true) {
		return false
	}
	if s.Root != nil {
		s.Root.detach()
	}
	s.Root = nil
	s.Meshes = nil
	s.Materials = nil
	s.Textures = nil
	s.Animations = nil
	s.Cameras = nil
	s.Lights = nil
	s.Metadata = nil
	return true
}

// Adopt moves every component of o into s, replacing what s held. o is
// left empty and released. Callers use it to swap a transformed copy into
// a scene others already hold a pointer to.
func (s *Scene) Adopt(o *Scene) {
	s.Name = o.Name
	s.Root = o.Root
	s.Meshes = o.Meshes
	s.Materials = o.Materials
	s.Textures = o.Textures
	s.Animations = o.Animations
	s.Cameras = o.Cameras
	s.Lights = o.Lights
	s.Metadata = o.Metadata

	o.released.Store(true)
	o.Root = nil
	o.Meshes = nil
	o.Materials = nil
	o.Textures = nil
	o.Animations = nil
	o.Cameras = nil
	o.Lights = nil
	o.Metadata = nil
}

// Clone returns a deep copy sharing no mutable storage with s.
func (s *Scene) Clone() *Scene {
	c := &Scene{Name: s.Name, Metadata: cloneMeta(s.Metadata)}
	if s.Root != nil {
		c.Root = s.Root.clone(nil)
	}
	for _, m := range s.Meshes {
		c.Meshes = append(c.Meshes, m.Clone())
	}
	for _, m := range s.Materials {
		c.Materials = append(c.Materials, m.Clone())
	}
	for _, t := range s.Textures {
		c.Textures = append(c.Textures, t.clone())
	}
	for _, a := range s.Animations {
		c.Animations = append(c.Animations, a.clone())
	}
	for _, cam := range s.Cameras {
		cp := *cam
		c.Cameras = append(c.Cameras, &cp)
	}
	for _, l := range s.Lights {
		cp := *l
		c.Lights = append(c.Lights, &cp)
	}
	return c
}

// Bounds returns the world-space bounding box of all mesh instances.
func (s *Scene) Bounds() AABB {
	box := EmptyAABB()
	s.Walk(func(n *Node) bool {
		if len(n.Meshes) == 0 {
			return true
		}
		world := n.GlobalTransform()
		for _, mi := range n.Meshes {
			if mi < 0 || mi >= len(s.Meshes) {
				continue
			}
			for _, p := range s.Meshes[mi].Positions {
				box = box.Extend(world.TransformPoint(p))
			}
		}
		return true
	})
	return box
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max math.Vec3
}

// EmptyAABB returns an inverted box that any point will extend.
func EmptyAABB() AABB {
	const inf = 3.4028234663852886e38
	return AABB{
		Min: math.Vec3{X: inf, Y: inf, Z: inf},
		Max: math.Vec3{X: -inf, Y: -inf, Z: -inf},
	}
}

// Extend grows the box to contain p.
func (b AABB) Extend(p math.Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// IsEmpty reports whether the box contains no points.
func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Size returns the box extents.
func (b AABB) Size() math.Vec3 {
	if b.IsEmpty() {
		return math.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the box center.
func (b AABB) Center() math.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}
