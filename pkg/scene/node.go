package scene

import "github.com/Faultbox/scenekit/pkg/math"

// Node is an element of the scene hierarchy. Children are owned; the
// parent link is a non-owning back-reference maintained by AddChild.
type Node struct {
	Name      string
	Transform math.Mat4
	Children  []*Node
	Meshes    []int
	Metadata  map[string]string

	parent *Node
}

// NewNode creates a node with an identity transform.
func NewNode(name string) *Node {
	return &Node{Name: name, Transform: math.Identity()}
}

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// AddChild appends c to n's children and sets its parent link.
func (n *Node) AddChild(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// GlobalTransform composes transforms from the root down to n.
func (n *Node) GlobalTransform() math.Mat4 {
	m := n.Transform
	for p := n.parent; p != nil; p = p.parent {
		m = p.Transform.Mul(m)
	}
	return m
}

// Depth returns the number of ancestors.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Find returns the first node named name in n's subtree.
func (n *Node) Find(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Clone returns a detached deep copy of the subtree rooted at n. Mesh
// indices are copied, not the meshes they refer to.
func (n *Node) Clone() *Node {
	return n.clone(nil)
}

func (n *Node) clone(parent *Node) *Node {
	c := &Node{
		Name:      n.Name,
		Transform: n.Transform,
		Meshes:    append([]int(nil), n.Meshes...),
		Metadata:  cloneMeta(n.Metadata),
		parent:    parent,
	}
	for _, ch := range n.Children {
		c.Children = append(c.Children, ch.clone(c))
	}
	return c
}

func (n *Node) detach() {
	for _, c := range n.Children {
		c.detach()
	}
	n.Children = nil
	n.Meshes = nil
	n.parent = nil
}
