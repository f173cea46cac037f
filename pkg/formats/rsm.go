package formats

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/encoding"
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const rsmFormat = "rsm"

var rsmMagic = []byte("GRSM")

const rsmNameLen = 40

// RSMVersion represents the RSM file version.
type RSMVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v RSMVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v RSMVersion) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RSMShadingType represents the shading mode for rendering.
type RSMShadingType int32

const (
	RSMShadingNone   RSMShadingType = 0
	RSMShadingFlat   RSMShadingType = 1
	RSMShadingSmooth RSMShadingType = 2
)

// String returns a human-readable shading type name.
func (s RSMShadingType) String() string {
	switch s {
	case RSMShadingNone:
		return "none"
	case RSMShadingFlat:
		return "flat"
	case RSMShadingSmooth:
		return "smooth"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// RSMTexCoord is a texture coordinate with its vertex color (v1.2+).
type RSMTexCoord struct {
	Color [4]uint8
	U, V  float32
}

// RSMFace is a triangle referencing node-local vertices and texcoords.
type RSMFace struct {
	VertexIDs   [3]uint16
	TexCoordIDs [3]uint16
	TextureID   uint16
	TwoSide     int32
	SmoothGroup int32
}

// RSMPosKey is a position keyframe (v < 1.5).
type RSMPosKey struct {
	Frame    int32
	Position smath.Vec3
}

// RSMRotKey is a rotation keyframe.
type RSMRotKey struct {
	Frame int32
	Rot   smath.Quat
}

// RSMScaleKey is a scale keyframe (v >= 1.5).
type RSMScaleKey struct {
	Frame int32
	Scale smath.Vec3
}

// RSMNode is one node of the model hierarchy.
type RSMNode struct {
	Name       string
	Parent     string
	TextureIDs []int32

	// Matrix and Offset transform vertices only; children do not inherit them.
	Matrix   [9]float32
	Offset   smath.Vec3
	Position smath.Vec3
	RotAngle float32
	RotAxis  smath.Vec3
	Scale    smath.Vec3

	Vertices  []smath.Vec3
	TexCoords []RSMTexCoord
	Faces     []RSMFace

	PosKeys   []RSMPosKey
	RotKeys   []RSMRotKey
	ScaleKeys []RSMScaleKey
}

// RSMVolumeBox is a collision volume.
type RSMVolumeBox struct {
	Size     smath.Vec3
	Position smath.Vec3
	Rotation smath.Vec3
	Flag     int32
}

// RSM is a parsed Ragnarok Online resource model.
type RSM struct {
	Version     RSMVersion
	AnimLength  int32 // milliseconds
	Shading     RSMShadingType
	Alpha       float32
	Textures    []string
	RootNode    string
	Nodes       []RSMNode
	VolumeBoxes []RSMVolumeBox
}

// ParseRSM parses RSM data. Versions 1.1 through 1.5 are supported.
func ParseRSM(data []byte) (*RSM, error) {
	r := newReader(rsmFormat, data)
	if !r.need(6) {
		return nil, r.Err()
	}
	if !bytes.Equal(r.bytes(4), rsmMagic) {
		return nil, errAt(rsmFormat, 0, ErrInvalidMagic)
	}
	rsm := &RSM{Version: RSMVersion{Major: r.u8(), Minor: r.u8()}}
	if rsm.Version.Major != 1 || rsm.Version.Minor < 1 || rsm.Version.Minor > 5 {
		return nil, errAt(rsmFormat, 4, wrapf(ErrUnsupportedVersion, "version %s", rsm.Version))
	}

	rsm.AnimLength = r.i32()
	rsm.Shading = RSMShadingType(r.i32())
	rsm.Alpha = 1
	if rsm.Version.AtLeast(1, 4) {
		rsm.Alpha = float32(r.u8()) / 255
	}
	r.skip(16)

	nTex := r.count(int64(r.i32()), rsmNameLen, "textures")
	rsm.Textures = make([]string, nTex)
	for i := range rsm.Textures {
		rsm.Textures[i] = r.str(rsmNameLen, encoding.EUCKR)
	}
	rsm.RootNode = r.str(rsmNameLen, encoding.EUCKR)

	// a node is at least names, matrix, transform and four empty counts
	const minNodeSize = 2*rsmNameLen + 4 + 22*4 + 4*4
	nNodes := r.count(int64(r.i32()), minNodeSize, "nodes")
	rsm.Nodes = make([]RSMNode, nNodes)
	for i := range rsm.Nodes {
		parseRSMNode(r, rsm.Version, &rsm.Nodes[i])
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
	}

	if r.remaining() >= 4 {
		boxSize := 36
		if rsm.Version.AtLeast(1, 3) {
			boxSize = 40
		}
		nBoxes := r.count(int64(r.i32()), boxSize, "volume boxes")
		rsm.VolumeBoxes = make([]RSMVolumeBox, nBoxes)
		for i := range rsm.VolumeBoxes {
			b := &rsm.VolumeBoxes[i]
			b.Size, b.Position, b.Rotation = r.vec3(), r.vec3(), r.vec3()
			if rsm.Version.AtLeast(1, 3) {
				b.Flag = r.i32()
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return rsm, nil
}

func parseRSMNode(r *reader, v RSMVersion, node *RSMNode) {
	node.Name = r.str(rsmNameLen, encoding.EUCKR)
	node.Parent = r.str(rsmNameLen, encoding.EUCKR)

	nTex := r.count(int64(r.i32()), 4, "node textures")
	node.TextureIDs = make([]int32, nTex)
	for i := range node.TextureIDs {
		node.TextureIDs[i] = r.i32()
	}
	for i := range node.Matrix {
		node.Matrix[i] = r.f32()
	}
	node.Offset = r.vec3()
	node.Position = r.vec3()
	node.RotAngle = r.f32()
	node.RotAxis = r.vec3()
	node.Scale = r.vec3()

	nVerts := r.count(int64(r.i32()), 12, "vertices")
	node.Vertices = make([]smath.Vec3, nVerts)
	for i := range node.Vertices {
		node.Vertices[i] = r.vec3()
	}

	tcSize := 8
	if v.AtLeast(1, 2) {
		tcSize = 12
	}
	nTC := r.count(int64(r.i32()), tcSize, "texcoords")
	node.TexCoords = make([]RSMTexCoord, nTC)
	for i := range node.TexCoords {
		tc := &node.TexCoords[i]
		tc.Color = [4]uint8{255, 255, 255, 255}
		if v.AtLeast(1, 2) {
			copy(tc.Color[:], r.bytes(4))
		}
		tc.U, tc.V = r.f32(), r.f32()
	}

	faceSize := 20
	if v.AtLeast(1, 2) {
		faceSize = 24
	}
	nFaces := r.count(int64(r.i32()), faceSize, "faces")
	node.Faces = make([]RSMFace, nFaces)
	for i := range node.Faces {
		f := &node.Faces[i]
		for k := range f.VertexIDs {
			f.VertexIDs[k] = r.u16()
		}
		for k := range f.TexCoordIDs {
			f.TexCoordIDs[k] = r.u16()
		}
		f.TextureID = r.u16()
		r.skip(2)
		f.TwoSide = r.i32()
		if v.AtLeast(1, 2) {
			f.SmoothGroup = r.i32()
		}
	}

	if !v.AtLeast(1, 5) {
		n := r.count(int64(r.i32()), 16, "position keys")
		node.PosKeys = make([]RSMPosKey, n)
		for i := range node.PosKeys {
			node.PosKeys[i] = RSMPosKey{Frame: r.i32(), Position: r.vec3()}
		}
	}
	n := r.count(int64(r.i32()), 20, "rotation keys")
	node.RotKeys = make([]RSMRotKey, n)
	for i := range node.RotKeys {
		k := &node.RotKeys[i]
		k.Frame = r.i32()
		k.Rot = smath.Quat{X: r.f32(), Y: r.f32(), Z: r.f32(), W: r.f32()}
	}
	if v.AtLeast(1, 5) {
		n := r.count(int64(r.i32()), 16, "scale keys")
		node.ScaleKeys = make([]RSMScaleKey, n)
		for i := range node.ScaleKeys {
			node.ScaleKeys[i] = RSMScaleKey{Frame: r.i32(), Scale: r.vec3()}
		}
	}
}

// TotalVertices returns the vertex count across all nodes.
func (rsm *RSM) TotalVertices() int {
	total := 0
	for _, node := range rsm.Nodes {
		total += len(node.Vertices)
	}
	return total
}

// TotalFaces returns the face count across all nodes.
func (rsm *RSM) TotalFaces() int {
	total := 0
	for _, node := range rsm.Nodes {
		total += len(node.Faces)
	}
	return total
}

// NodeByName returns the first node called name, or nil.
func (rsm *RSM) NodeByName(name string) *RSMNode {
	for i := range rsm.Nodes {
		if rsm.Nodes[i].Name == name {
			return &rsm.Nodes[i]
		}
	}
	return nil
}

// HasAnimation reports whether any node carries keyframes.
func (rsm *RSM) HasAnimation() bool {
	for _, node := range rsm.Nodes {
		if len(node.PosKeys) > 0 || len(node.RotKeys) > 0 || len(node.ScaleKeys) > 0 {
			return true
		}
	}
	return false
}

// localTransform is the matrix children inherit: Position * Rotation * Scale.
// Rotation keyframes replace the static axis-angle rotation.
func (n *RSMNode) localTransform() smath.Mat4 {
	m := smath.Translate(n.Position.X, n.Position.Y, n.Position.Z)
	switch {
	case len(n.RotKeys) > 0:
		m = m.Mul(n.RotKeys[0].Rot.Normalize().ToMat4())
	case n.RotAngle != 0 && n.RotAxis.Length() > 1e-6:
		m = m.Mul(smath.RotateAxis(n.RotAxis.Normalize(), n.RotAngle))
	}
	return m.Mul(smath.Scale(n.Scale.X, n.Scale.Y, n.Scale.Z))
}

// vertexTransform is Offset * Matrix, applied to this node's vertices only.
func (n *RSMNode) vertexTransform() smath.Mat4 {
	return smath.Translate(n.Offset.X, n.Offset.Y, n.Offset.Z).Mul(smath.FromMat3x3(n.Matrix))
}

// RSMDecoder converts RSM models into scenes. Nodes keep their hierarchy
// transforms; the vertex-only offset and matrix are baked into positions.
type RSMDecoder struct{}

// Info describes the decoder.
func (RSMDecoder) Info() Info {
	return Info{Name: rsmFormat, Description: "Ragnarok Online model", Extensions: []string{".rsm"}}
}

// Probe checks the GRSM magic.
func (RSMDecoder) Probe(header []byte, _ string) Match {
	if bytes.HasPrefix(header, rsmMagic) {
		return MatchSignature
	}
	return MatchNone
}

// Decode parses req.Data.
func (RSMDecoder) Decode(req *Request) (*scene.Scene, error) {
	rsm, err := ParseRSM(req.Data)
	if err != nil {
		return nil, err
	}
	s := newScene(req, rsmFormat, rsm.Version.String())
	model, err := rsmToScene(req, rsm, s, baseName(req.Name))
	if err != nil {
		return nil, errFormat(rsmFormat, err)
	}
	if len(s.Meshes) == 0 {
		return nil, errFormat(rsmFormat, wrapf(ErrMalformed, "model has no faces"))
	}
	s.Root.AddChild(model)
	if anim := rsmAnimation(rsm, "rsm"); anim != nil {
		s.Animations = append(s.Animations, anim)
	}
	s.SetMeta(scene.MetaUpAxis, "-y")
	finishMeshes(s)
	return s, nil
}

type rsmMatKey struct {
	texture int
	twoSide bool
}

// rsmToScene appends the model's meshes and materials to s and returns
// the model subtree. The returned node converts the Y-down model space to
// Y-up; faces are emitted in reversed order so the reflection keeps them
// counter-clockwise. Materials are shared per texture and sidedness.
func rsmToScene(req *Request, rsm *RSM, s *scene.Scene, name string) (*scene.Node, error) {
	root := scene.NewNode(name)
	root.Transform = smath.Scale(1, -1, 1)

	materials := make(map[rsmMatKey]int)
	material := func(k rsmMatKey) int {
		if mi, ok := materials[k]; ok {
			return mi
		}
		name := "rsm_default"
		if k.texture >= 0 && k.texture < len(rsm.Textures) {
			name = rsm.Textures[k.texture]
		}
		mat := scene.NewMaterial(name)
		if k.texture >= 0 && k.texture < len(rsm.Textures) {
			mat.SetTexture(scene.TextureDiffuse, 0, scene.TextureRef{Path: encoding.NormalizePath(rsm.Textures[k.texture])})
		}
		mat.Set(scene.Key(scene.KeyShadingModel), scene.Int(int(rsm.Shading)))
		mat.SetFloat(scene.KeyOpacity, rsm.Alpha)
		if k.twoSide {
			mat.Set(scene.Key(scene.KeyTwoSided), scene.Int(1))
		}
		mi := s.AddMaterial(mat)
		materials[k] = mi
		return mi
	}

	nodes := make(map[string]*scene.Node, len(rsm.Nodes))
	built := make([]*scene.Node, len(rsm.Nodes))
	for i := range rsm.Nodes {
		src := &rsm.Nodes[i]
		n := scene.NewNode(src.Name)
		n.Transform = src.localTransform()
		if _, dup := nodes[src.Name]; !dup {
			nodes[src.Name] = n
		}
		built[i] = n

		vt := src.vertexTransform()
		builders := make(map[rsmMatKey]*meshBuilder)
		var order []rsmMatKey
		for fi, f := range src.Faces {
			for _, vid := range f.VertexIDs {
				if int(vid) >= len(src.Vertices) {
					return nil, wrapf(ErrOutOfBounds, "node %q face %d vertex %d of %d", src.Name, fi, vid, len(src.Vertices))
				}
			}
			tex := -1
			if int(f.TextureID) < len(src.TextureIDs) {
				tex = int(src.TextureIDs[f.TextureID])
			}
			key := rsmMatKey{texture: tex, twoSide: f.TwoSide != 0}
			mb, ok := builders[key]
			if !ok {
				mb = newMeshBuilder(src.Name, material(key))
				builders[key] = mb
				order = append(order, key)
			}
			var ix [3]int
			for k := 0; k < 3; k++ {
				vid, tid := int(f.VertexIDs[k]), int(f.TexCoordIDs[k])
				key := vertexKey{pos: vid, uv: -1, normal: -1, color: -1}
				var uv smath.Vec3
				col := smath.White
				if tid < len(src.TexCoords) {
					tc := src.TexCoords[tid]
					key.uv, key.color = tid, tid
					uv = smath.Vec3{X: tc.U, Y: tc.V}
					col = smath.ColorFromBytes(tc.Color[0], tc.Color[1], tc.Color[2], tc.Color[3])
				}
				ix[k] = mb.vertex(key, vt.TransformPoint(src.Vertices[vid]), uv, smath.Vec3{}, col)
			}
			mb.face(ix[2], ix[1], ix[0])
		}
		for _, k := range order {
			n.Meshes = append(n.Meshes, s.AddMesh(builders[k].build()))
		}
	}

	for i := range rsm.Nodes {
		src := &rsm.Nodes[i]
		p, ok := nodes[src.Parent]
		if !ok || src.Parent == src.Name || p == built[i] || isRSMAncestor(built[i], p) {
			if src.Parent != "" && !ok {
				req.logger().Debug("rsm node parent missing, attaching to root",
					zap.String("node", src.Name), zap.String("parent", src.Parent))
			}
			root.AddChild(built[i])
			continue
		}
		p.AddChild(built[i])
	}

	if len(rsm.VolumeBoxes) > 0 {
		root.Metadata = map[string]string{"rsm.volume_boxes": strconv.Itoa(len(rsm.VolumeBoxes))}
	}
	return root, nil
}

// isRSMAncestor reports whether n is an ancestor of p, which would make
// attaching n under p a cycle.
func isRSMAncestor(n, p *scene.Node) bool {
	for cur := p; cur != nil; cur = cur.Parent() {
		if cur == n {
			return true
		}
	}
	return false
}

func rsmAnimation(rsm *RSM, name string) *scene.Animation {
	if !rsm.HasAnimation() {
		return nil
	}
	anim := &scene.Animation{
		Name:           name,
		Duration:       float64(rsm.AnimLength),
		TicksPerSecond: 1000,
	}
	for _, n := range rsm.Nodes {
		if len(n.PosKeys)+len(n.RotKeys)+len(n.ScaleKeys) == 0 {
			continue
		}
		ch := &scene.NodeAnim{NodeName: n.Name}
		for _, k := range n.PosKeys {
			ch.PositionKeys = append(ch.PositionKeys, scene.VectorKey{Time: float64(k.Frame), Value: k.Position})
		}
		for _, k := range n.RotKeys {
			ch.RotationKeys = append(ch.RotationKeys, scene.QuatKey{Time: float64(k.Frame), Value: k.Rot.Normalize()})
		}
		for _, k := range n.ScaleKeys {
			ch.ScalingKeys = append(ch.ScalingKeys, scene.VectorKey{Time: float64(k.Frame), Value: k.Scale})
		}
		byTime := func(a, b scene.VectorKey) int { return cmp.Compare(a.Time, b.Time) }
		slices.SortStableFunc(ch.PositionKeys, byTime)
		slices.SortStableFunc(ch.ScalingKeys, byTime)
		slices.SortStableFunc(ch.RotationKeys, func(a, b scene.QuatKey) int { return cmp.Compare(a.Time, b.Time) })
		anim.Channels = append(anim.Channels, ch)
	}
	return anim
}
