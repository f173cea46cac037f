package formats

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"time"

	"github.com/chewxy/math32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
	"github.com/Faultbox/scenekit/pkg/texture"
)

const gltfFormat = "gltf"

var glbMagic = []byte("glTF")

// GLTFDecoder reads glTF 2.0 JSON documents. External buffers and images
// are fetched through the request resolver.
type GLTFDecoder struct{}

// Info describes the decoder.
func (GLTFDecoder) Info() Info {
	return Info{Name: gltfFormat, Description: "glTF 2.0 (JSON)", Extensions: []string{".gltf"}}
}

// Probe matches on extension; JSON has no reliable signature.
func (GLTFDecoder) Probe(_ []byte, ext string) Match {
	if ext == ".gltf" {
		return MatchExtension
	}
	return MatchNone
}

// Decode parses req.Data.
func (GLTFDecoder) Decode(req *Request) (*scene.Scene, error) {
	return decodeGLTF(req, gltfFormat)
}

// GLBDecoder reads binary glTF containers.
type GLBDecoder struct{}

// Info describes the decoder.
func (GLBDecoder) Info() Info {
	return Info{Name: "glb", Description: "glTF 2.0 binary container", Extensions: []string{".glb"}}
}

// Probe checks the "glTF" magic.
func (GLBDecoder) Probe(header []byte, _ string) Match {
	if bytes.HasPrefix(header, glbMagic) {
		return MatchSignature
	}
	return MatchNone
}

// Decode parses req.Data.
func (GLBDecoder) Decode(req *Request) (*scene.Scene, error) {
	if len(req.Data) < 12 {
		return nil, errAt("glb", 0, ErrTruncated)
	}
	return decodeGLTF(req, "glb")
}

// resolverFS exposes the request resolver to the glTF decoder as an
// fs.FS so external buffers are fetched through it. The first resolver
// failure is kept for error classification.
type resolverFS struct {
	req *Request
	err error
}

func (f *resolverFS) ReadFile(name string) ([]byte, error) {
	if n, err := url.PathUnescape(name); err == nil {
		name = n
	}
	b, err := resolveRaw(f.req, name)
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return b, nil
}

func (f *resolverFS) Open(name string) (fs.File, error) {
	b, err := f.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return &memFile{Reader: bytes.NewReader(b), name: path.Base(name), size: int64(len(b))}, nil
}

// memFile is a read-only fs.File over resolved bytes.
type memFile struct {
	*bytes.Reader
	name string
	size int64
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f, nil }
func (f *memFile) Close() error               { return nil }
func (f *memFile) Name() string               { return f.name }
func (f *memFile) Size() int64                { return f.size }
func (f *memFile) Mode() fs.FileMode          { return 0o444 }
func (f *memFile) ModTime() time.Time         { return time.Time{} }
func (f *memFile) IsDir() bool                { return false }
func (f *memFile) Sys() any                   { return nil }

type gltfFloat interface{ ~float32 | ~float64 }

func vec3Of[T gltfFloat](v [3]T) smath.Vec3 {
	return smath.Vec3{X: float32(v[0]), Y: float32(v[1]), Z: float32(v[2])}
}

func color4Of[T gltfFloat](v [4]T) smath.Color4 {
	return smath.Color4{R: float32(v[0]), G: float32(v[1]), B: float32(v[2]), A: float32(v[3])}
}

func mat4Of[T gltfFloat](v [16]T) smath.Mat4 {
	var m smath.Mat4
	for i := range v {
		m[i] = float32(v[i])
	}
	return m
}

func quatOf[T gltfFloat](v [4]T) smath.Quat {
	return smath.Quat{X: float32(v[0]), Y: float32(v[1]), Z: float32(v[2]), W: float32(v[3])}
}

func ptrF32[T gltfFloat](p *T, def float32) float32 {
	if p == nil {
		return def
	}
	return float32(*p)
}

type gltfBuilder struct {
	req    *Request
	format string
	doc    *gltf.Document
	s      *scene.Scene

	meshes   map[int][]int
	images   map[int]string
	skinOf   map[int]int
	visited  map[int]bool
	matCount int
}

func decodeGLTF(req *Request, format string) (*scene.Scene, error) {
	fsys := &resolverFS{req: req}
	var doc gltf.Document
	dec := gltf.NewDecoderFS(bytes.NewReader(req.Data), fsys)
	if err := dec.Decode(&doc); err != nil {
		switch {
		case fsys.err != nil:
			return nil, errFormat(format, fsys.err)
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			return nil, errFormat(format, fmt.Errorf("%w: %v", ErrTruncated, err))
		default:
			return nil, errFormat(format, fmt.Errorf("%w: %v", ErrMalformed, err))
		}
	}

	for i, buf := range doc.Buffers {
		if len(buf.Data) < int(buf.ByteLength) {
			return nil, errFormat(format, wrapf(ErrTruncated, "buffer %d has %d of %d bytes", i, len(buf.Data), buf.ByteLength))
		}
	}

	b := &gltfBuilder{
		req:     req,
		format:  format,
		doc:     &doc,
		s:       newScene(req, format, doc.Asset.Version),
		meshes:  make(map[int][]int),
		images:  make(map[int]string),
		skinOf:  make(map[int]int),
		visited: make(map[int]bool),
	}
	if err := b.build(); err != nil {
		return nil, errFormat(format, err)
	}
	return b.s, nil
}

func (b *gltfBuilder) build() error {
	doc := b.doc
	for _, n := range doc.Nodes {
		if n.Mesh != nil && n.Skin != nil {
			if _, ok := b.skinOf[int(*n.Mesh)]; !ok {
				b.skinOf[int(*n.Mesh)] = int(*n.Skin)
			}
		}
	}
	if err := b.loadImages(); err != nil {
		return err
	}
	for _, m := range doc.Materials {
		b.s.AddMaterial(b.material(m))
	}
	for mi := range doc.Meshes {
		if err := b.loadMesh(mi); err != nil {
			return err
		}
	}

	roots, err := b.rootNodes()
	if err != nil {
		return err
	}
	for _, ni := range roots {
		n, err := b.node(ni)
		if err != nil {
			return err
		}
		b.s.Root.AddChild(n)
	}
	b.loadCameras()
	if len(b.s.Meshes) == 0 {
		return wrapf(ErrMalformed, "document has no mesh primitives")
	}
	finishMeshes(b.s)
	return nil
}

// rootNodes returns the node indices of the default scene, or every
// parentless node when the document declares no scene.
func (b *gltfBuilder) rootNodes() ([]int, error) {
	doc := b.doc
	if len(doc.Scenes) > 0 {
		si := 0
		if doc.Scene != nil {
			si = int(*doc.Scene)
		}
		if si < 0 || si >= len(doc.Scenes) {
			return nil, wrapf(ErrOutOfBounds, "scene %d of %d", si, len(doc.Scenes))
		}
		var roots []int
		for _, n := range doc.Scenes[si].Nodes {
			roots = append(roots, int(n))
		}
		return roots, nil
	}
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[int(c)] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots, nil
}

func (b *gltfBuilder) node(i int) (*scene.Node, error) {
	if i < 0 || i >= len(b.doc.Nodes) {
		return nil, wrapf(ErrOutOfBounds, "node %d of %d", i, len(b.doc.Nodes))
	}
	if b.visited[i] {
		return nil, wrapf(ErrMalformed, "node %d appears twice in the hierarchy", i)
	}
	b.visited[i] = true

	src := b.doc.Nodes[i]
	name := src.Name
	if name == "" {
		name = fmt.Sprintf("node_%d", i)
	}
	n := scene.NewNode(name)
	m := mat4Of(src.MatrixOrDefault())
	if m.IsIdentity(0) {
		m = smath.Compose(vec3Of(src.TranslationOrDefault()), quatOf(src.RotationOrDefault()), vec3Of(src.ScaleOrDefault()))
	}
	n.Transform = m
	if src.Mesh != nil {
		mi := int(*src.Mesh)
		if mi < 0 || mi >= len(b.doc.Meshes) {
			return nil, wrapf(ErrOutOfBounds, "node %q mesh %d of %d", name, mi, len(b.doc.Meshes))
		}
		n.Meshes = append(n.Meshes, b.meshes[mi]...)
	}
	for _, c := range src.Children {
		child, err := b.node(int(c))
		if err != nil {
			return nil, err
		}
		n.AddChild(child)
	}
	return n, nil
}

func (b *gltfBuilder) loadImages() error {
	for i, img := range b.doc.Images {
		var (
			data []byte
			err  error
		)
		switch {
		case img.BufferView != nil:
			data, err = b.bufferView(int(*img.BufferView))
		case img.IsEmbeddedResource():
			data, err = img.MarshalData()
		default:
			b.images[i] = img.URI
			b.s.AddTexture(&scene.Texture{Path: img.URI})
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: image %d: %v", ErrMalformed, i, err)
		}
		info := texture.Probe(data)
		if info.Format == "" {
			info.Format = texture.HintFromMIME(img.MimeType)
		}
		ti := b.s.AddTexture(&scene.Texture{Embedded: &scene.EmbeddedImage{
			Width:      info.Width,
			Height:     info.Height,
			FormatHint: info.Format,
			Data:       data,
			Compressed: true,
		}})
		b.images[i] = scene.EmbeddedRef(ti)
	}
	return nil
}

func (b *gltfBuilder) bufferView(i int) ([]byte, error) {
	doc := b.doc
	if i < 0 || i >= len(doc.BufferViews) {
		return nil, wrapf(ErrOutOfBounds, "buffer view %d of %d", i, len(doc.BufferViews))
	}
	bv := doc.BufferViews[i]
	bi := int(bv.Buffer)
	if bi < 0 || bi >= len(doc.Buffers) {
		return nil, wrapf(ErrOutOfBounds, "buffer %d of %d", bi, len(doc.Buffers))
	}
	buf := doc.Buffers[bi].Data
	start, end := int(bv.ByteOffset), int(bv.ByteOffset)+int(bv.ByteLength)
	if start < 0 || end > len(buf) || start > end {
		return nil, wrapf(ErrOutOfBounds, "buffer view %d range [%d,%d) in %d bytes", i, start, end, len(buf))
	}
	return buf[start:end], nil
}

// accessor validates an accessor index and the byte range it covers.
func (b *gltfBuilder) accessor(i int) (*gltf.Accessor, error) {
	doc := b.doc
	if i < 0 || i >= len(doc.Accessors) {
		return nil, wrapf(ErrOutOfBounds, "accessor %d of %d", i, len(doc.Accessors))
	}
	acr := doc.Accessors[i]
	if int(acr.Count) > b.req.maxElements() {
		return nil, wrapf(ErrOutOfBounds, "accessor %d declares %d elements", i, acr.Count)
	}
	if acr.BufferView == nil {
		return acr, nil
	}
	view, err := b.bufferView(int(*acr.BufferView))
	if err != nil {
		return nil, err
	}
	elem := int(acr.ComponentType.ByteSize()) * int(acr.Type.Components())
	stride := elem
	if s := int(doc.BufferViews[int(*acr.BufferView)].ByteStride); s > 0 {
		stride = s
	}
	if acr.Count > 0 {
		need := int(acr.ByteOffset) + (int(acr.Count)-1)*stride + elem
		if need > len(view) {
			return nil, wrapf(ErrOutOfBounds, "accessor %d needs %d bytes, view has %d", i, need, len(view))
		}
	}
	return acr, nil
}

func (b *gltfBuilder) material(m *gltf.Material) *scene.Material {
	name := m.Name
	if name == "" {
		name = fmt.Sprintf("material_%d", b.matCount)
	}
	b.matCount++
	out := scene.NewMaterial(name)
	if pbr := m.PBRMetallicRoughness; pbr != nil {
		base := color4Of(pbr.BaseColorFactorOrDefault())
		out.SetColor(scene.KeyBaseColor, base)
		out.SetColor(scene.KeyColorDiffuse, base)
		out.SetFloat(scene.KeyMetallic, float32(pbr.MetallicFactorOrDefault()))
		out.SetFloat(scene.KeyRoughness, float32(pbr.RoughnessFactorOrDefault()))
		if pbr.BaseColorTexture != nil {
			b.bindTexture(out, scene.TextureBaseColor, int(pbr.BaseColorTexture.Index), int(pbr.BaseColorTexture.TexCoord))
			b.bindTexture(out, scene.TextureDiffuse, int(pbr.BaseColorTexture.Index), int(pbr.BaseColorTexture.TexCoord))
		}
		if pbr.MetallicRoughnessTexture != nil {
			b.bindTexture(out, scene.TextureMetallicRoughness, int(pbr.MetallicRoughnessTexture.Index), int(pbr.MetallicRoughnessTexture.TexCoord))
		}
	}
	if m.EmissiveTexture != nil {
		b.bindTexture(out, scene.TextureEmissive, int(m.EmissiveTexture.Index), int(m.EmissiveTexture.TexCoord))
	}
	e := vec3Of(m.EmissiveFactor)
	out.SetColor(scene.KeyColorEmissive, smath.Color4{R: e.X, G: e.Y, B: e.Z, A: 1})
	if m.DoubleSided {
		out.Set(scene.Key(scene.KeyTwoSided), scene.Int(1))
	}
	if m.AlphaMode == gltf.AlphaMask {
		out.SetFloat(scene.KeyAlphaCutoff, float32(m.AlphaCutoffOrDefault()))
	}
	return out
}

func (b *gltfBuilder) bindTexture(m *scene.Material, t scene.TextureType, texIndex, uv int) {
	if texIndex < 0 || texIndex >= len(b.doc.Textures) {
		return
	}
	src := b.doc.Textures[texIndex].Source
	if src == nil {
		return
	}
	path, ok := b.images[int(*src)]
	if !ok {
		return
	}
	m.SetTexture(t, 0, scene.TextureRef{Path: path, UVIndex: uv})
}

func (b *gltfBuilder) loadMesh(mi int) error {
	src := b.doc.Meshes[mi]
	for pi, prim := range src.Primitives {
		m, err := b.primitive(src.Name, mi, prim)
		if err != nil {
			return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
		}
		if m == nil {
			continue
		}
		b.meshes[mi] = append(b.meshes[mi], b.s.AddMesh(m))
	}
	return nil
}

func (b *gltfBuilder) primitive(name string, mi int, prim *gltf.Primitive) (*scene.Mesh, error) {
	doc := b.doc
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, nil
	}
	acr, err := b.accessor(int(posIdx))
	if err != nil {
		return nil, err
	}
	pos, err := modeler.ReadPosition(doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %v", ErrMalformed, err)
	}
	if len(pos) == 0 {
		return nil, nil
	}
	if name == "" {
		name = fmt.Sprintf("mesh_%d", mi)
	}
	m := &scene.Mesh{Name: name, MaterialIndex: -1, Positions: make([]smath.Vec3, len(pos))}
	for i, p := range pos {
		m.Positions[i] = smath.Vec3{X: p[0], Y: p[1], Z: p[2]}
	}
	if prim.Material != nil {
		m.MaterialIndex = int(*prim.Material)
		if m.MaterialIndex >= len(b.s.Materials) {
			return nil, wrapf(ErrOutOfBounds, "material %d of %d", m.MaterialIndex, len(b.s.Materials))
		}
	}

	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		acr, err := b.accessor(int(idx))
		if err != nil {
			return nil, err
		}
		normals, err := modeler.ReadNormal(doc, acr, nil)
		if err != nil || len(normals) != len(pos) {
			return nil, wrapf(ErrMalformed, "normals do not match positions")
		}
		m.Normals = make([]smath.Vec3, len(normals))
		for i, n := range normals {
			m.Normals[i] = smath.Vec3{X: n[0], Y: n[1], Z: n[2]}
		}
	}
	for set := 0; set < scene.MaxTexCoordSets; set++ {
		idx, ok := prim.Attributes[fmt.Sprintf("TEXCOORD_%d", set)]
		if !ok {
			break
		}
		acr, err := b.accessor(int(idx))
		if err != nil {
			return nil, err
		}
		uvs, err := modeler.ReadTextureCoord(doc, acr, nil)
		if err != nil || len(uvs) != len(pos) {
			return nil, wrapf(ErrMalformed, "uv set %d does not match positions", set)
		}
		out := make([]smath.Vec3, len(uvs))
		for i, uv := range uvs {
			out[i] = smath.Vec3{X: uv[0], Y: uv[1]}
		}
		m.AddTexCoords(out, 2)
	}
	if idx, ok := prim.Attributes[gltf.COLOR_0]; ok {
		acr, err := b.accessor(int(idx))
		if err != nil {
			return nil, err
		}
		cols, err := modeler.ReadColor(doc, acr, nil)
		if err != nil || len(cols) != len(pos) {
			return nil, wrapf(ErrMalformed, "colors do not match positions")
		}
		out := make([]smath.Color4, len(cols))
		for i, c := range cols {
			out[i] = smath.ColorFromBytes(c[0], c[1], c[2], c[3])
		}
		m.Colors = [][]smath.Color4{out}
	}

	var indices []int
	if prim.Indices != nil {
		acr, err := b.accessor(int(*prim.Indices))
		if err != nil {
			return nil, err
		}
		raw, err := modeler.ReadIndices(doc, acr, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: indices: %v", ErrMalformed, err)
		}
		indices = make([]int, len(raw))
		for i, v := range raw {
			if int(v) >= len(pos) {
				return nil, wrapf(ErrOutOfBounds, "index %d with %d vertices", v, len(pos))
			}
			indices[i] = int(v)
		}
	} else {
		indices = make([]int, len(pos))
		for i := range indices {
			indices[i] = i
		}
	}
	m.Faces = primitiveFaces(prim.Mode, indices)
	if len(m.Faces) == 0 {
		return nil, nil
	}

	if si, ok := b.skinOf[mi]; ok {
		if err := b.skin(m, si, prim); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// primitiveFaces expands a glTF primitive topology into faces.
func primitiveFaces(mode gltf.PrimitiveMode, idx []int) []scene.Face {
	var faces []scene.Face
	add := func(ix ...int) { faces = append(faces, scene.Face{Indices: ix}) }
	switch mode {
	case gltf.PrimitivePoints:
		for _, i := range idx {
			add(i)
		}
	case gltf.PrimitiveLines:
		for i := 0; i+1 < len(idx); i += 2 {
			add(idx[i], idx[i+1])
		}
	case gltf.PrimitiveLineStrip, gltf.PrimitiveLineLoop:
		for i := 0; i+1 < len(idx); i++ {
			add(idx[i], idx[i+1])
		}
		if mode == gltf.PrimitiveLineLoop && len(idx) > 2 {
			add(idx[len(idx)-1], idx[0])
		}
	case gltf.PrimitiveTriangleStrip:
		for i := 0; i+2 < len(idx); i++ {
			if i%2 == 0 {
				add(idx[i], idx[i+1], idx[i+2])
			} else {
				add(idx[i+1], idx[i], idx[i+2])
			}
		}
	case gltf.PrimitiveTriangleFan:
		for i := 1; i+1 < len(idx); i++ {
			add(idx[0], idx[i], idx[i+1])
		}
	default:
		for i := 0; i+2 < len(idx); i += 3 {
			add(idx[i], idx[i+1], idx[i+2])
		}
	}
	return faces
}

// skin converts JOINTS_0/WEIGHTS_0 into per-bone weight lists.
func (b *gltfBuilder) skin(m *scene.Mesh, si int, prim *gltf.Primitive) error {
	doc := b.doc
	if si < 0 || si >= len(doc.Skins) {
		return wrapf(ErrOutOfBounds, "skin %d of %d", si, len(doc.Skins))
	}
	jIdx, okJ := prim.Attributes[gltf.JOINTS_0]
	wIdx, okW := prim.Attributes[gltf.WEIGHTS_0]
	if !okJ || !okW {
		return nil
	}
	skin := doc.Skins[si]

	jacr, err := b.accessor(int(jIdx))
	if err != nil {
		return err
	}
	wacr, err := b.accessor(int(wIdx))
	if err != nil {
		return err
	}
	joints, err := modeler.ReadJoints(doc, jacr, nil)
	if err != nil {
		return fmt.Errorf("%w: joints: %v", ErrMalformed, err)
	}
	weights, err := modeler.ReadWeights(doc, wacr, nil)
	if err != nil {
		return fmt.Errorf("%w: weights: %v", ErrMalformed, err)
	}
	if len(joints) != len(m.Positions) || len(weights) != len(m.Positions) {
		return wrapf(ErrMalformed, "skin attributes do not match positions")
	}

	offsets := make([]smath.Mat4, len(skin.Joints))
	for i := range offsets {
		offsets[i] = smath.Identity()
	}
	if skin.InverseBindMatrices != nil {
		acr, err := b.accessor(int(*skin.InverseBindMatrices))
		if err != nil {
			return err
		}
		raw, err := modeler.ReadAccessor(doc, acr, nil)
		if err != nil {
			return fmt.Errorf("%w: inverse bind matrices: %v", ErrMalformed, err)
		}
		if mats, ok := raw.([][4][4]float32); ok {
			for i := 0; i < len(mats) && i < len(offsets); i++ {
				for c := 0; c < 4; c++ {
					for r := 0; r < 4; r++ {
						offsets[i][c*4+r] = mats[i][c][r]
					}
				}
			}
		}
	}

	bones := make(map[int]*scene.Bone)
	var order []int
	for v := range joints {
		for k := 0; k < 4; k++ {
			w := weights[v][k]
			if w <= 0 {
				continue
			}
			j := int(joints[v][k])
			if j >= len(skin.Joints) {
				return wrapf(ErrOutOfBounds, "joint %d of %d", j, len(skin.Joints))
			}
			bone, ok := bones[j]
			if !ok {
				name := fmt.Sprintf("joint_%d", j)
				if ni := int(skin.Joints[j]); ni >= 0 && ni < len(doc.Nodes) && doc.Nodes[ni].Name != "" {
					name = doc.Nodes[ni].Name
				}
				bone = &scene.Bone{Name: name, Offset: offsets[j]}
				bones[j] = bone
				order = append(order, j)
			}
			bone.Weights = append(bone.Weights, scene.VertexWeight{VertexID: v, Weight: w})
		}
	}
	for _, j := range order {
		m.Bones = append(m.Bones, bones[j])
	}
	return nil
}

func (b *gltfBuilder) loadCameras() {
	for i, n := range b.doc.Nodes {
		if n.Camera == nil {
			continue
		}
		ci := int(*n.Camera)
		if ci < 0 || ci >= len(b.doc.Cameras) {
			continue
		}
		cam := b.doc.Cameras[ci]
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("node_%d", i)
		}
		out := &scene.Camera{
			Name:   name,
			LookAt: smath.Vec3{Z: -1},
			Up:     smath.Vec3{Y: 1},
		}
		if p := cam.Perspective; p != nil {
			out.Aspect = ptrF32(p.AspectRatio, 0)
			yfov := float32(p.Yfov)
			if out.Aspect > 0 {
				out.HorizontalFOV = 2 * math32.Atan(math32.Tan(yfov/2)*out.Aspect)
			} else {
				out.HorizontalFOV = yfov
			}
			out.ClipNear = float32(p.Znear)
			out.ClipFar = ptrF32(p.Zfar, 1e5)
		}
		b.s.Cameras = append(b.s.Cameras, out)
	}
}
