package formats

import (
	"strings"

	"go.uber.org/zap"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const objFormat = "obj"

// OBJDecoder reads Wavefront OBJ geometry together with the MTL material
// libraries it references.
type OBJDecoder struct{}

// Info describes the decoder.
func (OBJDecoder) Info() Info {
	return Info{Name: objFormat, Description: "Wavefront OBJ with MTL materials", Extensions: []string{".obj"}}
}

// Probe matches on extension only; OBJ has no signature.
func (OBJDecoder) Probe(_ []byte, ext string) Match {
	if ext == ".obj" {
		return MatchExtension
	}
	return MatchNone
}

type objGroup struct {
	name     string
	builders []*meshBuilder
	byMat    map[string]*meshBuilder
}

type objParser struct {
	req *Request
	s   *scene.Scene

	positions []smath.Vec3
	colors    []smath.Color4
	uvs       []smath.Vec3
	uvDims    int
	normals   []smath.Vec3

	library   map[string]*scene.Material
	matIndex  map[string]int
	groups    []*objGroup
	current   *objGroup
	material  string
	hasColors bool
}

// Decode parses req.Data.
func (OBJDecoder) Decode(req *Request) (*scene.Scene, error) {
	p := &objParser{
		req:      req,
		s:        newScene(req, objFormat, ""),
		library:  make(map[string]*scene.Material),
		matIndex: make(map[string]int),
	}
	sc := newLineScanner(req.Data)
	for sc.next() {
		if sc.line%65536 == 0 {
			if err := req.Context().Err(); err != nil {
				return nil, err
			}
		}
		if sc.text == "" {
			continue
		}
		if err := p.parseLine(sc.text); err != nil {
			return nil, errLine(objFormat, sc.line, err)
		}
	}
	return p.finish()
}

func (p *objParser) parseLine(line string) error {
	toks := strings.Fields(line)
	args := toks[1:]
	switch toks[0] {
	case "v":
		if len(args) < 3 {
			return wrapf(ErrMalformed, "vertex needs 3 coordinates")
		}
		v, err := parseVec3(args, 0)
		if err != nil {
			return err
		}
		if len(p.positions) >= p.req.maxElements() {
			return wrapf(ErrOutOfBounds, "more than %d vertices", p.req.maxElements())
		}
		p.positions = append(p.positions, v)
		c := smath.White
		if len(args) >= 6 {
			rgb, err := parseVec3(args[3:], 1)
			if err != nil {
				return err
			}
			c = smath.Color4{R: rgb.X, G: rgb.Y, B: rgb.Z, A: 1}
			p.hasColors = true
		}
		p.colors = append(p.colors, c)
	case "vt":
		if len(args) < 1 {
			return wrapf(ErrMalformed, "texture coordinate needs a component")
		}
		v, err := parseVec3(args, 0)
		if err != nil {
			return err
		}
		p.uvs = append(p.uvs, v)
		p.uvDims = max(p.uvDims, min(len(args), 3))
	case "vn":
		if len(args) < 3 {
			return wrapf(ErrMalformed, "normal needs 3 components")
		}
		v, err := parseVec3(args, 0)
		if err != nil {
			return err
		}
		p.normals = append(p.normals, v)
	case "f", "l", "p":
		return p.parseFace(toks[0], args)
	case "o", "g":
		name := strings.Join(args, " ")
		if name == "" {
			name = p.s.Name
		}
		p.startGroup(name)
	case "usemtl":
		p.material = strings.Join(args, " ")
	case "mtllib":
		return p.loadLibraries(args)
	}
	return nil
}

func (p *objParser) startGroup(name string) {
	p.current = &objGroup{name: name, byMat: make(map[string]*meshBuilder)}
	p.groups = append(p.groups, p.current)
}

// index resolves a 1-based or negative relative OBJ index.
func objIndex(tok string, n int) (int, error) {
	i, err := parseInt(tok)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += n
	default:
		return 0, wrapf(ErrMalformed, "index 0 is invalid")
	}
	if i < 0 || i >= n {
		return 0, wrapf(ErrOutOfBounds, "index %s with %d elements", tok, n)
	}
	return i, nil
}

func (p *objParser) parseFace(kind string, args []string) error {
	need := map[string]int{"f": 3, "l": 2, "p": 1}[kind]
	if len(args) < need {
		return wrapf(ErrMalformed, "%q element needs at least %d vertices", kind, need)
	}
	if p.current == nil {
		p.startGroup(p.s.Name)
	}
	b := p.builder()

	indices := make([]int, 0, len(args))
	for _, a := range args {
		parts := strings.Split(a, "/")
		key := vertexKey{pos: -1, uv: -1, normal: -1, color: -1}
		var err error
		if key.pos, err = objIndex(parts[0], len(p.positions)); err != nil {
			return err
		}
		var uv, n smath.Vec3
		if len(parts) > 1 && parts[1] != "" {
			if key.uv, err = objIndex(parts[1], len(p.uvs)); err != nil {
				return err
			}
			uv = p.uvs[key.uv]
		}
		if len(parts) > 2 && parts[2] != "" {
			if key.normal, err = objIndex(parts[2], len(p.normals)); err != nil {
				return err
			}
			n = p.normals[key.normal]
		}
		if p.hasColors {
			key.color = key.pos
		}
		indices = append(indices, b.vertex(key, p.positions[key.pos], uv, n, p.colors[key.pos]))
	}
	b.face(indices...)
	return nil
}

// builder returns the mesh builder for the current group and material.
func (p *objParser) builder() *meshBuilder {
	g := p.current
	if b, ok := g.byMat[p.material]; ok {
		return b
	}
	b := newMeshBuilder(g.name, p.materialIndex(p.material))
	g.byMat[p.material] = b
	g.builders = append(g.builders, b)
	return b
}

func (p *objParser) materialIndex(name string) int {
	if i, ok := p.matIndex[name]; ok {
		return i
	}
	m, ok := p.library[name]
	if !ok {
		if name != "" {
			p.req.logger().Warn("obj material not found, using default",
				zap.String("source", p.req.Name), zap.String("material", name))
		}
		m = scene.DefaultMaterial()
		if name != "" {
			m.Set(scene.Key(scene.KeyName), scene.String(name))
		}
	}
	i := p.s.AddMaterial(m)
	p.matIndex[name] = i
	return i
}

func (p *objParser) loadLibraries(names []string) error {
	for _, name := range names {
		data, err := resolveRaw(p.req, name)
		if err != nil {
			return err
		}
		if err := parseMTL(data, p.library); err != nil {
			return err
		}
	}
	return nil
}

func (p *objParser) finish() (*scene.Scene, error) {
	for _, g := range p.groups {
		node := scene.NewNode(g.name)
		for _, b := range g.builders {
			if b.empty() {
				continue
			}
			b.uvDims = p.uvDims
			node.Meshes = append(node.Meshes, p.s.AddMesh(b.build()))
		}
		if len(node.Meshes) > 0 {
			p.s.Root.AddChild(node)
		}
	}
	if len(p.s.Meshes) == 0 {
		return nil, errFormat(objFormat, wrapf(ErrMalformed, "no faces"))
	}
	finishMeshes(p.s)
	return p.s, nil
}

// parseMTL adds the materials defined in an MTL library to lib.
func parseMTL(data []byte, lib map[string]*scene.Material) error {
	const mtlFormat = "mtl"
	var cur *scene.Material
	sc := newLineScanner(data)
	for sc.next() {
		if sc.text == "" {
			continue
		}
		toks := strings.Fields(sc.text)
		key, args := strings.ToLower(toks[0]), toks[1:]
		if key == "newmtl" {
			name := strings.Join(args, " ")
			cur = scene.NewMaterial(name)
			lib[name] = cur
			continue
		}
		if cur == nil || len(args) == 0 {
			continue
		}
		if err := applyMTL(cur, key, args); err != nil {
			return errLine(mtlFormat, sc.line, err)
		}
	}
	return nil
}

var mtlTextures = map[string]scene.TextureType{
	"map_kd":   scene.TextureDiffuse,
	"map_ka":   scene.TextureAmbient,
	"map_ks":   scene.TextureSpecular,
	"map_ke":   scene.TextureEmissive,
	"map_ns":   scene.TextureShininess,
	"map_d":    scene.TextureOpacity,
	"map_bump": scene.TextureHeight,
	"bump":     scene.TextureHeight,
	"norm":     scene.TextureNormals,
	"map_kn":   scene.TextureNormals,
}

var mtlColors = map[string]string{
	"kd": scene.KeyColorDiffuse,
	"ka": scene.KeyColorAmbient,
	"ks": scene.KeyColorSpecular,
	"ke": scene.KeyColorEmissive,
}

func applyMTL(m *scene.Material, key string, args []string) error {
	if name, ok := mtlColors[key]; ok {
		c, err := parseVec3(args, 0)
		if err != nil {
			return err
		}
		m.SetColor(name, smath.Color4{R: c.X, G: c.Y, B: c.Z, A: 1})
		return nil
	}
	if t, ok := mtlTextures[key]; ok {
		// Options such as "-bm 0.5" precede the file name.
		m.SetTexture(t, 0, scene.TextureRef{Path: args[len(args)-1]})
		return nil
	}
	switch key {
	case "ns":
		f, err := parseF32(args[0])
		if err != nil {
			return err
		}
		m.SetFloat(scene.KeyShininess, f)
	case "d":
		f, err := parseF32(args[len(args)-1])
		if err != nil {
			return err
		}
		m.SetFloat(scene.KeyOpacity, f)
	case "tr":
		f, err := parseF32(args[0])
		if err != nil {
			return err
		}
		m.SetFloat(scene.KeyOpacity, 1-f)
	case "illum":
		n, err := parseInt(args[0])
		if err != nil {
			return err
		}
		m.Set(scene.Key(scene.KeyShadingModel), scene.Int(int32(n)))
	}
	return nil
}
