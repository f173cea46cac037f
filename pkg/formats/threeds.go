package formats

import (
	"encoding/binary"
	"strconv"

	"github.com/chewxy/math32"

	"github.com/Faultbox/scenekit/pkg/encoding"
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const threeDSFormat = "3ds"

// 3DS chunk identifiers.
const (
	chunkMain         = 0x4D4D
	chunkVersion      = 0x0002
	chunkColorF       = 0x0010
	chunkColor24      = 0x0011
	chunkLinColor24   = 0x0012
	chunkLinColorF    = 0x0013
	chunkPercentI     = 0x0030
	chunkPercentF     = 0x0031
	chunkEditor       = 0x3D3D
	chunkObject       = 0x4000
	chunkTriMesh      = 0x4100
	chunkVertices     = 0x4110
	chunkFaces        = 0x4120
	chunkFaceMat      = 0x4130
	chunkMapCoords    = 0x4140
	chunkLocalMatrix  = 0x4160
	chunkLight        = 0x4600
	chunkSpotlight    = 0x4610
	chunkCamera       = 0x4700
	chunkMaterial     = 0xAFFF
	chunkMatName      = 0xA000
	chunkMatAmbient   = 0xA010
	chunkMatDiffuse   = 0xA020
	chunkMatSpecular  = 0xA030
	chunkMatShininess = 0xA040
	chunkMatTransp    = 0xA050
	chunkMatTwoSided  = 0xA081
	chunkMatShading   = 0xA100
	chunkMatTexture   = 0xA200
	chunkMatSpecMap   = 0xA204
	chunkMatOpacMap   = 0xA210
	chunkMatBumpMap   = 0xA230
	chunkMatMapName   = 0xA300
	chunkKeyframer    = 0xB000
)

// ThreeDSDecoder reads Autodesk 3D Studio chunk files.
type ThreeDSDecoder struct{}

// Info describes the decoder.
func (ThreeDSDecoder) Info() Info {
	return Info{Name: threeDSFormat, Description: "Autodesk 3D Studio", Extensions: []string{".3ds"}}
}

// Probe checks for the main chunk followed by a known top-level chunk.
func (ThreeDSDecoder) Probe(header []byte, _ string) Match {
	if len(header) < 8 || binary.LittleEndian.Uint16(header) != chunkMain {
		return MatchNone
	}
	if binary.LittleEndian.Uint32(header[2:]) < 6 {
		return MatchNone
	}
	switch binary.LittleEndian.Uint16(header[6:]) {
	case chunkVersion, chunkEditor, chunkKeyframer:
		return MatchSignature
	}
	return MatchNone
}

type chunk struct {
	id    uint16
	start int
	end   int
}

// nextChunk reads a chunk header, failing if its length overruns parentEnd.
func (r *reader) nextChunk(parentEnd int) (chunk, bool) {
	if r.err != nil || r.off+6 > parentEnd {
		return chunk{}, false
	}
	begin := r.off
	id := r.u16()
	n := int64(r.u32())
	if n < 6 || int64(begin)+n > int64(parentEnd) {
		r.off = begin
		r.fail(wrapf(ErrTruncated, "chunk 0x%04X length %d overruns parent ending at %d", id, n, parentEnd))
		return chunk{}, false
	}
	return chunk{id: id, start: r.off, end: begin + int(n)}, true
}

// within fails with ErrTruncated unless n bytes remain before end, so
// fixed-size chunk bodies never read into the next chunk.
func (r *reader) within(n, end int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > end {
		r.fail(wrapf(ErrTruncated, "chunk body needs %d bytes, has %d", n, end-r.off))
		return false
	}
	return true
}

// eachChunk calls fn for every child in [r.off, end) and leaves the
// cursor at end. Unknown chunks are skipped by the caller's default case.
func (r *reader) eachChunk(end int, fn func(c chunk)) {
	for {
		c, ok := r.nextChunk(end)
		if !ok {
			break
		}
		fn(c)
		r.seek(c.end)
	}
	if r.err == nil {
		r.seek(end)
	}
}

type tdsObject struct {
	name      string
	positions []smath.Vec3
	uvs       []smath.Vec3
	faces     [][3]int
	faceMats  map[string][]int
	matOrder  []string
	local     smath.Mat4
	hasLocal  bool
}

type tdsParser struct {
	req       *Request
	r         *reader
	s         *scene.Scene
	materials map[string]int
	objects   []*tdsObject
	version   uint32
}

// Decode parses req.Data.
func (ThreeDSDecoder) Decode(req *Request) (*scene.Scene, error) {
	r := newReader(threeDSFormat, req.Data)
	p := &tdsParser{req: req, r: r, materials: make(map[string]int)}
	main, ok := r.nextChunk(len(req.Data))
	if !ok {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, errAt(threeDSFormat, 0, ErrTruncated)
	}
	if main.id != chunkMain {
		return nil, errAt(threeDSFormat, 0, ErrInvalidMagic)
	}
	p.s = newScene(req, threeDSFormat, "")

	r.eachChunk(main.end, func(c chunk) {
		switch c.id {
		case chunkVersion:
			p.version = r.u32()
		case chunkEditor:
			p.parseEditor(c.end)
		}
	})
	if err := r.Err(); err != nil {
		return nil, err
	}
	if p.version != 0 {
		p.s.SetMeta(scene.MetaVersion, strconv.Itoa(int(p.version)))
	}
	if err := p.buildMeshes(); err != nil {
		return nil, err
	}
	if len(p.s.Meshes) == 0 {
		return nil, errFormat(threeDSFormat, wrapf(ErrMalformed, "no meshes"))
	}
	finishMeshes(p.s)
	zUpToYUp(p.s)
	return p.s, nil
}

func (p *tdsParser) parseEditor(end int) {
	r := p.r
	r.eachChunk(end, func(c chunk) {
		switch c.id {
		case chunkMaterial:
			p.parseMaterial(c.end)
		case chunkObject:
			name := r.cstr(256, encoding.Latin1)
			r.eachChunk(c.end, func(sub chunk) {
				switch sub.id {
				case chunkTriMesh:
					p.parseTriMesh(name, sub.end)
				case chunkLight:
					p.parseLight(name, sub.end)
				case chunkCamera:
					p.parseCamera(name, sub.end)
				}
			})
		}
	})
}

func (p *tdsParser) parseMaterial(end int) {
	r := p.r
	m := &scene.Material{}
	r.eachChunk(end, func(c chunk) {
		switch c.id {
		case chunkMatName:
			m.Set(scene.Key(scene.KeyName), scene.String(r.cstr(256, encoding.Latin1)))
		case chunkMatAmbient:
			m.SetColor(scene.KeyColorAmbient, p.readColor(c.end))
		case chunkMatDiffuse:
			m.SetColor(scene.KeyColorDiffuse, p.readColor(c.end))
		case chunkMatSpecular:
			m.SetColor(scene.KeyColorSpecular, p.readColor(c.end))
		case chunkMatShininess:
			m.SetFloat(scene.KeyShininess, p.readPercent(c.end))
		case chunkMatTransp:
			m.SetFloat(scene.KeyOpacity, 1-p.readPercent(c.end))
		case chunkMatTwoSided:
			m.Set(scene.Key(scene.KeyTwoSided), scene.Int(1))
		case chunkMatShading:
			m.Set(scene.Key(scene.KeyShadingModel), scene.Int(int32(r.u16())))
		case chunkMatTexture:
			p.readMap(m, scene.TextureDiffuse, c.end)
		case chunkMatSpecMap:
			p.readMap(m, scene.TextureSpecular, c.end)
		case chunkMatOpacMap:
			p.readMap(m, scene.TextureOpacity, c.end)
		case chunkMatBumpMap:
			p.readMap(m, scene.TextureHeight, c.end)
		}
	})
	if r.err != nil {
		return
	}
	name := m.Name()
	if name == "" {
		name = "material" + strconv.Itoa(len(p.materials))
		m.Set(scene.Key(scene.KeyName), scene.String(name))
	}
	p.materials[name] = p.s.AddMaterial(m)
}

func (p *tdsParser) readColor(end int) smath.Color4 {
	r := p.r
	col := smath.White
	found := false
	r.eachChunk(end, func(c chunk) {
		if found {
			return
		}
		switch c.id {
		case chunkColorF, chunkLinColorF:
			if r.within(12, c.end) {
				v := r.vec3()
				col = smath.Color4{R: v.X, G: v.Y, B: v.Z, A: 1}
				found = true
			}
		case chunkColor24, chunkLinColor24:
			if r.within(3, c.end) {
				col = smath.ColorFromBytes(r.u8(), r.u8(), r.u8(), 255)
				found = true
			}
		}
	})
	return col
}

func (p *tdsParser) readPercent(end int) float32 {
	r := p.r
	var v float32
	r.eachChunk(end, func(c chunk) {
		switch c.id {
		case chunkPercentI:
			if r.within(2, c.end) {
				v = float32(r.i16()) / 100
			}
		case chunkPercentF:
			if r.within(4, c.end) {
				v = r.f32()
			}
		}
	})
	return v
}

func (p *tdsParser) readMap(m *scene.Material, t scene.TextureType, end int) {
	r := p.r
	r.eachChunk(end, func(c chunk) {
		if c.id == chunkMatMapName {
			m.SetTexture(t, m.TextureCount(t), scene.TextureRef{Path: r.cstr(256, encoding.Latin1)})
		}
	})
}

func (p *tdsParser) parseTriMesh(name string, end int) {
	r := p.r
	obj := &tdsObject{name: name, faceMats: make(map[string][]int)}
	r.eachChunk(end, func(c chunk) {
		switch c.id {
		case chunkVertices:
			n := r.count(int64(r.u16()), 12, "vertices")
			obj.positions = make([]smath.Vec3, n)
			for i := range obj.positions {
				obj.positions[i] = r.vec3()
			}
		case chunkMapCoords:
			n := r.count(int64(r.u16()), 8, "uvs")
			obj.uvs = make([]smath.Vec3, n)
			for i := range obj.uvs {
				obj.uvs[i] = smath.Vec3{X: r.f32(), Y: r.f32()}
			}
		case chunkFaces:
			n := r.count(int64(r.u16()), 8, "faces")
			obj.faces = make([][3]int, n)
			for i := range obj.faces {
				obj.faces[i] = [3]int{int(r.u16()), int(r.u16()), int(r.u16())}
				r.u16() // edge visibility flags
			}
			r.eachChunk(c.end, func(sub chunk) {
				if sub.id != chunkFaceMat {
					return
				}
				mat := r.cstr(256, encoding.Latin1)
				k := r.count(int64(r.u16()), 2, "face materials")
				if _, seen := obj.faceMats[mat]; !seen {
					obj.matOrder = append(obj.matOrder, mat)
				}
				for i := 0; i < k; i++ {
					obj.faceMats[mat] = append(obj.faceMats[mat], int(r.u16()))
				}
			})
		case chunkLocalMatrix:
			if !r.within(48, c.end) {
				return
			}
			x, y, z, o := r.vec3(), r.vec3(), r.vec3(), r.vec3()
			obj.local = smath.Mat4{
				x.X, x.Y, x.Z, 0,
				y.X, y.Y, y.Z, 0,
				z.X, z.Y, z.Z, 0,
				o.X, o.Y, o.Z, 1,
			}
			obj.hasLocal = true
		}
	})
	if r.err == nil {
		p.objects = append(p.objects, obj)
	}
}

func (p *tdsParser) parseLight(name string, end int) {
	r := p.r
	if !r.within(12, end) {
		return
	}
	l := &scene.Light{Name: name, Type: scene.LightPoint, Position: r.vec3(), Diffuse: smath.White, AttenuationConstant: 1}
	r.eachChunk(end, func(c chunk) {
		switch c.id {
		case chunkColorF:
			if r.within(12, c.end) {
				v := r.vec3()
				l.Diffuse = smath.Color4{R: v.X, G: v.Y, B: v.Z, A: 1}
			}
		case chunkColor24:
			if r.within(3, c.end) {
				l.Diffuse = smath.ColorFromBytes(r.u8(), r.u8(), r.u8(), 255)
			}
		case chunkSpotlight:
			if !r.within(20, c.end) {
				return
			}
			target := r.vec3()
			hotspot, falloff := r.f32(), r.f32()
			l.Type = scene.LightSpot
			l.Direction = target.Sub(l.Position).Normalize()
			l.InnerCone = smath.Radians(hotspot)
			l.OuterCone = smath.Radians(falloff)
		}
	})
	l.Specular = l.Diffuse
	if r.err == nil {
		p.s.Lights = append(p.s.Lights, l)
		p.s.Root.AddChild(scene.NewNode(name))
	}
}

func (p *tdsParser) parseCamera(name string, end int) {
	r := p.r
	if !r.within(32, end) {
		return
	}
	pos, target := r.vec3(), r.vec3()
	r.f32() // bank angle
	lens := r.f32()
	if r.err != nil {
		return
	}
	fov := float32(math32.Pi / 4)
	if lens > 0 {
		fov = smath.Radians(2400 / lens)
	}
	p.s.Cameras = append(p.s.Cameras, &scene.Camera{
		Name:          name,
		Position:      pos,
		LookAt:        target.Sub(pos).Normalize(),
		Up:            smath.Vec3{Z: 1},
		HorizontalFOV: fov,
		ClipNear:      0.1,
		ClipFar:       1e5,
	})
	p.s.Root.AddChild(scene.NewNode(name))
}

// toLocal moves the object's vertices, which 3DS stores in world space,
// into the frame of its local matrix and gives node that matrix. A
// singular matrix leaves the vertices in world space.
func (obj *tdsObject) toLocal(node *scene.Node) {
	if !obj.hasLocal {
		return
	}
	inv, ok := obj.local.Inverse()
	if !ok {
		return
	}
	for i, v := range obj.positions {
		obj.positions[i] = inv.TransformPoint(v)
	}
	node.Transform = obj.local
}

// buildMeshes splits each object by face material, remapping vertices
// so every mesh only holds the vertices its faces use.
func (p *tdsParser) buildMeshes() error {
	for _, obj := range p.objects {
		if len(obj.faces) == 0 || len(obj.positions) == 0 {
			continue
		}
		hasUV := len(obj.uvs) == len(obj.positions)
		node := scene.NewNode(obj.name)
		obj.toLocal(node)
		assigned := make([]bool, len(obj.faces))
		type group struct {
			mat   int
			faces []int
		}
		var groups []group
		for _, name := range obj.matOrder {
			mi, ok := p.materials[name]
			if !ok {
				mi = -1
			}
			var faces []int
			for _, fi := range obj.faceMats[name] {
				if fi < 0 || fi >= len(obj.faces) {
					return errFormat(threeDSFormat, wrapf(ErrOutOfBounds, "object %q: face material index %d of %d", obj.name, fi, len(obj.faces)))
				}
				if !assigned[fi] {
					assigned[fi] = true
					faces = append(faces, fi)
				}
			}
			groups = append(groups, group{mat: mi, faces: faces})
		}
		var rest []int
		for fi, done := range assigned {
			if !done {
				rest = append(rest, fi)
			}
		}
		groups = append(groups, group{mat: -1, faces: rest})

		for _, g := range groups {
			if len(g.faces) == 0 {
				continue
			}
			b := newMeshBuilder(obj.name, g.mat)
			for _, fi := range g.faces {
				f := obj.faces[fi]
				var idx [3]int
				for k, vi := range f {
					if vi >= len(obj.positions) {
						return errFormat(threeDSFormat, wrapf(ErrOutOfBounds, "object %q: vertex index %d of %d", obj.name, vi, len(obj.positions)))
					}
					key := vertexKey{pos: vi, uv: -1, normal: -1, color: -1}
					var uv smath.Vec3
					if hasUV {
						key.uv = vi
						uv = obj.uvs[vi]
					}
					idx[k] = b.vertex(key, obj.positions[vi], uv, smath.Vec3{}, smath.Color4{})
				}
				b.face(idx[:]...)
			}
			node.Meshes = append(node.Meshes, p.s.AddMesh(b.build()))
		}
		p.s.Root.AddChild(node)
	}
	return nil
}
