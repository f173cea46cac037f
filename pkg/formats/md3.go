package formats

import (
	"bytes"
	"strconv"

	"github.com/chewxy/math32"

	"github.com/Faultbox/scenekit/pkg/encoding"
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const md3Format = "md3"

// MD3 layout constants.
const (
	md3Version     = 15
	md3HeaderSize  = 108
	md3SurfaceSize = 108
	md3FrameSize   = 56
	md3TagSize     = 112
	md3ShaderSize  = 68
	md3NameLen     = 64
	md3XYZScale    = 1.0 / 64
)

var md3Magic = []byte("IDP3")

// MD3Decoder reads Quake III vertex-animated models. Only the first frame
// is converted; tags become child nodes.
type MD3Decoder struct{}

// Info describes the decoder.
func (MD3Decoder) Info() Info {
	return Info{Name: md3Format, Description: "Quake III model", Extensions: []string{".md3"}}
}

// Probe checks the IDP3 magic and version.
func (MD3Decoder) Probe(header []byte, _ string) Match {
	if len(header) >= 8 && bytes.HasPrefix(header, md3Magic) && header[4] == md3Version && header[5] == 0 {
		return MatchSignature
	}
	return MatchNone
}

type md3Header struct {
	name                                    string
	numFrames, numTags, numSurfaces         int32
	ofsFrames, ofsTags, ofsSurfaces, ofsEnd int32
}

// Decode parses req.Data.
func (MD3Decoder) Decode(req *Request) (*scene.Scene, error) {
	r := newReader(md3Format, req.Data)
	if !r.need(md3HeaderSize) {
		return nil, r.Err()
	}
	if !bytes.Equal(r.bytes(4), md3Magic) {
		return nil, errAt(md3Format, 0, ErrInvalidMagic)
	}
	if v := r.i32(); v != md3Version {
		return nil, errAt(md3Format, 4, wrapf(ErrUnsupportedVersion, "version %d", v))
	}
	var h md3Header
	h.name = r.str(md3NameLen, encoding.Latin1)
	r.skip(4) // flags
	h.numFrames = r.i32()
	h.numTags = r.i32()
	h.numSurfaces = r.i32()
	r.skip(4) // skins
	h.ofsFrames = r.i32()
	h.ofsTags = r.i32()
	h.ofsSurfaces = r.i32()
	h.ofsEnd = r.i32()
	if h.numFrames < 1 {
		return nil, errAt(md3Format, 76, wrapf(ErrMalformed, "model has no frames"))
	}

	s := newScene(req, md3Format, strconv.Itoa(md3Version))
	if h.name != "" {
		s.Root.Name = h.name
	}

	// frame count is only validated; geometry comes from frame 0
	r.seek(int(h.ofsFrames))
	r.count(int64(h.numFrames), md3FrameSize, "frames")

	r.seek(int(h.ofsTags))
	nTags := r.count(int64(h.numTags), md3TagSize, "tags")
	for i := 0; i < nTags; i++ {
		name := r.str(md3NameLen, encoding.Latin1)
		origin := r.vec3()
		ax, ay, az := r.vec3(), r.vec3(), r.vec3()
		tag := scene.NewNode(name)
		tag.Transform = smath.Mat4{
			ax.X, ax.Y, ax.Z, 0,
			ay.X, ay.Y, ay.Z, 0,
			az.X, az.Y, az.Z, 0,
			origin.X, origin.Y, origin.Z, 1,
		}
		tag.Metadata = map[string]string{"md3.tag": "true"}
		s.Root.AddChild(tag)
	}

	off := int(h.ofsSurfaces)
	for i := int32(0); i < h.numSurfaces; i++ {
		if r.Err() != nil {
			break
		}
		next, err := md3Surface(r, s, off)
		if err != nil {
			return nil, err
		}
		off = next
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(s.Meshes) == 0 {
		return nil, errFormat(md3Format, wrapf(ErrMalformed, "model has no surfaces"))
	}
	attachMeshes(s)
	finishMeshes(s)
	zUpToYUp(s)
	return s, nil
}

// md3Surface decodes the surface at off and returns the offset of the next.
func md3Surface(r *reader, s *scene.Scene, off int) (int, error) {
	r.seek(off)
	if !r.need(md3SurfaceSize) {
		return 0, r.Err()
	}
	if !bytes.Equal(r.bytes(4), md3Magic) {
		return 0, errAt(md3Format, off, wrapf(ErrInvalidMagic, "surface"))
	}
	name := r.str(md3NameLen, encoding.Latin1)
	r.skip(4) // flags
	numFrames := r.i32()
	numShaders := r.i32()
	numVerts := r.i32()
	numTris := r.i32()
	ofsTris := r.i32()
	ofsShaders := r.i32()
	ofsST := r.i32()
	ofsXYZ := r.i32()
	ofsEnd := r.i32()
	if ofsEnd <= 0 {
		return 0, errAt(md3Format, off+104, wrapf(ErrMalformed, "surface %q end offset %d", name, ofsEnd))
	}
	if numFrames < 1 {
		return 0, errAt(md3Format, off+72, wrapf(ErrMalformed, "surface %q has no frames", name))
	}

	mat := scene.NewMaterial(name)
	r.seek(off + int(ofsShaders))
	nShaders := r.count(int64(numShaders), md3ShaderSize, "shaders")
	for i := 0; i < nShaders; i++ {
		shader := encoding.NormalizePath(r.str(md3NameLen, encoding.Latin1))
		r.skip(4)
		if shader != "" {
			mat.SetTexture(scene.TextureDiffuse, i, scene.TextureRef{Path: shader})
		}
	}
	matIndex := s.AddMaterial(mat)

	m := &scene.Mesh{Name: name, MaterialIndex: matIndex}

	r.seek(off + int(ofsXYZ))
	nVerts := r.count(int64(numVerts), 8, "vertices")
	m.Positions = make([]smath.Vec3, nVerts)
	m.Normals = make([]smath.Vec3, nVerts)
	for i := 0; i < nVerts; i++ {
		x, y, z := r.i16(), r.i16(), r.i16()
		m.Positions[i] = smath.Vec3{X: float32(x), Y: float32(y), Z: float32(z)}.Scale(md3XYZScale)
		m.Normals[i] = md3Normal(r.u16())
	}

	r.seek(off + int(ofsST))
	r.count(int64(nVerts), 8, "texcoords")
	uvs := make([]smath.Vec3, nVerts)
	for i := range uvs {
		u, v := r.f32(), r.f32()
		uvs[i] = smath.Vec3{X: u, Y: 1 - v}
	}
	m.AddTexCoords(uvs, 2)

	r.seek(off + int(ofsTris))
	nTris := r.count(int64(numTris), 12, "triangles")
	m.Faces = make([]scene.Face, 0, nTris)
	for i := 0; i < nTris; i++ {
		a, b, c := int(r.i32()), int(r.i32()), int(r.i32())
		for _, ix := range [3]int{a, b, c} {
			if ix < 0 || ix >= nVerts {
				if r.Err() != nil {
					return 0, r.Err()
				}
				return 0, errAt(md3Format, r.off-12, wrapf(ErrOutOfBounds, "triangle index %d with %d vertices", ix, nVerts))
			}
		}
		// stored clockwise
		m.Faces = append(m.Faces, scene.Face{Indices: []int{c, b, a}})
	}
	if err := r.Err(); err != nil {
		return 0, err
	}
	if nVerts > 0 && nTris > 0 {
		s.AddMesh(m)
	}
	return off + int(ofsEnd), nil
}

// md3Normal decodes the packed latitude/longitude normal encoding.
func md3Normal(packed uint16) smath.Vec3 {
	lat := float32(packed>>8) * (2 * math32.Pi / 255)
	lng := float32(packed&0xff) * (2 * math32.Pi / 255)
	sinLat, cosLat := math32.Sincos(lat)
	sinLng, cosLng := math32.Sincos(lng)
	return smath.Vec3{X: cosLat * sinLng, Y: sinLat * sinLng, Z: cosLng}
}
