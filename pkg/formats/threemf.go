package formats

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/h2non/filetype"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const threeMFFormat = "3mf"

const (
	threeMFRels      = "_rels/.rels"
	threeMFModelRel  = "http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel"
	threeMFModelPart = "3D/3dmodel.model"
	threeMFMaxPart   = 1 << 30
)

// ThreeMFDecoder reads 3D Manufacturing Format packages.
type ThreeMFDecoder struct{}

// Info describes the decoder.
func (ThreeMFDecoder) Info() Info {
	return Info{Name: threeMFFormat, Description: "3D Manufacturing Format", Extensions: []string{".3mf"}}
}

// Probe accepts zip archives that carry the 3MF extension or a 3D/ part
// near the start of the archive.
func (ThreeMFDecoder) Probe(header []byte, ext string) Match {
	if !filetype.Is(header, "zip") {
		return MatchNone
	}
	if ext == ".3mf" || bytes.Contains(header, []byte("3D/")) {
		return MatchSignature
	}
	return MatchNone
}

type xmlModel struct {
	Unit      string        `xml:"unit,attr"`
	Metadata  []xmlMeta     `xml:"metadata"`
	Materials []xmlBaseMats `xml:"resources>basematerials"`
	Objects   []xmlObject   `xml:"resources>object"`
	Items     []xmlItem     `xml:"build>item"`
}

type xmlMeta struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlBaseMats struct {
	ID    int `xml:"id,attr"`
	Bases []struct {
		Name  string `xml:"name,attr"`
		Color string `xml:"displaycolor,attr"`
	} `xml:"base"`
}

type xmlObject struct {
	ID         int            `xml:"id,attr"`
	Name       string         `xml:"name,attr"`
	PID        *int           `xml:"pid,attr"`
	PIndex     int            `xml:"pindex,attr"`
	Vertices   []xmlVertex    `xml:"mesh>vertices>vertex"`
	Triangles  []xmlTriangle  `xml:"mesh>triangles>triangle"`
	Components []xmlComponent `xml:"components>component"`
}

type xmlVertex struct {
	X float32 `xml:"x,attr"`
	Y float32 `xml:"y,attr"`
	Z float32 `xml:"z,attr"`
}

type xmlTriangle struct {
	V1  int  `xml:"v1,attr"`
	V2  int  `xml:"v2,attr"`
	V3  int  `xml:"v3,attr"`
	PID *int `xml:"pid,attr"`
	P1  *int `xml:"p1,attr"`
}

type xmlComponent struct {
	ObjectID  int    `xml:"objectid,attr"`
	Transform string `xml:"transform,attr"`
}

type xmlItem struct {
	ObjectID  int    `xml:"objectid,attr"`
	Transform string `xml:"transform,attr"`
}

type xmlRels struct {
	Rels []struct {
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type matKey struct{ group, index int }

type threeMFBuilder struct {
	s         *scene.Scene
	objects   map[int]*xmlObject
	materials map[matKey]int
	meshes    map[int][]int
	building  map[int]bool
}

// Decode parses req.Data.
func (ThreeMFDecoder) Decode(req *Request) (*scene.Scene, error) {
	zr, err := zip.NewReader(bytes.NewReader(req.Data), int64(len(req.Data)))
	if err != nil {
		return nil, errFormat(threeMFFormat, zipErr(err))
	}
	part, err := threeMFModelFile(zr)
	if err != nil {
		return nil, errFormat(threeMFFormat, err)
	}
	raw, err := readZipFile(part)
	if err != nil {
		return nil, errFormat(threeMFFormat, fmt.Errorf("%s: %w", part.Name, err))
	}
	var model xmlModel
	if err := xml.Unmarshal(raw, &model); err != nil {
		return nil, errFormat(threeMFFormat, fmt.Errorf("%w: %s: %v", ErrMalformed, part.Name, err))
	}

	b := &threeMFBuilder{
		s:         newScene(req, threeMFFormat, ""),
		objects:   make(map[int]*xmlObject),
		materials: make(map[matKey]int),
		meshes:    make(map[int][]int),
		building:  make(map[int]bool),
	}
	if model.Unit != "" {
		b.s.SetMeta("3mf.unit", model.Unit)
	}
	for _, m := range model.Metadata {
		b.s.SetMeta("3mf."+m.Name, strings.TrimSpace(m.Value))
	}
	for _, group := range model.Materials {
		for i, base := range group.Bases {
			mat := scene.NewMaterial(base.Name)
			if c, ok := parseHexColor(base.Color); ok {
				mat.SetColor(scene.KeyColorDiffuse, c)
			}
			b.materials[matKey{group.ID, i}] = b.s.AddMaterial(mat)
		}
	}
	for i := range model.Objects {
		obj := &model.Objects[i]
		if _, dup := b.objects[obj.ID]; dup {
			return nil, errFormat(threeMFFormat, wrapf(ErrMalformed, "duplicate object id %d", obj.ID))
		}
		b.objects[obj.ID] = obj
	}
	for _, obj := range model.Objects {
		if err := b.meshesFor(&obj); err != nil {
			return nil, errFormat(threeMFFormat, err)
		}
	}

	items := model.Items
	if len(items) == 0 {
		for _, obj := range model.Objects {
			items = append(items, xmlItem{ObjectID: obj.ID})
		}
	}
	for _, it := range items {
		n, err := b.instance(it.ObjectID, it.Transform)
		if err != nil {
			return nil, errFormat(threeMFFormat, err)
		}
		b.s.Root.AddChild(n)
	}
	if len(b.s.Meshes) == 0 {
		return nil, errFormat(threeMFFormat, wrapf(ErrMalformed, "package has no mesh objects"))
	}
	finishMeshes(b.s)
	zUpToYUp(b.s)
	return b.s, nil
}

func zipErr(err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// threeMFModelFile finds the root model part via the package relationships,
// falling back to the conventional part name.
func threeMFModelFile(zr *zip.Reader) (*zip.File, error) {
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[strings.ToLower(strings.TrimPrefix(f.Name, "/"))] = f
	}
	target := threeMFModelPart
	if f, ok := byName[threeMFRels]; ok {
		if raw, err := readZipFile(f); err == nil {
			var rels xmlRels
			if xml.Unmarshal(raw, &rels) == nil {
				for _, rel := range rels.Rels {
					if rel.Type == threeMFModelRel {
						target = path.Clean(strings.TrimPrefix(rel.Target, "/"))
						break
					}
				}
			}
		}
	}
	if f, ok := byName[strings.ToLower(target)]; ok {
		return f, nil
	}
	return nil, wrapf(ErrReferenceUnresolved, "model part %q not in package", target)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, zipErr(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, threeMFMaxPart+1))
	if err != nil {
		return nil, zipErr(err)
	}
	if len(data) > threeMFMaxPart {
		return nil, wrapf(ErrOutOfBounds, "part exceeds %d bytes", threeMFMaxPart)
	}
	return data, nil
}

// meshesFor converts the mesh of obj, one scene mesh per material used.
func (b *threeMFBuilder) meshesFor(obj *xmlObject) error {
	if len(obj.Triangles) == 0 {
		return nil
	}
	def := -1
	if obj.PID != nil {
		if mi, ok := b.materials[matKey{*obj.PID, obj.PIndex}]; ok {
			def = mi
		}
	}
	name := obj.Name
	if name == "" {
		name = "object_" + strconv.Itoa(obj.ID)
	}
	builders := make(map[int]*meshBuilder)
	var order []int
	for ti, tri := range obj.Triangles {
		for _, v := range [3]int{tri.V1, tri.V2, tri.V3} {
			if v < 0 || v >= len(obj.Vertices) {
				return wrapf(ErrOutOfBounds, "object %d triangle %d vertex %d of %d", obj.ID, ti, v, len(obj.Vertices))
			}
		}
		mat := def
		if tri.PID != nil {
			idx := obj.PIndex
			if tri.P1 != nil {
				idx = *tri.P1
			}
			if mi, ok := b.materials[matKey{*tri.PID, idx}]; ok {
				mat = mi
			}
		}
		mb, ok := builders[mat]
		if !ok {
			mb = newMeshBuilder(name, mat)
			builders[mat] = mb
			order = append(order, mat)
		}
		var ix [3]int
		for k, v := range [3]int{tri.V1, tri.V2, tri.V3} {
			p := obj.Vertices[v]
			ix[k] = mb.vertex(vertexKey{pos: v, uv: -1, normal: -1, color: -1},
				smath.Vec3{X: p.X, Y: p.Y, Z: p.Z}, smath.Vec3{}, smath.Vec3{}, smath.Color4{})
		}
		mb.face(ix[0], ix[1], ix[2])
	}
	for _, mat := range order {
		b.meshes[obj.ID] = append(b.meshes[obj.ID], b.s.AddMesh(builders[mat].build()))
	}
	return nil
}

// instance builds the node for one placement of an object, recursing into
// components.
func (b *threeMFBuilder) instance(id int, transform string) (*scene.Node, error) {
	obj, ok := b.objects[id]
	if !ok {
		return nil, wrapf(ErrReferenceUnresolved, "object %d", id)
	}
	if b.building[id] {
		return nil, wrapf(ErrMalformed, "component cycle through object %d", id)
	}
	m, err := parse3MFTransform(transform)
	if err != nil {
		return nil, err
	}
	name := obj.Name
	if name == "" {
		name = "object_" + strconv.Itoa(id)
	}
	n := scene.NewNode(name)
	n.Transform = m
	n.Meshes = append(n.Meshes, b.meshes[id]...)

	b.building[id] = true
	defer delete(b.building, id)
	for _, c := range obj.Components {
		child, err := b.instance(c.ObjectID, c.Transform)
		if err != nil {
			return nil, err
		}
		n.AddChild(child)
	}
	return n, nil
}

// parse3MFTransform reads the 12-value affine matrix. 3MF stores row
// vectors, so the values map directly onto column-major storage.
func parse3MFTransform(s string) (smath.Mat4, error) {
	f := strings.Fields(s)
	if len(f) == 0 {
		return smath.Identity(), nil
	}
	if len(f) != 12 {
		return smath.Mat4{}, wrapf(ErrMalformed, "transform has %d values, want 12", len(f))
	}
	var v [12]float32
	for i, tok := range f {
		x, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return smath.Mat4{}, wrapf(ErrMalformed, "transform value %q", tok)
		}
		v[i] = float32(x)
	}
	return smath.Mat4{
		v[0], v[1], v[2], 0,
		v[3], v[4], v[5], 0,
		v[6], v[7], v[8], 0,
		v[9], v[10], v[11], 1,
	}, nil
}

// parseHexColor parses #RRGGBB or #RRGGBBAA.
func parseHexColor(s string) (smath.Color4, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return smath.Color4{}, false
	}
	if len(s) == 6 {
		s += "ff"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return smath.Color4{}, false
	}
	return smath.ColorFromBytes(uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v)), true
}
