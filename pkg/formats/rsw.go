package formats

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/encoding"
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const rswFormat = "rsw"

var rswMagic = []byte("GRSW")

// RSWVersion represents the RSW file version.
type RSWVersion struct {
	Major       uint8
	Minor       uint8
	BuildNumber uint32 // v2.2+
}

// String returns the version as "Major.Minor" or "Major.Minor.Build".
func (v RSWVersion) String() string {
	if v.BuildNumber > 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.BuildNumber)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v RSWVersion) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RSWObjectType is the kind of a placed world object.
type RSWObjectType int32

const (
	RSWObjectModel  RSWObjectType = 1
	RSWObjectLight  RSWObjectType = 2
	RSWObjectSound  RSWObjectType = 3
	RSWObjectEffect RSWObjectType = 4
)

// String returns a human-readable object type name.
func (t RSWObjectType) String() string {
	switch t {
	case RSWObjectModel:
		return "model"
	case RSWObjectLight:
		return "light"
	case RSWObjectSound:
		return "sound"
	case RSWObjectEffect:
		return "effect"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// RSWWater holds the water plane settings (v1.3 to v2.5).
type RSWWater struct {
	Level      float32
	Type       int32
	WaveHeight float32
	WaveSpeed  float32
	WavePitch  float32
	AnimSpeed  int32
}

// RSWLight holds the global sun settings. Angles are in degrees.
type RSWLight struct {
	Longitude int32
	Latitude  int32
	Diffuse   smath.Vec3
	Ambient   smath.Vec3
	Opacity   float32 // v1.7+
}

// RSWGround holds the ground view bounds (v1.6+).
type RSWGround struct {
	Top, Bottom, Left, Right int32
}

// RSWModel places an RSM model in the world. Rotation is in degrees.
type RSWModel struct {
	Name      string
	AnimType  int32
	AnimSpeed float32
	BlockType int32
	ModelName string
	NodeName  string
	Position  smath.Vec3
	Rotation  smath.Vec3
	Scale     smath.Vec3
}

// RSWLightSource is a point light.
type RSWLightSource struct {
	Name     string
	Position smath.Vec3
	Color    smath.Vec3
	Range    float32
}

// RSWSoundSource is an ambient sound emitter.
type RSWSoundSource struct {
	Name     string
	File     string
	Position smath.Vec3
	Volume   float32
	Width    int32
	Height   int32
	Range    float32
	Cycle    float32 // v2.0+
}

// RSWEffectSource is a particle effect emitter.
type RSWEffectSource struct {
	Name     string
	Position smath.Vec3
	EffectID int32
	Delay    float32
	Param    [4]float32
}

// RSWObject is one placed object; exactly one payload is set.
type RSWObject struct {
	Type   RSWObjectType
	Model  *RSWModel
	Light  *RSWLightSource
	Sound  *RSWSoundSource
	Effect *RSWEffectSource
}

// RSW is a parsed Ragnarok Online world file.
type RSW struct {
	Version  RSWVersion
	IniFile  string
	GndFile  string
	GatFile  string // v1.4+
	SrcFile  string // v1.4+
	Water    RSWWater
	Light    RSWLight
	Ground   RSWGround
	Objects  []RSWObject
	Quadtree []smath.Vec3 // v2.1+, flattened min/max pairs
}

// CountByType returns the object count per type.
func (w *RSW) CountByType() map[RSWObjectType]int {
	counts := make(map[RSWObjectType]int)
	for _, obj := range w.Objects {
		counts[obj.Type]++
	}
	return counts
}

// Models returns all model placements.
func (w *RSW) Models() []*RSWModel {
	var models []*RSWModel
	for _, obj := range w.Objects {
		if obj.Model != nil {
			models = append(models, obj.Model)
		}
	}
	return models
}

// Lights returns all light sources.
func (w *RSW) Lights() []*RSWLightSource {
	var lights []*RSWLightSource
	for _, obj := range w.Objects {
		if obj.Light != nil {
			lights = append(lights, obj.Light)
		}
	}
	return lights
}

const (
	rswFileNameLen = 40
	rswNameLen     = 80
	// smallest object payload: an effect
	rswMinObjectSize = 4 + rswNameLen + 12 + 8 + 16
)

// ParseRSW parses RSW data. Versions 1.2 through 2.6 are supported.
func ParseRSW(data []byte) (*RSW, error) {
	r := newReader(rswFormat, data)
	if !r.need(6) {
		return nil, r.Err()
	}
	if !bytes.Equal(r.bytes(4), rswMagic) {
		return nil, errAt(rswFormat, 0, ErrInvalidMagic)
	}
	w := &RSW{Version: RSWVersion{Major: r.u8(), Minor: r.u8()}}
	v := w.Version
	if !v.AtLeast(1, 2) || v.Major > 2 || (v.Major == 2 && v.Minor > 6) {
		return nil, errAt(rswFormat, 4, wrapf(ErrUnsupportedVersion, "version %s", v))
	}

	if v.AtLeast(2, 5) {
		w.Version.BuildNumber = r.u32()
		r.skip(1) // render flag
	} else if v.AtLeast(2, 2) {
		w.Version.BuildNumber = uint32(r.u8())
	}

	w.IniFile = r.str(rswFileNameLen, encoding.EUCKR)
	w.GndFile = r.str(rswFileNameLen, encoding.EUCKR)
	if v.AtLeast(1, 4) {
		w.GatFile = r.str(rswFileNameLen, encoding.EUCKR)
		w.SrcFile = r.str(rswFileNameLen, encoding.EUCKR)
	}

	if v.AtLeast(1, 3) && !v.AtLeast(2, 6) {
		w.Water = RSWWater{
			Level:      r.f32(),
			Type:       r.i32(),
			WaveHeight: r.f32(),
			WaveSpeed:  r.f32(),
			WavePitch:  r.f32(),
			AnimSpeed:  r.i32(),
		}
	}
	if v.AtLeast(1, 5) {
		w.Light.Longitude = r.i32()
		w.Light.Latitude = r.i32()
		w.Light.Diffuse = r.vec3()
		w.Light.Ambient = r.vec3()
	}
	if v.AtLeast(1, 7) {
		w.Light.Opacity = r.f32()
	}
	if v.AtLeast(1, 6) {
		w.Ground = RSWGround{Top: r.i32(), Bottom: r.i32(), Left: r.i32(), Right: r.i32()}
	}

	n := r.count(int64(r.i32()), rswMinObjectSize, "objects")
	w.Objects = make([]RSWObject, 0, n)
	for i := 0; i < n; i++ {
		obj := parseRSWObject(r, w.Version)
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		w.Objects = append(w.Objects, obj)
	}

	if v.AtLeast(2, 1) {
		for r.Err() == nil && r.remaining() >= 12 {
			w.Quadtree = append(w.Quadtree, r.vec3())
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return w, nil
}

func parseRSWObject(r *reader, v RSWVersion) RSWObject {
	start := r.off
	obj := RSWObject{Type: RSWObjectType(r.i32())}
	switch obj.Type {
	case RSWObjectModel:
		m := &RSWModel{}
		if v.AtLeast(1, 3) {
			m.Name = r.str(rswFileNameLen, encoding.EUCKR)
			m.AnimType = r.i32()
			m.AnimSpeed = r.f32()
			m.BlockType = r.i32()
		}
		if v.AtLeast(2, 6) && v.BuildNumber >= 162 {
			r.skip(1)
		}
		m.ModelName = r.str(rswNameLen, encoding.EUCKR)
		m.NodeName = r.str(rswNameLen, encoding.EUCKR)
		m.Position, m.Rotation, m.Scale = r.vec3(), r.vec3(), r.vec3()
		obj.Model = m
	case RSWObjectLight:
		l := &RSWLightSource{Name: r.str(rswNameLen, encoding.EUCKR)}
		l.Position, l.Color, l.Range = r.vec3(), r.vec3(), r.f32()
		obj.Light = l
	case RSWObjectSound:
		s := &RSWSoundSource{
			Name: r.str(rswNameLen, encoding.EUCKR),
			File: r.str(rswNameLen, encoding.EUCKR),
		}
		s.Position = r.vec3()
		s.Volume, s.Width, s.Height, s.Range = r.f32(), r.i32(), r.i32(), r.f32()
		if v.AtLeast(2, 0) {
			s.Cycle = r.f32()
		}
		obj.Sound = s
	case RSWObjectEffect:
		e := &RSWEffectSource{Name: r.str(rswNameLen, encoding.EUCKR)}
		e.Position = r.vec3()
		e.EffectID, e.Delay = r.i32(), r.f32()
		for k := range e.Param {
			e.Param[k] = r.f32()
		}
		obj.Effect = e
	default:
		if r.Err() == nil {
			r.off = start
			r.fail(wrapf(ErrMalformed, "unknown object type %d", obj.Type))
		}
	}
	return obj
}

// RSWDecoder assembles a world scene: the ground from the referenced GND
// and every placed RSM model, resolved through the request resolver.
// Missing references fail the import.
type RSWDecoder struct{}

// Info describes the decoder.
func (RSWDecoder) Info() Info {
	return Info{Name: rswFormat, Description: "Ragnarok Online world", Extensions: []string{".rsw"}}
}

// Probe checks the GRSW magic.
func (RSWDecoder) Probe(header []byte, _ string) Match {
	if bytes.HasPrefix(header, rswMagic) {
		return MatchSignature
	}
	return MatchNone
}

// Decode parses req.Data and resolves its ground and models.
func (RSWDecoder) Decode(req *Request) (*scene.Scene, error) {
	w, err := ParseRSW(req.Data)
	if err != nil {
		return nil, err
	}
	s := newScene(req, rswFormat, w.Version.String())

	gndData, err := resolveAny(req, rswFormat, rswCandidates(w.GndFile, "data/")...)
	if err != nil {
		return nil, err
	}
	g, err := ParseGND(gndData)
	if err != nil {
		return nil, errFormat(rswFormat, fmt.Errorf("ground %q: %w", w.GndFile, err))
	}
	if terrain := gndToScene(g, s); terrain != nil {
		s.Root.AddChild(terrain)
	}
	offX, offZ := float32(g.Width)*g.Zoom/2, float32(g.Height)*g.Zoom/2

	b := &rswBuilder{req: req, s: s, templates: make(map[string]*scene.Node)}
	objects := scene.NewNode("objects")
	for i, obj := range w.Objects {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		switch {
		case obj.Model != nil:
			n, err := b.model(obj.Model, offX, offZ)
			if err != nil {
				return nil, errFormat(rswFormat, fmt.Errorf("object %d: %w", i, err))
			}
			objects.AddChild(n)
		case obj.Light != nil:
			l := obj.Light
			s.Lights = append(s.Lights, rswPointLight(l, offX, offZ))
		case obj.Sound != nil:
			objects.AddChild(rswMarker(obj.Sound.Name, "sound", obj.Sound.Position, offX, offZ,
				map[string]string{"rsw.file": obj.Sound.File}))
		case obj.Effect != nil:
			objects.AddChild(rswMarker(obj.Effect.Name, "effect", obj.Effect.Position, offX, offZ,
				map[string]string{"rsw.effect_id": strconv.Itoa(int(obj.Effect.EffectID))}))
		}
	}
	if len(objects.Children) > 0 {
		s.Root.AddChild(objects)
	}
	if w.Version.AtLeast(1, 5) {
		s.Lights = append(s.Lights, rswSun(w.Light))
	}
	if w.Version.AtLeast(1, 3) && !w.Version.AtLeast(2, 6) {
		s.SetMeta("rsw.water_level", strconv.FormatFloat(float64(-w.Water.Level), 'g', -1, 32))
	}
	if len(s.Meshes) == 0 {
		return nil, errFormat(rswFormat, wrapf(ErrMalformed, "world has no geometry"))
	}
	finishMeshes(s)
	return s, nil
}

// rswCandidates lists the names a world reference may be stored under.
func rswCandidates(name, prefix string) []string {
	name = encoding.NormalizePath(name)
	return []string{name, prefix + name, "data/" + prefix + name}
}

type rswBuilder struct {
	req       *Request
	s         *scene.Scene
	templates map[string]*scene.Node
}

// model returns the placement node for m. Each RSM is decoded once; later
// instances clone the first instance's subtree and share its meshes.
func (b *rswBuilder) model(m *RSWModel, offX, offZ float32) (*scene.Node, error) {
	key := encoding.NormalizePath(m.ModelName)
	tmpl, ok := b.templates[key]
	var inst *scene.Node
	if ok {
		inst = tmpl.Clone()
	} else {
		data, err := resolveAny(b.req, rswFormat, rswCandidates(m.ModelName, "model/")...)
		if err != nil {
			return nil, err
		}
		rsm, err := ParseRSM(data)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.ModelName, err)
		}
		tmpl, err = rsmToScene(b.req, rsm, b.s, baseName(key))
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.ModelName, err)
		}
		if anim := rsmAnimation(rsm, key); anim != nil {
			b.s.Animations = append(b.s.Animations, anim)
		}
		b.templates[key] = tmpl
		b.req.logger().Debug("rsw model loaded", zap.String("model", key), zap.Int("nodes", len(rsm.Nodes)))
		inst = tmpl
	}

	name := m.Name
	if name == "" {
		name = baseName(key)
	}
	place := scene.NewNode(name)
	place.Transform = smath.Translate(m.Position.X+offX, -m.Position.Y, m.Position.Z+offZ).
		Mul(smath.RotateY(smath.Radians(m.Rotation.Y))).
		Mul(smath.RotateX(smath.Radians(m.Rotation.X))).
		Mul(smath.RotateZ(smath.Radians(m.Rotation.Z))).
		Mul(smath.Scale(m.Scale.X, m.Scale.Y, m.Scale.Z))
	place.Metadata = map[string]string{"rsw.model": key}
	place.AddChild(inst)
	return place, nil
}

func rswPointLight(l *RSWLightSource, offX, offZ float32) *scene.Light {
	out := &scene.Light{
		Name:                l.Name,
		Type:                scene.LightPoint,
		Position:            smath.Vec3{X: l.Position.X + offX, Y: -l.Position.Y, Z: l.Position.Z + offZ},
		Diffuse:             smath.Color4{R: l.Color.X, G: l.Color.Y, B: l.Color.Z, A: 1},
		Specular:            smath.Color4{R: l.Color.X, G: l.Color.Y, B: l.Color.Z, A: 1},
		AttenuationConstant: 1,
	}
	if l.Range > 0 {
		out.AttenuationQuadratic = 1 / (l.Range * l.Range)
	}
	return out
}

// rswSun converts the sun angles into a directional light pointing from
// the sun toward the ground.
func rswSun(l RSWLight) *scene.Light {
	lon, lat := smath.Radians(float32(l.Longitude)), smath.Radians(float32(l.Latitude))
	toSun := smath.Vec3{
		X: math32.Cos(lat) * math32.Sin(lon),
		Y: math32.Sin(lat),
		Z: math32.Cos(lat) * math32.Cos(lon),
	}
	return &scene.Light{
		Name:                "sun",
		Type:                scene.LightDirectional,
		Direction:           toSun.Neg().Normalize(),
		Diffuse:             smath.Color4{R: l.Diffuse.X, G: l.Diffuse.Y, B: l.Diffuse.Z, A: 1},
		Ambient:             smath.Color4{R: l.Ambient.X, G: l.Ambient.Y, B: l.Ambient.Z, A: 1},
		AttenuationConstant: 1,
	}
}

func rswMarker(name, kind string, pos smath.Vec3, offX, offZ float32, meta map[string]string) *scene.Node {
	n := scene.NewNode(name)
	n.Transform = smath.Translate(pos.X+offX, -pos.Y, pos.Z+offZ)
	n.Metadata = meta
	n.Metadata["rsw.type"] = kind
	return n
}
