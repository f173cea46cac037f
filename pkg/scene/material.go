package scene

import (
	"slices"

	"github.com/Faultbox/scenekit/pkg/math"
)

// TextureType is the semantic a texture is bound with.
type TextureType int

const (
	TextureNone TextureType = iota
	TextureDiffuse
	TextureSpecular
	TextureAmbient
	TextureEmissive
	TextureHeight
	TextureNormals
	TextureShininess
	TextureOpacity
	TextureLightmap
	TextureBaseColor
	TextureMetallicRoughness
	TextureOcclusion
	TextureUnknown
)

var textureTypeNames = [...]string{
	"none", "diffuse", "specular", "ambient", "emissive", "height", "normals",
	"shininess", "opacity", "lightmap", "base_color", "metallic_roughness",
	"occlusion", "unknown",
}

func (t TextureType) String() string {
	if t < 0 || int(t) >= len(textureTypeNames) {
		return "unknown"
	}
	return textureTypeNames[t]
}

// Well-known property names.
const (
	KeyName          = "name"
	KeyColorDiffuse  = "color.diffuse"
	KeyColorAmbient  = "color.ambient"
	KeyColorSpecular = "color.specular"
	KeyColorEmissive = "color.emissive"
	KeyShininess     = "shininess"
	KeyOpacity       = "opacity"
	KeyTwoSided      = "twosided"
	KeyShadingModel  = "shading"
	KeyMetallic      = "pbr.metallic"
	KeyRoughness     = "pbr.roughness"
	KeyBaseColor     = "pbr.base_color"
	KeyAlphaCutoff   = "alpha.cutoff"
	KeyTexture       = "texture"
)

// PropertyKey identifies a material property. Semantic and Index are only
// meaningful for texture bindings.
type PropertyKey struct {
	Name     string
	Semantic TextureType
	Index    int
}

// Key returns a plain (non-texture) property key.
func Key(name string) PropertyKey {
	return PropertyKey{Name: name}
}

// TexKey returns the key of the index-th texture of semantic t.
func TexKey(t TextureType, index int) PropertyKey {
	return PropertyKey{Name: KeyTexture, Semantic: t, Index: index}
}

// Value is a typed material property value: Float, Floats, Int, String or
// TextureRef.
type Value interface {
	equal(Value) bool
}

// Float is a scalar property.
type Float float32

// Floats is a vector property, used for colors.
type Floats []float32

// Int is an integer property.
type Int int32

// String is a text property.
type String string

// TextureRef binds a texture. Path is either an external file path or "*N"
// referencing Scene.Textures[N].
type TextureRef struct {
	Path    string
	UVIndex int
}

func (v Float) equal(o Value) bool      { w, ok := o.(Float); return ok && v == w }
func (v Int) equal(o Value) bool        { w, ok := o.(Int); return ok && v == w }
func (v String) equal(o Value) bool     { w, ok := o.(String); return ok && v == w }
func (v TextureRef) equal(o Value) bool { w, ok := o.(TextureRef); return ok && v == w }
func (v Floats) equal(o Value) bool {
	w, ok := o.(Floats)
	return ok && slices.Equal(v, w)
}

// Property is a single key/value pair.
type Property struct {
	Key   PropertyKey
	Value Value
}

// Material is an ordered property map.
type Material struct {
	Properties []Property
}

// NewMaterial returns a material carrying only a name.
func NewMaterial(name string) *Material {
	m := &Material{}
	m.Set(Key(KeyName), String(name))
	return m
}

// Set stores v under key, replacing any previous value.
func (m *Material) Set(key PropertyKey, v Value) {
	for i := range m.Properties {
		if m.Properties[i].Key == key {
			m.Properties[i].Value = v
			return
		}
	}
	m.Properties = append(m.Properties, Property{Key: key, Value: v})
}

// Get returns the value stored under key.
func (m *Material) Get(key PropertyKey) (Value, bool) {
	for _, p := range m.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Name returns the material name, or "" if unnamed.
func (m *Material) Name() string {
	if v, ok := m.Get(Key(KeyName)); ok {
		if s, ok := v.(String); ok {
			return string(s)
		}
	}
	return ""
}

// SetColor stores an RGBA color property.
func (m *Material) SetColor(name string, c math.Color4) {
	m.Set(Key(name), Floats{c.R, c.G, c.B, c.A})
}

// Color returns a color property. Three-component values get alpha 1.
func (m *Material) Color(name string) (math.Color4, bool) {
	v, ok := m.Get(Key(name))
	if !ok {
		return math.Color4{}, false
	}
	f, ok := v.(Floats)
	if !ok || len(f) < 3 {
		return math.Color4{}, false
	}
	c := math.Color4{R: f[0], G: f[1], B: f[2], A: 1}
	if len(f) > 3 {
		c.A = f[3]
	}
	return c, true
}

// SetFloat stores a scalar property.
func (m *Material) SetFloat(name string, f float32) {
	m.Set(Key(name), Float(f))
}

// Float returns a scalar property.
func (m *Material) Float(name string) (float32, bool) {
	v, ok := m.Get(Key(name))
	if !ok {
		return 0, false
	}
	f, ok := v.(Float)
	return float32(f), ok
}

// SetTexture binds a texture at slot (t, index).
func (m *Material) SetTexture(t TextureType, index int, ref TextureRef) {
	m.Set(TexKey(t, index), ref)
}

// Texture returns the texture bound at slot (t, index).
func (m *Material) Texture(t TextureType, index int) (TextureRef, bool) {
	v, ok := m.Get(TexKey(t, index))
	if !ok {
		return TextureRef{}, false
	}
	ref, ok := v.(TextureRef)
	return ref, ok
}

// TextureCount returns the number of textures bound with semantic t.
func (m *Material) TextureCount(t TextureType) int {
	n := 0
	for _, p := range m.Properties {
		if p.Key.Name == KeyTexture && p.Key.Semantic == t {
			n++
		}
	}
	return n
}

// TextureRefs returns every texture binding in property order.
func (m *Material) TextureRefs() []TextureRef {
	var refs []TextureRef
	for _, p := range m.Properties {
		if ref, ok := p.Value.(TextureRef); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Equal reports whether m and o hold the same properties, ignoring the
// name and property order.
func (m *Material) Equal(o *Material) bool {
	a, b := m.withoutName(), o.withoutName()
	if len(a) != len(b) {
		return false
	}
	for _, p := range a {
		v, ok := o.Get(p.Key)
		if !ok || !p.Value.equal(v) {
			return false
		}
	}
	return true
}

func (m *Material) withoutName() []Property {
	out := make([]Property, 0, len(m.Properties))
	for _, p := range m.Properties {
		if p.Key.Name != KeyName {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the material.
func (m *Material) Clone() *Material {
	c := &Material{Properties: make([]Property, len(m.Properties))}
	for i, p := range m.Properties {
		if f, ok := p.Value.(Floats); ok {
			p.Value = append(Floats(nil), f...)
		}
		c.Properties[i] = p
	}
	return c
}

// DefaultMaterial returns the grey material decoders attach to geometry
// that has none.
func DefaultMaterial() *Material {
	m := NewMaterial("DefaultMaterial")
	m.SetColor(KeyColorDiffuse, math.Color4{R: 0.6, G: 0.6, B: 0.6, A: 1})
	return m
}
