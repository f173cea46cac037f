package scene

import "github.com/Faultbox/scenekit/pkg/math"

// VectorKey is a timed position or scale key.
type VectorKey struct {
	Time  float64
	Value math.Vec3
}

// QuatKey is a timed rotation key.
type QuatKey struct {
	Time  float64
	Value math.Quat
}

// NodeAnim animates the node with the matching name. Key times are in
// ticks and sorted ascending.
type NodeAnim struct {
	NodeName     string
	PositionKeys []VectorKey
	RotationKeys []QuatKey
	ScalingKeys  []VectorKey
}

// Animation is a named set of node channels.
type Animation struct {
	Name           string
	Duration       float64
	TicksPerSecond float64
	Channels       []*NodeAnim
}

func (a *Animation) clone() *Animation {
	c := *a
	c.Channels = make([]*NodeAnim, len(a.Channels))
	for i, ch := range a.Channels {
		c.Channels[i] = &NodeAnim{
			NodeName:     ch.NodeName,
			PositionKeys: append([]VectorKey(nil), ch.PositionKeys...),
			RotationKeys: append([]QuatKey(nil), ch.RotationKeys...),
			ScalingKeys:  append([]VectorKey(nil), ch.ScalingKeys...),
		}
	}
	return &c
}

// Camera is positioned relative to the node sharing its name.
type Camera struct {
	Name          string
	Position      math.Vec3
	Up            math.Vec3
	LookAt        math.Vec3
	HorizontalFOV float32
	ClipNear      float32
	ClipFar       float32
	Aspect        float32
}

// LightType classifies a light source.
type LightType int

const (
	LightUndefined LightType = iota
	LightDirectional
	LightPoint
	LightSpot
	LightAmbient
)

func (t LightType) String() string {
	switch t {
	case LightDirectional:
		return "directional"
	case LightPoint:
		return "point"
	case LightSpot:
		return "spot"
	case LightAmbient:
		return "ambient"
	default:
		return "undefined"
	}
}

// Light is positioned relative to the node sharing its name.
type Light struct {
	Name      string
	Type      LightType
	Position  math.Vec3
	Direction math.Vec3
	Diffuse   math.Color4
	Specular  math.Color4
	Ambient   math.Color4

	AttenuationConstant  float32
	AttenuationLinear    float32
	AttenuationQuadratic float32
	// Cone angles in radians, spot lights only.
	InnerCone float32
	OuterCone float32
}
