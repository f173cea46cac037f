package math

import (
	"math"
	"testing"
)

func TestQuatIdentity(t *testing.T) {
	q := QuatIdentity()
	if q.X != 0 || q.Y != 0 || q.Z != 0 || q.W != 1 {
		t.Errorf("Identity quaternion should be (0,0,0,1), got (%v,%v,%v,%v)", q.X, q.Y, q.Z, q.W)
	}
	if !q.ToMat4().IsIdentity(1e-6) {
		t.Error("identity quaternion should produce identity matrix")
	}
}

func TestQuatNormalize(t *testing.T) {
	n := Quat{X: 1, Y: 2, Z: 3, W: 4}.Normalize()
	if math.Abs(float64(n.Length()-1)) > 0.0001 {
		t.Errorf("Normalized quaternion length should be 1, got %v", n.Length())
	}
	if (Quat{}).Normalize() != QuatIdentity() {
		t.Error("zero quaternion should normalize to identity")
	}
}

func TestQuatFromAxisAngle(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{X: 0, Y: 1, Z: 0}, float32(math.Pi/2))

	expectedW := float32(math.Cos(math.Pi / 4))
	expectedY := float32(math.Sin(math.Pi / 4))
	if math.Abs(float64(q.W-expectedW)) > 0.001 {
		t.Errorf("W: expected %v, got %v", expectedW, q.W)
	}
	if math.Abs(float64(q.Y-expectedY)) > 0.001 {
		t.Errorf("Y: expected %v, got %v", expectedY, q.Y)
	}

	got := q.ToMat4().TransformDirection(Vec3{1, 0, 0})
	if !got.ApproxEqual(Vec3{0, 0, -1}, 1e-5) {
		t.Errorf("rotated = %v, want (0,0,-1)", got)
	}
}

func TestQuatMul(t *testing.T) {
	a := QuatFromAxisAngle(Vec3{0, 0, 1}, float32(math.Pi/4))
	got := a.Mul(a).ToMat4().TransformDirection(Vec3{1, 0, 0})
	if !got.ApproxEqual(Vec3{0, 1, 0}, 1e-5) {
		t.Errorf("two 45 degree turns = %v, want (0,1,0)", got)
	}
}
