package math

import (
	"math"
	"testing"
)

func TestIdentity(t *testing.T) {
	m := Identity()
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
	if !m.IsIdentity(0) {
		t.Error("IsIdentity(0) = false for Identity()")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(1, 2, 3)
	result := m.Mul(Identity())
	if result != m {
		t.Errorf("M * I = %v, want %v", result, m)
	}
}

func TestTransformPoint(t *testing.T) {
	tests := []struct {
		name string
		m    Mat4
		in   Vec3
		want Vec3
	}{
		{"translate", Translate(10, 20, 30), Vec3{1, 2, 3}, Vec3{11, 22, 33}},
		{"scale", Scale(2, 2, 2), Vec3{1, 2, 3}, Vec3{2, 4, 6}},
		{"scale then translate", Translate(1, 0, 0).Mul(Scale(2, 2, 2)), Vec3{1, 1, 1}, Vec3{3, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.TransformPoint(tt.in); got != tt.want {
				t.Errorf("TransformPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRotations(t *testing.T) {
	half := float32(math.Pi / 2)
	tests := []struct {
		name string
		m    Mat4
		in   Vec3
		want Vec3
	}{
		{"Y 90", RotateY(half), Vec3{1, 0, 0}, Vec3{0, 0, -1}},
		{"X -90 z-up to y-up", RotateX(-half), Vec3{0, 0, 1}, Vec3{0, 1, 0}},
		{"Z 90", RotateZ(half), Vec3{1, 0, 0}, Vec3{0, 1, 0}},
		{"axis Y", RotateAxis(Vec3{0, 1, 0}, half), Vec3{1, 0, 0}, Vec3{0, 0, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.m.TransformDirection(tt.in)
			if !got.ApproxEqual(tt.want, 1e-5) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromMat3x3(t *testing.T) {
	m4 := FromMat3x3([9]float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if m4[0] != 1 || m4[1] != 2 || m4[2] != 3 {
		t.Error("FromMat3x3 column 0 incorrect")
	}
	if m4[4] != 4 || m4[5] != 5 || m4[6] != 6 {
		t.Error("FromMat3x3 column 1 incorrect")
	}
	if m4[15] != 1 {
		t.Errorf("FromMat3x3 [15] should be 1, got %f", m4[15])
	}
}

func TestInverse(t *testing.T) {
	m := Compose(Vec3{1, 2, 3}, QuatFromAxisAngle(Vec3{0, 1, 0}, 0.7), Vec3{2, 2, 2})
	inv, ok := m.Inverse()
	if !ok {
		t.Fatal("Inverse() reported singular matrix")
	}
	if !m.Mul(inv).IsIdentity(1e-4) {
		t.Errorf("M * M^-1 = %v, want identity", m.Mul(inv))
	}

	if _, ok := Scale(0, 1, 1).Inverse(); ok {
		t.Error("Inverse() of singular matrix should report false")
	}
}
