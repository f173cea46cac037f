package postprocess

import (
	"context"

	"github.com/chewxy/math32"

	"github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// triangulate splits every face with more than three indices. Points,
// lines and triangles are kept as they are, so the pass is idempotent.
func (p *Pipeline) triangulate(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		out := make([]scene.Face, 0, len(m.Faces))
		for _, f := range m.Faces {
			if len(f.Indices) <= 3 {
				out = append(out, f)
				continue
			}
			for _, tri := range triangulatePolygon(m.Positions, f.Indices) {
				out = append(out, scene.Face{Indices: tri[:]})
			}
		}
		m.Faces = out
		m.UpdatePrimitiveTypes()
		return nil
	})
}

// triangulatePolygon ear-clips a polygon projected onto its dominant
// plane. Every triangle keeps the polygon's winding. Polygons the clipper
// cannot finish (self-intersecting or degenerate) fall back to a fan over
// the remaining corners.
func triangulatePolygon(pos []math.Vec3, idx []int) [][3]int {
	n := len(idx)
	tris := make([][3]int, 0, n-2)
	if n == 4 {
		return quad(pos, idx, tris)
	}

	pts := project(pos, idx)
	// ring of remaining corners, as positions into idx
	ring := make([]int, n)
	for i := range ring {
		ring[i] = i
	}
	ccw := signedArea(pts) >= 0

	for len(ring) > 3 {
		ear := -1
		for i := range ring {
			a, b, c := ring[(i+len(ring)-1)%len(ring)], ring[i], ring[(i+1)%len(ring)]
			if isEar(pts, ring, a, b, c, ccw) {
				ear = i
				break
			}
		}
		if ear < 0 {
			break
		}
		a, b, c := ring[(ear+len(ring)-1)%len(ring)], ring[ear], ring[(ear+1)%len(ring)]
		tris = append(tris, [3]int{idx[a], idx[b], idx[c]})
		ring = append(ring[:ear], ring[ear+1:]...)
	}
	for i := 1; i+1 < len(ring); i++ {
		tris = append(tris, [3]int{idx[ring[0]], idx[ring[i]], idx[ring[i+1]]})
	}
	return tris
}

// quad splits along the shorter diagonal unless that would fold a
// concave quad, in which case it uses the other one.
func quad(pos []math.Vec3, idx []int, tris [][3]int) [][3]int {
	p0, p1, p2, p3 := pos[idx[0]], pos[idx[1]], pos[idx[2]], pos[idx[3]]
	n := faceNormal(pos, idx)
	split02 := p0.Distance(p2) <= p1.Distance(p3)
	// a diagonal is safe when both triangles face the same way as the quad
	ok02 := p1.Sub(p0).Cross(p2.Sub(p0)).Dot(n) > 0 && p2.Sub(p0).Cross(p3.Sub(p0)).Dot(n) > 0
	ok13 := p2.Sub(p1).Cross(p3.Sub(p1)).Dot(n) > 0 && p3.Sub(p1).Cross(p0.Sub(p1)).Dot(n) > 0
	if ok13 && (!ok02 || !split02) {
		return append(tris, [3]int{idx[1], idx[2], idx[3]}, [3]int{idx[1], idx[3], idx[0]})
	}
	return append(tris, [3]int{idx[0], idx[1], idx[2]}, [3]int{idx[0], idx[2], idx[3]})
}

// project drops the axis along which the polygon normal is largest.
func project(pos []math.Vec3, idx []int) []math.Vec2 {
	n := faceNormal(pos, idx)
	ax, ay, az := math32.Abs(n.X), math32.Abs(n.Y), math32.Abs(n.Z)
	pts := make([]math.Vec2, len(idx))
	for i, vi := range idx {
		v := pos[vi]
		switch {
		case az >= ax && az >= ay:
			pts[i] = math.Vec2{X: v.X, Y: v.Y}
			if n.Z < 0 {
				pts[i].X = -pts[i].X
			}
		case ax >= ay:
			pts[i] = math.Vec2{X: v.Y, Y: v.Z}
			if n.X < 0 {
				pts[i].X = -pts[i].X
			}
		default:
			pts[i] = math.Vec2{X: v.Z, Y: v.X}
			if n.Y < 0 {
				pts[i].X = -pts[i].X
			}
		}
	}
	return pts
}

func signedArea(pts []math.Vec2) float32 {
	var a float32
	for i := range pts {
		a += pts[i].Cross(pts[(i+1)%len(pts)])
	}
	return a / 2
}

func isEar(pts []math.Vec2, ring []int, a, b, c int, ccw bool) bool {
	cross := pts[b].Sub(pts[a]).Cross(pts[c].Sub(pts[b]))
	if (cross <= 0) == ccw {
		return false
	}
	for _, r := range ring {
		if r == a || r == b || r == c {
			continue
		}
		if inTriangle(pts[r], pts[a], pts[b], pts[c]) {
			return false
		}
	}
	return true
}

// inTriangle includes the boundary so corners touching a candidate ear
// reject it.
func inTriangle(p, a, b, c math.Vec2) bool {
	d1 := b.Sub(a).Cross(p.Sub(a))
	d2 := c.Sub(b).Cross(p.Sub(b))
	d3 := a.Sub(c).Cross(p.Sub(c))
	neg := d1 < 0 || d2 < 0 || d3 < 0
	pos := d1 > 0 || d2 > 0 || d3 > 0
	return !(neg && pos)
}
