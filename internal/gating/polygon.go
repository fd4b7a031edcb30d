package gating

import "math"

// edgeEpsilon is the relative tolerance for deciding that a point lies
// exactly on a polygon edge.
const edgeEpsilon = 1e-9

// pointInPolygon tests (x, y) against an implicitly closed polygon by ray
// casting. Points exactly on an edge or vertex are included: boundary
// exclusion is the classic source of off-by-one population counts, so
// inclusion is the documented policy here and is tested explicitly.
func pointInPolygon(x, y float64, vs []Vertex) bool {
	n := len(vs)
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		if onSegment(x, y, vs[j].X, vs[j].Y, vs[i].X, vs[i].Y) {
			return true
		}
		yi, yj := vs[i].Y, vs[j].Y
		if (yi > y) != (yj > y) {
			cross := (vs[j].X-vs[i].X)*(y-yi)/(yj-yi) + vs[i].X
			if x < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// onSegment reports whether (px, py) lies on the segment (x0, y0)-(x1, y1)
// within edgeEpsilon relative tolerance.
func onSegment(px, py, x0, y0, x1, y1 float64) bool {
	dx, dy := x1-x0, y1-y0
	cross := dx*(py-y0) - dy*(px-x0)
	scale := math.Max(math.Max(math.Abs(dx), math.Abs(dy)), 1)
	if math.Abs(cross) > edgeEpsilon*scale*scale {
		return false
	}
	lo, hi := math.Min(x0, x1), math.Max(x0, x1)
	if px < lo-edgeEpsilon || px > hi+edgeEpsilon {
		return false
	}
	lo, hi = math.Min(y0, y1), math.Max(y0, y1)
	return py >= lo-edgeEpsilon && py <= hi+edgeEpsilon
}

// inRectangle tests (x, y) against the axis-aligned rectangle spanned by
// two opposite corners, bounds inclusive.
func inRectangle(x, y float64, corners []Vertex) bool {
	xLo, xHi := math.Min(corners[0].X, corners[1].X), math.Max(corners[0].X, corners[1].X)
	yLo, yHi := math.Min(corners[0].Y, corners[1].Y), math.Max(corners[0].Y, corners[1].Y)
	return x >= xLo && x <= xHi && y >= yLo && y <= yHi
}
