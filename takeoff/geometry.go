package takeoff

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// orbPoints converts base points to an orb slice scaled by (w, h), so that
// lengths and areas come out in page pixels rather than normalized units.
func orbPoints(pts []Point, w, h float64) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = orb.Point{p.X * w, p.Y * h}
	}
	return out
}

// orbLineString converts a base-space path to an orb.LineString in page pixels
func orbLineString(pts []Point, w, h float64) orb.LineString {
	return orb.LineString(orbPoints(pts, w, h))
}

// orbRing converts a base-space polygon to a closed orb.Ring in page pixels
func orbRing(pts []Point, w, h float64) orb.Ring {
	r := orb.Ring(orbPoints(pts, w, h))
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

// PolylineLength returns the length of an open path, with base coordinates
// expanded to a w x h page first.
func PolylineLength(pts []Point, w, h float64) float64 {
	if len(pts) < 2 {
		return 0
	}
	return planar.Length(orbLineString(pts, w, h))
}

// PolygonArea returns the unsigned area of the polygon described by pts
func PolygonArea(pts []Point, w, h float64) float64 {
	if len(pts) < 3 {
		return 0
	}
	return math.Abs(planar.Area(orbRing(pts, w, h)))
}

// PolygonPerimeter returns the length of the closed boundary of pts
func PolygonPerimeter(pts []Point, w, h float64) float64 {
	if len(pts) < 2 {
		return 0
	}
	return planar.Length(orb.LineString(orbRing(pts, w, h)))
}

// Bounds returns the base-space bounding box of pts
func Bounds(pts []Point) orb.Bound {
	if len(pts) == 0 {
		return orb.Bound{}
	}
	return orb.MultiPoint(orbPoints(pts, 1, 1)).Bound()
}

// pointInPolygon reports whether p lies inside the ring described by pts.
// All coordinates must be in the same space.
func pointInPolygon(pts []Point, p Point) bool {
	if len(pts) < 3 {
		return false
	}
	return planar.RingContains(orbRing(pts, 1, 1), orb.Point{p.X, p.Y})
}

// distanceToPath returns the shortest distance from p to any segment of the
// path. When closed is true the segment from the last point back to the first
// is included.
func distanceToPath(pts []Point, p Point, closed bool) float64 {
	switch len(pts) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(pts[0], p)
	}
	target := orb.Point{p.X, p.Y}
	best := math.Inf(1)
	n := len(pts)
	last := n - 1
	if closed {
		last = n
	}
	for i := 0; i < last; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		d := planar.DistanceFromSegment(orb.Point{a.X, a.Y}, orb.Point{b.X, b.Y}, target)
		if d < best {
			best = d
		}
	}
	return best
}

// TranslatePoints returns pts shifted by delta
func TranslatePoints(pts []Point, delta Point) []Point {
	if pts == nil {
		return nil
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = p.Add(delta)
	}
	return out
}

// RectangleFromPixels builds the four base-space corners of the axis-aligned
// (in pointer space) rectangle spanned by a and b. Corners are emitted in
// pointer-space order top-left, top-right, bottom-right, bottom-left so that the
// polygon winds consistently regardless of drag direction.
func RectangleFromPixels(a, b Point, tr Transform) ([]Point, error) {
	minX, maxX := math.Min(a.X, b.X), math.Max(a.X, b.X)
	minY, maxY := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	corners := []Point{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	}
	out := make([]Point, len(corners))
	for i, c := range corners {
		p, err := tr.ToBase(c)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// dragExceeds reports whether the drag from a to b is at least min pixels on
// both axes (both=true) or on either axis (both=false)
func dragExceeds(a, b Point, min float64, both bool) bool {
	dx := math.Abs(b.X - a.X)
	dy := math.Abs(b.Y - a.Y)
	if both {
		return dx >= min && dy >= min
	}
	return dx >= min || dy >= min
}
