package takeoff

import "math"

// OrthoSnap locks candidate horizontally or vertically to the last reference
// point, picking whichever axis deviates less. With no reference points the
// candidate is returned unchanged. Ties lock the x axis.
func OrthoSnap(candidate Point, refs []Point) Point {
	if len(refs) == 0 {
		return candidate
	}
	last := refs[len(refs)-1]
	dx := math.Abs(candidate.X - last.X)
	dy := math.Abs(candidate.Y - last.Y)
	if dx <= dy {
		return Point{X: last.X, Y: candidate.Y}
	}
	return Point{X: candidate.X, Y: last.Y}
}

// SnapIf applies OrthoSnap only when enabled
func SnapIf(enabled bool, candidate Point, refs []Point) Point {
	if !enabled {
		return candidate
	}
	return OrthoSnap(candidate, refs)
}
