package takeoff

import (
	"context"
	"fmt"
)

// samePointEpsilon is the base-space distance under which two consecutive
// clicks are treated as the same vertex
const samePointEpsilon = 1e-9

// GeometrySink receives the geometry of completed gestures. The engine
// decides what to build from it (a measurement, a cutout, an annotation).
type GeometrySink interface {
	CompleteMeasurement(ctx context.Context, points []Point) error
	CompleteAnnotation(ctx context.Context, points []Point, text string) error
}

// Preview is the transient state a host draws on top of the page while a
// gesture is in progress. All points are in base space.
type Preview struct {
	Mode   string  `json:"mode"`
	Points []Point `json:"points,omitempty"`
	Cursor *Point  `json:"cursor,omitempty"` // rubber-band end
	Closed bool    `json:"closed,omitempty"`
	Rect   []Point `json:"rect,omitempty"` // drag rectangle or marquee
	Value  float64 `json:"value,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// Empty reports whether there is nothing to draw
func (p Preview) Empty() bool {
	return len(p.Points) == 0 && p.Cursor == nil && len(p.Rect) == 0
}

// MeasureSession is the drawing state machine for one measurement type:
// idle -> drawing(>=1 point) -> complete. Polygon types also accept a
// press-drag-release that produces a rectangle directly.
type MeasureSession struct {
	Type       MeasurementType
	Continuous bool
	MinDrag    float64 // pixels, both axes, for the rectangle shortcut

	Points []Point
	Cursor *Point

	press   *Point // pointer-space press location of a possible rectangle drag
	dragEnd *Point
}

// NewMeasureSession creates an idle session
func NewMeasureSession(t MeasurementType, continuous bool, minDrag float64) *MeasureSession {
	return &MeasureSession{Type: t, Continuous: continuous, MinDrag: minDrag}
}

// Drawing reports whether at least one point has been placed
func (s *MeasureSession) Drawing() bool {
	return len(s.Points) > 0
}

// Reset returns the session to idle and drops the rubber-band and drag state
func (s *MeasureSession) Reset() {
	s.Points = nil
	s.Cursor = nil
	s.press = nil
	s.dragEnd = nil
}

// Click places the next vertex. Count completes immediately; a
// non-continuous linear measurement completes on its second point.
func (s *MeasureSession) Click(ctx context.Context, p Point, ortho bool, sink GeometrySink) error {
	s.press, s.dragEnd = nil, nil
	if !s.append(p, ortho) {
		return nil
	}
	switch {
	case s.Type == MeasureCount:
		return s.Finish(ctx, sink)
	case s.Type == MeasureLinear && !s.Continuous && len(s.Points) >= 2:
		return s.Finish(ctx, sink)
	}
	return nil
}

// DoubleClick places p unless it repeats the last vertex, then attempts completion
func (s *MeasureSession) DoubleClick(ctx context.Context, p Point, ortho bool, sink GeometrySink) error {
	if s.Type == MeasureCount || !s.Drawing() {
		return nil
	}
	s.append(p, ortho)
	return s.Finish(ctx, sink)
}

// Finish completes the gesture. With too few points it is refused and the
// gesture stays open.
func (s *MeasureSession) Finish(ctx context.Context, sink GeometrySink) error {
	if min := s.Type.MinPoints(); len(s.Points) < min {
		return fmt.Errorf("%s needs at least %d points, have %d: %w", s.Type, min, len(s.Points), ErrInvalidGeometry)
	}
	pts := s.Points
	s.Reset()
	return sink.CompleteMeasurement(ctx, pts)
}

// PointerDown arms the rectangle shortcut. It only applies to polygon types
// before any vertex has been clicked.
func (s *MeasureSession) PointerDown(pixel Point) {
	if s.Type.IsPolygon() && !s.Drawing() {
		s.press = &pixel
		s.dragEnd = nil
	}
}

// PointerMove updates the rubber band or the drag rectangle
func (s *MeasureSession) PointerMove(pixel, base Point, ortho bool) {
	if s.press != nil {
		s.dragEnd = &pixel
		return
	}
	if s.Drawing() {
		c := SnapIf(ortho, base, s.Points)
		s.Cursor = &c
	}
}

// PointerUp completes a rectangle drag when it spans at least MinDrag pixels
// on both axes. handled reports whether the release consumed the gesture, in
// which case the click that follows it must be ignored.
func (s *MeasureSession) PointerUp(ctx context.Context, pixel Point, tr Transform, sink GeometrySink) (handled bool, err error) {
	press := s.press
	s.press, s.dragEnd = nil, nil
	if press == nil || !dragExceeds(*press, pixel, s.MinDrag, true) {
		return false, nil
	}
	pts, err := RectangleFromPixels(*press, pixel, tr)
	if err != nil {
		return true, err
	}
	s.Points = pts
	return true, s.Finish(ctx, sink)
}

// Escape pops the last vertex. It reports true when the session was already
// idle, which callers treat as leaving the mode.
func (s *MeasureSession) Escape() (wasIdle bool) {
	if s.press != nil {
		s.press, s.dragEnd = nil, nil
		return false
	}
	if !s.Drawing() {
		return true
	}
	s.Points = s.Points[:len(s.Points)-1]
	if !s.Drawing() {
		s.Cursor = nil
	}
	return false
}

// Preview returns the current drawing state
func (s *MeasureSession) Preview(tr Transform) Preview {
	p := Preview{
		Points: clonePoints(s.Points),
		Closed: s.Type.IsPolygon() && len(s.Points) >= 3,
	}
	if s.Cursor != nil && s.Drawing() {
		c := *s.Cursor
		p.Cursor = &c
	}
	if s.press != nil && s.dragEnd != nil && tr != nil {
		if rect, err := RectangleFromPixels(*s.press, *s.dragEnd, tr); err == nil {
			p.Rect = rect
		}
	}
	return p
}

func (s *MeasureSession) append(p Point, ortho bool) bool {
	p = SnapIf(ortho, p, s.Points)
	if n := len(s.Points); n > 0 && Distance(s.Points[n-1], p) < samePointEpsilon {
		return false
	}
	s.Points = append(s.Points, p)
	s.Cursor = nil
	return true
}
