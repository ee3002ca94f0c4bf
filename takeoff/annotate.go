package takeoff

import (
	"context"
	"strings"
)

// DefaultAnnotationColor is used when an annotation mode starts without a color
const DefaultAnnotationColor = "#e53935"

// PendingText is a placed text anchor waiting for its content
type PendingText struct {
	Anchor Point `json:"anchor"` // base space
	Pixel  Point `json:"pixel"`  // where the host positions its editor
}

// AnnotateSession is the drawing state machine for one annotation shape.
// Text places an anchor and waits for CommitText or Escape. Arrow, rectangle
// and circle take two clicks or one press-drag-release.
type AnnotateSession struct {
	Type    AnnotationType
	Color   string
	MinDrag float64 // pixels, either axis

	Points  []Point
	Cursor  *Point
	Pending *PendingText

	press     *Point
	pressBase Point
	dragging  bool
}

// NewAnnotateSession creates an idle session
func NewAnnotateSession(t AnnotationType, color string, minDrag float64) *AnnotateSession {
	if color == "" {
		color = DefaultAnnotationColor
	}
	return &AnnotateSession{Type: t, Color: color, MinDrag: minDrag}
}

// Reset drops every in-progress point, drag and pending text edit
func (s *AnnotateSession) Reset() {
	s.Points = nil
	s.Cursor = nil
	s.Pending = nil
	s.press = nil
	s.dragging = false
}

// Click places a text anchor or the next point of a two-point shape. Clicks
// are ignored while a text edit is pending.
func (s *AnnotateSession) Click(ctx context.Context, base, pixel Point, sink GeometrySink) error {
	s.press, s.dragging = nil, false
	if s.Type == AnnotateText {
		if s.Pending == nil {
			s.Pending = &PendingText{Anchor: base, Pixel: pixel}
		}
		return nil
	}
	s.Points = append(s.Points, base)
	if len(s.Points) < 2 {
		return nil
	}
	pts := s.Points
	s.Reset()
	return sink.CompleteAnnotation(ctx, pts, "")
}

// CommitText completes a pending text annotation. Blank text cancels it.
func (s *AnnotateSession) CommitText(ctx context.Context, text string, sink GeometrySink) error {
	if s.Pending == nil {
		return ErrWrongMode
	}
	anchor := s.Pending.Anchor
	s.Pending = nil
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return sink.CompleteAnnotation(ctx, []Point{anchor}, text)
}

// PointerDown arms a drag for two-point shapes before the first click
func (s *AnnotateSession) PointerDown(pixel, base Point) {
	if s.Type == AnnotateText || len(s.Points) > 0 {
		return
	}
	s.press = &pixel
	s.pressBase = base
	s.dragging = false
}

// PointerMove tracks the drag or the second-point rubber band
func (s *AnnotateSession) PointerMove(pixel, base Point) {
	if s.press != nil {
		if !s.dragging && dragExceeds(*s.press, pixel, s.MinDrag, false) {
			s.dragging = true
		}
		if s.dragging {
			s.Cursor = &base
		}
		return
	}
	if len(s.Points) == 1 {
		s.Cursor = &base
	}
}

// PointerUp completes a drag that moved at least MinDrag pixels on either axis
func (s *AnnotateSession) PointerUp(ctx context.Context, pixel, base Point, sink GeometrySink) (handled bool, err error) {
	press := s.press
	start := s.pressBase
	s.press = nil
	if press == nil || !dragExceeds(*press, pixel, s.MinDrag, false) {
		s.dragging = false
		return false, nil
	}
	s.Reset()
	return true, sink.CompleteAnnotation(ctx, []Point{start, base}, "")
}

// Escape cancels the innermost pending state. It reports true when the
// session was already idle.
func (s *AnnotateSession) Escape() (wasIdle bool) {
	switch {
	case s.Pending != nil:
		s.Pending = nil
	case s.press != nil:
		s.press, s.dragging = nil, false
		s.Cursor = nil
	case len(s.Points) > 0:
		s.Points = nil
		s.Cursor = nil
	default:
		return true
	}
	return false
}

// Preview returns the shape being drawn
func (s *AnnotateSession) Preview() Preview {
	var p Preview
	switch {
	case s.Pending != nil:
		p.Points = []Point{s.Pending.Anchor}
	case s.press != nil && s.dragging && s.Cursor != nil:
		c := *s.Cursor
		p.Points = []Point{s.pressBase}
		p.Cursor = &c
	case len(s.Points) > 0:
		p.Points = clonePoints(s.Points)
		if s.Cursor != nil {
			c := *s.Cursor
			p.Cursor = &c
		}
	}
	return p
}
