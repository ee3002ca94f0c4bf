package takeoff

import (
	"math"
)

// SelectionModel is the set of selected entities
type SelectionModel interface {
	Click(ref EntityRef, toggle bool)
	Set(refs []EntityRef)
	Add(refs ...EntityRef)
	Remove(ref EntityRef)
	Clear()
	Contains(ref EntityRef) bool
	Selected() []EntityRef
}

// Selection is an insertion-ordered SelectionModel
type Selection struct {
	refs []EntityRef
}

// NewSelection creates an empty selection
func NewSelection() *Selection {
	return &Selection{}
}

// Click applies the multi-select contract: a plain click on an unselected
// entity selects only it, a plain click on the only selected entity clears the
// selection, and a toggle click flips membership without touching the rest.
func (s *Selection) Click(ref EntityRef, toggle bool) {
	if toggle {
		if s.Contains(ref) {
			s.Remove(ref)
		} else {
			s.refs = append(s.refs, ref)
		}
		return
	}
	if s.Contains(ref) && len(s.refs) == 1 {
		s.Clear()
		return
	}
	s.refs = []EntityRef{ref}
}

// Set replaces the selection
func (s *Selection) Set(refs []EntityRef) {
	s.refs = nil
	s.Add(refs...)
}

// Add selects refs, skipping ones already selected
func (s *Selection) Add(refs ...EntityRef) {
	for _, r := range refs {
		if !s.Contains(r) {
			s.refs = append(s.refs, r)
		}
	}
}

// Remove deselects ref
func (s *Selection) Remove(ref EntityRef) {
	for i, r := range s.refs {
		if r == ref {
			s.refs = append(s.refs[:i], s.refs[i+1:]...)
			return
		}
	}
}

// Clear deselects everything
func (s *Selection) Clear() {
	s.refs = nil
}

// Contains reports whether ref is selected
func (s *Selection) Contains(ref EntityRef) bool {
	for _, r := range s.refs {
		if r == ref {
			return true
		}
	}
	return false
}

// Selected returns the selected refs in selection order
func (s *Selection) Selected() []EntityRef {
	out := make([]EntityRef, len(s.refs))
	copy(out, s.refs)
	return out
}

// HitTest returns the top-most entity on page under the pointer. Shapes are
// projected to pointer space so that tol is in pixels whatever the zoom or
// rotation.
func HitTest(doc *Document, page PageRef, pixel Point, tr Transform, tol float64) (EntityRef, bool) {
	refs := doc.Refs()
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		switch ref.Kind {
		case KindMeasurement:
			m, ok := doc.Measurement(ref.ID)
			if !ok || m.ProjectID != page.ProjectID || m.SheetID != page.SheetID || m.PdfPage != page.Page {
				continue
			}
			if hitMeasurement(m, pixel, tr, tol) {
				return ref, true
			}
		case KindAnnotation:
			a, ok := doc.Annotation(ref.ID)
			if !ok || a.ProjectID != page.ProjectID || a.SheetID != page.SheetID || a.PageNumber != page.Page {
				continue
			}
			if hitAnnotation(a, pixel, tr, tol) {
				return ref, true
			}
		}
	}
	return EntityRef{}, false
}

func toPixels(pts []Point, tr Transform) ([]Point, bool) {
	out := make([]Point, len(pts))
	for i, p := range pts {
		q, err := tr.ToPixel(p)
		if err != nil {
			return nil, false
		}
		out[i] = q
	}
	return out, true
}

func hitMeasurement(m Measurement, pixel Point, tr Transform, tol float64) bool {
	px, ok := toPixels(m.Points, tr)
	if !ok || len(px) == 0 {
		return false
	}
	switch m.Type {
	case MeasureCount:
		for _, p := range px {
			if Distance(p, pixel) <= tol {
				return true
			}
		}
		return false
	case MeasureLinear:
		return distanceToPath(px, pixel, false) <= tol
	}
	if distanceToPath(px, pixel, true) <= tol {
		return true
	}
	if !pointInPolygon(px, pixel) {
		return false
	}
	for _, c := range m.Cutouts {
		if cp, ok := toPixels(c.Points, tr); ok && pointInPolygon(cp, pixel) {
			return false
		}
	}
	return true
}

func hitAnnotation(a Annotation, pixel Point, tr Transform, tol float64) bool {
	px, ok := toPixels(a.Points, tr)
	if !ok || len(px) == 0 {
		return false
	}
	switch a.Type {
	case AnnotateText:
		return Distance(px[0], pixel) <= tol
	case AnnotateArrow:
		return distanceToPath(px, pixel, false) <= tol
	case AnnotateRectangle:
		if len(px) < 2 {
			return false
		}
		corners, ok := toPixels(rectangleCorners(a.Points[0], a.Points[1]), tr)
		if !ok {
			return false
		}
		return pointInPolygon(corners, pixel) || distanceToPath(corners, pixel, true) <= tol
	case AnnotateCircle:
		if len(px) < 2 {
			return false
		}
		cx, cy := (px[0].X+px[1].X)/2, (px[0].Y+px[1].Y)/2
		rx := math.Abs(px[1].X-px[0].X)/2 + tol
		ry := math.Abs(px[1].Y-px[0].Y)/2 + tol
		dx, dy := (pixel.X-cx)/rx, (pixel.Y-cy)/ry
		return dx*dx+dy*dy <= 1
	}
	return false
}

// rectangleCorners returns the four corners of the base-space rectangle with
// opposite corners a and b
func rectangleCorners(a, b Point) []Point {
	return []Point{
		{X: a.X, Y: a.Y},
		{X: b.X, Y: a.Y},
		{X: b.X, Y: b.Y},
		{X: a.X, Y: b.Y},
	}
}

// DragKind is what a press-drag-release in selection mode does
type DragKind int

const (
	// DragMove translates every selected entity
	DragMove DragKind = iota
	// DragRectangle draws a rectangular measurement from empty space
	DragRectangle
	// DragMarquee selects everything the rectangle touches
	DragMarquee
)

type movedEntity struct {
	ref         EntityRef
	measurement MeasurementPatch
	annotation  AnnotationPatch
}

// SelectDrag is an in-progress drag in selection mode
type SelectDrag struct {
	Kind     DragKind
	Press    Point // pointer space
	Current  Point
	Delta    Point // base space, DragMove only
	Additive bool  // DragMarquee only: add to the selection instead of replacing it

	originals []movedEntity
}

// NewMoveDrag snapshots the geometry of refs so the move can be previewed,
// committed or cancelled
func NewMoveDrag(doc *Document, refs []EntityRef, press Point) *SelectDrag {
	d := &SelectDrag{Kind: DragMove, Press: press, Current: press}
	for _, ref := range refs {
		switch ref.Kind {
		case KindMeasurement:
			if m, ok := doc.Measurement(ref.ID); ok {
				d.originals = append(d.originals, movedEntity{ref: ref, measurement: m.Geometry()})
			}
		case KindAnnotation:
			if a, ok := doc.Annotation(ref.ID); ok {
				d.originals = append(d.originals, movedEntity{ref: ref, annotation: a.Patch()})
			}
		}
	}
	return d
}

// NewAreaDrag starts a drag from empty space
func NewAreaDrag(kind DragKind, press Point, additive bool) *SelectDrag {
	return &SelectDrag{Kind: kind, Press: press, Current: press, Additive: additive}
}

// Move updates the drag to the pointer position. For DragMove the selected
// entities are translated in doc as a live preview.
func (d *SelectDrag) Move(doc *Document, pixel Point, tr Transform) error {
	d.Current = pixel
	if d.Kind != DragMove {
		return nil
	}
	delta, err := tr.DeltaToBase(pixel.Sub(d.Press))
	if err != nil {
		return err
	}
	d.Delta = delta
	for _, o := range d.originals {
		switch o.ref.Kind {
		case KindMeasurement:
			doc.PatchMeasurement(o.ref.ID, translateMeasurement(o.measurement, delta))
		case KindAnnotation:
			doc.PatchAnnotation(o.ref.ID, translateAnnotation(o.annotation, delta))
		}
	}
	return nil
}

// Moved reports whether the pointer left the press location
func (d *SelectDrag) Moved() bool {
	return d.Current != d.Press
}

// Cancel restores the geometry captured when the drag started
func (d *SelectDrag) Cancel(doc *Document) {
	if d.Kind != DragMove {
		return
	}
	for _, o := range d.originals {
		switch o.ref.Kind {
		case KindMeasurement:
			doc.PatchMeasurement(o.ref.ID, o.measurement)
		case KindAnnotation:
			doc.PatchAnnotation(o.ref.ID, o.annotation)
		}
	}
	d.Delta = Point{}
}

// Commands returns one update per moved entity, carrying the geometry before
// and after the move
func (d *SelectDrag) Commands() []Command {
	if d.Kind != DragMove {
		return nil
	}
	cmds := make([]Command, 0, len(d.originals))
	for _, o := range d.originals {
		switch o.ref.Kind {
		case KindMeasurement:
			cmds = append(cmds, &UpdateMeasurementCommand{
				ID:       o.ref.ID,
				Previous: o.measurement,
				Next:     translateMeasurement(o.measurement, d.Delta),
			})
		case KindAnnotation:
			cmds = append(cmds, &UpdateAnnotationCommand{
				ID:       o.ref.ID,
				Previous: o.annotation,
				Next:     translateAnnotation(o.annotation, d.Delta),
			})
		}
	}
	return cmds
}

// translateMeasurement moves every vertex, cutouts included. Values are
// unchanged by a translation.
func translateMeasurement(p MeasurementPatch, delta Point) MeasurementPatch {
	out := MeasurementPatch{
		Points:             TranslatePoints(p.Points, delta),
		CalculatedValue:    p.CalculatedValue,
		NetCalculatedValue: cloneFloat(p.NetCalculatedValue),
		PerimeterValue:     cloneFloat(p.PerimeterValue),
	}
	if p.Cutouts != nil {
		out.Cutouts = make([]Cutout, len(p.Cutouts))
		for i, c := range p.Cutouts {
			out.Cutouts[i] = Cutout{ID: c.ID, Points: TranslatePoints(c.Points, delta), Value: c.Value}
		}
	}
	return out
}

func translateAnnotation(p AnnotationPatch, delta Point) AnnotationPatch {
	return AnnotationPatch{Points: TranslatePoints(p.Points, delta), Color: p.Color, Text: p.Text}
}

// EntitiesInBounds returns every entity on page whose bounds intersect the
// base-space rectangle spanned by rect
func EntitiesInBounds(doc *Document, page PageRef, rect []Point) []EntityRef {
	area := Bounds(rect)
	var out []EntityRef
	for _, m := range doc.MeasurementsOnPage(page) {
		if Bounds(m.Points).Intersects(area) {
			out = append(out, EntityRef{Kind: KindMeasurement, ID: m.ID})
		}
	}
	for _, a := range doc.AnnotationsOnPage(page) {
		if Bounds(a.Points).Intersects(area) {
			out = append(out, EntityRef{Kind: KindAnnotation, ID: a.ID})
		}
	}
	return out
}
