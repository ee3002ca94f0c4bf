package takeoff

import "time"

// Point represents a 2D coordinate. Persisted geometry is always in base space:
// normalized [0,1]x[0,1] relative to the unrotated, unscaled page.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns p translated by d
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// Sub returns the vector from q to p
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Rotation is a page rotation in degrees. Only the four cardinal values are valid.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation folds any multiple of 90 into [0, 360).
// Values that are not multiples of 90 are snapped to the nearest one.
func NormalizeRotation(deg int) Rotation {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	quarter := ((deg + 45) / 90) % 4
	return Rotation(quarter * 90)
}

// Valid reports whether r is one of the four cardinal rotations
func (r Rotation) Valid() bool {
	return r == Rotate0 || r == Rotate90 || r == Rotate180 || r == Rotate270
}

// Viewport describes how one page is currently rendered: its pixel dimensions
// (already rotated), the render scale and the rotation. It is derived state and
// is never persisted with geometry.
type Viewport struct {
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Scale    float64  `json:"scale"`
	Rotation Rotation `json:"rotation"`
}

// NewViewport derives a viewport from an intrinsic page size. For 90 and 270
// degree rotations the rendered width and height are swapped.
func NewViewport(pageWidth, pageHeight, scale float64, rotation Rotation) Viewport {
	w, h := pageWidth*scale, pageHeight*scale
	if rotation == Rotate90 || rotation == Rotate270 {
		w, h = h, w
	}
	return Viewport{Width: w, Height: h, Scale: scale, Rotation: rotation}
}

// MeasurementType is the kind of takeoff quantity a measurement produces
type MeasurementType string

const (
	MeasureCount  MeasurementType = "count"
	MeasureLinear MeasurementType = "linear"
	MeasureArea   MeasurementType = "area"
	MeasureVolume MeasurementType = "volume"
)

// MinPoints returns the minimum vertex count for a completed measurement
func (t MeasurementType) MinPoints() int {
	switch t {
	case MeasureCount:
		return 1
	case MeasureLinear:
		return 2
	case MeasureArea, MeasureVolume:
		return 3
	}
	return 0
}

// IsPolygon is true for types whose geometry is a closed polygon
func (t MeasurementType) IsPolygon() bool {
	return t == MeasureArea || t == MeasureVolume
}

// Valid reports whether t is a known measurement type
func (t MeasurementType) Valid() bool {
	return t.MinPoints() > 0
}

// Calibration maps base-space distance to real-world distance for a sheet.
// PageNumber nil means the record is the document-level fallback.
type Calibration struct {
	ProjectID      string    `json:"projectId"`
	SheetID        string    `json:"sheetId"`
	PageNumber     *int      `json:"pageNumber"`
	ScaleFactor    float64   `json:"scaleFactor"` // real-world units per base-page pixel
	Unit           string    `json:"unit"`
	ViewportWidth  *float64  `json:"viewportWidth"`
	ViewportHeight *float64  `json:"viewportHeight"`
	Rotation       *Rotation `json:"rotation"`
	CalibratedAt   time.Time `json:"calibratedAt"`
}

// Cutout is a polygon subtracted from an area or volume measurement
type Cutout struct {
	ID     string  `json:"id"`
	Points []Point `json:"points"`
	Value  float64 `json:"value"` // area (or volume) of the cutout, same unit as the parent
}

// Measurement is a calibrated takeoff quantity placed on a page
type Measurement struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"projectId"`
	SheetID            string          `json:"sheetId"`
	ConditionID        string          `json:"conditionId"`
	Type               MeasurementType `json:"type"`
	Points             []Point         `json:"points"`
	CalculatedValue    float64         `json:"calculatedValue"`
	Unit               string          `json:"unit"`
	PdfPage            int             `json:"pdfPage"`
	Color              string          `json:"color,omitempty"`
	ConditionName      string          `json:"conditionName,omitempty"`
	Cutouts            []Cutout        `json:"cutouts,omitempty"`
	NetCalculatedValue *float64        `json:"netCalculatedValue,omitempty"`
	PerimeterValue     *float64        `json:"perimeterValue,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Geometry returns a snapshot of the mutable fields of m
func (m Measurement) Geometry() MeasurementPatch {
	return MeasurementPatch{
		Points:             clonePoints(m.Points),
		CalculatedValue:    m.CalculatedValue,
		Cutouts:            cloneCutouts(m.Cutouts),
		NetCalculatedValue: cloneFloat(m.NetCalculatedValue),
		PerimeterValue:     cloneFloat(m.PerimeterValue),
	}
}

// Clone returns a deep copy of m
func (m Measurement) Clone() Measurement {
	c := m
	c.Points = clonePoints(m.Points)
	c.Cutouts = cloneCutouts(m.Cutouts)
	c.NetCalculatedValue = cloneFloat(m.NetCalculatedValue)
	c.PerimeterValue = cloneFloat(m.PerimeterValue)
	return c
}

// MeasurementPatch is the full set of fields an update may change. Updates always
// carry a complete snapshot so that applying a patch is idempotent.
type MeasurementPatch struct {
	Points             []Point  `json:"points"`
	CalculatedValue    float64  `json:"calculatedValue"`
	Cutouts            []Cutout `json:"cutouts,omitempty"`
	NetCalculatedValue *float64 `json:"netCalculatedValue,omitempty"`
	PerimeterValue     *float64 `json:"perimeterValue,omitempty"`
}

// ApplyTo returns m with the patch applied
func (p MeasurementPatch) ApplyTo(m Measurement) Measurement {
	m.Points = clonePoints(p.Points)
	m.CalculatedValue = p.CalculatedValue
	m.Cutouts = cloneCutouts(p.Cutouts)
	m.NetCalculatedValue = cloneFloat(p.NetCalculatedValue)
	m.PerimeterValue = cloneFloat(p.PerimeterValue)
	return m
}

// AnnotationType is the shape of a free-form annotation
type AnnotationType string

const (
	AnnotateText      AnnotationType = "text"
	AnnotateArrow     AnnotationType = "arrow"
	AnnotateRectangle AnnotationType = "rectangle"
	AnnotateCircle    AnnotationType = "circle"
)

// PointCount returns the exact number of points an annotation of type t has
func (t AnnotationType) PointCount() int {
	switch t {
	case AnnotateText:
		return 1
	case AnnotateArrow, AnnotateRectangle, AnnotateCircle:
		return 2
	}
	return 0
}

// Valid reports whether t is a known annotation type
func (t AnnotationType) Valid() bool {
	return t.PointCount() > 0
}

// Annotation is an unmeasured markup placed on a page
type Annotation struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"projectId"`
	SheetID    string         `json:"sheetId"`
	PageNumber int            `json:"pageNumber"`
	Type       AnnotationType `json:"type"`
	Points     []Point        `json:"points"`
	Color      string         `json:"color"`
	Text       string         `json:"text,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Patch returns a snapshot of the mutable fields of a
func (a Annotation) Patch() AnnotationPatch {
	return AnnotationPatch{Points: clonePoints(a.Points), Color: a.Color, Text: a.Text}
}

// Clone returns a deep copy of a
func (a Annotation) Clone() Annotation {
	c := a
	c.Points = clonePoints(a.Points)
	return c
}

// AnnotationPatch carries every mutable annotation field
type AnnotationPatch struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Text   string  `json:"text,omitempty"`
}

// ApplyTo returns a with the patch applied
func (p AnnotationPatch) ApplyTo(a Annotation) Annotation {
	a.Points = clonePoints(p.Points)
	a.Color = p.Color
	a.Text = p.Text
	return a
}

// Condition is the takeoff line item a new measurement is stamped with
type Condition struct {
	ID    string          `json:"id" yaml:"id"`
	Name  string          `json:"name" yaml:"name"`
	Color string          `json:"color" yaml:"color"`
	Type  MeasurementType `json:"type" yaml:"type"`
	Depth float64         `json:"depth,omitempty" yaml:"depth,omitempty"` // volume only, in the calibrated unit
}

// PageRef identifies the page an interaction is happening on
type PageRef struct {
	ProjectID string `json:"projectId" yaml:"project"`
	SheetID   string `json:"sheetId" yaml:"sheet"`
	Page      int    `json:"page" yaml:"page"`
}

func clonePoints(pts []Point) []Point {
	if pts == nil {
		return nil
	}
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}

func cloneCutouts(cs []Cutout) []Cutout {
	if cs == nil {
		return nil
	}
	out := make([]Cutout, len(cs))
	for i, c := range cs {
		out[i] = Cutout{ID: c.ID, Points: clonePoints(c.Points), Value: c.Value}
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func floatPtr(f float64) *float64 {
	return &f
}
