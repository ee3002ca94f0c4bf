package takeoff

import "context"

// PageRenderer supplies page geometry. The engine never renders pixels itself.
type PageRenderer interface {
	// PageSize returns the intrinsic (scale 1, rotation 0) size of a page
	PageSize(page int) (width, height float64, ok bool)
	// Viewport returns the viewport the page was last rendered with
	Viewport(page int) (Viewport, bool)
}

// Persistence is the source of truth for measurements and annotations. Every
// call may fail; the engine reverts its optimistic local state when it does.
type Persistence interface {
	CreateMeasurement(ctx context.Context, m Measurement) (string, error)
	UpdateMeasurement(ctx context.Context, id string, patch MeasurementPatch) error
	DeleteMeasurement(ctx context.Context, id string) error

	CreateAnnotation(ctx context.Context, a Annotation) (string, error)
	UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) error
	DeleteAnnotation(ctx context.Context, id string) error
}

// Repository is a Persistence that can also be queried
type Repository interface {
	Persistence
	GetMeasurement(ctx context.Context, id string) (Measurement, error)
	GetAnnotation(ctx context.Context, id string) (Annotation, error)
	ListMeasurements(ctx context.Context, projectID, sheetID string) ([]Measurement, error)
	ListAnnotations(ctx context.Context, projectID, sheetID string) ([]Annotation, error)
}

// ConditionProvider reports which conditions the user has selected
type ConditionProvider interface {
	SelectedConditions() []Condition
}

// Calculator turns a completed point set into takeoff values
type Calculator interface {
	Calculate(t MeasurementType, points []Point, scale Scale, depth float64) (Values, error)
}

// Values is the result of a calculation
type Values struct {
	Value     float64
	Unit      string
	Perimeter *float64
}

// StaticConditions is a ConditionProvider over a fixed selection
type StaticConditions []Condition

// SelectedConditions implements ConditionProvider
func (s StaticConditions) SelectedConditions() []Condition {
	return s
}

// StaticPages is a PageRenderer for pages whose size and viewport are known
// up front, as in scripted replays and server-side rendering.
type StaticPages struct {
	Sizes     map[int][2]float64
	Viewports map[int]Viewport
}

// NewStaticPages creates an empty StaticPages
func NewStaticPages() *StaticPages {
	return &StaticPages{
		Sizes:     make(map[int][2]float64),
		Viewports: make(map[int]Viewport),
	}
}

// SetPage records a page size and renders it at the given scale and rotation
func (s *StaticPages) SetPage(page int, width, height, scale float64, rotation Rotation) {
	s.Sizes[page] = [2]float64{width, height}
	s.Viewports[page] = NewViewport(width, height, scale, rotation)
}

// PageSize implements PageRenderer
func (s *StaticPages) PageSize(page int) (float64, float64, bool) {
	sz, ok := s.Sizes[page]
	return sz[0], sz[1], ok
}

// Viewport implements PageRenderer
func (s *StaticPages) Viewport(page int) (Viewport, bool) {
	vp, ok := s.Viewports[page]
	return vp, ok
}

// SetView re-renders a known page at a new scale and rotation. It reports
// false when the page size was never recorded.
func (s *StaticPages) SetView(page int, scale float64, rotation Rotation) bool {
	sz, ok := s.Sizes[page]
	if !ok {
		return false
	}
	s.Viewports[page] = NewViewport(sz[0], sz[1], scale, rotation)
	return true
}
