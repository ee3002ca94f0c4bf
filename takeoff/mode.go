package takeoff

// Mode is the single active interaction mode. Only the types in this file
// implement it, so combinations like "measuring while calibrating" cannot be
// represented.
type Mode interface {
	// Name is a stable identifier used in logs and scripts
	Name() string
	// teardown drops every piece of transient gesture state the mode holds
	teardown(ictx *InteractionContext)
}

// Idle accepts no pointer input
type Idle struct{}

func (Idle) Name() string                      { return "idle" }
func (Idle) teardown(ictx *InteractionContext) {}

// Calibrating collects the two points of a calibration gesture
type Calibrating struct {
	Session *CalibrationSession
}

func (Calibrating) Name() string { return "calibrating" }

func (m Calibrating) teardown(ictx *InteractionContext) {
	if m.Session != nil {
		m.Session.Points = nil
		m.Session.Cursor = nil
	}
}

// Measuring draws measurements for one condition
type Measuring struct {
	Condition Condition
	Session   *MeasureSession
}

func (Measuring) Name() string { return "measuring" }

func (m Measuring) teardown(ictx *InteractionContext) {
	if m.Session != nil {
		m.Session.Reset()
	}
}

// Annotating draws annotations of one shape
type Annotating struct {
	Session *AnnotateSession
}

func (Annotating) Name() string { return "annotating" }

func (m Annotating) teardown(ictx *InteractionContext) {
	if m.Session != nil {
		m.Session.Reset()
	}
}

// CuttingOut collects cutout polygons for a single area or volume measurement
type CuttingOut struct {
	TargetID string
	Session  *MeasureSession
}

func (CuttingOut) Name() string { return "cutting-out" }

func (m CuttingOut) teardown(ictx *InteractionContext) {
	if m.Session != nil {
		m.Session.Reset()
	}
}

// Selecting picks, moves and marquee-selects existing entities
type Selecting struct {
	Drag *SelectDrag
}

func (Selecting) Name() string { return "selecting" }

func (m Selecting) teardown(ictx *InteractionContext) {
	if m.Drag != nil {
		m.Drag.Cancel(ictx.Document)
	}
}

// InteractionContext is the state shared by every state machine: the active
// mode, the page being worked on and the local document. It is passed by
// reference; there is no package-level interaction state.
type InteractionContext struct {
	Mode      Mode
	Page      PageRef
	Ortho     bool // sticky ortho toggle; a Shift modifier enables it per event
	Document  *Document
	Selection SelectionModel
}

// NewInteractionContext creates an idle context for page
func NewInteractionContext(page PageRef, doc *Document, sel SelectionModel) *InteractionContext {
	if doc == nil {
		doc = NewDocument()
	}
	if sel == nil {
		sel = NewSelection()
	}
	return &InteractionContext{Mode: Idle{}, Page: page, Document: doc, Selection: sel}
}

// SetMode tears down the current mode before switching to next
func (c *InteractionContext) SetMode(next Mode) {
	if c.Mode != nil {
		c.Mode.teardown(c)
	}
	if next == nil {
		next = Idle{}
	}
	c.Mode = next
}
