package takeoff

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind is the type of an input event
type EventKind string

const (
	PointerDown EventKind = "down"
	PointerMove EventKind = "move"
	PointerUp   EventKind = "up"
	Click       EventKind = "click"
	DoubleClick EventKind = "dblclick"
	KeyDown     EventKind = "key"
)

// Event is one pointer or keyboard event. Pixel is in pointer space, i.e.
// relative to the top-left of the rendered (possibly CSS-zoomed) page.
type Event struct {
	Kind  EventKind `json:"kind" yaml:"kind"`
	Pixel Point     `json:"pixel" yaml:"at"`
	Shift bool      `json:"shift,omitempty" yaml:"shift,omitempty"`
	Ctrl  bool      `json:"ctrl,omitempty" yaml:"ctrl,omitempty"`
	Meta  bool      `json:"meta,omitempty" yaml:"meta,omitempty"`
	Key   string    `json:"key,omitempty" yaml:"key,omitempty"`
}

func (ev Event) toggle() bool {
	return ev.Ctrl || ev.Meta
}

// EngineConfig tunes interaction behavior
type EngineConfig struct {
	HistoryLimit     int     `yaml:"historyLimit"`
	MinDragPixels    float64 `yaml:"minDragPixels"`
	HitTolerance     float64 `yaml:"hitTolerance"`
	ContinuousLinear bool    `yaml:"continuousLinear"`
	DefaultUnit      string  `yaml:"defaultUnit"`

	// CalibrationCache, when set, is rewritten after every calibration
	CalibrationCache string `yaml:"-"`
}

// DefaultEngineConfig returns the stock interaction settings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistoryLimit:     DefaultHistoryLimit,
		MinDragPixels:    5,
		HitTolerance:     6,
		ContinuousLinear: true,
		DefaultUnit:      DefaultUnit,
	}
}

// EngineDeps are the collaborators an Engine works against. Nil fields get
// in-process defaults.
type EngineDeps struct {
	Pages        PageRenderer
	Store        Persistence
	Conditions   ConditionProvider
	Calculator   Calculator
	Calibrations *CalibrationStore
	History      HistoryLog
	Document     *Document
	Selection    SelectionModel
}

// Engine routes pointer and keyboard events to the active mode's state
// machine and turns completed gestures into committed, undoable commands.
type Engine struct {
	mu           sync.Mutex
	cfg          EngineConfig
	pages        PageRenderer
	store        Persistence
	conditions   ConditionProvider
	calc         Calculator
	calibrations *CalibrationStore
	history      HistoryLog
	ictx         *InteractionContext
	currentScale float64
	swallowClick bool
	now          func() time.Time
}

// NewEngine creates an idle engine
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.MinDragPixels <= 0 {
		cfg.MinDragPixels = def.MinDragPixels
	}
	if cfg.HitTolerance <= 0 {
		cfg.HitTolerance = def.HitTolerance
	}
	if cfg.DefaultUnit == "" {
		cfg.DefaultUnit = def.DefaultUnit
	}

	e := &Engine{
		cfg:          cfg,
		pages:        deps.Pages,
		store:        deps.Store,
		conditions:   deps.Conditions,
		calc:         deps.Calculator,
		calibrations: deps.Calibrations,
		history:      deps.History,
		now:          time.Now,
	}
	if e.pages == nil {
		e.pages = NewStaticPages()
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.conditions == nil {
		e.conditions = StaticConditions(nil)
	}
	if e.calc == nil {
		e.calc = ScaleCalculator{}
	}
	if e.calibrations == nil {
		e.calibrations = NewCalibrationStore(cfg.DefaultUnit)
	}
	if e.history == nil {
		e.history = NewHistory(cfg.HistoryLimit)
	}
	e.ictx = NewInteractionContext(PageRef{}, deps.Document, deps.Selection)
	return e
}

// Document returns the local document
func (e *Engine) Document() *Document { return e.ictx.Document }

// History returns the undo log
func (e *Engine) History() HistoryLog { return e.history }

// Calibrations returns the calibration store
func (e *Engine) Calibrations() *CalibrationStore { return e.calibrations }

// Store returns the persistence collaborator
func (e *Engine) Store() Persistence { return e.store }

// Config returns the effective configuration
func (e *Engine) Config() EngineConfig { return e.cfg }

// Mode returns the active mode
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ictx.Mode
}

// Page returns the page being worked on
func (e *Engine) Page() PageRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ictx.Page
}

// SetPage switches pages. Any gesture in progress is torn down and the
// selection cleared.
func (e *Engine) SetPage(page PageRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.SetMode(Idle{})
	e.ictx.Page = page
	e.ictx.Selection.Clear()
	e.currentScale = 0
	e.swallowClick = false
}

// SetInteractiveScale sets the live zoom that pointer coordinates are
// expressed in. Zero means the page is shown at its rendered scale.
func (e *Engine) SetInteractiveScale(scale float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentScale = scale
}

// SetOrtho turns sticky ortho snapping on or off
func (e *Engine) SetOrtho(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.Ortho = on
}

// Load replaces the local document with the current sheet's entities
func (e *Engine) Load(ctx context.Context, repo Repository) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.SetMode(Idle{})
	e.ictx.Selection.Clear()
	return e.ictx.Document.Load(ctx, repo, e.ictx.Page.ProjectID, e.ictx.Page.SheetID)
}

// Transform returns the pointer transform for the current page
func (e *Engine) Transform() Transform {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transformLocked()
}

func (e *Engine) transformLocked() ViewportTransform {
	t := ViewportTransform{CurrentScale: e.currentScale}
	if vp, ok := e.pages.Viewport(e.ictx.Page.Page); ok {
		t.Viewport = &vp
	}
	return t
}

// pageSizeLocked returns the intrinsic page size, deriving it from the
// viewport when the renderer does not report one
func (e *Engine) pageSizeLocked() (float64, float64, error) {
	if w, h, ok := e.pages.PageSize(e.ictx.Page.Page); ok && w > 0 && h > 0 {
		return w, h, nil
	}
	vp, ok := e.pages.Viewport(e.ictx.Page.Page)
	if !ok || vp.Scale <= 0 || !usableViewport(&vp) {
		return 0, 0, ErrNoViewport
	}
	w, h := vp.Width/vp.Scale, vp.Height/vp.Scale
	if vp.Rotation == Rotate90 || vp.Rotation == Rotate270 {
		w, h = h, w
	}
	return w, h, nil
}

// ---------------------------------------------------------------------------
// Mode switching
// ---------------------------------------------------------------------------

// StartCalibration enters calibration mode. knownDistance is the real-world
// length between the two points the user will pick.
func (e *Engine) StartCalibration(knownDistance float64, unit string, documentLevel bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := NewCalibrationSession(e.ictx.Page, knownDistance, unit, documentLevel)
	if err != nil {
		return err
	}
	e.ictx.SetMode(Calibrating{Session: s})
	return nil
}

// StartMeasuring enters measurement mode for the first selected condition
func (e *Engine) StartMeasuring() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conds := e.conditions.SelectedConditions()
	if len(conds) == 0 {
		return ErrNoCondition
	}
	cond := conds[0]
	if !cond.Type.Valid() {
		return fmt.Errorf("condition %s has type %q: %w", cond.ID, cond.Type, ErrNoCondition)
	}
	e.ictx.SetMode(Measuring{
		Condition: cond,
		Session:   NewMeasureSession(cond.Type, e.cfg.ContinuousLinear, e.cfg.MinDragPixels),
	})
	return nil
}

// StartAnnotating enters annotation mode for one shape
func (e *Engine) StartAnnotating(t AnnotationType, color string) error {
	if !t.Valid() {
		return fmt.Errorf("annotation type %q: %w", t, ErrWrongMode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.SetMode(Annotating{Session: NewAnnotateSession(t, color, e.cfg.MinDragPixels)})
	return nil
}

// StartCutout enters cutout mode against one area or volume measurement
func (e *Engine) StartCutout(targetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.ictx.Document.Measurement(targetID)
	if !ok {
		return fmt.Errorf("measurement %s: %w", targetID, ErrNotFound)
	}
	if !m.Type.IsPolygon() {
		return fmt.Errorf("measurement %s is %s: %w", targetID, m.Type, ErrInvalidCutoutTarget)
	}
	page := e.ictx.Page
	if m.ProjectID != page.ProjectID || m.SheetID != page.SheetID || m.PdfPage != page.Page {
		return fmt.Errorf("measurement %s is on page %d, not %d: %w", targetID, m.PdfPage, page.Page, ErrInvalidCutoutTarget)
	}
	e.ictx.SetMode(CuttingOut{
		TargetID: targetID,
		Session:  NewMeasureSession(MeasureArea, true, e.cfg.MinDragPixels),
	})
	return nil
}

// StartSelecting enters selection mode
func (e *Engine) StartSelecting() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.SetMode(Selecting{})
}

// Stop tears down the active mode and returns to idle
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.SetMode(Idle{})
}

// ---------------------------------------------------------------------------
// Event routing
// ---------------------------------------------------------------------------

// Handle routes one event to the active mode. Pointer events on a page with
// no viewport are dropped with ErrNoViewport and change nothing. Persistence
// runs before Handle returns; a rejected commit has already been rolled back
// locally when the error is returned.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if ev.Kind == KeyDown && ev.toggle() {
		switch strings.ToLower(ev.Key) {
		case "z":
			if ev.Shift {
				return e.Redo(ctx)
			}
			return e.Undo(ctx)
		case "y":
			return e.Redo(ctx)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Kind == KeyDown {
		return e.handleKeyLocked(ctx, ev)
	}

	tr := e.transformLocked()
	base, err := tr.ToBase(ev.Pixel)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case PointerDown:
		e.swallowClick = false
	case Click:
		if e.swallowClick {
			e.swallowClick = false
			return nil
		}
	}

	ortho := e.ictx.Ortho || ev.Shift
	sink := engineSink{e: e}

	switch m := e.ictx.Mode.(type) {
	case Calibrating:
		return e.handleCalibratingLocked(m, ev, base, ortho)
	case Measuring:
		return e.handleDrawingLocked(ctx, m.Session, ev, base, ortho, tr, sink)
	case CuttingOut:
		return e.handleDrawingLocked(ctx, m.Session, ev, base, ortho, tr, sink)
	case Annotating:
		return e.handleAnnotatingLocked(ctx, m.Session, ev, base, sink)
	case Selecting:
		return e.handleSelectingLocked(ctx, m, ev, tr)
	}
	return nil
}

func (e *Engine) handleCalibratingLocked(m Calibrating, ev Event, base Point, ortho bool) error {
	switch ev.Kind {
	case PointerMove:
		m.Session.Move(base, ortho)
	case Click:
		w, h, err := e.pageSizeLocked()
		if err != nil {
			return err
		}
		rotation := Rotate0
		if vp, ok := e.pages.Viewport(e.ictx.Page.Page); ok {
			rotation = vp.Rotation
		}
		c, err := m.Session.AddPoint(base, ortho, w, h, rotation, e.now())
		if err != nil || c == nil {
			return err
		}
		e.calibrations.Upsert(*c)
		log.Printf("[engine] calibrated %s/%s: %.6f %s per pixel", c.ProjectID, c.SheetID, c.ScaleFactor, c.Unit)
		if e.cfg.CalibrationCache != "" {
			if err := e.calibrations.SaveCalibrations(e.cfg.CalibrationCache); err != nil {
				log.Printf("[engine] Warning: failed to save calibration cache: %v", err)
			}
		}
		e.ictx.SetMode(Idle{})
	}
	return nil
}

// handleDrawingLocked drives a MeasureSession, for measurements and cutouts alike
func (e *Engine) handleDrawingLocked(ctx context.Context, s *MeasureSession, ev Event, base Point, ortho bool, tr Transform, sink GeometrySink) error {
	switch ev.Kind {
	case PointerDown:
		s.PointerDown(ev.Pixel)
	case PointerMove:
		s.PointerMove(ev.Pixel, base, ortho)
	case PointerUp:
		handled, err := s.PointerUp(ctx, ev.Pixel, tr, sink)
		if handled {
			e.swallowClick = true
		}
		return err
	case Click:
		return s.Click(ctx, base, ortho, sink)
	case DoubleClick:
		return s.DoubleClick(ctx, base, ortho, sink)
	}
	return nil
}

func (e *Engine) handleAnnotatingLocked(ctx context.Context, s *AnnotateSession, ev Event, base Point, sink GeometrySink) error {
	switch ev.Kind {
	case PointerDown:
		s.PointerDown(ev.Pixel, base)
	case PointerMove:
		s.PointerMove(ev.Pixel, base)
	case PointerUp:
		handled, err := s.PointerUp(ctx, ev.Pixel, base, sink)
		if handled {
			e.swallowClick = true
		}
		return err
	case Click:
		return s.Click(ctx, base, ev.Pixel, sink)
	}
	return nil
}

func (e *Engine) handleSelectingLocked(ctx context.Context, m Selecting, ev Event, tr Transform) error {
	doc, sel := e.ictx.Document, e.ictx.Selection
	switch ev.Kind {
	case PointerDown:
		if m.Drag != nil {
			m.Drag.Cancel(doc)
		}
		ref, hit := HitTest(doc, e.ictx.Page, ev.Pixel, tr, e.cfg.HitTolerance)
		var d *SelectDrag
		switch {
		case hit && sel.Contains(ref):
			d = NewMoveDrag(doc, sel.Selected(), ev.Pixel)
		case hit:
			// plain click on an unselected entity; selection happens on click
		default:
			if _, ok := e.rectangleConditionLocked(); ok {
				d = NewAreaDrag(DragRectangle, ev.Pixel, false)
			} else {
				d = NewAreaDrag(DragMarquee, ev.Pixel, ev.toggle())
			}
		}
		e.ictx.Mode = Selecting{Drag: d}
	case PointerMove:
		if m.Drag != nil {
			return m.Drag.Move(doc, ev.Pixel, tr)
		}
	case PointerUp:
		if m.Drag == nil {
			return nil
		}
		e.ictx.Mode = Selecting{}
		return e.finishDragLocked(ctx, m.Drag, ev.Pixel, tr)
	case Click:
		ref, hit := HitTest(doc, e.ictx.Page, ev.Pixel, tr, e.cfg.HitTolerance)
		if hit {
			sel.Click(ref, ev.toggle())
		} else if !ev.toggle() {
			sel.Clear()
		}
	}
	return nil
}

func (e *Engine) finishDragLocked(ctx context.Context, d *SelectDrag, pixel Point, tr Transform) error {
	doc := e.ictx.Document
	switch d.Kind {
	case DragMove:
		if err := d.Move(doc, pixel, tr); err != nil {
			d.Cancel(doc)
			return err
		}
		if !d.Moved() {
			return nil
		}
		e.swallowClick = true
		var errs []error
		for _, cmd := range d.Commands() {
			if err := e.commitLocked(ctx, cmd); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case DragRectangle:
		if !dragExceeds(d.Press, pixel, e.cfg.MinDragPixels, true) {
			return nil
		}
		e.swallowClick = true
		pts, err := RectangleFromPixels(d.Press, pixel, tr)
		if err != nil {
			return err
		}
		return engineSink{e: e}.CompleteMeasurement(ctx, pts)

	case DragMarquee:
		if !dragExceeds(d.Press, pixel, e.cfg.MinDragPixels, false) {
			return nil
		}
		e.swallowClick = true
		rect, err := RectangleFromPixels(d.Press, pixel, tr)
		if err != nil {
			return err
		}
		hits := EntitiesInBounds(doc, e.ictx.Page, rect)
		if d.Additive {
			e.ictx.Selection.Add(hits...)
		} else {
			e.ictx.Selection.Set(hits)
		}
	}
	return nil
}

// rectangleConditionLocked returns the condition a drag from empty space
// measures with: exactly one selected condition of type area or volume
func (e *Engine) rectangleConditionLocked() (Condition, bool) {
	conds := e.conditions.SelectedConditions()
	if len(conds) != 1 || !conds[0].Type.IsPolygon() {
		return Condition{}, false
	}
	return conds[0], true
}

func (e *Engine) handleKeyLocked(ctx context.Context, ev Event) error {
	switch ev.Key {
	case "Escape":
		e.escapeLocked()
	case "Enter":
		switch m := e.ictx.Mode.(type) {
		case Measuring:
			return m.Session.Finish(ctx, engineSink{e: e})
		case CuttingOut:
			return m.Session.Finish(ctx, engineSink{e: e})
		}
	case "Delete", "Backspace":
		if _, ok := e.ictx.Mode.(Selecting); ok {
			return e.deleteSelectedLocked(ctx)
		}
	}
	return nil
}

// escapeLocked pops the innermost piece of gesture state. Escaping an empty
// gesture leaves the mode.
func (e *Engine) escapeLocked() {
	leave := false
	switch m := e.ictx.Mode.(type) {
	case Calibrating:
		leave = m.Session.Idle()
		m.Session.RemoveLast()
	case Measuring:
		leave = m.Session.Escape()
	case CuttingOut:
		leave = m.Session.Escape()
	case Annotating:
		leave = m.Session.Escape()
	case Selecting:
		if m.Drag != nil {
			m.Drag.Cancel(e.ictx.Document)
			e.ictx.Mode = Selecting{}
		} else {
			e.ictx.Selection.Clear()
		}
	}
	if leave {
		e.ictx.SetMode(Idle{})
	}
}

// CommitText completes a pending text annotation
func (e *Engine) CommitText(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.ictx.Mode.(Annotating)
	if !ok {
		return ErrWrongMode
	}
	return m.Session.CommitText(ctx, text, engineSink{e: e})
}

// PendingText returns the text anchor waiting for content, if any
func (e *Engine) PendingText() (PendingText, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.ictx.Mode.(Annotating)
	if !ok || m.Session.Pending == nil {
		return PendingText{}, false
	}
	return *m.Session.Pending, true
}

// Preview returns the transient gesture state for the active mode
func (e *Engine) Preview() Preview {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr := e.transformLocked()
	var p Preview
	switch m := e.ictx.Mode.(type) {
	case Calibrating:
		p.Points = clonePoints(m.Session.Points)
		if m.Session.Cursor != nil {
			c := *m.Session.Cursor
			p.Cursor = &c
		}
	case Measuring:
		p = m.Session.Preview(tr)
		p.Value, p.Unit = e.runningValueLocked(m.Condition.Type, p.Points, m.Condition.Depth)
	case CuttingOut:
		p = m.Session.Preview(tr)
	case Annotating:
		p = m.Session.Preview()
	case Selecting:
		if m.Drag != nil && m.Drag.Kind != DragMove && m.Drag.Moved() {
			if rect, err := RectangleFromPixels(m.Drag.Press, m.Drag.Current, tr); err == nil {
				p.Rect = rect
			}
		}
	}
	p.Mode = e.ictx.Mode.Name()
	return p
}

// runningValueLocked computes the value of the points placed so far
func (e *Engine) runningValueLocked(t MeasurementType, pts []Point, depth float64) (float64, string) {
	if t == MeasureCount || len(pts) < t.MinPoints() {
		return 0, ""
	}
	w, h, err := e.pageSizeLocked()
	if err != nil {
		return 0, ""
	}
	vals, err := e.calc.Calculate(t, pts, e.calibrations.ScaleFor(e.ictx.Page, w, h), depth)
	if err != nil {
		return 0, ""
	}
	return vals.Value, vals.Unit
}

// ---------------------------------------------------------------------------
// Selection, deletion and history
// ---------------------------------------------------------------------------

// Selected returns the selected entities
func (e *Engine) Selected() []EntityRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ictx.Selection.Selected()
}

// Select replaces the selection
func (e *Engine) Select(refs ...EntityRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ictx.Selection.Set(refs)
}

// DeleteSelected deletes every selected entity, one undo entry each. Entities
// whose delete is rejected are restored and stay selected.
func (e *Engine) DeleteSelected(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteSelectedLocked(ctx)
}

func (e *Engine) deleteSelectedLocked(ctx context.Context) error {
	doc, sel := e.ictx.Document, e.ictx.Selection
	var errs []error
	for _, ref := range sel.Selected() {
		var cmd Command
		switch ref.Kind {
		case KindMeasurement:
			m, ok := doc.Measurement(ref.ID)
			if !ok {
				sel.Remove(ref)
				continue
			}
			cmd = &DeleteMeasurementCommand{Measurement: m}
		case KindAnnotation:
			a, ok := doc.Annotation(ref.ID)
			if !ok {
				sel.Remove(ref)
				continue
			}
			cmd = &DeleteAnnotationCommand{Annotation: a}
		default:
			continue
		}
		if err := e.commitLocked(ctx, cmd); err != nil {
			errs = append(errs, err)
			continue
		}
		sel.Remove(ref)
	}
	return errors.Join(errs...)
}

// Undo reverts the most recent command. It does not hold the engine lock
// while the store is called, so a concurrent Undo or Redo sees ErrHistoryBusy.
func (e *Engine) Undo(ctx context.Context) error {
	e.cancelDrag()
	cmd, err := e.history.Undo(ctx, e.ictx.Document, e.store)
	if err != nil {
		return err
	}
	log.Printf("[engine] undo %s %s", cmd.Kind(), cmd.Target().ID)
	e.mu.Lock()
	e.pruneSelectionLocked()
	e.mu.Unlock()
	return nil
}

// Redo re-applies the most recently undone command
func (e *Engine) Redo(ctx context.Context) error {
	e.cancelDrag()
	cmd, err := e.history.Redo(ctx, e.ictx.Document, e.store)
	if err != nil {
		return err
	}
	log.Printf("[engine] redo %s %s", cmd.Kind(), cmd.Target().ID)
	e.mu.Lock()
	e.pruneSelectionLocked()
	e.mu.Unlock()
	return nil
}

// cancelDrag abandons a selection drag in flight, putting moved entities
// back where they were so the history sees committed geometry only
func (e *Engine) cancelDrag() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.ictx.Mode.(Selecting); ok && m.Drag != nil {
		e.ictx.SetMode(Selecting{})
		e.swallowClick = true
	}
}

// CanUndo reports whether there is anything to undo
func (e *Engine) CanUndo() bool { return e.history.CanUndo() }

// CanRedo reports whether there is anything to redo
func (e *Engine) CanRedo() bool { return e.history.CanRedo() }

// pruneSelectionLocked deselects entities that no longer exist
func (e *Engine) pruneSelectionLocked() {
	doc, sel := e.ictx.Document, e.ictx.Selection
	for _, ref := range sel.Selected() {
		if kind, ok := doc.Lookup(ref.ID); !ok || kind != ref.Kind {
			sel.Remove(ref)
		}
	}
}

// commitLocked executes cmd and records it in the history when the store accepts it
func (e *Engine) commitLocked(ctx context.Context, cmd Command) error {
	if _, err := Execute(ctx, cmd, e.ictx.Document, e.store); err != nil {
		return err
	}
	e.history.Push(cmd)
	return nil
}

// ---------------------------------------------------------------------------
// Gesture completion
// ---------------------------------------------------------------------------

// engineSink turns completed gestures into commands for the active mode.
// Its methods run with the engine lock held.
type engineSink struct {
	e *Engine
}

func (s engineSink) CompleteMeasurement(ctx context.Context, points []Point) error {
	e := s.e
	switch m := e.ictx.Mode.(type) {
	case Measuring:
		return e.createMeasurementLocked(ctx, m.Condition, points)
	case CuttingOut:
		return e.addCutoutLocked(ctx, m.TargetID, points)
	case Selecting:
		cond, ok := e.rectangleConditionLocked()
		if !ok {
			return ErrNoCondition
		}
		return e.createMeasurementLocked(ctx, cond, points)
	}
	return ErrWrongMode
}

func (s engineSink) CompleteAnnotation(ctx context.Context, points []Point, text string) error {
	e := s.e
	m, ok := e.ictx.Mode.(Annotating)
	if !ok {
		return ErrWrongMode
	}
	page := e.ictx.Page
	a := Annotation{
		ID:         provisionalID(),
		ProjectID:  page.ProjectID,
		SheetID:    page.SheetID,
		PageNumber: page.Page,
		Type:       m.Session.Type,
		Points:     points,
		Color:      m.Session.Color,
		Text:       text,
		CreatedAt:  e.now(),
	}
	cmd := &AddAnnotationCommand{Annotation: a}
	if err := e.commitLocked(ctx, cmd); err != nil {
		return err
	}
	log.Printf("[engine] annotation %s created (%s)", cmd.Annotation.ID, a.Type)
	return nil
}

func (e *Engine) createMeasurementLocked(ctx context.Context, cond Condition, points []Point) error {
	w, h, err := e.pageSizeLocked()
	if err != nil {
		return err
	}
	page := e.ictx.Page
	vals, err := e.calc.Calculate(cond.Type, points, e.calibrations.ScaleFor(page, w, h), cond.Depth)
	if err != nil {
		return err
	}
	m := Measurement{
		ID:              provisionalID(),
		ProjectID:       page.ProjectID,
		SheetID:         page.SheetID,
		ConditionID:     cond.ID,
		Type:            cond.Type,
		Points:          points,
		CalculatedValue: vals.Value,
		Unit:            vals.Unit,
		PdfPage:         page.Page,
		Color:           cond.Color,
		ConditionName:   cond.Name,
		PerimeterValue:  vals.Perimeter,
		CreatedAt:       e.now(),
	}
	cmd := &AddMeasurementCommand{Measurement: m}
	if err := e.commitLocked(ctx, cmd); err != nil {
		return err
	}
	log.Printf("[engine] measurement %s created: %s %.2f %s", cmd.Measurement.ID, m.Type, m.CalculatedValue, m.Unit)
	return nil
}

func (e *Engine) addCutoutLocked(ctx context.Context, targetID string, points []Point) error {
	m, ok := e.ictx.Document.Measurement(targetID)
	if !ok {
		return fmt.Errorf("measurement %s: %w", targetID, ErrNotFound)
	}
	w, h, err := e.pageSizeLocked()
	if err != nil {
		return err
	}
	// a cutout is valued at the parent's gross value per unit of area
	gross := PolygonArea(m.Points, w, h)
	if gross <= 0 {
		return fmt.Errorf("measurement %s has no area: %w", m.ID, ErrInvalidGeometry)
	}
	value := m.CalculatedValue * PolygonArea(points, w, h) / gross
	cmd, err := NewCutoutCommand(m, Cutout{ID: uuid.NewString(), Points: points, Value: value})
	if err != nil {
		return err
	}
	if err := e.commitLocked(ctx, cmd); err != nil {
		return err
	}
	log.Printf("[engine] cutout added to %s: net %.2f %s", m.ID, *cmd.Next.NetCalculatedValue, m.Unit)
	return nil
}

// provisionalID names an entity until the store assigns its real id
func provisionalID() string {
	return "tmp-" + uuid.NewString()
}
