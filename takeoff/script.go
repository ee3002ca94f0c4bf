package takeoff

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Script is a recorded interaction session: a page to work on and the
// gestures performed there, in pointer pixels of the page's viewport.
type Script struct {
	Project string       `yaml:"project"`
	Sheet   string       `yaml:"sheet"`
	Page    int          `yaml:"page"`
	Steps   []ScriptStep `yaml:"steps"`
}

// ScriptStep is one action. Exactly one of the action fields is expected to
// be set; modifiers apply to the pointer action of the same step.
type ScriptStep struct {
	// mode switches: measure, annotate, calibrate, cutout, select, stop
	Mode          string         `yaml:"mode,omitempty"`
	Conditions    []string       `yaml:"conditions,omitempty"`
	Annotation    AnnotationType `yaml:"annotation,omitempty"`
	Color         string         `yaml:"color,omitempty"`
	Distance      float64        `yaml:"distance,omitempty"`
	Unit          string         `yaml:"unit,omitempty"`
	DocumentLevel bool           `yaml:"documentLevel,omitempty"`
	Target        string         `yaml:"target,omitempty"` // cutout parent id, or "last"

	// pointer and keyboard input
	Click    *Point  `yaml:"click,omitempty"`
	DblClick *Point  `yaml:"dblclick,omitempty"`
	Drag     []Point `yaml:"drag,omitempty"`
	Key      string  `yaml:"key,omitempty"`
	Event    *Event  `yaml:"event,omitempty"`
	Shift    bool    `yaml:"shift,omitempty"`
	Ctrl     bool    `yaml:"ctrl,omitempty"`

	Text *string `yaml:"text,omitempty"`
	Undo bool    `yaml:"undo,omitempty"`
	Redo bool    `yaml:"redo,omitempty"`

	// view changes
	View  *ScriptView `yaml:"view,omitempty"`
	Zoom  *float64    `yaml:"zoom,omitempty"`
	Ortho *bool       `yaml:"ortho,omitempty"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text
	ExpectError string `yaml:"expectError,omitempty"`
}

// ScriptView re-renders the current page
type ScriptView struct {
	Scale    float64 `yaml:"scale"`
	Rotation int     `yaml:"rotation"`
}

// LoadScript reads a YAML script from disk
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script YAML: %w", err)
	}
	if s.Page <= 0 {
		s.Page = 1
	}
	return &s, nil
}

// Ref is the page the script runs on
func (s *Script) Ref() PageRef {
	return PageRef{ProjectID: s.Project, SheetID: s.Sheet, Page: s.Page}
}

// ConditionPicker is a ConditionProvider whose selection can change
type ConditionPicker struct {
	mu       sync.RWMutex
	catalog  map[string]Condition
	selected []Condition
}

// NewConditionPicker creates a picker over the given conditions with the
// first one selected
func NewConditionPicker(conds []Condition) *ConditionPicker {
	p := &ConditionPicker{catalog: make(map[string]Condition, len(conds))}
	for _, c := range conds {
		p.catalog[c.ID] = c
	}
	if len(conds) > 0 {
		p.selected = []Condition{conds[0]}
	}
	return p
}

// Select replaces the selection. Unknown ids fail without changing it.
func (p *ConditionPicker) Select(ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make([]Condition, 0, len(ids))
	for _, id := range ids {
		c, ok := p.catalog[id]
		if !ok {
			return fmt.Errorf("condition %s: %w", id, ErrNotFound)
		}
		next = append(next, c)
	}
	p.selected = next
	return nil
}

// SelectedConditions implements ConditionProvider
func (p *ConditionPicker) SelectedConditions() []Condition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Condition, len(p.selected))
	copy(out, p.selected)
	return out
}

// Replayer drives an Engine from a Script
type Replayer struct {
	Engine     *Engine
	Pages      *StaticPages
	Conditions *ConditionPicker
}

// Run replays every step in order and stops at the first unexpected
// outcome. The engine is left on the script's page.
func (r *Replayer) Run(ctx context.Context, s *Script) error {
	r.Engine.SetPage(s.Ref())
	for i, step := range s.Steps {
		err := r.step(ctx, s, step)
		switch {
		case step.ExpectError != "" && err == nil:
			return fmt.Errorf("step %d: expected error %q, got none", i+1, step.ExpectError)
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			return fmt.Errorf("step %d: expected error %q, got %w", i+1, step.ExpectError, err)
		case step.ExpectError != "":
			log.Printf("[replay] step %d failed as expected: %v", i+1, err)
		case err != nil:
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	log.Printf("[replay] %d steps, %d entities on page %d", len(s.Steps), r.Engine.Document().Len(), s.Page)
	return nil
}

func (r *Replayer) step(ctx context.Context, s *Script, st ScriptStep) error {
	e := r.Engine
	mods := Event{Shift: st.Shift, Ctrl: st.Ctrl}

	switch {
	case st.View != nil:
		if r.Pages == nil || !r.Pages.SetView(s.Page, st.View.Scale, NormalizeRotation(st.View.Rotation)) {
			return fmt.Errorf("page %d has no size: %w", s.Page, ErrNoViewport)
		}
		return nil
	case st.Zoom != nil:
		e.SetInteractiveScale(*st.Zoom)
		return nil
	case st.Ortho != nil:
		e.SetOrtho(*st.Ortho)
		return nil
	case len(st.Conditions) > 0 && st.Mode == "":
		return r.selectConditions(st.Conditions)
	case st.Mode != "":
		return r.switchMode(st)
	case st.Click != nil:
		return r.send(ctx, mods, *st.Click, PointerDown, PointerUp, Click)
	case st.DblClick != nil:
		return r.send(ctx, mods, *st.DblClick, DoubleClick)
	case len(st.Drag) > 0:
		return r.drag(ctx, mods, st.Drag)
	case st.Key != "":
		mods.Kind = KeyDown
		mods.Key = st.Key
		return e.Handle(ctx, mods)
	case st.Event != nil:
		return e.Handle(ctx, *st.Event)
	case st.Text != nil:
		return e.CommitText(ctx, *st.Text)
	case st.Undo:
		return e.Undo(ctx)
	case st.Redo:
		return e.Redo(ctx)
	}
	return errors.New("empty step")
}

func (r *Replayer) selectConditions(ids []string) error {
	if r.Conditions == nil {
		return ErrNoCondition
	}
	return r.Conditions.Select(ids...)
}

func (r *Replayer) switchMode(st ScriptStep) error {
	e := r.Engine
	switch st.Mode {
	case "measure":
		if len(st.Conditions) > 0 {
			if err := r.selectConditions(st.Conditions); err != nil {
				return err
			}
		}
		return e.StartMeasuring()
	case "annotate":
		return e.StartAnnotating(st.Annotation, st.Color)
	case "calibrate":
		return e.StartCalibration(st.Distance, st.Unit, st.DocumentLevel)
	case "cutout":
		target := st.Target
		if target == "" || target == "last" {
			target = r.lastMeasurement()
		}
		return e.StartCutout(target)
	case "select":
		e.StartSelecting()
		return nil
	case "stop":
		e.Stop()
		return nil
	}
	return fmt.Errorf("unknown mode %q", st.Mode)
}

// lastMeasurement returns the id of the most recently added measurement
func (r *Replayer) lastMeasurement() string {
	refs := r.Engine.Document().Refs()
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].Kind == KindMeasurement {
			return refs[i].ID
		}
	}
	return ""
}

func (r *Replayer) send(ctx context.Context, mods Event, at Point, kinds ...EventKind) error {
	for _, k := range kinds {
		ev := mods
		ev.Kind = k
		ev.Pixel = at
		if err := r.Engine.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// drag presses at the first point, moves through the rest and releases at
// the last, followed by the click a browser emits after it
func (r *Replayer) drag(ctx context.Context, mods Event, path []Point) error {
	if err := r.send(ctx, mods, path[0], PointerDown); err != nil {
		return err
	}
	for _, p := range path[1:] {
		if err := r.send(ctx, mods, p, PointerMove); err != nil {
			return err
		}
	}
	return r.send(ctx, mods, path[len(path)-1], PointerUp, Click)
}
