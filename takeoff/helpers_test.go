package takeoff

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore is a MemoryStore whose calls can be made to fail or to block
type faultyStore struct {
	*MemoryStore

	mu      sync.Mutex
	fail    map[string]error
	gate    chan struct{} // when set, calls wait for it to close
	entered chan string   // receives the op name once a gated call is waiting
	calls   []string
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore(), fail: make(map[string]error)}
}

func (s *faultyStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *faultyStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = make(map[string]error)
}

func (s *faultyStore) block() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan string, 8)
}

func (s *faultyStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *faultyStore) check(op string) error {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	gate, entered := s.gate, s.entered
	err := s.fail[op]
	s.mu.Unlock()
	if gate != nil {
		entered <- op
		<-gate
	}
	return err
}

func (s *faultyStore) CreateMeasurement(ctx context.Context, m Measurement) (string, error) {
	if err := s.check("createMeasurement"); err != nil {
		return "", err
	}
	return s.MemoryStore.CreateMeasurement(ctx, m)
}

func (s *faultyStore) UpdateMeasurement(ctx context.Context, id string, p MeasurementPatch) error {
	if err := s.check("updateMeasurement"); err != nil {
		return err
	}
	return s.MemoryStore.UpdateMeasurement(ctx, id, p)
}

func (s *faultyStore) DeleteMeasurement(ctx context.Context, id string) error {
	if err := s.check("deleteMeasurement"); err != nil {
		return err
	}
	return s.MemoryStore.DeleteMeasurement(ctx, id)
}

func (s *faultyStore) CreateAnnotation(ctx context.Context, a Annotation) (string, error) {
	if err := s.check("createAnnotation"); err != nil {
		return "", err
	}
	return s.MemoryStore.CreateAnnotation(ctx, a)
}

func (s *faultyStore) UpdateAnnotation(ctx context.Context, id string, p AnnotationPatch) error {
	if err := s.check("updateAnnotation"); err != nil {
		return err
	}
	return s.MemoryStore.UpdateAnnotation(ctx, id, p)
}

func (s *faultyStore) DeleteAnnotation(ctx context.Context, id string) error {
	if err := s.check("deleteAnnotation"); err != nil {
		return err
	}
	return s.MemoryStore.DeleteAnnotation(ctx, id)
}

var testPage = PageRef{ProjectID: "proj-1", SheetID: "sheet-1", Page: 1}

// newTestEngine builds an engine on a single w x h page rendered at scale 1,
// rotation 0, so pointer pixels equal page pixels
func newTestEngine(t *testing.T, w, h float64, conds ...Condition) (*Engine, *faultyStore) {
	t.Helper()
	pages := NewStaticPages()
	pages.SetPage(testPage.Page, w, h, 1, Rotate0)
	store := newFaultyStore()
	e := NewEngine(EngineDeps{
		Pages:      pages,
		Store:      store,
		Conditions: StaticConditions(conds),
	}, DefaultEngineConfig())
	e.SetPage(testPage)
	return e, store
}

func send(t *testing.T, e *Engine, ev Event) {
	t.Helper()
	if err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%s at %v) error: %v", ev.Kind, ev.Pixel, err)
	}
}

func click(t *testing.T, e *Engine, x, y float64) {
	t.Helper()
	send(t, e, Event{Kind: PointerDown, Pixel: Point{X: x, Y: y}})
	send(t, e, Event{Kind: PointerUp, Pixel: Point{X: x, Y: y}})
	send(t, e, Event{Kind: Click, Pixel: Point{X: x, Y: y}})
}

func dblclick(t *testing.T, e *Engine, x, y float64) error {
	t.Helper()
	return e.Handle(context.Background(), Event{Kind: DoubleClick, Pixel: Point{X: x, Y: y}})
}

// drag sends a press, two moves and a release, followed by the click a
// browser emits after it
func drag(t *testing.T, e *Engine, from, to Point, mods Event) error {
	t.Helper()
	ctx := context.Background()
	mk := func(kind EventKind, p Point) Event {
		ev := mods
		ev.Kind = kind
		ev.Pixel = p
		return ev
	}
	mid := Point{X: (from.X + to.X) / 2, Y: (from.Y + to.Y) / 2}
	for _, ev := range []Event{mk(PointerDown, from), mk(PointerMove, mid), mk(PointerMove, to)} {
		if err := e.Handle(ctx, ev); err != nil {
			return err
		}
	}
	if err := e.Handle(ctx, mk(PointerUp, to)); err != nil {
		return err
	}
	return e.Handle(ctx, mk(Click, to))
}

func key(t *testing.T, e *Engine, k string) error {
	t.Helper()
	return e.Handle(context.Background(), Event{Kind: KeyDown, Key: k})
}

func measurements(e *Engine) []Measurement {
	return e.Document().MeasurementsOnPage(testPage)
}
