package takeoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultCalibrationCachePath is the default path for the calibration cache
const DefaultCalibrationCachePath = ".calibration-cache.json"

// DefaultUnit is used for uncalibrated sheets
const DefaultUnit = "ft"

// Scale is the resolved calibration used for calculations on one page
type Scale struct {
	Factor     float64 // real-world units per base-page pixel
	Unit       string
	PageWidth  float64
	PageHeight float64
	Calibrated bool
}

type calibrationKey struct {
	projectID string
	sheetID   string
	page      int
	document  bool
}

func keyFor(c Calibration) calibrationKey {
	if c.PageNumber == nil {
		return calibrationKey{projectID: c.ProjectID, sheetID: c.SheetID, document: true}
	}
	return calibrationKey{projectID: c.ProjectID, sheetID: c.SheetID, page: *c.PageNumber}
}

// CalibrationStore holds at most one calibration per (project, sheet, page)
// key, where a nil page is the document-level fallback
type CalibrationStore struct {
	mu          sync.RWMutex
	records     map[calibrationKey]Calibration
	defaultUnit string
}

// NewCalibrationStore creates an empty store. defaultUnit is reported for
// sheets without any calibration.
func NewCalibrationStore(defaultUnit string) *CalibrationStore {
	if defaultUnit == "" {
		defaultUnit = DefaultUnit
	}
	return &CalibrationStore{
		records:     make(map[calibrationKey]Calibration),
		defaultUnit: defaultUnit,
	}
}

// Upsert stores c, replacing any record with the same key
func (s *CalibrationStore) Upsert(c Calibration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[keyFor(c)] = c
}

// Get returns the record stored under exactly this key
func (s *CalibrationStore) Get(projectID, sheetID string, page *int) (Calibration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[keyFor(Calibration{ProjectID: projectID, SheetID: sheetID, PageNumber: page})]
	return c, ok
}

// Resolve returns the page-specific calibration when one exists, otherwise
// the document-level one
func (s *CalibrationStore) Resolve(projectID, sheetID string, page int) (Calibration, bool) {
	if c, ok := s.Get(projectID, sheetID, &page); ok {
		return c, true
	}
	return s.Get(projectID, sheetID, nil)
}

// ScaleFor resolves the Scale for a page of intrinsic size pageW x pageH.
// A calibration that recorded its own viewport size takes those dimensions.
func (s *CalibrationStore) ScaleFor(ref PageRef, pageW, pageH float64) Scale {
	c, ok := s.Resolve(ref.ProjectID, ref.SheetID, ref.Page)
	if !ok {
		return Scale{Factor: 1, Unit: s.defaultUnit, PageWidth: pageW, PageHeight: pageH}
	}
	sc := Scale{Factor: c.ScaleFactor, Unit: c.Unit, PageWidth: pageW, PageHeight: pageH, Calibrated: true}
	if c.ViewportWidth != nil && c.ViewportHeight != nil && *c.ViewportWidth > 0 && *c.ViewportHeight > 0 {
		sc.PageWidth = *c.ViewportWidth
		sc.PageHeight = *c.ViewportHeight
	}
	return sc
}

// All returns every record ordered by project, sheet and page
func (s *CalibrationStore) All() []Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Calibration, 0, len(s.records))
	for _, c := range s.records {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := keyFor(out[i]), keyFor(out[j])
		if a.projectID != b.projectID {
			return a.projectID < b.projectID
		}
		if a.sheetID != b.sheetID {
			return a.sheetID < b.sheetID
		}
		if a.document != b.document {
			return a.document
		}
		return a.page < b.page
	})
	return out
}

// calibrationCache is the on-disk format of the calibration cache
type calibrationCache struct {
	Calibrations []Calibration `json:"calibrations"`
	LastUpdated  int64         `json:"lastUpdated"`
}

// LoadCalibrations reads a calibration cache file into the store.
// A missing file is not an error.
func (s *CalibrationStore) LoadCalibrations(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No calibration file yet
		}
		return fmt.Errorf("reading calibration file: %w", err)
	}

	var cache calibrationCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return fmt.Errorf("parsing calibration file: %w", err)
	}

	for _, c := range cache.Calibrations {
		s.Upsert(c)
	}
	return nil
}

// SaveCalibrations writes every record in the store to a JSON cache file
func (s *CalibrationStore) SaveCalibrations(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}

	cache := calibrationCache{
		Calibrations: s.All(),
		LastUpdated:  time.Now().Unix(),
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}
	return nil
}

// CalibrationSession collects the two points of a calibration gesture:
// idle -> collecting(1) -> collecting(2) -> commit.
type CalibrationSession struct {
	Page          PageRef
	KnownDistance float64
	Unit          string
	DocumentLevel bool
	Points        []Point
	Cursor        *Point
}

// NewCalibrationSession starts an idle calibration for page. knownDistance is
// the real-world length between the two points the user will pick.
func NewCalibrationSession(page PageRef, knownDistance float64, unit string, documentLevel bool) (*CalibrationSession, error) {
	if knownDistance <= 0 {
		return nil, fmt.Errorf("known distance must be positive, got %g", knownDistance)
	}
	if unit == "" {
		return nil, fmt.Errorf("calibration unit is required")
	}
	return &CalibrationSession{
		Page:          page,
		KnownDistance: knownDistance,
		Unit:          unit,
		DocumentLevel: documentLevel,
	}, nil
}

// Idle reports whether no point has been placed
func (s *CalibrationSession) Idle() bool {
	return len(s.Points) == 0
}

// AddPoint places the next point. The first call only records it and returns
// a nil Calibration. The second call snaps (when ortho is set), derives the
// scale factor from the page-pixel distance, returns the record to commit and
// resets the session to idle.
func (s *CalibrationSession) AddPoint(p Point, ortho bool, pageW, pageH float64, rotation Rotation, now time.Time) (*Calibration, error) {
	if len(s.Points) == 0 {
		s.Points = append(s.Points, p)
		return nil, nil
	}

	second := SnapIf(ortho, p, s.Points)
	pixels := PolylineLength([]Point{s.Points[0], second}, pageW, pageH)
	if pixels < 1e-9 {
		return nil, ErrDegenerateCalibration
	}

	c := &Calibration{
		ProjectID:      s.Page.ProjectID,
		SheetID:        s.Page.SheetID,
		ScaleFactor:    s.KnownDistance / pixels,
		Unit:           s.Unit,
		ViewportWidth:  floatPtr(pageW),
		ViewportHeight: floatPtr(pageH),
		Rotation:       &rotation,
		CalibratedAt:   now,
	}
	if !s.DocumentLevel {
		page := s.Page.Page
		c.PageNumber = &page
	}
	s.Points = nil
	s.Cursor = nil
	return c, nil
}

// Move tracks the pointer for the live preview once the first point is down
func (s *CalibrationSession) Move(p Point, ortho bool) {
	if len(s.Points) == 0 {
		return
	}
	c := SnapIf(ortho, p, s.Points)
	s.Cursor = &c
}

// RemoveLast pops the last point. It reports whether the session is idle afterwards.
func (s *CalibrationSession) RemoveLast() bool {
	if len(s.Points) > 0 {
		s.Points = s.Points[:len(s.Points)-1]
	}
	if len(s.Points) == 0 {
		s.Cursor = nil
		return true
	}
	return false
}
