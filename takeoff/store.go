package takeoff

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository. It always assigns a fresh id on
// create, the same way the remote store does, so callers must not assume
// that a re-created entity keeps its old id.
type MemoryStore struct {
	mu           sync.RWMutex
	measurements map[string]Measurement
	annotations  map[string]Annotation
	now          func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		measurements: make(map[string]Measurement),
		annotations:  make(map[string]Annotation),
		now:          time.Now,
	}
}

// CreateMeasurement implements Persistence
func (s *MemoryStore) CreateMeasurement(ctx context.Context, m Measurement) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateMeasurement(m); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m = m.Clone()
	m.ID = uuid.NewString()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.measurements[m.ID] = m
	return m.ID, nil
}

// UpdateMeasurement implements Persistence
func (s *MemoryStore) UpdateMeasurement(ctx context.Context, id string, patch MeasurementPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.measurements[id]
	if !ok {
		return fmt.Errorf("measurement %s: %w", id, ErrNotFound)
	}
	s.measurements[id] = patch.ApplyTo(m)
	return nil
}

// DeleteMeasurement implements Persistence
func (s *MemoryStore) DeleteMeasurement(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.measurements[id]; !ok {
		return fmt.Errorf("measurement %s: %w", id, ErrNotFound)
	}
	delete(s.measurements, id)
	return nil
}

// GetMeasurement implements Repository
func (s *MemoryStore) GetMeasurement(ctx context.Context, id string) (Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.measurements[id]
	if !ok {
		return Measurement{}, fmt.Errorf("measurement %s: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

// ListMeasurements implements Repository. Results are ordered by creation time.
func (s *MemoryStore) ListMeasurements(ctx context.Context, projectID, sheetID string) ([]Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Measurement
	for _, m := range s.measurements {
		if m.ProjectID == projectID && (sheetID == "" || m.SheetID == sheetID) {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateAnnotation implements Persistence
func (s *MemoryStore) CreateAnnotation(ctx context.Context, a Annotation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateAnnotation(a); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a = a.Clone()
	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.annotations[a.ID] = a
	return a.ID, nil
}

// UpdateAnnotation implements Persistence
func (s *MemoryStore) UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.annotations[id]
	if !ok {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	s.annotations[id] = patch.ApplyTo(a)
	return nil
}

// DeleteAnnotation implements Persistence
func (s *MemoryStore) DeleteAnnotation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.annotations[id]; !ok {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	delete(s.annotations, id)
	return nil
}

// GetAnnotation implements Repository
func (s *MemoryStore) GetAnnotation(ctx context.Context, id string) (Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.annotations[id]
	if !ok {
		return Annotation{}, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// ListAnnotations implements Repository. Results are ordered by creation time.
func (s *MemoryStore) ListAnnotations(ctx context.Context, projectID, sheetID string) ([]Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Annotation
	for _, a := range s.annotations {
		if a.ProjectID == projectID && (sheetID == "" || a.SheetID == sheetID) {
			out = append(out, a.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Counts returns how many measurements and annotations are stored
func (s *MemoryStore) Counts() (measurements, annotations int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.measurements), len(s.annotations)
}

func validateMeasurement(m Measurement) error {
	if !m.Type.Valid() {
		return fmt.Errorf("measurement type %q: %w", m.Type, ErrInvalidGeometry)
	}
	if len(m.Points) < m.Type.MinPoints() {
		return fmt.Errorf("%s measurement with %d points: %w", m.Type, len(m.Points), ErrInvalidGeometry)
	}
	return nil
}

func validateAnnotation(a Annotation) error {
	if !a.Type.Valid() {
		return fmt.Errorf("annotation type %q: %w", a.Type, ErrInvalidGeometry)
	}
	if len(a.Points) != a.Type.PointCount() {
		return fmt.Errorf("%s annotation with %d points: %w", a.Type, len(a.Points), ErrInvalidGeometry)
	}
	return nil
}
