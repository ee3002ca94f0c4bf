package takeoff

import (
	"context"
	"fmt"
	"sync"
)

// EntityKind distinguishes the two kinds of selectable entity
type EntityKind string

const (
	KindMeasurement EntityKind = "measurement"
	KindAnnotation  EntityKind = "annotation"
)

// EntityRef names one measurement or annotation
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Document is the local, optimistic copy of the entities on a sheet. It is
// the state commands apply to and roll back; the persistence collaborator
// remains the source of truth.
type Document struct {
	mu           sync.RWMutex
	measurements map[string]Measurement
	annotations  map[string]Annotation
	order        []EntityRef // paint order, last is top-most
}

// NewDocument creates an empty document
func NewDocument() *Document {
	return &Document{
		measurements: make(map[string]Measurement),
		annotations:  make(map[string]Annotation),
	}
}

// Load replaces the document contents with what the repository holds for a sheet
func (d *Document) Load(ctx context.Context, repo Repository, projectID, sheetID string) error {
	ms, err := repo.ListMeasurements(ctx, projectID, sheetID)
	if err != nil {
		return fmt.Errorf("list measurements: %w", err)
	}
	as, err := repo.ListAnnotations(ctx, projectID, sheetID)
	if err != nil {
		return fmt.Errorf("list annotations: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.measurements = make(map[string]Measurement, len(ms))
	d.annotations = make(map[string]Annotation, len(as))
	d.order = d.order[:0]
	for _, m := range ms {
		d.measurements[m.ID] = m.Clone()
		d.order = append(d.order, EntityRef{Kind: KindMeasurement, ID: m.ID})
	}
	for _, a := range as {
		d.annotations[a.ID] = a.Clone()
		d.order = append(d.order, EntityRef{Kind: KindAnnotation, ID: a.ID})
	}
	return nil
}

// PutMeasurement inserts or replaces a measurement
func (d *Document) PutMeasurement(m Measurement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.measurements[m.ID]; !ok {
		d.order = append(d.order, EntityRef{Kind: KindMeasurement, ID: m.ID})
	}
	d.measurements[m.ID] = m.Clone()
}

// RemoveMeasurement deletes a measurement, reporting whether it existed
func (d *Document) RemoveMeasurement(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.measurements[id]; !ok {
		return false
	}
	delete(d.measurements, id)
	d.dropRef(EntityRef{Kind: KindMeasurement, ID: id})
	return true
}

// Measurement returns a copy of one measurement
func (d *Document) Measurement(id string) (Measurement, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.measurements[id]
	if !ok {
		return Measurement{}, false
	}
	return m.Clone(), true
}

// PatchMeasurement applies patch to a stored measurement
func (d *Document) PatchMeasurement(id string, patch MeasurementPatch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.measurements[id]
	if !ok {
		return false
	}
	d.measurements[id] = patch.ApplyTo(m)
	return true
}

// PutAnnotation inserts or replaces an annotation
func (d *Document) PutAnnotation(a Annotation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.annotations[a.ID]; !ok {
		d.order = append(d.order, EntityRef{Kind: KindAnnotation, ID: a.ID})
	}
	d.annotations[a.ID] = a.Clone()
}

// RemoveAnnotation deletes an annotation, reporting whether it existed
func (d *Document) RemoveAnnotation(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.annotations[id]; !ok {
		return false
	}
	delete(d.annotations, id)
	d.dropRef(EntityRef{Kind: KindAnnotation, ID: id})
	return true
}

// Annotation returns a copy of one annotation
func (d *Document) Annotation(id string) (Annotation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.annotations[id]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// PatchAnnotation applies patch to a stored annotation
func (d *Document) PatchAnnotation(id string, patch AnnotationPatch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.annotations[id]
	if !ok {
		return false
	}
	d.annotations[id] = patch.ApplyTo(a)
	return true
}

// Rename moves an entity to a new id, keeping its paint position. Used when
// the store assigns an id that differs from the provisional one.
func (d *Document) Rename(kind EntityKind, oldID, newID string) {
	if oldID == newID {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case KindMeasurement:
		m, ok := d.measurements[oldID]
		if !ok {
			return
		}
		delete(d.measurements, oldID)
		m.ID = newID
		d.measurements[newID] = m
	case KindAnnotation:
		a, ok := d.annotations[oldID]
		if !ok {
			return
		}
		delete(d.annotations, oldID)
		a.ID = newID
		d.annotations[newID] = a
	}
	for i, ref := range d.order {
		if ref.Kind == kind && ref.ID == oldID {
			d.order[i].ID = newID
		}
	}
}

// Lookup reports the kind of the entity with this id
func (d *Document) Lookup(id string) (EntityKind, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.measurements[id]; ok {
		return KindMeasurement, true
	}
	if _, ok := d.annotations[id]; ok {
		return KindAnnotation, true
	}
	return "", false
}

// MeasurementsOnPage returns copies of the measurements on one page, in paint order
func (d *Document) MeasurementsOnPage(ref PageRef) []Measurement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Measurement
	for _, r := range d.order {
		if r.Kind != KindMeasurement {
			continue
		}
		m := d.measurements[r.ID]
		if m.ProjectID == ref.ProjectID && m.SheetID == ref.SheetID && m.PdfPage == ref.Page {
			out = append(out, m.Clone())
		}
	}
	return out
}

// AnnotationsOnPage returns copies of the annotations on one page, in paint order
func (d *Document) AnnotationsOnPage(ref PageRef) []Annotation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Annotation
	for _, r := range d.order {
		if r.Kind != KindAnnotation {
			continue
		}
		a := d.annotations[r.ID]
		if a.ProjectID == ref.ProjectID && a.SheetID == ref.SheetID && a.PageNumber == ref.Page {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Refs returns the paint order of every entity
func (d *Document) Refs() []EntityRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EntityRef, len(d.order))
	copy(out, d.order)
	return out
}

// Len returns the number of entities held
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.measurements) + len(d.annotations)
}

func (d *Document) dropRef(ref EntityRef) {
	for i, r := range d.order {
		if r == ref {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}
