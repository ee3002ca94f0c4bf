package takeoff

import (
	"context"
	"fmt"
	"log"
)

// EntryKind tags a reversible operation in the undo log
type EntryKind string

const (
	AnnotationAdd     EntryKind = "annotation_add"
	AnnotationUpdate  EntryKind = "annotation_update"
	AnnotationDelete  EntryKind = "annotation_delete"
	MeasurementAdd    EntryKind = "measurement_add"
	MeasurementUpdate EntryKind = "measurement_update"
	MeasurementDelete EntryKind = "measurement_delete"
)

// Substitution records that the store assigned NewID to an entity created
// under OldID
type Substitution struct {
	Kind  EntityKind
	OldID string
	NewID string
}

// Command is one optimistic, reversible edit. Apply mutates local state,
// Commit makes the change durable, Rollback undoes Apply when Commit fails.
// Inverse returns the command that reverts this one.
type Command interface {
	Kind() EntryKind
	Target() EntityRef
	Apply(doc *Document)
	Commit(ctx context.Context, store Persistence) (*Substitution, error)
	Rollback(doc *Document)
	Inverse() Command
	Remap(sub Substitution)
}

// Execute runs cmd against doc and store. On a rejected commit the local
// change is rolled back and the error wraps ErrPersistenceRejected. When the
// store substitutes an id, doc is renamed and the substitution returned.
func Execute(ctx context.Context, cmd Command, doc *Document, store Persistence) (*Substitution, error) {
	cmd.Apply(doc)
	sub, err := cmd.Commit(ctx, store)
	if err != nil {
		cmd.Rollback(doc)
		log.Printf("[engine] %s %s rolled back: %v", cmd.Kind(), cmd.Target().ID, err)
		return nil, fmt.Errorf("%s %s: %w: %w", cmd.Kind(), cmd.Target().ID, ErrPersistenceRejected, err)
	}
	if sub != nil {
		doc.Rename(sub.Kind, sub.OldID, sub.NewID)
	}
	return sub, nil
}

// ---------------------------------------------------------------------------
// Measurements
// ---------------------------------------------------------------------------

// AddMeasurementCommand creates a measurement
type AddMeasurementCommand struct {
	Measurement Measurement
}

func (c *AddMeasurementCommand) Kind() EntryKind { return MeasurementAdd }

func (c *AddMeasurementCommand) Target() EntityRef {
	return EntityRef{Kind: KindMeasurement, ID: c.Measurement.ID}
}

func (c *AddMeasurementCommand) Apply(doc *Document) { doc.PutMeasurement(c.Measurement) }

func (c *AddMeasurementCommand) Commit(ctx context.Context, store Persistence) (*Substitution, error) {
	id, err := store.CreateMeasurement(ctx, c.Measurement.Clone())
	if err != nil {
		return nil, err
	}
	if id == "" || id == c.Measurement.ID {
		return nil, nil
	}
	sub := &Substitution{Kind: KindMeasurement, OldID: c.Measurement.ID, NewID: id}
	c.Measurement.ID = id
	return sub, nil
}

func (c *AddMeasurementCommand) Rollback(doc *Document) { doc.RemoveMeasurement(c.Measurement.ID) }

func (c *AddMeasurementCommand) Inverse() Command {
	return &DeleteMeasurementCommand{Measurement: c.Measurement.Clone()}
}

func (c *AddMeasurementCommand) Remap(sub Substitution) {
	if sub.Kind == KindMeasurement && c.Measurement.ID == sub.OldID {
		c.Measurement.ID = sub.NewID
	}
}

// DeleteMeasurementCommand deletes a measurement. It keeps the full entity so
// that undo can re-create it.
type DeleteMeasurementCommand struct {
	Measurement Measurement
}

func (c *DeleteMeasurementCommand) Kind() EntryKind { return MeasurementDelete }

func (c *DeleteMeasurementCommand) Target() EntityRef {
	return EntityRef{Kind: KindMeasurement, ID: c.Measurement.ID}
}

func (c *DeleteMeasurementCommand) Apply(doc *Document) { doc.RemoveMeasurement(c.Measurement.ID) }

func (c *DeleteMeasurementCommand) Commit(ctx context.Context, store Persistence) (*Substitution, error) {
	return nil, store.DeleteMeasurement(ctx, c.Measurement.ID)
}

func (c *DeleteMeasurementCommand) Rollback(doc *Document) { doc.PutMeasurement(c.Measurement) }

func (c *DeleteMeasurementCommand) Inverse() Command {
	return &AddMeasurementCommand{Measurement: c.Measurement.Clone()}
}

func (c *DeleteMeasurementCommand) Remap(sub Substitution) {
	if sub.Kind == KindMeasurement && c.Measurement.ID == sub.OldID {
		c.Measurement.ID = sub.NewID
	}
}

// UpdateMeasurementCommand replaces the geometry of a measurement
type UpdateMeasurementCommand struct {
	ID       string
	Previous MeasurementPatch
	Next     MeasurementPatch
}

func (c *UpdateMeasurementCommand) Kind() EntryKind { return MeasurementUpdate }

func (c *UpdateMeasurementCommand) Target() EntityRef {
	return EntityRef{Kind: KindMeasurement, ID: c.ID}
}

func (c *UpdateMeasurementCommand) Apply(doc *Document) { doc.PatchMeasurement(c.ID, c.Next) }

func (c *UpdateMeasurementCommand) Commit(ctx context.Context, store Persistence) (*Substitution, error) {
	return nil, store.UpdateMeasurement(ctx, c.ID, c.Next)
}

func (c *UpdateMeasurementCommand) Rollback(doc *Document) { doc.PatchMeasurement(c.ID, c.Previous) }

func (c *UpdateMeasurementCommand) Inverse() Command {
	return &UpdateMeasurementCommand{ID: c.ID, Previous: c.Next, Next: c.Previous}
}

func (c *UpdateMeasurementCommand) Remap(sub Substitution) {
	if sub.Kind == KindMeasurement && c.ID == sub.OldID {
		c.ID = sub.NewID
	}
}

// ---------------------------------------------------------------------------
// Annotations
// ---------------------------------------------------------------------------

// AddAnnotationCommand creates an annotation
type AddAnnotationCommand struct {
	Annotation Annotation
}

func (c *AddAnnotationCommand) Kind() EntryKind { return AnnotationAdd }

func (c *AddAnnotationCommand) Target() EntityRef {
	return EntityRef{Kind: KindAnnotation, ID: c.Annotation.ID}
}

func (c *AddAnnotationCommand) Apply(doc *Document) { doc.PutAnnotation(c.Annotation) }

func (c *AddAnnotationCommand) Commit(ctx context.Context, store Persistence) (*Substitution, error) {
	id, err := store.CreateAnnotation(ctx, c.Annotation.Clone())
	if err != nil {
		return nil, err
	}
	if id == "" || id == c.Annotation.ID {
		return nil, nil
	}
	sub := &Substitution{Kind: KindAnnotation, OldID: c.Annotation.ID, NewID: id}
	c.Annotation.ID = id
	return sub, nil
}

func (c *AddAnnotationCommand) Rollback(doc *Document) { doc.RemoveAnnotation(c.Annotation.ID) }

func (c *AddAnnotationCommand) Inverse() Command {
	return &DeleteAnnotationCommand{Annotation: c.Annotation.Clone()}
}

func (c *AddAnnotationCommand) Remap(sub Substitution) {
	if sub.Kind == KindAnnotation && c.Annotation.ID == sub.OldID {
		c.Annotation.ID = sub.NewID
	}
}

// DeleteAnnotationCommand deletes an annotation
type DeleteAnnotationCommand struct {
	Annotation Annotation
}

func (c *DeleteAnnotationCommand) Kind() EntryKind { return AnnotationDelete }

func (c *DeleteAnnotationCommand) Target() EntityRef {
	return EntityRef{Kind: KindAnnotation, ID: c.Annotation.ID}
}

func (c *DeleteAnnotationCommand) Apply(doc *Document) { doc.RemoveAnnotation(c.Annotation.ID) }

func (c *DeleteAnnotationCommand) Commit(ctx context.Context, store Persistence) (*Substitution, error) {
	return nil, store.DeleteAnnotation(ctx, c.Annotation.ID)
}

func (c *DeleteAnnotationCommand) Rollback(doc *Document) { doc.PutAnnotation(c.Annotation) }

func (c *DeleteAnnotationCommand) Inverse() Command {
	return &AddAnnotationCommand{Annotation: c.Annotation.Clone()}
}

func (c *DeleteAnnotationCommand) Remap(sub Substitution) {
	if sub.Kind == KindAnnotation && c.Annotation.ID == sub.OldID {
		c.Annotation.ID = sub.NewID
	}
}

// UpdateAnnotationCommand replaces the mutable fields of an annotation
type UpdateAnnotationCommand struct {
	ID       string
	Previous AnnotationPatch
	Next     AnnotationPatch
}

func (c *UpdateAnnotationCommand) Kind() EntryKind { return AnnotationUpdate }

func (c *UpdateAnnotationCommand) Target() EntityRef {
	return EntityRef{Kind: KindAnnotation, ID: c.ID}
}

func (c *UpdateAnnotationCommand) Apply(doc *Document) { doc.PatchAnnotation(c.ID, c.Next) }

func (c *UpdateAnnotationCommand) Commit(ctx context.Context, store Persistence) (*Substitution, error) {
	return nil, store.UpdateAnnotation(ctx, c.ID, c.Next)
}

func (c *UpdateAnnotationCommand) Rollback(doc *Document) { doc.PatchAnnotation(c.ID, c.Previous) }

func (c *UpdateAnnotationCommand) Inverse() Command {
	return &UpdateAnnotationCommand{ID: c.ID, Previous: c.Next, Next: c.Previous}
}

func (c *UpdateAnnotationCommand) Remap(sub Substitution) {
	if sub.Kind == KindAnnotation && c.ID == sub.OldID {
		c.ID = sub.NewID
	}
}
