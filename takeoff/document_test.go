package takeoff

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_PaintOrder(t *testing.T) {
	doc := NewDocument()
	doc.PutMeasurement(Measurement{ID: "m1", Type: MeasureCount})
	doc.PutAnnotation(Annotation{ID: "a1", Type: AnnotateText})
	doc.PutMeasurement(Measurement{ID: "m2", Type: MeasureCount})

	// replacing an entity keeps its position
	doc.PutMeasurement(Measurement{ID: "m1", Type: MeasureLinear})

	want := []EntityRef{
		{Kind: KindMeasurement, ID: "m1"},
		{Kind: KindAnnotation, ID: "a1"},
		{Kind: KindMeasurement, ID: "m2"},
	}
	if diff := cmp.Diff(want, doc.Refs()); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	assert.True(t, doc.RemoveAnnotation("a1"))
	assert.False(t, doc.RemoveAnnotation("a1"))
	assert.Equal(t, 2, doc.Len())
	assert.Len(t, doc.Refs(), 2)
}

func TestDocument_RenameKeepsPosition(t *testing.T) {
	doc := NewDocument()
	doc.PutMeasurement(Measurement{ID: "tmp-1", Type: MeasureCount})
	doc.PutAnnotation(Annotation{ID: "a1", Type: AnnotateText})

	doc.Rename(KindMeasurement, "tmp-1", "real-1")

	_, ok := doc.Measurement("tmp-1")
	assert.False(t, ok)
	m, ok := doc.Measurement("real-1")
	require.True(t, ok)
	assert.Equal(t, "real-1", m.ID)
	assert.Equal(t, EntityRef{Kind: KindMeasurement, ID: "real-1"}, doc.Refs()[0])

	kind, ok := doc.Lookup("real-1")
	assert.True(t, ok)
	assert.Equal(t, KindMeasurement, kind)

	// unknown ids are ignored
	doc.Rename(KindAnnotation, "missing", "x")
	assert.Equal(t, 2, doc.Len())
}

func TestDocument_ReturnsCopies(t *testing.T) {
	doc := NewDocument()
	doc.PutMeasurement(Measurement{ID: "m", Type: MeasureLinear, Points: []Point{{X: 0.1}, {X: 0.2}}})

	m, _ := doc.Measurement("m")
	m.Points[0].X = 0.9

	again, _ := doc.Measurement("m")
	assert.Equal(t, 0.1, again.Points[0].X)
}

func TestDocument_Patch(t *testing.T) {
	doc := NewDocument()
	assert.False(t, doc.PatchMeasurement("none", MeasurementPatch{}))
	assert.False(t, doc.PatchAnnotation("none", AnnotationPatch{}))

	doc.PutAnnotation(Annotation{ID: "a", Type: AnnotateText, Points: []Point{{X: 0.1, Y: 0.1}}, Color: "#000", Text: "old"})
	require.True(t, doc.PatchAnnotation("a", AnnotationPatch{Points: []Point{{X: 0.5, Y: 0.5}}, Color: "#fff", Text: "new"}))
	a, _ := doc.Annotation("a")
	assert.Equal(t, "new", a.Text)
	assert.Equal(t, "#fff", a.Color)
	assert.Equal(t, AnnotateText, a.Type)
}

func TestDocument_OnPageFilters(t *testing.T) {
	doc := NewDocument()
	doc.PutMeasurement(Measurement{ID: "here", ProjectID: "proj-1", SheetID: "sheet-1", PdfPage: 1, Type: MeasureCount})
	doc.PutMeasurement(Measurement{ID: "page2", ProjectID: "proj-1", SheetID: "sheet-1", PdfPage: 2, Type: MeasureCount})
	doc.PutAnnotation(Annotation{ID: "other-sheet", ProjectID: "proj-1", SheetID: "sheet-2", PageNumber: 1, Type: AnnotateText})

	ms := doc.MeasurementsOnPage(testPage)
	require.Len(t, ms, 1)
	assert.Equal(t, "here", ms[0].ID)
	assert.Empty(t, doc.AnnotationsOnPage(testPage))
}

func TestDocument_Load(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.CreateMeasurement(ctx, Measurement{ProjectID: "p", SheetID: "s", Type: MeasureCount, Points: []Point{{}}, CreatedAt: base})
	require.NoError(t, err)
	second, err := store.CreateMeasurement(ctx, Measurement{ProjectID: "p", SheetID: "s", Type: MeasureCount, Points: []Point{{}}, CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	note, err := store.CreateAnnotation(ctx, Annotation{ProjectID: "p", SheetID: "s", Type: AnnotateText, Points: []Point{{}}})
	require.NoError(t, err)
	_, err = store.CreateMeasurement(ctx, Measurement{ProjectID: "p", SheetID: "other", Type: MeasureCount, Points: []Point{{}}})
	require.NoError(t, err)

	doc := NewDocument()
	doc.PutMeasurement(Measurement{ID: "stale", Type: MeasureCount})
	require.NoError(t, doc.Load(ctx, store, "p", "s"))

	want := []EntityRef{
		{Kind: KindMeasurement, ID: first},
		{Kind: KindMeasurement, ID: second},
		{Kind: KindAnnotation, ID: note},
	}
	if diff := cmp.Diff(want, doc.Refs()); diff != "" {
		t.Errorf("loaded refs (-want +got):\n%s", diff)
	}
}
