package main

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/takeoff/takeoff"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// seededServer returns a handler over a store holding a slab and a note on
// demo/A-101 page 1 and a count on page 2
func seededServer(t *testing.T) (http.Handler, *takeoff.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := takeoff.NewMemoryStore()

	_, err := store.CreateMeasurement(ctx, takeoff.Measurement{
		ProjectID: "demo", SheetID: "A-101", PdfPage: 1,
		ConditionID: "slab", Type: takeoff.MeasureArea, Unit: "ft²", Color: "#43a047",
		Points:          []takeoff.Point{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9}},
		CalculatedValue: 5120,
	})
	require.NoError(t, err)
	_, err = store.CreateMeasurement(ctx, takeoff.Measurement{
		ProjectID: "demo", SheetID: "A-101", PdfPage: 2,
		ConditionID: "door", Type: takeoff.MeasureCount, Unit: "EA",
		Points:          []takeoff.Point{{X: 0.5, Y: 0.5}},
		CalculatedValue: 1,
	})
	require.NoError(t, err)
	_, err = store.CreateAnnotation(ctx, takeoff.Annotation{
		ProjectID: "demo", SheetID: "A-101", PageNumber: 1,
		Type: takeoff.AnnotateText, Points: []takeoff.Point{{X: 0.2, Y: 0.8}}, Text: "RFI 12", Color: "#e53935",
	})
	require.NoError(t, err)

	pages := takeoff.NewStaticPages()
	pages.SetPage(1, 100, 80, 1, takeoff.Rotate0)
	pages.SetPage(2, 100, 80, 1, takeoff.Rotate0)
	return newHTTPServer(store, pages, func() int64 { return 3 }), store
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	h, _ := seededServer(t)
	rec := get(t, h, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["changes"])
}

func TestMeasurementsEndpoint(t *testing.T) {
	h, _ := seededServer(t)

	rec := get(t, h, "/api/measurements?project=demo")
	require.Equal(t, http.StatusOK, rec.Code)
	var ms []takeoff.Measurement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ms))
	assert.Len(t, ms, 2, "no sheet means every sheet")

	rec = get(t, h, "/api/measurements?project=other")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = get(t, h, "/api/measurements")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnnotationsEndpoint(t *testing.T) {
	h, _ := seededServer(t)

	rec := get(t, h, "/api/annotations?project=demo&sheet=A-101")
	require.Equal(t, http.StatusOK, rec.Code)
	var as []takeoff.Annotation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &as))
	require.Len(t, as, 1)
	assert.Equal(t, "RFI 12", as[0].Text)
}

func TestOverlaySVGEndpoint(t *testing.T) {
	h, store := seededServer(t)
	ms, err := store.ListMeasurements(context.Background(), "demo", "A-101")
	require.NoError(t, err)

	rec := get(t, h, "/overlay.svg?project=demo&sheet=A-101&selected="+ms[0].ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), "<svg"))
}

func TestOverlayPNGEndpoint(t *testing.T) {
	h, _ := seededServer(t)

	rec := get(t, h, "/overlay.png?project=demo&sheet=A-101&scale=2&rotation=90")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestPreviewEndpoint(t *testing.T) {
	h, _ := seededServer(t)

	rec := get(t, h, "/preview.png?project=demo&sheet=A-101&page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	cfg, err := png.DecodeConfig(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 80, cfg.Height)
}

func TestExportEndpoint(t *testing.T) {
	h, _ := seededServer(t)

	rec := get(t, h, "/export.geojson?project=demo&sheet=A-101")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2, "page 1 only")
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.Type)
	assert.Equal(t, "Point", fc.Features[1].Geometry.Type)
}

func TestPageViewErrors(t *testing.T) {
	h, _ := seededServer(t)

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"MissingProject", "/overlay.svg?sheet=A-101", http.StatusBadRequest},
		{"MissingSheet", "/overlay.svg?project=demo", http.StatusBadRequest},
		{"BadPage", "/overlay.svg?project=demo&sheet=A-101&page=0", http.StatusBadRequest},
		{"BadScale", "/preview.png?project=demo&sheet=A-101&scale=-1", http.StatusBadRequest},
		{"BadRotation", "/overlay.png?project=demo&sheet=A-101&rotation=left", http.StatusBadRequest},
		{"UnknownPage", "/export.geojson?project=demo&sheet=A-101&page=3", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestRootEndpoint(t *testing.T) {
	h, _ := seededServer(t)

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/overlay.svg")

	rec = get(t, h, "/composite-map.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
