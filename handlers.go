package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kwv/takeoff/takeoff"
)

// newHTTPServer creates an HTTP server with all endpoints. changes reports how
// many change events have arrived from the feed.
func newHTTPServer(store takeoff.Repository, pages takeoff.PageRenderer, changes func() int64) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Changes   int64     `json:"changes"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Changes:   changes(),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/api/measurements", func(w http.ResponseWriter, r *http.Request) {
		project, sheet, ok := sheetParams(w, r)
		if !ok {
			return
		}
		ms, err := store.ListMeasurements(r.Context(), project, sheet)
		if err != nil {
			log.Printf("[HTTP] listing measurements for %s/%s: %v", project, sheet, err)
			http.Error(w, "Failed to list measurements", http.StatusInternalServerError)
			return
		}
		if ms == nil {
			ms = []takeoff.Measurement{}
		}
		writeJSON(w, ms)
	})

	mux.HandleFunc("/api/annotations", func(w http.ResponseWriter, r *http.Request) {
		project, sheet, ok := sheetParams(w, r)
		if !ok {
			return
		}
		as, err := store.ListAnnotations(r.Context(), project, sheet)
		if err != nil {
			log.Printf("[HTTP] listing annotations for %s/%s: %v", project, sheet, err)
			http.Error(w, "Failed to list annotations", http.StatusInternalServerError)
			return
		}
		if as == nil {
			as = []takeoff.Annotation{}
		}
		writeJSON(w, as)
	})

	// Vector overlay, highlighting any ids passed as selected=a,b
	mux.HandleFunc("/overlay.svg", func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadPageView(w, r, store, pages)
		if !ok {
			return
		}
		renderer := view.vector(r)
		w.Header().Set("Content-Type", "image/svg+xml")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("[HTTP] rendering SVG overlay: %v", err)
		}
	})

	mux.HandleFunc("/overlay.png", func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadPageView(w, r, store, pages)
		if !ok {
			return
		}
		renderer := view.vector(r)
		w.Header().Set("Content-Type", "image/png")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("[HTTP] rendering PNG overlay: %v", err)
		}
	})

	mux.HandleFunc("/preview.png", func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadPageView(w, r, store, pages)
		if !ok {
			return
		}
		img := takeoff.NewPreviewRenderer(view.viewport, view.measurements, view.annotations).Render()
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, img); err != nil {
			log.Printf("[HTTP] encoding preview: %v", err)
		}
	})

	mux.HandleFunc("/export.geojson", func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadPageView(w, r, store, pages)
		if !ok {
			return
		}
		data, err := takeoff.MarshalGeoJSON(view.measurements, view.annotations, view.pageWidth, view.pageHeight)
		if err != nil {
			log.Printf("[HTTP] exporting GeoJSON: %v", err)
			http.Error(w, "Failed to export", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if _, err := w.Write(data); err != nil {
			log.Printf("[HTTP] writing GeoJSON: %v", err)
		}
	})

	// Root endpoint with info
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>takeoff</title></head>
<body>
<h1>takeoff</h1>
<ul>
<li><a href="/health">/health</a> - Health check</li>
<li>/api/measurements?project=&amp;sheet= - Stored measurements</li>
<li>/api/annotations?project=&amp;sheet= - Stored annotations</li>
<li>/overlay.svg?project=&amp;sheet=&amp;page=&amp;scale=&amp;rotation=&amp;selected= - Vector overlay</li>
<li>/overlay.png?... - Rasterized overlay</li>
<li>/preview.png?... - Labelled preview</li>
<li>/export.geojson?... - GeoJSON in page units</li>
</ul>
</body>
</html>`)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encoding response: %v", err)
	}
}

// sheetParams reads project (required) and sheet (optional)
func sheetParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	project := q.Get("project")
	if project == "" {
		http.Error(w, "project is required", http.StatusBadRequest)
		return "", "", false
	}
	return project, q.Get("sheet"), true
}

// pageView is one page loaded from the store and the viewport to draw it in
type pageView struct {
	viewport     takeoff.Viewport
	pageWidth    float64
	pageHeight   float64
	measurements []takeoff.Measurement
	annotations  []takeoff.Annotation
}

func (v pageView) vector(r *http.Request) *takeoff.VectorRenderer {
	renderer := takeoff.NewVectorRenderer(v.viewport, v.measurements, v.annotations)
	if sel := r.URL.Query().Get("selected"); sel != "" {
		for _, id := range strings.Split(sel, ",") {
			renderer.Selected[strings.TrimSpace(id)] = true
		}
	}
	return renderer
}

// loadPageView resolves project, sheet, page, scale and rotation from the
// query and loads that page. It writes the error response itself.
func loadPageView(w http.ResponseWriter, r *http.Request, store takeoff.Repository, pages takeoff.PageRenderer) (pageView, bool) {
	project, sheet, ok := sheetParams(w, r)
	if !ok {
		return pageView{}, false
	}
	if sheet == "" {
		http.Error(w, "sheet is required", http.StatusBadRequest)
		return pageView{}, false
	}
	q := r.URL.Query()

	page := 1
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "page must be a positive integer", http.StatusBadRequest)
			return pageView{}, false
		}
		page = n
	}
	scale := 1.0
	if s := q.Get("scale"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f <= 0 {
			http.Error(w, "scale must be a positive number", http.StatusBadRequest)
			return pageView{}, false
		}
		scale = f
	}
	rotation := 0
	if s := q.Get("rotation"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "rotation must be an integer", http.StatusBadRequest)
			return pageView{}, false
		}
		rotation = n
	}

	pw, ph, ok := pages.PageSize(page)
	if !ok {
		http.Error(w, fmt.Sprintf("page %d has no size", page), http.StatusNotFound)
		return pageView{}, false
	}

	doc := takeoff.NewDocument()
	if err := doc.Load(r.Context(), store, project, sheet); err != nil {
		log.Printf("[HTTP] loading %s/%s: %v", project, sheet, err)
		http.Error(w, "Failed to load sheet", http.StatusInternalServerError)
		return pageView{}, false
	}

	ref := takeoff.PageRef{ProjectID: project, SheetID: sheet, Page: page}
	return pageView{
		viewport:     takeoff.NewViewport(pw, ph, scale, takeoff.NormalizeRotation(rotation)),
		pageWidth:    pw,
		pageHeight:   ph,
		measurements: doc.MeasurementsOnPage(ref),
		annotations:  doc.AnnotationsOnPage(ref),
	}, true
}
