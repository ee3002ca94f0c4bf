package takeoff

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws the entities of one page as a vector overlay sized to
// the page viewport, so it can be laid directly over the rendered sheet.
type VectorRenderer struct {
	Viewport     Viewport
	Measurements []Measurement
	Annotations  []Annotation
	Selected     map[string]bool
	Resolution   canvas.Resolution // PNG output only; one viewport pixel per output pixel by default
	StrokeWidth  float64           // viewport pixels
	FillAlpha    uint8             // area and volume fill opacity
	Background   bool              // paint a white page behind the overlay
}

// NewVectorRenderer creates a renderer for the given viewport with default styling
func NewVectorRenderer(vp Viewport, ms []Measurement, as []Annotation) *VectorRenderer {
	return &VectorRenderer{
		Viewport:     vp,
		Measurements: ms,
		Annotations:  as,
		Selected:     map[string]bool{},
		Resolution:   canvas.DPMM(1.0),
		StrokeWidth:  2.0,
		FillAlpha:    64,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	if !usableViewport(&r.Viewport) {
		return ErrNoViewport
	}
	svgRenderer := svg.New(w, r.Viewport.Width, r.Viewport.Height, nil)
	r.renderToCanvas(svgRenderer)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing svg: %w", err)
	}
	return nil
}

// RenderToPNG writes the overlay as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	if !usableViewport(&r.Viewport) {
		return ErrNoViewport
	}
	res := r.Resolution
	if res == 0 {
		res = canvas.DPMM(1.0)
	}
	rast := rasterizer.New(r.Viewport.Width, r.Viewport.Height, res, canvas.DefaultColorSpace)
	r.renderToCanvas(rast)
	return png.Encode(w, rast)
}

// toCanvas maps a base point to canvas coordinates. Canvas renderers are y-up
// so the viewport y axis is flipped.
func (r *VectorRenderer) toCanvas(m AffineMatrix, p Point) (float64, float64) {
	px := TransformPoint(p, m)
	return px.X, r.Viewport.Height - px.Y
}

func (r *VectorRenderer) path(m AffineMatrix, pts []Point, closed bool) *canvas.Path {
	cp := &canvas.Path{}
	for i, p := range pts {
		x, y := r.toCanvas(m, p)
		if i == 0 {
			cp.MoveTo(x, y)
		} else {
			cp.LineTo(x, y)
		}
	}
	if closed && len(pts) > 2 {
		cp.Close()
	}
	return cp
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer) {
	w, h := r.Viewport.Width, r.Viewport.Height
	if r.Background {
		bgStyle := canvas.DefaultStyle
		bgStyle.Fill = canvas.Paint{Color: canvas.White}
		renderer.RenderPath(canvas.Rectangle(w, h), bgStyle, canvas.Identity)
	}

	m := BaseToPixelMatrix(r.Viewport)
	for _, ms := range r.Measurements {
		r.renderMeasurement(renderer, m, ms)
	}
	for _, a := range r.Annotations {
		r.renderAnnotation(renderer, m, a)
	}
}

func (r *VectorRenderer) strokeStyle(c color.RGBA, selected bool) canvas.Style {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: c}
	style.StrokeWidth = r.StrokeWidth
	if selected {
		style.StrokeWidth = r.StrokeWidth * 2
		style.Dashes = []float64{6.0, 4.0}
	}
	return style
}

func (r *VectorRenderer) renderMeasurement(renderer canvasRenderer, m AffineMatrix, ms Measurement) {
	if len(ms.Points) == 0 {
		return
	}
	c := parseHexColor(ms.Color)
	selected := r.Selected[ms.ID]

	switch ms.Type {
	case MeasureCount:
		markerStyle := canvas.DefaultStyle
		markerStyle.Fill = canvas.Paint{Color: c}
		markerStyle.Stroke = canvas.Paint{Color: canvas.Black}
		markerStyle.StrokeWidth = 1.0
		radius := 3 * r.StrokeWidth
		if selected {
			radius *= 1.5
		}
		for _, p := range ms.Points {
			x, y := r.toCanvas(m, p)
			renderer.RenderPath(canvas.Circle(radius).Translate(x, y), markerStyle, canvas.Identity)
		}
	case MeasureLinear:
		renderer.RenderPath(r.path(m, ms.Points, false), r.strokeStyle(c, selected), canvas.Identity)
	default:
		// outer ring plus one subpath per cutout, filled even-odd so the
		// cutouts show as holes
		cp := r.path(m, ms.Points, true)
		for _, co := range ms.Cutouts {
			if len(co.Points) >= 3 {
				cp = cp.Append(r.path(m, co.Points, true))
			}
		}
		style := r.strokeStyle(c, selected)
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(color.NRGBA{c.R, c.G, c.B, r.FillAlpha})}
		style.FillRule = canvas.EvenOdd
		renderer.RenderPath(cp, style, canvas.Identity)
	}
}

func (r *VectorRenderer) renderAnnotation(renderer canvasRenderer, m AffineMatrix, a Annotation) {
	if len(a.Points) != a.Type.PointCount() {
		return
	}
	c := parseHexColor(a.Color)
	style := r.strokeStyle(c, r.Selected[a.ID])

	switch a.Type {
	case AnnotateText:
		// text is drawn by the host; mark the anchor
		x, y := r.toCanvas(m, a.Points[0])
		anchor := canvas.Rectangle(8, 8).Translate(x, y-8)
		renderer.RenderPath(anchor, style, canvas.Identity)
	case AnnotateArrow:
		renderer.RenderPath(r.path(m, a.Points, false), style, canvas.Identity)
		renderer.RenderPath(r.arrowHead(m, a.Points[0], a.Points[1]), style, canvas.Identity)
	case AnnotateRectangle:
		renderer.RenderPath(r.path(m, rectangleCorners(a.Points[0], a.Points[1]), true), style, canvas.Identity)
	case AnnotateCircle:
		x0, y0 := r.toCanvas(m, a.Points[0])
		x1, y1 := r.toCanvas(m, a.Points[1])
		rx, ry := math.Abs(x1-x0)/2, math.Abs(y1-y0)/2
		if rx == 0 || ry == 0 {
			return
		}
		renderer.RenderPath(canvas.Ellipse(rx, ry).Translate((x0+x1)/2, (y0+y1)/2), style, canvas.Identity)
	}
}

// arrowHead returns the two barbs at the tip of an arrow from a to b
func (r *VectorRenderer) arrowHead(m AffineMatrix, a, b Point) *canvas.Path {
	ax, ay := r.toCanvas(m, a)
	bx, by := r.toCanvas(m, b)
	angle := math.Atan2(by-ay, bx-ax)
	size := 6 * r.StrokeWidth

	cp := &canvas.Path{}
	cp.MoveTo(bx-size*math.Cos(angle-math.Pi/6), by-size*math.Sin(angle-math.Pi/6))
	cp.LineTo(bx, by)
	cp.LineTo(bx-size*math.Cos(angle+math.Pi/6), by-size*math.Sin(angle+math.Pi/6))
	return cp
}
