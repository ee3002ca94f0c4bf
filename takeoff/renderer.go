package takeoff

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PreviewRenderer rasterizes a page's takeoff into a labelled bitmap. Unlike
// VectorRenderer it prints each measurement's value next to its geometry,
// which makes it suitable for quick review images.
type PreviewRenderer struct {
	Viewport     Viewport
	Measurements []Measurement
	Annotations  []Annotation
	Background   color.RGBA
	Labels       bool
}

// NewPreviewRenderer creates a preview renderer with a light grey page and labels on
func NewPreviewRenderer(vp Viewport, ms []Measurement, as []Annotation) *PreviewRenderer {
	return &PreviewRenderer{
		Viewport:     vp,
		Measurements: ms,
		Annotations:  as,
		Background:   color.RGBA{240, 240, 240, 255},
		Labels:       true,
	}
}

// Render draws the preview. A viewport without a usable size yields a 1x1 image.
func (r *PreviewRenderer) Render() *image.RGBA {
	if !usableViewport(&r.Viewport) {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	width := int(math.Ceil(r.Viewport.Width))
	height := int(math.Ceil(r.Viewport.Height))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.Background), image.Point{}, draw.Src)

	m := BaseToPixelMatrix(r.Viewport)
	toImage := func(p Point) (int, int) {
		px := TransformPoint(p, m)
		return int(math.Round(px.X)), int(math.Round(px.Y))
	}

	for _, ms := range r.Measurements {
		c := parseHexColor(ms.Color)
		switch ms.Type {
		case MeasureCount:
			for _, p := range ms.Points {
				x, y := toImage(p)
				drawCircle(img, x, y, 4, c)
			}
		case MeasureLinear:
			drawPolyline(img, ms.Points, false, toImage, c)
		default:
			drawPolyline(img, ms.Points, true, toImage, c)
			for _, co := range ms.Cutouts {
				drawPolyline(img, co.Points, true, toImage, color.RGBA{c.R / 2, c.G / 2, c.B / 2, 255})
			}
		}
		if r.Labels && len(ms.Points) > 0 {
			x, y := toImage(centroid(ms.Points))
			drawText(img, x+6, y-6, MeasurementLabel(ms), color.RGBA{0, 0, 0, 255})
		}
	}

	for _, a := range r.Annotations {
		if len(a.Points) != a.Type.PointCount() {
			continue
		}
		c := parseHexColor(a.Color)
		switch a.Type {
		case AnnotateText:
			x, y := toImage(a.Points[0])
			drawSquare(img, x, y, 6, c)
			if r.Labels {
				drawText(img, x+6, y+4, a.Text, c)
			}
		case AnnotateArrow:
			drawPolyline(img, a.Points, false, toImage, c)
			x, y := toImage(a.Points[1])
			drawSquare(img, x, y, 5, c)
		case AnnotateRectangle:
			drawPolyline(img, rectangleCorners(a.Points[0], a.Points[1]), true, toImage, c)
		case AnnotateCircle:
			x0, y0 := toImage(a.Points[0])
			x1, y1 := toImage(a.Points[1])
			drawEllipse(img, (x0+x1)/2, (y0+y1)/2, abs(x1-x0)/2, abs(y1-y0)/2, c)
		}
	}
	return img
}

// SavePNG renders the preview and writes it to path
func (r *PreviewRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

// MeasurementLabel formats the value shown next to a measurement. Net values
// win over gross when cutouts are present.
func MeasurementLabel(m Measurement) string {
	v := m.CalculatedValue
	if m.NetCalculatedValue != nil {
		v = *m.NetCalculatedValue
	}
	if m.Type == MeasureCount {
		return fmt.Sprintf("%d %s", int(math.Round(v)), m.Unit)
	}
	return fmt.Sprintf("%.2f %s", v, m.Unit)
}

func centroid(pts []Point) Point {
	var c Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point{X: c.X / n, Y: c.Y / n}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawPolyline strokes pts with one-pixel lines
func drawPolyline(img *image.RGBA, pts []Point, closed bool, toImage func(Point) (int, int), c color.RGBA) {
	if len(pts) < 2 {
		return
	}
	for i := 1; i < len(pts); i++ {
		x0, y0 := toImage(pts[i-1])
		x1, y1 := toImage(pts[i])
		drawLine(img, x0, y0, x1, y1, c)
	}
	if closed && len(pts) > 2 {
		x0, y0 := toImage(pts[len(pts)-1])
		x1, y1 := toImage(pts[0])
		drawLine(img, x0, y0, x1, y1, c)
	}
}

// drawLine draws a line using Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		setPixel(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			setPixel(img, cx+dx, cy+dy, c)
		}
	}
}

// drawEllipse strokes an axis-aligned ellipse outline
func drawEllipse(img *image.RGBA, cx, cy, rx, ry int, c color.RGBA) {
	if rx == 0 || ry == 0 {
		return
	}
	steps := 4 * (rx + ry)
	for i := 0; i < steps; i++ {
		t := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Round(float64(rx)*math.Cos(t)))
		y := cy + int(math.Round(float64(ry)*math.Sin(t)))
		setPixel(img, x, y, c)
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA.
// Anything unparseable falls back to red.
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}
