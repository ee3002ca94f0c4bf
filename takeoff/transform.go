package takeoff

import "math"

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformVector applies only the linear part of m, ignoring translation.
// Used for pointer deltas.
func TransformVector(v Point, m AffineMatrix) Point {
	return Point{
		X: m.A*v.X + m.B*v.Y,
		Y: m.C*v.X + m.D*v.Y,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// InvertMatrix computes the inverse of an affine transform
// Returns identity if matrix is singular (determinant ~= 0)
func InvertMatrix(m AffineMatrix) AffineMatrix {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-12 {
		return Identity()
	}

	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// ScaleMatrix creates a scaling transform
func ScaleMatrix(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, B: 0, Tx: 0, C: 0, D: sy, Ty: 0}
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// PixelToBaseMatrix returns the transform from rendered viewport pixels to base
// space. The entries are exact for the four cardinal rotations:
//
//	  0: base = (px/W,     py/H)
//	 90: base = (py/H,     1-px/W)
//	180: base = (1-px/W,   1-py/H)
//	270: base = (1-py/H,   px/W)
func PixelToBaseMatrix(vp Viewport) AffineMatrix {
	w, h := vp.Width, vp.Height
	switch vp.Rotation {
	case Rotate90:
		return AffineMatrix{A: 0, B: 1 / h, Tx: 0, C: -1 / w, D: 0, Ty: 1}
	case Rotate180:
		return AffineMatrix{A: -1 / w, B: 0, Tx: 1, C: 0, D: -1 / h, Ty: 1}
	case Rotate270:
		return AffineMatrix{A: 0, B: -1 / h, Tx: 1, C: 1 / w, D: 0, Ty: 0}
	default:
		return AffineMatrix{A: 1 / w, B: 0, Tx: 0, C: 0, D: 1 / h, Ty: 0}
	}
}

// BaseToPixelMatrix is the exact inverse of PixelToBaseMatrix, built directly
// rather than through InvertMatrix so that cardinal rotations stay exact.
func BaseToPixelMatrix(vp Viewport) AffineMatrix {
	w, h := vp.Width, vp.Height
	switch vp.Rotation {
	case Rotate90:
		return AffineMatrix{A: 0, B: -w, Tx: w, C: h, D: 0, Ty: 0}
	case Rotate180:
		return AffineMatrix{A: -w, B: 0, Tx: w, C: 0, D: -h, Ty: h}
	case Rotate270:
		return AffineMatrix{A: 0, B: w, Tx: 0, C: -h, D: 0, Ty: h}
	default:
		return AffineMatrix{A: w, B: 0, Tx: 0, C: 0, D: h, Ty: 0}
	}
}

// ToBase maps a rendered-pixel point to base space
func ToBase(p Point, vp Viewport) (Point, error) {
	if !usableViewport(&vp) {
		return Point{}, ErrNoViewport
	}
	return TransformPoint(p, PixelToBaseMatrix(vp)), nil
}

// ToPixel maps a base-space point to rendered pixels
func ToPixel(p Point, vp Viewport) (Point, error) {
	if !usableViewport(&vp) {
		return Point{}, ErrNoViewport
	}
	return TransformPoint(p, BaseToPixelMatrix(vp)), nil
}

func usableViewport(vp *Viewport) bool {
	return vp != nil && vp.Width > 0 && vp.Height > 0 && vp.Rotation.Valid()
}

// Transform converts pointer coordinates to base space and back
type Transform interface {
	ToBase(p Point) (Point, error)
	ToPixel(p Point) (Point, error)
	DeltaToBase(d Point) (Point, error)
}

// ViewportTransform is the Transform for one page. Viewport is the last
// rendered viewport; CurrentScale is the live zoom, which may run ahead of the
// rendered raster while a gesture is in progress. Pointer coordinates are in
// the CSS-scaled space, so they are divided by CurrentScale/Viewport.Scale
// before the rotation mapping.
type ViewportTransform struct {
	Viewport     *Viewport
	CurrentScale float64
}

// InteractiveRatio is currentScale / lastRenderedScale, 1 when no interactive
// zoom is pending
func (t ViewportTransform) InteractiveRatio() float64 {
	if t.Viewport == nil || t.Viewport.Scale <= 0 || t.CurrentScale <= 0 {
		return 1
	}
	return t.CurrentScale / t.Viewport.Scale
}

// PixelToBase returns the full pointer-to-base matrix including the
// interactive zoom ratio
func (t ViewportTransform) PixelToBase() (AffineMatrix, error) {
	if !usableViewport(t.Viewport) {
		return AffineMatrix{}, ErrNoViewport
	}
	r := t.InteractiveRatio()
	return MultiplyMatrices(PixelToBaseMatrix(*t.Viewport), ScaleMatrix(1/r, 1/r)), nil
}

// BaseToPixel returns the full base-to-pointer matrix
func (t ViewportTransform) BaseToPixel() (AffineMatrix, error) {
	if !usableViewport(t.Viewport) {
		return AffineMatrix{}, ErrNoViewport
	}
	r := t.InteractiveRatio()
	return MultiplyMatrices(ScaleMatrix(r, r), BaseToPixelMatrix(*t.Viewport)), nil
}

// ToBase implements Transform
func (t ViewportTransform) ToBase(p Point) (Point, error) {
	m, err := t.PixelToBase()
	if err != nil {
		return Point{}, err
	}
	return TransformPoint(p, m), nil
}

// ToPixel implements Transform
func (t ViewportTransform) ToPixel(p Point) (Point, error) {
	m, err := t.BaseToPixel()
	if err != nil {
		return Point{}, err
	}
	return TransformPoint(p, m), nil
}

// DeltaToBase converts a pointer delta into a base-space delta, i.e.
// delta/viewportDimension with the axes swapped or negated by rotation
func (t ViewportTransform) DeltaToBase(d Point) (Point, error) {
	m, err := t.PixelToBase()
	if err != nil {
		return Point{}, err
	}
	return TransformVector(d, m), nil
}
