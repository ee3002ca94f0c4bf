package takeoff

import "fmt"

// CountUnit is the unit stamped on count measurements
const CountUnit = "EA"

// AreaUnit returns the square unit for a linear unit
func AreaUnit(unit string) string {
	return unit + "²"
}

// VolumeUnit returns the cubic unit for a linear unit
func VolumeUnit(unit string) string {
	return unit + "³"
}

// ScaleCalculator is the default Calculator. Base points are expanded to page
// pixels using the scale's page size and multiplied by the calibration factor
// (squared for areas). Volume multiplies area by the condition depth, which
// must be positive.
type ScaleCalculator struct{}

// Calculate implements Calculator
func (ScaleCalculator) Calculate(t MeasurementType, points []Point, scale Scale, depth float64) (Values, error) {
	if len(points) < t.MinPoints() {
		return Values{}, fmt.Errorf("%s needs %d points, have %d: %w", t, t.MinPoints(), len(points), ErrInvalidGeometry)
	}
	w, h := scale.PageWidth, scale.PageHeight
	f := scale.Factor
	switch t {
	case MeasureCount:
		return Values{Value: 1, Unit: CountUnit}, nil
	case MeasureLinear:
		return Values{Value: PolylineLength(points, w, h) * f, Unit: scale.Unit}, nil
	case MeasureArea:
		perim := PolygonPerimeter(points, w, h) * f
		return Values{
			Value:     PolygonArea(points, w, h) * f * f,
			Unit:      AreaUnit(scale.Unit),
			Perimeter: &perim,
		}, nil
	case MeasureVolume:
		if depth <= 0 {
			return Values{}, fmt.Errorf("depth %g: %w", depth, ErrMissingDepth)
		}
		perim := PolygonPerimeter(points, w, h) * f
		return Values{
			Value:     PolygonArea(points, w, h) * f * f * depth,
			Unit:      VolumeUnit(scale.Unit),
			Perimeter: &perim,
		}, nil
	}
	return Values{}, fmt.Errorf("unknown measurement type %q", t)
}
