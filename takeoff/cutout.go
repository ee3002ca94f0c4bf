package takeoff

import "fmt"

// NetValue is gross minus the value of every cutout. Cutouts are assumed not to
// overlap; overlapping cutouts are each subtracted in full, so a region
// covered twice is removed twice.
func NetValue(gross float64, cutouts []Cutout) float64 {
	net := gross
	for _, c := range cutouts {
		net -= c.Value
	}
	return net
}

// WithCutout returns the geometry of m after appending c and recomputing the
// net value
func WithCutout(m Measurement, c Cutout) (MeasurementPatch, error) {
	if !m.Type.IsPolygon() {
		return MeasurementPatch{}, fmt.Errorf("measurement %s is %s: %w", m.ID, m.Type, ErrInvalidCutoutTarget)
	}
	if len(c.Points) < 3 {
		return MeasurementPatch{}, fmt.Errorf("cutout with %d points: %w", len(c.Points), ErrInvalidGeometry)
	}
	next := m.Geometry()
	next.Cutouts = append(next.Cutouts, Cutout{ID: c.ID, Points: clonePoints(c.Points), Value: c.Value})
	net := NetValue(next.CalculatedValue, next.Cutouts)
	next.NetCalculatedValue = &net
	return next, nil
}

// NewCutoutCommand builds the update that appends c to m
func NewCutoutCommand(m Measurement, c Cutout) (*UpdateMeasurementCommand, error) {
	next, err := WithCutout(m, c)
	if err != nil {
		return nil, err
	}
	return &UpdateMeasurementCommand{ID: m.ID, Previous: m.Geometry(), Next: next}, nil
}
