package takeoff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleCalculator(t *testing.T) {
	square := []Point{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 0.5, Y: 0.5}, {X: 0, Y: 0.5}}
	scale := Scale{Factor: 0.1, Unit: "ft", PageWidth: 200, PageHeight: 100, Calibrated: true}

	tests := []struct {
		name      string
		typ       MeasurementType
		pts       []Point
		depth     float64
		wantValue float64
		wantUnit  string
		wantPerim float64
	}{
		{"count", MeasureCount, square[:1], 0, 1, "EA", 0},
		// 100px across, 50px down
		{"linear", MeasureLinear, square[:3], 0, 15, "ft", 0},
		// 100x50px = 5000px² * 0.01
		{"area", MeasureArea, square, 0, 50, "ft²", 30},
		{"volume with depth", MeasureVolume, square, 2, 100, "ft³", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ScaleCalculator{}.Calculate(tt.typ, tt.pts, scale, tt.depth)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantValue, v.Value, 1e-9)
			assert.Equal(t, tt.wantUnit, v.Unit)
			if tt.typ.IsPolygon() {
				require.NotNil(t, v.Perimeter)
				assert.InDelta(t, tt.wantPerim, *v.Perimeter, 1e-9)
			} else {
				assert.Nil(t, v.Perimeter)
			}
		})
	}
}

func TestScaleCalculator_TooFewPoints(t *testing.T) {
	_, err := ScaleCalculator{}.Calculate(MeasureArea, []Point{{}, {X: 1}}, Scale{Factor: 1, PageWidth: 1, PageHeight: 1}, 0)
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("err = %v, want ErrInvalidGeometry", err)
	}
}

func TestScaleCalculator_VolumeNeedsDepth(t *testing.T) {
	square := []Point{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 0.5, Y: 0.5}, {X: 0, Y: 0.5}}
	scale := Scale{Factor: 1, Unit: "ft", PageWidth: 100, PageHeight: 100}
	for _, depth := range []float64{0, -4} {
		_, err := ScaleCalculator{}.Calculate(MeasureVolume, square, scale, depth)
		assert.ErrorIs(t, err, ErrMissingDepth, "depth %g", depth)
	}
}

func TestScaleCalculator_UnknownType(t *testing.T) {
	_, err := ScaleCalculator{}.Calculate("perimeter", []Point{{}}, Scale{Factor: 1}, 0)
	assert.Error(t, err)
}

func TestUnitSuffixes(t *testing.T) {
	assert.Equal(t, "m²", AreaUnit("m"))
	assert.Equal(t, "in³", VolumeUnit("in"))
}
