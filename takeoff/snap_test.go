package takeoff

import "testing"

func TestOrthoSnap(t *testing.T) {
	tests := []struct {
		name      string
		candidate Point
		refs      []Point
		want      Point
	}{
		{
			name:      "smaller x deviation locks x",
			candidate: Point{X: 0.23, Y: 0.41},
			refs:      []Point{{X: 0.2, Y: 0.2}},
			want:      Point{X: 0.2, Y: 0.41},
		},
		{
			name:      "smaller y deviation locks y",
			candidate: Point{X: 0.7, Y: 0.22},
			refs:      []Point{{X: 0.2, Y: 0.2}},
			want:      Point{X: 0.7, Y: 0.2},
		},
		{
			name:      "uses last reference only",
			candidate: Point{X: 0.52, Y: 0.9},
			refs:      []Point{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.5}},
			want:      Point{X: 0.5, Y: 0.9},
		},
		{
			name:      "no references is a no-op",
			candidate: Point{X: 0.3, Y: 0.4},
			refs:      nil,
			want:      Point{X: 0.3, Y: 0.4},
		},
		{
			name:      "tie locks x",
			candidate: Point{X: 0.3, Y: 0.3},
			refs:      []Point{{X: 0.2, Y: 0.2}},
			want:      Point{X: 0.2, Y: 0.3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrthoSnap(tt.candidate, tt.refs)
			if !pointsEqual(got, tt.want) {
				t.Errorf("OrthoSnap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapIfDisabled(t *testing.T) {
	c := Point{X: 0.23, Y: 0.41}
	if got := SnapIf(false, c, []Point{{X: 0.2, Y: 0.2}}); got != c {
		t.Errorf("SnapIf(false) = %v, want %v", got, c)
	}
}
