package detect

import (
	"testing"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

func TestBoxFromPolygon(t *testing.T) {
	tests := []struct {
		name string
		pts  []Point
		want *types.BoundingBox
	}{
		{
			name: "empty polygon",
			pts:  nil,
			want: nil,
		},
		{
			name: "single vertex",
			pts:  []Point{{X: 0.3, Y: 0.7}},
			want: &types.BoundingBox{XMin: 0.3, YMin: 0.7, XMax: 0.3, YMax: 0.7},
		},
		{
			name: "clockwise rectangle",
			pts:  []Point{{0.1, 0.2}, {0.5, 0.2}, {0.5, 0.6}, {0.1, 0.6}},
			want: &types.BoundingBox{XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.6},
		},
		{
			name: "shuffled vertex order",
			pts:  []Point{{0.5, 0.6}, {0.1, 0.2}, {0.5, 0.2}, {0.1, 0.6}},
			want: &types.BoundingBox{XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.6},
		},
		{
			name: "irregular polygon",
			pts:  []Point{{0.4, 0.9}, {0.2, 0.1}, {0.8, 0.5}},
			want: &types.BoundingBox{XMin: 0.2, YMin: 0.1, XMax: 0.8, YMax: 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BoxFromPolygon(tt.pts)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("BoxFromPolygon() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("BoxFromPolygon() = %+v, want %+v", *got, *tt.want)
			}
		})
	}
}
