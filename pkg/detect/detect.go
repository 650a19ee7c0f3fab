// Package detect defines the object-localization capability the pipeline
// depends on, independent of any concrete vision backend.
package detect

import (
	"context"
	"errors"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// ErrDetectionFailed wraps any transport or service-side failure from a
// backend. A detection call either fully succeeds or fully fails; there is no
// partial-result handling and no retry.
var ErrDetectionFailed = errors.New("object detection failed")

// MaxObjects is the upper bound requested from every backend.
const MaxObjects = 50

// Detector localizes objects in an encoded image. Implementations return
// objects in backend order with normalized bounding boxes, or a nil Box when
// the backend produced no polygon for an object.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) ([]types.DetectedObject, error)
}

// Point is a single polygon vertex in normalized coordinates.
type Point struct {
	X float64
	Y float64
}

// BoxFromPolygon reduces a polygon to its axis-aligned bounding box by taking
// the min and max of each axis independently; vertex order does not matter.
// Returns nil for an empty polygon.
func BoxFromPolygon(pts []Point) *types.BoundingBox {
	if len(pts) == 0 {
		return nil
	}
	box := types.BoundingBox{
		XMin: pts[0].X, XMax: pts[0].X,
		YMin: pts[0].Y, YMax: pts[0].Y,
	}
	for _, p := range pts[1:] {
		if p.X < box.XMin {
			box.XMin = p.X
		}
		if p.X > box.XMax {
			box.XMax = p.X
		}
		if p.Y < box.YMin {
			box.YMin = p.Y
		}
		if p.Y > box.YMax {
			box.YMax = p.Y
		}
	}
	return &box
}
