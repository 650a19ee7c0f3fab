// Package geometry converts normalized detector coordinates into pixel space.
//
// The detector only ever sees the working resolution, while rendering runs
// against the original bytes, so conversion happens in two stages: normalized
// to working pixels, then working pixels rescaled to the original resolution
// when the image was downsampled.
package geometry

import "github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"

// ToPixelRect converts a normalized box to pixel space at the given
// resolution, truncating to integers.
func ToPixelRect(box types.BoundingBox, width, height int) types.PixelRect {
	x := int(box.XMin * float64(width))
	y := int(box.YMin * float64(height))
	w := int((box.XMax - box.XMin) * float64(width))
	h := int((box.YMax - box.YMin) * float64(height))
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return types.PixelRect{X: x, Y: y, Width: w, Height: h}
}

// Reconcile assigns each object its pixel-space crop. Boxes are converted at
// the working resolution and, when that differs from the original, rescaled
// per axis back to original pixels. Objects without a box keep an empty crop.
func Reconcile(objects []types.CategorizedObject, workingW, workingH, originalW, originalH int) []types.CategorizedObject {
	scaled := workingW != originalW || workingH != originalH
	var scaleX, scaleY float64
	if scaled && workingW > 0 && workingH > 0 {
		scaleX = float64(originalW) / float64(workingW)
		scaleY = float64(originalH) / float64(workingH)
	}

	for i := range objects {
		if objects[i].Box == nil {
			continue
		}
		rect := ToPixelRect(*objects[i].Box, workingW, workingH)
		if scaled {
			rect = types.PixelRect{
				X:      int(float64(rect.X) * scaleX),
				Y:      int(float64(rect.Y) * scaleY),
				Width:  int(float64(rect.Width) * scaleX),
				Height: int(float64(rect.Height) * scaleY),
			}
		}
		objects[i].ThumbnailCrop = rect
	}
	return objects
}
