package processing

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// ThumbnailFloor is the minimum dimension of a generated thumbnail.
const ThumbnailFloor = 100

// Thumbnail crops the original image to the given pixel rect and writes it to
// outPath as JPEG. When either cropped dimension falls below the floor, the
// crop is upscaled uniformly by the larger per-axis factor so both dimensions
// reach it while preserving aspect ratio.
func (p *Processor) Thumbnail(original image.Image, crop types.PixelRect, outPath string) error {
	if crop.Empty() {
		return fmt.Errorf("empty thumbnail crop")
	}

	rect := image.Rect(crop.X, crop.Y, crop.X+crop.Width, crop.Y+crop.Height).Intersect(original.Bounds())
	if rect.Empty() {
		return fmt.Errorf("thumbnail crop outside image bounds")
	}

	cropped := imaging.Crop(original, rect)

	w, h := cropped.Bounds().Dx(), cropped.Bounds().Dy()
	if w < ThumbnailFloor || h < ThumbnailFloor {
		scale := math.Max(
			float64(ThumbnailFloor)/float64(w),
			float64(ThumbnailFloor)/float64(h),
		)
		newW := int(math.Ceil(float64(w) * scale))
		newH := int(math.Ceil(float64(h) * scale))
		cropped = imaging.Resize(cropped, newW, newH, imaging.Lanczos)
	}

	return p.SaveJPEG(cropped, outPath)
}
