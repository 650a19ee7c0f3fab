// Package processing holds the image-side work of the pipeline: decoding,
// enforcing the detector pixel budget, annotating detections onto the
// original image and rendering per-object thumbnails.
package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	_ "image/gif"
	_ "image/png"
)

const (
	// PixelBudget is the maximum pixel count the external detector accepts.
	PixelBudget = 75_000_000

	// DefaultJPEGQuality is used for every rendered artifact.
	DefaultJPEGQuality = 90
)

// Processor handles image processing operations.
type Processor struct {
	quality int
}

// NewProcessor creates a processor with the default JPEG quality.
func NewProcessor() *Processor {
	return &Processor{quality: DefaultJPEGQuality}
}

// LoadImage loads an image from a file path with WebP support.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// DecodeBytes decodes an image from byte data with WebP support.
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// EncodeJPEG encodes an image to JPEG bytes, the format sent to detectors.
func (p *Processor) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveJPEG writes an image to path as JPEG regardless of the path extension.
func (p *Processor) SaveJPEG(img image.Image, path string) error {
	low := strings.ToLower(path)
	if !strings.HasSuffix(low, ".jpg") && !strings.HasSuffix(low, ".jpeg") {
		return fmt.Errorf("annotated artifacts are JPEG only, got %s", path)
	}
	return imaging.Save(img, path, imaging.JPEGQuality(p.quality))
}

// Constrain enforces the detector pixel budget. When the image exceeds it, a
// uniformly downscaled working copy is returned together with scaled=true.
// The caller's original is never mutated; on any resize problem the original
// is returned unscaled and downstream runs on the full size.
func (p *Processor) Constrain(img image.Image) (working image.Image, scaled bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	newW, newH, ok := budgetDimensions(w, h)
	if !ok {
		return img, false
	}

	resized := imaging.Resize(img, newW, newH, imaging.Lanczos)
	if resized == nil || resized.Bounds().Dx() <= 0 || resized.Bounds().Dy() <= 0 {
		return img, false
	}
	return resized, true
}

// budgetDimensions returns the dimensions after applying the uniform scale
// factor sqrt(budget/actual), floored, or ok=false when the image already
// fits the budget or the target would be degenerate.
func budgetDimensions(w, h int) (newW, newH int, ok bool) {
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	pixels := w * h
	if pixels <= PixelBudget {
		return 0, 0, false
	}
	scale := math.Sqrt(float64(PixelBudget) / float64(pixels))
	newW = int(float64(w) * scale)
	newH = int(float64(h) * scale)
	if newW <= 0 || newH <= 0 {
		return 0, 0, false
	}
	return newW, newH, true
}
