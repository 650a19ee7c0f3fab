package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// labelMargin offsets the label text from the box's top-left corner.
const labelMargin = 4

// categoryColors is the fixed color table keyed by taxonomy category.
var categoryColors = map[string]color.NRGBA{
	"furniture":   {0, 170, 255, 255},
	"electronics": {0, 255, 0, 255},
	"appliance":   {255, 204, 0, 255},
	"apparel":     {255, 0, 255, 255},
	"decor":       {255, 128, 0, 255},
	"lighting":    {255, 255, 0, 255},
	"kitchenware": {0, 255, 255, 255},
	"person":      {255, 0, 0, 255},
	"animal":      {128, 0, 255, 255},
	"plant":       {0, 200, 80, 255},
	"vehicle":     {0, 80, 255, 255},
	"food":        {200, 120, 40, 255},
}

// defaultColor is used for categories outside the table, including "other".
var defaultColor = color.NRGBA{160, 160, 160, 255}

// CategoryColor returns the deterministic color for a category.
func CategoryColor(category string) color.NRGBA {
	if c, ok := categoryColors[category]; ok {
		return c
	}
	return defaultColor
}

// Annotate draws each object's rectangle and label onto a copy of the
// original image and writes the result to outPath as JPEG. Objects without a
// pixel crop are skipped; with nothing to draw the original is written out
// unchanged.
func (p *Processor) Annotate(original image.Image, objects []types.CategorizedObject, outPath string) error {
	canvas := imaging.Clone(original)
	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h))))

	for _, obj := range objects {
		if obj.Box == nil || obj.ThumbnailCrop.Empty() {
			continue
		}
		c := CategoryColor(obj.Category)
		drawRect(canvas, obj.ThumbnailCrop, c, stroke)
		text := fmt.Sprintf("%s (%.0f%%)", obj.Label, obj.Confidence*100)
		drawLabel(canvas, text, obj.ThumbnailCrop.X+labelMargin, obj.ThumbnailCrop.Y+labelMargin, c)
	}

	return p.SaveJPEG(canvas, outPath)
}

func drawRect(img *image.NRGBA, r types.PixelRect, c color.NRGBA, stroke int) {
	x0, y0 := r.X, r.Y
	x1, y1 := r.X+r.Width, r.Y+r.Height
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

// drawLabel renders text anchored below the given point using the built-in
// 7x13 face.
func drawLabel(img *image.NRGBA, text string, x, y int, c color.NRGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(text)
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
