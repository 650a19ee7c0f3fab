package types

// BoundingBox is a normalized bounding box with all coordinates in [0,1].
// The detector guarantees XMin <= XMax and YMin <= YMax.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// PixelRect is a rectangle in pixel space, derived from a BoundingBox and an
// image resolution. Width and Height are never negative.
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rect has no drawable area.
func (r PixelRect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// DetectedObject is a single object returned by a detector. Box is nil when
// the detector returned no polygon for the object, which is distinct from a
// zero-area box.
type DetectedObject struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Box        *BoundingBox `json:"bounding_box,omitempty"`
}

// CategorizedObject is a DetectedObject enriched by the pipeline with a
// taxonomy category, a stable per-response id and rendering artifacts.
type CategorizedObject struct {
	ID            string       `json:"id"`
	Label         string       `json:"label"`
	Category      string       `json:"category"`
	Confidence    float64      `json:"confidence"`
	Box           *BoundingBox `json:"bounding_box,omitempty"`
	ThumbnailCrop PixelRect    `json:"thumbnail_crop"`
	ThumbnailURL  *string      `json:"thumbnail_url"`
}

// DetectionSummary aggregates per-category counts. Counts always sum to
// TotalObjects.
type DetectionSummary struct {
	TotalObjects int            `json:"total_objects"`
	Categories   map[string]int `json:"categories"`
}

// ImageInfo describes the source and annotated images in a response.
type ImageInfo struct {
	OriginalURL       string `json:"original_url"`
	AnnotatedImageURL string `json:"annotated_image_url"`
}

// Response is the success payload for one detection request.
type Response struct {
	Image   ImageInfo           `json:"image"`
	Summary DetectionSummary    `json:"summary"`
	Objects []CategorizedObject `json:"objects"`
}

// CacheEntry is the persisted result for one distinct URL. ImageHash is a
// deterministic hash of the exact URL string and is unique per entry; entries
// are never mutated after creation.
type CacheEntry struct {
	ImageHash     string              `json:"image_hash"`
	OriginalURL   string              `json:"original_url"`
	AnnotatedPath string              `json:"annotated_path"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	TotalObjects  int                 `json:"total_objects"`
	Categories    map[string]int      `json:"categories"`
	Objects       []CategorizedObject `json:"objects"`
}
