// Package pipeline orchestrates one detection request end to end: cache
// check, acquire, size constraint, detection, categorization, coordinate
// reconciliation, rendering and memoization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/weijie-hipvan/pt-google-lens-backend/internal/utils"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/cache"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/detect"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/fetch"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/geometry"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/processing"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/taxonomy"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// Config holds pipeline settings.
type Config struct {
	// OutputDir is where annotated images and thumbnails are written.
	OutputDir string

	// BaseURL prefixes relative artifact paths in responses. Absolute
	// artifact locations are passed through untouched.
	BaseURL string

	// CacheEnabled switches memoization; when off every request runs the
	// full pipeline.
	CacheEnabled bool

	// SingleFlight collapses concurrent requests for the same URL into one
	// pipeline run. Cross-process races are still resolved through the
	// cache conflict re-read.
	SingleFlight bool
}

// Pipeline sequences the detection stages for one request at a time.
type Pipeline struct {
	acquirer  *fetch.Acquirer
	detector  detect.Detector
	taxonomy  *taxonomy.Taxonomy
	processor *processing.Processor
	store     cache.Store
	cfg       Config
	group     singleflight.Group
	log       *logrus.Entry
}

// New creates a pipeline. store may be nil when caching is disabled.
func New(acquirer *fetch.Acquirer, detector detect.Detector, tax *taxonomy.Taxonomy, store cache.Store, cfg Config, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		acquirer:  acquirer,
		detector:  detector,
		taxonomy:  tax,
		processor: processing.NewProcessor(),
		store:     store,
		cfg:       cfg,
		log:       logger.WithField("component", "pipeline"),
	}
}

// Run executes the full pipeline for one image URL.
func (p *Pipeline) Run(ctx context.Context, imageURL string) (*types.Response, error) {
	imageHash := cache.Hash(imageURL)

	if p.cfg.SingleFlight {
		v, err, _ := p.group.Do(imageHash, func() (interface{}, error) {
			return p.run(ctx, imageURL, imageHash)
		})
		if err != nil {
			return nil, err
		}
		return v.(*types.Response), nil
	}
	return p.run(ctx, imageURL, imageHash)
}

func (p *Pipeline) run(ctx context.Context, imageURL, imageHash string) (*types.Response, error) {
	log := p.log.WithField("image_hash", imageHash)

	if p.cachingOn() {
		entry, err := p.store.Lookup(ctx, imageHash)
		if err == nil {
			log.Debug("cache hit")
			return p.responseFromEntry(entry), nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.WithError(err).Warn("cache lookup failed, running pipeline")
		}
	}

	src, err := p.acquirer.Acquire(ctx, imageURL)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		if rerr := src.Release(); rerr != nil {
			log.WithError(rerr).Warn("failed to release source image")
		}
	}()
	log.WithFields(logrus.Fields{
		"format": src.Format,
		"size":   utils.FormatFileSize(src.Size),
	}).Debug("image acquired")

	original, err := p.processor.LoadImage(src.Path)
	if err != nil {
		return nil, classify(fmt.Errorf("%w: %v", fetch.ErrUnsupportedFormat, err))
	}
	originalW, originalH := original.Bounds().Dx(), original.Bounds().Dy()

	working, scaled := p.processor.Constrain(original)
	workingW, workingH := working.Bounds().Dx(), working.Bounds().Dy()

	var workingBytes []byte
	if scaled {
		workingBytes, err = p.processor.EncodeJPEG(working)
	} else {
		workingBytes, err = os.ReadFile(src.Path)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("prepare working image: %w", err))
	}

	detected, err := p.detector.Detect(ctx, workingBytes)
	if err != nil {
		return nil, classify(err)
	}
	log.WithField("objects", len(detected)).Debug("detection complete")

	objects := p.categorize(detected)
	objects = geometry.Reconcile(objects, workingW, workingH, originalW, originalH)

	annotatedPath, err := p.render(original, objects, imageHash, log)
	if err != nil {
		return nil, &Error{Kind: KindAnnotationFailed, Err: err}
	}

	entry := &types.CacheEntry{
		ImageHash:     imageHash,
		OriginalURL:   imageURL,
		AnnotatedPath: annotatedPath,
		Width:         originalW,
		Height:        originalH,
		TotalObjects:  len(objects),
		Categories:    countCategories(objects),
		Objects:       objects,
	}

	if p.cachingOn() {
		if err := p.store.Store(ctx, entry); err != nil {
			if errors.Is(err, cache.ErrConflict) {
				// Someone else cached the same URL first; their entry is
				// the canonical result.
				if existing, lerr := p.store.Lookup(ctx, imageHash); lerr == nil {
					log.Debug("cache conflict, using existing entry")
					return p.responseFromEntry(existing), nil
				}
			}
			log.WithError(err).Warn("failed to store cache entry")
		}
	}

	return p.responseFromEntry(entry), nil
}

func (p *Pipeline) cachingOn() bool {
	return p.cfg.CacheEnabled && p.store != nil
}

// categorize assigns the taxonomy category and a stable per-response id to
// every detected object, preserving detector order.
func (p *Pipeline) categorize(detected []types.DetectedObject) []types.CategorizedObject {
	objects := make([]types.CategorizedObject, 0, len(detected))
	for i, d := range detected {
		objects = append(objects, types.CategorizedObject{
			ID:         fmt.Sprintf("obj_%d", i+1),
			Label:      d.Label,
			Category:   p.taxonomy.Categorize(d.Label),
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}
	return objects
}

// render writes the annotated image and the per-object thumbnails. Thumbnail
// failures are contained to the object; only the annotated image is fatal.
func (p *Pipeline) render(original image.Image, objects []types.CategorizedObject, imageHash string, log *logrus.Entry) (string, error) {
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	annotatedPath := filepath.Join(p.cfg.OutputDir, imageHash+".jpg")
	if err := p.processor.Annotate(original, objects, annotatedPath); err != nil {
		return "", fmt.Errorf("annotate image: %w", err)
	}

	for i := range objects {
		if objects[i].ThumbnailCrop.Empty() {
			continue
		}
		thumbPath := filepath.Join(p.cfg.OutputDir, fmt.Sprintf("%s_%s.jpg", imageHash, objects[i].ID))
		if err := p.processor.Thumbnail(original, objects[i].ThumbnailCrop, thumbPath); err != nil {
			log.WithError(err).WithField("object", objects[i].ID).Warn("thumbnail render failed")
			continue
		}
		url := p.publicURL(thumbPath)
		objects[i].ThumbnailURL = &url
	}
	return annotatedPath, nil
}

func countCategories(objects []types.CategorizedObject) map[string]int {
	counts := make(map[string]int)
	for _, obj := range objects {
		counts[obj.Category]++
	}
	return counts
}

// responseFromEntry builds the wire response from a cache entry, applying the
// base URL to the annotated artifact location.
func (p *Pipeline) responseFromEntry(entry *types.CacheEntry) *types.Response {
	objects := entry.Objects
	if objects == nil {
		objects = make([]types.CategorizedObject, 0)
	}
	categories := entry.Categories
	if categories == nil {
		categories = make(map[string]int)
	}
	return &types.Response{
		Image: types.ImageInfo{
			OriginalURL:       entry.OriginalURL,
			AnnotatedImageURL: p.publicURL(entry.AnnotatedPath),
		},
		Summary: types.DetectionSummary{
			TotalObjects: entry.TotalObjects,
			Categories:   categories,
		},
		Objects: objects,
	}
}

// publicURL leaves absolute locations untouched and prefixes relative ones
// with the configured base URL.
func (p *Pipeline) publicURL(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	if p.cfg.BaseURL == "" {
		return location
	}
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + strings.TrimLeft(filepath.ToSlash(location), "/")
}
