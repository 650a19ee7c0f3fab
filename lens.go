// Package lens provides visual product search: given an image URL it returns
// detected objects with labels, confidence scores and bounding boxes, a
// taxonomy category per object, an annotated copy of the image and per-object
// thumbnail crops.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//		"log"
//		"os"
//
//		lens "github.com/weijie-hipvan/pt-google-lens-backend"
//	)
//
//	func main() {
//		svc, err := lens.New(context.Background(), lens.Options{
//			TaxonomyPath: "taxonomy.yaml",
//			OutputDir:    "out",
//			CachePath:    "lens-cache.db",
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer svc.Close()
//
//		resp, err := svc.Detect(context.Background(), "https://example.com/room.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		json.NewEncoder(os.Stdout).Encode(resp)
//	}
//
// The pipeline runs one way per request: URL -> bytes -> (resize?) ->
// detection -> categorize -> reconcile coordinates -> render -> cache ->
// response. Detection backends are pluggable; Cloud Vision is the default
// and an Ollama-served vision model is available for offline use.
package lens

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/cache"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/detect"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/fetch"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/gvision"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/ollama"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/pipeline"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/taxonomy"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// Options configures the service. Zero values get sensible defaults; an empty
// CachePath disables memoization.
type Options struct {
	// Backend selects the detector: "gvision" (default), "ollama" or a
	// caller-supplied Detector.
	Backend  string
	Detector detect.Detector

	CredentialsFile string
	OllamaURL       string
	OllamaModel     string

	TaxonomyPath string
	OutputDir    string
	BaseURL      string
	CachePath    string

	// DisableSingleFlight turns off the per-hash in-process guard against
	// duplicate concurrent detection runs.
	DisableSingleFlight bool

	FetchMaxBytes int64
	FetchTimeout  time.Duration

	Logger *logrus.Logger
}

// Service is the assembled detection pipeline.
type Service struct {
	pipeline *pipeline.Pipeline
	taxonomy *taxonomy.Taxonomy
	store    *cache.SQLiteStore
	gclient  *gvision.Client
}

// New wires the pipeline from options.
func New(ctx context.Context, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	tax, err := taxonomy.Load(opts.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}

	svc := &Service{taxonomy: tax}

	detector := opts.Detector
	if detector == nil {
		switch opts.Backend {
		case "", "gvision":
			var copts []option.ClientOption
			if opts.CredentialsFile != "" {
				copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile))
			}
			client, err := gvision.NewClient(ctx, copts...)
			if err != nil {
				return nil, err
			}
			svc.gclient = client
			detector = client
		case "ollama":
			url := opts.OllamaURL
			if url == "" {
				url = "http://localhost:11434"
			}
			detector, err = ollama.NewClient(url, opts.OllamaModel)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown backend %q", opts.Backend)
		}
	}

	var store cache.Store
	if opts.CachePath != "" {
		sqlStore, err := cache.NewSQLiteStore(opts.CachePath)
		if err != nil {
			return nil, err
		}
		svc.store = sqlStore
		store = sqlStore
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "./output"
	}

	acquirer := fetch.NewWithConfig(fetch.Config{
		MaxBytes: opts.FetchMaxBytes,
		Timeout:  opts.FetchTimeout,
	})

	svc.pipeline = pipeline.New(acquirer, detector, tax, store, pipeline.Config{
		OutputDir:    outputDir,
		BaseURL:      opts.BaseURL,
		CacheEnabled: store != nil,
		SingleFlight: !opts.DisableSingleFlight,
	}, logger)
	return svc, nil
}

// Detect runs the full pipeline for one image URL.
func (s *Service) Detect(ctx context.Context, imageURL string) (*types.Response, error) {
	return s.pipeline.Run(ctx, imageURL)
}

// ReloadTaxonomy re-reads the taxonomy file and swaps it in atomically.
func (s *Service) ReloadTaxonomy() error {
	return s.taxonomy.Reload()
}

// Close releases the cache database and the detector connection when owned by
// the service.
func (s *Service) Close() error {
	var first error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			first = err
		}
	}
	if s.gclient != nil {
		if err := s.gclient.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
