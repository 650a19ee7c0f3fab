package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	lens "github.com/weijie-hipvan/pt-google-lens-backend"
	"github.com/weijie-hipvan/pt-google-lens-backend/internal/config"
	"github.com/weijie-hipvan/pt-google-lens-backend/internal/utils"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/pipeline"
)

func main() {
	var imageURL, cfgPath, taxonomyPath, outDir, baseURL, cachePath, backend string
	var noCache, verbose bool

	flag.StringVar(&imageURL, "url", "", "image URL to analyze (required)")
	flag.StringVar(&cfgPath, "config", "", "path to JSON config file")
	flag.StringVar(&taxonomyPath, "taxonomy", "", "taxonomy YAML file (category -> labels)")
	flag.StringVar(&outDir, "out", "", "output directory for annotated image and thumbnails")
	flag.StringVar(&baseURL, "base-url", "", "base URL prefixed to relative artifact paths")
	flag.StringVar(&cachePath, "cache", "", "path to the sqlite cache database")
	flag.StringVar(&backend, "backend", "", "detector backend: gvision or ollama")
	flag.BoolVar(&noCache, "no-cache", false, "disable result memoization")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if imageURL == "" {
		logger.Fatalf("usage: %s -url https://example.com/image.jpg [-backend gvision|ollama] [-taxonomy taxonomy.yaml] [-out outdir]", filepath.Base(os.Args[0]))
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags win over config file and environment.
	if taxonomyPath != "" {
		cfg.TaxonomyPath = taxonomyPath
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if baseURL != "" {
		cfg.Output.BaseURL = baseURL
	}
	if cachePath != "" {
		cfg.Cache.Path = cachePath
	}
	if backend != "" {
		cfg.Detector.Backend = backend
	}
	if noCache {
		cfg.Cache.Enabled = false
	}

	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		logger.Fatalf("Failed to create output directory: %v", err)
	}
	if cfg.TaxonomyPath != "" && !utils.FileExists(cfg.TaxonomyPath) {
		logger.Warnf("Taxonomy file %s not found, all labels will map to %q", cfg.TaxonomyPath, "other")
	}

	opts := lens.Options{
		Backend:             cfg.Detector.Backend,
		CredentialsFile:     cfg.Detector.CredentialsFile,
		OllamaURL:           cfg.Detector.OllamaURL,
		OllamaModel:         cfg.Detector.OllamaModel,
		TaxonomyPath:        cfg.TaxonomyPath,
		OutputDir:           cfg.Output.Dir,
		BaseURL:             cfg.Output.BaseURL,
		DisableSingleFlight: !cfg.Cache.SingleFlight,
		FetchMaxBytes:       cfg.Fetch.MaxBytes,
		FetchTimeout:        time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		Logger:              logger,
	}
	if cfg.Cache.Enabled {
		opts.CachePath = cfg.Cache.Path
	}

	ctx := context.Background()
	svc, err := lens.New(ctx, opts)
	if err != nil {
		logger.Fatalf("Failed to initialize service: %v", err)
	}
	defer svc.Close()

	resp, err := svc.Detect(ctx, imageURL)
	if err != nil {
		errResp := pipeline.NewErrorResponse(err)
		js, _ := json.MarshalIndent(errResp, "", "  ")
		fmt.Fprintln(os.Stderr, string(js))
		logger.Fatalf("Detection failed: %v", err)
	}

	logger.Infof("Detected %d objects, annotated image at %s", resp.Summary.TotalObjects, resp.Image.AnnotatedImageURL)

	js, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		logger.Fatalf("Failed to encode response: %v", err)
	}
	fmt.Println(string(js))
}
