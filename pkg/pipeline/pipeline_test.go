package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/cache"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/detect"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/fetch"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/taxonomy"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// memStore is an in-memory cache.Store with the same write-once semantics as
// the sqlite implementation.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*types.CacheEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*types.CacheEntry)}
}

func (m *memStore) Lookup(ctx context.Context, imageHash string) (*types.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[imageHash]
	if !ok {
		return nil, cache.ErrNotFound
	}
	// Round-trip through JSON like the sqlite store does.
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	var copied types.CacheEntry
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

func (m *memStore) Store(ctx context.Context, entry *types.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ImageHash]; ok {
		return cache.ErrConflict
	}
	m.entries[entry.ImageHash] = entry
	return nil
}

func servePNG(t *testing.T, width, height int) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 100, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("furniture:\n  - chair\n"), 0o644))
	tax, err := taxonomy.Load(path)
	require.NoError(t, err)
	return tax
}

func newTestPipeline(t *testing.T, detector detect.Detector, store cache.Store) *Pipeline {
	t.Helper()
	cfg := Config{
		OutputDir:    t.TempDir(),
		CacheEnabled: store != nil,
		SingleFlight: true,
	}
	return New(fetch.New(), detector, testTaxonomy(t), store, cfg, quietLogger())
}

func TestRunZeroDetections(t *testing.T) {
	srv := servePNG(t, 500, 500)
	detector := detect.NewStub()
	p := newTestPipeline(t, detector, nil)

	resp, err := p.Run(context.Background(), srv.URL+"/room.png")
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Summary.TotalObjects)
	assert.Empty(t, resp.Summary.Categories)
	assert.NotNil(t, resp.Objects)
	assert.Len(t, resp.Objects, 0)
	assert.Equal(t, srv.URL+"/room.png", resp.Image.OriginalURL)

	// Annotated artifact exists and is an unmodified-size copy.
	f, err := os.Open(resp.Image.AnnotatedImageURL)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 500, cfg.Height)
}

func TestRunSingleObjectPixelCrop(t *testing.T) {
	srv := servePNG(t, 1000, 800)
	box := types.BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5}
	detector := detect.NewStub(types.DetectedObject{Label: "Chair", Confidence: 0.9, Box: &box})
	p := newTestPipeline(t, detector, nil)

	resp, err := p.Run(context.Background(), srv.URL+"/room.png")
	require.NoError(t, err)

	require.Len(t, resp.Objects, 1)
	obj := resp.Objects[0]
	assert.Equal(t, "obj_1", obj.ID)
	assert.Equal(t, "Chair", obj.Label)
	assert.Equal(t, "furniture", obj.Category)
	assert.Equal(t, types.PixelRect{X: 100, Y: 80, Width: 400, Height: 320}, obj.ThumbnailCrop)
	require.NotNil(t, obj.ThumbnailURL)
	assert.FileExists(t, *obj.ThumbnailURL)

	assert.Equal(t, 1, resp.Summary.TotalObjects)
	assert.Equal(t, map[string]int{"furniture": 1}, resp.Summary.Categories)
}

func TestRunBoxlessObject(t *testing.T) {
	srv := servePNG(t, 300, 300)
	detector := detect.NewStub(types.DetectedObject{Label: "sky", Confidence: 0.5})
	p := newTestPipeline(t, detector, nil)

	resp, err := p.Run(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Len(t, resp.Objects, 1)
	assert.Nil(t, resp.Objects[0].Box)
	assert.True(t, resp.Objects[0].ThumbnailCrop.Empty())
	assert.Nil(t, resp.Objects[0].ThumbnailURL)
	assert.Equal(t, "other", resp.Objects[0].Category)
}

func TestRunCachingIdempotent(t *testing.T) {
	srv := servePNG(t, 400, 400)
	box := types.BoundingBox{XMin: 0.2, YMin: 0.2, XMax: 0.8, YMax: 0.8}
	detector := detect.NewStub(types.DetectedObject{Label: "chair", Confidence: 0.8, Box: &box})
	store := newMemStore()
	p := newTestPipeline(t, detector, store)

	url := srv.URL + "/same.png"
	first, err := p.Run(context.Background(), url)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), url)
	require.NoError(t, err)

	// The second call is served from the cache and never re-runs detection.
	assert.Equal(t, 1, detector.Calls)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestRunCacheConflictReReads(t *testing.T) {
	srv := servePNG(t, 200, 200)
	detector := detect.NewStub(types.DetectedObject{Label: "chair", Confidence: 0.7})
	store := newMemStore()

	url := srv.URL + "/race.png"
	hash := cache.Hash(url)

	// Simulate a concurrent winner between our lookup and our store by
	// pre-seeding on first miss.
	winner := &types.CacheEntry{
		ImageHash:    hash,
		OriginalURL:  url,
		TotalObjects: 7,
		Categories:   map[string]int{"other": 7},
	}
	raced := &racingStore{memStore: store, winner: winner}

	p := newTestPipeline(t, detector, raced)
	resp, err := p.Run(context.Background(), url)
	require.NoError(t, err)

	// The concurrent winner's entry is the canonical result.
	assert.Equal(t, 7, resp.Summary.TotalObjects)
}

// racingStore misses on the first lookup, then inserts a winner entry so the
// pipeline's own store loses the uniqueness race.
type racingStore struct {
	*memStore
	winner *types.CacheEntry
	primed bool
}

func (r *racingStore) Lookup(ctx context.Context, imageHash string) (*types.CacheEntry, error) {
	if !r.primed {
		r.primed = true
		return nil, cache.ErrNotFound
	}
	return r.memStore.Lookup(ctx, imageHash)
}

func (r *racingStore) Store(ctx context.Context, entry *types.CacheEntry) error {
	// The winner got there first.
	if err := r.memStore.Store(ctx, r.winner); err != nil {
		return err
	}
	return r.memStore.Store(ctx, entry)
}

func TestRunCachingDisabledAlwaysDetects(t *testing.T) {
	srv := servePNG(t, 200, 200)
	detector := detect.NewStub()
	p := newTestPipeline(t, detector, nil)

	url := srv.URL + "/x.png"
	_, err := p.Run(context.Background(), url)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, 2, detector.Calls)
}

func TestRunErrorMapping(t *testing.T) {
	srv := servePNG(t, 100, 100)

	tests := []struct {
		name     string
		url      string
		detector detect.Detector
		wantKind Kind
		wantCode int
	}{
		{
			name:     "empty URL",
			url:      "",
			detector: detect.NewStub(),
			wantKind: KindInvalidSource,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad scheme",
			url:      "ftp://example.com/a.jpg",
			detector: detect.NewStub(),
			wantKind: KindInvalidSource,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "detector failure",
			url:      srv.URL,
			detector: &detect.Stub{Err: detect.ErrDetectionFailed},
			wantKind: KindDetectionFailed,
			wantCode: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.detector, nil)
			_, err := p.Run(context.Background(), tt.url)
			require.Error(t, err)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, tt.wantCode, perr.StatusCode())

			errResp := NewErrorResponse(err)
			assert.False(t, errResp.Status)
			assert.Equal(t, tt.wantCode, errResp.Code)
			assert.NotEmpty(t, errResp.Message)
		})
	}
}

func TestRunReleasesTempFiles(t *testing.T) {
	srv := servePNG(t, 100, 100)
	detector := &detect.Stub{Err: detect.ErrDetectionFailed}
	p := newTestPipeline(t, detector, nil)

	tmpBefore := countTempImages(t)
	_, err := p.Run(context.Background(), srv.URL)
	require.Error(t, err)

	assert.Equal(t, tmpBefore, countTempImages(t), "failed run must not leak temp files")
}

func countTempImages(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "lens-src-*.img"))
	require.NoError(t, err)
	return len(matches)
}
