package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

func TestHashDeterministic(t *testing.T) {
	url := "https://example.com/a.jpg"
	assert.Equal(t, Hash(url), Hash(url))
	assert.Len(t, Hash(url), 64)

	// No normalization: one different byte means a different key.
	assert.NotEqual(t, Hash(url), Hash(url+"/"))
	assert.NotEqual(t, Hash(url), Hash("https://EXAMPLE.com/a.jpg"))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEntry(url string) *types.CacheEntry {
	thumb := "out/abc_obj_1.jpg"
	box := &types.BoundingBox{XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.7}
	return &types.CacheEntry{
		ImageHash:     Hash(url),
		OriginalURL:   url,
		AnnotatedPath: "out/abc.jpg",
		Width:         1000,
		Height:        800,
		TotalObjects:  1,
		Categories:    map[string]int{"furniture": 1},
		Objects: []types.CategorizedObject{{
			ID:            "obj_1",
			Label:         "Chair",
			Category:      "furniture",
			Confidence:    0.93,
			Box:           box,
			ThumbnailCrop: types.PixelRect{X: 100, Y: 160, Width: 400, Height: 400},
			ThumbnailURL:  &thumb,
		}},
	}
}

func TestLookupMiss(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Lookup(context.Background(), Hash("https://example.com/missing.jpg"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := sampleEntry("https://example.com/room.jpg")
	require.NoError(t, store.Store(ctx, entry))

	got, err := store.Lookup(ctx, entry.ImageHash)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestStoreConflictOnDuplicateHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := sampleEntry("https://example.com/room.jpg")
	require.NoError(t, store.Store(ctx, entry))

	err := store.Store(ctx, sampleEntry("https://example.com/room.jpg"))
	assert.ErrorIs(t, err, ErrConflict)

	// The original entry survives the losing store.
	got, err := store.Lookup(ctx, entry.ImageHash)
	require.NoError(t, err)
	assert.Equal(t, entry.OriginalURL, got.OriginalURL)
}

func TestDistinctURLsDistinctEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleEntry("https://example.com/a.jpg")
	b := sampleEntry("https://example.com/b.jpg")
	require.NoError(t, store.Store(ctx, a))
	require.NoError(t, store.Store(ctx, b))

	gotA, err := store.Lookup(ctx, a.ImageHash)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.jpg", gotA.OriginalURL)
}
