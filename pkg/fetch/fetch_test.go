package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func serveBytes(t *testing.T, body []byte, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAcquireValidPNG(t *testing.T) {
	body := pngBytes(t, 120, 80)
	srv := serveBytes(t, body, http.StatusOK)

	a := New()
	src, err := a.Acquire(context.Background(), srv.URL+"/image.png")
	require.NoError(t, err)
	defer src.Release()

	assert.Equal(t, "png", src.Format)
	assert.Equal(t, int64(len(body)), src.Size)
	assert.Equal(t, 120, src.Width)
	assert.Equal(t, 80, src.Height)
	assert.FileExists(t, src.Path)
}

func TestAcquireRejectsBadSources(t *testing.T) {
	a := New()
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{"empty URL", ""},
		{"whitespace URL", "   "},
		{"bad scheme", "ftp://example.com/a.png"},
		{"file scheme", "file:///etc/passwd"},
		{"no host", "http://"},
		{"garbage", "http://%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Acquire(ctx, tt.url)
			assert.ErrorIs(t, err, ErrInvalidSource)
		})
	}
}

func TestAcquireNonSuccessStatus(t *testing.T) {
	srv := serveBytes(t, []byte("not found"), http.StatusNotFound)

	a := New()
	_, err := a.Acquire(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestAcquireTooLargeByHeader(t *testing.T) {
	// Body is twice the limit; the Content-Length header alone must
	// trigger the failure before the body is read.
	body := make([]byte, 200)
	srv := serveBytes(t, body, http.StatusOK)

	a := NewWithConfig(Config{MaxBytes: 100})
	_, err := a.Acquire(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAcquireTooLargeByBody(t *testing.T) {
	// Chunked response hides the length; the downloaded byte count is
	// re-checked against the limit.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunk := make([]byte, 64)
		for i := 0; i < 4; i++ {
			w.Write(chunk)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)

	a := NewWithConfig(Config{MaxBytes: 100})
	_, err := a.Acquire(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAcquireOneByteOverLimit(t *testing.T) {
	limit := int64(512)
	body := make([]byte, limit+1)
	srv := serveBytes(t, body, http.StatusOK)

	a := NewWithConfig(Config{MaxBytes: limit})
	_, err := a.Acquire(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAcquireNonImageBytes(t *testing.T) {
	srv := serveBytes(t, []byte("<html>definitely not an image</html>"), http.StatusOK)

	a := New()
	_, err := a.Acquire(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReleaseRemovesFileOnce(t *testing.T) {
	srv := serveBytes(t, pngBytes(t, 10, 10), http.StatusOK)

	a := New()
	src, err := a.Acquire(context.Background(), srv.URL)
	require.NoError(t, err)

	require.NoError(t, src.Release())
	_, statErr := os.Stat(src.Path)
	assert.True(t, os.IsNotExist(statErr), "temp file should be gone")

	// Second release is a no-op, not a second error.
	assert.NoError(t, src.Release())
}
