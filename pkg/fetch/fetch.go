// Package fetch downloads a remote image into a request-owned temporary file
// and validates it before anything downstream touches it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Failure classes surfaced to the orchestrator. Callers match with errors.Is.
var (
	ErrInvalidSource     = errors.New("invalid image source")
	ErrTooLarge          = errors.New("image exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

const (
	// DefaultMaxBytes is the download limit applied to both the
	// Content-Length header and the actual body.
	DefaultMaxBytes = 10 << 20

	// DefaultTimeout bounds the whole fetch.
	DefaultTimeout = 30 * time.Second
)

var allowedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// Source is an acquired image on local disk. The owner must call Release on
// every exit path; Release is safe to call more than once.
type Source struct {
	Path   string
	Format string
	Size   int64
	Width  int
	Height int

	once sync.Once
	rerr error
}

// Release removes the temporary file backing the source.
func (s *Source) Release() error {
	s.once.Do(func() {
		s.rerr = os.Remove(s.Path)
	})
	return s.rerr
}

// Acquirer fetches and validates remote images.
type Acquirer struct {
	client   *http.Client
	maxBytes int64
	tmpDir   string
}

// Config holds acquirer settings. Zero values fall back to the defaults.
type Config struct {
	MaxBytes int64
	Timeout  time.Duration
	TmpDir   string
}

// New creates an Acquirer with default configuration.
func New() *Acquirer {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an Acquirer with custom configuration.
func NewWithConfig(cfg Config) *Acquirer {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Acquirer{
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxBytes,
		tmpDir:   cfg.TmpDir,
	}
}

// Acquire downloads the image at rawURL into a temporary file, enforcing the
// size limit and the format allow-list. On success the caller owns the
// returned Source and must Release it.
func (a *Acquirer) Acquire(ctx context.Context, rawURL string) (*Source, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	req.Header.Set("User-Agent", "pt-google-lens-backend/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrInvalidSource, resp.StatusCode)
	}

	// Fail fast on the advertised size before reading the body. The header
	// may be absent or wrong, so the body length is re-checked below.
	if resp.ContentLength > a.maxBytes {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, a.maxBytes)
	}

	tmp, err := os.CreateTemp(a.tmpDir, "lens-src-*.img")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, a.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if n > a.maxBytes {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, a.maxBytes)
	}

	format, w, h, err := sniffImage(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	return &Source{Path: tmp.Name(), Format: format, Size: n, Width: w, Height: h}, nil
}

func validateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidSource)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidSource, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	return nil
}

// sniffImage decodes the image header to learn the real format and
// dimensions. Content-Type is not trusted.
func sniffImage(path string) (format string, w, h int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, fmt.Errorf("open downloaded image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if !allowedFormats[format] {
		return "", 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return format, cfg.Width, cfg.Height, nil
}
