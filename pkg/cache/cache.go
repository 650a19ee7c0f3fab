// Package cache memoizes pipeline results, content-addressed by a hash of the
// input URL. Entries are write-once: the store never updates or deletes them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

var (
	// ErrNotFound is returned by Lookup on a cache miss.
	ErrNotFound = errors.New("cache entry not found")

	// ErrConflict is returned by Store when an entry with the same hash was
	// created concurrently. Callers recover by re-reading the winner.
	ErrConflict = errors.New("cache entry already exists")
)

// Store is the persistence capability for cache rows.
type Store interface {
	Lookup(ctx context.Context, imageHash string) (*types.CacheEntry, error)
	Store(ctx context.Context, entry *types.CacheEntry) error
}

// Hash returns the deterministic key for a URL: SHA-256 of the exact string.
// No normalization is applied; URLs differing by one byte get distinct keys.
func Hash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
