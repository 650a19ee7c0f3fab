package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the cache database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detection_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_hash TEXT NOT NULL UNIQUE,
		original_url TEXT NOT NULL,
		annotated_path TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		total_objects INTEGER NOT NULL,
		categories TEXT NOT NULL,
		objects TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_detection_cache_url ON detection_cache(original_url);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Lookup returns the entry for imageHash, or ErrNotFound. Matching is exact.
func (s *SQLiteStore) Lookup(ctx context.Context, imageHash string) (*types.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT image_hash, original_url, annotated_path, width, height, total_objects, categories, objects
		FROM detection_cache WHERE image_hash = ?
	`, imageHash)

	var entry types.CacheEntry
	var categoriesJSON, objectsJSON string
	err := row.Scan(&entry.ImageHash, &entry.OriginalURL, &entry.AnnotatedPath,
		&entry.Width, &entry.Height, &entry.TotalObjects, &categoriesJSON, &objectsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}

	if err := json.Unmarshal([]byte(categoriesJSON), &entry.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode cached categories: %w", err)
	}
	if err := json.Unmarshal([]byte(objectsJSON), &entry.Objects); err != nil {
		return nil, fmt.Errorf("failed to decode cached objects: %w", err)
	}
	return &entry, nil
}

// Store inserts a new entry. A uniqueness violation on image_hash surfaces as
// ErrConflict so the caller can re-read the concurrent winner.
func (s *SQLiteStore) Store(ctx context.Context, entry *types.CacheEntry) error {
	categoriesJSON, err := json.Marshal(entry.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	objectsJSON, err := json.Marshal(entry.Objects)
	if err != nil {
		return fmt.Errorf("failed to encode objects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO detection_cache (image_hash, original_url, annotated_path, width, height, total_objects, categories, objects)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ImageHash, entry.OriginalURL, entry.AnnotatedPath,
		entry.Width, entry.Height, entry.TotalObjects, string(categoriesJSON), string(objectsJSON))
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}
