// Package taxonomy maps free-text detector labels onto a business taxonomy.
//
// The mapping is declared as category -> [labels] in a YAML file, inverted at
// load time into a case-insensitive label -> category lookup, and held as an
// immutable snapshot behind an atomic pointer. Reload swaps the snapshot; it
// never mutates in place.
package taxonomy

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// DefaultCategory is returned for labels the taxonomy does not know.
const DefaultCategory = "other"

type snapshot struct {
	labelToCategory map[string]string
}

// Taxonomy is a process-wide, read-mostly label classifier.
type Taxonomy struct {
	path    string
	current atomic.Pointer[snapshot]
}

// Load builds a taxonomy from the YAML file at path. A missing file yields an
// empty taxonomy where every label falls back to DefaultCategory.
func Load(path string) (*Taxonomy, error) {
	t := &Taxonomy{path: path}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Empty returns a taxonomy with no mappings, useful for tests and for running
// without a taxonomy file.
func Empty() *Taxonomy {
	t := &Taxonomy{}
	t.current.Store(&snapshot{labelToCategory: map[string]string{}})
	return t
}

// Reload re-reads the taxonomy file and atomically swaps the lookup table.
// In-flight Categorize calls keep using the snapshot they started with.
func (t *Taxonomy) Reload() error {
	if t.path == "" {
		t.current.Store(&snapshot{labelToCategory: map[string]string{}})
		return nil
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.current.Store(&snapshot{labelToCategory: map[string]string{}})
			return nil
		}
		return fmt.Errorf("read taxonomy file: %w", err)
	}

	var declared map[string][]string
	if err := yaml.Unmarshal(data, &declared); err != nil {
		return fmt.Errorf("parse taxonomy file: %w", err)
	}

	inverted := make(map[string]string)
	for category, labels := range declared {
		for _, label := range labels {
			inverted[normalize(label)] = category
		}
	}
	t.current.Store(&snapshot{labelToCategory: inverted})
	return nil
}

// Categorize returns the category for a label, or DefaultCategory when the
// label is unknown. Pure lookup, no I/O.
func (t *Taxonomy) Categorize(label string) string {
	snap := t.current.Load()
	if category, ok := snap.labelToCategory[normalize(label)]; ok {
		return category
	}
	return DefaultCategory
}

// Size returns the number of known labels in the current snapshot.
func (t *Taxonomy) Size() int {
	return len(t.current.Load().labelToCategory)
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
