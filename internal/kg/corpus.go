package kg

import (
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-kg/internal/sdf"
)

// Corpus is the Similarity Corpus: the flattened attribute rows of every
// class resolved so far, plus the structured schema of each class a device
// has reported.
//
// Rows are append-only. Rows of a class already present are not added
// twice, so resolving two files that describe the same thing keeps one
// copy.
//
// Thread Safety: all methods are safe for concurrent use. Rows returns a
// copy the caller may read without holding any lock.
type Corpus struct {
	mu         sync.RWMutex
	schemas    map[string]*sdf.Schema
	rows       []sdf.Row
	rowClasses map[string]bool
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{
		schemas:    make(map[string]*sdf.Schema),
		rowClasses: make(map[string]bool),
	}
}

// Has reports whether class has a cached schema.
func (c *Corpus) Has(class string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.schemas[class]
	return ok
}

// Add caches schema and appends the rows of every class not yet present.
// Returns the number of rows appended.
func (c *Corpus) Add(schema *sdf.Schema, rows []sdf.Row) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if schema != nil {
		c.schemas[schema.Class] = schema
	}

	fresh := make(map[string]bool)
	added := 0
	for _, r := range rows {
		if c.rowClasses[r.Class] && !fresh[r.Class] {
			continue
		}
		fresh[r.Class] = true
		c.rows = append(c.rows, r)
		added++
	}
	for class := range fresh {
		c.rowClasses[class] = true
	}
	return added
}

// Schema returns the cached schema of class.
func (c *Corpus) Schema(class string) (*sdf.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[class]
	return s, ok
}

// Rows returns a snapshot of every row in insertion order.
func (c *Corpus) Rows() []sdf.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.rows)
}

// Classes returns every class with rows in the corpus, sorted.
func (c *Corpus) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.rowClasses))
}

// Len returns the number of rows.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}
