// Package catalog loads the static auction catalog: category names mapped to
// an ordered list of item names. The catalog is read once at startup and
// never mutated afterwards.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

type Catalog struct {
	items map[string][]string
}

// Load reads a JSON catalog file of the shape
// {"category": ["item", ...], ...}. Any read or parse failure is returned to
// the caller, which should treat it as fatal: there is no catalog reload
// mid-run.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	items := make(map[string][]string)
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	return &Catalog{items: items}, nil
}

// Categories returns the category names in sorted order for stable display.
func (c *Catalog) Categories() []string {
	categories := make([]string, 0, len(c.items))
	for category := range c.items {
		categories = append(categories, category)
	}
	slices.Sort(categories)
	return categories
}

// Items returns the ordered item list for a category, or nil if the category
// does not exist.
func (c *Catalog) Items(category string) []string {
	return slices.Clone(c.items[category])
}

func (c *Catalog) Has(category, item string) bool {
	return slices.Contains(c.items[category], item)
}
