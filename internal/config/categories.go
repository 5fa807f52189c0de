package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one entry of the ticket category catalog.
type Category struct {
	Key         string `yaml:"key"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}

// CategoryCatalog lists the categories staff may assign. An empty catalog accepts any key.
type CategoryCatalog struct {
	Categories []Category `yaml:"categories"`
}

// LoadCategories reads the YAML catalog at path. An empty path yields an empty catalog.
func LoadCategories(path string) (*CategoryCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return &CategoryCatalog{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	return ParseCategories(raw)
}

// ParseCategories decodes a YAML catalog document.
func ParseCategories(raw []byte) (*CategoryCatalog, error) {
	var catalog CategoryCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	seen := make(map[string]struct{}, len(catalog.Categories))
	for i, c := range catalog.Categories {
		key := strings.ToLower(strings.TrimSpace(c.Key))
		if key == "" {
			return nil, fmt.Errorf("category %d: key required", i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("category %q declared twice", key)
		}
		seen[key] = struct{}{}
		catalog.Categories[i].Key = key
	}
	return &catalog, nil
}

// Allows reports whether key may be assigned.
func (c *CategoryCatalog) Allows(key string) bool {
	if c == nil || len(c.Categories) == 0 {
		return true
	}
	_, ok := c.Lookup(key)
	return ok
}

// Lookup finds a category by key, case-insensitively.
func (c *CategoryCatalog) Lookup(key string) (Category, bool) {
	if c == nil {
		return Category{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return Category{}, false
}
