// Package federation exposes the cross-agency data catalog: dataset
// descriptors shared by partner statistics offices, plus the registry of the
// partner nodes themselves.
package federation

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

// Variable describes one column of a federated dataset.
type Variable struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Dataset is a catalog entry loaded from a YAML descriptor.
type Dataset struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Agency        string     `json:"agency,omitempty"`
	Theme         string     `json:"theme,omitempty"`
	UpdateCadence string     `json:"updateCadence,omitempty"`
	Endpoint      string     `json:"endpoint,omitempty"`
	License       string     `json:"license,omitempty"`
	Variables     []Variable `json:"variables,omitempty"`
}

// DatasetSummary is the list representation.
type DatasetSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Agency string `json:"agency,omitempty"`
	Theme  string `json:"theme,omitempty"`
}

// Catalog manages dataset descriptors from a directory of YAML files.
type Catalog struct {
	root   string
	schema *gojsonschema.Schema

	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewCatalog creates a catalog rooted at dir. When schemaPath is non-empty,
// every descriptor must validate against the JSON schema.
func NewCatalog(root, schemaPath string) (*Catalog, error) {
	c := &Catalog{
		root:     root,
		datasets: make(map[string]*Dataset),
	}
	if schemaPath != "" {
		raw, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("read catalog schema: %w", err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile catalog schema: %w", err)
		}
		c.schema = schema
	}
	return c, nil
}

// Load reads all descriptors from disk. Invalid files are logged and
// skipped; the rest of the catalog still loads.
func (c *Catalog) Load() error {
	if _, err := os.Stat(c.root); os.IsNotExist(err) {
		log.Printf("Federation catalog directory does not exist: %s", c.root)
		return nil
	}

	files, err := filepath.Glob(filepath.Join(c.root, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to glob catalog files: %w", err)
	}
	more, err := filepath.Glob(filepath.Join(c.root, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to glob catalog files: %w", err)
	}
	files = append(files, more...)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, file := range files {
		if err := c.loadFile(file); err != nil {
			log.Printf("Failed to load catalog descriptor %s: %v", file, err)
		}
	}
	return nil
}

func (c *Catalog) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to convert YAML: %w", err)
	}

	if c.schema != nil {
		result, err := c.schema.Validate(gojsonschema.NewBytesLoader(jsonData))
		if err != nil {
			return fmt.Errorf("schema validation errored: %w", err)
		}
		if !result.Valid() {
			return fmt.Errorf("descriptor violates schema: %v", result.Errors())
		}
	}

	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}
	if ds.ID == "" {
		return fmt.Errorf("descriptor missing 'id' field")
	}
	c.datasets[ds.ID] = &ds
	return nil
}

// List returns summaries of all datasets.
func (c *Catalog) List() []DatasetSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]DatasetSummary, 0, len(c.datasets))
	for _, ds := range c.datasets {
		out = append(out, DatasetSummary{
			ID:     ds.ID,
			Title:  ds.Title,
			Agency: ds.Agency,
			Theme:  ds.Theme,
		})
	}
	return out
}

// Get returns a dataset by id, or nil.
func (c *Catalog) Get(id string) *Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.datasets[id]
}

// Reload clears the catalog and reloads from disk.
func (c *Catalog) Reload() error {
	c.mu.Lock()
	c.datasets = make(map[string]*Dataset)
	c.mu.Unlock()
	return c.Load()
}

// Watch reloads the catalog from disk at the given interval until ctx is
// cancelled. Reload failures are logged and the previous catalog is kept.
func (c *Catalog) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Reload(); err != nil {
				log.Printf("Federation catalog refresh failed: %v", err)
			}
		}
	}
}

// Count returns the number of loaded datasets.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.datasets)
}
