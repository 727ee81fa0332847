package federation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const descriptorSchema = `{
	"type": "object",
	"required": ["id", "title"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"title": {"type": "string", "minLength": 1},
		"variables": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"]
			}
		}
	}
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCatalogLoadsValidDescriptors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(schemaPath, []byte(descriptorSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(dir, "catalog")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "census.yaml", `
id: census-2024
title: Population Census 2024
agency: Central Bureau of Statistics
theme: demographics
variables:
  - name: region
    type: categorical
  - name: population
    type: numeric
`)
	writeFile(t, root, "labour.yml", `
id: labour-force
title: Labour Force Survey
theme: employment
`)

	cat, err := NewCatalog(root, schemaPath)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 2 {
		t.Fatalf("expected 2 datasets, got %d", cat.Count())
	}
	ds := cat.Get("census-2024")
	if ds == nil || len(ds.Variables) != 2 || ds.Variables[1].Name != "population" {
		t.Fatalf("census descriptor not loaded: %+v", ds)
	}
	if cat.Get("missing") != nil {
		t.Fatal("expected nil for unknown id")
	}
}

func TestCatalogSkipsInvalidDescriptors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(schemaPath, []byte(descriptorSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(dir, "catalog")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "good.yaml", "id: good\ntitle: Good Dataset\n")
	writeFile(t, root, "no-title.yaml", "id: bad\n")
	writeFile(t, root, "no-id.yaml", "title: Anonymous\n")
	writeFile(t, root, "garbage.yaml", ":\t{{ not yaml")

	cat, err := NewCatalog(root, schemaPath)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 1 {
		t.Fatalf("expected only the valid descriptor, got %d", cat.Count())
	}
	if cat.Get("good") == nil {
		t.Fatal("valid descriptor missing")
	}
}

func TestCatalogServesNothingUntilLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "census.yaml", "id: census-2024\ntitle: Population Census 2024\n")

	cat, err := NewCatalog(root, "")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if cat.Count() != 0 {
		t.Fatalf("catalog read disk before Load: %d", cat.Count())
	}
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 1 {
		t.Fatalf("descriptor on disk not served after Load: %d", cat.Count())
	}
}

func TestCatalogWatchPicksUpNewDescriptors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cat, err := NewCatalog(root, "")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cat.Watch(ctx, 10*time.Millisecond)

	writeFile(t, root, "late.yaml", "id: late\ntitle: Late Arrival\n")

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for cat.Count() != 1 {
		select {
		case <-deadline:
			t.Fatalf("watch never picked up the new descriptor: %d", cat.Count())
		case <-ticker.C:
		}
	}
}

func TestCatalogReload(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "one.yaml", "id: one\ntitle: One\n")

	cat, err := NewCatalog(root, "")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	writeFile(t, root, "two.yaml", "id: two\ntitle: Two\n")
	if err := cat.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cat.Count() != 2 {
		t.Fatalf("reload missed new descriptor: %d", cat.Count())
	}
}
