package jobs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/statforge/statstream/internal/store"
	"github.com/statforge/statstream/internal/transform"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestIngestRunnerCountsRowsAndVariables(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "census.csv"), "region,population\nnorth,120\nsouth,340\n")

	r := &IngestRunner{Root: root}
	result, err := r.Run(context.Background(), &store.Job{
		ID:      "j-1",
		Type:    "dataset_upload",
		Payload: map[string]interface{}{"file": "census.csv"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result["rows"] != 2 || result["columns"] != 2 {
		t.Fatalf("result = %+v", result)
	}
}

func TestIngestRunnerRejectsPathEscape(t *testing.T) {
	t.Parallel()

	r := &IngestRunner{Root: t.TempDir()}
	_, err := r.Run(context.Background(), &store.Job{
		ID:      "j-2",
		Payload: map[string]interface{}{"file": "../../etc/passwd"},
	})
	if err == nil {
		t.Fatal("expected error for path escape")
	}
}

func TestTransformRunnerWritesArtifact(t *testing.T) {
	t.Parallel()

	datasets := t.TempDir()
	exports := t.TempDir()
	writeFile(t, filepath.Join(datasets, "ds-1.csv"),
		"region,population,year\nnorth,120,2024\nsouth,340,2024\nnorth,98,2023\n")

	v, err := transform.NewValidator("")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	r := &TransformRunner{Validator: v, DatasetRoot: datasets, ExportRoot: exports}

	result, err := r.Run(context.Background(), &store.Job{
		ID:   "j-3",
		Type: "export_transform",
		Payload: map[string]interface{}{
			"spec": map[string]interface{}{
				"datasetId": "ds-1",
				"select":    []interface{}{"region", "population"},
				"rename":    map[string]interface{}{"population": "pop"},
				"filters": []interface{}{
					map[string]interface{}{"column": "region", "op": "eq", "value": "north"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result["rows"] != 2 {
		t.Fatalf("result = %+v", result)
	}

	artifact, _ := result["artifact"].(string)
	data, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("ReadFile artifact: %v", err)
	}
	got := strings.TrimSpace(string(data))
	want := "region,pop\nnorth,120\nnorth,98"
	if got != want {
		t.Fatalf("artifact = %q, want %q", got, want)
	}
}

func TestTransformRunnerRejectsDatasetEscape(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	datasets := filepath.Join(base, "datasets")
	if err := os.MkdirAll(datasets, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, filepath.Join(base, "secret.csv"), "user,password\nroot,hunter2\n")

	v, err := transform.NewValidator("")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	r := &TransformRunner{Validator: v, DatasetRoot: datasets, ExportRoot: t.TempDir()}

	_, err = r.Run(context.Background(), &store.Job{
		ID:   "j-escape",
		Type: "export_transform",
		Payload: map[string]interface{}{
			"spec": map[string]interface{}{"datasetId": "../secret"},
		},
	})
	if err == nil {
		t.Fatal("expected error for datasetId escaping the dataset root")
	}
	if !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("expected escape rejection, got: %v", err)
	}
}

func TestTransformRunnerRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	v, err := transform.NewValidator("")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	r := &TransformRunner{Validator: v, DatasetRoot: t.TempDir(), ExportRoot: t.TempDir()}

	_, err = r.Run(context.Background(), &store.Job{
		ID:      "j-4",
		Payload: map[string]interface{}{"spec": map[string]interface{}{"select": []interface{}{"a"}}},
	})
	if err == nil {
		t.Fatal("expected error for spec without datasetId")
	}
}
