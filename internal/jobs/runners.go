package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/statforge/statstream/internal/export"
	"github.com/statforge/statstream/internal/metrics"
	"github.com/statforge/statstream/internal/store"
	"github.com/statforge/statstream/internal/transform"
)

// IngestRunner validates an uploaded dataset file and records its shape.
type IngestRunner struct {
	Root string
}

// Run parses the uploaded CSV named in the payload and returns row and
// variable counts.
func (r *IngestRunner) Run(ctx context.Context, job *store.Job) (map[string]interface{}, error) {
	name, _ := job.Payload["file"].(string)
	if name == "" {
		return nil, fmt.Errorf("upload job is missing the file name")
	}
	path, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open uploaded dataset: %w", err)
	}
	defer f.Close()

	table, err := export.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("uploaded file is not valid CSV: %w", err)
	}
	if info, err := f.Stat(); err == nil {
		metrics.AddUploadBytes(info.Size())
	}
	return map[string]interface{}{
		"file":      name,
		"rows":      len(table.Rows),
		"columns":   len(table.Columns),
		"variables": table.Columns,
	}, nil
}

// resolve joins name with the dataset root and rejects path escapes.
func (r *IngestRunner) resolve(name string) (string, error) {
	return resolveUnder(r.Root, name)
}

// resolveUnder joins name with root and rejects any result outside root.
func resolveUnder(root, name string) (string, error) {
	path := filepath.Join(root, name)
	if !strings.HasPrefix(path, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("dataset name %q escapes the dataset root", name)
	}
	return path, nil
}

// TransformRunner executes export-transform jobs locally: it loads the
// source dataset, applies the validated spec, and writes the artifact.
type TransformRunner struct {
	Validator   *transform.Validator
	DatasetRoot string
	ExportRoot  string
}

// Run applies the transform spec carried in the job payload.
func (r *TransformRunner) Run(ctx context.Context, job *store.Job) (map[string]interface{}, error) {
	rawSpec, ok := job.Payload["spec"]
	if !ok {
		return nil, fmt.Errorf("transform job is missing the spec")
	}
	raw, err := json.Marshal(rawSpec)
	if err != nil {
		return nil, err
	}
	spec, fields, err := r.Validator.Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return nil, fmt.Errorf("transform spec is invalid: %v", fields)
	}

	srcPath, err := resolveUnder(r.DatasetRoot, spec.DatasetID+".csv")
	if err != nil {
		return nil, err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", spec.DatasetID, err)
	}
	defer src.Close()
	table, err := export.ReadCSV(src)
	if err != nil {
		return nil, err
	}

	out, err := spec.Apply(table)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.ExportRoot, 0o755); err != nil {
		return nil, err
	}
	artifact := filepath.Join(r.ExportRoot, fmt.Sprintf("%s.%s", job.ID, spec.Format))
	f, err := os.Create(artifact)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := export.Write(f, out, spec.Format); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"artifact": artifact,
		"format":   string(spec.Format),
		"rows":     len(out.Rows),
		"columns":  len(out.Columns),
	}, nil
}
