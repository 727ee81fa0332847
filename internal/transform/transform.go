// Package transform validates and executes export-transform specifications:
// column selection, renaming, and row filters applied to a result table
// before it is rendered as an export artifact.
package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/statforge/statstream/internal/export"
	"github.com/xeipuuv/gojsonschema"
)

// Filter is one row predicate. Rows failing any filter are dropped.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  string `json:"value"`
}

// Filter operators.
const (
	OpEquals    = "eq"
	OpNotEquals = "ne"
	OpContains  = "contains"
)

// Spec describes a transformation of a dataset into an export artifact.
type Spec struct {
	DatasetID string            `json:"datasetId"`
	Select    []string          `json:"select,omitempty"`
	Rename    map[string]string `json:"rename,omitempty"`
	Filters   []Filter          `json:"filters,omitempty"`
	Format    export.Format     `json:"format,omitempty"`
}

// defaultSchema guards the wire shape of incoming specs.
const defaultSchema = `{
	"type": "object",
	"required": ["datasetId"],
	"properties": {
		"datasetId": {"type": "string", "minLength": 1},
		"select": {"type": "array", "items": {"type": "string"}},
		"rename": {"type": "object", "additionalProperties": {"type": "string"}},
		"filters": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["column", "op"],
				"properties": {
					"column": {"type": "string", "minLength": 1},
					"op": {"enum": ["eq", "ne", "contains"]},
					"value": {"type": "string"}
				}
			}
		},
		"format": {"enum": ["csv", "json"]}
	},
	"additionalProperties": false
}`

// Validator checks raw spec documents against the JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the schema at path, or the built-in schema when path
// is empty.
func NewValidator(path string) (*Validator, error) {
	raw := []byte(defaultSchema)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read transform schema: %w", err)
		}
		raw = data
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile transform schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Parse validates raw JSON and decodes it into a Spec. Schema violations are
// returned as field->message maps suitable for a 422 response.
func (v *Validator) Parse(raw []byte) (*Spec, map[string]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("spec is not valid JSON: %w", err)
	}
	if !result.Valid() {
		fields := make(map[string]string, len(result.Errors()))
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" {
				field = "_"
			}
			fields[field] = desc.Description()
		}
		return nil, fields, nil
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, nil, err
	}
	if spec.Format == "" {
		spec.Format = export.FormatCSV
	}
	return &spec, nil, nil
}

// Apply runs the spec against a table and returns the transformed copy. The
// input table is not modified.
func (s *Spec) Apply(t *export.Table) (*export.Table, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	colIndex := make(map[string]int, len(t.Columns))
	for i, col := range t.Columns {
		colIndex[col] = i
	}

	selected := s.Select
	if len(selected) == 0 {
		selected = t.Columns
	}
	indices := make([]int, 0, len(selected))
	outCols := make([]string, 0, len(selected))
	for _, col := range selected {
		idx, ok := colIndex[col]
		if !ok {
			return nil, fmt.Errorf("unknown column %q", col)
		}
		indices = append(indices, idx)
		name := col
		if renamed, ok := s.Rename[col]; ok && renamed != "" {
			name = renamed
		}
		outCols = append(outCols, name)
	}

	for _, f := range s.Filters {
		if _, ok := colIndex[f.Column]; !ok {
			return nil, fmt.Errorf("filter references unknown column %q", f.Column)
		}
	}

	out := &export.Table{Columns: outCols}
	for _, row := range t.Rows {
		keep := true
		for _, f := range s.Filters {
			if !f.match(row[colIndex[f.Column]]) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		projected := make([]string, len(indices))
		for i, idx := range indices {
			projected[i] = row[idx]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

func (f Filter) match(value string) bool {
	switch f.Op {
	case OpEquals:
		return value == f.Value
	case OpNotEquals:
		return value != f.Value
	case OpContains:
		return strings.Contains(value, f.Value)
	default:
		return false
	}
}
