// Package export renders tabular analysis results as CSV or JSON artifacts.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// Format selects the artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Table is a rectangular result set produced by the compute backend or a
// transform run.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Validate checks that every row matches the header width.
func (t *Table) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d fields, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Write encodes the table in the requested format.
func Write(w io.Writer, t *Table, format Format) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// WriteCSV writes the table as RFC 4180 CSV with a header row. Fields
// containing commas, quotes, or newlines are quoted so values round-trip.
func WriteCSV(w io.Writer, t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a CSV document written by WriteCSV back into a table.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv document has no header row")
	}
	return &Table{Columns: records[0], Rows: records[1:]}, nil
}

// WriteJSON writes the table as an array of column-keyed objects.
func WriteJSON(w io.Writer, t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			obj[col] = row[i]
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
