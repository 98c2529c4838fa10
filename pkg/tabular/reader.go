// Package tabular projects header-labelled grids into records keyed by
// logical field names. Columns are located by header name, never by position.
package tabular

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrSchemaMismatch is returned when a required field has none of its
// aliases present in the header row.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Grid is a 2-D block of cells. Row 0 is the header.
type Grid [][]string

// Header returns the header row, or nil for an empty grid.
func (g Grid) Header() []string {
	if len(g) == 0 {
		return nil
	}
	return g[0]
}

// Field declares a logical field and the header names that may carry it.
// Aliases are tried in order; the first one present wins.
type Field struct {
	Name     string
	Aliases  []string
	Required bool
}

// Schema is an ordered set of fields.
type Schema []Field

// Lookup returns the field with the given logical name.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Record maps logical field names to cell values.
type Record map[string]string

// Get returns the value for a field, "" when absent.
func (r Record) Get(field string) string {
	return r[field]
}

// Blank reports whether the field is empty after trimming.
func (r Record) Blank(field string) bool {
	return strings.TrimSpace(r[field]) == ""
}

// Layout is a schema resolved against one header row. It is valid only for
// the grid it was resolved from.
type Layout struct {
	schema  Schema
	columns map[string]int
	width   int
}

// Resolve locates every field of the schema in the header. Optional fields
// with no matching alias resolve to "no column"; a missing required field
// fails the whole layout with ErrSchemaMismatch.
func Resolve(header []string, schema Schema) (*Layout, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, seen := positions[name]; !seen {
			positions[name] = i
		}
	}

	layout := &Layout{
		schema:  schema,
		columns: make(map[string]int, len(schema)),
		width:   len(header),
	}

	var missing []string
	for _, f := range schema {
		idx := -1
		for _, alias := range f.Aliases {
			if i, ok := positions[alias]; ok {
				idx = i
				break
			}
		}
		if idx < 0 {
			if f.Required {
				missing = append(missing, f.Name)
			}
			continue
		}
		layout.columns[f.Name] = idx
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns for %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return layout, nil
}

// Column returns the resolved column index for a field.
func (l *Layout) Column(field string) (int, bool) {
	idx, ok := l.columns[field]
	return idx, ok
}

// Width is the number of header cells the layout was resolved from.
func (l *Layout) Width() int {
	return l.width
}

// Project reads every schema field out of a row. Absent columns and short
// rows yield "".
func (l *Layout) Project(row []string) Record {
	rec := make(Record, len(l.schema))
	for _, f := range l.schema {
		rec[f.Name] = ""
		idx, ok := l.columns[f.Name]
		if !ok || idx >= len(row) {
			continue
		}
		rec[f.Name] = row[idx]
	}
	return rec
}

// Compose builds a row as wide as the header with each value placed at its
// field's column. Fields without a column are skipped.
func (l *Layout) Compose(values Record) []string {
	row := make([]string, l.width)
	for name, v := range values {
		if idx, ok := l.columns[name]; ok {
			row[idx] = v
		}
	}
	return row
}

// Row is a projected record plus its index in the grid (header is 0).
type Row struct {
	Index  int
	Record Record
}

type scanOptions struct {
	nonBlank []string
}

// ScanOption tunes a scan.
type ScanOption func(*scanOptions)

// RequireNonBlank drops rows where any of the given fields is blank. This is
// row filtering, not a schema check.
func RequireNonBlank(fields ...string) ScanOption {
	return func(o *scanOptions) {
		o.nonBlank = append(o.nonBlank, fields...)
	}
}

// Scan resolves the schema against the grid header and returns a lazy
// sequence over the data rows. The sequence can be ranged over any number
// of times; each pass re-reads the same grid.
func Scan(grid Grid, schema Schema, opts ...ScanOption) (iter.Seq[Row], *Layout, error) {
	var o scanOptions
	for _, opt := range opts {
		opt(&o)
	}

	layout, err := Resolve(grid.Header(), schema)
	if err != nil {
		return nil, nil, err
	}

	seq := func(yield func(Row) bool) {
		for i := 1; i < len(grid); i++ {
			rec := layout.Project(grid[i])
			if dropped(rec, o.nonBlank) {
				continue
			}
			if !yield(Row{Index: i, Record: rec}) {
				return
			}
		}
	}
	return seq, layout, nil
}

// Collect drains a scan into a slice.
func Collect(grid Grid, schema Schema, opts ...ScanOption) ([]Row, error) {
	seq, _, err := Scan(grid, schema, opts...)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for r := range seq {
		rows = append(rows, r)
	}
	return rows, nil
}

func dropped(rec Record, nonBlank []string) bool {
	for _, f := range nonBlank {
		if rec.Blank(f) {
			return true
		}
	}
	return false
}
