// CLAUDE:SUMMARY Column-addressable, row-indexed table of string cells where a missing or empty cell is null.
package table

import (
	"slices"
)

// Row maps a column name to a cell value. A missing key or an empty string is null.
type Row map[string]string

// Get returns the cell value and whether it is non-null.
func (r Row) Get(col string) (string, bool) {
	v, ok := r[col]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Value returns the cell value, or "" when null.
func (r Row) Value(col string) string {
	return r[col]
}

// Set stores v in col. An empty v nulls the cell.
func (r Row) Set(col, v string) {
	if v == "" {
		delete(r, col)
		return
	}
	r[col] = v
}

// Table is the caller's tabular structure: ordered columns and rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: slices.Clone(columns)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// HasColumn reports whether col is declared.
func (t *Table) HasColumn(col string) bool {
	return col != "" && slices.Contains(t.Columns, col)
}

// AddColumn declares col if it is not already present.
func (t *Table) AddColumn(col string) {
	if !t.HasColumn(col) {
		t.Columns = append(t.Columns, col)
	}
}

// DropColumn removes col from the header and from every row.
func (t *Table) DropColumn(col string) {
	t.Columns = slices.DeleteFunc(t.Columns, func(c string) bool { return c == col })
	for _, r := range t.Rows {
		delete(r, col)
	}
}

// Append adds a row built from values in column order.
func (t *Table) Append(values ...string) {
	r := make(Row, len(values))
	for i, v := range values {
		if i < len(t.Columns) {
			r.Set(t.Columns[i], v)
		}
	}
	t.Rows = append(t.Rows, r)
}

// Clone returns a deep copy, so callers can augment it without touching the input.
func (t *Table) Clone() *Table {
	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		c := make(Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out.Rows[i] = c
	}
	return out
}

// Distinct returns the distinct non-null values of col in first-seen order.
func (t *Table) Distinct(col string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Rows {
		v, ok := r.Get(col)
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NullCount returns how many rows have a null col.
func (t *Table) NullCount(col string) int {
	n := 0
	for _, r := range t.Rows {
		if _, ok := r.Get(col); !ok {
			n++
		}
	}
	return n
}
