// Package record defines the tabular data model shared by sources, the
// enrichment engine, staging stores, and sinks. A Record is one row as a
// field-to-value mapping; a Table is an ordered sequence of Records sharing
// one column list.
package record

import "sort"

// Record represents one row of a tabular dataset as a mapping from field
// name to string value. Numeric and empty cells are carried as their string
// rendering; a field absent from the map reads as the empty string.
//
// Records marshal to flat JSON objects, which is the staging wire format.
type Record map[string]string

// New returns an empty Record.
func New() Record {
	return make(Record)
}

// Get returns the value of the named field, or the empty string when the
// field is absent.
func (r Record) Get(field string) string {
	if r == nil {
		return ""
	}
	return r[field]
}

// Set stores a value under the named field and returns the Record for
// chaining.
func (r Record) Set(field, value string) Record {
	r[field] = value
	return r
}

// Has reports whether the named field is present, even if empty.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Clone returns an independent copy of the Record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Fields returns the field names of the Record in lexicographic order.
// Record iteration order is otherwise undefined, so callers that need a
// stable column view should use this.
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r))
	for k := range r {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Table is an ordered sequence of Records sharing one schema. Columns holds
// the header in source order; Rows may carry fields outside Columns (for
// example enrichment output), which sinks are free to drop.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// NewTable builds a Table from a header and rows. The rows are kept by
// reference; callers hand over ownership.
func NewTable(columns []string, rows ...Record) *Table {
	return &Table{Columns: columns, Rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds rows to the end of the table.
func (t *Table) Append(rows ...Record) {
	t.Rows = append(t.Rows, rows...)
}

// HasColumn reports whether the header contains the named column.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}
