package tabular

import (
	"context"
	"io"

	"github.com/wehubfusion/Arachne/pkg/record"
)

// MemorySource serves an in-memory Table, mainly for tests and embedders
// that already hold their rows.
type MemorySource struct {
	table       *record.Table
	filterField string
}

// NewMemorySource wraps a Table. filterField follows the same rule as the
// file sources: empty or unknown disables filtering.
func NewMemorySource(table *record.Table, filterField string) *MemorySource {
	return &MemorySource{table: table, filterField: filterField}
}

func (s *MemorySource) Open(ctx context.Context) (Cursor, error) {
	filter := s.filterField
	if filter != "" && !s.table.HasColumn(filter) {
		filter = ""
	}
	return &memoryCursor{table: s.table, filter: filter}, nil
}

type memoryCursor struct {
	table  *record.Table
	filter string
	pos    int
}

func (c *memoryCursor) Next(ctx context.Context) (record.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.pos >= c.table.Len() {
			return nil, io.EOF
		}
		rec := c.table.Rows[c.pos]
		c.pos++

		if c.filter != "" && !qualifies(rec.Get(c.filter)) {
			continue
		}
		return rec.Clone(), nil
	}
}

func (c *memoryCursor) Close() error { return nil }

// MemoryWriter collects written rows in memory; the in-memory counterpart
// of the file writers, used by tests and small embedders.
type MemoryWriter struct {
	Columns []string
	Records []record.Record
}

// NewMemoryWriter returns an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

func (w *MemoryWriter) WriteHeader(columns []string) error {
	w.Columns = append([]string(nil), columns...)
	return nil
}

func (w *MemoryWriter) WriteRow(rec record.Record) error {
	w.Records = append(w.Records, rec.Clone())
	return nil
}

func (w *MemoryWriter) Close() error { return nil }
