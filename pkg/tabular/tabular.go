// Package tabular abstracts tabular row sources and sinks for the
// enrichment engine. The engine depends only on the Source, Cursor, and
// Writer interfaces; this package also ships the concrete codecs (CSV,
// XLSX, in-memory) so runs work end to end.
//
// Sources apply the qualifying-row filter: when a filter field is named and
// present in the header, rows whose value is blank after trimming are
// skipped silently. Cursors are lazy; opening a Source twice yields two
// independent passes over the data.
package tabular

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wehubfusion/Arachne/pkg/record"
)

// Source produces cursors over the qualifying records of one table.
type Source interface {
	// Open returns a fresh cursor positioned before the first qualifying
	// record. Each call restarts from the beginning.
	Open(ctx context.Context) (Cursor, error)
}

// Cursor streams qualifying records. Next returns io.EOF after the last
// record. Cursors are not safe for concurrent use.
type Cursor interface {
	Next(ctx context.Context) (record.Record, error)
	Close() error
}

// Writer persists rows under a fixed column order. WriteHeader must be
// called exactly once before the first WriteRow; row values are pulled
// from each record by column name, missing fields write as empty cells.
type Writer interface {
	WriteHeader(columns []string) error
	WriteRow(rec record.Record) error
	Close() error
}

// SourceOption customizes a file source.
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	encoding string
}

// WithEncoding sets the character encoding of a CSV source: "utf-8"
// (default), "gb18030", or "latin-1". XLSX sources ignore it.
func WithEncoding(name string) SourceOption {
	return func(o *sourceOptions) { o.encoding = name }
}

// NewSource opens a file-backed source, choosing the codec by extension.
// sheet selects the worksheet of an XLSX file (empty means the first);
// filterField names the qualifying-row filter column (empty disables it).
func NewSource(path, sheet, filterField string, opts ...SourceOption) (Source, error) {
	var o sourceOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &csvSource{path: path, filterField: filterField, encoding: o.encoding}, nil
	case ".xlsx", ".xlsm":
		return &xlsxSource{path: path, sheet: sheet, filterField: filterField}, nil
	default:
		return nil, fmt.Errorf("unsupported source format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// NewWriter creates a file-backed writer, choosing the codec by extension
// and creating the destination's parent directory if absent.
func NewWriter(path string) (Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return newCSVWriter(path)
	case ".xlsx":
		return newXLSXWriter(path)
	default:
		return nil, fmt.Errorf("unsupported output format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// qualifies implements the filter rule: blank after trimming disqualifies.
func qualifies(value string) bool {
	return strings.TrimSpace(value) != ""
}

// fieldIndex returns the header position of field, or -1 when field is
// empty or absent (which disables filtering).
func fieldIndex(header []string, field string) int {
	if field == "" {
		return -1
	}
	for i, h := range header {
		if h == field {
			return i
		}
	}
	return -1
}
