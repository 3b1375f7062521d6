package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
)

// csvSource streams a CSV file. Spreadsheet exports are frequently not
// UTF-8 (GB-encoded Excel dumps in particular), so the source optionally
// decodes through x/text.
type csvSource struct {
	path        string
	filterField string
	encoding    string
}

func (s *csvSource) Open(ctx context.Context) (Cursor, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("failed to open %s", s.path), err)
	}

	decoder, err := decoderFor(s.encoding)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	var r io.Reader = f
	if decoder != nil {
		r = transform.NewReader(f, decoder)
	}

	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		// Empty file: an empty table, not an error.
		return &csvCursor{file: f, reader: cr, done: true}, nil
	}
	if err != nil {
		_ = f.Close()
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("failed to read header of %s", s.path), err)
	}

	return &csvCursor{
		file:      f,
		reader:    cr,
		header:    header,
		filterIdx: fieldIndex(header, s.filterField),
	}, nil
}

type csvCursor struct {
	file      *os.File
	reader    *csv.Reader
	header    []string
	filterIdx int
	done      bool
}

func (c *csvCursor) Next(ctx context.Context) (record.Record, error) {
	for {
		if c.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := c.reader.Read()
		if err == io.EOF {
			c.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, sdkerrors.NewSourceReadError("failed to read csv row", err)
		}

		if c.filterIdx >= 0 && (c.filterIdx >= len(row) || !qualifies(row[c.filterIdx])) {
			continue
		}

		rec := record.New()
		for i, col := range c.header {
			if i < len(row) {
				rec.Set(col, row[i])
			} else {
				rec.Set(col, "")
			}
		}
		return rec, nil
	}
}

func (c *csvCursor) Close() error {
	return c.file.Close()
}

// decoderFor maps an encoding name to its x/text decoder; nil means the
// input is already UTF-8.
func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "gb18030", "gbk":
		return simplifiedchinese.GB18030.NewDecoder(), nil
	case "latin-1", "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("unsupported encoding %q", name), nil)
	}
}

// csvWriter writes rows as UTF-8 CSV.
type csvWriter struct {
	file    *os.File
	writer  *csv.Writer
	columns []string
}

func newCSVWriter(path string) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &csvWriter{file: f, writer: csv.NewWriter(f)}, nil
}

func (w *csvWriter) WriteHeader(columns []string) error {
	w.columns = append([]string(nil), columns...)
	return w.writer.Write(columns)
}

func (w *csvWriter) WriteRow(rec record.Record) error {
	row := make([]string, len(w.columns))
	for i, col := range w.columns {
		row[i] = rec.Get(col)
	}
	return w.writer.Write(row)
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	flushErr := w.writer.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
