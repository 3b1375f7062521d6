package tabular

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
)

// xlsxSource streams one worksheet of an XLSX workbook row by row, so
// large workbooks never sit fully in memory.
type xlsxSource struct {
	path        string
	sheet       string
	filterField string
}

func (s *xlsxSource) Open(ctx context.Context) (Cursor, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("failed to open %s", s.path), err)
	}

	sheet := s.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			_ = f.Close()
			return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("%s contains no sheets", s.path), nil)
		}
		sheet = sheets[0]
	} else {
		idx, err := f.GetSheetIndex(sheet)
		if err != nil || idx < 0 {
			_ = f.Close()
			return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("sheet %q not found in %s", sheet, s.path), err)
		}
	}

	iter, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("failed to read sheet %q of %s", sheet, s.path), err)
	}

	cursor := &xlsxCursor{file: f, rows: iter}
	if !iter.Next() {
		// No header row: an empty table.
		cursor.done = true
		return cursor, nil
	}
	header, err := iter.Columns()
	if err != nil {
		_ = cursor.Close()
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("failed to read header of sheet %q", sheet), err)
	}
	cursor.header = header
	cursor.filterIdx = fieldIndex(header, s.filterField)
	return cursor, nil
}

type xlsxCursor struct {
	file      *excelize.File
	rows      *excelize.Rows
	header    []string
	filterIdx int
	done      bool
}

func (c *xlsxCursor) Next(ctx context.Context) (record.Record, error) {
	for {
		if c.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !c.rows.Next() {
			c.done = true
			return nil, io.EOF
		}
		row, err := c.rows.Columns()
		if err != nil {
			return nil, sdkerrors.NewSourceReadError("failed to read xlsx row", err)
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

func (c *xlsxCursor) Close() error {
	rowsErr := c.rows.Close()
	fileErr := c.file.Close()
	if rowsErr != nil {
		return rowsErr
	}
	return fileErr
}

// SheetNames lists the worksheets of an XLSX workbook, for callers that
// let a user pick a sheet before a run.
func SheetNames(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, sdkerrors.NewSourceReadError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer func() {
		_ = f.Close()
	}()
	return f.GetSheetList(), nil
}

// xlsxWriter writes rows through excelize's stream writer and saves the
// workbook on Close.
type xlsxWriter struct {
	path    string
	file    *excelize.File
	stream  *excelize.StreamWriter
	columns []string
	nextRow int
}

func newXLSXWriter(path string) (Writer, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create stream writer: %w", err)
	}
	return &xlsxWriter{path: path, file: f, stream: sw, nextRow: 1}, nil
}

func (w *xlsxWriter) WriteHeader(columns []string) error {
	w.columns = append([]string(nil), columns...)
	return w.writeCells(columnsToCells(columns))
}

func (w *xlsxWriter) WriteRow(rec record.Record) error {
	cells := make([]interface{}, len(w.columns))
	for i, col := range w.columns {
		cells[i] = rec.Get(col)
	}
	return w.writeCells(cells)
}

func (w *xlsxWriter) writeCells(cells []interface{}) error {
	anchor, err := excelize.CoordinatesToCellName(1, w.nextRow)
	if err != nil {
		return err
	}
	if err := w.stream.SetRow(anchor, cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.nextRow, err)
	}
	w.nextRow++
	return nil
}

func (w *xlsxWriter) Close() error {
	if err := w.stream.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to flush workbook: %w", err)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to save %s: %w", w.path, err)
	}
	return w.file.Close()
}

func columnsToCells(columns []string) []interface{} {
	cells := make([]interface{}, len(columns))
	for i, col := range columns {
		cells[i] = col
	}
	return cells
}
