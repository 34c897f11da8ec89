package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ReadCSV parses a headed CSV stream. Cells are trimmed; empty cells are null.
func ReadCSV(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	t := New(header...)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", t.Len()+1, err)
		}
		row := make(Row, len(rec))
		for i, v := range rec {
			if i < len(header) {
				row.Set(header[i], strings.TrimSpace(v))
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes the table with a header line. Null cells are written empty.
func WriteCSV(w io.Writer, t *Table, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			rec[i] = r.Value(c)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
