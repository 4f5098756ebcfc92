package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
)

// CSVWriter writes a dataset header and rows as CSV.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter creates a CSVWriter on out.
func NewCSVWriter(out io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(out)}
}

// Header returns the column names of a dataset: independents then
// dependents.
func Header(independents, dependents []string) []string {
	h := make([]string, 0, len(independents)+len(dependents))
	h = append(h, independents...)
	return append(h, dependents...)
}

// WriteHeader writes the column names.
func (c *CSVWriter) WriteHeader(independents, dependents []string) error {
	return c.w.Write(Header(independents, dependents))
}

// WriteRows writes rows using the shortest representation that round-trips.
func (c *CSVWriter) WriteRows(rows [][]float64) error {
	for _, r := range rows {
		rec := make([]string, len(r))
		for i, v := range r {
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := c.w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// WriteRecord writes a whole dataset record: header then rows.
func WriteRecord(out io.Writer, r Record) error {
	c := NewCSVWriter(out)
	if err := c.WriteHeader(r.Independents, r.Dependents); err != nil {
		return err
	}
	if err := c.WriteRows(r.Rows); err != nil {
		return err
	}
	return c.Flush()
}
