// Package fetcher reads uploaded tabular files (CSV and XLSX) as a header
// row followed by data rows.
package fetcher

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format is a supported file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrEmptyFile is returned when a file has no header row.
var ErrEmptyFile = eris.New("fetcher: file has no header row")

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("fetcher: unsupported file type %q", filepath.Ext(path))
	}
}

// RowReader yields the rows of a file. Rows are padded or cut to the header
// width.
type RowReader struct {
	header []string
	next   func() ([]string, error)
	close  func() error
}

// Header returns the header row.
func (r *RowReader) Header() []string { return r.header }

// Next returns the next row, or io.EOF after the last one.
func (r *RowReader) Next() ([]string, error) {
	row, err := r.next()
	if err != nil {
		return nil, err
	}
	return fit(row, len(r.header)), nil
}

// Close releases the file.
func (r *RowReader) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// Open opens path for reading. The caller must Close the reader.
func Open(ctx context.Context, path string) (*RowReader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return openXLSX(path)
	default:
		return openCSV(ctx, path)
	}
}

// Sample is the head of a file plus its total row count.
type Sample struct {
	Header    []string
	Rows      [][]string
	TotalRows int
}

// ReadSample reads the header, the first limit rows and counts the rest.
// A limit of 0 keeps every row.
func ReadSample(ctx context.Context, path string, limit int) (*Sample, error) {
	rr, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rr.Close() //nolint:errcheck

	s := &Sample{Header: rr.Header()}
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "fetcher: read sample")
		}
		row, err := rr.Next()
		if err == io.EOF {
			return s, nil
		}
		if err != nil {
			return nil, err
		}
		s.TotalRows++
		if limit <= 0 || len(s.Rows) < limit {
			s.Rows = append(s.Rows, row)
		}
	}
}

// Column returns the values of column i across rows.
func (s *Sample) Column(i int) []string {
	out := make([]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		if i < len(row) {
			out = append(out, row[i])
		}
	}
	return out
}

func fit(row []string, width int) []string {
	if width <= 0 || len(row) == width {
		return row
	}
	if len(row) > width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
