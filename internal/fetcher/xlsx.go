package fetcher

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// openXLSX reads the first sheet that has any content. Leading blank rows
// are skipped so the header is the first non-blank row; blank rows after
// it are dropped.
func openXLSX(path string) (*RowReader, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open xlsx")
	}
	sheet := dataSheet(f)
	if sheet == nil {
		return nil, ErrEmptyFile
	}

	i := 0
	nextRow := func() ([]string, bool) {
		for i < len(sheet.Rows) {
			row := sheet.Rows[i]
			i++
			if row == nil {
				continue
			}
			if cells := cellValues(row); !blank(cells) {
				return cells, true
			}
		}
		return nil, false
	}

	header, ok := nextRow()
	if !ok {
		return nil, ErrEmptyFile
	}
	for j := range header {
		header[j] = strings.TrimSpace(header[j])
	}
	return &RowReader{
		header: header,
		next: func() ([]string, error) {
			if row, ok := nextRow(); ok {
				return row, nil
			}
			return nil, io.EOF
		},
	}, nil
}

func dataSheet(f *xlsx.File) *xlsx.Sheet {
	for _, s := range f.Sheets {
		for _, row := range s.Rows {
			if row != nil && !blank(cellValues(row)) {
				return s
			}
		}
	}
	return nil
}

// cellValues renders cells as displayed, so dates and numbers keep their
// sheet formatting.
func cellValues(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		v, err := cell.FormattedValue()
		if err != nil {
			v = cell.Value
		}
		cells[j] = v
	}
	return cells
}
