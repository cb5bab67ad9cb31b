package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // 0 sniffs the first line
	HasHeader  bool            // if true, the first row goes to HeaderCh instead of the row channel
	HeaderCh   chan<- []string // optional: receives the header row
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads CSV from r and sends rows to a channel. Both channels are
// closed when reading stops; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		skipBOM(br)
		if opts.Delimiter == 0 {
			opts.Delimiter = sniffDelimiter(br)
		}

		reader := csv.NewReader(br)
		reader.Comma = opts.Delimiter
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false
			if blank(record) {
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func skipBOM(br *bufio.Reader) {
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
}

// sniffDelimiter picks the most frequent of comma, semicolon, tab and pipe
// on the first line. Comma wins ties.
func sniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(4096)
	if i := strings.IndexByte(string(line), '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestN := ',', strings.Count(string(line), ",")
	for _, d := range []rune{';', '\t', '|'} {
		if n := strings.Count(string(line), string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func openCSV(ctx context.Context, path string) (*RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	ctx, cancel := context.WithCancel(ctx)

	hdrCh := make(chan []string, 1)
	rows, errs := StreamCSV(ctx, f, CSVOptions{HasHeader: true, HeaderCh: hdrCh, LazyQuotes: true, TrimSpace: true})

	closeFn := func() error {
		cancel()
		// Drain so the reader goroutine can exit.
		for range rows { //nolint:revive
		}
		return f.Close()
	}

	var header []string
	select {
	case header = <-hdrCh:
	case err, ok := <-errs:
		if ok && err != nil {
			_ = closeFn()
			return nil, err
		}
		select {
		case header = <-hdrCh:
		default:
		}
	}
	if len(header) == 0 || blank(header) {
		_ = closeFn()
		return nil, ErrEmptyFile
	}

	next := func() ([]string, error) {
		row, ok := <-rows
		if ok {
			return row, nil
		}
		if err := <-errs; err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return &RowReader{header: header, next: next, close: closeFn}, nil
}
