package scoring

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is a supported tabular file format, named by its extension.
type Format string

const (
	FormatCSV  Format = ".csv"
	FormatXLSX Format = ".xlsx"
)

// FormatFromName resolves the format from a file name or storage key.
func FormatFromName(name string) (Format, error) {
	switch Format(strings.ToLower(filepath.Ext(name))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", newError(CodeUnsupportedFormat, "unsupported file format %q", filepath.Ext(name))
	}
}

// Source is a whole file held in memory.
type Source struct {
	Name string
	Data []byte
}

// errBadRow marks a single unreadable row; readers keep going after it.
var errBadRow = errors.New("unreadable row")

type rowReader interface {
	// Next returns the next record, errBadRow for a record that could not be parsed,
	// or io.EOF at the end.
	Next() ([]string, error)
	Close() error
}

func openRows(src Source) (rowReader, error) {
	format, err := FormatFromName(src.Name)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return newXLSXReader(src.Data)
	default:
		return newCSVReader(src.Data), nil
	}
}

type csvRowReader struct {
	r *csv.Reader
}

func newCSVReader(data []byte) *csvRowReader {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return &csvRowReader{r: r}
}

func (c *csvRowReader) Next() ([]string, error) {
	record, err := c.r.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: line %d: %v", errBadRow, parseErr.Line, parseErr.Err)
		}
		return nil, err
	}
	return record, nil
}

func (c *csvRowReader) Close() error { return nil }

type xlsxRowReader struct {
	file *excelize.File
	rows *excelize.Rows
}

// newXLSXReader reads the first sheet of the workbook.
func newXLSXReader(data []byte) (*xlsxRowReader, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, newError(CodeUnsupportedFormat, "cannot open workbook: %v", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, newError(CodeUnsupportedFormat, "workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, newError(CodeUnsupportedFormat, "cannot read sheet %q: %v", sheets[0], err)
	}
	return &xlsxRowReader{file: f, rows: rows}, nil
}

func (x *xlsxRowReader) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	cols, err := x.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRow, err)
	}
	return cols, nil
}

func (x *xlsxRowReader) Close() error {
	if err := x.rows.Close(); err != nil {
		_ = x.file.Close()
		return err
	}
	return x.file.Close()
}

// header maps normalized column names to positions.
type header map[string]int

func readHeader(rr rowReader) (header, error) {
	for {
		record, err := rr.Next()
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}
		h := make(header, len(record))
		for i, name := range record {
			key := normalizeColumn(name)
			if _, dup := h[key]; !dup {
				h[key] = i
			}
		}
		return h, nil
	}
}

func (h header) index(column string) (int, bool) {
	i, ok := h[normalizeColumn(column)]
	return i, ok
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
