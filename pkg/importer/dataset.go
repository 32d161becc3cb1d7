package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tealeg/xlsx/v3"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrInvalidEncoding is wrapped when a field is not valid UTF-8.
var ErrInvalidEncoding = errors.New("invalid UTF-8")

// Dataset is a parsed CSV file: a header row and its data rows. Every row has
// exactly len(Headers) fields.
type Dataset struct {
	Headers  []string
	Rows     [][]string
	Warnings []RowError

	index map[string]int
}

// Index returns the position of the named column. When a header repeats, the
// first occurrence wins.
func (d *Dataset) Index(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// ReadCSV loads a comma-separated file with a header row. A UTF-8 or UTF-16 byte
// order mark is honoured and stripped; any other input must be valid UTF-8. Short rows are padded with empty values and
// reported as warnings; rows with more fields than the header are an error.
func ReadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseCSV(f, path)
}

func parseCSV(r io.Reader, name string) (*Dataset, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(transform.Nop))

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file: no header row found", name)
		}
		return nil, fmt.Errorf("%s: failed to read header row: %w", name, err)
	}
	if i := invalidField(headers); i >= 0 {
		return nil, fmt.Errorf("%s: line 1 field %d: %w", name, i+1, ErrInvalidEncoding)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	d := &Dataset{
		Headers: headers,
		index:   make(map[string]int, len(headers)),
	}
	for i, h := range headers {
		if _, dup := d.index[h]; !dup {
			d.index[h] = i
		}
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		line, _ := reader.FieldPos(0)
		if i := invalidField(row); i >= 0 {
			return nil, fmt.Errorf("%s: line %d field %d: %w", name, line, i+1, ErrInvalidEncoding)
		}

		switch {
		case len(row) > len(headers):
			return nil, fmt.Errorf("%s: line %d has %d fields, expected %d", name, line, len(row), len(headers))
		case len(row) < len(headers):
			d.Warnings = append(d.Warnings, RowError{
				Row:     line,
				Message: fmt.Sprintf("row has %d fields, expected %d; padding with empty values", len(row), len(headers)),
			})
			padded := make([]string, len(headers))
			copy(padded, row)
			row = padded
		}
		d.Rows = append(d.Rows, row)
	}

	return d, nil
}

// invalidField returns the index of the first field that is not valid UTF-8, or -1.
func invalidField(fields []string) int {
	for i, f := range fields {
		if !utf8.ValidString(f) {
			return i
		}
	}
	return -1
}

// ReadTemplate returns the column names of a template file. CSV templates use
// their first row; .xlsx templates use the first row of their first sheet. Any
// data rows are ignored.
func ReadTemplate(path string) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSXHeader(path)
	}

	d, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	return nonEmpty(d.Headers, path)
}

func readXLSXHeader(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel template %s: %w", path, err)
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}

	sheet := wb.Sheets[0]
	row, err := sheet.Row(0)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header row: %w", path, err)
	}

	var headers []string
	err = row.ForEachCell(func(c *xlsx.Cell) error {
		headers = append(headers, strings.TrimSpace(c.String()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header cells: %w", path, err)
	}
	return nonEmpty(headers, path)
}

func nonEmpty(headers []string, path string) ([]string, error) {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "" {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: template has no column names", path)
	}
	return out, nil
}
