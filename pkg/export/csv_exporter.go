package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVOption customises a CSVExporter.
type CSVOption func(*CSVExporter)

// WithDelimiter sets the field separator. Invalid separators are ignored.
func WithDelimiter(delimiter string) CSVOption {
	return func(e *CSVExporter) {
		r, size := utf8.DecodeRuneInString(delimiter)
		if size == len(delimiter) && r != utf8.RuneError && r != '"' && r != '\r' && r != '\n' {
			e.comma = r
		}
	}
}

// CSVExporter writes datasets as CSV with formula-looking cells neutralised.
type CSVExporter struct {
	comma rune
}

// NewCSVExporter builds a comma-separated exporter unless opts say otherwise.
func NewCSVExporter(opts ...CSVOption) *CSVExporter {
	e := &CSVExporter{comma: ','}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render writes the header row followed by one record per row, in header order.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = e.comma

	record := make([]string, len(data.Headers))
	copy(record, data.Headers)
	if err := w.Write(record); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for n, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = neutralizeFormula(row[header])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// neutralizeFormula prefixes a quote to cells a spreadsheet would evaluate.
func neutralizeFormula(value string) string {
	if value == "" || !strings.ContainsRune("=+-@\t\r", rune(value[0])) {
		return value
	}
	return "'" + value
}
