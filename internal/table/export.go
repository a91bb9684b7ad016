package table

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// Export formats understood by the bundled exporters. The engine itself treats
// the format as an opaque label.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Export is the ordered, column-projected payload handed to the host. Rows are
// keyed by column header; Headers preserves column order.
type Export struct {
	Format  string                   `json:"format"`
	Headers []string                 `json:"headers"`
	Rows    []map[string]value.Value `json:"rows"`
}

// Len returns the number of exported rows.
func (e Export) Len() int { return len(e.Rows) }

// Exporter encodes an Export into a concrete file format.
type Exporter interface {
	ContentType() string
	Extension() string
	Write(w io.Writer, e Export) error
}

// ExporterFor returns the bundled exporter for format.
func ExporterFor(format string) (Exporter, bool) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return CSVExporter{}, true
	case FormatJSON:
		return JSONExporter{}, true
	default:
		return nil, false
	}
}

// CSVExporter writes a header row followed by one record per row. Nulls are
// empty cells, booleans Yes/No and dates YYYY-MM-DD.
type CSVExporter struct{}

func (CSVExporter) ContentType() string { return "text/csv" }
func (CSVExporter) Extension() string   { return ".csv" }

// Write streams e to w, flushing every flushInterval rows.
func (CSVExporter) Write(w io.Writer, e Export) error {
	const flushInterval = 1000

	cw := csv.NewWriter(w)
	if err := cw.Write(e.Headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(e.Headers))
	for n, row := range e.Rows {
		for i, h := range e.Headers {
			record[i] = formatCellForExport(row[h])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", n+1, err)
		}
		if (n+1)%flushInterval == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// JSONExporter writes the rows as a JSON array of header-keyed objects.
type JSONExporter struct{}

func (JSONExporter) ContentType() string { return "application/json" }
func (JSONExporter) Extension() string   { return ".json" }

func (JSONExporter) Write(w io.Writer, e Export) error {
	rows := e.Rows
	if rows == nil {
		rows = []map[string]value.Value{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func formatCellForExport(v value.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}
