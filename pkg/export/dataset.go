// Package export renders tabular datasets as downloadable files.
package export

import (
	"fmt"
	"strings"
)

// Supported output formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// Dataset is an ordered table; each row maps a header to its cell.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Render encodes data in the requested format and returns the bytes with their
// content type.
func Render(format string, data Dataset) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		out, err := NewCSVExporter().Render(data)
		return out, "text/csv", err
	case FormatPDF:
		out, err := NewPDFExporter().Render(data, data.Title)
		return out, "application/pdf", err
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

// Extension returns the file suffix for format.
func Extension(format string) string {
	return "." + strings.ToLower(format)
}
