// Package export renders generated report rows into downloadable files.
// Column order comes from the report definition; XLSX is the primary
// format, CSV the lightweight alternative.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hispls/dreams-reports/internal/report"
)

// Format is a supported export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", string(FormatXLSX):
		return FormatXLSX, nil
	case string(FormatCSV):
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// FileName builds a download file name for one report export.
func FileName(reportID string, f Format, now time.Time) string {
	return fmt.Sprintf("%s-%s.%s", reportID, now.Format("20060102-150405"), f)
}

// Write renders rows in the requested format.
func Write(w io.Writer, f Format, name string, cols []report.Column, rows []report.ReportRow) error {
	if f == FormatCSV {
		return WriteCSV(w, cols, rows)
	}
	return WriteXLSX(w, name, cols, rows)
}

// WriteXLSX renders the rows as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, name string, cols []report.Column, rows []report.ReportRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(name)
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("name worksheet: %w", err)
		}
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row coordinate: %w", err)
		}
		values := make([]interface{}, len(cols))
		for j, c := range cols {
			values[j] = row[c.Key]
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush worksheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteCSV renders the rows as CSV with a header row.
func WriteCSV(w io.Writer, cols []report.Column, rows []report.ReportRow) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}

	record := make([]string, len(cols))
	for i, row := range rows {
		for j, c := range cols {
			record[j] = row[c.Key]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// invalidSheetChars are forbidden in XLSX worksheet names.
var invalidSheetChars = strings.NewReplacer(
	":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", " ", "]", " ")

// sheetName makes a report name safe as a worksheet title. Excel limits
// titles to 31 characters.
func sheetName(name string) string {
	s := strings.TrimSpace(invalidSheetChars.Replace(name))
	if s == "" {
		return "Sheet1"
	}
	if len(s) > 31 {
		s = s[:31]
	}
	return s
}
