// Package roster turns uploaded spreadsheets into ordered records keyed by
// column name.
package roster

import (
	"bytes"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Lllllllleong/docmergeflow/internal/models"
)

// DefaultKeyField is the column every record must carry.
const DefaultKeyField = "Student Name"

// Options controls how rows become records.
type Options struct {
	// KeyField names the required record-key column.
	KeyField string
	// DropInvalidRecords silently skips rows with an empty key. When false
	// such rows fail the load with an InvalidRecordsError.
	DropInvalidRecords bool
	// Sheet selects a workbook sheet. Empty means the first sheet.
	Sheet string
}

// DefaultOptions returns the options used by the hosted functions.
func DefaultOptions() Options {
	return Options{KeyField: DefaultKeyField, DropInvalidRecords: true}
}

// Record is one input row.
type Record struct {
	// Row is the 1-based line of the row in the source, header included.
	Row     int
	Columns []string
	Values  map[string]string
}

// Get returns the value for column, or "" when the column is absent.
func (r Record) Get(column string) string {
	return r.Values[column]
}

// Format names a recognized tabular format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatWorkbook Format = "xlsx"
)

var zipMagic = []byte("PK\x03\x04")

// DetectFormat decides the tabular format from the file name, falling back
// to the content when the name has no extension.
func DetectFormat(name string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm", ".xltx":
		return FormatWorkbook, nil
	case "":
		if bytes.HasPrefix(data, zipMagic) {
			return FormatWorkbook, nil
		}
		if len(data) > 0 && !bytes.ContainsRune(data, 0) {
			return FormatCSV, nil
		}
	}
	return "", &models.UnsupportedFormatError{Name: name, Reason: "expected .csv or .xlsx"}
}

// Load parses data into records in file order. Column names come from the
// header row.
func Load(name string, data []byte, opts Options) ([]Record, error) {
	if opts.KeyField == "" {
		opts.KeyField = DefaultKeyField
	}

	format, err := DetectFormat(name, data)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch format {
	case FormatCSV:
		rows, err = readCSV(data)
	case FormatWorkbook:
		rows, err = readWorkbook(data, opts.Sheet)
	}
	if err != nil {
		return nil, &models.UnsupportedFormatError{Name: name, Reason: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &models.MissingColumnError{Column: opts.KeyField}
	}

	return buildRecords(rows, opts)
}

func buildRecords(rows [][]string, opts Options) ([]Record, error) {
	// Column names are matched exactly, surrounding spaces and case included.
	header := append([]string(nil), rows[0]...)
	if !slices.Contains(header, opts.KeyField) {
		return nil, &models.MissingColumnError{Column: opts.KeyField, Available: header}
	}

	records := make([]Record, 0, len(rows)-1)
	var invalid []int
	for i, row := range rows[1:] {
		line := i + 2
		if isBlank(row) {
			continue
		}
		rec := Record{Row: line, Columns: header, Values: make(map[string]string, len(header))}
		for c, col := range header {
			if col == "" {
				continue
			}
			if c < len(row) {
				rec.Values[col] = row[c]
			} else if _, ok := rec.Values[col]; !ok {
				rec.Values[col] = ""
			}
		}
		if strings.TrimSpace(rec.Values[opts.KeyField]) == "" {
			invalid = append(invalid, line)
			continue
		}
		records = append(records, rec)
	}

	if len(invalid) > 0 && !opts.DropInvalidRecords {
		return nil, &models.InvalidRecordsError{Column: opts.KeyField, Rows: invalid}
	}
	return records, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
