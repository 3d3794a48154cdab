// Package worklist drives batch migrations from a CSV or XLSX sheet of videos.
package worklist

import "strings"

// Column names the driver reads and writes. Other columns are carried through untouched.
const (
	ColID             = "id"
	ColRabi           = "rabi"
	ColCat            = "cat"
	ColTitle          = "title"
	ColURL            = "url"
	ColAdded          = "added"
	ColUploaded       = "uploaded"
	ColYouTubeURL     = "youtube_url"
	ColRemoteDeleted  = "remote_deleted"
	ColProviderSynced = "provider_synced"
	ColError          = "error"
)

// yes marks a completed step in the status columns
const yes = "yes"

// statusColumns are appended when a sheet lacks them
var statusColumns = []string{ColUploaded, ColYouTubeURL, ColRemoteDeleted, ColProviderSynced, ColError}

// Row is one worklist entry
type Row struct {
	// Index is the zero-based position among data rows
	Index  int
	values map[string]string
}

// NewRow creates a row from column/value pairs
func NewRow(index int, values map[string]string) *Row {
	row := &Row{Index: index, values: make(map[string]string, len(values))}
	for k, v := range values {
		row.values[k] = v
	}
	return row
}

// Get returns the trimmed value of column, or "" when absent
func (r *Row) Get(column string) string {
	return strings.TrimSpace(r.values[column])
}

// Set stores value in column
func (r *Row) Set(column, value string) {
	r.values[column] = value
}

// Is reports a case-insensitive "yes" in column
func (r *Row) Is(column string) bool {
	return strings.EqualFold(r.Get(column), yes)
}

// Table is a worklist in memory. Column order is preserved on save.
type Table struct {
	Columns []string
	Rows    []*Row
}

// NewTable builds a table from a header and records, padding short records
func NewTable(header []string, records [][]string) *Table {
	t := &Table{}
	for _, col := range header {
		t.Columns = append(t.Columns, strings.TrimSpace(col))
	}
	for i, record := range records {
		values := make(map[string]string, len(t.Columns))
		for j, col := range t.Columns {
			if j < len(record) {
				values[col] = record[j]
			}
		}
		t.Rows = append(t.Rows, &Row{Index: i, values: values})
	}
	t.ensureColumns(statusColumns...)
	return t
}

func (t *Table) ensureColumns(columns ...string) {
	for _, col := range columns {
		if !t.HasColumn(col) {
			t.Columns = append(t.Columns, col)
		}
	}
}

// HasColumn reports whether the header contains column
func (t *Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Records renders rows in column order
func (t *Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		record := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			record[i] = row.values[col]
		}
		records = append(records, record)
	}
	return records
}

// Counts returns how many rows are uploaded and how many remain
func (t *Table) Counts() (uploaded, remaining int) {
	for _, row := range t.Rows {
		if row.Is(ColUploaded) {
			uploaded++
		}
	}
	return uploaded, len(t.Rows) - uploaded
}
