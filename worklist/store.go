package worklist

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"vidmigrate/internal"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Store loads and saves a worklist file. The format follows the extension.
type Store struct {
	path string
	xlsx bool
}

// NewStore creates a Store for path, which must end in .csv or .xlsx
func NewStore(path string) (*Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &Store{path: path}, nil
	case ".xlsx":
		return &Store{path: path, xlsx: true}, nil
	default:
		return nil, internal.NewValidationErrorWithValue("worklist", "worklist must be a .csv or .xlsx file", path)
	}
}

// Path returns the worklist location
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole worklist
func (s *Store) Load() (*Table, error) {
	var rows [][]string
	var err error
	if s.xlsx {
		rows, err = s.readXLSX()
	} else {
		rows, err = s.readCSV()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, internal.NewValidationErrorWithValue("worklist", "worklist has no header row", s.path)
	}

	table := NewTable(rows[0], rows[1:])
	if !table.HasColumn(ColURL) {
		return nil, internal.NewValidationErrorWithValue("worklist", "worklist has no url column", s.path).
			WithSuggestion("The header must contain at least: id, title, url")
	}
	return table, nil
}

func (s *Store) readCSV() ([][]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read worklist %s: %w", s.path, err)
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse worklist %s: %w", s.path, err)
	}
	return rows, nil
}

func (s *Store) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx file %s: %w", s.path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx file %s has no sheets", s.path)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	var records [][]string
	for rows.Next() {
		record, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row from %s: %w", s.path, err)
		}
		records = append(records, record)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("error iterating rows in %s: %w", s.path, err)
	}
	return records, nil
}

// Save writes the table to a temporary file and renames it over the worklist
func (s *Store) Save(table *Table) error {
	// excelize picks the format from the extension, so it must survive
	ext := filepath.Ext(s.path)
	tmp := strings.TrimSuffix(s.path, ext) + ".tmp" + ext
	var err error
	if s.xlsx {
		err = writeXLSX(tmp, table)
	} else {
		err = writeCSV(tmp, table)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace worklist %s: %w", s.path, err)
	}
	return nil
}

func writeCSV(path string, table *Table) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv file %s: %w", path, err)
	}

	w := csv.NewWriter(out)
	if err := w.Write(table.Columns); err != nil {
		out.Close()
		return fmt.Errorf("failed to write csv header to %s: %w", path, err)
	}
	if err := w.WriteAll(table.Records()); err != nil {
		out.Close()
		return fmt.Errorf("failed to write csv rows to %s: %w", path, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeXLSX(path string, table *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	write := func(rowNum int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		return f.SetSheetRow(sheet, cell, &cells)
	}

	if err := write(1, table.Columns); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for i, record := range table.Records() {
		if err := write(i+2, record); err != nil {
			return fmt.Errorf("failed to write xlsx row %d: %w", i+1, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save xlsx file %s: %w", path, err)
	}
	return nil
}
