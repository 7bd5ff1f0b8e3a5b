package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dow30tracker/models"
)

const (
	columnCompany = "Company"
	columnSymbol  = "Symbol"
)

// MalformedFunc is told about cells that could not be normalized. Such cells
// are loaded as Missing.
type MalformedFunc func(symbol, category string, err error)

// Load reads a persisted table. Columns are matched by header name, so column
// order in the file does not matter; declared categories absent from the file
// load as Missing and unknown columns are ignored.
func Load(path string, categories []models.Category, onMalformed MalformedFunc) ([]models.Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, fmt.Errorf("%s: failed to read header: %w", path, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	symCol, ok := index[columnSymbol]
	if !ok {
		return nil, fmt.Errorf("%s: missing %s column", path, columnSymbol)
	}
	nameCol, hasName := index[columnCompany]

	cell := func(record []string, col int) string {
		if col < len(record) {
			return record[col]
		}
		return ""
	}

	var rows []models.Entity
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read record: %w", path, err)
		}

		symbol := strings.TrimSpace(cell(record, symCol))
		if symbol == "" {
			continue
		}
		entity := models.Entity{Symbol: symbol, Values: make([]models.Value, len(categories))}
		if hasName {
			entity.Name = strings.TrimSpace(cell(record, nameCol))
		}
		for i, c := range categories {
			col, ok := index[c.Name]
			if !ok {
				continue
			}
			v, err := models.ParseValue(c.Kind, cell(record, col))
			if err != nil && onMalformed != nil {
				onMalformed(symbol, c.Name, err)
			}
			entity.Values[i] = v
		}
		rows = append(rows, entity)
	}

	return rows, nil
}

// Save writes rows to path, replacing the previous file only once the new one
// is complete.
func Save(path string, rows []models.Entity, categories []models.Category) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)

	headers := make([]string, 0, len(categories)+2)
	headers = append(headers, columnCompany, columnSymbol)
	for _, c := range categories {
		headers = append(headers, c.Name)
	}
	if err := writer.Write(headers); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for _, row := range rows {
		record := make([]string, 0, len(headers))
		record = append(record, row.Name, row.Symbol)
		for i := range categories {
			v := models.Missing()
			if i < len(row.Values) {
				v = row.Values[i]
			}
			record = append(record, v.String())
		}
		if err := writer.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SaveStore persists the current contents of s.
func SaveStore(path string, s *Store) error {
	return Save(path, s.Rows(), s.categories)
}
