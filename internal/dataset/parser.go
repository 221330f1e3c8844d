// Package dataset turns the stripped CSV export into ordered records.
package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jgoulah/airquality/pkg/models"
)

// ErrParse is returned for malformed delimited text
var ErrParse = errors.New("parsing dataset")

// Table is a parsed dataset: its header in file order and its rows oldest first
type Table struct {
	Columns []string
	Records []models.Record
}

// Parse reads a header row followed by data rows. Column names come from the
// header so the set of fields may change between downloads. Rows must have
// the same number of cells as the header.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrParse, err)
	}

	table := &Table{Columns: append([]string(nil), header...)}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		rec := models.Record{Values: make(map[string]string, len(header))}
		for i, col := range header {
			if col == models.DateColumn {
				rec.Date = row[i]
				continue
			}
			rec.Values[col] = row[i]
		}
		table.Records = append(table.Records, rec)
	}

	return table, nil
}

// ParseFile parses the CSV working file at path
func ParseFile(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Write serializes the table back to CSV with the original column order
func (t *Table) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	row := make([]string, len(t.Columns))
	for _, rec := range t.Records {
		for i, col := range t.Columns {
			if col == models.DateColumn {
				row[i] = rec.Date
			} else {
				row[i] = rec.Values[col]
			}
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// SaveJSON writes the rows to the JSON working file as an array of flat
// objects, one key per column in header order.
func (t *Table) SaveJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range t.Records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range t.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			value := rec.Values[col]
			if col == models.DateColumn {
				value = rec.Date
			}
			if err := writeString(&buf, col); err != nil {
				return fmt.Errorf("encoding records: %w", err)
			}
			buf.WriteByte(':')
			if err := writeString(&buf, value); err != nil {
				return fmt.Errorf("encoding records: %w", err)
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing records file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing records file: %w", err)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode appends a newline
	return nil
}

// LoadJSON reads a records file written by SaveJSON. Columns are taken from
// the key order of the first row, so a file without rows has no columns.
func LoadJSON(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading records file: %w", err)
	}
	defer file.Close()

	table, err := decodeRows(json.NewDecoder(file))
	if err != nil {
		return nil, fmt.Errorf("decoding records file: %w", err)
	}
	return table, nil
}

func decodeRows(dec *json.Decoder) (*Table, error) {
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	table := &Table{}
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		var columns []string
		rec := models.Record{Values: make(map[string]string)}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected token %v", tok)
			}
			var value string
			if err := dec.Decode(&value); err != nil {
				return nil, fmt.Errorf("column %q: %w", key, err)
			}
			columns = append(columns, key)
			if key == models.DateColumn {
				rec.Date = value
			} else {
				rec.Values[key] = value
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		if table.Columns == nil {
			table.Columns = columns
		}
		table.Records = append(table.Records, rec)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return table, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
