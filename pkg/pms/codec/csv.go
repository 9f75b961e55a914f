package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Table is a decoded CSV document: the header row plus one map per record,
// keyed by header name. Fields missing from a short row decode as "".
type Table struct {
	Header  []string
	Records []map[string]string
}

// Column reports whether the header carries name.
func (t *Table) Column(name string) bool {
	return slices.Contains(t.Header, name)
}

// DecodeCSV decodes CSV whose first row is the header. Empty input yields an
// empty table.
func DecodeCSV(data []byte) (*Table, error) {
	table := &Table{Records: []map[string]string{}}

	if len(bytes.TrimSpace(data)) == 0 {
		return table, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %w", ErrDecode, err)
	}

	table.Header = header

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: csv: %w", ErrDecode, err)
		}

		record := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = row[i]
			} else {
				record[name] = ""
			}
		}

		table.Records = append(table.Records, record)
	}

	return table, nil
}

// EncodeCSV renders header followed by one row per record. Keys absent from
// a record encode as empty fields; keys not in header are dropped.
func EncodeCSV(header []string, records []map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	writer := csv.NewWriter(&buf)

	err := writer.Write(header)
	if err != nil {
		return nil, fmt.Errorf("encode csv header: %w", err)
	}

	row := make([]string, len(header))

	for _, record := range records {
		for i, name := range header {
			row[i] = record[name]
		}

		err = writer.Write(row)
		if err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
	}

	writer.Flush()

	err = writer.Error()
	if err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}

	return buf.Bytes(), nil
}
