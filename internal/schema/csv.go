package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	csvTableName  = "table name"
	csvFieldName  = "field name"
	csvType       = "type"
	csvPrimaryKey = "is primary key"
	csvForeignKey = "is foreign key"
)

// LoadCSV reads a schema sheet with the headers Table Name, Field Name, Type,
// Is Primary Key and Is Foreign Key. Rows whose table or field is empty or "-"
// are skipped. Tables keep the order in which they first appear.
func LoadCSV(r io.Reader) (Context, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Context{}, fmt.Errorf("schema csv is empty")
		}
		return Context{}, fmt.Errorf("read schema csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{csvTableName, csvFieldName} {
		if _, ok := index[required]; !ok {
			return Context{}, fmt.Errorf("schema csv missing %q column", required)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out Context
	positions := map[string]int{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Context{}, fmt.Errorf("read schema csv: %w", err)
		}
		table := cell(row, csvTableName)
		field := cell(row, csvFieldName)
		if table == "" || table == "-" || field == "" || field == "-" {
			continue
		}
		col := Column{
			Name:         field,
			DeclaredType: cell(row, csvType),
			PrimaryKey:   strings.EqualFold(cell(row, csvPrimaryKey), "y"),
			ForeignKey:   strings.EqualFold(cell(row, csvForeignKey), "y"),
		}
		pos, ok := positions[table]
		if !ok {
			pos = len(out.Tables)
			positions[table] = pos
			out.Tables = append(out.Tables, Table{Name: table})
		}
		out.Tables[pos].Columns = append(out.Tables[pos].Columns, col)
	}
	return out, nil
}

func LoadCSVFile(path string) (Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return Context{}, fmt.Errorf("open schema csv: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}
