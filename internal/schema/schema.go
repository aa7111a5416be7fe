// Package schema declares entity schemas and idempotently creates the
// matching SQLite tables.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnType is a declared SQLite column type
type ColumnType string

const (
	Text      ColumnType = "TEXT"
	Integer   ColumnType = "INTEGER"
	Real      ColumnType = "REAL"
	Blob      ColumnType = "BLOB"
	Timestamp ColumnType = "TIMESTAMP"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column describes one column of an entity table
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
	Unique     bool
}

// Index describes a secondary index on an entity table
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// EntitySchema is the declared shape of a storable record type
type EntitySchema struct {
	Name    string
	Columns []Column
	Indexes []Index
}

// Validate checks names and references before any DDL is built from them
func (s EntitySchema) Validate() error {
	if !identifierPattern.MatchString(s.Name) {
		return fmt.Errorf("invalid table name %q", s.Name)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("table %s declares no columns", s.Name)
	}

	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if !identifierPattern.MatchString(c.Name) {
			return fmt.Errorf("table %s: invalid column name %q", s.Name, c.Name)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("table %s: duplicate column %s", s.Name, c.Name)
		}
		seen[key] = true
		switch c.Type {
		case Text, Integer, Real, Blob, Timestamp:
		default:
			return fmt.Errorf("table %s: column %s has unsupported type %q", s.Name, c.Name, c.Type)
		}
	}

	for _, idx := range s.Indexes {
		if !identifierPattern.MatchString(idx.Name) {
			return fmt.Errorf("table %s: invalid index name %q", s.Name, idx.Name)
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("table %s: index %s has no columns", s.Name, idx.Name)
		}
		for _, col := range idx.Columns {
			if !seen[strings.ToLower(col)] {
				return fmt.Errorf("table %s: index %s references unknown column %s", s.Name, idx.Name, col)
			}
		}
	}

	return nil
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for the schema
func (s EntitySchema) createTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.Name)

	var pk []string
	for _, c := range s.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}

	for i, c := range s.Columns {
		fmt.Fprintf(&b, "\t%s %s", c.Name, c.Type)
		if len(pk) == 1 && c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
		if i < len(s.Columns)-1 || len(pk) > 1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(pk) > 1 {
		fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n", strings.Join(pk, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// createIndexSQL renders CREATE INDEX IF NOT EXISTS for a declared index
func (s EntitySchema) createIndexSQL(idx Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, idx.Name, s.Name, strings.Join(idx.Columns, ", "))
}
