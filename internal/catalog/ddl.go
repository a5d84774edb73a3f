package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// ObjectID identifies a schema (Name empty) or table in the catalog.
type ObjectID struct {
	Catalog   string
	Namespace string
	Name      string
}

// Validate checks that every identifier part required for the object is present.
func (o ObjectID) Validate(table bool) error {
	if strings.TrimSpace(o.Catalog) == "" {
		return fmt.Errorf("catalog name is required")
	}
	if strings.TrimSpace(o.Namespace) == "" {
		return fmt.Errorf("namespace is required")
	}
	if table && strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("table name is required")
	}
	return nil
}

// Qualified renders the quoted, dot-separated name.
func (o ObjectID) Qualified() string {
	parts := []string{pq.QuoteIdentifier(o.Catalog), pq.QuoteIdentifier(o.Namespace)}
	if o.Name != "" {
		parts = append(parts, pq.QuoteIdentifier(o.Name))
	}
	return strings.Join(parts, ".")
}

func (o ObjectID) String() string {
	if o.Name == "" {
		return o.Catalog + "." + o.Namespace
	}
	return o.Catalog + "." + o.Namespace + "." + o.Name
}

// typePattern accepts Trino type expressions such as BIGINT, TIMESTAMP(3), DECIMAL(10, 2).
var typePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*( *\( *[0-9]+( *, *[0-9]+)? *\))?$`)

var formatPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func createSchemaSQL(id ObjectID, location string) string {
	stmt := "CREATE SCHEMA IF NOT EXISTS " + id.Qualified()
	if location != "" {
		stmt += " WITH (location = " + quoteLiteral(location) + ")"
	}
	return stmt
}

func dropTableSQL(id ObjectID) string {
	return "DROP TABLE IF EXISTS " + id.Qualified()
}

func createExternalTableSQL(t Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(t.ID.Qualified())
	b.WriteString(" (\n")
	for i, col := range t.Columns {
		b.WriteString("    ")
		b.WriteString(pq.QuoteIdentifier(col.Name))
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(strings.TrimSpace(col.Type)))
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")\nWITH (\n")
	b.WriteString("    external_location = ")
	b.WriteString(quoteLiteral(t.Location))
	b.WriteString(",\n    format = ")
	b.WriteString(quoteLiteral(strings.ToUpper(t.Format)))
	b.WriteString("\n)")
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
