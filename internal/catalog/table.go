package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultFormat = "PARQUET"

// Column is one (name, semantic type) pair of a table definition.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Table is an external table definition.
type Table struct {
	ID       ObjectID
	Columns  []Column
	Location string
	Format   string
}

// Validate checks the definition before any statement is issued.
func (t Table) Validate() error {
	if err := t.ID.Validate(true); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: at least one column is required", t.ID)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return fmt.Errorf("table %s: column name is required", t.ID)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return fmt.Errorf("table %s: duplicate column %q", t.ID, name)
		}
		seen[strings.ToLower(name)] = struct{}{}
		if !typePattern.MatchString(strings.TrimSpace(col.Type)) {
			return fmt.Errorf("table %s: column %q has invalid type %q", t.ID, name, col.Type)
		}
	}
	if strings.TrimSpace(t.Location) == "" {
		return fmt.Errorf("table %s: storage location is required", t.ID)
	}
	if !formatPattern.MatchString(t.Format) {
		return fmt.Errorf("table %s: invalid format %q", t.ID, t.Format)
	}
	return nil
}

// TableSpec is the YAML file form of a table's shape. Location is always derived
// from the partition key, so the file cannot carry one.
type TableSpec struct {
	Format  string   `yaml:"format"`
	Columns []Column `yaml:"columns"`
}

// LoadTableSpec reads a YAML table spec, e.g.
//
//	format: PARQUET
//	columns:
//	  - {name: id, type: BIGINT}
//	  - {name: created_at, type: TIMESTAMP(3)}
//	  - {name: amount, type: "DECIMAL(10, 2)"}
//
// Types containing a comma must be quoted inside a flow mapping. Unknown keys
// are rejected.
func LoadTableSpec(path string) (*TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table spec: %w", err)
	}
	var spec TableSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse table spec %s: %w", path, err)
	}
	if spec.Format == "" {
		spec.Format = DefaultFormat
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("table spec %s: no columns", path)
	}
	return &spec, nil
}

// NYCTaxiSpec is the raw yellow-taxi trip record layout.
func NYCTaxiSpec() *TableSpec {
	return &TableSpec{
		Format: DefaultFormat,
		Columns: []Column{
			{"VendorID", "BIGINT"},
			{"tpep_pickup_datetime", "TIMESTAMP(3)"},
			{"tpep_dropoff_datetime", "TIMESTAMP(3)"},
			{"passenger_count", "DOUBLE"},
			{"trip_distance", "DOUBLE"},
			{"RatecodeID", "DOUBLE"},
			{"store_and_fwd_flag", "VARCHAR"},
			{"PULocationID", "BIGINT"},
			{"DOLocationID", "BIGINT"},
			{"payment_type", "BIGINT"},
			{"fare_amount", "DOUBLE"},
			{"extra", "DOUBLE"},
			{"mta_tax", "DOUBLE"},
			{"tip_amount", "DOUBLE"},
			{"tolls_amount", "DOUBLE"},
			{"improvement_surcharge", "DOUBLE"},
			{"total_amount", "DOUBLE"},
			{"congestion_surcharge", "DOUBLE"},
			{"airport_fee", "DOUBLE"},
		},
	}
}
