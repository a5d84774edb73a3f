package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/trinodb/trino-go-client/trino"
)

// fakeCatalog mimics the subset of Trino DDL behaviour the provisioner relies on.
type fakeCatalog struct {
	mu        sync.Mutex
	schemas   map[string]bool
	tables    map[string]string
	stmts     []string
	schemaErr error
	failOn    map[string]error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{schemas: map[string]bool{}, tables: map[string]string{}, failOn: map[string]error{}}
}

func (f *fakeCatalog) Exec(_ context.Context, stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stmts = append(f.stmts, stmt)
	for prefix, err := range f.failOn {
		if strings.HasPrefix(stmt, prefix) {
			return err
		}
	}

	switch {
	case strings.HasPrefix(stmt, "CREATE SCHEMA IF NOT EXISTS "):
		if f.schemaErr != nil {
			return f.schemaErr
		}
		name := strings.Fields(strings.TrimPrefix(stmt, "CREATE SCHEMA IF NOT EXISTS "))[0]
		f.schemas[name] = true
	case strings.HasPrefix(stmt, "DROP TABLE IF EXISTS "):
		delete(f.tables, strings.TrimPrefix(stmt, "DROP TABLE IF EXISTS "))
	case strings.HasPrefix(stmt, "CREATE TABLE "):
		name := strings.Fields(strings.TrimPrefix(stmt, "CREATE TABLE "))[0]
		schema := name[:strings.LastIndex(name, ".")]
		if !f.schemas[schema] {
			return fmt.Errorf("trino: query failed (200 OK): \"SCHEMA_NOT_FOUND: Schema %s does not exist\"", schema)
		}
		if _, ok := f.tables[name]; ok {
			return fmt.Errorf("TABLE_ALREADY_EXISTS: Table '%s' already exists", name)
		}
		f.tables[name] = stmt
	default:
		return fmt.Errorf("unexpected statement %q", stmt)
	}
	return nil
}

func (f *fakeCatalog) Close() error { return nil }

func testTable(cols ...Column) Table {
	return Table{
		ID:       ObjectID{Catalog: "hive", Namespace: "raw", Name: "nyc_taxi_trips"},
		Columns:  cols,
		Location: "s3a://raw/nyc_taxi/yellow/year=2023/month=01/",
		Format:   "parquet",
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	fake := newFakeCatalog()
	p := NewProvisioner(fake, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.EnsureSchema(ctx, "hive", "raw", "s3a://raw/"); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i+1, err)
		}
	}
	if !fake.schemas[`"hive"."raw"`] {
		t.Fatalf("schema not created: %v", fake.schemas)
	}
	want := `CREATE SCHEMA IF NOT EXISTS "hive"."raw" WITH (location = 's3a://raw/')`
	if fake.stmts[0] != want {
		t.Errorf("statement = %q, want %q", fake.stmts[0], want)
	}
}

func TestEnsureSchema_AlreadyExistsIsSuccess(t *testing.T) {
	fake := newFakeCatalog()
	fake.schemaErr = errors.New("SCHEMA_ALREADY_EXISTS: Schema 'raw' already exists")
	p := NewProvisioner(fake, nil)

	if err := p.EnsureSchema(context.Background(), "hive", "raw", ""); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestEnsureSchema_ExistingLocationIsNotCompared(t *testing.T) {
	fake := newFakeCatalog()
	p := NewProvisioner(fake, nil)
	ctx := context.Background()
	if err := p.EnsureSchema(ctx, "hive", "raw", "s3a://other/"); err != nil {
		t.Fatal(err)
	}

	if err := p.EnsureSchema(ctx, "hive", "raw", "s3a://raw/"); err != nil {
		t.Fatalf("existing schema with another location: %v", err)
	}
	if n := len(fake.stmts); n != 2 || !strings.HasPrefix(fake.stmts[1], "CREATE SCHEMA IF NOT EXISTS ") {
		t.Errorf("statements = %v, want two guarded creates", fake.stmts)
	}
}

func TestEnsureSchema_MissingCatalog(t *testing.T) {
	fake := newFakeCatalog()
	fake.schemaErr = errors.New("CATALOG_NOT_FOUND: Catalog 'hive' does not exist")
	p := NewProvisioner(fake, nil)

	err := p.EnsureSchema(context.Background(), "hive", "raw", "")
	if KindOf(err) != KindDependencyNotSatisfied {
		t.Fatalf("kind = %v, want %v (err=%v)", KindOf(err), KindDependencyNotSatisfied, err)
	}
}

func TestEnsureSchema_OtherErrorsPropagate(t *testing.T) {
	fake := newFakeCatalog()
	fake.schemaErr = errors.New("dial tcp 10.0.0.1:8080: connect: connection refused")
	p := NewProvisioner(fake, nil)

	err := p.EnsureSchema(context.Background(), "hive", "raw", "")
	var catErr *Error
	if !errors.As(err, &catErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if catErr.Kind != KindUnavailable || !catErr.RetryableStatus() {
		t.Errorf("unexpected classification %v retryable=%v", catErr.Kind, catErr.RetryableStatus())
	}
}

func TestEnsureTable_RecreateReflectsLatestDefinition(t *testing.T) {
	fake := newFakeCatalog()
	p := NewProvisioner(fake, nil)
	ctx := context.Background()
	if err := p.EnsureSchema(ctx, "hive", "raw", "s3a://raw/"); err != nil {
		t.Fatal(err)
	}

	if err := p.EnsureTable(ctx, testTable(Column{"a", "BIGINT"})); err != nil {
		t.Fatalf("first EnsureTable: %v", err)
	}
	if err := p.EnsureTable(ctx, testTable(Column{"a", "BIGINT"}, Column{"b", "varchar"})); err != nil {
		t.Fatalf("second EnsureTable: %v", err)
	}

	got := fake.tables[`"hive"."raw"."nyc_taxi_trips"`]
	if !strings.Contains(got, `"b" VARCHAR`) {
		t.Errorf("table does not reflect latest definition:\n%s", got)
	}
	if !strings.Contains(got, "external_location = 's3a://raw/nyc_taxi/yellow/year=2023/month=01/'") {
		t.Errorf("missing location:\n%s", got)
	}
	if !strings.Contains(got, "format = 'PARQUET'") {
		t.Errorf("missing format:\n%s", got)
	}
}

func TestEnsureTable_ConcurrentRecreateIsRetryableConflict(t *testing.T) {
	fake := newFakeCatalog()
	fake.failOn["CREATE TABLE "] = errors.New(`TABLE_ALREADY_EXISTS: Table 'hive.raw.nyc_taxi_trips' already exists`)
	p := NewProvisioner(fake, nil)

	err := p.EnsureTable(context.Background(), testTable(Column{"a", "BIGINT"}))
	var catErr *Error
	if !errors.As(err, &catErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if catErr.Kind != KindConflict || !catErr.RetryableStatus() {
		t.Errorf("kind = %v retryable = %v, want retryable conflict", catErr.Kind, catErr.RetryableStatus())
	}
	if IsAlreadyExists(err) {
		t.Error("a conflict must not be reported as already-exists")
	}

	// the other writer is gone on the next attempt
	delete(fake.failOn, "CREATE TABLE ")
	fake.schemas[`"hive"."raw"`] = true
	if err := p.EnsureTable(context.Background(), testTable(Column{"a", "BIGINT"})); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestEnsureTable_MissingSchema(t *testing.T) {
	p := NewProvisioner(newFakeCatalog(), nil)

	err := p.EnsureTable(context.Background(), testTable(Column{"a", "BIGINT"}))
	if KindOf(err) != KindDependencyNotSatisfied {
		t.Fatalf("kind = %v, want dependency-not-satisfied (err=%v)", KindOf(err), err)
	}
}

func TestEnsureTable_InvalidDefinitionIssuesNothing(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"no columns", testTable()},
		{"bad type", testTable(Column{"a", "BIGINT; DROP"})},
		{"duplicate column", testTable(Column{"a", "BIGINT"}, Column{"A", "DOUBLE"})},
		{"no location", func() Table { tb := testTable(Column{"a", "BIGINT"}); tb.Location = ""; return tb }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeCatalog()
			err := NewProvisioner(fake, nil).EnsureTable(context.Background(), tt.table)
			if err == nil {
				t.Fatal("expected error")
			}
			if len(fake.stmts) != 0 {
				t.Errorf("statements issued: %v", fake.stmts)
			}
		})
	}
}

func TestDDL_QuotesIdentifiersAndLiterals(t *testing.T) {
	id := ObjectID{Catalog: "hive", Namespace: `we"ird`, Name: "t"}
	if got := id.Qualified(); got != `"hive"."we""ird"."t"` {
		t.Errorf("Qualified = %s", got)
	}
	if got := createSchemaSQL(ObjectID{Catalog: "c", Namespace: "n"}, "s3a://b/it's"); !strings.HasSuffix(got, "'s3a://b/it''s')") {
		t.Errorf("literal not escaped: %s", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"Schema 'raw' already exists", KindAlreadyExists},
		{"TABLE_ALREADY_EXISTS: x", KindAlreadyExists},
		{"Schema hive.raw does not exist", KindDependencyNotSatisfied},
		{"CATALOG_NOT_FOUND: Catalog 'x' not found", KindDependencyNotSatisfied},
		{"trino: request failed: 401 Unauthorized", KindAuth},
		{"dial tcp: lookup trino: no such host", KindUnavailable},
		{"line 1:1: mismatched input", KindStatement},
		{"query 20240101_000401_00001: line 503:12: mismatched input", KindStatement},
		{"trino: query failed (503 Service Unavailable): \"\"", KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify("SELECT 1", errors.New(tt.msg)).Kind; got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}

	if Classify("x", context.DeadlineExceeded).Kind != KindUnavailable {
		t.Error("deadline exceeded should be unavailable")
	}
	httpErrs := []struct {
		err  error
		want Kind
	}{
		{&trino.ErrQueryFailed{StatusCode: 401, Reason: errors.New("")}, KindAuth},
		{&trino.ErrQueryFailed{StatusCode: 403, Reason: errors.New("")}, KindAuth},
		{&trino.ErrQueryFailed{StatusCode: 503, Reason: errors.New("")}, KindUnavailable},
		{&trino.ErrQueryFailed{StatusCode: 200, Reason: errors.New("SCHEMA_NOT_FOUND: Schema 'raw' does not exist")}, KindDependencyNotSatisfied},
	}
	for _, tt := range httpErrs {
		if got := Classify("x", fmt.Errorf("exec: %w", tt.err)).Kind; got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	inner := &Error{Kind: KindAuth}
	if Classify("x", fmt.Errorf("wrapped: %w", inner)) != inner {
		t.Error("existing *Error should be returned as-is")
	}
}

func TestLoadTableSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	body := "columns:\n  - {name: id, type: BIGINT}\n  - {name: amount, type: \"DECIMAL(10, 2)\"}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	spec, err := LoadTableSpec(path)
	if err != nil {
		t.Fatalf("LoadTableSpec: %v", err)
	}
	if spec.Format != DefaultFormat || len(spec.Columns) != 2 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	tbl, err := TableFromSpec(ObjectID{"hive", "raw", "t"}, spec, "s3a://raw/x/")
	if err != nil {
		t.Fatalf("TableFromSpec: %v", err)
	}
	if tbl.Columns[1].Type != "DECIMAL(10, 2)" {
		t.Errorf("column type = %q", tbl.Columns[1].Type)
	}
}

func TestLoadTableSpec_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		// unquoted comma splits the flow mapping into a stray "2)" key
		{"unquoted decimal", "columns:\n  - {name: amount, type: DECIMAL(10, 2)}\n"},
		{"unknown top-level key", "location: s3a://raw/\ncolumns:\n  - {name: id, type: BIGINT}\n"},
		{"empty file", ""},
		{"no columns", "format: PARQUET\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "table.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if spec, err := LoadTableSpec(path); err == nil {
				t.Fatalf("expected error, got %+v", spec)
			}
		})
	}
}

func TestNYCTaxiSpecIsValid(t *testing.T) {
	spec := NYCTaxiSpec()
	if len(spec.Columns) != 19 {
		t.Errorf("columns = %d, want 19", len(spec.Columns))
	}
	if _, err := TableFromSpec(ObjectID{"hive", "raw", "nyc_taxi_trips"}, spec, "s3a://raw/"); err != nil {
		t.Errorf("built-in spec invalid: %v", err)
	}
}

func TestTrinoConfigDSN(t *testing.T) {
	dsn, err := TrinoConfig{Host: "trino-coordinator", Port: 8080, User: "admin", Catalog: "hive"}.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if !strings.HasPrefix(dsn, "http://admin@trino-coordinator:8080") || !strings.Contains(dsn, "catalog=hive") {
		t.Errorf("unexpected dsn %q", dsn)
	}
}
