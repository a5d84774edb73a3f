// Package catalog provisions schemas and external tables in a SQL catalog service.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
)

// Provisioner issues idempotent DDL through an Executor.
type Provisioner struct {
	exec   Executor
	logger *slog.Logger
}

func NewProvisioner(exec Executor, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		exec:   exec,
		logger: logging.Or(logger).With("component", "catalog"),
	}
}

// EnsureSchema creates the namespace when it is missing. An existing schema is
// left untouched and reported as success even when its location differs from
// location; the catalog does not expose a portable way to read it back.
func (p *Provisioner) EnsureSchema(ctx context.Context, catalog, namespace, location string) error {
	id := ObjectID{Catalog: catalog, Namespace: namespace}
	if err := id.Validate(false); err != nil {
		return &Error{Kind: KindStatement, Err: err}
	}
	if err := p.run(ctx, createSchemaSQL(id, location)); err != nil {
		if IsAlreadyExists(err) {
			p.logger.Info("schema already exists", "schema", id.String())
			return nil
		}
		return err
	}
	p.logger.Info("schema ensured", "schema", id.String(), "location", location)
	return nil
}

// EnsureTable replaces the external table with t. The drop and create are two
// statements; if another writer recreates the table in between, EnsureTable
// returns a retryable KindConflict error and a retry converges on the last writer.
func (p *Provisioner) EnsureTable(ctx context.Context, t Table) error {
	if t.Format == "" {
		t.Format = DefaultFormat
	}
	if err := t.Validate(); err != nil {
		return &Error{Kind: KindStatement, Err: err}
	}
	if err := p.run(ctx, dropTableSQL(t.ID)); err != nil {
		return err
	}
	create := createExternalTableSQL(t)
	if err := p.run(ctx, create); err != nil {
		if IsAlreadyExists(err) {
			p.logger.Warn("table recreated by another writer after drop", "table", t.ID.String())
			return &Error{Kind: KindConflict, Statement: create, Err: err}
		}
		return err
	}
	p.logger.Info("table ensured",
		"table", t.ID.String(),
		"columns", len(t.Columns),
		"location", t.Location,
		"format", t.Format,
	)
	return nil
}

func (p *Provisioner) run(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return Classify(stmt, err)
	}
	p.logger.Debug("executing statement", "sql", summarize(stmt))
	if err := p.exec.Exec(ctx, stmt); err != nil {
		return Classify(stmt, err)
	}
	return nil
}

// TableFromSpec combines a column spec with its identity and location.
func TableFromSpec(id ObjectID, spec *TableSpec, location string) (Table, error) {
	if spec == nil {
		return Table{}, fmt.Errorf("table spec is required")
	}
	cols := make([]Column, len(spec.Columns))
	copy(cols, spec.Columns)
	t := Table{ID: id, Columns: cols, Location: location, Format: spec.Format}
	if t.Format == "" {
		t.Format = DefaultFormat
	}
	return t, t.Validate()
}
