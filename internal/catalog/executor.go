package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/trinodb/trino-go-client/trino"
)

// Executor submits a single DDL statement and reports its outcome.
type Executor interface {
	Exec(ctx context.Context, stmt string) error
	Close() error
}

// TrinoConfig locates the SQL catalog service.
type TrinoConfig struct {
	Host    string
	Port    int
	User    string
	Catalog string
	Timeout time.Duration
}

// DSN renders the trino-go-client data source name.
func (c TrinoConfig) DSN() (string, error) {
	server := url.URL{
		Scheme: "http",
		User:   url.User(c.User),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
	}
	cfg := trino.Config{
		ServerURI: server.String(),
		Source:    "lakehouse",
		Catalog:   c.Catalog,
		Schema:    "default",
	}
	return cfg.FormatDSN()
}

// SQLExecutor runs statements over database/sql with the Trino driver.
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLExecutor opens a connection pool. The service is not contacted until
// the first statement.
func NewSQLExecutor(cfg TrinoConfig) (*SQLExecutor, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("build trino dsn: %w", err)
	}
	db, err := sql.Open("trino", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewSQLExecutorWithDB(db, cfg.Timeout), nil
}

// NewSQLExecutorWithDB reuses an existing *sql.DB.
func NewSQLExecutorWithDB(db *sql.DB, timeout time.Duration) *SQLExecutor {
	return &SQLExecutor{db: db, timeout: timeout}
}

// Exec runs stmt to completion. Trino reports DDL failures while the result is
// consumed, so the rows are drained rather than discarded.
func (e *SQLExecutor) Exec(ctx context.Context, stmt string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, stmt)
	if err != nil {
		return Classify(stmt, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return Classify(stmt, err)
	}
	return nil
}

func (e *SQLExecutor) Close() error {
	return e.db.Close()
}
