package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/trinodb/trino-go-client/trino"
)

// Kind classifies a catalog service failure.
type Kind int

const (
	// KindStatement is any DDL failure not covered by a more specific kind.
	KindStatement Kind = iota
	// KindAlreadyExists means the object is already present; provisioning treats it as success.
	KindAlreadyExists
	// KindDependencyNotSatisfied means a parent object (catalog or schema) is missing.
	KindDependencyNotSatisfied
	// KindUnavailable covers network failures and timeouts talking to the service.
	KindUnavailable
	// KindAuth covers rejected credentials or missing privileges.
	KindAuth
	// KindConflict means another writer changed the object between our statements.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "E_ALREADY_EXISTS"
	case KindDependencyNotSatisfied:
		return "E_DEPENDENCY_NOT_SATISFIED"
	case KindUnavailable:
		return "E_CATALOG_UNAVAILABLE"
	case KindAuth:
		return "E_CATALOG_AUTH"
	case KindConflict:
		return "E_CATALOG_CONFLICT"
	default:
		return "E_CATALOG_STATEMENT"
	}
}

// Error is returned by Executor implementations and the Provisioner.
type Error struct {
	Kind      Kind
	Statement string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, summarize(e.Statement), e.Err)
}

func (e *Error) Unwrap() error     { return e.Err }
func (e *Error) CodeValue() string { return e.Kind.String() }

// RetryableStatus reports whether repeating the statement may succeed.
func (e *Error) RetryableStatus() bool {
	return e.Kind == KindUnavailable || e.Kind == KindConflict
}

// IsAlreadyExists reports whether err is a catalog "already exists" failure.
func IsAlreadyExists(err error) bool {
	var catErr *Error
	return errors.As(err, &catErr) && catErr.Kind == KindAlreadyExists
}

// KindOf returns the kind of err, or KindStatement when err is not a *Error.
func KindOf(err error) Kind {
	var catErr *Error
	if errors.As(err, &catErr) {
		return catErr.Kind
	}
	return KindStatement
}

// Classify wraps a raw driver error into a *Error.
//
// HTTP failures are classified by status code. Query failures only carry text
// (error name plus message), so those are matched on the lowercased message.
// Classification happens once, here; callers branch on Kind.
func Classify(stmt string, err error) *Error {
	if err == nil {
		return nil
	}
	var catErr *Error
	if errors.As(err, &catErr) {
		return catErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUnavailable, Statement: stmt, Err: err}
	}
	// HTTP-level failures carry their status. Query failures arrive as 200.
	var qf *trino.ErrQueryFailed
	if errors.As(err, &qf) {
		switch qf.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Kind: KindAuth, Statement: stmt, Err: err}
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &Error{Kind: KindUnavailable, Statement: stmt, Err: err}
		}
	}

	msg := strings.ToLower(err.Error())
	kind := KindStatement
	switch {
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "schema_already_exists"),
		strings.Contains(msg, "table_already_exists"):
		kind = KindAlreadyExists
	case strings.Contains(msg, "schema_not_found"),
		strings.Contains(msg, "catalog_not_found"),
		strings.Contains(msg, "catalog_not_available"),
		strings.Contains(msg, "does not exist") && (strings.Contains(msg, "schema") || strings.Contains(msg, "catalog")):
		kind = KindDependencyNotSatisfied
	case strings.Contains(msg, "401 unauthorized"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "permission_denied"):
		kind = KindAuth
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "503 service unavailable"),
		strings.Contains(msg, "server_starting_up"):
		kind = KindUnavailable
	}
	return &Error{Kind: kind, Statement: stmt, Err: err}
}

func summarize(stmt string) string {
	s := strings.Join(strings.Fields(stmt), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
