package postgres

import (
	"errors"
	"fmt"
	"strings"
)

// Lifecycle misuse of a Manager.
var (
	ErrNotInitialized     = errors.New("connection pool has not been initialized")
	ErrAlreadyInitialized = errors.New("connection pool is already initialized")
	ErrClosed             = errors.New("connection pool has been shut down")
	ErrTxDone             = errors.New("the read-only transaction has already finished")
)

// ConnectivityError reports that the database could not be reached, authenticated
// against, or negotiated with within the connect timeout.
type ConnectivityError struct {
	Addr string
	Err  error
}

// Error names the address and the driver error.
func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach postgres at %s: %v", e.Addr, e.Err)
}

// Unwrap returns the driver error.
func (e *ConnectivityError) Unwrap() error { return e.Err }

// QueryError reports a failed statement. The connection is already back in the pool.
type QueryError struct {
	Query string
	Err   error
}

// Error quotes the abbreviated statement.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q failed: %v", abbreviate(e.Query), e.Err)
}

// Unwrap returns the driver error.
func (e *QueryError) Unwrap() error { return e.Err }

// ShutdownError reports a failure while closing pooled connections.
type ShutdownError struct {
	Err error
}

// Error wraps the close failure.
func (e *ShutdownError) Error() string {
	return "closing connection pool: " + e.Err.Error()
}

// Unwrap returns the close failure.
func (e *ShutdownError) Unwrap() error { return e.Err }

// abbreviate collapses whitespace and cuts the query to 80 characters for logs.
func abbreviate(query string) string {
	q := []rune(strings.Join(strings.Fields(query), " "))
	if len(q) > 80 {
		return string(q[:77]) + "..."
	}
	return string(q)
}
