package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrCircuitOpen is returned when the breaker for an operation rejects the call
// without attempting it.
var ErrCircuitOpen = errors.New("circuit open")

// ErrTimeout is returned when an operation exceeds its deadline. The underlying
// call may still complete; callers must treat this as "unknown outcome".
var ErrTimeout = errors.New("operation timed out")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retriable regardless of its underlying type.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetriable classifies an error. Connection failures, timeouts and database
// deadlocks are retriable; constraint violations, malformed queries and anything
// wrapped with Permanent are not. Unclassified errors are treated as retriable
// so that flaky external collaborators get the benefit of the retry loop.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retriablePgCode(pgErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return true
}

func retriablePgCode(code string) bool {
	switch code {
	case "40001", "40P01": // serialization failure, deadlock detected
		return true
	}
	// connection exceptions and admin shutdowns come back once the server does
	if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57") {
		return true
	}
	// integrity violations, data exceptions, syntax errors and the rest
	return false
}
