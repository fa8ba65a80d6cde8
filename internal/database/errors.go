package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
	ErrorClassConnection
	ErrorClassTimeout
	ErrorClassIntegrity
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassDeadlock:
		return "deadlock"
	case ErrorClassSerialization:
		return "serialization"
	case ErrorClassConnection:
		return "connection"
	case ErrorClassTimeout:
		return "timeout"
	case ErrorClassIntegrity:
		return "integrity"
	default:
		return "permanent"
	}
}

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassTimeout
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001":
			return ErrorClassSerialization
		case pqErr.Code == "40P01":
			return ErrorClassDeadlock
		case pqErr.Code == "55P03":
			return ErrorClassTransient
		case pqErr.Code == "57014":
			return ErrorClassTimeout
		case pqErr.Code == "23505", pqErr.Code == "23503", pqErr.Code == "23502", pqErr.Code == "23514":
			return ErrorClassIntegrity
		case strings.HasPrefix(string(pqErr.Code), "08"), strings.HasPrefix(string(pqErr.Code), "57P"):
			return ErrorClassConnection
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return ErrorClassConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassConnection
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsStorageUnavailable reports failures of the store itself, as opposed to
// failures caused by the data: lock waits, deadlocks, dropped connections
// and expired deadlines.
func IsStorageUnavailable(err error) bool {
	switch ClassifyError(err) {
	case ErrorClassTransient, ErrorClassDeadlock, ErrorClassSerialization,
		ErrorClassConnection, ErrorClassTimeout:
		return true
	}
	return false
}

// IsUniqueViolation reports a 23505 error, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports a 23503 error.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("username already exists")
	ErrEmailExists          = errors.New("email already exists")
	ErrGameNotFound         = errors.New("game not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrCartItemNotFound     = errors.New("item not found in cart")
	ErrCartQuantityLimit    = errors.New("cart line quantity limit exceeded")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrInvalidTransition    = errors.New("invalid order status transition")
)
