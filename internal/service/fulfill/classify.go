package fulfill

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"
)

// Sentinel outcomes of the atomic decrement-and-insert operation.
var (
	// ErrOutOfStock means the conditional decrement found no stock left.
	// A business rejection, not a pipeline failure.
	ErrOutOfStock = errors.New("stock exhausted")

	// ErrDuplicateOrder means an order for this (user, goods) pair is
	// already committed. Under at-least-once delivery this is the normal
	// resolution of a redelivered win, never a failure.
	ErrDuplicateOrder = errors.New("order already exists for user and goods")

	// ErrTransientStore marks a store failure worth retrying. Wrap infra
	// errors with it to force the retry path.
	ErrTransientStore = errors.New("transient store failure")
)

// MySQL server error numbers the pipeline treats as transient.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrTooManyConns    = 1040
	mysqlErrServerGone      = 2006
	mysqlErrLostConnection  = 2013
)

// IsDuplicate reports whether the error is a duplicate-order conflict,
// including the store's uniqueness violation raised when a concurrent
// delivery committed first.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateOrder) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// IsTransient reports whether the error is a temporary infrastructure
// condition that a delayed retry can plausibly fix: lock contention,
// timeouts, lost connections, an open circuit breaker. Everything that is
// neither transient nor a business outcome is permanent and dead-letters.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientStore) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock, mysqlErrTooManyConns,
			mysqlErrServerGone, mysqlErrLostConnection:
			return true
		}
	}

	return false
}
