package dao

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// dialect holds the few places where MySQL and SQLite SQL differ.
type dialect struct {
	// distinct renders a null-safe "column differs from the bound value" test.
	distinct          func(col string) string
	isUniqueViolation func(err error) bool
	retry             bool
}

var mysqlDialect = dialect{
	distinct:          func(col string) string { return "NOT (" + col + " <=> ?)" },
	isUniqueViolation: isMySQLDuplicateKey,
	retry:             true,
}

var sqliteDialect = dialect{
	distinct:          func(col string) string { return col + " IS NOT ?" },
	isUniqueViolation: isSQLiteUniqueViolation,
}

const retryMaxElapsed = 15 * time.Second

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// withRetry runs op, retrying transient connection errors when the dialect talks to a
// network server.
func (d dialect) withRetry(ctx context.Context, op func() error) error {
	if !d.retry {
		return op()
	}
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, transient := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection", // MySQL 2013
		"gone away",       // MySQL 2006
		"i/o timeout",
	} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

const mysqlErrDuplicateEntry = 1062

func isMySQLDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
