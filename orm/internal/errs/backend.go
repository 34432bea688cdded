package errs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// BackendKind 数据库返回错误的分类
type BackendKind string

const (
	KindTransient  BackendKind = "transient"
	KindUnique     BackendKind = "unique"
	KindForeignKey BackendKind = "foreign_key"
	KindCheck      BackendKind = "check"
	KindNotNull    BackendKind = "not_null"
	KindOther      BackendKind = "other"
)

// BackendError 包装 driver 返回的错误
type BackendError struct {
	Kind BackendKind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("orm: backend error (%s): %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Retryable 只有瞬时错误才值得重试
func (e *BackendError) Retryable() bool {
	return e.Kind == KindTransient
}

// IsRetryable 判断 err 链上是否有可重试的 BackendError
func IsRetryable(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Retryable()
}

// IsKind 判断 err 链上是否有对应分类的 BackendError
func IsKind(err error, kind BackendKind) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == kind
}

// Classify 把 driver 错误包装成 BackendError
// 已经分类过的错误、上下文错误以及 sql.ErrNoRows 原样返回
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrNoRows) || errors.Is(err, sql.ErrTxDone) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Kind: kindOf(err), Err: err}
}

// PostgreSQL SQLSTATE
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgNotNullViolation     = "23502"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgConnectionClass      = "08"
)

// MySQL error numbers
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
	mysqlCheckViolation   = 3819
	mysqlBadNull          = 1048
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
)

// modernc.org/sqlite 返回的是 sqlite 的原始错误码
const (
	sqliteBusy                 = 5
	sqliteLocked               = 6
	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintNotNull    = 1299
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func kindOf(err error) BackendKind {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return KindTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgKind(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgKind(string(pqErr.Code))
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return KindUnique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return KindForeignKey
		case mysqlCheckViolation:
			return KindCheck
		case mysqlBadNull:
			return KindNotNull
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return KindTransient
		}
		return KindOther
	}

	// mattn/go-sqlite3 返回的是值类型
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return KindUnique
		case sqlite3.ErrConstraintForeignKey:
			return KindForeignKey
		case sqlite3.ErrConstraintCheck:
			return KindCheck
		case sqlite3.ErrConstraintNotNull:
			return KindNotNull
		}
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return KindTransient
		}
		return KindOther
	}

	var mcErr *sqlite.Error
	if errors.As(err, &mcErr) {
		code := mcErr.Code()
		switch code {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return KindUnique
		case sqliteConstraintForeignKey:
			return KindForeignKey
		case sqliteConstraintCheck:
			return KindCheck
		case sqliteConstraintNotNull:
			return KindNotNull
		}
		if code&0xff == sqliteBusy || code&0xff == sqliteLocked {
			return KindTransient
		}
		return KindOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return kindOfMessage(err.Error())
}

func pgKind(code string) BackendKind {
	switch code {
	case pgUniqueViolation:
		return KindUnique
	case pgForeignKeyViolation:
		return KindForeignKey
	case pgCheckViolation:
		return KindCheck
	case pgNotNullViolation:
		return KindNotNull
	case pgSerializationFailure, pgDeadlockDetected:
		return KindTransient
	}
	if strings.HasPrefix(code, pgConnectionClass) {
		return KindTransient
	}
	return KindOther
}

// kindOfMessage 兜底，给没有实现错误码的 driver 用
func kindOfMessage(msg string) BackendKind {
	switch {
	case containsAny(msg, "UNIQUE constraint failed", "violates unique constraint", "Error 1062"):
		return KindUnique
	case containsAny(msg, "FOREIGN KEY constraint failed", "violates foreign key constraint",
		"Error 1451", "Error 1452"):
		return KindForeignKey
	case containsAny(msg, "CHECK constraint failed", "violates check constraint", "Error 3819"):
		return KindCheck
	case containsAny(msg, "NOT NULL constraint failed", "violates not-null constraint"):
		return KindNotNull
	case containsAny(msg, "database is locked", "deadlock", "connection reset", "broken pipe",
		"connection refused", "bad connection"):
		return KindTransient
	}
	return KindOther
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
