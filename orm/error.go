package orm

import "github.com/roveil/scrudge-orm/orm/internal/errs"

// 将内部的 sentinel error 暴露出去
var (
	// ErrNoRows 代表没有找到数据
	ErrNoRows = errs.ErrNoRows

	ErrInsertZeroRow    = errs.ErrInsertZeroRow
	ErrNoUpdatedColumns = errs.ErrNoUpdatedColumns
	ErrSessionClosed    = errs.ErrSessionClosed
	ErrPoolClosed       = errs.ErrPoolClosed
	ErrNotNullable      = errs.ErrNotNullable
	ErrDuplicateInBatch = errs.ErrDuplicateInBatch
	ErrCheckViolation   = errs.ErrCheckViolation
)

// 结构化的错误，使用 errors.As 判断
type (
	SchemaError       = errs.SchemaError
	NotFoundError     = errs.NotFoundError
	QueryBuildError   = errs.QueryBuildError
	CodecError        = errs.CodecError
	FieldError        = errs.FieldError
	ValidationError   = errs.ValidationError
	PoolTimeoutError  = errs.PoolTimeoutError
	TransactionError  = errs.TransactionError
	ResourceLeakError = errs.ResourceLeakError
	BackendError      = errs.BackendError
	BackendKind       = errs.BackendKind
)

const (
	KindTransient  = errs.KindTransient
	KindUnique     = errs.KindUnique
	KindForeignKey = errs.KindForeignKey
	KindCheck      = errs.KindCheck
	KindNotNull    = errs.KindNotNull
	KindOther      = errs.KindOther
)

// IsRetryable 判断是不是可以重试的错误
func IsRetryable(err error) bool {
	return errs.IsRetryable(err)
}

// IsKind 判断是不是某一类数据库错误，例如唯一索引冲突
func IsKind(err error, kind BackendKind) bool {
	return errs.IsKind(err, kind)
}
