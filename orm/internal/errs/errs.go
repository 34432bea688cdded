package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPointerOnly 只支持一级指针作为输入
	// 看到这个 error 说明你输入了其它的东西
	// 我们并不希望用户能够直接使用 err == ErrPointerOnly
	// 所以放在我们的 internal 包里
	ErrPointerOnly = errors.New("orm: 只支持一级指针作为输入，例如 *User")

	// ErrNoRows 代表没有找到数据
	ErrNoRows = errors.New("orm: 未找到数据")

	ErrInsertZeroRow          = errors.New("orm: 插入 0 行")
	ErrNoUpdatedColumns       = errors.New("orm: 未指定更新的列")
	ErrTooManyReturnedColumns = errors.New("orm: 过多列")
	ErrSessionClosed          = errors.New("orm: session 已经释放")
	ErrPoolClosed             = errors.New("orm: 连接池已经关闭")

	// ErrNotNullable 非空字段拿到了 NULL
	ErrNotNullable = errors.New("orm: 字段不允许为 NULL")
	// ErrDuplicateInBatch 同一批插入的数据里，唯一字段出现了重复值
	ErrDuplicateInBatch = errors.New("orm: 同一批数据中唯一字段重复")
	// ErrCheckViolation 字段不满足 gt ge lt le 之类的约束
	ErrCheckViolation = errors.New("orm: 字段不满足约束")
)

// SchemaError 模型声明不合法，在注册阶段返回
type SchemaError struct {
	Model  string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	var sb strings.Builder
	sb.WriteString("orm: schema error")
	if e.Model != "" {
		sb.WriteString(" in model ")
		sb.WriteString(e.Model)
	}
	if e.Field != "" {
		sb.WriteString(" field ")
		sb.WriteString(e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	return sb.String()
}

func NewErrSchema(model, field, format string, args ...any) error {
	return &SchemaError{Model: model, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func NewErrInvalidTagContent(tag string) error {
	return &SchemaError{Reason: fmt.Sprintf("错误的标签设置: %s", tag)}
}

// NotFoundError 找不到模型或者关联关系
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("orm: %s %s not found", e.Kind, e.Name)
}

func NewErrModelNotFound(name string) error {
	return &NotFoundError{Kind: "model", Name: name}
}

func NewErrRelationNotFound(model, name string) error {
	return &NotFoundError{Kind: "relation", Name: model + "." + name}
}

// QueryBuildError 构造 SQL 过程中发现的问题，不会被重试
type QueryBuildError struct {
	Reason string
	Err    error
}

func (e *QueryBuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orm: %s: %v", e.Reason, e.Err)
	}
	return "orm: " + e.Reason
}

func (e *QueryBuildError) Unwrap() error {
	return e.Err
}

func NewErrUnknownField(name string) error {
	return &QueryBuildError{Reason: fmt.Sprintf("未知字段 %s", name)}
}

func NewErrUnknownColumn(name string) error {
	return &QueryBuildError{Reason: fmt.Sprintf("未知列 %s", name)}
}

func NewErrUnknownRelation(name string) error {
	return &QueryBuildError{Reason: fmt.Sprintf("未知关联关系 %s", name)}
}

func NewErrRelationNotJoined(name string) error {
	return &QueryBuildError{Reason: fmt.Sprintf("关联关系 %s 没有 JOIN", name)}
}

func NewErrUnsupportedExpressionType(expr any) error {
	return &QueryBuildError{Reason: fmt.Sprintf("不支持的表达式 %v", expr)}
}

func NewErrUnsupportedSelectable(exp any) error {
	return &QueryBuildError{Reason: fmt.Sprintf("不支持的目标列 %v", exp)}
}

func NewErrUnsupportedAssignableType(exp any) error {
	return &QueryBuildError{Reason: fmt.Sprintf("不支持的 Assignable 表达式 %v", exp)}
}

func NewErrQueryBuild(err error, format string, args ...any) error {
	return &QueryBuildError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// CodecError 编码或者解码失败，例如越界或者格式不对
type CodecError struct {
	Type  string
	Value any
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("orm: codec %s cannot handle %T(%v): %v", e.Type, e.Value, e.Value, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func NewErrCodec(typ string, val any, format string, args ...any) error {
	return &CodecError{Type: typ, Value: val, Err: fmt.Errorf(format, args...)}
}

// FieldError 单个字段的失败原因
type FieldError struct {
	// Row 批量插入时的下标，其它情况下为 -1
	Row   int
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("[%d].%s: %v", e.Row, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidationError 汇总一次解码或者一次写入里面所有失败的字段
type ValidationError struct {
	Model  string
	Fields []*FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("orm: %s validation failed: %s", e.Model, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error {
	res := make([]error, 0, len(e.Fields))
	for _, f := range e.Fields {
		res = append(res, f)
	}
	return res
}

// Has 判断某个字段是否失败
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// PoolTimeoutError 在 acquire timeout 之内没有拿到连接
type PoolTimeoutError struct {
	Waited time.Duration
	Size   int
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("orm: no free connection after %s (pool size %d)", e.Waited, e.Size)
}

// TransactionError 事务状态机的非法操作
type TransactionError struct {
	Op     string
	State  string
	Reason string
}

func (e *TransactionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("orm: cannot %s transaction in state %s: %s", e.Op, e.State, e.Reason)
	}
	return fmt.Sprintf("orm: cannot %s transaction in state %s", e.Op, e.State)
}

// ResourceLeakError session 被释放时事务还没有结束
// 事务已经被自动回滚
type ResourceLeakError struct {
	Session string
	// Err 自动回滚失败的原因
	Err error
}

func (e *ResourceLeakError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orm: session %s released with an open transaction, rollback failed: %v", e.Session, e.Err)
	}
	return fmt.Sprintf("orm: session %s released with an open transaction, rolled back", e.Session)
}

func (e *ResourceLeakError) Unwrap() error {
	return e.Err
}
