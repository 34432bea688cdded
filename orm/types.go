package orm

import (
	"context"
)

type Querier[T any] interface {
	// Get retrieves a T object from the database.
	// It takes a context as input and returns a pointer to T and an error.
	Get(ctx context.Context) (*T, error)
	GetMulti(ctx context.Context) ([]*T, error)
}

type Executor interface {
	Exec(ctx context.Context) Result
}

// Query 构造好的语句，Args 按照占位符的顺序排列
type Query struct {
	SQL  string
	Args []any
}

// Build Query 本身也是一个 QueryBuilder，方便直接执行原生语句
func (q *Query) Build() (*Query, error) {
	return q, nil
}

type QueryBuilder interface {
	Build() (*Query, error)
}
