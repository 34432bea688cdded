package orm

import (
	"context"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

var (
	_ Querier[any] = &RawQuerier[any]{}
	_ Executor     = &RawQuerier[any]{}
)

type RawQuerier[T any] struct {
	core
	scope Scope
	model *model.Model
	// err 只在解码的时候需要模型，Exec 和 Execute 不受影响
	err  error
	sql  string
	args []any
}

// RawQuery 创建一个 RawQuerier 实例
// 泛型参数 T 是目标类型。
// 例如，如果查询 User 的数据，那么 T 就是 User
// 参数使用 ? 占位，Postgres 上会被替换成 $n
func RawQuery[T any](scope Scope, query string, args ...any) *RawQuerier[T] {
	c := scope.getCore()
	m, err := c.model(new(T))
	return &RawQuerier[T]{
		core:  c,
		scope: scope,
		model: m,
		err:   err,
		sql:   query,
		args:  args,
	}
}

func (r *RawQuerier[T]) Build() (*Query, error) {
	b := newBuilder(r.core, r.model)
	b.raw(r.sql, r.args)
	return &Query{
		SQL:  b.sb.String(),
		Args: b.args,
	}, nil
}

func (r *RawQuerier[T]) queryContext() *QueryContext {
	return &QueryContext{
		Type:    typeRaw,
		Builder: r,
		Model:   r.model,
	}
}

func (r *RawQuerier[T]) Exec(ctx context.Context) Result {
	return exec(ctx, r.scope, r.queryContext())
}

// Get 返回第一行，没有数据的时候返回 ErrNoRows
func (r *RawQuerier[T]) Get(ctx context.Context) (*T, error) {
	res, err := r.GetMulti(ctx)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errs.ErrNoRows
	}
	return res[0], nil
}

func (r *RawQuerier[T]) GetMulti(ctx context.Context) ([]*T, error) {
	if r.err != nil {
		return nil, r.err
	}
	rs, err := query(ctx, r.scope, r.queryContext())
	if err != nil {
		return nil, err
	}
	items, err := decodeRows(r.core, r.model, rs)
	if err != nil {
		return nil, err
	}
	res := make([]*T, len(items))
	for i, item := range items {
		res[i] = item.(*T)
	}
	return res, nil
}
