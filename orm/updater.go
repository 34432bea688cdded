package orm

import (
	"context"
	"slices"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

var (
	_ Executor     = &Updater[any]{}
	_ QueryBuilder = &Updater[any]{}
)

type Updater[T any] struct {
	core
	scope   Scope
	model   *model.Model
	err     error
	assigns []Assignable // 由于处理 name=zheng
	val     *T           // 更新用的结构体
	where   []Predicate

	memo *memo
}

func NewUpdater[T any](scope Scope) *Updater[T] {
	c := scope.getCore()
	m, err := c.model(new(T))
	return &Updater[T]{
		core:  c,
		scope: scope,
		model: m,
		err:   err,
		memo:  &memo{},
	}
}

func (u *Updater[T]) clone() *Updater[T] {
	res := *u
	res.assigns = slices.Clip(u.assigns)
	res.where = slices.Clip(u.where)
	res.memo = &memo{}
	return &res
}

func (u *Updater[T]) fail(err error) *Updater[T] {
	res := u.clone()
	if res.err == nil {
		res.err = err
	}
	return res
}

// Update Set 里面的 C("Name") 从这个实例上取值
func (u *Updater[T]) Update(t *T) *Updater[T] {
	res := u.clone()
	res.val = t
	return res
}

func (u *Updater[T]) Set(assigns ...Assignable) *Updater[T] {
	if u.err != nil {
		return u
	}
	if err := validateAssigns(u.model, assigns); err != nil {
		return u.fail(err)
	}
	res := u.clone()
	res.assigns = append(res.assigns, assigns...)
	return res
}

// Where 多次调用的时候，条件之间是 AND
func (u *Updater[T]) Where(ps ...Predicate) *Updater[T] {
	if u.err != nil {
		return u
	}
	if err := validatePredicates(u.model, ps); err != nil {
		return u.fail(err)
	}
	res := u.clone()
	res.where = append(res.where, ps...)
	return res
}

func (u *Updater[T]) Build() (*Query, error) {
	if u.err != nil {
		return nil, u.err
	}
	return u.memo.get(u.build)
}

func (u *Updater[T]) build() (*Query, error) {
	if len(u.assigns) == 0 {
		return nil, errs.ErrNoUpdatedColumns
	}
	b := newBuilder(u.core, u.model)
	b.sb.WriteString("UPDATE ")
	b.quote(u.model.TableName)
	b.sb.WriteString(" SET ")
	for i, a := range u.assigns {
		if i > 0 {
			b.sb.WriteByte(',')
		}
		switch assign := a.(type) {
		case Column:
			if u.val == nil {
				return nil, errs.NewErrQueryBuild(nil, "使用 C(%q) 赋值需要先调用 Update", assign.name)
			}
			v, err := u.valCreator(u.val, u.model).Field(assign.name)
			if err != nil {
				return nil, err
			}
			if err = b.buildAssignment(Assign(assign.name, v)); err != nil {
				return nil, err
			}
		case Assignment:
			if err := b.buildAssignment(assign); err != nil {
				return nil, err
			}
		}
	}
	if len(u.where) > 0 {
		b.sb.WriteString(" WHERE ")
		if err := b.buildPredicates(u.where); err != nil {
			return nil, err
		}
	}
	return b.query(), nil
}

func (u *Updater[T]) Exec(ctx context.Context) Result {
	if u.err != nil {
		return Result{err: u.err}
	}
	return exec(ctx, u.scope, &QueryContext{
		Type:    typeUpdate,
		Builder: u,
		Model:   u.model,
	})
}
