package orm

import (
	"context"
	"slices"

	"github.com/roveil/scrudge-orm/orm/model"
)

var (
	_ Executor     = &Deleter[any]{}
	_ QueryBuilder = &Deleter[any]{}
)

type Deleter[T any] struct {
	core
	scope Scope
	model *model.Model
	err   error

	table string
	where []Predicate

	memo *memo
}

// NewDeleter creates a new instance of Deleter.
func NewDeleter[T any](scope Scope) *Deleter[T] {
	c := scope.getCore()
	m, err := c.model(new(T))
	return &Deleter[T]{
		core:  c,
		scope: scope,
		model: m,
		err:   err,
		memo:  &memo{},
	}
}

func (d *Deleter[T]) clone() *Deleter[T] {
	res := *d
	res.where = slices.Clip(d.where)
	res.memo = &memo{}
	return &res
}

// Build generates a DELETE query based on the provided parameters.
// It returns the generated query string and any associated arguments,
// or an error if there was a problem building the query.
func (d *Deleter[T]) Build() (*Query, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.memo.get(func() (*Query, error) {
		b := newBuilder(d.core, d.model)
		b.sb.WriteString("DELETE FROM ")

		// If the table name is not provided, use the name of the T struct.
		if d.table == "" {
			b.quote(d.model.TableName)
		} else {
			b.sb.WriteString(d.table)
		}

		// If there are any WHERE clauses, add them to the query.
		if len(d.where) > 0 {
			b.sb.WriteString(" WHERE ")
			if err := b.buildPredicates(d.where); err != nil {
				return nil, err
			}
		}
		return b.query(), nil
	})
}

// From sets the table for the Deleter and returns a new Deleter.
// The table parameter specifies the name of the table to delete from.
func (d *Deleter[T]) From(table string) *Deleter[T] {
	res := d.clone()
	res.table = table
	return res
}

// Where accepts predicates and adds them to the Deleter's where clause.
//
// Parameters:
// predicates: A list of predicates to add to the where clause.
//
// Returns:
// *Deleter[T]: A new Deleter with the updated where clause.
func (d *Deleter[T]) Where(predicates ...Predicate) *Deleter[T] {
	if d.err != nil {
		return d
	}
	res := d.clone()
	if err := validatePredicates(d.model, predicates); err != nil {
		res.err = err
		return res
	}
	res.where = append(res.where, predicates...)
	return res
}

func (d *Deleter[T]) Exec(ctx context.Context) Result {
	if d.err != nil {
		return Result{err: d.err}
	}
	return exec(ctx, d.scope, &QueryContext{
		Type:    typeDelete,
		Builder: d,
		Model:   d.model,
	})
}
