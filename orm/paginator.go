package orm

import (
	"context"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

// Page 一页数据
// Next 是下一页第一条数据在排序字段上的值，作为下一次的 start
type Page[T any] struct {
	Items   []*T
	Next    any
	HasNext bool
}

// Paginate 按照 field 排序的游标分页
// 多取一条数据判断是否还有下一页，start 为 nil 的时候从头开始
func (s *Selector[T]) Paginate(ctx context.Context, field string, desc bool, start any, limit int) (*Page[T], error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit <= 0 {
		return nil, errs.NewErrQueryBuild(nil, "分页大小必须大于 0")
	}
	if len(s.joins) > 0 {
		return nil, errs.NewErrQueryBuild(nil, "JOIN 的查询不支持分页")
	}
	fd, ok := s.model.FieldMap[field]
	if !ok {
		return nil, errs.NewErrUnknownField(field)
	}

	sel := s.clone()
	sel.orderBy = nil
	if desc {
		sel = sel.OrderBy(Desc(field))
	} else {
		sel = sel.OrderBy(Asc(field))
	}
	if start != nil {
		if desc {
			sel = sel.Where(C(field).LTE(start))
		} else {
			sel = sel.Where(C(field).GTE(start))
		}
	}
	items, err := sel.Limit(limit + 1).GetMulti(ctx)
	if err != nil {
		return nil, err
	}
	page := &Page[T]{Items: items}
	if len(items) > limit {
		next, err := s.valCreator(items[limit], s.model).Field(fd.GoName)
		if err != nil {
			return nil, err
		}
		page.Items, page.Next, page.HasNext = items[:limit], next, true
	}
	return page, nil
}
