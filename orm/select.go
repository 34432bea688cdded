package orm

import (
	"context"
	"slices"

	"github.com/roveil/scrudge-orm/orm/codec"
	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

var (
	_ Querier[any] = &Selector[any]{}
	_ QueryBuilder = &Selector[any]{}
)

// Selector represents a query selector that allows building SQL SELECT statements.
// 每个修改方法都返回一个新的 Selector，原来的不受影响
type Selector[T any] struct {
	core
	scope Scope
	model *model.Model
	// err 链式调用过程中的第一个错误，Build 的时候返回
	err error

	table   string      // table is the name of the table to select from.
	where   []Predicate // where holds the WHERE predicates for the query.
	having  []Predicate
	columns []Selectable
	groupBy []Column
	orderBy []OrderBy
	joins   []join
	offset  int
	limit   int

	memo *memo
}

type join struct {
	rel  *model.Relation
	left bool
}

// NewSelector creates a new instance of Selector.
func NewSelector[T any](scope Scope) *Selector[T] {
	c := scope.getCore()
	m, err := c.model(new(T))
	return &Selector[T]{
		core:  c,
		scope: scope,
		model: m,
		err:   err,
		memo:  &memo{},
	}
}

// clone 切片都被截断了容量，append 的时候一定会复制
func (s *Selector[T]) clone() *Selector[T] {
	res := *s
	res.where = slices.Clip(s.where)
	res.having = slices.Clip(s.having)
	res.columns = slices.Clip(s.columns)
	res.groupBy = slices.Clip(s.groupBy)
	res.orderBy = slices.Clip(s.orderBy)
	res.joins = slices.Clip(s.joins)
	res.memo = &memo{}
	return &res
}

func (s *Selector[T]) fail(err error) *Selector[T] {
	res := s.clone()
	if res.err == nil {
		res.err = err
	}
	return res
}

// Select 检索指定 column
func (s *Selector[T]) Select(cols ...Selectable) *Selector[T] {
	if s.err != nil {
		return s
	}
	for _, c := range cols {
		switch col := c.(type) {
		case Column:
			if err := validate(s.model, col); err != nil {
				return s.fail(err)
			}
		case Aggregate:
			if err := validate(s.model, col); err != nil {
				return s.fail(err)
			}
		case RawExpr:
		default:
			return s.fail(errs.NewErrUnsupportedSelectable(c))
		}
	}
	res := s.clone()
	res.columns = cols
	return res
}

// From sets the table name for the selector.
// 这里没有处理 添加`符号，让用户自己应该名字自己在做什么
func (s *Selector[T]) From(tbl string) *Selector[T] {
	res := s.clone()
	res.table = tbl
	return res
}

// Where 用于构造 WHERE 查询条件。多次调用的时候，条件之间是 AND
func (s *Selector[T]) Where(ps ...Predicate) *Selector[T] {
	if s.err != nil {
		return s
	}
	if err := validatePredicates(s.model, ps); err != nil {
		return s.fail(err)
	}
	res := s.clone()
	res.where = append(res.where, ps...)
	return res
}

func (s *Selector[T]) GroupBy(cols ...Column) *Selector[T] {
	if s.err != nil {
		return s
	}
	for _, c := range cols {
		if err := validate(s.model, c); err != nil {
			return s.fail(err)
		}
	}
	res := s.clone()
	res.groupBy = append(res.groupBy, cols...)
	return res
}

func (s *Selector[T]) Having(ps ...Predicate) *Selector[T] {
	if s.err != nil {
		return s
	}
	if err := validatePredicates(s.model, ps); err != nil {
		return s.fail(err)
	}
	res := s.clone()
	res.having = append(res.having, ps...)
	return res
}

func (s *Selector[T]) Offset(offset int) *Selector[T] {
	res := s.clone()
	res.offset = offset
	return res
}

func (s *Selector[T]) Limit(limit int) *Selector[T] {
	res := s.clone()
	res.limit = limit
	return res
}

func (s *Selector[T]) OrderBy(orderBys ...OrderBy) *Selector[T] {
	if s.err != nil {
		return s
	}
	for _, ob := range orderBys {
		if err := validate(s.model, C(ob.col)); err != nil {
			return s.fail(err)
		}
	}
	res := s.clone()
	res.orderBy = append(res.orderBy, orderBys...)
	return res
}

// Join INNER JOIN 一个关联关系
// 一对多的时候，同一个实例会出现在多行里面，返回之前会合并
func (s *Selector[T]) Join(relation string) *Selector[T] {
	return s.join(relation, false)
}

// LeftJoin 没有关联数据的实例也会返回，Related 为空
func (s *Selector[T]) LeftJoin(relation string) *Selector[T] {
	return s.join(relation, true)
}

func (s *Selector[T]) join(relation string, left bool) *Selector[T] {
	if s.err != nil {
		return s
	}
	rel, ok := s.model.RelationMap[relation]
	if !ok {
		return s.fail(errs.NewErrUnknownRelation(relation))
	}
	if slices.ContainsFunc(s.joins, func(j join) bool { return j.rel == rel }) {
		return s
	}
	res := s.clone()
	res.joins = append(res.joins, join{rel: rel, left: left})
	return res
}

// Build generates a SQL query for selecting all columns from a table.
// 结果会被缓存，多次调用返回同一个 Query
func (s *Selector[T]) Build() (*Query, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.memo.get(s.build)
}

func (s *Selector[T]) build() (*Query, error) {
	b := newBuilder(s.core, s.model)
	if len(s.joins) > 0 {
		b.qualify = true
		b.joined = make(map[string]*model.Relation, len(s.joins))
		for _, j := range s.joins {
			b.joined[j.rel.Name] = j.rel
		}
	}

	b.sb.WriteString("SELECT ")
	if err := s.buildColumns(b); err != nil {
		return nil, err
	}
	b.sb.WriteString(" FROM ")
	if s.table == "" {
		b.quote(s.model.TableName)
	} else {
		b.sb.WriteString(s.table)
	}
	for _, j := range s.joins {
		s.buildJoin(b, j)
	}

	// construct where
	if len(s.where) > 0 {
		// 类似这种可有可无的部分，都要在前面加一个空格
		b.sb.WriteString(" WHERE ")
		if err := b.buildPredicates(s.where); err != nil {
			return nil, err
		}
	}

	// 分组
	if len(s.groupBy) > 0 {
		b.sb.WriteString(" GROUP BY ")
		for i, c := range s.groupBy {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			if _, err := b.buildColumn(c); err != nil {
				return nil, err
			}
		}
	}

	// 筛选
	if len(s.having) > 0 {
		b.sb.WriteString(" HAVING ")
		if err := b.buildPredicates(s.having); err != nil {
			return nil, err
		}
	}

	// 排序
	if err := s.buildOrderBy(b); err != nil {
		return nil, err
	}

	// 分页
	if s.limit > 0 {
		b.sb.WriteString(" LIMIT ")
		b.param(s.limit)
	}

	// 偏移量
	if s.offset > 0 {
		b.sb.WriteString(" OFFSET ")
		b.param(s.offset)
	}

	return b.query(), nil
}

// buildColumns JOIN 的时候，关联模型的列使用 Relation__column 作为别名
func (s *Selector[T]) buildColumns(b *builder) error {
	if len(s.columns) == 0 {
		if len(s.joins) == 0 {
			b.sb.WriteByte('*')
			return nil
		}
		for i, fd := range s.model.Fields {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			b.quote(s.model.TableName)
			b.sb.WriteByte('.')
			b.quote(fd.ColName)
		}
		for _, j := range s.joins {
			for _, fd := range j.rel.Target.Fields {
				b.sb.WriteByte(',')
				b.quote(j.rel.Name)
				b.sb.WriteByte('.')
				b.quote(fd.ColName)
				b.buildAs(j.rel.Name + "__" + fd.ColName)
			}
		}
		return nil
	}

	for i, c := range s.columns {
		if i > 0 {
			b.sb.WriteByte(',')
		}

		switch val := c.(type) {
		case Column:
			fd, err := b.buildColumn(val)
			if err != nil {
				return err
			}
			alias := val.alias
			if _, rel, _ := resolveField(s.model, val.name); rel != nil && alias == "" {
				alias = rel.Name + "__" + fd.ColName
			}
			// 有的时候不需要拼接别名
			b.buildAs(alias)
		case Aggregate:
			if err := b.buildAggregate(val); err != nil {
				return err
			}
			b.buildAs(val.alias)
		case RawExpr:
			b.raw(val.raw, val.args)
		}
	}
	return nil
}

// buildJoin ON `Relation`.`remote`=`table`.`local`
// 多对多先 JOIN 中间表，中间表的别名是 Relation__j
func (s *Selector[T]) buildJoin(b *builder, j join) {
	kw := " JOIN "
	if j.left {
		kw = " LEFT JOIN "
	}
	rel := j.rel
	if rel.Kind != model.ManyToMany {
		b.sb.WriteString(kw)
		b.quote(rel.Target.TableName)
		b.buildAs(rel.Name)
		b.sb.WriteString(" ON ")
		b.quote(rel.Name)
		b.sb.WriteByte('.')
		b.quote(rel.Remote.ColName)
		b.sb.WriteByte('=')
		b.quote(s.model.TableName)
		b.sb.WriteByte('.')
		b.quote(rel.Local.ColName)
		return
	}

	junction, ownerCol, targetCol := rel.JoinTable, rel.JoinOwnerColumn, rel.JoinTargetColumn
	if rel.Through != nil {
		junction, ownerCol, targetCol = rel.Through.TableName, rel.ThroughOwner.ColName, rel.ThroughTarget.ColName
	}
	alias := rel.Name + "__j"
	b.sb.WriteString(kw)
	b.quote(junction)
	b.buildAs(alias)
	b.sb.WriteString(" ON ")
	b.quote(alias)
	b.sb.WriteByte('.')
	b.quote(ownerCol)
	b.sb.WriteByte('=')
	b.quote(s.model.TableName)
	b.sb.WriteByte('.')
	b.quote(rel.Local.ColName)

	b.sb.WriteString(kw)
	b.quote(rel.Target.TableName)
	b.buildAs(rel.Name)
	b.sb.WriteString(" ON ")
	b.quote(rel.Name)
	b.sb.WriteByte('.')
	b.quote(rel.Remote.ColName)
	b.sb.WriteByte('=')
	b.quote(alias)
	b.sb.WriteByte('.')
	b.quote(targetCol)
}

// buildOrderBy 分页的时候，如果排序里面没有唯一的字段，追加主键保证顺序稳定
func (s *Selector[T]) buildOrderBy(b *builder) error {
	orderBy := s.orderBy
	if (s.limit > 0 || s.offset > 0) && s.model.PK != nil {
		unique := slices.ContainsFunc(orderBy, func(ob OrderBy) bool {
			fd, ok := s.model.FieldMap[ob.col]
			return ok && fd.Unique
		})
		if !unique {
			orderBy = append(slices.Clip(orderBy), Asc(s.model.PK.GoName))
		}
	}
	if len(orderBy) == 0 {
		return nil
	}
	b.sb.WriteString(" ORDER BY ")
	for i, ob := range orderBy {
		if i > 0 {
			b.sb.WriteByte(',')
		}
		if _, err := b.buildColumn(C(ob.col)); err != nil {
			return err
		}
		b.sb.WriteByte(' ')
		b.sb.WriteString(ob.order)
	}
	return nil
}

// tables 语句涉及到的表，给缓存之类的中间件使用
func (s *Selector[T]) tables() []string {
	res := []string{s.model.TableName}
	for _, j := range s.joins {
		res = append(res, j.rel.Target.TableName)
		switch {
		case j.rel.Through != nil:
			res = append(res, j.rel.Through.TableName)
		case j.rel.JoinTable != "":
			res = append(res, j.rel.JoinTable)
		}
	}
	return res
}

func (s *Selector[T]) queryContext() *QueryContext {
	return &QueryContext{
		Type:    typeSelect,
		Builder: s,
		Model:   s.model,
		Tables:  s.tables(),
	}
}

func (s *Selector[T]) execute(ctx context.Context) (*ResultSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	return query(ctx, s.scope, s.queryContext())
}

// Get 返回第一个实例，没有数据的时候返回 ErrNoRows
func (s *Selector[T]) Get(ctx context.Context) (*T, error) {
	res, err := s.GetMulti(ctx)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errs.ErrNoRows
	}
	return res[0], nil
}

func (s *Selector[T]) GetMulti(ctx context.Context) ([]*T, error) {
	rs, err := s.execute(ctx)
	if err != nil {
		return nil, err
	}
	items, err := decodeRows(s.core, s.model, rs)
	if err != nil {
		return nil, err
	}
	res := make([]*T, len(items))
	for i, item := range items {
		res[i] = item.(*T)
	}
	return res, nil
}

// Count 忽略排序和分页
// JOIN 的时候按照主键去重
func (s *Selector[T]) Count(ctx context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	c := s.clone()
	c.orderBy, c.limit, c.offset = nil, 0, 0
	c.columns = []Selectable{Raw("COUNT(*)")}
	if len(s.joins) > 0 && s.model.PK != nil {
		q := string(c.dialect.quoter())
		c.columns = []Selectable{Raw("COUNT(DISTINCT " + q + s.model.TableName + q + "." + q + s.model.PK.ColName + q + ")")}
	}
	rs, err := c.execute(ctx)
	if err != nil {
		return 0, err
	}
	if len(s.groupBy) > 0 {
		return int64(len(rs.Rows)), nil
	}
	if len(rs.Rows) == 0 {
		return 0, nil
	}
	bigint, _ := c.r.Codecs().Get(codec.BigInt)
	n, err := bigint.Decode(rs.Rows[0][0])
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

// Exists 只取一行
func (s *Selector[T]) Exists(ctx context.Context) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	c := s.clone()
	c.columns = []Selectable{Raw("1")}
	c.orderBy, c.offset, c.limit = nil, 0, 1
	rs, err := c.execute(ctx)
	if err != nil {
		return false, err
	}
	return len(rs.Rows) > 0, nil
}

// Aggregate 执行聚合函数，返回 别名 -> 值
// COUNT 是 int64，AVG 是 float64，其它的使用字段本身的类型解码
func (s *Selector[T]) Aggregate(ctx context.Context, aggs ...Aggregate) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	cols := make([]Selectable, 0, len(aggs))
	for _, a := range aggs {
		cols = append(cols, a.As(a.name()))
	}
	c := s.Select(cols...)
	if c.err != nil {
		return nil, c.err
	}
	c.orderBy, c.offset, c.limit = nil, 0, 0
	rs, err := c.execute(ctx)
	if err != nil {
		return nil, err
	}
	res := make(map[string]any, len(aggs))
	if len(rs.Rows) == 0 {
		return res, nil
	}
	codecs := s.r.Codecs()
	for i, a := range aggs {
		raw := rs.Rows[0][i]
		var cd codec.Codec
		switch a.fn {
		case "COUNT":
			cd, _ = codecs.Get(codec.BigInt)
		case "AVG":
			cd, _ = codecs.Get(codec.Float)
		default:
			fd, _, err := resolveField(s.model, a.arg)
			if err != nil {
				cd, _ = codecs.Get(codec.Float)
				break
			}
			cd = fd.Codec
			if a.fn == "SUM" && cd.Type() != codec.Decimal {
				// SUM 可能超出字段本身的范围
				cd, _ = codecs.Get(codec.Float)
			}
		}
		v, err := cd.Decode(raw)
		if err != nil {
			return nil, err
		}
		res[a.name()] = v
	}
	return res, nil
}

type OrderBy struct {
	col   string
	order string
}

func Asc(col string) OrderBy {
	return OrderBy{
		col:   col,
		order: "ASC",
	}
}

func Desc(col string) OrderBy {
	return OrderBy{
		col:   col,
		order: "DESC",
	}
}

// Selectable 暂时没什么作用只是用作标记，可检索指定字段的标记
// 让结构体实现这个接口，就可以传入
// 使用接口为的是：让 聚合函数， columns， 以及 RawExpr（原生sql） 都能作为参数传入统一个函数，做统一处理
type Selectable interface {
	selectable()
}
