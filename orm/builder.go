package orm

import (
	"strings"
	"sync"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

// builder 每次构造语句都会创建一个新的
type builder struct {
	core
	sb    strings.Builder // sb is used to build the SQL query string.
	args  []any           // args holds the arguments for the query.
	model *model.Model    // model is the model associated with the selector.

	quoter byte
	// qualify 有 JOIN 的时候，列名前面要加上表名
	qualify bool
	// joined 已经 JOIN 的关联关系
	joined map[string]*model.Relation
}

func newBuilder(c core, m *model.Model) *builder {
	return &builder{
		core:   c,
		model:  m,
		quoter: c.dialect.quoter(),
	}
}

// memo 缓存构造的结果，同一个 builder 构造多次，结果一样
type memo struct {
	once sync.Once
	q    *Query
	err  error
}

func (m *memo) get(build func() (*Query, error)) (*Query, error) {
	m.once.Do(func() {
		m.q, m.err = build()
	})
	return m.q, m.err
}

func (b *builder) query() *Query {
	b.sb.WriteByte(';')
	return &Query{
		SQL:  b.sb.String(),
		Args: b.args,
	}
}

func (b *builder) quote(name string) {
	b.sb.WriteByte(b.quoter)
	b.sb.WriteString(name)
	b.sb.WriteByte(b.quoter)
}

func (b *builder) buildAs(alias string) {
	if alias != "" {
		b.sb.WriteString(" AS ")
		b.quote(alias)
	}
}

// param 写入占位符
func (b *builder) param(v any) {
	b.args = append(b.args, v)
	b.sb.WriteString(b.dialect.placeholder(len(b.args)))
}

// encode 使用字段的 codec 编码参数
// fd 为 nil 的时候原样传给 driver
func (b *builder) encode(fd *model.Field, v any) (any, error) {
	if fd == nil {
		return v, nil
	}
	dv, err := fd.Codec.Encode(v)
	if err != nil {
		return nil, errs.NewErrQueryBuild(err, "非法的参数 %s", fd.GoName)
	}
	return dv, nil
}

// raw 原生表达式里面的 ? 会被替换成方言的占位符
func (b *builder) raw(expr string, args []any) {
	if b.dialect.placeholder(1) == "?" {
		b.sb.WriteString(expr)
		b.args = append(b.args, args...)
		return
	}
	used := 0
	for i := 0; i < len(expr); i++ {
		if expr[i] == '?' && used < len(args) {
			b.param(args[used])
			used++
			continue
		}
		b.sb.WriteByte(expr[i])
	}
	b.args = append(b.args, args[used:]...)
}

// buildPredicates builds the predicates for the given list of predicates.
func (b *builder) buildPredicates(ps []Predicate) error {
	// Take the first predicate as the starting node.
	p := ps[0]

	// Iterate through the remaining predicates.
	for i := 1; i < len(ps); i++ {
		// Merge multiple predicates using the `And` method.
		p = p.And(ps[i])
	}

	// Recursively process the where statement.
	return b.buildExpression(p)
}

// buildExpression builds the SQL query for the given expression.
// It takes an expression as input and recursively constructs the SQL query.
// The SQL query is stored in the builder's string buffer (b.sb).
// The argument values are stored in the builder's argument list (b.args).
func (b *builder) buildExpression(e Expression) error {
	// Column 代表是列名，直接拼接列名
	// value 代表参数，加入参数列表
	// Predicate 代表一个查询条件：
	// 如果左边是一个 Predicate，那么加上括号
	// 递归构造左边
	// 构造操作符
	// 如果右边是一个 Predicate，那么加上括号
	if e == nil {
		return nil
	}

	switch expr := e.(type) {
	case Column:
		_, err := b.buildColumn(expr)
		return err
	case value:
		b.param(expr.val)
	case RawExpr:
		// 执行原生 sql 语句
		b.raw(expr.raw, expr.args)
	case Aggregate:
		return b.buildAggregate(expr)
	case MathExpr:
		return b.buildMath(expr)
	case greatestExpr:
		b.sb.WriteString(b.dialect.greatest())
		b.sb.WriteByte('(')
		fd, err := b.buildColumn(expr.col)
		if err != nil {
			return err
		}
		b.sb.WriteByte(',')
		if err = b.buildValue(fd, expr.val.val); err != nil {
			return err
		}
		b.sb.WriteByte(')')
	case Predicate:
		return b.buildPredicate(expr)
	default:
		return errs.NewErrUnsupportedExpressionType(expr)
	}
	return nil
}

func (b *builder) buildPredicate(p Predicate) error {
	switch p.op {
	case "":
		// 如果只有左边（op 符号为空，就不需要连接），例如执行原生 sql raw 的时候，就只有左边
		return b.buildExpression(p.left)
	case opNOT:
		b.sb.WriteString("NOT (")
		if err := b.buildExpression(p.right); err != nil {
			return err
		}
		b.sb.WriteByte(')')
		return nil
	case opIn, opNotIn:
		if vals, ok := p.right.(values); ok && len(vals.vals) == 0 {
			// 空列表，IN 永远为假，NOT IN 永远为真
			if p.op == opIn {
				b.sb.WriteString("1=0")
			} else {
				b.sb.WriteString("1=1")
			}
			return nil
		}
	}

	// 左边是列的时候，右边的值使用这一列的 codec 编码
	fd, err := b.buildSide(p.left, nil)
	if err != nil {
		return err
	}

	//处理运算符号
	b.sb.WriteByte(' ')
	b.sb.WriteString(p.op.String())

	switch p.op {
	case opIsNull, opNotNull:
		return nil
	case opLike, opNotLike:
		// 通配符不一定能通过字段的 codec，例如 uuid
		fd = nil
	}
	b.sb.WriteByte(' ')

	switch right := p.right.(type) {
	case values:
		if p.op == opBetween {
			if len(right.vals) != 2 {
				return errs.NewErrQueryBuild(nil, "BETWEEN 需要两个值")
			}
			if err = b.buildValue(fd, right.vals[0]); err != nil {
				return err
			}
			b.sb.WriteString(" AND ")
			return b.buildValue(fd, right.vals[1])
		}
		b.sb.WriteByte('(')
		for i, v := range right.vals {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			if err = b.buildValue(fd, v); err != nil {
				return err
			}
		}
		b.sb.WriteByte(')')
		return nil
	default:
		_, err = b.buildSide(p.right, fd)
		return err
	}
}

// buildSide 如果是复杂结构，则在最外边套一层括号
// 返回值是列对应的字段，其它情况下返回 nil
func (b *builder) buildSide(e Expression, fd *model.Field) (*model.Field, error) {
	switch expr := e.(type) {
	case Predicate:
		b.sb.WriteByte('(')
		if err := b.buildExpression(expr); err != nil {
			return nil, err
		}
		b.sb.WriteByte(')')
		return nil, nil
	case Column:
		return b.buildColumn(expr)
	case value:
		return nil, b.buildValue(fd, expr.val)
	}
	return nil, b.buildExpression(e)
}

func (b *builder) buildValue(fd *model.Field, v any) error {
	if expr, ok := v.(Expression); ok {
		return b.buildExpression(expr)
	}
	dv, err := b.encode(fd, v)
	if err != nil {
		return err
	}
	b.param(dv)
	return nil
}

func (b *builder) buildMath(m MathExpr) error {
	if err := b.buildMathSide(m.left); err != nil {
		return err
	}
	b.sb.WriteString(m.op.String())
	return b.buildMathSide(m.right)
}

func (b *builder) buildMathSide(e Expression) error {
	if m, ok := e.(MathExpr); ok {
		b.sb.WriteByte('(')
		if err := b.buildMath(m); err != nil {
			return err
		}
		b.sb.WriteByte(')')
		return nil
	}
	return b.buildExpression(e)
}

// buildColumn 构造列名
// "Author.Name" 这种形式必须先 JOIN 对应的关联关系
func (b *builder) buildColumn(c Column) (*model.Field, error) {
	fd, rel, err := resolveField(b.model, c.name)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		if _, ok := b.joined[rel.Name]; !ok {
			return nil, errs.NewErrRelationNotJoined(rel.Name)
		}
		b.quote(rel.Name)
		b.sb.WriteByte('.')
	} else if b.qualify {
		b.quote(b.model.TableName)
		b.sb.WriteByte('.')
	}
	b.quote(fd.ColName)
	return fd, nil
}

func (b *builder) buildAggregate(a Aggregate) error {
	b.sb.WriteString(a.fn)
	b.sb.WriteByte('(')
	if a.arg == "*" {
		b.sb.WriteByte('*')
	} else if _, err := b.buildColumn(C(a.arg)); err != nil {
		return err
	}
	b.sb.WriteByte(')')
	return nil
}

// buildAssignment `col`=expr
// 普通的值先经过校验，再使用 codec 编码
func (b *builder) buildAssignment(a Assignment) error {
	fd, ok := b.model.FieldMap[a.column]
	if !ok {
		return errs.NewErrUnknownField(a.column)
	}
	b.quote(fd.ColName)
	b.sb.WriteByte('=')
	if v, isVal := a.val.(value); isVal {
		if err := fd.Validate(v.val); err != nil {
			return errs.NewErrQueryBuild(err, "非法的参数 %s", fd.GoName)
		}
		return b.buildValue(fd, v.val)
	}
	return b.buildExpression(a.val)
}

// resolveField 解析 "Field" 或者 "Relation.Field"
func resolveField(m *model.Model, name string) (*model.Field, *model.Relation, error) {
	relName, fieldName, ok := strings.Cut(name, ".")
	if !ok {
		fd, ok := m.FieldMap[name]
		if !ok {
			return nil, nil, errs.NewErrUnknownField(name)
		}
		return fd, nil, nil
	}
	rel, ok := m.RelationMap[relName]
	if !ok {
		return nil, nil, errs.NewErrUnknownRelation(relName)
	}
	fd, ok := rel.Target.FieldMap[fieldName]
	if !ok {
		return nil, nil, errs.NewErrUnknownField(name)
	}
	return fd, rel, nil
}

// validate 在 Where OrderBy 这些方法里面提前检查字段
// JOIN 是否存在要到构造的时候才知道
func validate(m *model.Model, e Expression) error {
	switch expr := e.(type) {
	case nil:
		return nil
	case Column:
		_, _, err := resolveField(m, expr.name)
		return err
	case Aggregate:
		if expr.arg == "*" {
			return nil
		}
		_, _, err := resolveField(m, expr.arg)
		return err
	case Predicate:
		if err := validate(m, expr.left); err != nil {
			return err
		}
		return validate(m, expr.right)
	case MathExpr:
		if err := validate(m, expr.left); err != nil {
			return err
		}
		return validate(m, expr.right)
	case greatestExpr:
		return validate(m, expr.col)
	case values:
		for _, v := range expr.vals {
			if sub, ok := v.(Expression); ok {
				if err := validate(m, sub); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validatePredicates(m *model.Model, ps []Predicate) error {
	for _, p := range ps {
		if err := validate(m, p); err != nil {
			return err
		}
	}
	return nil
}

// validateAssigns 赋值只能使用本模型的字段
func validateAssigns(m *model.Model, assigns []Assignable) error {
	for _, a := range assigns {
		switch assign := a.(type) {
		case Column:
			if _, ok := m.FieldMap[assign.name]; !ok {
				return errs.NewErrUnknownField(assign.name)
			}
		case Assignment:
			if _, ok := m.FieldMap[assign.column]; !ok {
				return errs.NewErrUnknownField(assign.column)
			}
			if err := validate(m, assign.val); err != nil {
				return err
			}
		default:
			return errs.NewErrUnsupportedAssignableType(a)
		}
	}
	return nil
}
