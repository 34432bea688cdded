package orm

// Column 字段名，可以是 "Name"，也可以是 JOIN 进来的 "Author.Name"
type Column struct {
	name  string
	alias string
}

func (c Column) expr() {}

func (c Column) selectable() {}

// assign 用在 UPDATE 里面表示使用结构体上的值，用在 UPSERT 里面表示使用插入的值
func (c Column) assign() {}

type value struct {
	val any
}

func (v value) expr() {}

// valueOf creates a new value object with the given value.
// It takes in a generic value and returns a value object.
func valueOf(val any) value {
	return value{val: val}
}

func C(name string) Column {
	return Column{name: name}
}

// As 这里使用 值 作为接收者，每次都返回一个新的
func (c Column) As(alias string) Column {
	return Column{
		name:  c.name,
		alias: alias,
	}
}

// EQ 例如 C("id").Eq(12)
// 传入 nil 的时候等价于 IsNull
func (c Column) EQ(arg any) Predicate {
	if arg == nil {
		return c.IsNull()
	}
	return c.binary(opEQ, arg)
}

func (c Column) NEQ(arg any) Predicate {
	if arg == nil {
		return c.NotNull()
	}
	return c.binary(opNEQ, arg)
}

// LT 例如 C("id").LT(12)
func (c Column) LT(arg any) Predicate {
	return c.binary(opLT, arg)
}

func (c Column) LTE(arg any) Predicate {
	return c.binary(opLTE, arg)
}

func (c Column) GT(arg any) Predicate {
	return c.binary(opGT, arg)
}

func (c Column) GTE(arg any) Predicate {
	return c.binary(opGTE, arg)
}

// In 空列表永远为假
func (c Column) In(vals ...any) Predicate {
	return Predicate{left: c, op: opIn, right: values{vals: vals}}
}

// NotIn 空列表永远为真
func (c Column) NotIn(vals ...any) Predicate {
	return Predicate{left: c, op: opNotIn, right: values{vals: vals}}
}

// Like 通配符由调用者自己拼接，例如 C("Name").Like("Tom%")
func (c Column) Like(pattern string) Predicate {
	return Predicate{left: c, op: opLike, right: valueOf(pattern)}
}

func (c Column) NotLike(pattern string) Predicate {
	return Predicate{left: c, op: opNotLike, right: valueOf(pattern)}
}

func (c Column) IsNull() Predicate {
	return Predicate{left: c, op: opIsNull}
}

func (c Column) NotNull() Predicate {
	return Predicate{left: c, op: opNotNull}
}

// Between 两端都包含
func (c Column) Between(low, high any) Predicate {
	return Predicate{left: c, op: opBetween, right: values{vals: []any{low, high}}}
}

func (c Column) binary(o op, arg any) Predicate {
	return Predicate{
		left:  c,
		op:    o,
		right: exprOf(arg), // 如果 arg 不是 Expression 类型 就让他变成这个类型
	}
}

// Add 例如 C("Age").Add(1)，用在 UPDATE 里面
func (c Column) Add(val any) MathExpr {
	return MathExpr{left: c, op: opAdd, right: valueOf(val)}
}

func (c Column) Sub(val any) MathExpr {
	return MathExpr{left: c, op: opSub, right: valueOf(val)}
}

func (c Column) Multi(val any) MathExpr {
	return MathExpr{left: c, op: opMulti, right: valueOf(val)}
}
