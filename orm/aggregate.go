package orm

import "strings"

// Aggregate 代表聚合函数， 例如 AVG, MAX, MIN 等 以及别名
type Aggregate struct {
	fn    string
	arg   string
	alias string
}

func (a Aggregate) selectable() {}

func (a Aggregate) expr() {}

// As 这里使用 值 作为接收者，可以防止并发问题，每次都返回一个新的；也有小利于垃圾回收，局部之后，变量就会被回收
func (a Aggregate) As(alias string) Aggregate {
	return Aggregate{
		fn:    a.fn,
		arg:   a.arg,
		alias: alias,
	}
}

// name 结果集里面的列名，没有别名的时候是 avg_age 这种形式
func (a Aggregate) name() string {
	if a.alias != "" {
		return a.alias
	}
	if a.arg == "*" {
		return strings.ToLower(a.fn)
	}
	return strings.ToLower(a.fn) + "_" + underscore(a.arg)
}

// EQ 例如 AVG("id").EQ(12)
func (a Aggregate) EQ(arg any) Predicate {
	return a.binary(opEQ, arg)
}

func (a Aggregate) NEQ(arg any) Predicate {
	return a.binary(opNEQ, arg)
}

func (a Aggregate) LT(arg any) Predicate {
	return a.binary(opLT, arg)
}

func (a Aggregate) LTE(arg any) Predicate {
	return a.binary(opLTE, arg)
}

func (a Aggregate) GT(arg any) Predicate {
	return a.binary(opGT, arg)
}

func (a Aggregate) GTE(arg any) Predicate {
	return a.binary(opGTE, arg)
}

func (a Aggregate) binary(o op, arg any) Predicate {
	return Predicate{
		left:  a,
		op:    o,
		right: exprOf(arg),
	}
}

// Avg
//
//	@Description: 求平均值
//	@param c 聚合函数中填写的字段名
//	@return Aggregate
func Avg(c string) Aggregate {
	return Aggregate{
		fn:  "AVG",
		arg: c,
	}
}

// Max
//
//	@Description: 求最大值
//	@param c 聚合函数中填写的字段名
//	@return Aggregate
func Max(c string) Aggregate {
	return Aggregate{
		fn:  "MAX",
		arg: c,
	}
}

// Min
//
//	@Description: 求聚合函数中填写的最小值
//	@param c 聚合函数中填写的字段名
//	@return Aggregate
func Min(c string) Aggregate {
	return Aggregate{
		fn:  "MIN",
		arg: c,
	}
}

// Count
//
//	@Description: 获取数量，c 可以是 "*"
//	@param c 聚合函数中填写的字段名
//	@return Aggregate
func Count(c string) Aggregate {
	return Aggregate{
		fn:  "COUNT",
		arg: c,
	}
}

// Sum
//
//	@Description: 求和
//	@param c
//	@return Aggregate
func Sum(c string) Aggregate {
	return Aggregate{
		fn:  "SUM",
		arg: c,
	}
}

// underscore "Author.Age" -> "author_age"
func underscore(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '.':
			sb.WriteByte('_')
			continue
		case r >= 'A' && r <= 'Z':
			if i > 0 && name[i-1] != '.' {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + 'a' - 'A')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
