package orm

// Assignable 标记接口，
// 实现该接口意味着可以用于赋值语句，
// 用于在 UPDATE 和 UPSERT 中 Assign("FirstName", "DaMing") -> SET`first_name`=?
type Assignable interface {
	assign()
}

type Assignment struct {
	column string
	val    Expression
}

func Assign(column string, val any) Assignment {
	v, ok := val.(Expression)
	if !ok {
		v = value{val: val}
	}
	return Assignment{
		column: column,
		val:    v,
	}
}

// Inc `col`=`col`+?
func Inc(column string, delta any) Assignment {
	return Assignment{column: column, val: C(column).Add(delta)}
}

// Dec `col`=`col`-?
func Dec(column string, delta any) Assignment {
	return Assignment{column: column, val: C(column).Sub(delta)}
}

// Greatest 只在新的值更大的时候更新
func Greatest(column string, val any) Assignment {
	return Assignment{column: column, val: greatestExpr{col: C(column), val: valueOf(val)}}
}

// 实现标记接口
func (a Assignment) assign() {}
