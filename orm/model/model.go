package model

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roveil/scrudge-orm/orm/codec"
	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

// Option is a function type that modifies a Model.
type Option func(model *Model) error

// Model 结构体映射db后的结构
// 注册完成之后就不再修改
type Model struct {
	// Name 模型名，默认是结构体名
	Name string
	// TableName 结构体对应的表名
	TableName string
	// Type 结构体类型，不是指针
	Type reflect.Type
	// Fields 按照结构体声明的顺序
	Fields    []*Field
	FieldMap  map[string]*Field // 结构体 属性名 attr name 为 key  ItemId
	ColumnMap map[string]*Field // DB column name 为 key    item_id
	// PK 主键，中间表可以没有
	PK *Field

	Relations   []*Relation
	RelationMap map[string]*Relation

	// Indexes 建表之后再创建的索引
	Indexes []*Index

	// holders Related 字段名 -> 字段下标
	holders map[string]holder
	pending []RelationDef
	// fkRefs 字段名 -> Model.Field，注册的时候解析
	fkRefs map[string]string
}

type holder struct {
	index  int
	target reflect.Type
}

// Index 一个或者多个字段上的索引
// 数据库里面的名字是 表名_Name_idx
type Index struct {
	Name   string
	Fields []*Field
	Unique bool
}

// Field 字段相关的属性
type Field struct {
	ColName string       // 数据库中的字段名
	GoName  string       // go struct 中的名字
	Type    reflect.Type // go 中的数据类型，转换成 reflect.Value 的时候，知道是什么类型，不然那没法转
	// Index 在结构体里面的下标
	Index int
	// Offset 相对于对象起始地址的字段偏移量
	// uintptr 这个类型的值，只是简单记录一下位置
	Offset uintptr

	Logical codec.LogicalType
	Codec   codec.Codec

	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
	Nullable      bool

	Default Default
	FK      *ForeignKey
	Checks  []Check
}

// Validate 检查可空性以及字段上的约束
// v 可以是字段本身的值，也可以是解码之后的标准值
func (f *Field) Validate(v any) error {
	v = indirect(v)
	if v == nil {
		if !f.Nullable {
			return errs.ErrNotNullable
		}
		return nil
	}
	for _, c := range f.Checks {
		if err := c.Validate(v); err != nil {
			return err
		}
	}
	return nil
}

// ForeignKey 引用其它模型的字段
type ForeignKey struct {
	Model *Model
	Field *Field
}

// DefaultKind 默认值策略
type DefaultKind uint8

const (
	NoDefault DefaultKind = iota
	// LiteralDefault 字面量
	LiteralDefault
	// FuncDefault 插入的时候调用函数
	FuncDefault
	// ServerDefault 由数据库生成，插入的时候不写这一列
	ServerDefault
)

type Default struct {
	Kind DefaultKind
	// Value 解码之后的标准值
	Value any
	Func  func() any
	// Expr 建表语句里面的 DEFAULT 表达式
	Expr string
}

// Resolve 返回插入时使用的值
func (d Default) Resolve() (any, bool) {
	switch d.Kind {
	case LiteralDefault:
		return d.Value, true
	case FuncDefault:
		return d.Func(), true
	}
	return nil, false
}

// Check 字段上的取值约束
type Check struct {
	Name    string
	Limit   float64
	Pattern *regexp.Regexp
}

func (c Check) Validate(v any) error {
	switch c.Name {
	case "gt", "ge", "lt", "le":
		n, ok := numberOf(v)
		if !ok {
			return fmt.Errorf("%w: %s requires a number, got %T", errs.ErrCheckViolation, c.Name, v)
		}
		if (c.Name == "gt" && n > c.Limit) || (c.Name == "ge" && n >= c.Limit) ||
			(c.Name == "lt" && n < c.Limit) || (c.Name == "le" && n <= c.Limit) {
			return nil
		}
		return fmt.Errorf("%w: %v is not %s %v", errs.ErrCheckViolation, v, c.Name, c.Limit)
	case "min_len", "max_len":
		l, ok := lengthOf(v)
		if !ok {
			return fmt.Errorf("%w: %s requires a string or a slice, got %T", errs.ErrCheckViolation, c.Name, v)
		}
		if (c.Name == "min_len" && float64(l) >= c.Limit) || (c.Name == "max_len" && float64(l) <= c.Limit) {
			return nil
		}
		return fmt.Errorf("%w: length %d violates %s %v", errs.ErrCheckViolation, l, c.Name, c.Limit)
	case "pattern":
		s, ok := v.(string)
		if !ok {
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.String {
				return fmt.Errorf("%w: pattern requires a string, got %T", errs.ErrCheckViolation, v)
			}
			s = rv.String()
		}
		if !c.Pattern.MatchString(s) {
			return fmt.Errorf("%w: %q does not match %s", errs.ErrCheckViolation, s, c.Pattern)
		}
	}
	return nil
}

// indirect 解开指针以及 sql.NullXXX 之类的包装
func indirect(v any) any {
	for v != nil {
		switch v.(type) {
		case time.Time, uuid.UUID, decimal.Decimal:
			return v
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil
			}
			v = rv.Elem().Interface()
			continue
		}
		if valuer, ok := v.(driver.Valuer); ok {
			dv, err := valuer.Value()
			if err != nil {
				return v
			}
			return dv
		}
		return v
	}
	return nil
}

func numberOf(v any) (float64, bool) {
	if d, ok := v.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f, true
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

func lengthOf(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return utf8.RuneCountInString(rv.String()), true
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

// 我们支持的全部标签上的 key 都放在这里
// 方便用户查找，和我们后期维护
const (
	tagORMName = "orm"

	tagKeyColumn        = "column"
	tagKeyType          = "type"
	tagKeyPK            = "pk"
	tagKeyAuto          = "auto"
	tagKeyUnique        = "unique"
	tagKeyNull          = "null"
	tagKeyDefault       = "default"
	tagKeyServerDefault = "server_default"
	tagKeyFK            = "fk"
	tagKeyGT            = "gt"
	tagKeyGE            = "ge"
	tagKeyLT            = "lt"
	tagKeyLE            = "le"
	tagKeyMinLen        = "min_len"
	tagKeyMaxLen        = "max_len"
)

// TableName 用户实现这个接口来返回自定义的表名
type TableName interface {
	TableName() string
}

// RelationHolder 关联字段需要实现的接口
// orm.Related 实现了这个接口
type RelationHolder interface {
	RelatedType() reflect.Type
}

var holderType = reflect.TypeOf((*RelationHolder)(nil)).Elem()
