package model

import "reflect"

// RelationKind 关联关系的种类
type RelationKind uint8

const (
	OneToMany RelationKind = iota + 1
	OneToOne
	ManyToOne
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case OneToMany:
		return "one-to-many"
	case OneToOne:
		return "one-to-one"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// Relation 解析之后的关联关系
//
// ManyToOne: Local 是 Owner 上的外键，Remote 是 Target 上被引用的字段
// OneToMany / OneToOne: Local 是 Owner 上被引用的字段，Remote 是 Target 上的外键
// ManyToMany: Local 是 Owner 的主键，Remote 是 Target 的主键，
// 中间表要么是一个注册过的模型 Through，要么是一张隐式的表 JoinTable
type Relation struct {
	Name   string
	Kind   RelationKind
	Owner  *Model
	Target *Model

	Local  *Field
	Remote *Field

	// Through 显式的中间模型
	Through       *Model
	ThroughOwner  *Field
	ThroughTarget *Field

	// JoinTable 隐式的中间表，只知道表名和列名
	JoinTable        string
	JoinOwnerColumn  string
	JoinTargetColumn string

	// FieldIndex Owner 上 Related 字段的下标
	FieldIndex int
}

// Many 一个 Owner 是否可能对应多个 Target
func (r *Relation) Many() bool {
	return r.Kind == OneToMany || r.Kind == ManyToMany
}

// RelationDef 声明一个关联关系，在注册的时候解析
type RelationDef struct {
	name   string
	kind   RelationKind
	target reflect.Type
	// fk BelongsTo 的时候是 Owner 上的字段，HasMany HasOne 的时候是 Target 上的字段
	fk string
	// ref 被引用的字段，默认是主键
	ref      string
	junction Junction
}

// References 指定被引用的字段，默认是主键
func (d RelationDef) References(field string) RelationDef {
	d.ref = field
	return d
}

// Junction 多对多的中间表
type Junction struct {
	model  reflect.Type
	table  string
	owner  string
	target string
}

// HasMany Owner 的主键被 target 上的 fk 字段引用，一对多
func HasMany(name string, target any, fk string) RelationDef {
	return RelationDef{name: name, kind: OneToMany, target: reflect.TypeOf(target), fk: fk}
}

// HasOne 和 HasMany 一样，只是最多一条
func HasOne(name string, target any, fk string) RelationDef {
	return RelationDef{name: name, kind: OneToOne, target: reflect.TypeOf(target), fk: fk}
}

// BelongsTo Owner 上的 fk 字段引用 target 的主键
func BelongsTo(name string, target any, fk string) RelationDef {
	return RelationDef{name: name, kind: ManyToOne, target: reflect.TypeOf(target), fk: fk}
}

// ManyToManyOf 通过中间表关联，via 由 Through 或者 JoinTable 创建
func ManyToManyOf(name string, target any, via Junction) RelationDef {
	return RelationDef{name: name, kind: ManyToMany, target: reflect.TypeOf(target), junction: via}
}

// Through 使用一个注册过的中间模型
// ownerFK targetFK 是中间模型上的字段名
func Through(junction any, ownerFK, targetFK string) Junction {
	return Junction{model: reflect.TypeOf(junction), owner: ownerFK, target: targetFK}
}

// JoinTable 使用一张没有模型的中间表
// ownerCol targetCol 是列名
func JoinTable(table, ownerCol, targetCol string) Junction {
	return Junction{table: table, owner: ownerCol, target: targetCol}
}

// WithRelation 注册的时候声明关联关系，target 必须已经注册过
func WithRelation(defs ...RelationDef) Option {
	return func(model *Model) error {
		model.pending = append(model.pending, defs...)
		return nil
	}
}
