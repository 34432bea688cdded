package model

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/roveil/scrudge-orm/orm/codec"
	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

type Registry interface {
	// Get 查找元数据模型，val 是结构体指针
	Get(val any) (*Model, error)
	// Resolve 按照模型名查找
	Resolve(name string) (*Model, error)
	Register(val any, opts ...Option) (*Model, error)
	// Relate 给已经注册的模型补充关联关系，用来解决循环引用
	Relate(val any, defs ...RelationDef) error
	// Seal 结束初始化阶段，之后只读
	Seal() error
	Sealed() bool
	// Models 按照注册顺序返回
	Models() []*Model
	Codecs() *codec.Registry
}

// registry 分成两个阶段
// 初始化阶段加锁注册，Seal 之后只读，读不需要加锁
type registry struct {
	mu     sync.RWMutex
	sealed atomic.Bool

	// reflect.Type 可以解决命名冲突的问题
	byType map[reflect.Type]*Model
	byName map[string]*Model
	order  []*Model

	codecs *codec.Registry
}

// RegistryOption 配置注册中心本身，Option 配置单个模型
type RegistryOption func(r *registry)

// WithCodecs 替换默认的 codec 注册中心，例如需要 aes256 类型的时候
func WithCodecs(c *codec.Registry) RegistryOption {
	return func(r *registry) {
		r.codecs = c
	}
}

func NewRegistry(opts ...RegistryOption) Registry {
	r := &registry{
		byType: make(map[reflect.Type]*Model, 16),
		byName: make(map[string]*Model, 16),
		codecs: codec.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *registry) Codecs() *codec.Registry {
	return r.codecs
}

func (r *registry) Sealed() bool {
	return r.sealed.Load()
}

// Get fetches the model associated with a given value.
func (r *registry) Get(val any) (*Model, error) {
	typ := reflect.TypeOf(val)
	if typ == nil {
		return nil, errs.ErrPointerOnly
	}
	if typ.Kind() != reflect.Pointer {
		typ = reflect.PointerTo(typ)
	}
	m, ok := r.load(func() (*Model, bool) {
		m, ok := r.byType[typ]
		return m, ok
	})
	if !ok {
		return nil, errs.NewErrModelNotFound(typ.Elem().Name())
	}
	return m, nil
}

func (r *registry) Resolve(name string) (*Model, error) {
	m, ok := r.load(func() (*Model, bool) {
		m, ok := r.byName[name]
		return m, ok
	})
	if !ok {
		return nil, errs.NewErrModelNotFound(name)
	}
	return m, nil
}

func (r *registry) Models() []*Model {
	if r.sealed.Load() {
		return r.order
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*Model, len(r.order))
	copy(res, r.order)
	return res
}

// load seal 之后 map 不再变化，可以直接读
func (r *registry) load(fn func() (*Model, bool)) (*Model, bool) {
	if r.sealed.Load() {
		return fn()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn()
}

// Register registers a model in the registry with the given options.
// It stores the model in the registry and returns the registered model.
func (r *registry) Register(val any, opts ...Option) (*Model, error) {
	if r.sealed.Load() {
		return nil, errs.NewErrSchema("", "", "registry is sealed")
	}
	m, err := r.parseModel(val)
	if err != nil {
		return nil, err
	}

	// Apply the provided options to the model
	for _, opt := range opts {
		if err = opt(m); err != nil {
			return nil, err
		}
	}
	if err = m.rebuildColumns(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return nil, errs.NewErrSchema(m.Name, "", "registry is sealed")
	}
	typ := reflect.TypeOf(val)
	if _, ok := r.byType[typ]; ok {
		return nil, errs.NewErrSchema(m.Name, "", "duplicate registration")
	}
	if _, ok := r.byName[m.Name]; ok {
		return nil, errs.NewErrSchema(m.Name, "", "duplicate model name")
	}
	if err = r.resolveForeignKeys(m, m.fkRefs); err != nil {
		return nil, err
	}
	pending := m.pending
	m.pending = nil
	for _, def := range pending {
		if err = r.relate(m, def); err != nil {
			return nil, err
		}
	}

	r.byType[typ] = m
	r.byName[m.Name] = m
	r.order = append(r.order, m)
	return m, nil
}

func (r *registry) Relate(val any, defs ...RelationDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return errs.NewErrSchema("", "", "registry is sealed")
	}
	m, ok := r.byType[reflect.TypeOf(val)]
	if !ok {
		return errs.NewErrModelNotFound(reflect.TypeOf(val).String())
	}
	for _, def := range defs {
		if err := r.relate(m, def); err != nil {
			return err
		}
	}
	return nil
}

// Seal 校验所有的 Related 字段都声明了关联关系
func (r *registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return nil
	}
	for _, m := range r.order {
		for name := range m.holders {
			if _, ok := m.RelationMap[name]; !ok {
				return errs.NewErrSchema(m.Name, name, "Related field without a declared relation")
			}
		}
	}
	r.sealed.Store(true)
	return nil
}

// relate 调用方持有锁
func (r *registry) relate(m *Model, def RelationDef) error {
	if _, ok := m.RelationMap[def.name]; ok {
		return errs.NewErrSchema(m.Name, def.name, "duplicate relation")
	}
	target, err := r.lookupLocked(m, def.target)
	if err != nil {
		return err
	}
	rel := &Relation{
		Name:       def.name,
		Kind:       def.kind,
		Owner:      m,
		Target:     target,
		FieldIndex: -1,
	}

	switch def.kind {
	case ManyToOne:
		local, ok := m.FieldMap[def.fk]
		if !ok {
			return errs.NewErrSchema(m.Name, def.fk, "unknown foreign key field for relation %s", def.name)
		}
		remote, err := referenced(target, def.ref)
		if err != nil {
			return err
		}
		rel.Local, rel.Remote = local, remote
	case OneToMany, OneToOne:
		local, err := referenced(m, def.ref)
		if err != nil {
			return err
		}
		remote, ok := target.FieldMap[def.fk]
		if !ok {
			return errs.NewErrSchema(target.Name, def.fk, "unknown foreign key field for relation %s", def.name)
		}
		rel.Local, rel.Remote = local, remote
	case ManyToMany:
		if m.PK == nil || target.PK == nil {
			return errs.NewErrSchema(m.Name, def.name, "many-to-many requires primary keys on both sides")
		}
		rel.Local, rel.Remote = m.PK, target.PK
		j := def.junction
		if j.model != nil {
			through, err := r.lookupLocked(m, j.model)
			if err != nil {
				return err
			}
			owner, ok := through.FieldMap[j.owner]
			if !ok {
				return errs.NewErrSchema(through.Name, j.owner, "unknown junction field")
			}
			tgt, ok := through.FieldMap[j.target]
			if !ok {
				return errs.NewErrSchema(through.Name, j.target, "unknown junction field")
			}
			if err = sameType(owner, m.PK); err != nil {
				return err
			}
			if err = sameType(tgt, target.PK); err != nil {
				return err
			}
			rel.Through, rel.ThroughOwner, rel.ThroughTarget = through, owner, tgt
		} else {
			if j.table == "" || j.owner == "" || j.target == "" {
				return errs.NewErrSchema(m.Name, def.name, "many-to-many requires a junction")
			}
			rel.JoinTable, rel.JoinOwnerColumn, rel.JoinTargetColumn = j.table, j.owner, j.target
		}
	default:
		return errs.NewErrSchema(m.Name, def.name, "unknown relation kind")
	}

	if rel.Kind != ManyToMany {
		if err = sameType(rel.Local, rel.Remote); err != nil {
			return err
		}
	}

	h, ok := m.holders[def.name]
	if !ok {
		return errs.NewErrSchema(m.Name, def.name, "relation requires a Related field with the same name")
	}
	if h.target != target.Type {
		return errs.NewErrSchema(m.Name, def.name, "Related field holds %s, relation targets %s", h.target, target.Type)
	}
	rel.FieldIndex = h.index

	m.Relations = append(m.Relations, rel)
	m.RelationMap[rel.Name] = rel
	return nil
}

// lookupLocked 允许引用自己
func (r *registry) lookupLocked(self *Model, typ reflect.Type) (*Model, error) {
	if typ == nil {
		return nil, errs.NewErrSchema(self.Name, "", "nil relation target")
	}
	if typ.Kind() != reflect.Pointer {
		typ = reflect.PointerTo(typ)
	}
	if typ.Elem() == self.Type {
		return self, nil
	}
	target, ok := r.byType[typ]
	if !ok {
		return nil, errs.NewErrSchema(self.Name, "", "model %s is not registered", typ.Elem().Name())
	}
	return target, nil
}

func (r *registry) resolveForeignKeys(m *Model, refs map[string]string) error {
	for fieldName, ref := range refs {
		fd := m.FieldMap[fieldName]
		modelName, refField, ok := strings.Cut(ref, ".")
		if !ok {
			return errs.NewErrSchema(m.Name, fieldName, "foreign key must look like Model.Field, got %s", ref)
		}
		target := m
		if modelName != m.Name {
			target, ok = r.byName[modelName]
			if !ok {
				return errs.NewErrSchema(m.Name, fieldName, "foreign key references unregistered model %s", modelName)
			}
		}
		tf, ok := target.FieldMap[refField]
		if !ok {
			return errs.NewErrSchema(m.Name, fieldName, "foreign key references unknown field %s", ref)
		}
		if err := sameType(fd, tf); err != nil {
			return err
		}
		fd.FK = &ForeignKey{Model: target, Field: tf}
	}
	m.fkRefs = nil
	return nil
}

func referenced(m *Model, ref string) (*Field, error) {
	if ref == "" {
		if m.PK == nil {
			return nil, errs.NewErrSchema(m.Name, "", "relation requires a primary key")
		}
		return m.PK, nil
	}
	fd, ok := m.FieldMap[ref]
	if !ok {
		return nil, errs.NewErrSchema(m.Name, ref, "unknown referenced field")
	}
	return fd, nil
}

// sameType 外键和被引用的字段逻辑类型必须一致
// 整数之间可以互相引用
func sameType(a, b *Field) error {
	if a.Logical == b.Logical || (isInteger(a.Logical) && isInteger(b.Logical)) {
		return nil
	}
	return errs.NewErrSchema("", a.GoName, "type %s does not match referenced %s.%s of type %s",
		a.Logical, b.ColName, b.GoName, b.Logical)
}

func isInteger(t codec.LogicalType) bool {
	return t == codec.SmallInt || t == codec.Integer || t == codec.BigInt
}

// parseModel parses a given reflect.Type and returns a new model or an error.
// It checks if the type is a pointer to a struct and generates a map of Field names
// and their corresponding column names for the model.
// orm:"key1=value1,key2=value2"
func (r *registry) parseModel(val any) (*Model, error) {
	// Get the type of the input value
	typ := reflect.TypeOf(val)

	// Check if the type is a pointer to a struct
	if typ == nil || typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		// Only support one-level pointer as input, e.g. *User does not support **User and User
		return nil, errs.ErrPointerOnly
	}

	// Dereference the pointer to get the struct type
	typ = typ.Elem()
	numField := typ.NumField()

	m := &Model{
		Name:        typ.Name(),
		Type:        typ,
		Fields:      make([]*Field, 0, numField),
		FieldMap:    make(map[string]*Field, numField),
		RelationMap: make(map[string]*Relation, 2),
		holders:     make(map[string]holder, 2),
		fkRefs:      make(map[string]string, 2),
	}

	// Iterate over each Field in the struct
	for i := 0; i < numField; i++ {
		fdStruct := typ.Field(i)
		if !fdStruct.IsExported() {
			continue
		}
		if fdStruct.Type.Implements(holderType) {
			h := reflect.Zero(fdStruct.Type).Interface().(RelationHolder)
			m.holders[fdStruct.Name] = holder{index: i, target: h.RelatedType()}
			continue
		}
		if fdStruct.Tag.Get(tagORMName) == "-" {
			continue
		}
		if fdStruct.Anonymous {
			return nil, errs.NewErrSchema(m.Name, fdStruct.Name, "embedded fields are not supported")
		}

		f, err := r.parseField(m, fdStruct, i)
		if err != nil {
			return nil, err
		}
		m.Fields = append(m.Fields, f)
		m.FieldMap[f.GoName] = f
	}

	if m.PK == nil {
		// 没有声明主键的时候，id 列就是自增主键
		for _, f := range m.Fields {
			if f.ColName == "id" && !f.Nullable {
				f.PrimaryKey, f.Unique = true, true
				f.AutoIncrement = isInteger(f.Logical)
				m.PK = f
				break
			}
		}
	}

	// Get the table name from the input value if it implements TableName interface
	var tableName string
	if tn, ok := val.(TableName); ok {
		tableName = tn.TableName()
	}
	// If the table name is not provided, generate it from the struct name
	if tableName == "" {
		tableName = underscoreName(typ.Name())
	}
	m.TableName = tableName
	return m, nil
}

func (r *registry) parseField(m *Model, fdStruct reflect.StructField, index int) (*Field, error) {
	tags, err := r.parseTag(fdStruct.Tag)
	if err != nil {
		return nil, err
	}

	// Get the column name from the tag or use the default Field name
	colName := tags[tagKeyColumn]
	if colName == "" {
		// If the colName is "", user the default  ItemId -> item_id
		colName = underscoreName(fdStruct.Name)
	}

	f := &Field{
		ColName: colName,
		GoName:  fdStruct.Name,
		Type:    fdStruct.Type,
		Index:   index,
		Offset:  fdStruct.Offset,
	}

	inferred, nullable, ok := r.codecs.Infer(fdStruct.Type)
	if lt, has := tags[tagKeyType]; has {
		f.Logical = codec.LogicalType(lt)
	} else if ok {
		f.Logical = inferred
	}
	f.Codec, ok = r.codecs.Get(f.Logical)
	if !ok {
		return nil, errs.NewErrSchema(m.Name, f.GoName, "unknown logical type %q for %s", f.Logical, fdStruct.Type)
	}

	_, f.PrimaryKey = tags[tagKeyPK]
	_, f.AutoIncrement = tags[tagKeyAuto]
	_, f.Unique = tags[tagKeyUnique]
	_, explicitNull := tags[tagKeyNull]
	f.Nullable = nullable || explicitNull

	if f.PrimaryKey {
		if f.Nullable {
			return nil, errs.NewErrSchema(m.Name, f.GoName, "primary key cannot be nullable")
		}
		if m.PK != nil {
			return nil, errs.NewErrSchema(m.Name, f.GoName, "more than one primary key")
		}
		f.Unique = true
		m.PK = f
	}
	if f.AutoIncrement && !isInteger(f.Logical) {
		return nil, errs.NewErrSchema(m.Name, f.GoName, "auto increment requires an integer type")
	}

	if def, has := tags[tagKeyDefault]; has {
		v, err := f.Codec.Decode(def)
		if err != nil {
			return nil, errs.NewErrSchema(m.Name, f.GoName, "bad default %q: %v", def, err)
		}
		f.Default = Default{Kind: LiteralDefault, Value: v, Expr: def}
	}
	if expr, has := tags[tagKeyServerDefault]; has {
		f.Default = Default{Kind: ServerDefault, Expr: expr}
	}
	if ref, has := tags[tagKeyFK]; has {
		m.fkRefs[f.GoName] = ref
	}

	for _, name := range []string{tagKeyGT, tagKeyGE, tagKeyLT, tagKeyLE, tagKeyMinLen, tagKeyMaxLen} {
		raw, has := tags[name]
		if !has {
			continue
		}
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errs.NewErrSchema(m.Name, f.GoName, "bad %s limit %q", name, raw)
		}
		f.Checks = append(f.Checks, Check{Name: name, Limit: limit})
	}
	return f, nil
}

var tagKeys = map[string]bool{
	tagKeyColumn: true, tagKeyType: true, tagKeyPK: false, tagKeyAuto: false, tagKeyUnique: false,
	tagKeyNull: false, tagKeyDefault: true, tagKeyServerDefault: true, tagKeyFK: true,
	tagKeyGT: true, tagKeyGE: true, tagKeyLT: true, tagKeyLE: true, tagKeyMinLen: true, tagKeyMaxLen: true,
}

// parseTag parses the given struct tag and returns a map of key-value pairs.
// If the tag is empty, it returns an empty map and no error.
// pk auto unique null 这几个 key 可以不写值
func (r *registry) parseTag(tag reflect.StructTag) (map[string]string, error) {
	ormTag := tag.Get(tagORMName)
	if ormTag == "" {
		// Return an empty map so that the caller doesn't need to check for nil
		return map[string]string{}, nil
	}

	res := make(map[string]string, 4)

	// Split the tag string into individual key-value pairs
	pairs := strings.Split(ormTag, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		key, val, hasVal := strings.Cut(pair, "=")
		needVal, known := tagKeys[key]
		if !known || needVal != hasVal || (hasVal && val == "") {
			return nil, errs.NewErrInvalidTagContent(pair)
		}
		res[key] = val
	}

	return res, nil
}

// underscoreName converts a given table name to underscore case.
// It replaces any uppercase letter with an underscore followed by the lowercase letter.
// UserName -> user_name
func underscoreName(tableName string) string {
	var buf []byte
	for i, v := range tableName {
		// If the character is uppercase
		if unicode.IsUpper(v) {
			// Add an underscore before the lowercase letter
			if i != 0 {
				buf = append(buf, '_')
			}
			buf = append(buf, byte(unicode.ToLower(v)))
		} else {
			// Append the character as it is
			buf = append(buf, byte(v))
		}
	}
	return string(buf)
}

// rebuildColumns option 可能改了列名
func (m *Model) rebuildColumns() error {
	m.ColumnMap = make(map[string]*Field, len(m.Fields))
	for _, f := range m.Fields {
		if _, ok := m.ColumnMap[f.ColName]; ok {
			return errs.NewErrSchema(m.Name, f.GoName, "duplicate column %s", f.ColName)
		}
		m.ColumnMap[f.ColName] = f
	}
	return nil
}

// WithTableName is a Option function that sets the table name for a Model.
func WithTableName(tableName string) Option {
	return func(model *Model) error {
		model.TableName = tableName
		return nil
	}
}

// WithName 修改模型名，默认是结构体名
func WithName(name string) Option {
	return func(model *Model) error {
		model.Name = name
		return nil
	}
}

// WithColumnName is a function that returns a Option function, which can be used to set the column name for a specific Field in a model.
func WithColumnName(field, columnName string) Option {
	return func(model *Model) error {
		// Check if the Field exists in the model's Field map
		fd, ok := model.FieldMap[field]
		if !ok {
			// Return an error if the Field is unknown
			return errs.NewErrUnknownField(field)
		}

		// Set the column name for the Field
		fd.ColName = columnName
		return nil
	}
}

// WithPattern 字符串字段必须匹配正则
func WithPattern(field, pattern string) Option {
	return func(model *Model) error {
		fd, ok := model.FieldMap[field]
		if !ok {
			return errs.NewErrUnknownField(field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errs.NewErrSchema(model.Name, field, "bad pattern: %v", err)
		}
		fd.Checks = append(fd.Checks, Check{Name: "pattern", Pattern: re})
		return nil
	}
}

// maxIndexName 数据库标识符最长 63，留给表名和后缀
const maxIndexName = 40

// WithIndex 在 fields 上面创建普通索引，fields 是结构体字段名
func WithIndex(name string, fields ...string) Option {
	return withIndex(name, false, fields)
}

// WithUniqueIndex 联合唯一索引，单个字段可以直接用 unique 标签
func WithUniqueIndex(name string, fields ...string) Option {
	return withIndex(name, true, fields)
}

func withIndex(name string, unique bool, fields []string) Option {
	return func(model *Model) error {
		if name == "" || len(name) > maxIndexName {
			return errs.NewErrSchema(model.Name, "", "index name %q must be 1 to %d characters", name, maxIndexName)
		}
		if len(fields) == 0 {
			return errs.NewErrSchema(model.Name, "", "index %s has no fields", name)
		}
		for _, idx := range model.Indexes {
			if idx.Name == name {
				return errs.NewErrSchema(model.Name, "", "duplicate index %s", name)
			}
		}
		idx := &Index{Name: name, Unique: unique, Fields: make([]*Field, 0, len(fields))}
		for _, f := range fields {
			fd, ok := model.FieldMap[f]
			if !ok {
				return errs.NewErrUnknownField(f)
			}
			idx.Fields = append(idx.Fields, fd)
		}
		model.Indexes = append(model.Indexes, idx)
		return nil
	}
}

// WithDefaultFunc 插入的时候字段是零值，就调用 fn 生成
// 例如 time.Now
func WithDefaultFunc(field string, fn func() any) Option {
	return func(model *Model) error {
		fd, ok := model.FieldMap[field]
		if !ok {
			return errs.NewErrUnknownField(field)
		}
		fd.Default = Default{Kind: FuncDefault, Func: fn}
		return nil
	}
}

// WithDefault 插入的时候字段是零值，就使用 val
func WithDefault(field string, val any) Option {
	return func(model *Model) error {
		fd, ok := model.FieldMap[field]
		if !ok {
			return errs.NewErrUnknownField(field)
		}
		enc, err := fd.Codec.Encode(val)
		if err != nil {
			return err
		}
		dec, err := fd.Codec.Decode(enc)
		if err != nil {
			return err
		}
		fd.Default = Default{Kind: LiteralDefault, Value: dec}
		return nil
	}
}
