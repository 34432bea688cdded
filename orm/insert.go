package orm

import (
	"context"
	"reflect"
	"slices"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/internal/valuer"
	"github.com/roveil/scrudge-orm/orm/model"
)

var (
	_ Executor     = &Inserter[any]{}
	_ QueryBuilder = &Inserter[any]{}
)

// Upsert 插入冲突的时候怎么办
type Upsert struct {
	conflictColumns []string
	assigns         []Assignable
	doNothing       bool
}

// UpsertBuilder 由 Inserter.OnDuplicateKey 创建
type UpsertBuilder[T any] struct {
	i               *Inserter[T]
	conflictColumns []string
}

// ConflictColumns 冲突的列，MySQL 会忽略，SQLite 和 Postgres 默认是主键
func (o *UpsertBuilder[T]) ConflictColumns(cols ...string) *UpsertBuilder[T] {
	return &UpsertBuilder[T]{i: o.i, conflictColumns: cols}
}

// Update 冲突的时候更新。传入 C("Name") 表示使用准备插入的值
func (o *UpsertBuilder[T]) Update(assigns ...Assignable) *Inserter[T] {
	return o.done(&Upsert{conflictColumns: o.conflictColumns, assigns: assigns})
}

// DoNothing 冲突的时候保留原来的数据
func (o *UpsertBuilder[T]) DoNothing() *Inserter[T] {
	return o.done(&Upsert{conflictColumns: o.conflictColumns, doNothing: true})
}

func (o *UpsertBuilder[T]) done(u *Upsert) *Inserter[T] {
	i := o.i
	if i.err != nil {
		return i
	}
	for _, c := range u.conflictColumns {
		if _, ok := i.model.FieldMap[c]; !ok {
			return i.fail(errs.NewErrUnknownField(c))
		}
	}
	if !u.doNothing && len(u.assigns) == 0 {
		return i.fail(errs.ErrNoUpdatedColumns)
	}
	if err := validateAssigns(i.model, u.assigns); err != nil {
		return i.fail(err)
	}
	res := i.clone()
	res.upsert = u
	return res
}

type Inserter[T any] struct {
	core
	scope   Scope
	model   *model.Model
	err     error
	values  []*T     // 缓存要插入的数据
	columns []string // 只插入哪些字段
	upsert  *Upsert

	memo *memo
	// plan Build 的时候计算好的列，Exec 回填主键的时候使用
	plan *insertPlan
}

type insertPlan struct {
	fields []*model.Field
	rows   [][]any
	// returning 使用 RETURNING 拿主键
	returning bool
	// backfill 需要回填自增主键
	backfill bool
}

func NewInserter[T any](scope Scope) *Inserter[T] {
	c := scope.getCore()
	m, err := c.model(new(T))
	return &Inserter[T]{
		core:  c,
		scope: scope,
		model: m,
		err:   err,
		memo:  &memo{},
	}
}

func (i *Inserter[T]) clone() *Inserter[T] {
	res := *i
	res.memo = &memo{}
	res.plan = nil
	return &res
}

func (i *Inserter[T]) fail(err error) *Inserter[T] {
	res := i.clone()
	if res.err == nil {
		res.err = err
	}
	return res
}

// Values
//
//	@Description: 将插入数据库中的数据
//	@receiver i
//	@param val
//	@return *Inserter[T]
func (i *Inserter[T]) Values(vals ...*T) *Inserter[T] {
	res := i.clone()
	res.values = vals
	return res
}

// Columns
//
//	@Description: 只插入指定的字段
//	@receiver i
//	@param cols
//	@return *Inserter[T]
func (i *Inserter[T]) Columns(cols ...string) *Inserter[T] {
	if i.err != nil {
		return i
	}
	for _, c := range cols {
		if _, ok := i.model.FieldMap[c]; !ok {
			return i.fail(errs.NewErrUnknownField(c))
		}
	}
	res := i.clone()
	res.columns = cols
	return res
}

// OnDuplicateKey 开始构造 UPSERT
func (i *Inserter[T]) OnDuplicateKey() *UpsertBuilder[T] {
	return &UpsertBuilder[T]{i: i}
}

func (i *Inserter[T]) Build() (*Query, error) {
	if i.err != nil {
		return nil, i.err
	}
	return i.memo.get(func() (*Query, error) {
		plan, err := i.prepare()
		if err != nil {
			return nil, err
		}
		i.plan = plan
		return i.build(plan, len(plan.rows))
	})
}

// prepare 决定插入哪些列，填上默认值，然后校验并且编码每一行
// 所有的错误一次性返回
func (i *Inserter[T]) prepare() (*insertPlan, error) {
	if len(i.values) == 0 {
		return nil, errs.ErrInsertZeroRow
	}
	vals := make([]reflect.Value, len(i.values))
	for idx, v := range i.values {
		vals[idx] = reflect.ValueOf(v).Elem()
	}

	plan := &insertPlan{}
	if len(i.columns) > 0 {
		for _, c := range i.columns {
			plan.fields = append(plan.fields, i.model.FieldMap[c])
		}
	} else {
		for _, fd := range i.model.Fields {
			// 自增主键和数据库生成的默认值，全部都是零值的时候不写这一列
			if (fd.AutoIncrement || fd.Default.Kind == model.ServerDefault) &&
				!slices.ContainsFunc(vals, func(v reflect.Value) bool { return !v.Field(fd.Index).IsZero() }) {
				if fd.AutoIncrement && fd.PrimaryKey {
					plan.backfill = i.upsert == nil
					plan.returning = i.dialect.returning()
				}
				continue
			}
			plan.fields = append(plan.fields, fd)
		}
	}

	var failed []*errs.FieldError
	seen := make(map[*model.Field]map[string]int, 2)
	plan.rows = make([][]any, len(i.values))
	for r, v := range i.values {
		val := i.valCreator(v, i.model)
		row := make([]any, 0, len(plan.fields))
		for _, fd := range plan.fields {
			arg, err := i.argOf(val, vals[r].Field(fd.Index), fd)
			if err != nil {
				failed = append(failed, &errs.FieldError{Row: r, Field: fd.GoName, Err: err})
				row = append(row, nil)
				continue
			}
			if fd.Unique && arg != nil && !(fd.AutoIncrement && vals[r].Field(fd.Index).IsZero()) {
				keys, ok := seen[fd]
				if !ok {
					keys = make(map[string]int, len(i.values))
					seen[fd] = keys
				}
				k := keyRaw(fd, arg)
				if _, dup := keys[k]; dup {
					failed = append(failed, &errs.FieldError{Row: r, Field: fd.GoName, Err: errs.ErrDuplicateInBatch})
				}
				keys[k] = r
			}
			row = append(row, arg)
		}
		plan.rows[r] = row
	}
	if len(failed) > 0 {
		return nil, &errs.ValidationError{Model: i.model.Name, Fields: failed}
	}
	return plan, nil
}

// argOf 零值字段先使用默认值，默认值会写回结构体
func (i *Inserter[T]) argOf(val valuer.Value, fv reflect.Value, fd *model.Field) (any, error) {
	if fv.IsZero() {
		if def, ok := fd.Default.Resolve(); ok {
			if err := val.SetField(fd.GoName, def); err != nil {
				return nil, err
			}
		}
	}
	v, err := val.Field(fd.GoName)
	if err != nil {
		return nil, err
	}
	if err = fd.Validate(v); err != nil {
		return nil, err
	}
	return fd.Codec.Encode(v)
}

// build rows 是 VALUES 里面的行数，ExecMany 的时候只有一行
func (i *Inserter[T]) build(plan *insertPlan, rows int) (*Query, error) {
	b := newBuilder(i.core, i.model)
	b.sb.WriteString("INSERT INTO ")
	b.quote(i.model.TableName)
	b.sb.WriteString(" (")
	for idx, fd := range plan.fields {
		if idx > 0 {
			b.sb.WriteByte(',')
		}
		b.quote(fd.ColName)
	}
	b.sb.WriteString(") VALUES ")
	for r := 0; r < rows; r++ {
		// 构建 VALUES (?,?,?), (?,?,?)
		if r > 0 {
			b.sb.WriteByte(',')
		}
		b.sb.WriteByte('(')
		for f := range plan.fields {
			if f > 0 {
				b.sb.WriteByte(',')
			}
			b.param(plan.rows[r][f])
		}
		b.sb.WriteByte(')')
	}

	if i.upsert != nil {
		if err := i.dialect.buildUpsert(b, i.upsert); err != nil {
			return nil, err
		}
	}
	if plan.returning {
		b.sb.WriteString(" RETURNING ")
		b.quote(i.model.PK.ColName)
	}
	return b.query(), nil
}

func (i *Inserter[T]) queryContext() *QueryContext {
	return &QueryContext{
		Type:    typeInsert,
		Builder: i,
		Model:   i.model,
	}
}

// Exec 执行成功之后，自增主键会回填到结构体上
func (i *Inserter[T]) Exec(ctx context.Context) Result {
	if i.err != nil {
		return Result{err: i.err}
	}
	if _, err := i.Build(); err != nil {
		return Result{err: err}
	}
	if i.plan.returning {
		rs, err := query(ctx, i.scope, i.queryContext())
		if err != nil {
			return Result{err: err}
		}
		ids := make([]int64, 0, len(rs.Rows))
		for _, row := range rs.Rows {
			id, err := i.model.PK.Codec.Decode(row[0])
			if err != nil {
				return Result{err: err}
			}
			if id == nil {
				continue
			}
			ids = append(ids, reflect.ValueOf(id).Int())
		}
		if err = i.backfill(ids); err != nil {
			return Result{err: err}
		}
		var last int64
		if len(ids) > 0 {
			last = ids[len(ids)-1]
		}
		return Result{res: staticResult{lastID: last, affected: int64(len(ids))}}
	}

	res := exec(ctx, i.scope, i.queryContext())
	if res.err != nil || !i.plan.backfill {
		return res
	}
	if id, err := res.LastInsertId(); err == nil {
		if err = i.backfill(i.dialect.batchIDs(id, len(i.values))); err != nil {
			return Result{err: err}
		}
	}
	return res
}

func (i *Inserter[T]) backfill(ids []int64) error {
	if len(ids) != len(i.values) {
		return nil
	}
	for idx, v := range i.values {
		if err := i.valCreator(v, i.model).SetField(i.model.PK.GoName, ids[idx]); err != nil {
			return err
		}
	}
	return nil
}

// ExecMany 预编译一行的 INSERT，每一个实例执行一次
// 在 *DB 上执行的时候，全部的行在同一个事务里面
func (i *Inserter[T]) ExecMany(ctx context.Context) Result {
	if i.err != nil {
		return Result{err: i.err}
	}
	plan, err := i.prepare()
	if err != nil {
		return Result{err: err}
	}
	plan.returning = false
	q, err := i.build(plan, 1)
	if err != nil {
		return Result{err: err}
	}
	// ON CONFLICT 里面赋值的参数在每一行的参数后面
	if extra := q.Args[len(plan.fields):]; len(extra) > 0 {
		for r, row := range plan.rows {
			plan.rows[r] = append(slices.Clip(row), extra...)
		}
	}
	qc := &QueryContext{Type: typeInsert, Builder: q, Model: i.model}
	if db, ok := i.scope.(*DB); ok {
		var res Result
		err = db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
			res = executeMany(ctx, tx, qc, plan.rows)
			return res.err
		})
		if err != nil {
			return Result{err: err}
		}
		return res
	}
	return executeMany(ctx, i.scope, qc, plan.rows)
}
