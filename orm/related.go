package orm

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gotomicro/ekit/slice"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

// Related 放在模型上，保存关联关系加载出来的数据
// 字段名必须和关联关系的名字一样
//
//	type Author struct {
//		Id    int64
//		Posts orm.Related[Post]
//	}
type Related[R any] struct {
	items  []*R
	loaded bool
}

func (r Related[R]) RelatedType() reflect.Type {
	return reflect.TypeOf((*R)(nil)).Elem()
}

// Items 没有加载过的时候返回 nil
func (r *Related[R]) Items() []*R {
	return r.items
}

// First 一对一，多对一的时候使用
func (r *Related[R]) First() *R {
	if len(r.items) == 0 {
		return nil
	}
	return r.items[0]
}

// Loaded 加载过之后，即便没有数据也是 true
func (r *Related[R]) Loaded() bool {
	return r.loaded
}

func (r *Related[R]) setItems(items []any) {
	r.items = make([]*R, 0, len(items))
	for _, item := range items {
		r.items = append(r.items, item.(*R))
	}
	r.loaded = true
}

func (r *Related[R]) add(item any) {
	r.items = append(r.items, item.(*R))
	r.loaded = true
}

func (r *Related[R]) markLoaded() {
	r.loaded = true
}

type relatedHolder interface {
	setItems(items []any)
	add(item any)
	markLoaded()
}

func holderOf(owner any, rel *model.Relation) relatedHolder {
	return reflect.ValueOf(owner).Elem().Field(rel.FieldIndex).Addr().Interface().(relatedHolder)
}

// keyRaw driver 返回的值经过 codec 解码之后作为 key
// 不同的 driver 返回的类型不一样，例如 int64 和 []byte
func keyRaw(fd *model.Field, raw any) string {
	v, err := fd.Codec.Decode(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return fmt.Sprint(v)
}

// keyOf 结构体上的值先编码再解码，和 keyRaw 得到同样的 key
func keyOf(fd *model.Field, v any) string {
	dv, err := fd.Codec.Encode(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return keyRaw(fd, dv)
}

// decodeRows 把结果集解码成 m 对应的结构体指针
// JOIN 产生的重复行按照主键合并，JOIN 进来的列放到 Related 字段里面
func decodeRows(c core, m *model.Model, rs *ResultSet) ([]any, error) {
	res := make([]any, 0, len(rs.Rows))
	pkIdx := -1
	if m.PK != nil {
		pkIdx = slices.Index(rs.Columns, m.PK.ColName)
	}
	var (
		roots map[string]any
		seen  map[string]struct{}
	)
	for _, row := range rs.Rows {
		inst := reflect.New(m.Type).Interface()
		extras, err := c.valCreator(inst, m).SetColumns(rs.Columns, row)
		if err != nil {
			return nil, err
		}
		if len(extras) == 0 {
			res = append(res, inst)
			continue
		}
		owner, ownerKey := inst, ""
		if pkIdx >= 0 {
			if roots == nil {
				roots = make(map[string]any, len(rs.Rows))
				seen = make(map[string]struct{}, len(rs.Rows))
			}
			ownerKey = keyRaw(m.PK, row[pkIdx])
			if prev, ok := roots[ownerKey]; ok {
				owner = prev
			} else {
				roots[ownerKey] = inst
				res = append(res, inst)
			}
		} else {
			res = append(res, inst)
		}
		if err = attach(c, m, owner, ownerKey, extras, seen); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type joinedRow struct {
	rel     *model.Relation
	cols    []string
	vals    []any
	present bool
}

// attach 列名是 Relation__column 的形式
// LEFT JOIN 没有匹配的时候全部是 NULL，只标记为已经加载
func attach(c core, m *model.Model, owner any, ownerKey string, extras map[string]any, seen map[string]struct{}) error {
	groups := make(map[string]*joinedRow, 1)
	for col, v := range extras {
		relName, colName, ok := strings.Cut(col, "__")
		if !ok {
			continue
		}
		rel, ok := m.RelationMap[relName]
		if !ok {
			continue
		}
		g, ok := groups[relName]
		if !ok {
			g = &joinedRow{rel: rel}
			groups[relName] = g
		}
		g.cols = append(g.cols, colName)
		g.vals = append(g.vals, v)
		g.present = g.present || v != nil
	}
	for _, g := range groups {
		h := holderOf(owner, g.rel)
		h.markLoaded()
		if !g.present {
			continue
		}
		target := g.rel.Target
		if seen != nil && target.PK != nil {
			if idx := slices.Index(g.cols, target.PK.ColName); idx >= 0 {
				k := ownerKey + "/" + g.rel.Name + "/" + keyRaw(target.PK, g.vals[idx])
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
			}
		}
		tgt := reflect.New(target.Type).Interface()
		if _, err := c.valCreator(tgt, target).SetColumns(g.cols, g.vals); err != nil {
			return err
		}
		h.add(tgt)
	}
	return nil
}

// Preload 批量加载 owners 的关联关系
// 外键关联只需要一条 IN 查询，多对多使用中间模型的时候需要两条
func Preload[T any](ctx context.Context, scope Scope, owners []*T, relation string) error {
	if len(owners) == 0 {
		return nil
	}
	c := scope.getCore()
	m, err := c.model(new(T))
	if err != nil {
		return err
	}
	rel, ok := m.RelationMap[relation]
	if !ok {
		return errs.NewErrRelationNotFound(m.Name, relation)
	}
	return preload(ctx, scope, c, rel, slice.Map(owners, func(idx int, src *T) any {
		return src
	}))
}

// Load 懒加载一个实例的关联关系，加载过之后直接返回缓存的数据
func Load[T any, R any](ctx context.Context, scope Scope, owner *T, relation string) ([]*R, error) {
	c := scope.getCore()
	m, err := c.model(owner)
	if err != nil {
		return nil, err
	}
	rel, ok := m.RelationMap[relation]
	if !ok {
		return nil, errs.NewErrRelationNotFound(m.Name, relation)
	}
	if want := reflect.TypeOf((*R)(nil)).Elem(); rel.Target.Type != want {
		return nil, errs.NewErrQueryBuild(nil, "关联关系 %s 的类型是 %s，不是 %s", relation, rel.Target.Type, want)
	}
	h := reflect.ValueOf(owner).Elem().Field(rel.FieldIndex).Addr().Interface().(*Related[R])
	if h.Loaded() {
		return h.Items(), nil
	}
	if err = preload(ctx, scope, c, rel, []any{owner}); err != nil {
		return nil, err
	}
	return h.Items(), nil
}

type buildFunc func() (*Query, error)

func (f buildFunc) Build() (*Query, error) {
	return f()
}

// preload 全部查询成功之后才写回 owner，失败的时候 owner 保持未加载
func preload(ctx context.Context, scope Scope, c core, rel *model.Relation, owners []any) error {
	byKey := make(map[string][]any, len(owners))
	keys := make([]any, 0, len(owners))
	for _, owner := range owners {
		v, err := c.valCreator(owner, rel.Owner).Field(rel.Local.GoName)
		if err != nil {
			return err
		}
		// NULL 外键没有关联的数据
		if dv, err := rel.Local.Codec.Encode(v); err != nil || dv == nil {
			continue
		}
		k := keyOf(rel.Local, v)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, v)
		}
		byKey[k] = append(byKey[k], owner)
	}
	items := make(map[any][]any, len(owners))
	if len(keys) > 0 {
		var err error
		switch {
		case rel.Kind != model.ManyToMany:
			err = preloadForeignKey(ctx, scope, c, rel, keys, byKey, items)
		case rel.Through != nil:
			err = preloadThrough(ctx, scope, c, rel, keys, byKey, items)
		default:
			err = preloadJoinTable(ctx, scope, c, rel, keys, byKey, items)
		}
		if err != nil {
			return err
		}
	}
	for _, owner := range owners {
		holderOf(owner, rel).setItems(items[owner])
	}
	return nil
}

func preloadForeignKey(ctx context.Context, scope Scope, c core, rel *model.Relation,
	keys []any, byKey map[string][]any, items map[any][]any) error {
	targets, err := selectIn(ctx, scope, c, rel.Target, rel.Remote, keys)
	if err != nil {
		return err
	}
	for _, tgt := range targets {
		v, err := c.valCreator(tgt, rel.Target).Field(rel.Remote.GoName)
		if err != nil {
			return err
		}
		for _, owner := range byKey[keyOf(rel.Remote, v)] {
			items[owner] = append(items[owner], tgt)
		}
	}
	return nil
}

// preloadBatchSize IN 里面最多放多少个参数
// SQLite 默认最多 32766 个参数，Postgres 最多 65535 个
var preloadBatchSize = 1000

// selectIn SELECT * FROM target WHERE field IN (...)
// key 太多的时候分批查询
func selectIn(ctx context.Context, scope Scope, c core, target *model.Model, fd *model.Field, keys []any) ([]any, error) {
	var res []any
	for batch := range slices.Chunk(keys, preloadBatchSize) {
		q := buildFunc(func() (*Query, error) {
			b := newBuilder(c, target)
			b.sb.WriteString("SELECT * FROM ")
			b.quote(target.TableName)
			b.sb.WriteString(" WHERE ")
			if err := b.buildExpression(C(fd.GoName).In(batch...)); err != nil {
				return nil, err
			}
			if target.PK != nil {
				b.sb.WriteString(" ORDER BY ")
				b.quote(target.PK.ColName)
			}
			return b.query(), nil
		})
		rs, err := query(ctx, scope, &QueryContext{Type: typeSelect, Builder: q, Model: target})
		if err != nil {
			return nil, err
		}
		items, err := decodeRows(c, target, rs)
		if err != nil {
			return nil, err
		}
		res = append(res, items...)
	}
	return res, nil
}

func preloadThrough(ctx context.Context, scope Scope, c core, rel *model.Relation,
	keys []any, byKey map[string][]any, items map[any][]any) error {
	links, err := selectIn(ctx, scope, c, rel.Through, rel.ThroughOwner, keys)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	// 目标主键 -> 中间模型上的 owner key
	ownersOf := make(map[string][]string, len(links))
	targetKeys := make([]any, 0, len(links))
	for _, link := range links {
		val := c.valCreator(link, rel.Through)
		ov, err := val.Field(rel.ThroughOwner.GoName)
		if err != nil {
			return err
		}
		tv, err := val.Field(rel.ThroughTarget.GoName)
		if err != nil {
			return err
		}
		tk := keyOf(rel.ThroughTarget, tv)
		if _, ok := ownersOf[tk]; !ok {
			targetKeys = append(targetKeys, tv)
		}
		ownersOf[tk] = append(ownersOf[tk], keyOf(rel.ThroughOwner, ov))
	}
	targets, err := selectIn(ctx, scope, c, rel.Target, rel.Target.PK, targetKeys)
	if err != nil {
		return err
	}
	for _, tgt := range targets {
		pk, err := c.valCreator(tgt, rel.Target).Field(rel.Target.PK.GoName)
		if err != nil {
			return err
		}
		for _, ownerKey := range ownersOf[keyOf(rel.Target.PK, pk)] {
			for _, owner := range byKey[ownerKey] {
				items[owner] = append(items[owner], tgt)
			}
		}
	}
	return nil
}

const ownerKeyColumn = "__owner"

// preloadJoinTable 隐式的中间表没有模型，和目标表 JOIN 在一条语句里面查
func preloadJoinTable(ctx context.Context, scope Scope, c core, rel *model.Relation,
	keys []any, byKey map[string][]any, items map[any][]any) error {
	junction := rel.Name + "__j"
	// 同一个目标被多个 owner 引用的时候共用一个实例
	targets := make(map[string]any, len(keys))
	for batch := range slices.Chunk(keys, preloadBatchSize) {
		if err := preloadJoinTableBatch(ctx, scope, c, rel, junction, batch, byKey, items, targets); err != nil {
			return err
		}
	}
	return nil
}

func preloadJoinTableBatch(ctx context.Context, scope Scope, c core, rel *model.Relation, junction string,
	keys []any, byKey map[string][]any, items map[any][]any, targets map[string]any) error {
	q := buildFunc(func() (*Query, error) {
		b := newBuilder(c, rel.Target)
		b.sb.WriteString("SELECT ")
		b.quote(rel.Name)
		b.sb.WriteString(".*,")
		b.quote(junction)
		b.sb.WriteByte('.')
		b.quote(rel.JoinOwnerColumn)
		b.buildAs(ownerKeyColumn)
		b.sb.WriteString(" FROM ")
		b.quote(rel.Target.TableName)
		b.buildAs(rel.Name)
		b.sb.WriteString(" JOIN ")
		b.quote(rel.JoinTable)
		b.buildAs(junction)
		b.sb.WriteString(" ON ")
		b.quote(rel.Name)
		b.sb.WriteByte('.')
		b.quote(rel.Target.PK.ColName)
		b.sb.WriteByte('=')
		b.quote(junction)
		b.sb.WriteByte('.')
		b.quote(rel.JoinTargetColumn)
		b.sb.WriteString(" WHERE ")
		b.quote(junction)
		b.sb.WriteByte('.')
		b.quote(rel.JoinOwnerColumn)
		b.sb.WriteString(" IN (")
		for i, k := range keys {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			if err := b.buildValue(rel.Local, k); err != nil {
				return nil, err
			}
		}
		b.sb.WriteString(") ORDER BY ")
		b.quote(rel.Name)
		b.sb.WriteByte('.')
		b.quote(rel.Target.PK.ColName)
		return b.query(), nil
	})
	rs, err := query(ctx, scope, &QueryContext{
		Type:    typeSelect,
		Builder: q,
		Model:   rel.Target,
		Tables:  []string{rel.Target.TableName, rel.JoinTable},
	})
	if err != nil {
		return err
	}
	for _, row := range rs.Rows {
		tgt := reflect.New(rel.Target.Type).Interface()
		extras, err := c.valCreator(tgt, rel.Target).SetColumns(rs.Columns, row)
		if err != nil {
			return err
		}
		pk, err := c.valCreator(tgt, rel.Target).Field(rel.Target.PK.GoName)
		if err != nil {
			return err
		}
		tk := keyOf(rel.Target.PK, pk)
		if prev, ok := targets[tk]; ok {
			tgt = prev
		} else {
			targets[tk] = tgt
		}
		for _, owner := range byKey[keyRaw(rel.Local, extras[ownerKeyColumn])] {
			items[owner] = append(items[owner], tgt)
		}
	}
	return nil
}
