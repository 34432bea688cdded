package orm

import (
	"context"
	"strconv"
	"strings"

	"github.com/roveil/scrudge-orm/orm/model"
)

// CreateTables 按照注册顺序建表，已经存在的表会跳过
// 隐式的多对多中间表也会一起创建
func (db *DB) CreateTables(ctx context.Context) error {
	if !db.r.Sealed() {
		if err := db.r.Seal(); err != nil {
			return err
		}
	}
	for _, q := range db.schema() {
		if res := Exec(ctx, db, q); res.Err() != nil {
			return res.Err()
		}
	}
	return nil
}

// schema 每张表一条 CREATE TABLE 语句
func (db *DB) schema() []*Query {
	var res []*Query
	created := make(map[string]bool, 8)
	for _, m := range db.r.Models() {
		res = append(res, db.createTable(m))
		created[m.TableName] = true
		if !db.dialect.inlineIndex() {
			for _, idx := range m.Indexes {
				res = append(res, db.createIndex(m, idx))
			}
		}
	}
	for _, m := range db.r.Models() {
		for _, rel := range m.Relations {
			if rel.JoinTable == "" || created[rel.JoinTable] {
				continue
			}
			created[rel.JoinTable] = true
			res = append(res, db.createJoinTable(rel))
		}
	}
	return res
}

func (db *DB) createTable(m *model.Model) *Query {
	b := newBuilder(db.core, m)
	b.sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.quote(m.TableName)
	b.sb.WriteString(" (")
	for i, fd := range m.Fields {
		if i > 0 {
			b.sb.WriteByte(',')
		}
		b.quote(fd.ColName)
		b.sb.WriteByte(' ')
		if fd.PrimaryKey && fd.AutoIncrement {
			b.sb.WriteString(db.dialect.autoPrimaryKey(fd))
			continue
		}
		b.sb.WriteString(db.dialect.columnType(fd))
		if !fd.Nullable {
			b.sb.WriteString(" NOT NULL")
		}
		if fd.PrimaryKey {
			b.sb.WriteString(" PRIMARY KEY")
		} else if fd.Unique {
			b.sb.WriteString(" UNIQUE")
		}
		switch fd.Default.Kind {
		case model.LiteralDefault:
			b.sb.WriteString(" DEFAULT '")
			b.sb.WriteString(strings.ReplaceAll(fd.Default.Expr, "'", "''"))
			b.sb.WriteByte('\'')
		case model.ServerDefault:
			b.sb.WriteString(" DEFAULT ")
			b.sb.WriteString(fd.Default.Expr)
		}
		if fd.FK != nil {
			b.sb.WriteString(" REFERENCES ")
			b.quote(fd.FK.Model.TableName)
			b.sb.WriteByte('(')
			b.quote(fd.FK.Field.ColName)
			b.sb.WriteByte(')')
		}
		buildChecks(b, fd)
	}
	if db.dialect.inlineIndex() {
		for _, idx := range m.Indexes {
			b.sb.WriteByte(',')
			if idx.Unique {
				b.sb.WriteString("UNIQUE ")
			}
			b.sb.WriteString("INDEX ")
			buildIndex(b, m, idx)
		}
	}
	b.sb.WriteByte(')')
	return b.query()
}

// createIndex 表已经存在的时候索引也可能已经存在
func (db *DB) createIndex(m *model.Model, idx *model.Index) *Query {
	b := newBuilder(db.core, m)
	b.sb.WriteString("CREATE ")
	if idx.Unique {
		b.sb.WriteString("UNIQUE ")
	}
	b.sb.WriteString("INDEX IF NOT EXISTS ")
	buildIndex(b, m, idx)
	return b.query()
}

// buildIndex 索引名加上列，例如 `user_name_idx` (`first_name`,`last_name`)
func buildIndex(b *builder, m *model.Model, idx *model.Index) {
	b.quote(m.TableName + "_" + idx.Name + "_idx")
	if !b.dialect.inlineIndex() {
		b.sb.WriteString(" ON ")
		b.quote(m.TableName)
	}
	b.sb.WriteString(" (")
	for i, fd := range idx.Fields {
		if i > 0 {
			b.sb.WriteByte(',')
		}
		b.quote(fd.ColName)
	}
	b.sb.WriteByte(')')
}

// buildChecks 只有数值的约束写到建表语句里面，其它的约束在写入之前校验
func buildChecks(b *builder, fd *model.Field) {
	ops := map[string]string{"gt": ">", "ge": ">=", "lt": "<", "le": "<="}
	for _, c := range fd.Checks {
		o, ok := ops[c.Name]
		if !ok {
			continue
		}
		b.sb.WriteString(" CHECK (")
		b.quote(fd.ColName)
		b.sb.WriteString(o)
		b.sb.WriteString(strconv.FormatFloat(c.Limit, 'f', -1, 64))
		b.sb.WriteByte(')')
	}
}

// createJoinTable 两列组成联合主键
func (db *DB) createJoinTable(rel *model.Relation) *Query {
	b := newBuilder(db.core, rel.Owner)
	b.sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.quote(rel.JoinTable)
	b.sb.WriteString(" (")
	cols := []struct {
		name string
		ref  *model.Model
	}{{rel.JoinOwnerColumn, rel.Owner}, {rel.JoinTargetColumn, rel.Target}}
	for _, col := range cols {
		b.quote(col.name)
		b.sb.WriteByte(' ')
		b.sb.WriteString(db.dialect.columnType(col.ref.PK))
		b.sb.WriteString(" NOT NULL REFERENCES ")
		b.quote(col.ref.TableName)
		b.sb.WriteByte('(')
		b.quote(col.ref.PK.ColName)
		b.sb.WriteString("),")
	}
	b.sb.WriteString("PRIMARY KEY (")
	b.quote(rel.JoinOwnerColumn)
	b.sb.WriteByte(',')
	b.quote(rel.JoinTargetColumn)
	b.sb.WriteString("))")
	return b.query()
}
