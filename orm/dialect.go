package orm

import (
	"strconv"

	"github.com/roveil/scrudge-orm/orm/codec"
	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

var (
	MySQL    Dialect = &mysqlDialect{}
	SQLite3  Dialect = &sqlite3Dialect{}
	Postgres Dialect = &postgresDialect{}
)

// Dialect 只处理同一类 SQL 之间的差异：引号，占位符，UPSERT，建表的类型
type Dialect interface {
	Name() string
	quoter() byte
	// placeholder 第 n 个参数的占位符，从 1 开始
	placeholder(n int) string
	buildUpsert(b *builder, u *Upsert) error
	// returning 是否使用 RETURNING 拿到自增主键
	returning() bool
	greatest() string
	columnType(fd *model.Field) string
	// autoPrimaryKey 自增主键的完整定义，不包含列名
	autoPrimaryKey(fd *model.Field) string
	// batchIDs 批量插入之后，根据 LastInsertId 推算每一行的主键
	batchIDs(lastID int64, n int) []int64
	// inlineIndex 索引写在建表语句里面，没有 CREATE INDEX IF NOT EXISTS 的数据库使用
	inlineIndex() bool
}

// dialectOf 根据驱动名推断方言
func dialectOf(driver string) (Dialect, bool) {
	switch driver {
	case "sqlite3", "sqlite":
		return SQLite3, true
	case "mysql":
		return MySQL, true
	case "pgx", "postgres":
		return Postgres, true
	}
	return nil, false
}

type standardSQL struct {
}

func (s *standardSQL) placeholder(int) string {
	return "?"
}

func (s *standardSQL) returning() bool {
	return false
}

func (s *standardSQL) greatest() string {
	return "GREATEST"
}

func (s *standardSQL) inlineIndex() bool {
	return false
}

// buildUpsert ON CONFLICT 的写法，SQLite 和 Postgres 共用
func (s *standardSQL) buildUpsert(b *builder, u *Upsert) error {
	b.sb.WriteString(" ON CONFLICT")
	cols := u.conflictColumns
	if len(cols) == 0 && b.model.PK != nil {
		cols = []string{b.model.PK.GoName}
	}
	if len(cols) > 0 {
		b.sb.WriteByte('(')
		for i, col := range cols {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			fd, ok := b.model.FieldMap[col]
			if !ok {
				return errs.NewErrUnknownField(col)
			}
			b.quote(fd.ColName)
		}
		b.sb.WriteByte(')')
	}
	if u.doNothing {
		b.sb.WriteString(" DO NOTHING")
		return nil
	}
	b.sb.WriteString(" DO UPDATE SET ")

	for idx, assign := range u.assigns {
		if idx > 0 {
			b.sb.WriteByte(',')
		}
		switch a := assign.(type) {
		case Column:
			fd, ok := b.model.FieldMap[a.name]
			if !ok {
				return errs.NewErrUnknownField(a.name)
			}
			b.quote(fd.ColName)
			b.sb.WriteString("=excluded.")
			b.quote(fd.ColName)
		case Assignment:
			if err := b.buildAssignment(a); err != nil {
				return err
			}
		default:
			return errs.NewErrUnsupportedAssignableType(a)
		}
	}
	return nil
}

// batchIDs LastInsertId 是最后一行的主键
func (s *standardSQL) batchIDs(lastID int64, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = lastID - int64(n-1-i)
	}
	return ids
}

type mysqlDialect struct {
	standardSQL
}

func (m *mysqlDialect) Name() string {
	return "mysql"
}

func (m *mysqlDialect) quoter() byte {
	return '`'
}

func (m *mysqlDialect) inlineIndex() bool {
	return true
}

func (m *mysqlDialect) buildUpsert(b *builder, u *Upsert) error {
	b.sb.WriteString(" ON DUPLICATE KEY UPDATE ")
	if u.doNothing {
		// 把某一列赋值成自己，相当于什么都不做
		fd := b.model.PK
		if fd == nil {
			fd = b.model.Fields[0]
		}
		b.quote(fd.ColName)
		b.sb.WriteByte('=')
		b.quote(fd.ColName)
		return nil
	}
	for idx, a := range u.assigns {
		if idx > 0 {
			b.sb.WriteByte(',')
		}

		switch assign := a.(type) {
		case Column:
			// 使用原本插入的值
			// "INSERT INTO `test_model`(`id`,`first_name`,`age`,`last_name`) VALUES(?,?,?,?),(?,?,?,?) ON DUPLICATE KEY UPDATE `first_name`=VALUES(`first_name`),`last_name`=VALUES(`last_name`);"
			fd, ok := b.model.FieldMap[assign.name]
			if !ok {
				return errs.NewErrUnknownField(assign.name)
			}
			b.quote(fd.ColName)
			b.sb.WriteString("=VALUES(")
			b.quote(fd.ColName)
			b.sb.WriteByte(')')
		case Assignment:
			// "INSERT INTO `test_model`(`id`,`first_name`,`age`,`last_name`) VALUES(?,?,?,?) ON DUPLICATE KEY UPDATE `first_name`=?;"
			if err := b.buildAssignment(assign); err != nil {
				return err
			}
		default:
			return errs.NewErrUnsupportedAssignableType(assign)
		}
	}
	return nil
}

// batchIDs MySQL 的 LastInsertId 是第一行的主键
func (m *mysqlDialect) batchIDs(lastID int64, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = lastID + int64(i)
	}
	return ids
}

func (m *mysqlDialect) columnType(fd *model.Field) string {
	switch fd.Logical {
	case codec.Bool:
		return "BOOLEAN"
	case codec.SmallInt:
		return "SMALLINT"
	case codec.Integer:
		return "INT"
	case codec.BigInt:
		return "BIGINT"
	case codec.Float:
		return "DOUBLE"
	case codec.Decimal:
		return "DECIMAL(30,10)"
	case codec.Text:
		// TEXT 不能直接建唯一索引
		if fd.Unique || fd.PrimaryKey || fd.FK != nil {
			return "VARCHAR(255)"
		}
		return "TEXT"
	case codec.Bytes:
		return "BLOB"
	case codec.Timestamp:
		return "DATETIME(6)"
	case codec.Date:
		return "DATE"
	case codec.UUID:
		return "CHAR(36)"
	case codec.JSON:
		return "JSON"
	case codec.SHA512:
		return "CHAR(" + strconv.Itoa(len(codec.HashSHA512(""))) + ")"
	}
	return "TEXT"
}

func (m *mysqlDialect) autoPrimaryKey(fd *model.Field) string {
	return m.columnType(fd) + " NOT NULL AUTO_INCREMENT PRIMARY KEY"
}

type sqlite3Dialect struct {
	standardSQL
}

func (s *sqlite3Dialect) Name() string {
	return "sqlite3"
}

func (s *sqlite3Dialect) quoter() byte {
	return '`'
}

// greatest SQLite 里面多个参数的 MAX 就是 GREATEST
func (s *sqlite3Dialect) greatest() string {
	return "MAX"
}

func (s *sqlite3Dialect) columnType(fd *model.Field) string {
	switch fd.Logical {
	case codec.Bool:
		return "BOOLEAN"
	case codec.SmallInt, codec.Integer, codec.BigInt:
		return "INTEGER"
	case codec.Float:
		return "REAL"
	case codec.Bytes:
		return "BLOB"
	case codec.Timestamp:
		// 驱动会把 DATETIME 列解析成 time.Time
		return "DATETIME"
	case codec.Date:
		return "DATE"
	}
	// decimal 使用 TEXT，避免被转换成浮点数
	return "TEXT"
}

func (s *sqlite3Dialect) autoPrimaryKey(*model.Field) string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

type postgresDialect struct {
	standardSQL
}

func (p *postgresDialect) Name() string {
	return "postgres"
}

func (p *postgresDialect) quoter() byte {
	return '"'
}

func (p *postgresDialect) placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (p *postgresDialect) returning() bool {
	return true
}

func (p *postgresDialect) columnType(fd *model.Field) string {
	switch fd.Logical {
	case codec.Bool:
		return "BOOLEAN"
	case codec.SmallInt:
		return "SMALLINT"
	case codec.Integer:
		return "INTEGER"
	case codec.BigInt:
		return "BIGINT"
	case codec.Float:
		return "DOUBLE PRECISION"
	case codec.Decimal:
		return "NUMERIC"
	case codec.Bytes:
		return "BYTEA"
	case codec.Timestamp:
		return "TIMESTAMPTZ"
	case codec.Date:
		return "DATE"
	case codec.UUID:
		return "UUID"
	case codec.JSON:
		return "JSONB"
	}
	return "TEXT"
}

func (p *postgresDialect) autoPrimaryKey(fd *model.Field) string {
	if fd.Logical == codec.BigInt {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "SERIAL PRIMARY KEY"
}
