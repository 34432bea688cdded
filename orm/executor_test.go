package orm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	db, mock := mockDB(t, DBWithDialect(Postgres))
	ctx := context.Background()

	// 原生语句里面的 ? 会被换成方言的占位符
	mock.ExpectQuery(`SELECT name FROM "user" WHERE id > \$1 AND age < \$2`).
		WithArgs(1, 18).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Tom").AddRow("Jerry"))
	rs, err := Execute(ctx, db, RawQuery[any](db, `SELECT name FROM "user" WHERE id > ? AND age < ?`, 1, 18))
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, rs.Columns)
	assert.Equal(t, [][]any{{"Tom"}, {"Jerry"}}, rs.Rows)

	mock.ExpectExec(`DELETE FROM "user"`).WillReturnResult(sqlmock.NewResult(0, 3))
	res := Exec(ctx, db, &Query{SQL: `DELETE FROM "user"`})
	require.NoError(t, res.Err())
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawQuerier_Get(t *testing.T) {
	db, mock := mockDB(t)
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `test_model` WHERE `age` > \\?").
		WithArgs(18).
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "age"}).
			AddRow(int64(1), "Tom", int64(20)).
			AddRow(int64(2), "Jerry", int64(30)))
	res, err := RawQuery[TestModel](db, "SELECT * FROM `test_model` WHERE `age` > ?", 18).GetMulti(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*TestModel{
		{Id: 1, FirstName: "Tom", Age: 20},
		{Id: 2, FirstName: "Jerry", Age: 30},
	}, res)

	mock.ExpectQuery("SELECT .*").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = RawQuery[TestModel](db, "SELECT * FROM `test_model` WHERE `id` = ?", 3).Get(ctx)
	assert.Equal(t, ErrNoRows, err)

	// 没有注册的模型不能解码
	_, err = RawQuery[Account](db, "SELECT * FROM `account`").GetMulti(ctx)
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteMany(t *testing.T) {
	db, mock := mockDB(t)
	ctx := context.Background()

	prep := mock.ExpectPrepare("UPDATE user SET age = \\? WHERE id = \\?")
	prep.ExpectExec().WithArgs(18, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(19, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(20, 3).WillReturnResult(sqlmock.NewResult(0, 0))
	n, err := ExecuteMany(ctx, db, &Query{SQL: "UPDATE user SET age = ? WHERE id = ?"},
		[][]any{{18, 1}, {19, 2}, {20, 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 遇到错误立刻停止
	prep = mock.ExpectPrepare("UPDATE .*")
	prep.ExpectExec().WillReturnError(errors.New("NOT NULL constraint failed: user.age"))
	_, err = ExecuteMany(ctx, db, &Query{SQL: "UPDATE user SET age = ? WHERE id = ?"},
		[][]any{{nil, 1}, {19, 2}})
	assert.True(t, IsKind(err, KindNotNull))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementCache(t *testing.T) {
	db, mock := mockDB(t, DBWithStatementCache(4))
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()

	sess, err := db.Acquire(ctx)
	require.NoError(t, err)

	// 同一条语句只预编译一次
	prep := mock.ExpectPrepare("SELECT \\* FROM `test_model` WHERE `id` = \\?;")
	prep.ExpectQuery().WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	prep.ExpectQuery().WithArgs(int64(2)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	prep.WillBeClosed()

	_, err = NewSelector[TestModel](sess).Where(C("Id").EQ(1)).GetMulti(ctx)
	require.NoError(t, err)
	_, err = NewSelector[TestModel](sess).Where(C("Id").EQ(2)).GetMulti(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

// flakyConnector 包装 sqlite3，前 failures 条语句返回 database is locked
type flakyConnector struct {
	dsn      string
	failures *atomic.Int32
}

func (c flakyConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.Driver().Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &flakyConn{Conn: conn, failures: c.failures}, nil
}

func (c flakyConnector) Driver() driver.Driver {
	return &sqlite3.SQLiteDriver{}
}

type flakyConn struct {
	driver.Conn
	failures *atomic.Int32
}

func (c *flakyConn) fail() error {
	if c.failures.Add(-1) >= 0 {
		return errors.New("database is locked")
	}
	return nil
}

func (c *flakyConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.fail(); err != nil {
		return nil, err
	}
	return c.Conn.(driver.QueryerContext).QueryContext(ctx, query, args)
}

func (c *flakyConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.fail(); err != nil {
		return nil, err
	}
	return c.Conn.(driver.ExecerContext).ExecContext(ctx, query, args)
}

func (c *flakyConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return c.Conn.(driver.ConnBeginTx).BeginTx(ctx, opts)
}

func flakyDB(t *testing.T, failures *atomic.Int32, opts ...DBOption) *DB {
	sqlDB := sql.OpenDB(flakyConnector{dsn: filepath.Join(t.TempDir(), "flaky.db"), failures: failures})
	db, err := OpenDB(sqlDB, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	_, err = db.Register(&TestModel{})
	require.NoError(t, err)
	require.NoError(t, db.CreateTables(context.Background()))
	require.NoError(t, NewInserter[TestModel](db).Values(&TestModel{FirstName: "Tom", Age: 18}).Exec(context.Background()).Err())
	return db
}

func TestDB_Retry(t *testing.T) {
	failures := &atomic.Int32{}
	db := flakyDB(t, failures, DBWithRetry(3, time.Millisecond))
	ctx := context.Background()

	// 读语句换一个连接重试
	failures.Store(2)
	res, err := NewSelector[TestModel](db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tom", res.FirstName)
	assert.Equal(t, 2, db.Stats().Discarded)

	// 超过次数之后返回最后一次的错误
	failures.Store(3)
	_, err = NewSelector[TestModel](db).Get(ctx)
	assert.True(t, IsRetryable(err))

	// 写语句不会重试
	failures.Store(1)
	err = NewUpdater[TestModel](db).Set(Assign("Age", 19)).Exec(ctx).Err()
	assert.True(t, IsRetryable(err))
	res, err = NewSelector[TestModel](db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int8(18), res.Age)
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestDB_TransactionRetry(t *testing.T) {
	failures := &atomic.Int32{}
	db := flakyDB(t, failures, DBWithRetry(2, 0))
	ctx := context.Background()

	// 事务里面的语句失败，整个事务换一个连接重新执行
	failures.Store(1)
	calls := 0
	err := db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		calls++
		return NewUpdater[TestModel](tx).Set(Inc("Age", 1)).Exec(ctx).Err()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	res, err := NewSelector[TestModel](db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int8(19), res.Age)

	// 不能重试的错误直接返回
	calls = 0
	errBiz := errors.New("biz error")
	err = db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		calls++
		return errBiz
	})
	assert.Equal(t, errBiz, err)
	assert.Equal(t, 1, calls)
}

func TestIsSelect(t *testing.T) {
	testCases := []struct {
		name  string
		query string
		want  bool
	}{
		{name: "select", query: "SELECT 1", want: true},
		{name: "lower case", query: "  select 1", want: true},
		{name: "with", query: "WITH t AS (SELECT 1) SELECT * FROM t", want: true},
		{name: "block comment", query: "/* main.list:main.go:42 */ SELECT 1", want: true},
		{name: "nested comments", query: "/* a */\n-- b\n  /* c */SELECT 1", want: true},
		{name: "update", query: "UPDATE t SET a = 1", want: false},
		{name: "commented update", query: "/* SELECT */ UPDATE t SET a = 1", want: false},
		{name: "unclosed comment", query: "/* SELECT 1", want: false},
		{name: "line comment only", query: "-- SELECT 1", want: false},
		{name: "empty", query: "", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isSelect(tc.query))
		})
	}
}

func TestDB_RetryTaggedRaw(t *testing.T) {
	tag := func(next Handler) Handler {
		return func(ctx context.Context, qc *QueryContext) *QueryResult {
			qc.Query = &Query{SQL: "/* report */ " + qc.Query.SQL, Args: qc.Query.Args}
			return next(ctx, qc)
		}
	}
	failures := &atomic.Int32{}
	db := flakyDB(t, failures, DBWithRetry(3, time.Millisecond), DBWithMiddlewares(tag))
	ctx := context.Background()

	// 中间件加上注释之后原生的读语句仍然会重试
	failures.Store(1)
	res, err := RawQuery[TestModel](db, "SELECT * FROM `test_model`").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tom", res.FirstName)
	assert.Equal(t, 1, db.Stats().Discarded)

	// 原生的写语句不会重试
	failures.Store(1)
	err = RawQuery[TestModel](db, "UPDATE `test_model` SET `age` = 20").Exec(ctx).Err()
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0, db.Stats().InUse)
}
