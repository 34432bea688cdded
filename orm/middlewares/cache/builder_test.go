package cache

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roveil/scrudge-orm/orm"
	"github.com/roveil/scrudge-orm/orm/middlewares/cache/memory"
)

type TestModel struct {
	Id   int64
	Name string
}

func newDB(t *testing.T, store Store) (*orm.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := orm.OpenDB(mockDB, orm.DBWithMiddlewares(NewBuilder(store).TTL(time.Minute).Build()), orm.DBWithPing(false))
	require.NoError(t, err)
	_, err = db.Register(&TestModel{})
	require.NoError(t, err)
	return db, mock
}

func TestMiddlewareBuilder_Hit(t *testing.T) {
	db, mock := newDB(t, memory.NewStore(time.Minute))
	ctx := context.Background()

	mock.ExpectQuery("SELECT .*").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Tom"))

	for i := 0; i < 3; i++ {
		res, err := orm.NewSelector[TestModel](db).Where(orm.C("Id").EQ(1)).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, &TestModel{Id: 1, Name: "Tom"}, res)
	}
	require.NoError(t, mock.ExpectationsWereMet())

	// 参数不同，不会命中
	mock.ExpectQuery("SELECT .*").WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(2), "Jerry"))
	res, err := orm.NewSelector[TestModel](db).Where(orm.C("Id").EQ(2)).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jerry", res.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMiddlewareBuilder_Invalidate(t *testing.T) {
	store := memory.NewStore(time.Minute)
	db, mock := newDB(t, store)
	ctx := context.Background()

	mock.ExpectQuery("SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Tom"))
	res, err := orm.NewSelector[TestModel](db).GetMulti(ctx)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	mock.ExpectExec("UPDATE .*").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, orm.NewUpdater[TestModel](db).Set(orm.Assign("Name", "Jerry")).Exec(ctx).Err())
	v, err := store.Version(ctx, "test_model")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	mock.ExpectQuery("SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Jerry"))
	res, err = orm.NewSelector[TestModel](db).GetMulti(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jerry", res[0].Name)

	// 失败的写操作不会让缓存失效
	mock.ExpectExec("DELETE .*").WillReturnError(assert.AnError)
	require.Error(t, orm.NewDeleter[TestModel](db).Exec(ctx).Err())
	v, err = store.Version(ctx, "test_model")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMiddlewareBuilder_RawWrite(t *testing.T) {
	store := memory.NewStore(time.Minute)
	db, mock := newDB(t, store)
	ctx := context.Background()

	mock.ExpectQuery("SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Tom"))
	res, err := orm.NewSelector[TestModel](db).GetMulti(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tom", res[0].Name)

	// 模型只用来解码，不知道写的是哪张表，所有的缓存一起失效
	mock.ExpectExec("UPDATE `test_model` SET .*").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, orm.RawQuery[any](db, "UPDATE `test_model` SET `name` = ?", "Jerry").Exec(ctx).Err())
	mock.ExpectExec("UPDATE `other` SET .*").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, orm.RawQuery[TestModel](db, "UPDATE `other` SET `x` = 1").Exec(ctx).Err())

	v, err := store.Version(ctx, allTables)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	v, err = store.Version(ctx, "test_model")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	mock.ExpectQuery("SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Jerry"))
	res, err = orm.NewSelector[TestModel](db).GetMulti(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jerry", res[0].Name)

	// 带注释的读语句不会让缓存失效
	mock.ExpectQuery("/\\* report \\*/ SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Jerry"))
	_, err = orm.RawQuery[TestModel](db, "/* report */ SELECT * FROM `test_model`").GetMulti(ctx)
	require.NoError(t, err)
	v, err = store.Version(ctx, allTables)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMiddlewareBuilder_InTx(t *testing.T) {
	db, mock := newDB(t, memory.NewStore(time.Minute))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Tom"))
	mock.ExpectQuery("SELECT .*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Tom"))
	mock.ExpectCommit()

	err := db.Transaction(ctx, func(ctx context.Context, tx *orm.Tx) error {
		for i := 0; i < 2; i++ {
			if _, err := orm.NewSelector[TestModel](tx).Get(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecode(t *testing.T) {
	rs := &orm.ResultSet{
		Columns: []string{"id", "name", "data"},
		Rows:    [][]any{{int64(1), "Tom", []byte("x")}, {int64(2), nil, []byte("y")}},
	}
	data, err := msgpack.Marshal(rs)
	require.NoError(t, err)
	got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, rs, got)
}
