package middlewares

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roveil/scrudge-orm/orm"
	"github.com/roveil/scrudge-orm/orm/middlewares/cache"
	"github.com/roveil/scrudge-orm/orm/middlewares/cache/memory"
	"github.com/roveil/scrudge-orm/orm/middlewares/opentelemetry"
	ormprom "github.com/roveil/scrudge-orm/orm/middlewares/prometheus"
	"github.com/roveil/scrudge-orm/orm/middlewares/querylog"
)

type TestModel struct {
	Id        int64 `orm:"pk,auto"`
	FirstName string
	Age       int8
}

// TestMiddlewares 所有中间件串起来跑在 sqlite 上
// 缓存在最外层，命中之后后面的中间件都不会执行
func TestMiddlewares(t *testing.T) {
	var selects int
	logs := querylog.NewBuilder().LogFunc(func(q string, _ []any) {
		if strings.HasPrefix(q, "SELECT") {
			selects++
		}
	})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reg := prometheus.NewRegistry()

	db, err := orm.Open("sqlite3", "file:middlewares?mode=memory&cache=shared",
		orm.DBWithMiddlewares(
			cache.NewBuilder(memory.NewStore(time.Minute)).Build(),
			opentelemetry.MiddlewareBuilder{Tracer: tp.Tracer("test")}.Build(),
			ormprom.MiddlewareBuilder{Name: "query", Registerer: reg}.Build(),
			logs.Build(),
		))
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()
	_, err = db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.CreateTables(ctx))

	tm := &TestModel{FirstName: "Tom", Age: 18}
	require.NoError(t, orm.NewInserter[TestModel](db).Values(tm).Exec(ctx).Err())
	assert.Equal(t, int64(1), tm.Id)

	for i := 0; i < 3; i++ {
		res, err := orm.NewSelector[TestModel](db).Where(orm.C("Id").EQ(1)).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, tm, res)
	}
	assert.Equal(t, 1, selects)

	require.NoError(t, orm.NewUpdater[TestModel](db).
		Set(orm.Assign("Age", 19)).Where(orm.C("Id").EQ(1)).Exec(ctx).Err())
	res, err := orm.NewSelector[TestModel](db).Where(orm.C("Id").EQ(1)).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int8(19), res.Age)
	assert.Equal(t, 2, selects)

	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	assert.True(t, names["SELECT-test_model"])
	assert.True(t, names["INSERT-test_model"])
	assert.True(t, names["UPDATE-test_model"])
	assert.Positive(t, testutil.CollectAndCount(reg, "query"))
}
