package prometheus

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roveil/scrudge-orm/orm"
)

type TestModel struct {
	Id   int64
	Name string
}

func TestMiddlewareBuilder_Build(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MiddlewareBuilder{
		Namespace:  "scrudge",
		Subsystem:  "orm",
		Name:       "query_duration_ms",
		Help:       "orm query duration",
		Registerer: reg,
	}

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := orm.OpenDB(mockDB, orm.DBWithMiddlewares(m.Build()), orm.DBWithPing(false))
	require.NoError(t, err)
	_, err = db.Register(&TestModel{})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .*").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Tom"))
	_, err = orm.NewSelector[TestModel](db).Get(context.Background())
	require.NoError(t, err)

	mock.ExpectExec("UPDATE .*").WillReturnError(errors.New("boom"))
	res := orm.NewUpdater[TestModel](db).Set(orm.Assign("Name", "Jerry")).Exec(context.Background())
	require.Error(t, res.Err())

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "scrudge_orm_query_duration_ms"))
	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	labels := map[string]bool{}
	for _, metric := range mfs[0].GetMetric() {
		var typ, status string
		for _, l := range metric.GetLabel() {
			switch l.GetName() {
			case "type":
				typ = l.GetValue()
			case "status":
				status = l.GetValue()
			}
		}
		labels[typ+"/"+status] = true
		assert.Equal(t, uint64(1), metric.GetSummary().GetSampleCount())
	}
	assert.Equal(t, map[string]bool{"SELECT/ok": true, "UPDATE/error": true}, labels)
}
