package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roveil/scrudge-orm/orm"
)

type TestModel struct {
	Id   int64
	Name string
}

func TestMiddlewareBuilder_Build(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := MiddlewareBuilder{Tracer: tp.Tracer(instrumentationName)}

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := orm.OpenDB(mockDB, orm.DBWithMiddlewares(m.Build()), orm.DBWithPing(false))
	require.NoError(t, err)
	_, err = db.Register(&TestModel{})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .*").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Tom"))
	_, err = orm.NewSelector[TestModel](db).Where(orm.C("Id").EQ(1)).Get(context.Background())
	require.NoError(t, err)

	mock.ExpectExec("DELETE .*").WillReturnError(errors.New("boom"))
	res := orm.NewDeleter[TestModel](db).Exec(context.Background())
	require.Error(t, res.Err())

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "SELECT-test_model", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("db.statement", "SELECT * FROM `test_model` WHERE `id` = ?;"))
	assert.Contains(t, spans[0].Attributes(), attribute.Bool("db.in_tx", false))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "DELETE-test_model", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
