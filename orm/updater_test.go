package orm

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

func TestUpdater_Build(t *testing.T) {
	db, _ := mockDB(t)
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)

	testCases := []struct {
		name      string
		u         QueryBuilder
		wantQuery *Query
		wantErr   error
	}{
		{
			name:    "no columns",
			u:       NewUpdater[TestModel](db),
			wantErr: errs.ErrNoUpdatedColumns,
		},
		{
			name: "assign",
			u:    NewUpdater[TestModel](db).Set(Assign("FirstName", "Tom"), Assign("Age", 18)),
			wantQuery: &Query{
				SQL:  "UPDATE `test_model` SET `first_name`=?,`age`=?;",
				Args: []any{"Tom", int64(18)},
			},
		},
		{
			name: "column from value",
			u: NewUpdater[TestModel](db).Update(&TestModel{FirstName: "Tom", Age: 18}).
				Set(C("FirstName"), C("LastName")).Where(C("Id").EQ(1)),
			wantQuery: &Query{
				SQL:  "UPDATE `test_model` SET `first_name`=?,`last_name`=? WHERE `id` = ?;",
				Args: []any{"Tom", nil, int64(1)},
			},
		},
		{
			name:    "column without value",
			u:       NewUpdater[TestModel](db).Set(C("FirstName")),
			wantErr: errs.NewErrQueryBuild(nil, "使用 C(%q) 赋值需要先调用 Update", "FirstName"),
		},
		{
			name: "increment",
			u:    NewUpdater[TestModel](db).Set(Inc("Age", 1), Dec("Id", 2)),
			wantQuery: &Query{
				SQL:  "UPDATE `test_model` SET `age`=`age`+?,`id`=`id`-?;",
				Args: []any{1, 2},
			},
		},
		{
			name: "greatest",
			u:    NewUpdater[TestModel](db).Set(Greatest("Age", 30)).Where(C("Id").EQ(1)),
			wantQuery: &Query{
				SQL:  "UPDATE `test_model` SET `age`=MAX(`age`,?) WHERE `id` = ?;",
				Args: []any{int64(30), int64(1)},
			},
		},
		{
			name:    "not nullable",
			u:       NewUpdater[TestModel](db).Set(Assign("FirstName", nil)),
			wantErr: errs.NewErrQueryBuild(errs.ErrNotNullable, "非法的参数 %s", "FirstName"),
		},
		{
			name:    "unknown field",
			u:       NewUpdater[TestModel](db).Set(Assign("Invalid", 1)),
			wantErr: errs.NewErrUnknownField("Invalid"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := tc.u.Build()
			assert.Equal(t, tc.wantErr, err)
			if err != nil {
				return
			}
			assert.Equal(t, tc.wantQuery, q)
		})
	}
}

func TestUpdater_Exec(t *testing.T) {
	db, mock := mockDB(t, DBWithDialect(Postgres))
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE "test_model" SET "age"=GREATEST\("age",\$1\) WHERE "id" = \$2;`).
		WithArgs(int64(30), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	res := NewUpdater[TestModel](db).Set(Greatest("Age", 30)).Where(C("Id").EQ(1)).Exec(context.Background())
	require.NoError(t, res.Err())
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
