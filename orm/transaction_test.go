package orm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTx_CommitRollback(t *testing.T) {
	db, mock := mockDB(t)
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE .*").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, NewDeleter[TestModel](tx).Exec(ctx).Err())
	require.NoError(t, tx.Commit())

	// 结束之后所有的操作都会失败
	assert.Equal(t, &TransactionError{Op: "commit", State: "committed"}, tx.Commit())
	assert.Equal(t, &TransactionError{Op: "rollback", State: "committed"}, tx.Rollback())
	assert.Equal(t, &TransactionError{Op: "execute in", State: "committed"},
		NewDeleter[TestModel](tx).Exec(ctx).Err())
	_, err = tx.Begin(ctx)
	assert.Equal(t, &TransactionError{Op: "begin", State: "committed"}, err)
	assert.NoError(t, tx.RollbackIfNotCommit())

	mock.ExpectBegin()
	mock.ExpectRollback()
	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, tx.RollbackIfNotCommit())
	assert.Equal(t, &TransactionError{Op: "commit", State: "rolled_back"}, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestTx_Savepoint(t *testing.T) {
	db, mock := mockDB(t)
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT .*").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT .*").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("RELEASE SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	errBiz := errors.New("biz error")
	err = db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		err := tx.Transaction(ctx, func(ctx context.Context, sp *Tx) error {
			if res := NewInserter[TestModel](sp).Values(&TestModel{Id: 1, FirstName: "Tom"}).Exec(ctx); res.Err() != nil {
				return res.Err()
			}
			return errBiz
		})
		// 保存点回滚了，外层的事务还可以继续使用
		assert.Equal(t, errBiz, err)
		return tx.Transaction(ctx, func(ctx context.Context, sp *Tx) error {
			return NewInserter[TestModel](sp).Values(&TestModel{Id: 2, FirstName: "Jerry"}).Exec(ctx).Err()
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_SavepointState(t *testing.T) {
	db, mock := mockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	sp1, err := tx.Begin(ctx)
	require.NoError(t, err)

	// 保存点还没有结束的时候，不能在外层开启新的保存点，也不能提交
	_, err = tx.Begin(ctx)
	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "begin", txErr.Op)
	err = tx.Commit()
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "commit", txErr.Op)

	sp2, err := sp1.Begin(ctx)
	require.NoError(t, err)

	// 回滚最外层的事务，所有的保存点都作废
	require.NoError(t, tx.Rollback())
	assert.Equal(t, &TransactionError{Op: "commit", State: "rolled_back"}, sp1.Commit())
	assert.Equal(t, &TransactionError{Op: "rollback", State: "rolled_back"}, sp2.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_Leak(t *testing.T) {
	db, mock := mockDB(t)
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()
	sess, err := db.Acquire(ctx)
	require.NoError(t, err)
	_, err = sess.Begin(ctx, nil)
	require.NoError(t, err)

	// 同一个 session 只能有一个最外层的事务
	_, err = sess.Begin(ctx, nil)
	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))

	err = db.Release(sess)
	var leak *ResourceLeakError
	require.True(t, errors.As(err, &leak))
	assert.Equal(t, sess.ID(), leak.Session)
	assert.NoError(t, leak.Err)
	require.NoError(t, mock.ExpectationsWereMet())

	// 释放之后不能再使用
	_, err = sess.Begin(ctx, nil)
	assert.Equal(t, ErrSessionClosed, err)
	assert.Equal(t, ErrSessionClosed, NewDeleter[TestModel](sess).Exec(ctx).Err())
	assert.NoError(t, sess.Close())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestDB_TransactionPanic(t *testing.T) {
	db, mock := mockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.PanicsWithValue(t, "boom", func() {
		_ = db.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
			panic("boom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestSession_Transaction(t *testing.T) {
	db, mock := mockDB(t)
	_, err := db.Register(&TestModel{})
	require.NoError(t, err)
	ctx := context.Background()

	sess, err := db.Acquire(ctx)
	require.NoError(t, err)
	defer func() {
		_ = sess.Close()
	}()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE .*").WillReturnError(errors.New("CHECK constraint failed: age"))
	mock.ExpectRollback()
	err = sess.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		return NewUpdater[TestModel](tx).Set(Assign("Age", 1)).Exec(ctx).Err()
	})
	assert.True(t, IsKind(err, KindCheck))

	// 事务结束之后 session 还可以继续使用
	mock.ExpectQuery("SELECT .*").WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "age"}).AddRow(int64(1), "Tom", int64(1)))
	res, err := NewSelector[TestModel](sess).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tom", res.FirstName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_CancelTaints(t *testing.T) {
	db := flakyDB(t, &atomic.Int32{})
	ctx := context.Background()

	sess, err := db.Acquire(ctx)
	require.NoError(t, err)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = NewUpdater[TestModel](sess).Set(Assign("Age", 20)).Exec(cctx).Err()
	assert.ErrorIs(t, err, context.Canceled)

	// 取消之后连接状态不确定，归还的时候丢弃
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, db.Stats().Discarded)
	assert.Equal(t, 0, db.Stats().InUse)

	res, err := NewSelector[TestModel](db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int8(18), res.Age)
}

func TestTx_CancelStatement(t *testing.T) {
	db := flakyDB(t, &atomic.Int32{})
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = NewUpdater[TestModel](tx).Set(Assign("Age", 20)).Exec(cctx).Err()
	assert.ErrorIs(t, err, context.Canceled)

	// 被取消的只是这一条语句，事务还可以继续使用
	require.NoError(t, NewUpdater[TestModel](tx).Set(Assign("Age", 21)).Exec(ctx).Err())
	require.NoError(t, tx.Commit())

	res, err := NewSelector[TestModel](db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int8(21), res.Age)
	assert.Equal(t, 0, db.Stats().Discarded)
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestTx_CommitFailed(t *testing.T) {
	db, mock := mockDB(t)
	ctx := context.Background()
	errCommit := errors.New("could not serialize access")

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errCommit)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	// driver 返回的错误原样返回，事务已经结束
	assert.Equal(t, errCommit, tx.Commit())
	assert.Equal(t, &TransactionError{Op: "rollback", State: "rolled_back"}, tx.Rollback())
	assert.Equal(t, &TransactionError{Op: "commit", State: "rolled_back"}, tx.Commit())
	assert.NoError(t, tx.RollbackIfNotCommit())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
}
