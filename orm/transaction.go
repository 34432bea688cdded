package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

type txState uint8

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txOpen:
		return "open"
	case txCommitted:
		return "committed"
	}
	return "rolled_back"
}

// Tx 绑定在一个 Session 上
// 嵌套的事务使用保存点实现，parent 为 nil 的是最外层的事务
type Tx struct {
	sess *Session
	tx   *sql.Tx

	parent *Tx
	// child 还没有结束的保存点，同一时间最多一个
	child *Tx
	// name 保存点的名字
	name string
	// seq 同一个事务里面保存点的计数器
	seq   *int
	state txState

	// ownsSession DB.BeginTx 创建的事务，结束的时候归还连接
	ownsSession bool
}

func (t *Tx) getCore() core {
	return t.sess.db.core
}

func (t *Tx) inTx() bool {
	return true
}

// withConn 语句被取消的时候事务仍然是打开的，由调用者决定回滚还是重试
func (t *Tx) withConn(ctx context.Context, readOnly bool, fn func(c *conn) error) error {
	if t.state != txOpen {
		return &errs.TransactionError{Op: "execute in", State: t.state.String()}
	}
	return fn(&conn{q: t.tx})
}

// Begin 创建一个保存点
func (t *Tx) Begin(ctx context.Context) (*Tx, error) {
	if t.state != txOpen {
		return nil, &errs.TransactionError{Op: "begin", State: t.state.String()}
	}
	if t.child != nil {
		return nil, &errs.TransactionError{Op: "begin", State: t.state.String(),
			Reason: fmt.Sprintf("savepoint %s is still open, begin on it instead", t.child.name)}
	}
	*t.seq++
	name := fmt.Sprintf("sp_%d", *t.seq)
	if _, err := t.tx.ExecContext(context.WithoutCancel(ctx), "SAVEPOINT "+name); err != nil {
		return nil, errs.Classify(err)
	}
	child := &Tx{
		sess:   t.sess,
		tx:     t.tx,
		parent: t,
		name:   name,
		seq:    t.seq,
	}
	t.child = child
	return child, nil
}

// Commit 保存点上是 RELEASE SAVEPOINT，只有最外层的提交才会真正写入
// 最外层提交失败之后，事务的状态是 rolled_back，错误原样返回
func (t *Tx) Commit() error {
	if t.state != txOpen {
		return &errs.TransactionError{Op: "commit", State: t.state.String()}
	}
	if t.child != nil {
		return &errs.TransactionError{Op: "commit", State: t.state.String(),
			Reason: fmt.Sprintf("savepoint %s is still open", t.child.name)}
	}
	if t.parent != nil {
		_, err := t.tx.ExecContext(context.Background(), "RELEASE SAVEPOINT "+t.name)
		t.parent.child = nil
		if err != nil {
			t.state = txRolledBack
			return errs.Classify(err)
		}
		t.state = txCommitted
		return nil
	}
	err := t.tx.Commit()
	if err != nil {
		t.finish(txRolledBack)
		return err
	}
	t.finish(txCommitted)
	return nil
}

// Rollback 回滚的时候，所有没有结束的保存点也一起作废
func (t *Tx) Rollback() error {
	if t.state != txOpen {
		return &errs.TransactionError{Op: "rollback", State: t.state.String()}
	}
	for c := t.child; c != nil; c = c.child {
		c.state = txRolledBack
	}
	t.child = nil
	if t.parent != nil {
		_, err := t.tx.ExecContext(context.Background(), "ROLLBACK TO SAVEPOINT "+t.name)
		t.parent.child = nil
		t.state = txRolledBack
		return errs.Classify(err)
	}
	err := t.tx.Rollback()
	t.finish(txRolledBack)
	return err
}

// RollbackIfNotCommit 配合 defer 使用
func (t *Tx) RollbackIfNotCommit() error {
	if t.state != txOpen {
		return nil
	}
	err := t.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Transaction 在保存点里面执行 fn
func (t *Tx) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	sp, err := t.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sp.Rollback()
			panic(r)
		}
	}()
	if err = fn(ctx, sp); err != nil {
		if sp.state == txOpen {
			_ = sp.Rollback()
		}
		return err
	}
	if sp.state != txOpen {
		return nil
	}
	return sp.Commit()
}

// abort 回滚最外层的事务
func (t *Tx) abort() error {
	root := t
	for root.parent != nil {
		root = root.parent
	}
	if root.state != txOpen {
		return nil
	}
	return root.Rollback()
}

func (t *Tx) finish(state txState) {
	t.state = state
	t.sess.tx = nil
	t.sess.db.logger.Debug("orm: transaction finished",
		slog.String("session", t.sess.id), slog.String("state", state.String()))
	if t.ownsSession {
		_ = t.sess.Close()
	}
}

// Transaction 在一个新的连接上执行事务
// 可以重试的错误会换一个连接重新执行整个 fn，因为什么都还没有提交
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	var err error
	for i := 0; i < db.retry.attempts; i++ {
		if i > 0 {
			db.logger.Debug("orm: retry transaction", slog.Int("attempt", i+1), slog.Any("error", err))
			if werr := sleep(ctx, db.retry.delay(i)); werr != nil {
				return err
			}
		}
		var retry bool
		retry, err = db.transactionOnce(ctx, fn)
		if err == nil || !retry {
			return err
		}
	}
	return err
}

func (db *DB) transactionOnce(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (bool, error) {
	sess, err := db.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = sess.Close()
	}()
	return runTx(ctx, sess, fn)
}

// runTx 第一个返回值表示整个事务是否可以重试
// 提交失败的时候不重试
func runTx(ctx context.Context, s *Session, fn func(ctx context.Context, tx *Tx) error) (bool, error) {
	tx, err := s.Begin(ctx, nil)
	if err != nil {
		return IsRetryable(err), err
	}
	defer func() {
		if r := recover(); r != nil {
			if tx.state == txOpen {
				_ = tx.Rollback()
			}
			panic(r)
		}
	}()
	if err = fn(ctx, tx); err != nil {
		if tx.state == txOpen {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.db.logger.Warn("orm: rollback failed", slog.String("session", s.id), slog.Any("error", rbErr))
				s.tainted = true
			}
		}
		return IsRetryable(err), err
	}
	if tx.state != txOpen {
		return false, nil
	}
	return false, tx.Commit()
}
