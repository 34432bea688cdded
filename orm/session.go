package orm

import (
	"context"
	"database/sql"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

var (
	_ Scope = &DB{}
	_ Scope = &Session{}
	_ Scope = &Tx{}
)

// Scope 代表一个抽象的概念，即可以执行语句的地方
// *DB 每条语句借一个连接，*Session 固定一个连接，*Tx 在事务里面执行
type Scope interface {
	getCore() core
	inTx() bool
	withConn(ctx context.Context, readOnly bool, fn func(c *conn) error) error
}

// querier *sql.Conn 和 *sql.Tx 共同的方法
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// conn 一次执行使用的连接
// stmts 只在事务外面使用
type conn struct {
	q     querier
	stmts *lru.Cache
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.stmts != nil {
		stmt, err := c.cachedStmt(ctx, query)
		if err != nil {
			return nil, err
		}
		rows, err := stmt.QueryContext(ctx, args...)
		return rows, errs.Classify(err)
	}
	rows, err := c.q.QueryContext(ctx, query, args...)
	return rows, errs.Classify(err)
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.stmts != nil {
		stmt, err := c.cachedStmt(ctx, query)
		if err != nil {
			return nil, err
		}
		res, err := stmt.ExecContext(ctx, args...)
		return res, errs.Classify(err)
	}
	res, err := c.q.ExecContext(ctx, query, args...)
	return res, errs.Classify(err)
}

// prepare 返回的 release 用完之后必须调用
// 缓存里面的语句由缓存负责关闭
func (c *conn) prepare(ctx context.Context, query string) (*sql.Stmt, func(), error) {
	if c.stmts != nil {
		stmt, err := c.cachedStmt(ctx, query)
		return stmt, func() {}, err
	}
	stmt, err := c.q.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, errs.Classify(err)
	}
	return stmt, func() { _ = stmt.Close() }, nil
}

func (c *conn) cachedStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if val, ok := c.stmts.Get(query); ok {
		return val.(*sql.Stmt), nil
	}
	stmt, err := c.q.PrepareContext(ctx, query)
	if err != nil {
		return nil, errs.Classify(err)
	}
	c.stmts.Add(query, stmt)
	return stmt, nil
}

// Session 从连接池借出来的一个连接，加上事务状态
// 只能在一个 goroutine 里面使用
type Session struct {
	id    string
	db    *DB
	conn  *sql.Conn
	stmts *lru.Cache
	// tx 最外层的事务
	tx *Tx
	// tainted 连接状态不确定，归还的时候直接丢弃
	tainted bool
	closed  bool
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) initStmtCache(size int) error {
	cache, err := lru.NewWithEvict(size, func(key interface{}, value interface{}) {
		_ = value.(*sql.Stmt).Close()
	})
	if err != nil {
		return err
	}
	s.stmts = cache
	return nil
}

func (s *Session) getCore() core {
	return s.db.core
}

func (s *Session) inTx() bool {
	return s.tx != nil
}

// withConn 有事务的时候，语句在事务里面执行
func (s *Session) withConn(ctx context.Context, readOnly bool, fn func(c *conn) error) error {
	if s.closed {
		return errs.ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx.withConn(ctx, readOnly, fn)
	}
	err := fn(&conn{q: s.conn, stmts: s.stmts})
	s.taint(ctx, err)
	return err
}

// taint 语句被取消，或者连接出了问题，这个连接就不能再给别人用了
func (s *Session) taint(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if ctx.Err() != nil || errs.IsKind(err, errs.KindTransient) {
		s.tainted = true
	}
}

// Begin 开启事务，嵌套的事务要使用 Tx.Begin
// 事务使用不会被取消的 context，取消语句不会导致事务被回滚
func (s *Session) Begin(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	if s.closed {
		return nil, errs.ErrSessionClosed
	}
	if s.tx != nil {
		return nil, &errs.TransactionError{Op: "begin", State: txOpen.String(),
			Reason: "session already has an open transaction, use Tx.Begin for a savepoint"}
	}
	tx, err := s.conn.BeginTx(context.WithoutCancel(ctx), opts)
	if err != nil {
		err = errs.Classify(err)
		s.taint(ctx, err)
		return nil, err
	}
	t := &Tx{sess: s, tx: tx, seq: new(int)}
	s.tx = t
	s.db.logger.Debug("orm: begin transaction", slog.String("session", s.id))
	return t, nil
}

// Transaction fn 返回 error 或者 panic 的时候回滚，否则提交
func (s *Session) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	_, err := runTx(ctx, s, fn)
	return err
}

// Close 归还连接
// 还有没有结束的事务的时候，自动回滚并且返回 ResourceLeakError
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var leak error
	if s.tx != nil {
		rbErr := s.tx.abort()
		if rbErr != nil {
			s.tainted = true
		}
		leak = &errs.ResourceLeakError{Session: s.id, Err: rbErr}
		s.db.logger.Warn("orm: session released with an open transaction", slog.String("session", s.id))
	}
	s.closed = true
	if s.stmts != nil {
		// 淘汰的时候会关闭语句
		s.stmts.Purge()
	}
	s.db.pool.Release(s.conn, s.tainted)
	s.db.logger.Debug("orm: session released", slog.String("session", s.id), slog.Bool("discarded", s.tainted))
	return leak
}
