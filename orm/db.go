package orm

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roveil/scrudge-orm/orm/config"
	"github.com/roveil/scrudge-orm/orm/internal/pool"
	"github.com/roveil/scrudge-orm/orm/internal/valuer"
	"github.com/roveil/scrudge-orm/orm/internal/valuer/unsafe"
	"github.com/roveil/scrudge-orm/orm/model"
)

type DBOption func(*DB)

// DB 是 sql.DB 的装饰器
// 同时持有连接池，注册中心和中间件
type DB struct {
	core
	db   *sql.DB
	pool *pool.Pool

	poolSize       int
	acquireTimeout time.Duration
	ping           bool
}

// Open 创建一个 DB 实例。
// 默认情况下，该 DB 将使用 SQLite3 作为方言，如果驱动是 mysql 或者 pgx，会自动切换
func Open(driver string, dsn string, opts ...DBOption) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if d, ok := dialectOf(driver); ok {
		opts = append([]DBOption{DBWithDialect(d)}, opts...)
	}
	return OpenDB(db, opts...)
}

// OpenDB 可以利用 OpenDB 来传入一个 mock 的 DB
func OpenDB(db *sql.DB, opts ...DBOption) (*DB, error) {
	res := &DB{
		core: core{
			dialect:    SQLite3,
			r:          model.NewRegistry(),
			valCreator: valuer.NewReflectValue,
			logger:     slog.New(slog.DiscardHandler),
			retry:      retryPolicy{attempts: 1},
		},
		db:             db,
		poolSize:       10,
		acquireTimeout: 30 * time.Second,
		ping:           true,
	}
	for _, opt := range opts {
		opt(res)
	}
	poolOpts := []pool.Option{pool.WithTimeout(res.acquireTimeout), pool.WithLogger(res.logger)}
	if !res.ping {
		poolOpts = append(poolOpts, pool.WithCheck(nil))
	}
	res.pool = pool.New(db, res.poolSize, poolOpts...)
	return res, nil
}

// OpenConfig 使用配置文件里面的连接信息
// opts 在配置之后应用，可以覆盖配置
func OpenConfig(cfg *config.Config, opts ...DBOption) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := cfg.DataSourceName()
	if err != nil {
		return nil, err
	}
	base := []DBOption{
		DBWithPoolSize(cfg.PoolSize),
		DBWithAcquireTimeout(cfg.AcquireTimeout),
		DBWithPing(cfg.Ping),
		DBWithRetry(cfg.RetryAttempts, cfg.RetryBackoff),
		DBWithStatementCache(cfg.StatementCache),
	}
	return Open(cfg.Driver, dsn, append(base, opts...)...)
}

// MustOpen 创建一个 DB，如果失败则会 panic
func MustOpen(driver string, dsn string, opts ...DBOption) *DB {
	db, err := Open(driver, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

func DBWithDialect(d Dialect) DBOption {
	return func(db *DB) {
		db.dialect = d
	}
}

func DBWithRegistry(r model.Registry) DBOption {
	return func(db *DB) {
		db.r = r
	}
}

func DBUseReflectValuer() DBOption {
	return func(db *DB) {
		db.valCreator = valuer.NewReflectValue
	}
}

// DBWithUnsafeValuer 使用 unsafe 直接读写字段
func DBWithUnsafeValuer() DBOption {
	return func(db *DB) {
		db.valCreator = unsafe.NewUnsafeValue
	}
}

func DBWithMiddlewares(mdls ...Middleware) DBOption {
	return func(db *DB) {
		db.mdls = mdls
	}
}

func DBWithLogger(l *slog.Logger) DBOption {
	return func(db *DB) {
		db.logger = l
	}
}

// DBWithRetry 读语句遇到可以重试的错误，最多执行 attempts 次
// 第 n 次重试之前等待 n * backoff
func DBWithRetry(attempts int, backoff time.Duration) DBOption {
	return func(db *DB) {
		if attempts < 1 {
			attempts = 1
		}
		db.retry = retryPolicy{attempts: attempts, backoff: backoff}
	}
}

// DBWithStatementCache 每个 session 缓存 size 个预编译语句
func DBWithStatementCache(size int) DBOption {
	return func(db *DB) {
		db.stmtCache = size
	}
}

func DBWithPoolSize(size int) DBOption {
	return func(db *DB) {
		db.poolSize = size
	}
}

func DBWithAcquireTimeout(timeout time.Duration) DBOption {
	return func(db *DB) {
		db.acquireTimeout = timeout
	}
}

// DBWithPing 借出连接之前是否 ping
func DBWithPing(enabled bool) DBOption {
	return func(db *DB) {
		db.ping = enabled
	}
}

// Register 注册模型，必须在第一次执行查询之前完成
func (db *DB) Register(val any, opts ...model.Option) (*model.Model, error) {
	return db.r.Register(val, opts...)
}

// Relate 给已经注册的模型补充关联关系
func (db *DB) Relate(val any, defs ...model.RelationDef) error {
	return db.r.Relate(val, defs...)
}

func (db *DB) Registry() model.Registry {
	return db.r
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Acquire 从连接池里面借一个连接，用完之后一定要 Release 或者 Close
func (db *DB) Acquire(ctx context.Context) (*Session, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		id:   uuid.NewString(),
		db:   db,
		conn: conn,
	}
	if db.stmtCache > 0 {
		if err = sess.initStmtCache(db.stmtCache); err != nil {
			db.pool.Release(conn, false)
			return nil, err
		}
	}
	db.logger.Debug("orm: session acquired", slog.String("session", sess.id))
	return sess, nil
}

// Release 归还 session
// 如果还有没有结束的事务，会自动回滚，并且返回 ResourceLeakError
func (db *DB) Release(sess *Session) error {
	return sess.Close()
}

// Stats 连接池的使用情况
func (db *DB) Stats() pool.Stats {
	return db.pool.Stats()
}

func (db *DB) Close() error {
	return db.pool.Close()
}

// BeginTx 借一个连接开启事务，事务结束的时候连接自动归还
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	sess, err := db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := sess.Begin(ctx, opts)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	tx.ownsSession = true
	return tx, nil
}

func (db *DB) getCore() core {
	return db.core
}

func (db *DB) inTx() bool {
	return false
}

// withConn 每一条语句借一个新的连接
// 只读语句遇到可以重试的错误，会换一个连接重新执行
func (db *DB) withConn(ctx context.Context, readOnly bool, fn func(c *conn) error) error {
	attempts := 1
	if readOnly {
		attempts = db.retry.attempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			db.logger.Debug("orm: retry statement", slog.Int("attempt", i+1), slog.Any("error", err))
			if werr := sleep(ctx, db.retry.delay(i)); werr != nil {
				return err
			}
		}
		err = db.once(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

func (db *DB) once(ctx context.Context, fn func(c *conn) error) error {
	sess, err := db.Acquire(ctx)
	if err != nil {
		return err
	}
	err = sess.withConn(ctx, false, fn)
	if cerr := sess.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
