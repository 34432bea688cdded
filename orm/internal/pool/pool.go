// Package pool 在 database/sql 之上限制同时借出的连接数
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

// Check 借出之前检查连接是否可用
type Check func(ctx context.Context, conn *sql.Conn) error

// Ping 默认的检查方式
func Ping(ctx context.Context, conn *sql.Conn) error {
	return conn.PingContext(ctx)
}

type Option func(p *Pool)

// WithTimeout 等待空闲连接的最长时间，0 代表只受 ctx 控制
func WithTimeout(timeout time.Duration) Option {
	return func(p *Pool) {
		p.timeout = timeout
	}
}

// WithCheck nil 代表不检查
func WithCheck(check Check) Option {
	return func(p *Pool) {
		p.check = check
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// Pool 用信号量控制借出的连接数
// 借出的连接一定要 Release
type Pool struct {
	db      *sql.DB
	sem     *semaphore.Weighted
	size    int
	timeout time.Duration
	check   Check
	logger  *slog.Logger

	closed    atomic.Bool
	inUse     atomic.Int64
	discarded atomic.Int64
}

func New(db *sql.DB, size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		db:     db,
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		check:  Ping,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	// 空闲连接不超过 size
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	return p
}

// Acquire 阻塞直到有空闲的位置，或者超时
// 检查失败的连接会被丢弃，然后换一个新的
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if p.closed.Load() {
		return nil, errs.ErrPoolClosed
	}
	start := time.Now()
	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Debug("orm: acquire timeout", slog.Duration("waited", time.Since(start)))
		return nil, &errs.PoolTimeoutError{Waited: time.Since(start), Size: p.size}
	}

	var lastErr error
	// 每个位置最多换一次连接
	for i := 0; i <= p.size; i++ {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			lastErr = err
			break
		}
		if p.check == nil {
			p.inUse.Add(1)
			return conn, nil
		}
		if lastErr = p.check(ctx, conn); lastErr == nil {
			p.inUse.Add(1)
			return conn, nil
		}
		p.logger.Debug("orm: discard connection", slog.Any("error", lastErr))
		p.discard(conn)
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}
	p.sem.Release(1)
	return nil, errs.Classify(lastErr)
}

// Release 归还连接，discard 为 true 的时候直接关闭底层连接
// 例如语句被取消了，连接的状态不确定
func (p *Pool) Release(conn *sql.Conn, discard bool) {
	if discard {
		p.discard(conn)
	} else {
		_ = conn.Close()
	}
	p.inUse.Add(-1)
	p.sem.Release(1)
}

func (p *Pool) discard(conn *sql.Conn) {
	p.discarded.Add(1)
	// 返回 ErrBadConn，database/sql 就不会把它放回连接池
	_ = conn.Raw(func(any) error {
		return driver.ErrBadConn
	})
	_ = conn.Close()
}

type Stats struct {
	Size      int
	InUse     int
	Discarded int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.size,
		InUse:     int(p.inUse.Load()),
		Discarded: int(p.discarded.Load()),
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Close 之后不能再 Acquire，已经借出的连接仍然可以 Release
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}
