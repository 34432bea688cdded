package querylog

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/roveil/scrudge-orm/orm"
)

const ormPackage = "github.com/roveil/scrudge-orm/orm"

type MiddlewareBuilder struct {
	logFunc func(query string, args []any)
	logger  *slog.Logger
	tag     bool
}

// NewBuilder 默认使用 slog.Default 输出
func NewBuilder() *MiddlewareBuilder {
	return &MiddlewareBuilder{}
}

// LogFunc 设置之后不再使用 slog
func (m *MiddlewareBuilder) LogFunc(fn func(query string, args []any)) *MiddlewareBuilder {
	m.logFunc = fn
	return m
}

func (m *MiddlewareBuilder) Logger(l *slog.Logger) *MiddlewareBuilder {
	m.logger = l
	return m
}

// Tag 在语句前面加上调用者的注释，例如 /* main.listUsers:main.go:42 */
// 在数据库的慢查询日志里面可以直接找到代码的位置
func (m *MiddlewareBuilder) Tag(enabled bool) *MiddlewareBuilder {
	m.tag = enabled
	return m
}

func (m MiddlewareBuilder) Build() orm.Middleware {
	logger := m.logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next orm.Handler) orm.Handler {
		return func(ctx context.Context, qc *orm.QueryContext) *orm.QueryResult {
			q := qc.Query
			if m.tag {
				if tag := caller(); tag != "" {
					q = &orm.Query{SQL: "/* " + tag + " */ " + q.SQL, Args: q.Args}
					qc.Query = q
				}
			}
			if m.logFunc != nil {
				m.logFunc(q.SQL, q.Args)
				return next(ctx, qc)
			}
			start := time.Now()
			res := next(ctx, qc)
			attrs := []slog.Attr{
				slog.String("type", qc.Type),
				slog.String("sql", q.SQL),
				slog.Any("args", q.Args),
				slog.Duration("elapsed", time.Since(start)),
				slog.Bool("in_tx", qc.InTx),
			}
			if res.Err != nil {
				logger.LogAttrs(ctx, slog.LevelWarn, "orm: query failed", append(attrs, slog.Any("error", res.Err))...)
				return res
			}
			logger.LogAttrs(ctx, slog.LevelDebug, "orm: query", attrs...)
			return res
		}
	}
}

// caller 第一个不在 orm 包里面的调用者
// 测试文件例外，方便在测试里面验证
func caller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		inORM := strings.HasPrefix(frame.Function, ormPackage+".") || strings.HasPrefix(frame.Function, ormPackage+"/")
		if frame.Function != "" && (!inORM || strings.HasSuffix(frame.File, "_test.go")) {
			fn := frame.Function
			if idx := strings.LastIndexByte(fn, '/'); idx >= 0 {
				fn = fn[idx+1:]
			}
			return fn + ":" + filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
		}
		if !more {
			return ""
		}
	}
}
