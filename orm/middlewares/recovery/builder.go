package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roveil/scrudge-orm/orm"
)

// ErrPanic 后面的 middleware 或者 driver panic 了
var ErrPanic = errors.New("orm: query panicked")

type MiddlewareBuilder struct {
	// LogFunc 为空的时候使用 slog.Default
	LogFunc func(ctx context.Context, qc *orm.QueryContext, err any)
}

func (m MiddlewareBuilder) Build() orm.Middleware {
	logFunc := m.LogFunc
	if logFunc == nil {
		logFunc = func(ctx context.Context, qc *orm.QueryContext, err any) {
			slog.Default().ErrorContext(ctx, "orm: panic recovered",
				slog.String("type", qc.Type), slog.Any("panic", err))
		}
	}
	return func(next orm.Handler) orm.Handler {
		return func(ctx context.Context, qc *orm.QueryContext) (res *orm.QueryResult) {
			defer func() {
				if r := recover(); r != nil {
					// 万一 LogFunc 也 panic，那也无能为力了
					logFunc(ctx, qc, r)
					res = &orm.QueryResult{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
				}
			}()
			return next(ctx, qc)
		}
	}
}
