package orm

import (
	"log/slog"
	"time"

	"github.com/roveil/scrudge-orm/orm/internal/valuer"
	"github.com/roveil/scrudge-orm/orm/model"
)

type core struct {
	dialect    Dialect
	r          model.Registry // 存储数据库表和 struct 映射关系的实例
	valCreator valuer.Creator // 与DB交互映射的实现
	mdls       []Middleware
	logger     *slog.Logger

	retry     retryPolicy
	stmtCache int
}

// retryPolicy 只有读语句和还没有提交的事务才会重试
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// delay 第 n 次重试之前等待的时间，线性增长
func (p retryPolicy) delay(n int) time.Duration {
	return p.backoff * time.Duration(n)
}

// model 第一次构造语句的时候封存注册中心
func (c core) model(val any) (*model.Model, error) {
	if !c.r.Sealed() {
		if err := c.r.Seal(); err != nil {
			return nil, err
		}
	}
	return c.r.Get(val)
}

// chain 按照注册的顺序包装 handler，第一个中间件在最外层
func (c core) chain(handler Handler) Handler {
	for j := len(c.mdls) - 1; j >= 0; j-- {
		handler = c.mdls[j](handler)
	}
	return handler
}
