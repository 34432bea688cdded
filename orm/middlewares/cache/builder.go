package cache

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roveil/scrudge-orm/orm"
)

type MiddlewareBuilder struct {
	store  Store
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewBuilder(store Store) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		store:  store,
		ttl:    time.Minute,
		prefix: "orm",
		logger: slog.Default(),
	}
}

func (m *MiddlewareBuilder) TTL(ttl time.Duration) *MiddlewareBuilder {
	m.ttl = ttl
	return m
}

func (m *MiddlewareBuilder) Prefix(prefix string) *MiddlewareBuilder {
	m.prefix = prefix
	return m
}

func (m *MiddlewareBuilder) Logger(l *slog.Logger) *MiddlewareBuilder {
	m.logger = l
	return m
}

// Build 只缓存事务之外的 SELECT
// 缓存出问题的时候直接查数据库，不影响查询本身
func (m *MiddlewareBuilder) Build() orm.Middleware {
	return func(next orm.Handler) orm.Handler {
		return func(ctx context.Context, qc *orm.QueryContext) *orm.QueryResult {
			switch qc.Type {
			case "SELECT":
				if qc.InTx {
					return next(ctx, qc)
				}
				return m.read(ctx, qc, next)
			case "INSERT", "UPDATE", "DELETE", "RAW":
				res := next(ctx, qc)
				if res.Err == nil && !qc.ReadOnly {
					m.invalidate(ctx, qc.Tables)
				}
				return res
			}
			return next(ctx, qc)
		}
	}
}

func (m *MiddlewareBuilder) read(ctx context.Context, qc *orm.QueryContext, next orm.Handler) *orm.QueryResult {
	key, err := m.key(ctx, qc)
	if err != nil {
		m.logger.WarnContext(ctx, "orm: cache key", slog.Any("err", err))
		return next(ctx, qc)
	}
	data, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.WarnContext(ctx, "orm: cache get", slog.String("key", key), slog.Any("err", err))
	}
	if ok {
		rs, err := decode(data)
		if err == nil {
			return &orm.QueryResult{Result: rs}
		}
		m.logger.WarnContext(ctx, "orm: cache decode", slog.String("key", key), slog.Any("err", err))
	}

	res := next(ctx, qc)
	if res.Err != nil {
		return res
	}
	rs, ok := res.Result.(*orm.ResultSet)
	if !ok {
		return res
	}
	data, err = msgpack.Marshal(rs)
	if err == nil {
		err = m.store.Set(ctx, key, data, m.ttl)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "orm: cache set", slog.String("key", key), slog.Any("err", err))
	}
	return res
}

// allTables 不知道写了哪张表的时候递增这个版本号，所有的缓存一起失效
const allTables = "*"

// key 由 SQL，参数，全局版本号以及涉及的表的版本号组成
func (m *MiddlewareBuilder) key(ctx context.Context, qc *orm.QueryContext) (string, error) {
	d := xxhash.New()
	_, _ = d.WriteString(qc.Query.SQL)
	args, err := msgpack.Marshal(qc.Query.Args)
	if err != nil {
		return "", err
	}
	_, _ = d.Write(args)
	for _, t := range append([]string{allTables}, qc.Tables...) {
		v, err := m.store.Version(ctx, t)
		if err != nil {
			return "", err
		}
		_, _ = d.WriteString(t)
		_, _ = d.WriteString(strconv.FormatInt(v, 10))
	}
	return m.prefix + ":q:" + hex.EncodeToString(d.Sum(nil)), nil
}

func (m *MiddlewareBuilder) invalidate(ctx context.Context, tables []string) {
	if len(tables) == 0 {
		tables = []string{allTables}
	}
	for _, t := range tables {
		if err := m.store.Incr(ctx, t); err != nil {
			m.logger.WarnContext(ctx, "orm: cache invalidate", slog.String("table", t), slog.Any("err", err))
		}
	}
}

func decode(data []byte) (*orm.ResultSet, error) {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.ResetBytes(data)
	// 整数统一解码成 int64，和 driver 返回的保持一致
	dec.UseLooseInterfaceDecoding(true)
	var rs orm.ResultSet
	if err := dec.Decode(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}
