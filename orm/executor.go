package orm

import (
	"context"
	"database/sql"
	"strings"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

// ResultSet 原始的结果集，列名加上 driver 返回的值
// 中间件可以缓存它，解码在中间件之后进行
type ResultSet struct {
	Columns []string `msgpack:"columns"`
	Rows    [][]any  `msgpack:"rows"`
}

// Execute 执行一条语句，并且读完全部的结果
func Execute(ctx context.Context, scope Scope, q QueryBuilder) (*ResultSet, error) {
	return query(ctx, scope, &QueryContext{
		Type:    typeRaw,
		Builder: q,
	})
}

// Exec 执行不返回结果集的语句
func Exec(ctx context.Context, scope Scope, q QueryBuilder) Result {
	return exec(ctx, scope, &QueryContext{
		Type:    typeRaw,
		Builder: q,
	})
}

// ExecuteMany 预编译一次，按照顺序使用每一组参数执行
// 返回影响的总行数，遇到错误立刻停止
func ExecuteMany(ctx context.Context, scope Scope, q QueryBuilder, argSets [][]any) (int64, error) {
	res := executeMany(ctx, scope, &QueryContext{
		Type:    typeRaw,
		Builder: q,
	}, argSets)
	if res.err != nil {
		return 0, res.err
	}
	return res.RowsAffected()
}

// query 构造语句，经过中间件之后执行
func query(ctx context.Context, scope Scope, qc *QueryContext) (*ResultSet, error) {
	c := scope.getCore()
	if err := prepare(scope, qc); err != nil {
		return nil, err
	}
	var root Handler = func(ctx context.Context, qc *QueryContext) *QueryResult {
		var rs *ResultSet
		err := scope.withConn(ctx, readOnly(qc), func(c *conn) error {
			rows, err := c.query(ctx, qc.Query.SQL, qc.Query.Args...)
			if err != nil {
				return err
			}
			rs, err = drain(rows)
			return err
		})
		if err != nil {
			return &QueryResult{Err: err}
		}
		return &QueryResult{Result: rs}
	}
	res := c.chain(root)(ctx, qc)
	if res.Err != nil {
		return nil, res.Err
	}
	rs, _ := res.Result.(*ResultSet)
	if rs == nil {
		rs = &ResultSet{}
	}
	return rs, nil
}

func exec(ctx context.Context, scope Scope, qc *QueryContext) Result {
	c := scope.getCore()
	if err := prepare(scope, qc); err != nil {
		return Result{err: err}
	}
	var root Handler = func(ctx context.Context, qc *QueryContext) *QueryResult {
		var res sql.Result
		err := scope.withConn(ctx, false, func(c *conn) error {
			var err error
			res, err = c.exec(ctx, qc.Query.SQL, qc.Query.Args...)
			return err
		})
		return &QueryResult{Result: res, Err: err}
	}
	return toResult(c.chain(root)(ctx, qc))
}

func executeMany(ctx context.Context, scope Scope, qc *QueryContext, argSets [][]any) Result {
	c := scope.getCore()
	if err := prepare(scope, qc); err != nil {
		return Result{err: err}
	}
	var root Handler = func(ctx context.Context, qc *QueryContext) *QueryResult {
		var total int64
		err := scope.withConn(ctx, false, func(c *conn) error {
			stmt, release, err := c.prepare(ctx, qc.Query.SQL)
			if err != nil {
				return err
			}
			defer release()
			for _, args := range argSets {
				res, err := stmt.ExecContext(ctx, args...)
				if err != nil {
					return errs.Classify(err)
				}
				if n, err := res.RowsAffected(); err == nil {
					total += n
				}
			}
			return nil
		})
		return &QueryResult{Result: staticResult{affected: total}, Err: err}
	}
	return toResult(c.chain(root)(ctx, qc))
}

// prepare 在进入中间件之前构造好语句
func prepare(scope Scope, qc *QueryContext) error {
	q, err := qc.Builder.Build()
	if err != nil {
		return err
	}
	qc.Query = q
	qc.InTx = scope.inTx()
	qc.ReadOnly = qc.Type == typeSelect || (qc.Type == typeRaw && isSelect(q.SQL))
	// RAW 的模型只用来解码，和语句操作的表没有关系
	if qc.Model != nil && len(qc.Tables) == 0 && qc.Type != typeRaw {
		qc.Tables = []string{qc.Model.TableName}
	}
	return nil
}

func toResult(res *QueryResult) Result {
	r := Result{err: res.Err}
	if sr, ok := res.Result.(sql.Result); ok && sr != nil {
		r.res = sr
	}
	return r
}

// readOnly 只有读语句才会在失败之后重试
func readOnly(qc *QueryContext) bool {
	return qc.ReadOnly
}

// isSelect 跳过开头的注释之后是不是 SELECT 或者 WITH
func isSelect(query string) bool {
	s := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return false
			}
			s = strings.TrimSpace(s[end+2:])
		case strings.HasPrefix(s, "--"):
			end := strings.IndexByte(s, '\n')
			if end < 0 {
				return false
			}
			s = strings.TrimSpace(s[end+1:])
		default:
			return hasPrefixFold(s, "SELECT") || hasPrefixFold(s, "WITH")
		}
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// drain 读完全部的行之后关闭
// Scan 到 *any 的时候 []byte 会被复制，可以放心保存
func drain(rows *sql.Rows) (rs *ResultSet, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = errs.Classify(cerr)
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.Classify(err)
	}
	rs = &ResultSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, errs.Classify(err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err = rows.Err(); err != nil {
		return nil, errs.Classify(err)
	}
	return rs, nil
}
