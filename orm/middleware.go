package orm

import (
	"context"

	"github.com/roveil/scrudge-orm/orm/model"
)

const (
	typeSelect = "SELECT"
	typeInsert = "INSERT"
	typeUpdate = "UPDATE"
	typeDelete = "DELETE"
	typeRaw    = "RAW"
)

// QueryContext 中间件的上下文
type QueryContext struct {
	// Type 声明查询类型。即 SELECT, UPDATE, DELETE, INSERT 和 RAW
	Type string

	// builder 使用的时候，大多数情况下你需要转换到具体的类型
	// 才能篡改查询
	Builder QueryBuilder
	// Query 进入中间件之前已经构造好了
	// 中间件可以替换它，例如在前面加上注释
	Query *Query
	// qc.Model.TableName 为了有的中间件在拦截时需要 Model 信息
	// 所以需要冗余一份在 middleware 的上下文中
	Model *model.Model
	// Tables 语句涉及到的所有表，JOIN 的时候不止一张
	// RAW 语句不知道操作的是哪张表，为空
	Tables []string
	// InTx 是否在事务里面执行
	InTx bool
	// ReadOnly 进入中间件之前根据原始的 SQL 判断，中间件改写 SQL 不影响它
	ReadOnly bool
}

type QueryResult struct {
	// Result 在不同的查询里面，类型是不同的
	// 查询的时候是 *ResultSet，解码在中间件之后进行
	// 其它情况下，它会是 sql.Result 类型
	Result any
	Err    error
}

type Middleware func(next Handler) Handler

type Handler func(ctx context.Context, qc *QueryContext) *QueryResult
