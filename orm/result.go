package orm

import "database/sql"

var _ sql.Result = Result{}

type Result struct {
	err error
	res sql.Result
}

// LastInsertId 重新 database sql 的 Result 方法 做一层拦截
func (r Result) LastInsertId() (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.res == nil {
		return 0, nil
	}
	return r.res.LastInsertId()
}

func (r Result) RowsAffected() (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.res == nil {
		return 0, nil
	}
	return r.res.RowsAffected()
}

func (r Result) Err() error {
	return r.err
}

// staticResult 没有 sql.Result 的时候使用
// 例如 RETURNING 或者批量执行
type staticResult struct {
	lastID   int64
	affected int64
}

func (s staticResult) LastInsertId() (int64, error) {
	return s.lastID, nil
}

func (s staticResult) RowsAffected() (int64, error) {
	return s.affected, nil
}
