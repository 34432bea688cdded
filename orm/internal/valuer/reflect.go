package valuer

import (
	"reflect"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

// reflectValue 基于反射的 Value
type reflectValue struct {
	val  reflect.Value
	meta *model.Model
}

var _ Creator = NewReflectValue

// NewReflectValue 返回一个封装好的，基于反射实现的 Value
// 输入 val 必须是一个指向结构体实例的指针，而不能是任何其它类型
func NewReflectValue(val any, meta *model.Model) Value {
	return reflectValue{
		val:  reflect.ValueOf(val).Elem(),
		meta: meta,
	}
}

func (r reflectValue) Field(name string) (any, error) {
	fd, ok := r.meta.FieldMap[name]
	if !ok {
		return nil, errs.NewErrUnknownField(name)
	}
	return r.val.Field(fd.Index).Interface(), nil
}

func (r reflectValue) SetField(name string, v any) error {
	fd, ok := r.meta.FieldMap[name]
	if !ok {
		return errs.NewErrUnknownField(name)
	}
	val, err := Convert(fd, v)
	if err != nil {
		return err
	}
	r.val.Field(fd.Index).Set(val)
	return nil
}

// SetColumns 将数据库中的数据设置到对应的 struct 上
func (r reflectValue) SetColumns(cols []string, vals []any) (map[string]any, error) {
	return Decode(r.meta, cols, vals, func(fd *model.Field, val reflect.Value) {
		// 通过下标找到接收数据 Struct 中的对应字段
		r.val.Field(fd.Index).Set(val)
	})
}
